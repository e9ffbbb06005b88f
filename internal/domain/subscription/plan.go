package subscription

import (
	"strings"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// BillingPeriod is the cadence of a plan price
type BillingPeriod string

const (
	BillingPeriodMonthly BillingPeriod = "monthly"
	BillingPeriodAnnual  BillingPeriod = "annual"
)

// IsValid returns true if the billing period is known
func (p BillingPeriod) IsValid() bool {
	return p == BillingPeriodMonthly || p == BillingPeriodAnnual
}

// Months returns the period length in months
func (p BillingPeriod) Months() int {
	if p == BillingPeriodAnnual {
		return 12
	}
	return 1
}

// Plan is a sellable bundle of feature entitlements
type Plan struct {
	shared.BaseEntity
	Name        string
	Slug        string
	Description string
	Active      bool
}

// NewPlan creates a plan with validation
func NewPlan(name, slug string) (*Plan, error) {
	name = strings.TrimSpace(name)
	slug = strings.TrimSpace(strings.ToLower(slug))
	if name == "" {
		return nil, shared.NewDomainError("INVALID_PLAN_NAME", "Plan name cannot be empty")
	}
	if slug == "" {
		return nil, shared.NewDomainError("INVALID_PLAN_SLUG", "Plan slug cannot be empty")
	}
	return &Plan{
		BaseEntity: shared.NewBaseEntity(),
		Name:       name,
		Slug:       slug,
		Active:     true,
	}, nil
}

// Deactivate hides the plan from new subscriptions; existing ones keep it
func (p *Plan) Deactivate() {
	p.Active = false
}

// PlanFeature binds a feature value to a plan (e.g. max_users = 50)
type PlanFeature struct {
	shared.BaseEntity
	PlanID    uuid.UUID
	FeatureID uuid.UUID
	Value     string
}

// NewPlanFeature creates a plan feature binding
func NewPlanFeature(planID, featureID uuid.UUID, value string) (*PlanFeature, error) {
	if planID == uuid.Nil || featureID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_PLAN_FEATURE", "Plan and feature IDs are required")
	}
	return &PlanFeature{
		BaseEntity: shared.NewBaseEntity(),
		PlanID:     planID,
		FeatureID:  featureID,
		Value:      value,
	}, nil
}

// PlanPrice is one purchasable price point of a plan. The flat Amount is the
// recurring base fee; metered features are priced by their tier schedules
// attached to this price.
type PlanPrice struct {
	shared.BaseEntity
	PlanID   uuid.UUID
	Period   BillingPeriod
	Amount   decimal.Decimal
	Currency string
	Active   bool
}

// NewPlanPrice creates a price point with validation
func NewPlanPrice(planID uuid.UUID, period BillingPeriod, amount decimal.Decimal, currency string) (*PlanPrice, error) {
	if planID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_PLAN", "Plan ID cannot be empty")
	}
	if !period.IsValid() {
		return nil, shared.NewDomainError("INVALID_BILLING_PERIOD", "Unknown billing period")
	}
	if amount.IsNegative() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Plan price cannot be negative")
	}
	if len(currency) != 3 {
		return nil, shared.NewDomainError("INVALID_CURRENCY", "Currency must be a 3-letter code")
	}
	return &PlanPrice{
		BaseEntity: shared.NewBaseEntity(),
		PlanID:     planID,
		Period:     period,
		Amount:     amount.Round(2),
		Currency:   currency,
		Active:     true,
	}, nil
}
