package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// TenantStatus represents the lifecycle status of a tenant
type TenantStatus string

const (
	TenantStatusPendingSetup TenantStatus = "pending_setup"
	TenantStatusActive       TenantStatus = "active"
	TenantStatusTrial        TenantStatus = "trial"
	TenantStatusSuspended    TenantStatus = "suspended"
	TenantStatusDeleted      TenantStatus = "deleted"
)

// IsValid returns true if the status is a known tenant status
func (s TenantStatus) IsValid() bool {
	switch s {
	case TenantStatusPendingSetup, TenantStatusActive, TenantStatusTrial,
		TenantStatusSuspended, TenantStatusDeleted:
		return true
	}
	return false
}

// BillingStrategy determines how a tenant is charged
type BillingStrategy string

const (
	// BillingStrategySubscription charges a flat recurring fee only
	BillingStrategySubscription BillingStrategy = "subscription"
	// BillingStrategyUsage charges metered usage only
	BillingStrategyUsage BillingStrategy = "usage"
	// BillingStrategyHybrid charges a recurring fee plus metered usage
	BillingStrategyHybrid BillingStrategy = "hybrid"
)

// IsValid returns true if the billing strategy is known
func (s BillingStrategy) IsValid() bool {
	switch s {
	case BillingStrategySubscription, BillingStrategyUsage, BillingStrategyHybrid:
		return true
	}
	return false
}

// CreditPolicy controls how far a tenant's credit balance may be driven below zero.
// The default policy forbids any negative balance. Tenants with an approved credit
// line get a negative floor instead.
type CreditPolicy struct {
	AllowNegativeBalance bool
	// CreditFloor is the lowest allowed balance when AllowNegativeBalance is true.
	// Stored as a non-positive value (e.g. -500.00).
	CreditFloor decimal.Decimal
}

// DefaultCreditPolicy returns the policy that forbids negative balances
func DefaultCreditPolicy() CreditPolicy {
	return CreditPolicy{AllowNegativeBalance: false, CreditFloor: decimal.Zero}
}

// Floor returns the minimum balance the policy permits
func (p CreditPolicy) Floor() decimal.Decimal {
	if !p.AllowNegativeBalance {
		return decimal.Zero
	}
	return p.CreditFloor
}

// Allows returns true if the policy permits the given resulting balance
func (p CreditPolicy) Allows(balanceAfter decimal.Decimal) bool {
	return balanceAfter.GreaterThanOrEqual(p.Floor())
}

// Tenant represents an isolated account in the platform. All billing entities
// reference exactly one tenant.
type Tenant struct {
	shared.BaseAggregateRoot
	Name            string
	Slug            string
	Domain          *string
	Status          TenantStatus
	BillingStrategy BillingStrategy
	CreditPolicy    CreditPolicy
	ParentTenantID  *uuid.UUID
	OnboardedAt     *time.Time
}

// NewTenant creates a tenant in pending_setup status
func NewTenant(name, slug string, strategy BillingStrategy) (*Tenant, error) {
	if strings.TrimSpace(name) == "" {
		return nil, shared.NewDomainError("INVALID_NAME", "Tenant name cannot be empty")
	}
	if strings.TrimSpace(slug) == "" {
		return nil, shared.NewDomainError("INVALID_SLUG", "Tenant slug cannot be empty")
	}
	if !strategy.IsValid() {
		return nil, shared.NewDomainError("INVALID_BILLING_STRATEGY", "Unknown billing strategy")
	}

	return &Tenant{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Name:              name,
		Slug:              strings.ToLower(slug),
		Status:            TenantStatusPendingSetup,
		BillingStrategy:   strategy,
		CreditPolicy:      DefaultCreditPolicy(),
	}, nil
}

// WithCreditLine enables a negative balance down to the given floor
func (t *Tenant) WithCreditLine(floor decimal.Decimal) (*Tenant, error) {
	if floor.IsPositive() {
		return nil, shared.NewDomainError("INVALID_CREDIT_FLOOR", "Credit floor must be zero or negative")
	}
	t.CreditPolicy = CreditPolicy{AllowNegativeBalance: true, CreditFloor: floor}
	return t, nil
}

// Activate transitions the tenant to active
func (t *Tenant) Activate() error {
	switch t.Status {
	case TenantStatusPendingSetup, TenantStatusTrial, TenantStatusSuspended:
		t.Status = TenantStatusActive
		now := time.Now()
		if t.OnboardedAt == nil {
			t.OnboardedAt = &now
		}
		t.IncrementVersion()
		return nil
	default:
		return shared.ErrInvalidState
	}
}

// StartTrial transitions a pending tenant to trial
func (t *Tenant) StartTrial() error {
	if t.Status != TenantStatusPendingSetup {
		return shared.ErrInvalidState
	}
	t.Status = TenantStatusTrial
	t.IncrementVersion()
	return nil
}

// Suspend suspends an active or trial tenant
func (t *Tenant) Suspend() error {
	if t.Status != TenantStatusActive && t.Status != TenantStatusTrial {
		return shared.ErrInvalidState
	}
	t.Status = TenantStatusSuspended
	t.IncrementVersion()
	return nil
}

// SoftDelete marks the tenant as deleted. Billing history is retained.
func (t *Tenant) SoftDelete() error {
	if t.Status == TenantStatusDeleted {
		return shared.ErrInvalidState
	}
	t.Status = TenantStatusDeleted
	t.IncrementVersion()
	return nil
}

// IsBillable returns true if invoices may be generated for the tenant
func (t *Tenant) IsBillable() bool {
	return t.Status == TenantStatusActive || t.Status == TenantStatusTrial
}

// MetersUsage returns true if the tenant's strategy includes metered usage
func (t *Tenant) MetersUsage() bool {
	return t.BillingStrategy == BillingStrategyUsage || t.BillingStrategy == BillingStrategyHybrid
}
