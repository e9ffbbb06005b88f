package subscription

import (
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/shared"
)

// Status is the subscription lifecycle state
type Status string

const (
	StatusPending  Status = "pending"
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// IsValid returns true if the status is known
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusTrialing, StatusActive, StatusCanceled, StatusExpired:
		return true
	}
	return false
}

// EventKind classifies subscription history events
type EventKind string

const (
	EventKindCreated    EventKind = "created"
	EventKindActivated  EventKind = "activated"
	EventKindTrialed    EventKind = "trial_started"
	EventKindRenewed    EventKind = "renewed"
	EventKindUpgraded   EventKind = "upgraded"
	EventKindDowngraded EventKind = "downgraded"
	EventKindCanceled   EventKind = "canceled"
	EventKindExpired    EventKind = "expired"
)

// Event is a persisted history row for a subscription change
type Event struct {
	shared.BaseEntity
	TenantID       uuid.UUID
	SubscriptionID uuid.UUID
	Kind           EventKind
	FromPlanID     *uuid.UUID
	ToPlanID       *uuid.UUID
	Note           string
}

// Subscription ties a tenant to a plan price over consecutive billing
// periods. The current period bounds drive usage aggregation and invoicing.
type Subscription struct {
	shared.TenantAggregateRoot
	PlanID             uuid.UUID
	PlanPriceID        uuid.UUID
	Status             Status
	TrialEndsAt        *time.Time
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	StartedAt          *time.Time
}

// NewSubscription creates a pending subscription for a tenant
func NewSubscription(tenantID, planID, planPriceID uuid.UUID) (*Subscription, error) {
	if tenantID == uuid.Nil {
		return nil, shared.ErrMissingTenantContext
	}
	if planID == uuid.Nil || planPriceID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_PLAN", "Plan and price IDs are required")
	}
	sub := &Subscription{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		PlanID:              planID,
		PlanPriceID:         planPriceID,
		Status:              StatusPending,
	}
	return sub, nil
}

// Activate starts the first billing period
func (s *Subscription) Activate(periodStart time.Time, period BillingPeriod) error {
	if s.Status != StatusPending && s.Status != StatusTrialing {
		return shared.NewDomainError("INVALID_STATE", "Only pending or trialing subscriptions can be activated")
	}
	now := time.Now()
	s.Status = StatusActive
	s.StartedAt = &now
	s.CurrentPeriodStart = periodStart
	s.CurrentPeriodEnd = periodStart.AddDate(0, period.Months(), 0)
	s.UpdatedAt = now
	s.AddDomainEvent(newLifecycleEvent("subscription.activated", s))
	return nil
}

// StartTrial puts a pending subscription into trial
func (s *Subscription) StartTrial(trialEnd time.Time) error {
	if s.Status != StatusPending {
		return shared.NewDomainError("INVALID_STATE", "Only pending subscriptions can start a trial")
	}
	if !trialEnd.After(time.Now()) {
		return shared.NewDomainError("INVALID_TRIAL_END", "Trial end must be in the future")
	}
	s.Status = StatusTrialing
	s.TrialEndsAt = &trialEnd
	s.Touch()
	s.AddDomainEvent(newLifecycleEvent("subscription.trial_started", s))
	return nil
}

// Cancel schedules or performs cancellation. With atPeriodEnd the
// subscription stays active until the current period closes.
func (s *Subscription) Cancel(atPeriodEnd bool) error {
	if s.Status != StatusActive && s.Status != StatusTrialing {
		return shared.NewDomainError("INVALID_STATE", "Only active or trialing subscriptions can be canceled")
	}
	now := time.Now()
	s.CanceledAt = &now
	if atPeriodEnd {
		s.CancelAtPeriodEnd = true
	} else {
		s.Status = StatusCanceled
	}
	s.UpdatedAt = now
	s.AddDomainEvent(newLifecycleEvent("subscription.canceled", s))
	return nil
}

// Renew closes the current period and opens the next one. A subscription
// marked cancel-at-period-end expires instead of renewing.
func (s *Subscription) Renew(period BillingPeriod) error {
	if s.Status != StatusActive {
		return shared.NewDomainError("INVALID_STATE", "Only active subscriptions can renew")
	}
	if s.CancelAtPeriodEnd {
		s.Status = StatusExpired
		s.Touch()
		s.AddDomainEvent(newLifecycleEvent("subscription.expired", s))
		return nil
	}
	s.CurrentPeriodStart = s.CurrentPeriodEnd
	s.CurrentPeriodEnd = s.CurrentPeriodEnd.AddDate(0, period.Months(), 0)
	s.Touch()
	s.IncrementVersion()
	s.AddDomainEvent(newLifecycleEvent("subscription.renewed", s))
	return nil
}

// ChangePlan moves the subscription to a new plan price, effective now.
// Period bounds are kept; proration happens at invoice build time.
func (s *Subscription) ChangePlan(planID, planPriceID uuid.UUID) error {
	if s.Status != StatusActive && s.Status != StatusTrialing {
		return shared.NewDomainError("INVALID_STATE", "Only active or trialing subscriptions can change plan")
	}
	if planID == uuid.Nil || planPriceID == uuid.Nil {
		return shared.NewDomainError("INVALID_PLAN", "Plan and price IDs are required")
	}
	s.PlanID = planID
	s.PlanPriceID = planPriceID
	s.Touch()
	s.AddDomainEvent(newLifecycleEvent("subscription.plan_changed", s))
	return nil
}

// IsCurrent returns true if the given time falls inside the current period
func (s *Subscription) IsCurrent(at time.Time) bool {
	return !at.Before(s.CurrentPeriodStart) && at.Before(s.CurrentPeriodEnd)
}

// lifecycleEvent is the domain event emitted on subscription transitions
type lifecycleEvent struct {
	shared.BaseDomainEvent
	Status Status `json:"status"`
}

func newLifecycleEvent(eventType string, s *Subscription) *lifecycleEvent {
	return &lifecycleEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, "subscription", s.ID, s.TenantID),
		Status:          s.Status,
	}
}
