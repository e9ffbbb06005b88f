package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// UsageRecord is an immutable fact: a quantity of a metered feature consumed
// by a tenant at a point in time. Records are never updated after creation;
// corrections happen via compensating records, preserving the audit trail.
type UsageRecord struct {
	shared.BaseEntity
	TenantID    uuid.UUID
	FeatureID   uuid.UUID
	Quantity    decimal.Decimal // fractional, six decimal places
	EventTime   time.Time       // when the usage occurred
	RecordedAt  time.Time       // when the record was written
	UserID      *uuid.UUID      // user who triggered the usage (optional)
	SourceIP    string
	ReferenceID string // external resource ID (e.g. transaction ID)
}

// NewUsageRecord creates a usage record with validation
func NewUsageRecord(tenantID, featureID uuid.UUID, quantity decimal.Decimal, eventTime time.Time) (*UsageRecord, error) {
	if tenantID == uuid.Nil {
		return nil, shared.ErrMissingTenantContext
	}
	if featureID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_FEATURE", "Feature ID cannot be empty")
	}
	if quantity.IsNegative() {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "Quantity cannot be negative")
	}
	if eventTime.IsZero() {
		return nil, shared.NewDomainError("INVALID_EVENT_TIME", "Event time is required")
	}

	return &UsageRecord{
		BaseEntity: shared.NewBaseEntity(),
		TenantID:   tenantID,
		FeatureID:  featureID,
		Quantity:   quantity.Round(QuantityPrecision),
		EventTime:  eventTime,
		RecordedAt: time.Now(),
	}, nil
}

// WithUser sets the user who triggered the usage
func (r *UsageRecord) WithUser(userID uuid.UUID) *UsageRecord {
	r.UserID = &userID
	return r
}

// WithSource sets request source information
func (r *UsageRecord) WithSource(sourceIP, referenceID string) *UsageRecord {
	r.SourceIP = sourceIP
	r.ReferenceID = referenceID
	return r
}

// InPeriod returns true if the record's event time falls in [start, end)
func (r *UsageRecord) InPeriod(start, end time.Time) bool {
	return !r.EventTime.Before(start) && r.EventTime.Before(end)
}

// UsageAdjustment is a compensating record for usage that arrived after its
// billing period was closed. Adjustments never patch history; they are billed
// on the next invoice.
type UsageAdjustment struct {
	shared.BaseEntity
	TenantID         uuid.UUID
	FeatureID        uuid.UUID
	Quantity         decimal.Decimal
	EventTime        time.Time
	PeriodStart      time.Time // the closed period the usage belonged to
	PeriodEnd        time.Time
	Reason           string
	AppliedInvoiceID *uuid.UUID // set once the adjustment lands on an invoice
}

// NewUsageAdjustment creates an adjustment for a late-arriving record
func NewUsageAdjustment(tenantID, featureID uuid.UUID, quantity decimal.Decimal, eventTime, periodStart, periodEnd time.Time, reason string) (*UsageAdjustment, error) {
	if tenantID == uuid.Nil {
		return nil, shared.ErrMissingTenantContext
	}
	if featureID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_FEATURE", "Feature ID cannot be empty")
	}
	if periodEnd.Before(periodStart) {
		return nil, shared.NewDomainError("INVALID_PERIOD", "Period end cannot be before period start")
	}
	return &UsageAdjustment{
		BaseEntity:  shared.NewBaseEntity(),
		TenantID:    tenantID,
		FeatureID:   featureID,
		Quantity:    quantity.Round(QuantityPrecision),
		EventTime:   eventTime,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Reason:      reason,
	}, nil
}

// IsApplied returns true once the adjustment has been billed
func (a *UsageAdjustment) IsApplied() bool {
	return a.AppliedInvoiceID != nil
}
