package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FeatureRepository provides access to features
type FeatureRepository interface {
	Save(ctx context.Context, feature *Feature) error
	FindByID(ctx context.Context, id uuid.UUID) (*Feature, error)
	FindByCodename(ctx context.Context, codename string) (*Feature, error)
	ListMetered(ctx context.Context) ([]*Feature, error)
}

// FeatureTierRepository provides access to tier schedules
type FeatureTierRepository interface {
	SaveAll(ctx context.Context, tiers []*FeatureTier) error
	// ScheduleFor loads the validated tier schedule for a feature under a
	// plan price. Returns (nil, nil) when the feature has no tiers there.
	ScheduleFor(ctx context.Context, featureID, planPriceID uuid.UUID) (*TierSchedule, error)
}

// UsageRecordRepository provides append-only access to usage records.
// Concurrent writers never conflict: each record is independent.
type UsageRecordRepository interface {
	Create(ctx context.Context, record *UsageRecord) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*UsageRecord, error)
	// FindForPeriod returns records with event_time in [periodStart, periodEnd)
	FindForPeriod(ctx context.Context, tenantID, featureID uuid.UUID, periodStart, periodEnd time.Time) ([]*UsageRecord, error)
	// SumForPeriod returns the aggregated quantity without loading records
	SumForPeriod(ctx context.Context, tenantID, featureID uuid.UUID, periodStart, periodEnd time.Time) (*AggregatedUsage, error)
	// CumulativeBefore returns the total quantity with event_time in [cycleStart, before)
	CumulativeBefore(ctx context.Context, tenantID, featureID uuid.UUID, cycleStart, before time.Time) (decimal.Decimal, error)
}

// UsageAdjustmentRepository stores compensating records for closed periods
type UsageAdjustmentRepository interface {
	Create(ctx context.Context, adjustment *UsageAdjustment) error
	// FindPending returns adjustments that have not been billed yet
	FindPending(ctx context.Context, tenantID, featureID uuid.UUID) ([]*UsageAdjustment, error)
	// MarkApplied stamps adjustments with the invoice that billed them
	MarkApplied(ctx context.Context, ids []uuid.UUID, invoiceID uuid.UUID) error
}

// ClosedPeriodRepository tracks finalize cutoffs per (tenant, feature)
type ClosedPeriodRepository interface {
	Create(ctx context.Context, period *ClosedPeriod) error
	FindCovering(ctx context.Context, tenantID, featureID uuid.UUID, eventTime time.Time) (*ClosedPeriod, error)
}
