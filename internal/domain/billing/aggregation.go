package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// AggregatedUsage is the result of summing a tenant's usage of one feature
// over a billing period. RecordIDs preserve the lineage from invoice line
// items back to the raw records they cover.
type AggregatedUsage struct {
	TenantID      uuid.UUID
	FeatureID     uuid.UUID
	PeriodStart   time.Time
	PeriodEnd     time.Time
	QuantityTotal decimal.Decimal
	RecordCount   int
	RecordIDs     []uuid.UUID
}

// AggregateRecords sums the quantities of records whose event time falls in
// [periodStart, periodEnd). It is a pure function over immutable records:
// re-running it over the same input always yields the same result, which is
// what makes pre-finalize re-aggregation safe.
func AggregateRecords(tenantID, featureID uuid.UUID, periodStart, periodEnd time.Time, records []*UsageRecord) (*AggregatedUsage, error) {
	if tenantID == uuid.Nil {
		return nil, shared.ErrMissingTenantContext
	}
	if !periodEnd.After(periodStart) {
		return nil, shared.NewDomainError("INVALID_PERIOD", "Period end must be after period start")
	}

	agg := &AggregatedUsage{
		TenantID:      tenantID,
		FeatureID:     featureID,
		PeriodStart:   periodStart,
		PeriodEnd:     periodEnd,
		QuantityTotal: decimal.Zero,
	}

	for _, record := range records {
		if record.TenantID != tenantID || record.FeatureID != featureID {
			return nil, shared.NewDomainError("CROSS_TENANT_USAGE", "Usage record does not belong to the aggregation scope")
		}
		if !record.InPeriod(periodStart, periodEnd) {
			continue
		}
		agg.QuantityTotal = agg.QuantityTotal.Add(record.Quantity)
		agg.RecordCount++
		agg.RecordIDs = append(agg.RecordIDs, record.ID)
	}

	agg.QuantityTotal = agg.QuantityTotal.Round(QuantityPrecision)
	return agg, nil
}

// AddAdjustment folds a carried-over adjustment into the aggregate so the
// late units are billed as part of this period. The adjustment's ID joins
// the lineage the same way a record ID would.
func (a *AggregatedUsage) AddAdjustment(adj *UsageAdjustment) {
	a.QuantityTotal = a.QuantityTotal.Add(adj.Quantity).Round(QuantityPrecision)
	a.RecordCount++
	a.RecordIDs = append(a.RecordIDs, adj.ID)
}

// IsEmpty returns true if no records fell inside the period
func (a *AggregatedUsage) IsEmpty() bool {
	return a.RecordCount == 0
}

// ClosedPeriod marks a (tenant, feature) billing period as invoiced. Once a
// period is closed the aggregator rejects late records for it instead of
// silently altering history.
type ClosedPeriod struct {
	shared.BaseEntity
	TenantID    uuid.UUID
	FeatureID   uuid.UUID
	PeriodStart time.Time
	PeriodEnd   time.Time
	ClosedAt    time.Time
}

// NewClosedPeriod records the finalize cutoff for a period
func NewClosedPeriod(tenantID, featureID uuid.UUID, periodStart, periodEnd time.Time) (*ClosedPeriod, error) {
	if tenantID == uuid.Nil {
		return nil, shared.ErrMissingTenantContext
	}
	if !periodEnd.After(periodStart) {
		return nil, shared.NewDomainError("INVALID_PERIOD", "Period end must be after period start")
	}
	return &ClosedPeriod{
		BaseEntity:  shared.NewBaseEntity(),
		TenantID:    tenantID,
		FeatureID:   featureID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		ClosedAt:    time.Now(),
	}, nil
}

// Covers returns true if the given event time falls inside the closed period
func (p *ClosedPeriod) Covers(eventTime time.Time) bool {
	return !eventTime.Before(p.PeriodStart) && eventTime.Before(p.PeriodEnd)
}
