package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/billing"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// UsageRecordModel is the GORM model for usage records. Rows are append-only:
// there is no update path, and corrections land in usage_adjustments instead.
type UsageRecordModel struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TenantID    uuid.UUID       `gorm:"type:uuid;not null;index:idx_usage_records_period"`
	FeatureID   uuid.UUID       `gorm:"type:uuid;not null;index:idx_usage_records_period"`
	Quantity    decimal.Decimal `gorm:"type:decimal(18,6);not null"`
	EventTime   time.Time       `gorm:"not null;index:idx_usage_records_period"`
	RecordedAt  time.Time       `gorm:"not null"`
	UserID      *uuid.UUID      `gorm:"type:uuid"`
	SourceIP    string          `gorm:"type:varchar(45)"`
	ReferenceID string          `gorm:"type:varchar(255)"`
	CreatedAt   time.Time       `gorm:"not null"`
	UpdatedAt   time.Time       `gorm:"not null"`
}

// TableName returns the table name for the model
func (UsageRecordModel) TableName() string {
	return "usage_records"
}

// ToEntity converts the model to a domain entity
func (m *UsageRecordModel) ToEntity() *billing.UsageRecord {
	return &billing.UsageRecord{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		TenantID:    m.TenantID,
		FeatureID:   m.FeatureID,
		Quantity:    m.Quantity,
		EventTime:   m.EventTime,
		RecordedAt:  m.RecordedAt,
		UserID:      m.UserID,
		SourceIP:    m.SourceIP,
		ReferenceID: m.ReferenceID,
	}
}

// UsageRecordModelFromEntity creates a model from a domain entity
func UsageRecordModelFromEntity(e *billing.UsageRecord) *UsageRecordModel {
	return &UsageRecordModel{
		ID:          e.ID,
		TenantID:    e.TenantID,
		FeatureID:   e.FeatureID,
		Quantity:    e.Quantity,
		EventTime:   e.EventTime,
		RecordedAt:  e.RecordedAt,
		UserID:      e.UserID,
		SourceIP:    e.SourceIP,
		ReferenceID: e.ReferenceID,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

// UsageRecordRepository implements the billing.UsageRecordRepository interface
type UsageRecordRepository struct {
	db *gorm.DB
}

// NewUsageRecordRepository creates a new usage record repository
func NewUsageRecordRepository(db *gorm.DB) *UsageRecordRepository {
	return &UsageRecordRepository{db: db}
}

// Create persists a new usage record
func (r *UsageRecordRepository) Create(ctx context.Context, record *billing.UsageRecord) error {
	model := UsageRecordModelFromEntity(record)
	return r.db.WithContext(ctx).Create(model).Error
}

// FindByID retrieves a tenant's usage record by ID, or nil when it does not exist
func (r *UsageRecordRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*billing.UsageRecord, error) {
	var model UsageRecordModel
	err := r.db.WithContext(ctx).
		First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindForPeriod returns records with event_time in [periodStart, periodEnd)
func (r *UsageRecordRepository) FindForPeriod(ctx context.Context, tenantID, featureID uuid.UUID, periodStart, periodEnd time.Time) ([]*billing.UsageRecord, error) {
	var models []UsageRecordModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND feature_id = ?", tenantID, featureID).
		Where("event_time >= ? AND event_time < ?", periodStart, periodEnd).
		Order("event_time asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]*billing.UsageRecord, len(models))
	for i, model := range models {
		records[i] = model.ToEntity()
	}
	return records, nil
}

// SumForPeriod aggregates the period's quantity in the database, without
// loading full records. Record IDs are still collected so invoice line items
// can keep their lineage back to the raw usage.
func (r *UsageRecordRepository) SumForPeriod(ctx context.Context, tenantID, featureID uuid.UUID, periodStart, periodEnd time.Time) (*billing.AggregatedUsage, error) {
	scope := func() *gorm.DB {
		return r.db.WithContext(ctx).
			Model(&UsageRecordModel{}).
			Where("tenant_id = ? AND feature_id = ?", tenantID, featureID).
			Where("event_time >= ? AND event_time < ?", periodStart, periodEnd)
	}

	var result struct {
		Total decimal.Decimal
		Count int64
	}
	err := scope().
		Select("COALESCE(SUM(quantity), 0) as total, COUNT(*) as count").
		Scan(&result).Error
	if err != nil {
		return nil, err
	}

	var recordIDs []uuid.UUID
	if result.Count > 0 {
		if err := scope().Order("event_time asc").Pluck("id", &recordIDs).Error; err != nil {
			return nil, err
		}
	}

	return &billing.AggregatedUsage{
		TenantID:      tenantID,
		FeatureID:     featureID,
		PeriodStart:   periodStart,
		PeriodEnd:     periodEnd,
		QuantityTotal: result.Total.Round(billing.QuantityPrecision),
		RecordCount:   int(result.Count),
		RecordIDs:     recordIDs,
	}, nil
}

// CumulativeBefore returns the total quantity with event_time in [cycleStart, before)
func (r *UsageRecordRepository) CumulativeBefore(ctx context.Context, tenantID, featureID uuid.UUID, cycleStart, before time.Time) (decimal.Decimal, error) {
	var result struct {
		Total decimal.Decimal
	}
	err := r.db.WithContext(ctx).
		Model(&UsageRecordModel{}).
		Select("COALESCE(SUM(quantity), 0) as total").
		Where("tenant_id = ? AND feature_id = ?", tenantID, featureID).
		Where("event_time >= ? AND event_time < ?", cycleStart, before).
		Scan(&result).Error
	if err != nil {
		return decimal.Zero, err
	}
	return result.Total.Round(billing.QuantityPrecision), nil
}

// Ensure UsageRecordRepository implements the interface
var _ billing.UsageRecordRepository = (*UsageRecordRepository)(nil)
