package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/billing"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// UsageAdjustmentModel is the GORM model for compensating usage records
type UsageAdjustmentModel struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TenantID         uuid.UUID       `gorm:"type:uuid;not null;index:idx_usage_adjustments_pending"`
	FeatureID        uuid.UUID       `gorm:"type:uuid;not null;index:idx_usage_adjustments_pending"`
	Quantity         decimal.Decimal `gorm:"type:decimal(18,6);not null"`
	EventTime        time.Time       `gorm:"not null"`
	PeriodStart      time.Time       `gorm:"not null"`
	PeriodEnd        time.Time       `gorm:"not null"`
	Reason           string          `gorm:"type:text"`
	AppliedInvoiceID *uuid.UUID      `gorm:"type:uuid"`
	CreatedAt        time.Time       `gorm:"not null"`
	UpdatedAt        time.Time       `gorm:"not null"`
}

// TableName returns the table name for the model
func (UsageAdjustmentModel) TableName() string {
	return "usage_adjustments"
}

// ToEntity converts the model to a domain entity
func (m *UsageAdjustmentModel) ToEntity() *billing.UsageAdjustment {
	return &billing.UsageAdjustment{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		TenantID:         m.TenantID,
		FeatureID:        m.FeatureID,
		Quantity:         m.Quantity,
		EventTime:        m.EventTime,
		PeriodStart:      m.PeriodStart,
		PeriodEnd:        m.PeriodEnd,
		Reason:           m.Reason,
		AppliedInvoiceID: m.AppliedInvoiceID,
	}
}

// UsageAdjustmentModelFromEntity creates a model from a domain entity
func UsageAdjustmentModelFromEntity(e *billing.UsageAdjustment) *UsageAdjustmentModel {
	return &UsageAdjustmentModel{
		ID:               e.ID,
		TenantID:         e.TenantID,
		FeatureID:        e.FeatureID,
		Quantity:         e.Quantity,
		EventTime:        e.EventTime,
		PeriodStart:      e.PeriodStart,
		PeriodEnd:        e.PeriodEnd,
		Reason:           e.Reason,
		AppliedInvoiceID: e.AppliedInvoiceID,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

// UsageAdjustmentRepository implements the billing.UsageAdjustmentRepository interface
type UsageAdjustmentRepository struct {
	db *gorm.DB
}

// NewUsageAdjustmentRepository creates a new usage adjustment repository
func NewUsageAdjustmentRepository(db *gorm.DB) *UsageAdjustmentRepository {
	return &UsageAdjustmentRepository{db: db}
}

// Create persists a new adjustment
func (r *UsageAdjustmentRepository) Create(ctx context.Context, adjustment *billing.UsageAdjustment) error {
	model := UsageAdjustmentModelFromEntity(adjustment)
	return r.db.WithContext(ctx).Create(model).Error
}

// FindPending returns the tenant's unbilled adjustments for a feature in
// event order
func (r *UsageAdjustmentRepository) FindPending(ctx context.Context, tenantID, featureID uuid.UUID) ([]*billing.UsageAdjustment, error) {
	var models []UsageAdjustmentModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND feature_id = ? AND applied_invoice_id IS NULL", tenantID, featureID).
		Order("event_time asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	adjustments := make([]*billing.UsageAdjustment, len(models))
	for i, model := range models {
		adjustments[i] = model.ToEntity()
	}
	return adjustments, nil
}

// MarkApplied stamps the adjustments with the invoice that billed them
func (r *UsageAdjustmentRepository) MarkApplied(ctx context.Context, ids []uuid.UUID, invoiceID uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&UsageAdjustmentModel{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"applied_invoice_id": invoiceID,
			"updated_at":         time.Now(),
		}).Error
}

// Ensure UsageAdjustmentRepository implements the interface
var _ billing.UsageAdjustmentRepository = (*UsageAdjustmentRepository)(nil)
