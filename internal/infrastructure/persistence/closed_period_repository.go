package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/billing"
	"github.com/saaskit/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// ClosedPeriodModel is the GORM model for finalize cutoffs
type ClosedPeriodModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_closed_periods_window"`
	FeatureID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_closed_periods_window"`
	PeriodStart time.Time `gorm:"not null;uniqueIndex:idx_closed_periods_window"`
	PeriodEnd   time.Time `gorm:"not null"`
	ClosedAt    time.Time `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for the model
func (ClosedPeriodModel) TableName() string {
	return "closed_billing_periods"
}

// ToEntity converts the model to a domain entity
func (m *ClosedPeriodModel) ToEntity() *billing.ClosedPeriod {
	return &billing.ClosedPeriod{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		TenantID:    m.TenantID,
		FeatureID:   m.FeatureID,
		PeriodStart: m.PeriodStart,
		PeriodEnd:   m.PeriodEnd,
		ClosedAt:    m.ClosedAt,
	}
}

// ClosedPeriodModelFromEntity creates a model from a domain entity
func ClosedPeriodModelFromEntity(e *billing.ClosedPeriod) *ClosedPeriodModel {
	return &ClosedPeriodModel{
		ID:          e.ID,
		TenantID:    e.TenantID,
		FeatureID:   e.FeatureID,
		PeriodStart: e.PeriodStart,
		PeriodEnd:   e.PeriodEnd,
		ClosedAt:    e.ClosedAt,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

// ClosedPeriodRepository implements the billing.ClosedPeriodRepository interface
type ClosedPeriodRepository struct {
	db *gorm.DB
}

// NewClosedPeriodRepository creates a new closed period repository
func NewClosedPeriodRepository(db *gorm.DB) *ClosedPeriodRepository {
	return &ClosedPeriodRepository{db: db}
}

// Create records a finalize cutoff. Closing the same window twice violates
// the unique (tenant, feature, period_start) index.
func (r *ClosedPeriodRepository) Create(ctx context.Context, period *billing.ClosedPeriod) error {
	model := ClosedPeriodModelFromEntity(period)
	err := r.db.WithContext(ctx).Create(model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return shared.ErrDuplicatePeriod
	}
	return err
}

// FindCovering returns the closed period containing eventTime, or nil when
// the event falls in an open window
func (r *ClosedPeriodRepository) FindCovering(ctx context.Context, tenantID, featureID uuid.UUID, eventTime time.Time) (*billing.ClosedPeriod, error) {
	var model ClosedPeriodModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND feature_id = ?", tenantID, featureID).
		Where("period_start <= ? AND period_end > ?", eventTime, eventTime).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// Ensure ClosedPeriodRepository implements the interface
var _ billing.ClosedPeriodRepository = (*ClosedPeriodRepository)(nil)
