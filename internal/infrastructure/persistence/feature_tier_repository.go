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

// FeatureTierModel is the GORM model for tier price brackets
type FeatureTierModel struct {
	ID          uuid.UUID        `gorm:"type:uuid;primaryKey"`
	FeatureID   uuid.UUID        `gorm:"type:uuid;not null;index:idx_feature_tiers_schedule"`
	PlanPriceID uuid.UUID        `gorm:"type:uuid;not null;index:idx_feature_tiers_schedule"`
	UpTo        *decimal.Decimal `gorm:"type:decimal(18,6)"`
	UnitPrice   decimal.Decimal  `gorm:"type:decimal(18,6);not null"`
	FlatFee     decimal.Decimal  `gorm:"type:decimal(18,2);not null"`
	Currency    string           `gorm:"type:varchar(3);not null"`
	CreatedAt   time.Time        `gorm:"not null"`
	UpdatedAt   time.Time        `gorm:"not null"`
}

// TableName returns the table name for the model
func (FeatureTierModel) TableName() string {
	return "feature_tiers"
}

// ToEntity converts the model to a domain entity
func (m *FeatureTierModel) ToEntity() *billing.FeatureTier {
	return &billing.FeatureTier{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		FeatureID:   m.FeatureID,
		PlanPriceID: m.PlanPriceID,
		UpTo:        m.UpTo,
		UnitPrice:   m.UnitPrice,
		FlatFee:     m.FlatFee,
		Currency:    m.Currency,
	}
}

// FeatureTierModelFromEntity creates a model from a domain entity
func FeatureTierModelFromEntity(e *billing.FeatureTier) *FeatureTierModel {
	return &FeatureTierModel{
		ID:          e.ID,
		FeatureID:   e.FeatureID,
		PlanPriceID: e.PlanPriceID,
		UpTo:        e.UpTo,
		UnitPrice:   e.UnitPrice,
		FlatFee:     e.FlatFee,
		Currency:    e.Currency,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

// FeatureTierRepository implements the billing.FeatureTierRepository interface
type FeatureTierRepository struct {
	db *gorm.DB
}

// NewFeatureTierRepository creates a new feature tier repository
func NewFeatureTierRepository(db *gorm.DB) *FeatureTierRepository {
	return &FeatureTierRepository{db: db}
}

// SaveAll persists a tier schedule atomically, replacing any previous tiers
// for the same (feature, plan price) pair. The schedule is validated before
// anything is written so a bad schedule never clobbers a good one.
func (r *FeatureTierRepository) SaveAll(ctx context.Context, tiers []*billing.FeatureTier) error {
	if len(tiers) == 0 {
		return shared.ErrNoTierDefined
	}
	if _, err := billing.NewTierSchedule(tiers); err != nil {
		return err
	}

	models := make([]*FeatureTierModel, len(tiers))
	for i, tier := range tiers {
		models[i] = FeatureTierModelFromEntity(tier)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("feature_id = ? AND plan_price_id = ?", tiers[0].FeatureID, tiers[0].PlanPriceID).
			Delete(&FeatureTierModel{}).Error; err != nil {
			return err
		}
		return tx.Create(models).Error
	})
}

// ScheduleFor loads the validated tier schedule for a feature under a plan
// price. Returns (nil, nil) when the feature has no tiers there.
func (r *FeatureTierRepository) ScheduleFor(ctx context.Context, featureID, planPriceID uuid.UUID) (*billing.TierSchedule, error) {
	var models []FeatureTierModel
	err := r.db.WithContext(ctx).
		Where("feature_id = ? AND plan_price_id = ?", featureID, planPriceID).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}

	tiers := make([]*billing.FeatureTier, len(models))
	for i, model := range models {
		tiers[i] = model.ToEntity()
	}
	return billing.NewTierSchedule(tiers)
}

// Ensure FeatureTierRepository implements the interface
var _ billing.FeatureTierRepository = (*FeatureTierRepository)(nil)
