package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/saaskit/backend/internal/domain/subscription"
	"gorm.io/gorm"
)

// PlanModel is the GORM model for plans
type PlanModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name        string    `gorm:"type:varchar(100);not null"`
	Slug        string    `gorm:"type:varchar(100);uniqueIndex;not null"`
	Description string    `gorm:"type:text"`
	Active      bool      `gorm:"not null;default:true"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for the model
func (PlanModel) TableName() string {
	return "plans"
}

// ToEntity converts the model to a domain entity
func (m *PlanModel) ToEntity() *subscription.Plan {
	return &subscription.Plan{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Name:        m.Name,
		Slug:        m.Slug,
		Description: m.Description,
		Active:      m.Active,
	}
}

// PlanModelFromEntity creates a model from a domain entity
func PlanModelFromEntity(e *subscription.Plan) *PlanModel {
	return &PlanModel{
		ID:          e.ID,
		Name:        e.Name,
		Slug:        e.Slug,
		Description: e.Description,
		Active:      e.Active,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

// PlanFeatureModel is the GORM model for plan feature bindings
type PlanFeatureModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	PlanID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_plan_features_binding"`
	FeatureID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_plan_features_binding"`
	Value     string    `gorm:"type:varchar(255);not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for the model
func (PlanFeatureModel) TableName() string {
	return "plan_features"
}

// ToEntity converts the model to a domain entity
func (m *PlanFeatureModel) ToEntity() *subscription.PlanFeature {
	return &subscription.PlanFeature{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		PlanID:    m.PlanID,
		FeatureID: m.FeatureID,
		Value:     m.Value,
	}
}

// PlanFeatureModelFromEntity creates a model from a domain entity
func PlanFeatureModelFromEntity(e *subscription.PlanFeature) *PlanFeatureModel {
	return &PlanFeatureModel{
		ID:        e.ID,
		PlanID:    e.PlanID,
		FeatureID: e.FeatureID,
		Value:     e.Value,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

// PlanRepository implements the subscription.PlanRepository interface
type PlanRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// Save creates or updates a plan
func (r *PlanRepository) Save(ctx context.Context, plan *subscription.Plan) error {
	model := PlanModelFromEntity(plan)
	err := r.db.WithContext(ctx).Save(model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return shared.ErrAlreadyExists
	}
	return err
}

// FindByID retrieves a plan by ID, or nil when it does not exist
func (r *PlanRepository) FindByID(ctx context.Context, id uuid.UUID) (*subscription.Plan, error) {
	var model PlanModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindBySlug retrieves a plan by slug, or nil when it does not exist
func (r *PlanRepository) FindBySlug(ctx context.Context, slug string) (*subscription.Plan, error) {
	var model PlanModel
	if err := r.db.WithContext(ctx).First(&model, "slug = ?", slug).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// ListActive returns plans currently open for new subscriptions
func (r *PlanRepository) ListActive(ctx context.Context) ([]*subscription.Plan, error) {
	var models []PlanModel
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("name asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	plans := make([]*subscription.Plan, len(models))
	for i, model := range models {
		plans[i] = model.ToEntity()
	}
	return plans, nil
}

// SaveFeature creates or updates a plan feature binding
func (r *PlanRepository) SaveFeature(ctx context.Context, feature *subscription.PlanFeature) error {
	model := PlanFeatureModelFromEntity(feature)
	err := r.db.WithContext(ctx).Save(model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return shared.ErrAlreadyExists
	}
	return err
}

// FeaturesOf returns the plan's feature bindings
func (r *PlanRepository) FeaturesOf(ctx context.Context, planID uuid.UUID) ([]*subscription.PlanFeature, error) {
	var models []PlanFeatureModel
	err := r.db.WithContext(ctx).
		Where("plan_id = ?", planID).
		Order("created_at asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	features := make([]*subscription.PlanFeature, len(models))
	for i, model := range models {
		features[i] = model.ToEntity()
	}
	return features, nil
}

// Ensure PlanRepository implements the interface
var _ subscription.PlanRepository = (*PlanRepository)(nil)
