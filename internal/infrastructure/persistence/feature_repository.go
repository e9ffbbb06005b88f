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

// FeatureModel is the GORM model for billable features
type FeatureModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Codename    string    `gorm:"type:varchar(100);uniqueIndex;not null"`
	Description string    `gorm:"type:text"`
	Type        string    `gorm:"type:varchar(20);not null"`
	ValueType   string    `gorm:"type:varchar(20);not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for the model
func (FeatureModel) TableName() string {
	return "features"
}

// ToEntity converts the model to a domain entity
func (m *FeatureModel) ToEntity() *billing.Feature {
	return &billing.Feature{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Codename:    m.Codename,
		Description: m.Description,
		Type:        billing.FeatureType(m.Type),
		ValueType:   billing.ValueType(m.ValueType),
	}
}

// FeatureModelFromEntity creates a model from a domain entity
func FeatureModelFromEntity(e *billing.Feature) *FeatureModel {
	return &FeatureModel{
		ID:          e.ID,
		Codename:    e.Codename,
		Description: e.Description,
		Type:        string(e.Type),
		ValueType:   string(e.ValueType),
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

// FeatureRepository implements the billing.FeatureRepository interface
type FeatureRepository struct {
	db *gorm.DB
}

// NewFeatureRepository creates a new feature repository
func NewFeatureRepository(db *gorm.DB) *FeatureRepository {
	return &FeatureRepository{db: db}
}

// Save creates or updates a feature
func (r *FeatureRepository) Save(ctx context.Context, feature *billing.Feature) error {
	model := FeatureModelFromEntity(feature)
	err := r.db.WithContext(ctx).Save(model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return shared.ErrAlreadyExists
	}
	return err
}

// FindByID retrieves a feature by ID, or nil when it does not exist
func (r *FeatureRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Feature, error) {
	var model FeatureModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindByCodename retrieves a feature by codename, or nil when it does not exist
func (r *FeatureRepository) FindByCodename(ctx context.Context, codename string) (*billing.Feature, error) {
	var model FeatureModel
	if err := r.db.WithContext(ctx).First(&model, "codename = ?", codename).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// ListMetered retrieves all metered features
func (r *FeatureRepository) ListMetered(ctx context.Context) ([]*billing.Feature, error) {
	var models []FeatureModel
	err := r.db.WithContext(ctx).
		Where("type = ?", string(billing.FeatureTypeMetered)).
		Order("codename asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	features := make([]*billing.Feature, len(models))
	for i, model := range models {
		features[i] = model.ToEntity()
	}
	return features, nil
}

// Ensure FeatureRepository implements the interface
var _ billing.FeatureRepository = (*FeatureRepository)(nil)
