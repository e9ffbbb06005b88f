package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/identity"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TenantModel is the GORM model for tenants
type TenantModel struct {
	ID                   uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Name                 string          `gorm:"type:varchar(255);not null"`
	Slug                 string          `gorm:"type:varchar(100);uniqueIndex;not null"`
	Domain               *string         `gorm:"type:varchar(255)"`
	Status               string          `gorm:"type:varchar(20);not null;index"`
	BillingStrategy      string          `gorm:"type:varchar(20);not null"`
	AllowNegativeBalance bool            `gorm:"not null;default:false"`
	CreditFloor          decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	ParentTenantID       *uuid.UUID      `gorm:"type:uuid"`
	OnboardedAt          *time.Time
	Version              int       `gorm:"not null;default:1"`
	CreatedAt            time.Time `gorm:"not null"`
	UpdatedAt            time.Time `gorm:"not null"`
}

// TableName returns the table name for the model
func (TenantModel) TableName() string {
	return "tenants"
}

// ToEntity converts the model to a domain entity
func (m *TenantModel) ToEntity() *identity.Tenant {
	return &identity.Tenant{
		BaseAggregateRoot: shared.BaseAggregateRoot{
			BaseEntity: shared.BaseEntity{
				ID:        m.ID,
				CreatedAt: m.CreatedAt,
				UpdatedAt: m.UpdatedAt,
			},
			Version: m.Version,
		},
		Name:            m.Name,
		Slug:            m.Slug,
		Domain:          m.Domain,
		Status:          identity.TenantStatus(m.Status),
		BillingStrategy: identity.BillingStrategy(m.BillingStrategy),
		CreditPolicy: identity.CreditPolicy{
			AllowNegativeBalance: m.AllowNegativeBalance,
			CreditFloor:          m.CreditFloor,
		},
		ParentTenantID: m.ParentTenantID,
		OnboardedAt:    m.OnboardedAt,
	}
}

// TenantModelFromEntity creates a model from a domain entity
func TenantModelFromEntity(e *identity.Tenant) *TenantModel {
	return &TenantModel{
		ID:                   e.ID,
		Name:                 e.Name,
		Slug:                 e.Slug,
		Domain:               e.Domain,
		Status:               string(e.Status),
		BillingStrategy:      string(e.BillingStrategy),
		AllowNegativeBalance: e.CreditPolicy.AllowNegativeBalance,
		CreditFloor:          e.CreditPolicy.CreditFloor,
		ParentTenantID:       e.ParentTenantID,
		OnboardedAt:          e.OnboardedAt,
		Version:              e.Version,
		CreatedAt:            e.CreatedAt,
		UpdatedAt:            e.UpdatedAt,
	}
}

// TenantRepository implements the identity.TenantRepository interface
type TenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *gorm.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// Save persists a new tenant
func (r *TenantRepository) Save(ctx context.Context, tenant *identity.Tenant) error {
	model := TenantModelFromEntity(tenant)
	err := r.db.WithContext(ctx).Create(model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return shared.ErrAlreadyExists
	}
	return err
}

// Update persists changes to an existing tenant with an optimistic version
// check; a stale version fails with CONCURRENCY_CONFLICT
func (r *TenantRepository) Update(ctx context.Context, tenant *identity.Tenant) error {
	model := TenantModelFromEntity(tenant)
	result := r.db.WithContext(ctx).
		Model(&TenantModel{}).
		Where("id = ? AND version < ?", model.ID, model.Version).
		Select("*").
		Omit("created_at").
		Updates(model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return shared.ErrAlreadyExists
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// FindByID retrieves a tenant by ID, or nil when it does not exist
func (r *TenantRepository) FindByID(ctx context.Context, id uuid.UUID) (*identity.Tenant, error) {
	var model TenantModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindBySlug retrieves a tenant by slug, or nil when it does not exist
func (r *TenantRepository) FindBySlug(ctx context.Context, slug string) (*identity.Tenant, error) {
	var model TenantModel
	if err := r.db.WithContext(ctx).First(&model, "slug = ?", slug).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// List returns a page of tenants, optionally filtered by status, along with
// the total count for the filter
func (r *TenantRepository) List(ctx context.Context, status *identity.TenantStatus, page, pageSize int) ([]*identity.Tenant, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	query := r.db.WithContext(ctx).Model(&TenantModel{})
	if status != nil {
		query = query.Where("status = ?", string(*status))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []TenantModel
	err := query.
		Order("created_at desc").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	tenants := make([]*identity.Tenant, len(models))
	for i, model := range models {
		tenants[i] = model.ToEntity()
	}
	return tenants, total, nil
}

// Ensure TenantRepository implements the interface
var _ identity.TenantRepository = (*TenantRepository)(nil)
