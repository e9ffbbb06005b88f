package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/saaskit/backend/internal/domain/subscription"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PlanPriceModel is the GORM model for plan price points
type PlanPriceModel struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	PlanID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	Period    string          `gorm:"type:varchar(20);not null"`
	Amount    decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	Currency  string          `gorm:"type:varchar(3);not null"`
	Active    bool            `gorm:"not null;default:true"`
	CreatedAt time.Time       `gorm:"not null"`
	UpdatedAt time.Time       `gorm:"not null"`
}

// TableName returns the table name for the model
func (PlanPriceModel) TableName() string {
	return "plan_prices"
}

// ToEntity converts the model to a domain entity
func (m *PlanPriceModel) ToEntity() *subscription.PlanPrice {
	return &subscription.PlanPrice{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		PlanID:   m.PlanID,
		Period:   subscription.BillingPeriod(m.Period),
		Amount:   m.Amount,
		Currency: m.Currency,
		Active:   m.Active,
	}
}

// PlanPriceModelFromEntity creates a model from a domain entity
func PlanPriceModelFromEntity(e *subscription.PlanPrice) *PlanPriceModel {
	return &PlanPriceModel{
		ID:        e.ID,
		PlanID:    e.PlanID,
		Period:    string(e.Period),
		Amount:    e.Amount,
		Currency:  e.Currency,
		Active:    e.Active,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

// PlanPriceRepository implements the subscription.PlanPriceRepository interface
type PlanPriceRepository struct {
	db *gorm.DB
}

// NewPlanPriceRepository creates a new plan price repository
func NewPlanPriceRepository(db *gorm.DB) *PlanPriceRepository {
	return &PlanPriceRepository{db: db}
}

// Save creates or updates a price point
func (r *PlanPriceRepository) Save(ctx context.Context, price *subscription.PlanPrice) error {
	model := PlanPriceModelFromEntity(price)
	return r.db.WithContext(ctx).Save(model).Error
}

// FindByID retrieves a price point by ID, or nil when it does not exist
func (r *PlanPriceRepository) FindByID(ctx context.Context, id uuid.UUID) (*subscription.PlanPrice, error) {
	var model PlanPriceModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// PricesOf returns the plan's price points
func (r *PlanPriceRepository) PricesOf(ctx context.Context, planID uuid.UUID) ([]*subscription.PlanPrice, error) {
	var models []PlanPriceModel
	err := r.db.WithContext(ctx).
		Where("plan_id = ?", planID).
		Order("created_at asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	prices := make([]*subscription.PlanPrice, len(models))
	for i, model := range models {
		prices[i] = model.ToEntity()
	}
	return prices, nil
}

// Ensure PlanPriceRepository implements the interface
var _ subscription.PlanPriceRepository = (*PlanPriceRepository)(nil)
