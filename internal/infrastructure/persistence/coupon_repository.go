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

// CouponModel is the GORM model for coupons
type CouponModel struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Code           string          `gorm:"type:varchar(50);uniqueIndex;not null"`
	Type           string          `gorm:"type:varchar(20);not null"`
	Value          decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	Currency       string          `gorm:"type:varchar(3)"`
	Duration       string          `gorm:"type:varchar(20);not null"`
	DurationMonths int             `gorm:"not null;default:0"`
	MaxRedemptions *int
	RedeemBy       *time.Time
	TimesRedeemed  int       `gorm:"not null;default:0"`
	Active         bool      `gorm:"not null;default:true"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for the model
func (CouponModel) TableName() string {
	return "coupons"
}

// ToEntity converts the model to a domain entity
func (m *CouponModel) ToEntity() *subscription.Coupon {
	return &subscription.Coupon{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		Code:           m.Code,
		Type:           subscription.DiscountType(m.Type),
		Value:          m.Value,
		Currency:       m.Currency,
		Duration:       subscription.CouponDuration(m.Duration),
		DurationMonths: m.DurationMonths,
		MaxRedemptions: m.MaxRedemptions,
		RedeemBy:       m.RedeemBy,
		TimesRedeemed:  m.TimesRedeemed,
		Active:         m.Active,
	}
}

// CouponModelFromEntity creates a model from a domain entity
func CouponModelFromEntity(e *subscription.Coupon) *CouponModel {
	return &CouponModel{
		ID:             e.ID,
		Code:           e.Code,
		Type:           string(e.Type),
		Value:          e.Value,
		Currency:       e.Currency,
		Duration:       string(e.Duration),
		DurationMonths: e.DurationMonths,
		MaxRedemptions: e.MaxRedemptions,
		RedeemBy:       e.RedeemBy,
		TimesRedeemed:  e.TimesRedeemed,
		Active:         e.Active,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

// DiscountModel is the GORM model for coupons applied to subscriptions
type DiscountModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID       uuid.UUID `gorm:"type:uuid;not null;index:idx_discounts_subscription"`
	SubscriptionID uuid.UUID `gorm:"type:uuid;not null;index:idx_discounts_subscription"`
	CouponID       uuid.UUID `gorm:"type:uuid;not null"`
	StartsAt       time.Time `gorm:"not null"`
	EndsAt         *time.Time
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for the model
func (DiscountModel) TableName() string {
	return "subscription_discounts"
}

// ToEntity converts the model to a domain entity
func (m *DiscountModel) ToEntity() *subscription.Discount {
	return &subscription.Discount{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		TenantID:       m.TenantID,
		SubscriptionID: m.SubscriptionID,
		CouponID:       m.CouponID,
		StartsAt:       m.StartsAt,
		EndsAt:         m.EndsAt,
	}
}

// DiscountModelFromEntity creates a model from a domain entity
func DiscountModelFromEntity(e *subscription.Discount) *DiscountModel {
	return &DiscountModel{
		ID:             e.ID,
		TenantID:       e.TenantID,
		SubscriptionID: e.SubscriptionID,
		CouponID:       e.CouponID,
		StartsAt:       e.StartsAt,
		EndsAt:         e.EndsAt,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

// CouponRepository implements the subscription.CouponRepository interface
type CouponRepository struct {
	db *gorm.DB
}

// NewCouponRepository creates a new coupon repository
func NewCouponRepository(db *gorm.DB) *CouponRepository {
	return &CouponRepository{db: db}
}

// Save creates or updates a coupon
func (r *CouponRepository) Save(ctx context.Context, coupon *subscription.Coupon) error {
	model := CouponModelFromEntity(coupon)
	err := r.db.WithContext(ctx).Save(model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return shared.ErrAlreadyExists
	}
	return err
}

// FindByID retrieves a coupon by ID, or nil when it does not exist
func (r *CouponRepository) FindByID(ctx context.Context, id uuid.UUID) (*subscription.Coupon, error) {
	var model CouponModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindByCode retrieves a coupon by code, or nil when it does not exist
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*subscription.Coupon, error) {
	var model CouponModel
	if err := r.db.WithContext(ctx).First(&model, "code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// SaveDiscount attaches a redeemed coupon to a subscription
func (r *CouponRepository) SaveDiscount(ctx context.Context, discount *subscription.Discount) error {
	model := DiscountModelFromEntity(discount)
	return r.db.WithContext(ctx).Create(model).Error
}

// DiscountsOf returns discounts in creation order, the order they apply at
// invoice build time
func (r *CouponRepository) DiscountsOf(ctx context.Context, tenantID, subscriptionID uuid.UUID) ([]*subscription.Discount, error) {
	var models []DiscountModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND subscription_id = ?", tenantID, subscriptionID).
		Order("created_at asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	discounts := make([]*subscription.Discount, len(models))
	for i, model := range models {
		discounts[i] = model.ToEntity()
	}
	return discounts, nil
}

// Ensure CouponRepository implements the interface
var _ subscription.CouponRepository = (*CouponRepository)(nil)
