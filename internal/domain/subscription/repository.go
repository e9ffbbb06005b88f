package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PlanRepository provides access to plans and their feature bindings
type PlanRepository interface {
	Save(ctx context.Context, plan *Plan) error
	FindByID(ctx context.Context, id uuid.UUID) (*Plan, error)
	FindBySlug(ctx context.Context, slug string) (*Plan, error)
	ListActive(ctx context.Context) ([]*Plan, error)
	SaveFeature(ctx context.Context, feature *PlanFeature) error
	FeaturesOf(ctx context.Context, planID uuid.UUID) ([]*PlanFeature, error)
}

// PlanPriceRepository provides access to plan price points
type PlanPriceRepository interface {
	Save(ctx context.Context, price *PlanPrice) error
	FindByID(ctx context.Context, id uuid.UUID) (*PlanPrice, error)
	PricesOf(ctx context.Context, planID uuid.UUID) ([]*PlanPrice, error)
}

// SubscriptionRepository provides tenant-scoped subscription access
type SubscriptionRepository interface {
	Save(ctx context.Context, sub *Subscription) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Subscription, error)
	FindCurrent(ctx context.Context, tenantID uuid.UUID, at time.Time) (*Subscription, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*Subscription, error)
	SaveEvent(ctx context.Context, event *Event) error
	EventsOf(ctx context.Context, tenantID, subscriptionID uuid.UUID) ([]*Event, error)
}

// CouponRepository provides access to coupons and applied discounts
type CouponRepository interface {
	Save(ctx context.Context, coupon *Coupon) error
	FindByID(ctx context.Context, id uuid.UUID) (*Coupon, error)
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	SaveDiscount(ctx context.Context, discount *Discount) error
	// DiscountsOf returns discounts in creation order, the order they apply
	// at invoice build time
	DiscountsOf(ctx context.Context, tenantID, subscriptionID uuid.UUID) ([]*Discount, error)
}
