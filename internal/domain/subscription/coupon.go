package subscription

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// DiscountType distinguishes percentage from fixed-amount coupons
type DiscountType string

const (
	DiscountTypePercentage  DiscountType = "percentage"
	DiscountTypeFixedAmount DiscountType = "fixed_amount"
)

// CouponDuration controls how long a redeemed coupon keeps discounting
type CouponDuration string

const (
	CouponDurationOnce      CouponDuration = "once"
	CouponDurationRepeating CouponDuration = "repeating"
	CouponDurationForever   CouponDuration = "forever"
)

// Coupon is a redeemable discount definition
type Coupon struct {
	shared.BaseEntity
	Code           string
	Type           DiscountType
	// Value is a percentage in [0,100] for percentage coupons, a currency
	// amount for fixed-amount coupons
	Value          decimal.Decimal
	Currency       string // fixed-amount only
	Duration       CouponDuration
	DurationMonths int // repeating only
	MaxRedemptions *int
	RedeemBy       *time.Time
	TimesRedeemed  int
	Active         bool
}

// NewCoupon creates a coupon with validation
func NewCoupon(code string, discountType DiscountType, value decimal.Decimal, duration CouponDuration) (*Coupon, error) {
	code = strings.TrimSpace(strings.ToUpper(code))
	if code == "" {
		return nil, shared.NewDomainError("INVALID_COUPON_CODE", "Coupon code cannot be empty")
	}
	switch discountType {
	case DiscountTypePercentage:
		if value.IsNegative() || value.GreaterThan(decimal.NewFromInt(100)) {
			return nil, shared.NewDomainError("INVALID_COUPON_VALUE", "Percentage must be between 0 and 100")
		}
	case DiscountTypeFixedAmount:
		if !value.IsPositive() {
			return nil, shared.NewDomainError("INVALID_COUPON_VALUE", "Fixed amount must be positive")
		}
	default:
		return nil, shared.NewDomainError("INVALID_DISCOUNT_TYPE", "Unknown discount type")
	}
	switch duration {
	case CouponDurationOnce, CouponDurationRepeating, CouponDurationForever:
	default:
		return nil, shared.NewDomainError("INVALID_COUPON_DURATION", "Unknown coupon duration")
	}
	return &Coupon{
		BaseEntity: shared.NewBaseEntity(),
		Code:       code,
		Type:       discountType,
		Value:      value,
		Duration:   duration,
		Active:     true,
	}, nil
}

// WithRepeatingMonths sets the month count for repeating coupons
func (c *Coupon) WithRepeatingMonths(months int) (*Coupon, error) {
	if c.Duration != CouponDurationRepeating {
		return nil, shared.NewDomainError("INVALID_COUPON_DURATION", "Months apply to repeating coupons only")
	}
	if months <= 0 {
		return nil, shared.NewDomainError("INVALID_COUPON_DURATION", "Months must be positive")
	}
	c.DurationMonths = months
	return c, nil
}

// WithLimits sets redemption cap and expiry
func (c *Coupon) WithLimits(maxRedemptions *int, redeemBy *time.Time) *Coupon {
	c.MaxRedemptions = maxRedemptions
	c.RedeemBy = redeemBy
	return c
}

// CanRedeem validates redeemability at the given time, before any mutation
func (c *Coupon) CanRedeem(at time.Time) error {
	if !c.Active {
		return shared.NewDomainError("COUPON_INACTIVE", "Coupon is no longer active")
	}
	if c.RedeemBy != nil && at.After(*c.RedeemBy) {
		return shared.NewDomainError("COUPON_EXPIRED", "Coupon redemption window has closed")
	}
	if c.MaxRedemptions != nil && c.TimesRedeemed >= *c.MaxRedemptions {
		return shared.NewDomainError("COUPON_EXHAUSTED", "Coupon redemption limit reached")
	}
	return nil
}

// Redeem increments the redemption counter after CanRedeem passes
func (c *Coupon) Redeem(at time.Time) error {
	if err := c.CanRedeem(at); err != nil {
		return err
	}
	c.TimesRedeemed++
	c.Touch()
	return nil
}

// DiscountFor computes the discount against a pre-discount subtotal.
// Percentage discounts apply to the subtotal; fixed amounts are clamped so
// the discounted total never goes below zero.
func (c *Coupon) DiscountFor(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.IsNegative() || subtotal.IsZero() {
		return decimal.Zero
	}
	var discount decimal.Decimal
	switch c.Type {
	case DiscountTypePercentage:
		discount = subtotal.Mul(c.Value).Div(decimal.NewFromInt(100)).Round(2)
	case DiscountTypeFixedAmount:
		discount = c.Value.Round(2)
	}
	if discount.GreaterThan(subtotal) {
		return subtotal
	}
	return discount
}

// Discount is a coupon applied to a subscription. Amounts are snapshotted
// into invoice line items at build time; removing the discount later never
// rewrites issued invoices.
type Discount struct {
	shared.BaseEntity
	TenantID       uuid.UUID
	SubscriptionID uuid.UUID
	CouponID       uuid.UUID
	StartsAt       time.Time
	EndsAt         *time.Time // nil for forever
}

// NewDiscount attaches a redeemed coupon to a subscription
func NewDiscount(tenantID, subscriptionID uuid.UUID, coupon *Coupon, at time.Time) (*Discount, error) {
	if tenantID == uuid.Nil {
		return nil, shared.ErrMissingTenantContext
	}
	if subscriptionID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_SUBSCRIPTION", "Subscription ID cannot be empty")
	}
	discount := &Discount{
		BaseEntity:     shared.NewBaseEntity(),
		TenantID:       tenantID,
		SubscriptionID: subscriptionID,
		CouponID:       coupon.ID,
		StartsAt:       at,
	}
	switch coupon.Duration {
	case CouponDurationOnce:
		end := at
		discount.EndsAt = &end
	case CouponDurationRepeating:
		end := at.AddDate(0, coupon.DurationMonths, 0)
		discount.EndsAt = &end
	}
	return discount, nil
}

// CoversPeriod returns true if the discount applies to an invoice for the
// given period start
func (d *Discount) CoversPeriod(periodStart time.Time) bool {
	if periodStart.Before(d.StartsAt) {
		return false
	}
	if d.EndsAt == nil {
		return true
	}
	return !periodStart.After(*d.EndsAt)
}
