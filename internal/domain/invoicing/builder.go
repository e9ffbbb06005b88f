package invoicing

import (
	"fmt"
	"time"

	"github.com/saaskit/backend/internal/domain/billing"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/saaskit/backend/internal/domain/subscription"
	"github.com/shopspring/decimal"
)

// TaxPolicy computes the tax owed on the discounted subtotal. Implementations
// live in the infrastructure layer (flat rate, zero rate, external engines).
type TaxPolicy interface {
	TaxFor(taxableAmount decimal.Decimal, currency string) (amount decimal.Decimal, description string)
}

// UsageCharge is the priced usage of one metered feature over the invoice
// period: the aggregation result plus the tier schedule and cumulative
// position needed to resolve it.
type UsageCharge struct {
	Feature          *billing.Feature
	Schedule         *billing.TierSchedule
	Aggregated       *billing.AggregatedUsage
	CumulativeBefore decimal.Decimal
}

// AppliedDiscount pairs a subscription discount with its coupon definition
type AppliedDiscount struct {
	Discount *subscription.Discount
	Coupon   *subscription.Coupon
}

// BuildInput carries everything the builder needs, pre-loaded by the caller.
// The builder itself touches no repositories: it either produces a complete
// draft invoice or fails with no partial result.
type BuildInput struct {
	Subscription    *subscription.Subscription
	Price           *subscription.PlanPrice
	PlanName        string
	UsageCharges    []UsageCharge
	Discounts       []AppliedDiscount
	TaxPolicy       TaxPolicy
	AvailableCredit decimal.Decimal
}

// BuildResult is the draft invoice plus the credit the caller must debit
// from the ledger if it persists the invoice.
type BuildResult struct {
	Invoice       *Invoice
	CreditApplied decimal.Decimal
}

// Builder assembles draft invoices. Assembly is deterministic: the same
// input always yields the same totals.
type Builder struct{}

// NewBuilder creates an invoice builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Build assembles the draft invoice for the subscription's current period:
//
//  1. prorated subscription base fee
//  2. one usage line per tier that contributed units, per metered feature
//  3. discounts in creation order, clamped so they never exceed the subtotal
//  4. tax on the discounted subtotal
//  5. totals
//  6. optional credit application (partial allowed)
func (b *Builder) Build(input BuildInput) (*BuildResult, error) {
	sub := input.Subscription
	price := input.Price
	if sub == nil || price == nil {
		return nil, shared.NewDomainError("INVALID_BUILD_INPUT", "Subscription and price are required")
	}
	if price.ID != sub.PlanPriceID {
		return nil, shared.NewDomainError("INVALID_BUILD_INPUT", "Price does not match the subscription")
	}

	invoice, err := NewInvoice(sub.TenantID, sub.ID, price.Currency, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	if err != nil {
		return nil, err
	}

	if err := b.addSubscriptionLine(invoice, sub, price, input.PlanName); err != nil {
		return nil, err
	}
	for _, charge := range input.UsageCharges {
		if err := b.addUsageLines(invoice, charge); err != nil {
			return nil, err
		}
	}
	if err := b.addDiscountLines(invoice, input.Discounts); err != nil {
		return nil, err
	}
	if err := b.addTaxLine(invoice, input.TaxPolicy); err != nil {
		return nil, err
	}

	creditApplied, err := b.applyCredit(invoice, input.AvailableCredit)
	if err != nil {
		return nil, err
	}

	return &BuildResult{Invoice: invoice, CreditApplied: creditApplied}, nil
}

// addSubscriptionLine prices the recurring base fee, prorated by the days
// the subscription was active inside the period: flat * overlap / full.
func (b *Builder) addSubscriptionLine(invoice *Invoice, sub *subscription.Subscription, price *subscription.PlanPrice, planName string) error {
	if price.Amount.IsZero() {
		return nil
	}

	fullDays := daysBetween(sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	if fullDays <= 0 {
		return shared.NewDomainError("INVALID_PERIOD", "Billing period must span at least one day")
	}

	// Mid-period activation prorates the base fee; activation outside the
	// period bounds means the whole period is billable.
	serviceStart := sub.CurrentPeriodStart
	if sub.StartedAt != nil && sub.StartedAt.After(serviceStart) && sub.StartedAt.Before(sub.CurrentPeriodEnd) {
		serviceStart = *sub.StartedAt
	}
	overlapDays := daysBetween(serviceStart, sub.CurrentPeriodEnd)
	if overlapDays > fullDays {
		overlapDays = fullDays
	}

	amount := price.Amount
	description := fmt.Sprintf("%s (%s)", planName, price.Period)
	if overlapDays < fullDays {
		amount = price.Amount.
			Mul(decimal.NewFromInt(int64(overlapDays))).
			Div(decimal.NewFromInt(int64(fullDays))).
			Round(billing.CurrencyPrecision)
		description = fmt.Sprintf("%s (%s, prorated %d/%d days)", planName, price.Period, overlapDays, fullDays)
	}

	line, err := NewLineItem(LineItemTypeSubscription, description, decimal.NewFromInt(1), amount, amount, price.Currency)
	if err != nil {
		return err
	}
	line.WithPeriod(serviceStart, sub.CurrentPeriodEnd)
	return invoice.AddLineItem(line)
}

// addUsageLines resolves one feature's aggregated usage through its tier
// schedule and emits one line per contributing tier.
func (b *Builder) addUsageLines(invoice *Invoice, charge UsageCharge) error {
	if charge.Feature == nil || charge.Schedule == nil || charge.Aggregated == nil {
		return shared.NewDomainError("INVALID_BUILD_INPUT", "Usage charge is missing feature, schedule or aggregation")
	}
	if charge.Aggregated.IsEmpty() {
		return nil
	}
	if charge.Schedule.Currency() != invoice.Currency {
		return shared.NewDomainError("CURRENCY_MISMATCH", "Tier schedule currency does not match the invoice")
	}

	_, breakdown, err := charge.Schedule.Resolve(charge.CumulativeBefore, charge.Aggregated.QuantityTotal)
	if err != nil {
		return err
	}

	for _, tier := range breakdown {
		var description string
		if tier.UpTo != nil {
			description = fmt.Sprintf("%s usage (up to %s)", charge.Feature.Codename, tier.UpTo)
		} else {
			description = fmt.Sprintf("%s usage (final tier)", charge.Feature.Codename)
		}
		line, err := NewLineItem(LineItemTypeUsage, description, tier.UnitsCharged, tier.UnitPrice, tier.Subtotal, invoice.Currency)
		if err != nil {
			return err
		}
		line.WithPeriod(charge.Aggregated.PeriodStart, charge.Aggregated.PeriodEnd)
		line.WithUsage(charge.Feature.ID, tier, charge.Aggregated.RecordIDs)
		if err := invoice.AddLineItem(line); err != nil {
			return err
		}
	}
	return nil
}

// addDiscountLines applies discounts in creation order. Percentage coupons
// are computed against the pre-discount subtotal; the accumulated discount
// is clamped so the discounted subtotal never goes below zero.
func (b *Builder) addDiscountLines(invoice *Invoice, discounts []AppliedDiscount) error {
	if len(discounts) == 0 {
		return nil
	}

	preDiscountSubtotal := invoice.Subtotal
	remaining := preDiscountSubtotal

	for _, applied := range discounts {
		if applied.Coupon == nil || applied.Discount == nil {
			return shared.NewDomainError("INVALID_BUILD_INPUT", "Discount is missing its coupon")
		}
		if !applied.Discount.CoversPeriod(invoice.PeriodStart) {
			continue
		}
		if remaining.IsZero() {
			break
		}

		discount := applied.Coupon.DiscountFor(preDiscountSubtotal)
		if discount.GreaterThan(remaining) {
			discount = remaining
		}
		if discount.IsZero() {
			continue
		}

		line, err := NewLineItem(LineItemTypeDiscount,
			fmt.Sprintf("Coupon %s", applied.Coupon.Code),
			decimal.NewFromInt(1), discount.Neg(), discount.Neg(), invoice.Currency)
		if err != nil {
			return err
		}
		if err := invoice.AddLineItem(line); err != nil {
			return err
		}
		remaining = remaining.Sub(discount)
	}
	return nil
}

// addTaxLine applies the pluggable tax policy to the discounted subtotal
func (b *Builder) addTaxLine(invoice *Invoice, policy TaxPolicy) error {
	if policy == nil {
		return nil
	}
	taxable := invoice.Subtotal.Sub(invoice.DiscountTotal)
	if !taxable.IsPositive() {
		return nil
	}
	amount, description := policy.TaxFor(taxable, invoice.Currency)
	if !amount.IsPositive() {
		return nil
	}
	line, err := NewLineItem(LineItemTypeTax, description, decimal.NewFromInt(1), amount, amount, invoice.Currency)
	if err != nil {
		return err
	}
	return invoice.AddLineItem(line)
}

// applyCredit settles part (or all) of the amount due from the tenant's
// credit balance and returns the amount the caller must debit from the
// ledger alongside persisting the invoice.
func (b *Builder) applyCredit(invoice *Invoice, available decimal.Decimal) (decimal.Decimal, error) {
	if !available.IsPositive() || !invoice.AmountDue.IsPositive() {
		return decimal.Zero, nil
	}
	applied := decimal.Min(available, invoice.AmountDue)
	line, err := NewLineItem(LineItemTypeCredit, "Credit balance applied",
		decimal.NewFromInt(1), applied.Neg(), applied.Neg(), invoice.Currency)
	if err != nil {
		return decimal.Zero, err
	}
	if err := invoice.AddLineItem(line); err != nil {
		return decimal.Zero, err
	}
	return applied, nil
}

// daysBetween counts whole days from start to end, rounding partial days up
// so a period is never prorated below its real coverage.
func daysBetween(start, end time.Time) int {
	if !end.After(start) {
		return 0
	}
	hours := end.Sub(start).Hours()
	days := int(hours / 24)
	if hours > float64(days*24) {
		days++
	}
	return days
}
