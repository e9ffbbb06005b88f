package tax

import (
	"fmt"

	"github.com/saaskit/backend/internal/domain/invoicing"
	"github.com/saaskit/backend/internal/infrastructure/config"
	"github.com/shopspring/decimal"
)

// FlatRatePolicy taxes the discounted subtotal at a single flat rate. The
// amount is rounded half-up to currency precision.
type FlatRatePolicy struct {
	rate        decimal.Decimal
	description string
}

// NewFlatRatePolicy creates a flat-rate tax policy. The rate is a fraction,
// e.g. 0.08 for 8%.
func NewFlatRatePolicy(rate decimal.Decimal, description string) *FlatRatePolicy {
	return &FlatRatePolicy{rate: rate, description: description}
}

// TaxFor computes the tax owed on the taxable amount
func (p *FlatRatePolicy) TaxFor(taxableAmount decimal.Decimal, currency string) (decimal.Decimal, string) {
	return taxableAmount.Mul(p.rate).Round(2), p.description
}

// NewPolicyFromConfig builds the configured tax policy. An empty or zero rate
// means no tax: it returns a nil policy, which the invoice builder treats as
// tax-exempt.
func NewPolicyFromConfig(cfg config.TaxConfig) (invoicing.TaxPolicy, error) {
	if cfg.Rate == "" {
		return nil, nil
	}
	rate, err := decimal.NewFromString(cfg.Rate)
	if err != nil {
		return nil, fmt.Errorf("invalid tax.rate %q: %w", cfg.Rate, err)
	}
	if rate.IsNegative() {
		return nil, fmt.Errorf("tax.rate cannot be negative: %s", cfg.Rate)
	}
	if rate.IsZero() {
		return nil, nil
	}
	return NewFlatRatePolicy(rate, cfg.Description), nil
}
