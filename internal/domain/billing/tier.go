package billing

import (
	"sort"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Rounding precision for billing arithmetic. Unit quantities and per-unit
// math carry six decimals; currency amounts are rounded half-up to two.
const (
	QuantityPrecision = 6
	CurrencyPrecision = 2
)

// FeatureTier is one bracket of a metered feature's price schedule under a
// specific plan price. UpTo is the cumulative usage ceiling of the bracket;
// a nil UpTo marks the final, unbounded tier.
type FeatureTier struct {
	shared.BaseEntity
	FeatureID   uuid.UUID
	PlanPriceID uuid.UUID
	UpTo        *decimal.Decimal
	UnitPrice   decimal.Decimal
	FlatFee     decimal.Decimal
	Currency    string
}

// NewFeatureTier creates a tier with validation
func NewFeatureTier(featureID, planPriceID uuid.UUID, upTo *decimal.Decimal, unitPrice, flatFee decimal.Decimal, currency string) (*FeatureTier, error) {
	if featureID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_FEATURE", "Feature ID cannot be empty")
	}
	if planPriceID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_PLAN_PRICE", "Plan price ID cannot be empty")
	}
	if upTo != nil && !upTo.IsPositive() {
		return nil, shared.NewDomainError("INVALID_TIER_CEILING", "Tier ceiling must be positive")
	}
	if unitPrice.IsNegative() {
		return nil, shared.NewDomainError("INVALID_UNIT_PRICE", "Unit price cannot be negative")
	}
	if flatFee.IsNegative() {
		return nil, shared.NewDomainError("INVALID_FLAT_FEE", "Flat fee cannot be negative")
	}
	if len(currency) != 3 {
		return nil, shared.NewDomainError("INVALID_CURRENCY", "Currency must be a 3-letter code")
	}
	return &FeatureTier{
		BaseEntity:  shared.NewBaseEntity(),
		FeatureID:   featureID,
		PlanPriceID: planPriceID,
		UpTo:        upTo,
		UnitPrice:   unitPrice,
		FlatFee:     flatFee,
		Currency:    currency,
	}, nil
}

// IsUnbounded returns true for the final tier with no ceiling
func (t *FeatureTier) IsUnbounded() bool {
	return t.UpTo == nil
}

// TierSchedule is the validated, ordered set of tiers for one
// (feature, plan price) pair. Construction enforces the configuration-time
// invariants: total order by ceiling, no gaps, no overlaps, unbounded tail
// only in last position. Resolution assumes a valid schedule and fails fast
// if the invariants do not hold.
type TierSchedule struct {
	tiers []*FeatureTier
}

// NewTierSchedule validates and orders the given tiers into a schedule
func NewTierSchedule(tiers []*FeatureTier) (*TierSchedule, error) {
	if len(tiers) == 0 {
		return nil, shared.ErrNoTierDefined
	}

	ordered := make([]*FeatureTier, len(tiers))
	copy(ordered, tiers)
	sort.SliceStable(ordered, func(i, j int) bool {
		// Unbounded tier sorts last
		if ordered[i].UpTo == nil {
			return false
		}
		if ordered[j].UpTo == nil {
			return true
		}
		return ordered[i].UpTo.LessThan(*ordered[j].UpTo)
	})

	for i, tier := range ordered {
		if tier.UpTo == nil && i != len(ordered)-1 {
			return nil, shared.NewDomainError("INVALID_TIER_SCHEDULE", "Only the last tier may be unbounded")
		}
		if i > 0 && tier.UpTo != nil && ordered[i-1].UpTo != nil && tier.UpTo.Equal(*ordered[i-1].UpTo) {
			return nil, shared.NewDomainError("TIER_OVERLAP", "Tiers overlap at the same ceiling")
		}
		if tier.FeatureID != ordered[0].FeatureID || tier.PlanPriceID != ordered[0].PlanPriceID {
			return nil, shared.NewDomainError("INVALID_TIER_SCHEDULE", "All tiers must belong to the same feature and plan price")
		}
		if tier.Currency != ordered[0].Currency {
			return nil, shared.NewDomainError("INVALID_TIER_SCHEDULE", "All tiers must share one currency")
		}
	}

	return &TierSchedule{tiers: ordered}, nil
}

// Tiers returns a copy of the ordered tiers
func (s *TierSchedule) Tiers() []*FeatureTier {
	out := make([]*FeatureTier, len(s.tiers))
	copy(out, s.tiers)
	return out
}

// Currency returns the schedule currency
func (s *TierSchedule) Currency() string {
	return s.tiers[0].Currency
}

// IsCapped returns true if the schedule has a finite ceiling
func (s *TierSchedule) IsCapped() bool {
	return s.tiers[len(s.tiers)-1].UpTo != nil
}

// TierBreakdown is one line of a resolution result: the tier applied, the
// units charged within it and the resulting subtotal. It is the snapshot
// persisted into invoice line items.
type TierBreakdown struct {
	TierID       uuid.UUID        `json:"tier_id"`
	UpTo         *decimal.Decimal `json:"up_to,omitempty"`
	UnitsCharged decimal.Decimal  `json:"units_charged"`
	UnitPrice    decimal.Decimal  `json:"unit_price"`
	FlatFee      decimal.Decimal  `json:"flat_fee"`
	Subtotal     decimal.Decimal  `json:"subtotal"`
}

// Resolve walks the schedule and prices quantity units of usage on top of
// cumulativeBefore units already consumed this period's cycle. It returns
// the total charge (currency precision) and one breakdown entry per tier
// that contributed units.
//
// The billable range within a tier is
// [max(cumulativeBefore, lower), min(cumulativeBefore+quantity, ceiling)),
// clamped to zero width. A tier's flat fee is charged once per resolution
// when the tier contributes units.
func (s *TierSchedule) Resolve(cumulativeBefore, quantity decimal.Decimal) (decimal.Decimal, []TierBreakdown, error) {
	if cumulativeBefore.IsNegative() {
		return decimal.Zero, nil, shared.NewDomainError("INVALID_QUANTITY", "Cumulative usage cannot be negative")
	}
	if quantity.IsNegative() {
		return decimal.Zero, nil, shared.NewDomainError("INVALID_QUANTITY", "Quantity cannot be negative")
	}
	if quantity.IsZero() {
		return decimal.Zero, nil, nil
	}

	end := cumulativeBefore.Add(quantity)
	lower := decimal.Zero
	charge := decimal.Zero
	var breakdown []TierBreakdown

	for _, tier := range s.tiers {
		var ceiling decimal.Decimal
		unbounded := tier.UpTo == nil
		if !unbounded {
			ceiling = *tier.UpTo
			if ceiling.LessThan(lower) {
				// Schedules are validated at configuration time; a ceiling
				// below the running lower bound means the input bypassed
				// validation. Fail fast.
				return decimal.Zero, nil, shared.ErrTierGap
			}
		}

		from := decimal.Max(cumulativeBefore, lower)
		to := end
		if !unbounded && ceiling.LessThan(to) {
			to = ceiling
		}

		units := to.Sub(from)
		if units.IsPositive() {
			units = units.Round(QuantityPrecision)
			subtotal := units.Mul(tier.UnitPrice).Round(QuantityPrecision)
			if tier.FlatFee.IsPositive() {
				subtotal = subtotal.Add(tier.FlatFee)
			}
			charge = charge.Add(subtotal)
			breakdown = append(breakdown, TierBreakdown{
				TierID:       tier.ID,
				UpTo:         tier.UpTo,
				UnitsCharged: units,
				UnitPrice:    tier.UnitPrice,
				FlatFee:      tier.FlatFee,
				Subtotal:     subtotal.Round(CurrencyPrecision),
			})
		}

		if unbounded {
			lower = end // nothing can lie beyond the unbounded tier
			break
		}
		lower = ceiling
		if !end.GreaterThan(ceiling) {
			break
		}
	}

	// Usage past the last bounded ceiling has no tier to price it
	if s.IsCapped() && end.GreaterThan(*s.tiers[len(s.tiers)-1].UpTo) {
		return decimal.Zero, nil, shared.ErrNoTierDefined
	}

	return charge.Round(CurrencyPrecision), breakdown, nil
}
