package billing

import (
	"testing"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTier(t *testing.T, featureID, planPriceID uuid.UUID, upTo string, unitPrice, flatFee string) *FeatureTier {
	t.Helper()
	var ceiling *decimal.Decimal
	if upTo != "" {
		v := decimal.RequireFromString(upTo)
		ceiling = &v
	}
	tier, err := NewFeatureTier(featureID, planPriceID,
		ceiling,
		decimal.RequireFromString(unitPrice),
		decimal.RequireFromString(flatFee),
		"USD")
	require.NoError(t, err)
	return tier
}

func mustSchedule(t *testing.T, tiers ...*FeatureTier) *TierSchedule {
	t.Helper()
	schedule, err := NewTierSchedule(tiers)
	require.NoError(t, err)
	return schedule
}

func TestNewFeatureTier(t *testing.T) {
	featureID := uuid.New()
	priceID := uuid.New()

	t.Run("valid tier", func(t *testing.T) {
		ceiling := decimal.NewFromInt(1000)
		tier, err := NewFeatureTier(featureID, priceID, &ceiling, decimal.RequireFromString("0.01"), decimal.Zero, "USD")
		require.NoError(t, err)
		assert.False(t, tier.IsUnbounded())
		assert.Equal(t, "USD", tier.Currency)
	})

	t.Run("unbounded tier", func(t *testing.T) {
		tier, err := NewFeatureTier(featureID, priceID, nil, decimal.RequireFromString("0.005"), decimal.Zero, "USD")
		require.NoError(t, err)
		assert.True(t, tier.IsUnbounded())
	})

	t.Run("negative unit price rejected", func(t *testing.T) {
		_, err := NewFeatureTier(featureID, priceID, nil, decimal.RequireFromString("-0.01"), decimal.Zero, "USD")
		require.Error(t, err)
		assert.Equal(t, "INVALID_UNIT_PRICE", err.(*shared.DomainError).Code)
	})

	t.Run("bad currency rejected", func(t *testing.T) {
		_, err := NewFeatureTier(featureID, priceID, nil, decimal.Zero, decimal.Zero, "US")
		require.Error(t, err)
	})
}

func TestNewTierSchedule(t *testing.T) {
	featureID := uuid.New()
	priceID := uuid.New()

	t.Run("empty schedule", func(t *testing.T) {
		_, err := NewTierSchedule(nil)
		assert.ErrorIs(t, err, shared.ErrNoTierDefined)
	})

	t.Run("orders tiers by ceiling", func(t *testing.T) {
		schedule := mustSchedule(t,
			mustTier(t, featureID, priceID, "", "0.005", "0"),
			mustTier(t, featureID, priceID, "1000", "0.01", "0"),
			mustTier(t, featureID, priceID, "100", "0.02", "0"),
		)
		tiers := schedule.Tiers()
		require.Len(t, tiers, 3)
		assert.True(t, tiers[0].UpTo.Equal(decimal.NewFromInt(100)))
		assert.True(t, tiers[1].UpTo.Equal(decimal.NewFromInt(1000)))
		assert.True(t, tiers[2].IsUnbounded())
		assert.False(t, schedule.IsCapped())
	})

	t.Run("duplicate ceiling is overlap", func(t *testing.T) {
		_, err := NewTierSchedule([]*FeatureTier{
			mustTier(t, featureID, priceID, "1000", "0.01", "0"),
			mustTier(t, featureID, priceID, "1000", "0.02", "0"),
		})
		require.Error(t, err)
		assert.Equal(t, "TIER_OVERLAP", err.(*shared.DomainError).Code)
	})

	t.Run("two unbounded tiers rejected", func(t *testing.T) {
		_, err := NewTierSchedule([]*FeatureTier{
			mustTier(t, featureID, priceID, "", "0.01", "0"),
			mustTier(t, featureID, priceID, "", "0.02", "0"),
		})
		require.Error(t, err)
	})

	t.Run("mixed feature rejected", func(t *testing.T) {
		_, err := NewTierSchedule([]*FeatureTier{
			mustTier(t, featureID, priceID, "1000", "0.01", "0"),
			mustTier(t, uuid.New(), priceID, "", "0.005", "0"),
		})
		require.Error(t, err)
	})
}

func TestTierScheduleResolve(t *testing.T) {
	featureID := uuid.New()
	priceID := uuid.New()

	// 0.01/unit up to 1000 cumulative units, 0.005/unit beyond
	schedule := mustSchedule(t,
		mustTier(t, featureID, priceID, "1000", "0.01", "0"),
		mustTier(t, featureID, priceID, "", "0.005", "0"),
	)

	t.Run("spans the tier boundary", func(t *testing.T) {
		// 800 units already consumed, 500 new: 200 at 0.01 + 300 at 0.005
		charge, breakdown, err := schedule.Resolve(decimal.NewFromInt(800), decimal.NewFromInt(500))
		require.NoError(t, err)
		assert.True(t, charge.Equal(decimal.RequireFromString("3.50")), "got %s", charge)
		require.Len(t, breakdown, 2)
		assert.True(t, breakdown[0].UnitsCharged.Equal(decimal.NewFromInt(200)))
		assert.True(t, breakdown[0].Subtotal.Equal(decimal.RequireFromString("2.00")))
		assert.True(t, breakdown[1].UnitsCharged.Equal(decimal.NewFromInt(300)))
		assert.True(t, breakdown[1].Subtotal.Equal(decimal.RequireFromString("1.50")))
	})

	t.Run("entirely inside the first tier", func(t *testing.T) {
		charge, breakdown, err := schedule.Resolve(decimal.Zero, decimal.NewFromInt(100))
		require.NoError(t, err)
		assert.True(t, charge.Equal(decimal.NewFromInt(1)))
		require.Len(t, breakdown, 1)
	})

	t.Run("entirely inside the unbounded tier", func(t *testing.T) {
		charge, breakdown, err := schedule.Resolve(decimal.NewFromInt(2000), decimal.NewFromInt(1000))
		require.NoError(t, err)
		assert.True(t, charge.Equal(decimal.NewFromInt(5)))
		require.Len(t, breakdown, 1)
		assert.Nil(t, breakdown[0].UpTo)
	})

	t.Run("zero quantity is free", func(t *testing.T) {
		charge, breakdown, err := schedule.Resolve(decimal.NewFromInt(800), decimal.Zero)
		require.NoError(t, err)
		assert.True(t, charge.IsZero())
		assert.Nil(t, breakdown)
	})

	t.Run("fractional quantities round half-up to currency", func(t *testing.T) {
		// 0.5 units at 0.01 = 0.005 → 0.01
		charge, _, err := schedule.Resolve(decimal.Zero, decimal.RequireFromString("0.5"))
		require.NoError(t, err)
		assert.True(t, charge.Equal(decimal.RequireFromString("0.01")), "got %s", charge)
	})

	t.Run("negative quantity rejected", func(t *testing.T) {
		_, _, err := schedule.Resolve(decimal.Zero, decimal.NewFromInt(-1))
		require.Error(t, err)
	})
}

func TestTierScheduleResolveFlatFee(t *testing.T) {
	featureID := uuid.New()
	priceID := uuid.New()

	schedule := mustSchedule(t,
		mustTier(t, featureID, priceID, "100", "0.10", "5.00"),
		mustTier(t, featureID, priceID, "", "0.05", "2.00"),
	)

	t.Run("flat fee charged once per contributing tier", func(t *testing.T) {
		// 50 units in tier 1 only: 50*0.10 + 5.00
		charge, breakdown, err := schedule.Resolve(decimal.Zero, decimal.NewFromInt(50))
		require.NoError(t, err)
		assert.True(t, charge.Equal(decimal.RequireFromString("10.00")), "got %s", charge)
		require.Len(t, breakdown, 1)
	})

	t.Run("both tiers contribute their flat fee", func(t *testing.T) {
		// 100*0.10+5.00 + 100*0.05+2.00 = 22.00
		charge, breakdown, err := schedule.Resolve(decimal.Zero, decimal.NewFromInt(200))
		require.NoError(t, err)
		assert.True(t, charge.Equal(decimal.RequireFromString("22.00")), "got %s", charge)
		require.Len(t, breakdown, 2)
	})

	t.Run("skipped tier charges no flat fee", func(t *testing.T) {
		// usage starts beyond tier 1, only tier 2 contributes
		charge, breakdown, err := schedule.Resolve(decimal.NewFromInt(100), decimal.NewFromInt(10))
		require.NoError(t, err)
		assert.True(t, charge.Equal(decimal.RequireFromString("2.50")), "got %s", charge)
		require.Len(t, breakdown, 1)
	})
}

func TestTierScheduleResolveCapped(t *testing.T) {
	featureID := uuid.New()
	priceID := uuid.New()

	schedule := mustSchedule(t,
		mustTier(t, featureID, priceID, "1000", "0.01", "0"),
	)
	assert.True(t, schedule.IsCapped())

	t.Run("within cap", func(t *testing.T) {
		charge, _, err := schedule.Resolve(decimal.NewFromInt(500), decimal.NewFromInt(500))
		require.NoError(t, err)
		assert.True(t, charge.Equal(decimal.NewFromInt(5)))
	})

	t.Run("usage past the cap has no tier", func(t *testing.T) {
		_, _, err := schedule.Resolve(decimal.NewFromInt(800), decimal.NewFromInt(500))
		assert.ErrorIs(t, err, shared.ErrNoTierDefined)
	})
}

// Charges must never decrease as quantity grows: recording more usage can
// never make the bill smaller.
func TestTierScheduleResolveMonotonic(t *testing.T) {
	featureID := uuid.New()
	priceID := uuid.New()

	schedule := mustSchedule(t,
		mustTier(t, featureID, priceID, "100", "0.02", "1.00"),
		mustTier(t, featureID, priceID, "1000", "0.01", "0"),
		mustTier(t, featureID, priceID, "", "0.005", "0"),
	)

	before := decimal.NewFromInt(37)
	prev := decimal.Zero
	for q := int64(0); q <= 2000; q += 13 {
		charge, _, err := schedule.Resolve(before, decimal.NewFromInt(q))
		require.NoError(t, err)
		assert.True(t, charge.GreaterThanOrEqual(prev),
			"charge decreased at quantity %d: %s < %s", q, charge, prev)
		prev = charge
	}
}
