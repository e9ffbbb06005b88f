package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFeature(t *testing.T) {
	t.Run("valid metered feature", func(t *testing.T) {
		feature, err := NewFeature("api_calls", FeatureTypeMetered, ValueTypeInteger)
		require.NoError(t, err)
		assert.Equal(t, "api_calls", feature.Codename)
		assert.True(t, feature.IsMetered())
	})

	t.Run("boolean feature is not metered", func(t *testing.T) {
		feature, err := NewFeature("sso", FeatureTypeBoolean, ValueTypeBoolean)
		require.NoError(t, err)
		assert.False(t, feature.IsMetered())
	})

	t.Run("empty codename rejected", func(t *testing.T) {
		_, err := NewFeature("  ", FeatureTypeMetered, ValueTypeInteger)
		require.Error(t, err)
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		_, err := NewFeature("api_calls", FeatureType("weird"), ValueTypeInteger)
		require.Error(t, err)
	})

	t.Run("with description", func(t *testing.T) {
		feature, err := NewFeature("api_calls", FeatureTypeMetered, ValueTypeInteger)
		require.NoError(t, err)
		feature.WithDescription("Metered API invocations")
		assert.Equal(t, "Metered API invocations", feature.Description)
	})
}
