package integration

import (
	"net/http"
	"testing"

	"github.com/saaskit/backend/internal/domain/identity"
	"github.com/saaskit/backend/internal/interfaces/http/handler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogLifecycle(t *testing.T) {
	server := NewTestServer(t)
	admin := server.Bootstrap("acme", identity.RoleBilling)

	var feature handler.FeatureResponse
	w := server.Do("POST", "/api/v1/catalog/features", admin.Token, map[string]string{
		"codename":    "api_calls",
		"description": "Metered API requests",
		"type":        "metered",
		"value_type":  "integer",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	server.Decode(w, &feature)
	assert.Equal(t, "api_calls", feature.Codename)

	t.Run("duplicate codename conflicts", func(t *testing.T) {
		w := server.Do("POST", "/api/v1/catalog/features", admin.Token, map[string]string{
			"codename": "api_calls", "type": "metered", "value_type": "integer",
		})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	var plan handler.PlanResponse
	w = server.Do("POST", "/api/v1/catalog/plans", admin.Token, map[string]string{
		"name": "Pro", "slug": "pro", "description": "For teams",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	server.Decode(w, &plan)

	var price handler.PlanPriceResponse
	w = server.Do("POST", "/api/v1/catalog/plans/"+plan.ID.String()+"/prices", admin.Token, map[string]string{
		"period": "monthly", "amount": "49.00", "currency": "USD",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	server.Decode(w, &price)
	assert.Equal(t, "monthly", price.Period)

	w = server.Do("POST", "/api/v1/catalog/plans/"+plan.ID.String()+"/features", admin.Token, map[string]string{
		"feature_id": feature.ID.String(), "value": "unlimited",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	t.Run("tier schedule round trip", func(t *testing.T) {
		upTo := "1000"
		w := server.Do("PUT", "/api/v1/catalog/features/api_calls/tiers", admin.Token, handler.SetTierScheduleRequest{
			PlanPriceID: price.ID.String(),
			Tiers: []handler.TierRequest{
				{UpTo: &upTo, UnitPrice: "0", FlatFee: "0", Currency: "USD"},
				{UnitPrice: "0.01", Currency: "USD"},
			},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var tiers []handler.TierResponse
		server.Decode(w, &tiers)
		require.Len(t, tiers, 2)
		assert.Equal(t, "0.01", tiers[1].UnitPrice)
		assert.Nil(t, tiers[1].UpTo)

		w = server.Do("GET", "/api/v1/catalog/features/api_calls/tiers?plan_price_id="+price.ID.String(), admin.Token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		server.Decode(w, &tiers)
		assert.Len(t, tiers, 2)
	})

	t.Run("overlapping tiers are rejected", func(t *testing.T) {
		first, second := "1000", "1000"
		w := server.Do("PUT", "/api/v1/catalog/features/api_calls/tiers", admin.Token, handler.SetTierScheduleRequest{
			PlanPriceID: price.ID.String(),
			Tiers: []handler.TierRequest{
				{UpTo: &first, UnitPrice: "0", Currency: "USD"},
				{UpTo: &second, UnitPrice: "0.01", Currency: "USD"},
			},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	})

	t.Run("plan detail includes prices and features", func(t *testing.T) {
		w := server.Do("GET", "/api/v1/catalog/plans/pro", admin.Token, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var detail struct {
			Plan     handler.PlanResponse        `json:"plan"`
			Prices   []handler.PlanPriceResponse `json:"prices"`
			Features []struct {
				Value string `json:"value"`
			} `json:"features"`
		}
		server.Decode(w, &detail)
		assert.Equal(t, "Pro", detail.Plan.Name)
		require.Len(t, detail.Prices, 1)
		require.Len(t, detail.Features, 1)
		assert.Equal(t, "unlimited", detail.Features[0].Value)
	})

	t.Run("coupon creation validates its type", func(t *testing.T) {
		w := server.Do("POST", "/api/v1/catalog/coupons", admin.Token, map[string]interface{}{
			"code": "WELCOME20", "type": "percentage", "value": "20", "duration": "once",
		})
		assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		w = server.Do("POST", "/api/v1/catalog/coupons", admin.Token, map[string]interface{}{
			"code": "BROKEN", "type": "percentage", "value": "150", "duration": "once",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	})
}
