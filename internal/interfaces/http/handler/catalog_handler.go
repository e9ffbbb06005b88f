package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appcatalog "github.com/saaskit/backend/internal/application/catalog"
	"github.com/saaskit/backend/internal/domain/billing"
	"github.com/saaskit/backend/internal/domain/subscription"
	"github.com/shopspring/decimal"
)

// CatalogHandler exposes platform catalog administration: features, tier
// schedules, plans, prices and coupons
type CatalogHandler struct {
	BaseHandler
	catalogService *appcatalog.Service
}

// NewCatalogHandler creates a catalog handler
func NewCatalogHandler(catalogService *appcatalog.Service) *CatalogHandler {
	return &CatalogHandler{catalogService: catalogService}
}

// FeatureResponse is the representation of a billable feature
type FeatureResponse struct {
	ID          uuid.UUID `json:"id"`
	Codename    string    `json:"codename"`
	Description string    `json:"description,omitempty"`
	Type        string    `json:"type"`
	ValueType   string    `json:"value_type"`
}

func toFeatureResponse(feature *billing.Feature) FeatureResponse {
	return FeatureResponse{
		ID:          feature.ID,
		Codename:    feature.Codename,
		Description: feature.Description,
		Type:        string(feature.Type),
		ValueType:   string(feature.ValueType),
	}
}

// CreateFeatureRequest is the body of POST /catalog/features
type CreateFeatureRequest struct {
	Codename    string `json:"codename" binding:"required"`
	Description string `json:"description"`
	Type        string `json:"type" binding:"required"`
	ValueType   string `json:"value_type" binding:"required"`
}

// CreateFeature handles POST /catalog/features
func (h *CatalogHandler) CreateFeature(c *gin.Context) {
	var req CreateFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "codename, type and value_type are required")
		return
	}
	feature, err := h.catalogService.CreateFeature(c.Request.Context(), appcatalog.CreateFeatureInput{
		Codename:    req.Codename,
		Description: req.Description,
		Type:        billing.FeatureType(req.Type),
		ValueType:   billing.ValueType(req.ValueType),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, toFeatureResponse(feature))
}

// GetFeature handles GET /catalog/features/:codename
func (h *CatalogHandler) GetFeature(c *gin.Context) {
	feature, err := h.catalogService.GetFeature(c.Request.Context(), c.Param("codename"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toFeatureResponse(feature))
}

// ListMeteredFeatures handles GET /catalog/features
func (h *CatalogHandler) ListMeteredFeatures(c *gin.Context) {
	features, err := h.catalogService.ListMeteredFeatures(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]FeatureResponse, 0, len(features))
	for _, feature := range features {
		out = append(out, toFeatureResponse(feature))
	}
	h.Success(c, out)
}

// TierRequest is one tier of a schedule as submitted by the client
type TierRequest struct {
	UpTo      *string `json:"up_to"`
	UnitPrice string  `json:"unit_price" binding:"required"`
	FlatFee   string  `json:"flat_fee"`
	Currency  string  `json:"currency" binding:"required,len=3"`
}

// SetTierScheduleRequest is the body of PUT /catalog/features/:codename/tiers
type SetTierScheduleRequest struct {
	PlanPriceID string        `json:"plan_price_id" binding:"required,uuid"`
	Tiers       []TierRequest `json:"tiers" binding:"required,min=1"`
}

// TierResponse is one tier of a stored schedule
type TierResponse struct {
	ID        uuid.UUID `json:"id"`
	UpTo      *string   `json:"up_to,omitempty"`
	UnitPrice string    `json:"unit_price"`
	FlatFee   string    `json:"flat_fee"`
	Currency  string    `json:"currency"`
}

func toTierResponses(schedule *billing.TierSchedule) []TierResponse {
	tiers := schedule.Tiers()
	out := make([]TierResponse, 0, len(tiers))
	for _, tier := range tiers {
		resp := TierResponse{
			ID:        tier.ID,
			UnitPrice: tier.UnitPrice.String(),
			FlatFee:   tier.FlatFee.String(),
			Currency:  tier.Currency,
		}
		if tier.UpTo != nil {
			upTo := tier.UpTo.String()
			resp.UpTo = &upTo
		}
		out = append(out, resp)
	}
	return out
}

// SetTierSchedule handles PUT /catalog/features/:codename/tiers
func (h *CatalogHandler) SetTierSchedule(c *gin.Context) {
	var req SetTierScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "plan_price_id and at least one tier are required")
		return
	}
	planPriceID, err := uuid.Parse(req.PlanPriceID)
	if err != nil {
		h.BadRequest(c, "plan_price_id must be a UUID")
		return
	}

	tiers := make([]appcatalog.TierInput, 0, len(req.Tiers))
	for _, tier := range req.Tiers {
		unitPrice, err := decimal.NewFromString(tier.UnitPrice)
		if err != nil {
			h.BadRequest(c, "unit_price must be a decimal number")
			return
		}
		flatFee := decimal.Zero
		if tier.FlatFee != "" {
			if flatFee, err = decimal.NewFromString(tier.FlatFee); err != nil {
				h.BadRequest(c, "flat_fee must be a decimal number")
				return
			}
		}
		input := appcatalog.TierInput{UnitPrice: unitPrice, FlatFee: flatFee, Currency: tier.Currency}
		if tier.UpTo != nil {
			upTo, err := decimal.NewFromString(*tier.UpTo)
			if err != nil {
				h.BadRequest(c, "up_to must be a decimal number")
				return
			}
			input.UpTo = &upTo
		}
		tiers = append(tiers, input)
	}

	schedule, err := h.catalogService.SetTierSchedule(c.Request.Context(), c.Param("codename"), planPriceID, tiers)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toTierResponses(schedule))
}

// GetTierSchedule handles GET /catalog/features/:codename/tiers
func (h *CatalogHandler) GetTierSchedule(c *gin.Context) {
	planPriceID, err := uuid.Parse(c.Query("plan_price_id"))
	if err != nil {
		h.BadRequest(c, "plan_price_id query parameter must be a UUID")
		return
	}
	schedule, err := h.catalogService.GetTierSchedule(c.Request.Context(), c.Param("codename"), planPriceID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toTierResponses(schedule))
}

// PlanResponse is the representation of a plan
type PlanResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
}

func toPlanResponse(plan *subscription.Plan) PlanResponse {
	return PlanResponse{
		ID:          plan.ID,
		Name:        plan.Name,
		Slug:        plan.Slug,
		Description: plan.Description,
		Active:      plan.Active,
	}
}

// CreatePlanRequest is the body of POST /catalog/plans
type CreatePlanRequest struct {
	Name        string `json:"name" binding:"required"`
	Slug        string `json:"slug" binding:"required"`
	Description string `json:"description"`
}

// CreatePlan handles POST /catalog/plans
func (h *CatalogHandler) CreatePlan(c *gin.Context) {
	var req CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "name and slug are required")
		return
	}
	plan, err := h.catalogService.CreatePlan(c.Request.Context(), appcatalog.CreatePlanInput{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, toPlanResponse(plan))
}

// PlanPriceResponse is the representation of a plan price point
type PlanPriceResponse struct {
	ID       uuid.UUID `json:"id"`
	PlanID   uuid.UUID `json:"plan_id"`
	Period   string    `json:"period"`
	Amount   string    `json:"amount"`
	Currency string    `json:"currency"`
	Active   bool      `json:"active"`
}

func toPlanPriceResponse(price *subscription.PlanPrice) PlanPriceResponse {
	return PlanPriceResponse{
		ID:       price.ID,
		PlanID:   price.PlanID,
		Period:   string(price.Period),
		Amount:   price.Amount.String(),
		Currency: price.Currency,
		Active:   price.Active,
	}
}

// GetPlan handles GET /catalog/plans/:slug: the plan with its prices and
// feature bindings
func (h *CatalogHandler) GetPlan(c *gin.Context) {
	plan, prices, features, err := h.catalogService.GetPlan(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.HandleError(c, err)
		return
	}

	priceList := make([]PlanPriceResponse, 0, len(prices))
	for _, price := range prices {
		priceList = append(priceList, toPlanPriceResponse(price))
	}
	featureList := make([]gin.H, 0, len(features))
	for _, binding := range features {
		featureList = append(featureList, gin.H{
			"feature_id": binding.FeatureID,
			"value":      binding.Value,
		})
	}
	h.Success(c, gin.H{
		"plan":     toPlanResponse(plan),
		"prices":   priceList,
		"features": featureList,
	})
}

// ListPlans handles GET /catalog/plans
func (h *CatalogHandler) ListPlans(c *gin.Context) {
	plans, err := h.catalogService.ListActivePlans(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]PlanResponse, 0, len(plans))
	for _, plan := range plans {
		out = append(out, toPlanResponse(plan))
	}
	h.Success(c, out)
}

// AttachFeatureRequest is the body of POST /catalog/plans/:id/features
type AttachFeatureRequest struct {
	FeatureID string `json:"feature_id" binding:"required,uuid"`
	Value     string `json:"value" binding:"required"`
}

// AttachFeature handles POST /catalog/plans/:id/features
func (h *CatalogHandler) AttachFeature(c *gin.Context) {
	var req AttachFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "feature_id and value are required")
		return
	}
	planID, ok := uuidParam(c, "id")
	if !ok {
		h.BadRequest(c, "Plan ID must be a UUID")
		return
	}
	featureID, err := uuid.Parse(req.FeatureID)
	if err != nil {
		h.BadRequest(c, "feature_id must be a UUID")
		return
	}

	binding, err := h.catalogService.AttachFeature(c.Request.Context(), planID, featureID, req.Value)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, gin.H{
		"id":         binding.ID,
		"plan_id":    binding.PlanID,
		"feature_id": binding.FeatureID,
		"value":      binding.Value,
	})
}

// CreatePriceRequest is the body of POST /catalog/plans/:id/prices
type CreatePriceRequest struct {
	Period   string `json:"period" binding:"required,oneof=monthly annual"`
	Amount   string `json:"amount" binding:"required"`
	Currency string `json:"currency" binding:"required,len=3"`
}

// CreatePrice handles POST /catalog/plans/:id/prices
func (h *CatalogHandler) CreatePrice(c *gin.Context) {
	var req CreatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "period, amount and currency are required")
		return
	}
	planID, ok := uuidParam(c, "id")
	if !ok {
		h.BadRequest(c, "Plan ID must be a UUID")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.BadRequest(c, "Amount must be a decimal number")
		return
	}

	price, err := h.catalogService.CreatePrice(c.Request.Context(), appcatalog.CreatePriceInput{
		PlanID:   planID,
		Period:   subscription.BillingPeriod(req.Period),
		Amount:   amount,
		Currency: req.Currency,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, toPlanPriceResponse(price))
}

// CreateCouponRequest is the body of POST /catalog/coupons
type CreateCouponRequest struct {
	Code           string     `json:"code" binding:"required"`
	Type           string     `json:"type" binding:"required,oneof=percentage fixed_amount"`
	Value          string     `json:"value" binding:"required"`
	Currency       string     `json:"currency"`
	Duration       string     `json:"duration" binding:"required,oneof=once repeating forever"`
	DurationMonths int        `json:"duration_months"`
	MaxRedemptions *int       `json:"max_redemptions"`
	RedeemBy       *time.Time `json:"redeem_by"`
}

// CreateCoupon handles POST /catalog/coupons
func (h *CatalogHandler) CreateCoupon(c *gin.Context) {
	var req CreateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "code, type, value and duration are required")
		return
	}
	value, err := decimal.NewFromString(req.Value)
	if err != nil {
		h.BadRequest(c, "Value must be a decimal number")
		return
	}

	coupon, err := h.catalogService.CreateCoupon(c.Request.Context(), appcatalog.CreateCouponInput{
		Code:           req.Code,
		Type:           subscription.DiscountType(req.Type),
		Value:          value,
		Currency:       req.Currency,
		Duration:       subscription.CouponDuration(req.Duration),
		DurationMonths: req.DurationMonths,
		MaxRedemptions: req.MaxRedemptions,
		RedeemBy:       req.RedeemBy,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, gin.H{
		"id":       coupon.ID,
		"code":     coupon.Code,
		"type":     string(coupon.Type),
		"value":    coupon.Value.String(),
		"duration": string(coupon.Duration),
	})
}
