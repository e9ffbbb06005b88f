package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appsubscription "github.com/saaskit/backend/internal/application/subscription"
	"github.com/saaskit/backend/internal/domain/subscription"
)

// SubscriptionHandler exposes the subscription lifecycle and coupon
// redemption
type SubscriptionHandler struct {
	BaseHandler
	service *appsubscription.Service
}

// NewSubscriptionHandler creates a subscription handler
func NewSubscriptionHandler(service *appsubscription.Service) *SubscriptionHandler {
	return &SubscriptionHandler{service: service}
}

// SubscriptionResponse is the representation of a subscription
type SubscriptionResponse struct {
	ID                 uuid.UUID  `json:"id"`
	PlanID             uuid.UUID  `json:"plan_id"`
	PlanPriceID        uuid.UUID  `json:"plan_price_id"`
	Status             string     `json:"status"`
	TrialEndsAt        *time.Time `json:"trial_ends_at,omitempty"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	CanceledAt         *time.Time `json:"canceled_at,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
}

func toSubscriptionResponse(sub *subscription.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:                 sub.ID,
		PlanID:             sub.PlanID,
		PlanPriceID:        sub.PlanPriceID,
		Status:             string(sub.Status),
		TrialEndsAt:        sub.TrialEndsAt,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CanceledAt:         sub.CanceledAt,
		StartedAt:          sub.StartedAt,
	}
}

// CreateSubscriptionRequest is the body of POST /subscriptions
type CreateSubscriptionRequest struct {
	PlanID      string `json:"plan_id" binding:"required,uuid"`
	PlanPriceID string `json:"plan_price_id" binding:"required,uuid"`
}

// Create handles POST /subscriptions
func (h *SubscriptionHandler) Create(c *gin.Context) {
	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "plan_id and plan_price_id are required")
		return
	}
	planID, err := uuid.Parse(req.PlanID)
	if err != nil {
		h.BadRequest(c, "plan_id must be a UUID")
		return
	}
	priceID, err := uuid.Parse(req.PlanPriceID)
	if err != nil {
		h.BadRequest(c, "plan_price_id must be a UUID")
		return
	}
	tenant, err := tenantID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	sub, err := h.service.Create(c.Request.Context(), tenant, planID, priceID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, toSubscriptionResponse(sub))
}

// ActivateRequest is the body of POST /subscriptions/:id/activate
type ActivateRequest struct {
	PeriodStart time.Time `json:"period_start" binding:"required"`
}

// Activate handles POST /subscriptions/:id/activate
func (h *SubscriptionHandler) Activate(c *gin.Context) {
	var req ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "period_start is required")
		return
	}
	h.mutate(c, func(tenant, subID uuid.UUID) (*subscription.Subscription, error) {
		return h.service.Activate(c.Request.Context(), tenant, subID, req.PeriodStart)
	})
}

// StartTrialRequest is the body of POST /subscriptions/:id/trial
type StartTrialRequest struct {
	TrialEnd time.Time `json:"trial_end" binding:"required"`
}

// StartTrial handles POST /subscriptions/:id/trial
func (h *SubscriptionHandler) StartTrial(c *gin.Context) {
	var req StartTrialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "trial_end is required")
		return
	}
	h.mutate(c, func(tenant, subID uuid.UUID) (*subscription.Subscription, error) {
		return h.service.StartTrial(c.Request.Context(), tenant, subID, req.TrialEnd)
	})
}

// CancelRequest is the body of POST /subscriptions/:id/cancel
type CancelRequest struct {
	AtPeriodEnd bool `json:"at_period_end"`
}

// Cancel handles POST /subscriptions/:id/cancel
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body")
		return
	}
	h.mutate(c, func(tenant, subID uuid.UUID) (*subscription.Subscription, error) {
		return h.service.Cancel(c.Request.Context(), tenant, subID, req.AtPeriodEnd)
	})
}

// Renew handles POST /subscriptions/:id/renew
func (h *SubscriptionHandler) Renew(c *gin.Context) {
	h.mutate(c, func(tenant, subID uuid.UUID) (*subscription.Subscription, error) {
		return h.service.Renew(c.Request.Context(), tenant, subID)
	})
}

// ChangePlanRequest is the body of POST /subscriptions/:id/change-plan
type ChangePlanRequest struct {
	PlanID      string `json:"plan_id" binding:"required,uuid"`
	PlanPriceID string `json:"plan_price_id" binding:"required,uuid"`
}

// ChangePlan handles POST /subscriptions/:id/change-plan
func (h *SubscriptionHandler) ChangePlan(c *gin.Context) {
	var req ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "plan_id and plan_price_id are required")
		return
	}
	planID, err := uuid.Parse(req.PlanID)
	if err != nil {
		h.BadRequest(c, "plan_id must be a UUID")
		return
	}
	priceID, err := uuid.Parse(req.PlanPriceID)
	if err != nil {
		h.BadRequest(c, "plan_price_id must be a UUID")
		return
	}
	h.mutate(c, func(tenant, subID uuid.UUID) (*subscription.Subscription, error) {
		return h.service.ChangePlan(c.Request.Context(), tenant, subID, planID, priceID)
	})
}

// RedeemCouponRequest is the body of POST /subscriptions/:id/coupons
type RedeemCouponRequest struct {
	Code string `json:"code" binding:"required"`
}

// RedeemCoupon handles POST /subscriptions/:id/coupons
func (h *SubscriptionHandler) RedeemCoupon(c *gin.Context) {
	var req RedeemCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "code is required")
		return
	}
	subID, ok := uuidParam(c, "id")
	if !ok {
		h.BadRequest(c, "Subscription ID must be a UUID")
		return
	}
	tenant, err := tenantID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	discount, err := h.service.RedeemCoupon(c.Request.Context(), tenant, subID, req.Code)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, gin.H{
		"id":        discount.ID,
		"coupon_id": discount.CouponID,
		"starts_at": discount.StartsAt,
		"ends_at":   discount.EndsAt,
	})
}

// Get handles GET /subscriptions/:id
func (h *SubscriptionHandler) Get(c *gin.Context) {
	h.mutate(c, func(tenant, subID uuid.UUID) (*subscription.Subscription, error) {
		return h.service.Get(c.Request.Context(), tenant, subID)
	})
}

// List handles GET /subscriptions
func (h *SubscriptionHandler) List(c *gin.Context) {
	tenant, err := tenantID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	subs, err := h.service.List(c.Request.Context(), tenant)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]SubscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toSubscriptionResponse(sub))
	}
	h.Success(c, out)
}

// History handles GET /subscriptions/:id/events
func (h *SubscriptionHandler) History(c *gin.Context) {
	subID, ok := uuidParam(c, "id")
	if !ok {
		h.BadRequest(c, "Subscription ID must be a UUID")
		return
	}
	tenant, err := tenantID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	events, err := h.service.History(c.Request.Context(), tenant, subID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	out := make([]gin.H, 0, len(events))
	for _, event := range events {
		out = append(out, gin.H{
			"id":           event.ID,
			"kind":         string(event.Kind),
			"from_plan_id": event.FromPlanID,
			"to_plan_id":   event.ToPlanID,
			"note":         event.Note,
			"created_at":   event.CreatedAt,
		})
	}
	h.Success(c, out)
}

func (h *SubscriptionHandler) mutate(c *gin.Context, fn func(tenant, subID uuid.UUID) (*subscription.Subscription, error)) {
	subID, ok := uuidParam(c, "id")
	if !ok {
		h.BadRequest(c, "Subscription ID must be a UUID")
		return
	}
	tenant, err := tenantID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	sub, err := fn(tenant, subID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toSubscriptionResponse(sub))
}
