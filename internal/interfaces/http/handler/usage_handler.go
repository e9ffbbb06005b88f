package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appbilling "github.com/saaskit/backend/internal/application/billing"
	"github.com/saaskit/backend/internal/domain/billing"
	"github.com/shopspring/decimal"
)

// UsageHandler exposes usage recording, aggregation, charge preview and
// period close
type UsageHandler struct {
	BaseHandler
	usageService *appbilling.UsageService
}

// NewUsageHandler creates a usage handler
func NewUsageHandler(usageService *appbilling.UsageService) *UsageHandler {
	return &UsageHandler{usageService: usageService}
}

// RecordUsageRequest is the body of POST /usage
type RecordUsageRequest struct {
	Feature     string    `json:"feature" binding:"required"`
	Quantity    string    `json:"quantity" binding:"required"`
	EventTime   time.Time `json:"event_time" binding:"required"`
	ReferenceID string    `json:"reference_id"`
}

// UsageRecordResponse is the representation of a stored usage record
type UsageRecordResponse struct {
	ID          uuid.UUID `json:"id"`
	FeatureID   uuid.UUID `json:"feature_id"`
	Quantity    string    `json:"quantity"`
	EventTime   time.Time `json:"event_time"`
	RecordedAt  time.Time `json:"recorded_at"`
	ReferenceID string    `json:"reference_id,omitempty"`
}

func toUsageRecordResponse(record *billing.UsageRecord) UsageRecordResponse {
	return UsageRecordResponse{
		ID:          record.ID,
		FeatureID:   record.FeatureID,
		Quantity:    record.Quantity.String(),
		EventTime:   record.EventTime,
		RecordedAt:  record.RecordedAt,
		ReferenceID: record.ReferenceID,
	}
}

// Record handles POST /usage. The Idempotency-Key header makes retried
// deliveries safe.
func (h *UsageHandler) Record(c *gin.Context) {
	var req RecordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body")
		return
	}
	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		h.BadRequest(c, "Quantity must be a decimal number")
		return
	}

	tenant, err := tenantID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	caller, err := actor(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	record, err := h.usageService.RecordUsage(c.Request.Context(), appbilling.RecordUsageInput{
		TenantID:        tenant,
		FeatureCodename: req.Feature,
		Quantity:        quantity,
		EventTime:       req.EventTime,
		IdempotencyKey:  c.GetHeader("Idempotency-Key"),
		Actor:           caller,
		SourceIP:        c.ClientIP(),
		ReferenceID:     req.ReferenceID,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, toUsageRecordResponse(record))
}

// AggregateRequest holds the query parameters of GET /usage/aggregate
type AggregateRequest struct {
	Feature     string    `form:"feature" binding:"required"`
	PeriodStart time.Time `form:"period_start" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	PeriodEnd   time.Time `form:"period_end" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
}

// AggregateResponse is the summed usage for one feature and period
type AggregateResponse struct {
	Feature       string    `json:"feature"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
	QuantityTotal string    `json:"quantity_total"`
	RecordCount   int       `json:"record_count"`
}

// Aggregate handles GET /usage/aggregate
func (h *UsageHandler) Aggregate(c *gin.Context) {
	var req AggregateRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, "feature, period_start and period_end are required")
		return
	}
	tenant, err := tenantID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	agg, err := h.usageService.AggregateUsage(c.Request.Context(), tenant, req.Feature, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, AggregateResponse{
		Feature:       req.Feature,
		PeriodStart:   agg.PeriodStart,
		PeriodEnd:     agg.PeriodEnd,
		QuantityTotal: agg.QuantityTotal.String(),
		RecordCount:   agg.RecordCount,
	})
}

// PreviewRequest holds the query parameters of GET /usage/preview
type PreviewRequest struct {
	Feature     string    `form:"feature" binding:"required"`
	PlanPriceID string    `form:"plan_price_id" binding:"required,uuid"`
	Quantity    string    `form:"quantity" binding:"required"`
	PeriodStart time.Time `form:"period_start" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
}

// TierBreakdownResponse is one tier's contribution to a charge
type TierBreakdownResponse struct {
	TierID       uuid.UUID `json:"tier_id"`
	UnitsCharged string    `json:"units_charged"`
	UnitPrice    string    `json:"unit_price"`
	FlatFee      string    `json:"flat_fee"`
	Subtotal     string    `json:"subtotal"`
}

func toTierBreakdownResponses(breakdown []billing.TierBreakdown) []TierBreakdownResponse {
	out := make([]TierBreakdownResponse, 0, len(breakdown))
	for _, part := range breakdown {
		out = append(out, TierBreakdownResponse{
			TierID:       part.TierID,
			UnitsCharged: part.UnitsCharged.String(),
			UnitPrice:    part.UnitPrice.String(),
			FlatFee:      part.FlatFee.String(),
			Subtotal:     part.Subtotal.String(),
		})
	}
	return out
}

// PreviewResponse prices a prospective quantity without recording it
type PreviewResponse struct {
	Charge    string                  `json:"charge"`
	Breakdown []TierBreakdownResponse `json:"breakdown"`
}

// Preview handles GET /usage/preview
func (h *UsageHandler) Preview(c *gin.Context) {
	var req PreviewRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, "feature, plan_price_id, quantity and period_start are required")
		return
	}
	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		h.BadRequest(c, "Quantity must be a decimal number")
		return
	}
	planPriceID, err := uuid.Parse(req.PlanPriceID)
	if err != nil {
		h.BadRequest(c, "plan_price_id must be a UUID")
		return
	}
	tenant, err := tenantID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	charge, breakdown, err := h.usageService.PreviewCharge(c.Request.Context(), tenant, req.Feature, planPriceID, quantity, req.PeriodStart)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, PreviewResponse{
		Charge:    charge.String(),
		Breakdown: toTierBreakdownResponses(breakdown),
	})
}

// ClosePeriodRequest is the body of POST /usage/periods/close
type ClosePeriodRequest struct {
	Feature     string    `json:"feature" binding:"required"`
	PeriodStart time.Time `json:"period_start" binding:"required"`
	PeriodEnd   time.Time `json:"period_end" binding:"required"`
}

// ClosePeriod handles POST /usage/periods/close
func (h *UsageHandler) ClosePeriod(c *gin.Context) {
	var req ClosePeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body")
		return
	}
	tenant, err := tenantID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	caller, err := actor(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	period, err := h.usageService.FinalizePeriod(c.Request.Context(), tenant, req.Feature, req.PeriodStart, req.PeriodEnd, caller)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, gin.H{
		"id":           period.ID,
		"feature_id":   period.FeatureID,
		"period_start": period.PeriodStart,
		"period_end":   period.PeriodEnd,
		"closed_at":    period.ClosedAt,
	})
}
