package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appbilling "github.com/saaskit/backend/internal/application/billing"
	"github.com/saaskit/backend/internal/domain/invoicing"
	"github.com/saaskit/backend/internal/interfaces/http/dto"
)

// InvoiceHandler exposes invoice building and lifecycle transitions
type InvoiceHandler struct {
	BaseHandler
	invoiceService *appbilling.InvoiceService
}

// NewInvoiceHandler creates an invoice handler
func NewInvoiceHandler(invoiceService *appbilling.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{invoiceService: invoiceService}
}

// LineItemResponse is one invoice line
type LineItemResponse struct {
	ID          uuid.UUID  `json:"id"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Quantity    string     `json:"quantity"`
	UnitPrice   string     `json:"unit_price"`
	Amount      string     `json:"amount"`
	Currency    string     `json:"currency"`
	PeriodStart *time.Time `json:"period_start,omitempty"`
	PeriodEnd   *time.Time `json:"period_end,omitempty"`
	FeatureID   *uuid.UUID `json:"feature_id,omitempty"`
}

// InvoiceResponse is the representation of an invoice with its lines
type InvoiceResponse struct {
	ID            uuid.UUID          `json:"id"`
	Number        string             `json:"number"`
	Status        string             `json:"status"`
	Currency      string             `json:"currency"`
	PeriodStart   time.Time          `json:"period_start"`
	PeriodEnd     time.Time          `json:"period_end"`
	Subtotal      string             `json:"subtotal"`
	TaxTotal      string             `json:"tax_total"`
	DiscountTotal string             `json:"discount_total"`
	AmountDue     string             `json:"amount_due"`
	AmountPaid    string             `json:"amount_paid"`
	DueDate       *time.Time         `json:"due_date,omitempty"`
	FinalizedAt   *time.Time         `json:"finalized_at,omitempty"`
	PaidAt        *time.Time         `json:"paid_at,omitempty"`
	PDFURL        string             `json:"pdf_url,omitempty"`
	LineItems     []LineItemResponse `json:"line_items"`
}

func toInvoiceResponse(invoice *invoicing.Invoice) InvoiceResponse {
	lines := make([]LineItemResponse, 0, len(invoice.LineItems))
	for _, line := range invoice.LineItems {
		lines = append(lines, LineItemResponse{
			ID:          line.ID,
			Type:        string(line.Type),
			Description: line.Description,
			Quantity:    line.Quantity.String(),
			UnitPrice:   line.UnitPrice.String(),
			Amount:      line.Amount.String(),
			Currency:    line.Currency,
			PeriodStart: line.PeriodStart,
			PeriodEnd:   line.PeriodEnd,
			FeatureID:   line.FeatureID,
		})
	}
	return InvoiceResponse{
		ID:            invoice.ID,
		Number:        invoice.Number,
		Status:        string(invoice.Status),
		Currency:      invoice.Currency,
		PeriodStart:   invoice.PeriodStart,
		PeriodEnd:     invoice.PeriodEnd,
		Subtotal:      invoice.Subtotal.String(),
		TaxTotal:      invoice.TaxTotal.String(),
		DiscountTotal: invoice.DiscountTotal.String(),
		AmountDue:     invoice.AmountDue.String(),
		AmountPaid:    invoice.AmountPaid.String(),
		DueDate:       invoice.DueDate,
		FinalizedAt:   invoice.FinalizedAt,
		PaidAt:        invoice.PaidAt,
		PDFURL:        invoice.PDFURL,
		LineItems:     lines,
	}
}

// BuildInvoiceRequest is the body of POST /invoices/build
type BuildInvoiceRequest struct {
	SubscriptionID string `json:"subscription_id" binding:"required,uuid"`
}

// Build handles POST /invoices/build: assembles the draft invoice for the
// subscription's current period
func (h *InvoiceHandler) Build(c *gin.Context) {
	var req BuildInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "subscription_id is required")
		return
	}
	subscriptionID, err := uuid.Parse(req.SubscriptionID)
	if err != nil {
		h.BadRequest(c, "subscription_id must be a UUID")
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

	result, err := h.invoiceService.BuildInvoice(c.Request.Context(), appbilling.BuildInvoiceInput{
		TenantID:       tenant,
		SubscriptionID: subscriptionID,
		Actor:          caller,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, gin.H{
		"invoice":        toInvoiceResponse(result.Invoice),
		"credit_applied": result.CreditApplied.String(),
	})
}

// Get handles GET /invoices/:id
func (h *InvoiceHandler) Get(c *gin.Context) {
	invoiceID, ok := uuidParam(c, "id")
	if !ok {
		h.BadRequest(c, "Invoice ID must be a UUID")
		return
	}
	tenant, err := tenantID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	invoice, err := h.invoiceService.GetInvoice(c.Request.Context(), tenant, invoiceID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toInvoiceResponse(invoice))
}

// List handles GET /invoices
func (h *InvoiceHandler) List(c *gin.Context) {
	var req dto.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, "Invalid pagination parameters")
		return
	}
	req.Normalize()

	tenant, err := tenantID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	invoices, err := h.invoiceService.ListInvoices(c.Request.Context(), tenant, req.PageSize, req.Offset())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	out := make([]InvoiceResponse, 0, len(invoices))
	for _, invoice := range invoices {
		out = append(out, toInvoiceResponse(invoice))
	}
	h.Success(c, out)
}

// FinalizeRequest is the body of POST /invoices/:id/finalize
type FinalizeRequest struct {
	DueDate time.Time `json:"due_date" binding:"required"`
}

// Finalize handles POST /invoices/:id/finalize
func (h *InvoiceHandler) Finalize(c *gin.Context) {
	var req FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "due_date is required")
		return
	}
	h.transition(c, func(tenant, invoiceID uuid.UUID, caller appbilling.Actor) (*invoicing.Invoice, error) {
		return h.invoiceService.FinalizeInvoice(c.Request.Context(), tenant, invoiceID, req.DueDate, caller)
	})
}

// MarkPaid handles POST /invoices/:id/pay
func (h *InvoiceHandler) MarkPaid(c *gin.Context) {
	h.transition(c, func(tenant, invoiceID uuid.UUID, caller appbilling.Actor) (*invoicing.Invoice, error) {
		return h.invoiceService.MarkPaid(c.Request.Context(), tenant, invoiceID, caller)
	})
}

// Void handles POST /invoices/:id/void
func (h *InvoiceHandler) Void(c *gin.Context) {
	h.transition(c, func(tenant, invoiceID uuid.UUID, caller appbilling.Actor) (*invoicing.Invoice, error) {
		return h.invoiceService.Void(c.Request.Context(), tenant, invoiceID, caller)
	})
}

// MarkUncollectible handles POST /invoices/:id/uncollectible
func (h *InvoiceHandler) MarkUncollectible(c *gin.Context) {
	h.transition(c, func(tenant, invoiceID uuid.UUID, caller appbilling.Actor) (*invoicing.Invoice, error) {
		return h.invoiceService.MarkUncollectible(c.Request.Context(), tenant, invoiceID, caller)
	})
}

func (h *InvoiceHandler) transition(c *gin.Context, fn func(tenant, invoiceID uuid.UUID, caller appbilling.Actor) (*invoicing.Invoice, error)) {
	invoiceID, ok := uuidParam(c, "id")
	if !ok {
		h.BadRequest(c, "Invoice ID must be a UUID")
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

	invoice, err := fn(tenant, invoiceID, caller)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toInvoiceResponse(invoice))
}
