package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appbilling "github.com/saaskit/backend/internal/application/billing"
	"github.com/saaskit/backend/internal/domain/ledger"
	"github.com/saaskit/backend/internal/interfaces/http/dto"
	"github.com/shopspring/decimal"
)

// CreditHandler exposes the tenant credit ledger
type CreditHandler struct {
	BaseHandler
	creditService *appbilling.CreditService
}

// NewCreditHandler creates a credit handler
func NewCreditHandler(creditService *appbilling.CreditService) *CreditHandler {
	return &CreditHandler{creditService: creditService}
}

// PostCreditRequest is the body of POST /credits
type PostCreditRequest struct {
	Type        string `json:"type" binding:"required,oneof=purchase refund adjustment"`
	Amount      string `json:"amount" binding:"required"`
	Description string `json:"description"`
	ReferenceID string `json:"reference_id"`
}

// LedgerEntryResponse is the representation of one ledger movement
type LedgerEntryResponse struct {
	ID           uuid.UUID `json:"id"`
	Type         string    `json:"type"`
	Amount       string    `json:"amount"`
	BalanceAfter string    `json:"balance_after"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func toLedgerEntryResponse(entry *ledger.Entry) LedgerEntryResponse {
	return LedgerEntryResponse{
		ID:           entry.ID,
		Type:         string(entry.Type),
		Amount:       entry.Amount.String(),
		BalanceAfter: entry.BalanceAfter.String(),
		Description:  entry.Description,
		CreatedAt:    entry.CreatedAt,
	}
}

// Post handles POST /credits: purchases, refunds and manual adjustments
func (h *CreditHandler) Post(c *gin.Context) {
	var req PostCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.BadRequest(c, "Amount must be a decimal number")
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

	input := appbilling.PostCreditInput{
		TenantID:    tenant,
		Type:        ledger.EntryType(req.Type),
		Amount:      amount,
		Description: req.Description,
		Actor:       caller,
	}
	if req.ReferenceID != "" {
		refID, err := uuid.Parse(req.ReferenceID)
		if err != nil {
			h.BadRequest(c, "reference_id must be a UUID")
			return
		}
		input.ReferenceType = "external"
		input.ReferenceID = &refID
	}

	entry, err := h.creditService.Post(c.Request.Context(), input)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, toLedgerEntryResponse(entry))
}

// DebitRequest is the body of POST /credits/apply
type DebitRequest struct {
	Amount      string `json:"amount" binding:"required"`
	Description string `json:"description"`
	ReferenceID string `json:"reference_id"`
}

// Debit handles POST /credits/apply: consumes credit as a usage deduction
func (h *CreditHandler) Debit(c *gin.Context) {
	var req DebitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.BadRequest(c, "Amount must be a decimal number")
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

	var referenceID *uuid.UUID
	referenceType := ""
	if req.ReferenceID != "" {
		refID, err := uuid.Parse(req.ReferenceID)
		if err != nil {
			h.BadRequest(c, "reference_id must be a UUID")
			return
		}
		referenceID = &refID
		referenceType = "external"
	}

	entry, err := h.creditService.Debit(c.Request.Context(), tenant, amount, req.Description, caller, referenceType, referenceID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, toLedgerEntryResponse(entry))
}

// Balance handles GET /credits/balance
func (h *CreditHandler) Balance(c *gin.Context) {
	tenant, err := tenantID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	balance, err := h.creditService.CurrentBalance(c.Request.Context(), tenant)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"balance": balance.String()})
}

// History handles GET /credits/history
func (h *CreditHandler) History(c *gin.Context) {
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
	entries, err := h.creditService.History(c.Request.Context(), tenant, req.PageSize, req.Offset())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	out := make([]LedgerEntryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toLedgerEntryResponse(entry))
	}
	h.Success(c, out)
}

// Reconcile handles POST /credits/reconcile: re-derives the balance from the
// full ledger and verifies every stored running balance
func (h *CreditHandler) Reconcile(c *gin.Context) {
	tenant, err := tenantID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	balance, err := h.creditService.Reconcile(c.Request.Context(), tenant)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"balance": balance.String(), "consistent": true})
}
