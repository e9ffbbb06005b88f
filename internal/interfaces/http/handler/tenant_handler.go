package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appidentity "github.com/saaskit/backend/internal/application/identity"
	"github.com/saaskit/backend/internal/domain/identity"
	"github.com/saaskit/backend/internal/interfaces/http/dto"
	"github.com/shopspring/decimal"
)

// TenantHandler exposes tenant provisioning, lifecycle transitions, credit
// line grants and role assignment
type TenantHandler struct {
	BaseHandler
	tenantService *appidentity.TenantService
	userService   *appidentity.UserService
}

// NewTenantHandler creates a tenant handler
func NewTenantHandler(tenantService *appidentity.TenantService, userService *appidentity.UserService) *TenantHandler {
	return &TenantHandler{tenantService: tenantService, userService: userService}
}

// TenantResponse is the representation of a tenant
type TenantResponse struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Slug            string     `json:"slug"`
	Domain          *string    `json:"domain,omitempty"`
	Status          string     `json:"status"`
	BillingStrategy string     `json:"billing_strategy"`
	CreditFloor     string     `json:"credit_floor"`
	OnboardedAt     *time.Time `json:"onboarded_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toTenantResponse(tenant *identity.Tenant) TenantResponse {
	return TenantResponse{
		ID:              tenant.ID,
		Name:            tenant.Name,
		Slug:            tenant.Slug,
		Domain:          tenant.Domain,
		Status:          string(tenant.Status),
		BillingStrategy: string(tenant.BillingStrategy),
		CreditFloor:     tenant.CreditPolicy.Floor().String(),
		OnboardedAt:     tenant.OnboardedAt,
		CreatedAt:       tenant.CreatedAt,
	}
}

// CreateTenantRequest is the body of POST /tenants
type CreateTenantRequest struct {
	Name            string  `json:"name" binding:"required"`
	Slug            string  `json:"slug" binding:"required"`
	Domain          *string `json:"domain"`
	BillingStrategy string  `json:"billing_strategy" binding:"required,oneof=subscription usage hybrid"`
}

// Create handles POST /tenants
func (h *TenantHandler) Create(c *gin.Context) {
	var req CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "name, slug and billing_strategy are required")
		return
	}
	tenant, err := h.tenantService.Create(c.Request.Context(), appidentity.CreateTenantInput{
		Name:            req.Name,
		Slug:            req.Slug,
		Domain:          req.Domain,
		BillingStrategy: identity.BillingStrategy(req.BillingStrategy),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, toTenantResponse(tenant))
}

// Get handles GET /tenants/:id
func (h *TenantHandler) Get(c *gin.Context) {
	h.transition(c, h.tenantService.Get)
}

// List handles GET /tenants, optionally filtered by ?status=
func (h *TenantHandler) List(c *gin.Context) {
	var req dto.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, "Invalid pagination parameters")
		return
	}
	req.Normalize()

	var status *identity.TenantStatus
	if raw := c.Query("status"); raw != "" {
		parsed := identity.TenantStatus(raw)
		if !parsed.IsValid() {
			h.BadRequest(c, "Unknown tenant status")
			return
		}
		status = &parsed
	}

	tenants, total, err := h.tenantService.List(c.Request.Context(), status, req.Page, req.PageSize)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]TenantResponse, 0, len(tenants))
	for _, tenant := range tenants {
		out = append(out, toTenantResponse(tenant))
	}
	h.SuccessWithMeta(c, out, total, req.Page, req.PageSize)
}

// Activate handles POST /tenants/:id/activate
func (h *TenantHandler) Activate(c *gin.Context) {
	h.transition(c, h.tenantService.Activate)
}

// StartTrial handles POST /tenants/:id/trial
func (h *TenantHandler) StartTrial(c *gin.Context) {
	h.transition(c, h.tenantService.StartTrial)
}

// Suspend handles POST /tenants/:id/suspend
func (h *TenantHandler) Suspend(c *gin.Context) {
	h.transition(c, h.tenantService.Suspend)
}

// Delete handles DELETE /tenants/:id (soft delete)
func (h *TenantHandler) Delete(c *gin.Context) {
	h.transition(c, h.tenantService.SoftDelete)
}

// GrantCreditLineRequest is the body of POST /tenants/:id/credit-line
type GrantCreditLineRequest struct {
	Floor string `json:"floor" binding:"required"`
}

// GrantCreditLine handles POST /tenants/:id/credit-line: allows the tenant's
// credit balance to go as low as the given (negative) floor
func (h *TenantHandler) GrantCreditLine(c *gin.Context) {
	var req GrantCreditLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "floor is required")
		return
	}
	floor, err := decimal.NewFromString(req.Floor)
	if err != nil {
		h.BadRequest(c, "Floor must be a decimal number")
		return
	}
	tenantID, ok := uuidParam(c, "id")
	if !ok {
		h.BadRequest(c, "Tenant ID must be a UUID")
		return
	}

	tenant, err := h.tenantService.GrantCreditLine(c.Request.Context(), tenantID, floor)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toTenantResponse(tenant))
}

// AssignRoleRequest is the body of POST /tenants/:id/roles
type AssignRoleRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
	Role   string `json:"role" binding:"required"`
}

// AssignRole handles POST /tenants/:id/roles
func (h *TenantHandler) AssignRole(c *gin.Context) {
	var req AssignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "user_id and role are required")
		return
	}
	tenantID, ok := uuidParam(c, "id")
	if !ok {
		h.BadRequest(c, "Tenant ID must be a UUID")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.BadRequest(c, "user_id must be a UUID")
		return
	}

	if err := h.userService.AssignRole(c.Request.Context(), tenantID, userID, identity.Role(req.Role)); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

func (h *TenantHandler) transition(c *gin.Context, fn func(ctx context.Context, tenantID uuid.UUID) (*identity.Tenant, error)) {
	tenantID, ok := uuidParam(c, "id")
	if !ok {
		h.BadRequest(c, "Tenant ID must be a UUID")
		return
	}
	tenant, err := fn(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toTenantResponse(tenant))
}
