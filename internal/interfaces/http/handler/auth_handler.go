package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appidentity "github.com/saaskit/backend/internal/application/identity"
	"github.com/saaskit/backend/internal/domain/identity"
)

// AuthHandler exposes the public registration and login endpoints
type AuthHandler struct {
	BaseHandler
	authService *appidentity.AuthService
}

// NewAuthHandler creates an auth handler
func NewAuthHandler(authService *appidentity.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// UserResponse is the representation of a user account. Password material
// never leaves the domain layer.
type UserResponse struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

func toUserResponse(user *identity.User) UserResponse {
	return UserResponse{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		IsActive:    user.IsActive,
		CreatedAt:   user.CreatedAt,
	}
}

// RegisterRequest is the body of POST /auth/register
type RegisterRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	DisplayName string `json:"display_name"`
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "A valid email and a password of at least 8 characters are required")
		return
	}
	user, err := h.authService.Register(c.Request.Context(), appidentity.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, toUserResponse(user))
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required"`
	TenantSlug string `json:"tenant_slug" binding:"required"`
}

// LoginResponse carries the issued token and the authenticated identity
type LoginResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        UserResponse `json:"user"`
	TenantID    uuid.UUID    `json:"tenant_id"`
	Roles       []string     `json:"roles"`
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "email, password and tenant_slug are required")
		return
	}
	result, err := h.authService.Login(c.Request.Context(), appidentity.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		TenantSlug: req.TenantSlug,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	roles := make([]string, 0, len(result.Roles))
	for _, role := range result.Roles {
		roles = append(roles, string(role))
	}
	h.Success(c, LoginResponse{
		AccessToken: result.Token.AccessToken,
		TokenType:   result.Token.TokenType,
		ExpiresAt:   result.Token.ExpiresAt,
		User:        toUserResponse(result.User),
		TenantID:    result.Tenant.ID,
		Roles:       roles,
	})
}
