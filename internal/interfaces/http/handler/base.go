package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appbilling "github.com/saaskit/backend/internal/application/billing"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/saaskit/backend/internal/interfaces/http/dto"
	"github.com/saaskit/backend/internal/interfaces/http/middleware"
)

// BaseHandler provides the response and error helpers shared by all handlers
type BaseHandler struct{}

func requestID(c *gin.Context) string {
	return c.GetString(middleware.RequestIDContextKey)
}

// tenantID resolves the authenticated tenant from the token claims
func tenantID(c *gin.Context) (uuid.UUID, error) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		return uuid.Nil, shared.ErrUnauthorized
	}
	id, err := claims.GetTenantUUID()
	if err != nil {
		return uuid.Nil, shared.ErrMissingTenantContext
	}
	return id, nil
}

// actor resolves the authenticated user as a billing actor
func actor(c *gin.Context) (appbilling.Actor, error) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		return appbilling.Actor{}, shared.ErrUnauthorized
	}
	userID, err := claims.GetUserUUID()
	if err != nil {
		return appbilling.Actor{}, shared.ErrUnauthorized
	}
	return appbilling.UserActor(userID), nil
}

// uuidParam parses a UUID path parameter
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Success sends a 200 envelope
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a 200 envelope with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 envelope
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// NoContent sends a 204
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends a 400 for malformed requests
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, dto.NewErrorResponse(dto.CodeBadRequest, message, requestID(c)))
}

// HandleError translates a service error into the response envelope. Domain
// errors map through the code table; anything else is an opaque 500.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		status := dto.HTTPStatusForCode(domainErr.Code)
		c.JSON(status, dto.NewErrorResponse(domainErr.Code, domainErr.Message, requestID(c)))
		return
	}

	c.JSON(http.StatusInternalServerError,
		dto.NewErrorResponse(dto.CodeInternal, "An unexpected error occurred", requestID(c)))
}
