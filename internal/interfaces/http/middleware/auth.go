package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/saaskit/backend/internal/domain/identity"
	"github.com/saaskit/backend/internal/infrastructure/auth"
	"github.com/saaskit/backend/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// Context keys populated by the auth middleware
const (
	ClaimsKey     = "auth_claims"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// Authenticate validates the bearer token and stores the claims in the
// request context. Every route behind it runs with a resolved tenant and
// user.
func Authenticate(jwtService *auth.JWTService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(AuthHeaderKey)
		if !strings.HasPrefix(header, BearerPrefix) {
			abortUnauthorized(c, "Authentication required")
			return
		}
		token := strings.TrimPrefix(header, BearerPrefix)
		if token == "" {
			abortUnauthorized(c, "Authentication required")
			return
		}

		claims, err := jwtService.Validate(token)
		if err != nil {
			if logger != nil {
				logger.Debug("token rejected",
					zap.String("path", c.Request.URL.Path),
					zap.Error(err),
				)
			}
			if err == auth.ErrExpiredToken {
				abortUnauthorized(c, "Token has expired")
				return
			}
			abortUnauthorized(c, "Invalid token")
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// RequireCapability rejects the request unless the authenticated user's
// roles grant the capability
func RequireCapability(capability identity.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			abortUnauthorized(c, "Authentication required")
			return
		}
		if !claims.Can(capability) {
			requestID := c.GetString(RequestIDContextKey)
			c.AbortWithStatusJSON(http.StatusForbidden,
				dto.NewErrorResponse("FORBIDDEN", "Operation not permitted for your role", requestID))
			return
		}
		c.Next()
	}
}

// GetClaims returns the authenticated claims, or nil on unauthenticated
// routes
func GetClaims(c *gin.Context) *auth.Claims {
	if value, exists := c.Get(ClaimsKey); exists {
		if claims, ok := value.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}

func abortUnauthorized(c *gin.Context, message string) {
	requestID := c.GetString(RequestIDContextKey)
	c.AbortWithStatusJSON(http.StatusUnauthorized,
		dto.NewErrorResponse("UNAUTHORIZED", message, requestID))
}
