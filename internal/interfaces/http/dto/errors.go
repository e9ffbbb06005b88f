package dto

import (
	"net/http"
	"strings"
)

// domainErrorStatus maps domain error codes to HTTP status codes. Validation
// codes follow the INVALID_ prefix rule below; codes not covered by either
// fall back to 500 so an unclassified failure can never read as a client
// error.
var domainErrorStatus = map[string]int{
	// Resources
	"NOT_FOUND":      http.StatusNotFound,
	"ALREADY_EXISTS": http.StatusConflict,

	// Auth
	"UNAUTHORIZED": http.StatusUnauthorized,
	"FORBIDDEN":    http.StatusForbidden,

	// Request shape
	"MISSING_TENANT_CONTEXT": http.StatusBadRequest,
	"CROSS_TENANT_USAGE":     http.StatusBadRequest,

	// State machines and business rules
	"INVALID_STATE":       http.StatusUnprocessableEntity,
	"TENANT_NOT_BILLABLE": http.StatusUnprocessableEntity,
	"NO_TIER_DEFINED":     http.StatusUnprocessableEntity,
	"TIER_GAP":            http.StatusUnprocessableEntity,
	"TIER_OVERLAP":        http.StatusUnprocessableEntity,
	"COUPON_EXPIRED":      http.StatusUnprocessableEntity,
	"COUPON_EXHAUSTED":    http.StatusUnprocessableEntity,
	"COUPON_INACTIVE":     http.StatusUnprocessableEntity,

	// Billing outcomes
	"INSUFFICIENT_CREDIT":  http.StatusPaymentRequired,
	"DUPLICATE_PERIOD":     http.StatusConflict,
	"PERIOD_CLOSED":        http.StatusConflict,
	"CONCURRENCY_CONFLICT": http.StatusConflict,

	// Transient infrastructure failures: retryable by the client
	"LOCK_TIMEOUT":    http.StatusServiceUnavailable,
	"GATEWAY_FAILURE": http.StatusBadGateway,
}

// HTTPStatusForCode returns the HTTP status for a domain error code
func HTTPStatusForCode(code string) int {
	if status, ok := domainErrorStatus[code]; ok {
		return status
	}
	// Constructor validation codes all share the INVALID_ prefix
	if strings.HasPrefix(code, "INVALID_") {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Request-level error codes produced by the HTTP layer itself, not by the
// domain
const (
	CodeBadRequest = "BAD_REQUEST"
	CodeInternal   = "INTERNAL_ERROR"
)
