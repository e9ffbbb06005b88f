package shared

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// IsRetryable reports whether the error is transient and the operation
// may be retried by the caller (with backoff).
func (e *DomainError) IsRetryable() bool {
	return e.Code == "LOCK_TIMEOUT" || e.Code == "GATEWAY_FAILURE"
}

// Common domain errors
var (
	ErrNotFound            = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists       = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput        = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrConcurrencyConflict = NewDomainError("CONCURRENCY_CONFLICT", "Resource was modified by another process")
	ErrUnauthorized        = NewDomainError("UNAUTHORIZED", "Not authorized to perform this action")
	ErrForbidden           = NewDomainError("FORBIDDEN", "Access to this resource is forbidden")
	ErrInvalidState        = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
)

// Billing engine errors
var (
	// ErrMissingTenantContext indicates a billing call without a tenant.
	// This is a programming error, never a user-facing condition.
	ErrMissingTenantContext = NewDomainError("MISSING_TENANT_CONTEXT", "Billing operation invoked without a tenant context")

	// ErrInsufficientCredit indicates a debit would violate the tenant's credit policy
	ErrInsufficientCredit = NewDomainError("INSUFFICIENT_CREDIT", "Insufficient credit balance")

	// ErrNoTierDefined indicates no pricing tier covers the requested usage
	ErrNoTierDefined = NewDomainError("NO_TIER_DEFINED", "No pricing tier defined for this usage")

	// ErrTierGap indicates a hole in a tier schedule; schedules are validated
	// at configuration time, so hitting this during resolution is a fail-fast signal
	ErrTierGap = NewDomainError("TIER_GAP", "Pricing tiers are not contiguous")

	// ErrLockTimeout indicates the per-tenant serialization lock could not be
	// acquired within the bounded wait. Retryable.
	ErrLockTimeout = NewDomainError("LOCK_TIMEOUT", "Timed out waiting for tenant lock")

	// ErrGatewayFailure indicates the payment gateway rejected or failed a charge.
	// Recoverable: the invoice stays open and payment is retried.
	ErrGatewayFailure = NewDomainError("GATEWAY_FAILURE", "Payment gateway request failed")

	// ErrDuplicatePeriod indicates an invoice already exists for the subscription period
	ErrDuplicatePeriod = NewDomainError("DUPLICATE_PERIOD", "An invoice already exists for this billing period")

	// ErrPeriodClosed indicates usage was reported for an already-invoiced period
	ErrPeriodClosed = NewDomainError("PERIOD_CLOSED", "Billing period is closed for new usage")
)
