package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/audit"
	"github.com/shopspring/decimal"
)

// IdempotencyStore deduplicates delivery of usage events. Keys are reserved
// before the write and released on failure, so a crashed request can be
// retried with the same key.
type IdempotencyStore interface {
	// Reserve claims the key; returns false if it was already claimed
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release frees a claimed key after a failed write
	Release(ctx context.Context, key string) error
}

// IntegritySigner seals audit records with a checksum and signature
type IntegritySigner interface {
	Seal(record *audit.Record) error
	Verify(record *audit.Record) error
}

// ChargeRequest asks the payment gateway to collect an invoice balance
type ChargeRequest struct {
	TenantID  uuid.UUID
	InvoiceID uuid.UUID
	Amount    decimal.Decimal
	Currency  string
}

// ChargeResult is the gateway's answer to a successful charge
type ChargeResult struct {
	TransactionID    string
	GatewayInvoiceID string
	PDFURL           string
}

// PaymentGateway is the outbound port to the payment provider. Failures are
// recoverable: callers keep the invoice open and retry collection.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}
