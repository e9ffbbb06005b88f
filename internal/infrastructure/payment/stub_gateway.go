package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/saaskit/backend/internal/application/billing"
	"go.uber.org/zap"
)

// StubGateway is the development gateway: every charge succeeds and gets a
// deterministic transaction ID. It keeps billing flows end-to-end runnable
// without Stripe credentials.
type StubGateway struct {
	logger *zap.Logger

	mu      sync.Mutex
	counter int
}

// NewStubGateway creates a stub payment gateway
func NewStubGateway(logger *zap.Logger) *StubGateway {
	return &StubGateway{logger: logger}
}

// Charge records the request and reports success
func (g *StubGateway) Charge(ctx context.Context, req billing.ChargeRequest) (*billing.ChargeResult, error) {
	g.mu.Lock()
	g.counter++
	seq := g.counter
	g.mu.Unlock()

	g.logger.Info("stub gateway charge accepted",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("invoice_id", req.InvoiceID.String()),
		zap.String("amount", req.Amount.String()),
		zap.String("currency", req.Currency))

	return &billing.ChargeResult{
		TransactionID:    fmt.Sprintf("stub_txn_%06d", seq),
		GatewayInvoiceID: fmt.Sprintf("stub_inv_%06d", seq),
		PDFURL:           "",
	}, nil
}

// Ensure StubGateway implements PaymentGateway
var _ billing.PaymentGateway = (*StubGateway)(nil)
