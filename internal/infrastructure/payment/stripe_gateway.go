package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/application/billing"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/customer"
	"github.com/stripe/stripe-go/v81/invoice"
	"github.com/stripe/stripe-go/v81/invoiceitem"
	"go.uber.org/zap"
)

// StripeConfig holds configuration for the Stripe gateway
type StripeConfig struct {
	// SecretKey is the Stripe secret API key (sk_test_xxx or sk_live_xxx)
	SecretKey string

	// IsTestMode indicates if using Stripe test mode
	IsTestMode bool
}

// Validate validates the Stripe configuration
func (c *StripeConfig) Validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("stripe: secret key is required")
	}

	if c.IsTestMode {
		if len(c.SecretKey) > 7 && c.SecretKey[:7] != "sk_test" {
			return fmt.Errorf("stripe: test mode enabled but secret key is not a test key")
		}
	} else {
		if len(c.SecretKey) > 7 && c.SecretKey[:7] != "sk_live" {
			return fmt.Errorf("stripe: live mode enabled but secret key is not a live key")
		}
	}

	return nil
}

// StripeGateway collects invoice balances through Stripe. Each charge creates
// a one-off Stripe invoice for the tenant's Stripe customer and pays it with
// the customer's default payment method.
type StripeGateway struct {
	config *StripeConfig
	logger *zap.Logger

	mu        sync.Mutex
	customers map[uuid.UUID]string // tenant ID -> Stripe customer ID
}

// NewStripeGateway creates a new Stripe payment gateway
func NewStripeGateway(config *StripeConfig, logger *zap.Logger) (*StripeGateway, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	stripe.Key = config.SecretKey

	return &StripeGateway{
		config:    config,
		logger:    logger,
		customers: make(map[uuid.UUID]string),
	}, nil
}

// Charge collects the invoice balance. Any Stripe failure is reported as a
// recoverable gateway failure so the caller keeps the invoice open and
// retries collection later.
func (g *StripeGateway) Charge(ctx context.Context, req billing.ChargeRequest) (*billing.ChargeResult, error) {
	g.logger.Debug("charging through Stripe",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("invoice_id", req.InvoiceID.String()),
		zap.String("amount", req.Amount.String()),
		zap.String("currency", req.Currency))

	customerID, err := g.ensureCustomer(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrGatewayFailure, err)
	}

	// Two-decimal currencies only; the amount is converted to minor units
	minorUnits := req.Amount.Shift(2).Round(0).IntPart()
	currency := strings.ToLower(req.Currency)

	itemParams := &stripe.InvoiceItemParams{
		Customer:    stripe.String(customerID),
		Amount:      stripe.Int64(minorUnits),
		Currency:    stripe.String(currency),
		Description: stripe.String(fmt.Sprintf("Invoice %s", req.InvoiceID)),
	}
	itemParams.Context = ctx
	if _, err := invoiceitem.New(itemParams); err != nil {
		g.logger.Error("failed to create Stripe invoice item",
			zap.String("invoice_id", req.InvoiceID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", shared.ErrGatewayFailure, err)
	}

	invParams := &stripe.InvoiceParams{
		Customer:                    stripe.String(customerID),
		CollectionMethod:            stripe.String("charge_automatically"),
		AutoAdvance:                 stripe.Bool(false),
		PendingInvoiceItemsBehavior: stripe.String("include"),
		Metadata: map[string]string{
			"tenant_id":  req.TenantID.String(),
			"invoice_id": req.InvoiceID.String(),
		},
	}
	invParams.Context = ctx
	inv, err := invoice.New(invParams)
	if err != nil {
		g.logger.Error("failed to create Stripe invoice",
			zap.String("invoice_id", req.InvoiceID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", shared.ErrGatewayFailure, err)
	}

	payParams := &stripe.InvoicePayParams{}
	payParams.Context = ctx
	payParams.AddExpand("payment_intent")
	paid, err := invoice.Pay(inv.ID, payParams)
	if err != nil {
		g.logger.Error("failed to pay Stripe invoice",
			zap.String("invoice_id", req.InvoiceID.String()),
			zap.String("stripe_invoice_id", inv.ID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", shared.ErrGatewayFailure, err)
	}

	result := &billing.ChargeResult{
		GatewayInvoiceID: paid.ID,
		PDFURL:           paid.InvoicePDF,
	}
	if paid.PaymentIntent != nil {
		result.TransactionID = paid.PaymentIntent.ID
	}

	g.logger.Info("Stripe charge collected",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("invoice_id", req.InvoiceID.String()),
		zap.String("stripe_invoice_id", paid.ID))

	return result, nil
}

// ensureCustomer resolves the tenant's Stripe customer, creating one on first
// use. Customers carry the tenant ID in metadata so restarts can find them.
func (g *StripeGateway) ensureCustomer(ctx context.Context, tenantID uuid.UUID) (string, error) {
	g.mu.Lock()
	if id, ok := g.customers[tenantID]; ok {
		g.mu.Unlock()
		return id, nil
	}
	g.mu.Unlock()

	searchParams := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Query:   fmt.Sprintf("metadata['tenant_id']:'%s'", tenantID),
			Context: ctx,
		},
	}
	iter := customer.Search(searchParams)
	for iter.Next() {
		found := iter.Customer()
		g.rememberCustomer(tenantID, found.ID)
		return found.ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("failed to search Stripe customers: %w", err)
	}

	createParams := &stripe.CustomerParams{
		Description: stripe.String(fmt.Sprintf("tenant %s", tenantID)),
		Metadata: map[string]string{
			"tenant_id": tenantID.String(),
		},
	}
	createParams.Context = ctx
	created, err := customer.New(createParams)
	if err != nil {
		return "", fmt.Errorf("failed to create Stripe customer: %w", err)
	}

	g.logger.Info("created Stripe customer",
		zap.String("tenant_id", tenantID.String()),
		zap.String("customer_id", created.ID))

	g.rememberCustomer(tenantID, created.ID)
	return created.ID, nil
}

func (g *StripeGateway) rememberCustomer(tenantID uuid.UUID, customerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.customers[tenantID] = customerID
}

// Ensure StripeGateway implements PaymentGateway
var _ billing.PaymentGateway = (*StripeGateway)(nil)
