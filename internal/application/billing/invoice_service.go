package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/audit"
	"github.com/saaskit/backend/internal/domain/billing"
	"github.com/saaskit/backend/internal/domain/identity"
	"github.com/saaskit/backend/internal/domain/invoicing"
	"github.com/saaskit/backend/internal/domain/ledger"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/saaskit/backend/internal/domain/subscription"
	"github.com/saaskit/backend/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InvoiceService builds and transitions invoices. A build runs entirely
// inside one transaction holding the tenant lock: the invoice with all line
// items, the credit deduction, the period close and the audit records either
// all commit or none do. The unique (subscription, period_end) index is the
// backstop if two builds race past the lock.
type InvoiceService struct {
	scope       TransactionScope
	builder     *invoicing.Builder
	tenantRepo  identity.TenantRepository
	planRepo    subscription.PlanRepository
	priceRepo   subscription.PlanPriceRepository
	featureRepo billing.FeatureRepository
	tierRepo    billing.FeatureTierRepository
	taxPolicy   invoicing.TaxPolicy
	gateway     PaymentGateway
	auditor     *auditWriter
	logger      *zap.Logger
}

// NewInvoiceService creates an invoice service
func NewInvoiceService(
	scope TransactionScope,
	tenantRepo identity.TenantRepository,
	planRepo subscription.PlanRepository,
	priceRepo subscription.PlanPriceRepository,
	featureRepo billing.FeatureRepository,
	tierRepo billing.FeatureTierRepository,
	taxPolicy invoicing.TaxPolicy,
	gateway PaymentGateway,
	signer IntegritySigner,
	logger *zap.Logger,
) *InvoiceService {
	return &InvoiceService{
		scope:       scope,
		builder:     invoicing.NewBuilder(),
		tenantRepo:  tenantRepo,
		planRepo:    planRepo,
		priceRepo:   priceRepo,
		featureRepo: featureRepo,
		tierRepo:    tierRepo,
		taxPolicy:   taxPolicy,
		gateway:     gateway,
		auditor:     newAuditWriter(signer),
		logger:      logger,
	}
}

// BuildInvoiceInput identifies the subscription whose current period is billed
type BuildInvoiceInput struct {
	TenantID       uuid.UUID
	SubscriptionID uuid.UUID
	Actor          Actor
}

// BuildInvoiceResult is the persisted draft invoice and the credit consumed
type BuildInvoiceResult struct {
	Invoice       *invoicing.Invoice
	CreditApplied decimal.Decimal
}

// BuildInvoice assembles and persists the draft invoice for the
// subscription's current period. Building twice for the same period returns
// DUPLICATE_PERIOD and leaves exactly one invoice behind.
func (s *InvoiceService) BuildInvoice(ctx context.Context, input BuildInvoiceInput) (*BuildInvoiceResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "invoice", "build",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, input.TenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrSubscriptionID, input.SubscriptionID.String()),
	)
	defer span.End()

	if input.TenantID == uuid.Nil {
		err := shared.ErrMissingTenantContext
		telemetry.RecordError(span, err)
		return nil, err
	}

	tenant, err := s.tenantRepo.FindByID(ctx, input.TenantID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}
	if tenant == nil {
		return nil, shared.ErrNotFound
	}
	if !tenant.IsBillable() {
		return nil, shared.NewDomainError("TENANT_NOT_BILLABLE", "Tenant is not in a billable state")
	}

	var result *BuildInvoiceResult
	err = withRetry(ctx, s.logger, "invoice.build", func() error {
		return s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
			var buildErr error
			result, buildErr = s.buildLocked(ctx, repos, tenant, input)
			return buildErr
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	telemetry.AddEvent(span, "invoice_built",
		telemetry.SpanAttrInvoiceID, result.Invoice.ID.String(),
		telemetry.SpanAttrAmount, result.Invoice.AmountDue.String(),
	)
	s.logger.Info("invoice built",
		zap.String("tenant_id", input.TenantID.String()),
		zap.String("invoice_id", result.Invoice.ID.String()),
		zap.String("amount_due", result.Invoice.AmountDue.String()),
	)
	return result, nil
}

// buildLocked performs the build with the tenant lock held
func (s *InvoiceService) buildLocked(ctx context.Context, repos TransactionalRepositories, tenant *identity.Tenant, input BuildInvoiceInput) (*BuildInvoiceResult, error) {
	if err := repos.TenantLock().Acquire(ctx, input.TenantID); err != nil {
		return nil, err
	}

	sub, err := repos.Subscriptions().FindByID(ctx, input.TenantID, input.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if sub == nil {
		return nil, shared.ErrNotFound
	}

	existing, err := repos.Invoices().FindByPeriod(ctx, sub.ID, sub.CurrentPeriodEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to check for an existing invoice: %w", err)
	}
	if existing != nil {
		return nil, shared.ErrDuplicatePeriod
	}

	price, err := s.priceRepo.FindByID(ctx, sub.PlanPriceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan price: %w", err)
	}
	plan, err := s.planRepo.FindByID(ctx, sub.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	if price == nil || plan == nil {
		return nil, shared.NewDomainError("INVALID_PLAN", "Subscription references a missing plan or price")
	}

	charges, carried, err := s.collectUsageCharges(ctx, repos, tenant, sub, price)
	if err != nil {
		return nil, err
	}
	discounts, err := s.collectDiscounts(ctx, repos, sub)
	if err != nil {
		return nil, err
	}
	availableCredit, err := s.availableCredit(ctx, repos, input.TenantID)
	if err != nil {
		return nil, err
	}

	built, err := s.builder.Build(invoicing.BuildInput{
		Subscription:    sub,
		Price:           price,
		PlanName:        plan.Name,
		UsageCharges:    charges,
		Discounts:       discounts,
		TaxPolicy:       s.taxPolicy,
		AvailableCredit: availableCredit,
	})
	if err != nil {
		return nil, err
	}
	invoice := built.Invoice

	if err := repos.Invoices().Save(ctx, invoice); err != nil {
		return nil, fmt.Errorf("failed to persist invoice: %w", err)
	}

	if len(carried) > 0 {
		if err := repos.UsageAdjustments().MarkApplied(ctx, carried, invoice.ID); err != nil {
			return nil, fmt.Errorf("failed to mark adjustments billed: %w", err)
		}
	}

	if built.CreditApplied.IsPositive() {
		if err := s.deductCredit(ctx, repos, tenant, invoice, built.CreditApplied, input.Actor); err != nil {
			return nil, err
		}
	}

	for _, charge := range charges {
		period, err := billing.NewClosedPeriod(input.TenantID, charge.Feature.ID, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
		if err != nil {
			return nil, err
		}
		if err := repos.ClosedPeriods().Create(ctx, period); err != nil {
			return nil, fmt.Errorf("failed to close billing period: %w", err)
		}
	}

	if err := s.auditor.write(ctx, repos.AuditRecords(), input.TenantID, input.Actor,
		"invoice.built", audit.TargetKindInvoice, invoice.ID, nil, invoiceSnapshot(invoice)); err != nil {
		return nil, err
	}

	return &BuildInvoiceResult{Invoice: invoice, CreditApplied: built.CreditApplied}, nil
}

// collectUsageCharges aggregates every metered feature with a tier schedule
// under the subscription's price, folding in adjustments carried over from
// closed periods. Tier positions reset at each period boundary, so the
// cumulative offset for a fresh period is zero. The second return value
// lists the adjustment IDs that must be marked billed if the invoice
// persists.
func (s *InvoiceService) collectUsageCharges(ctx context.Context, repos TransactionalRepositories, tenant *identity.Tenant, sub *subscription.Subscription, price *subscription.PlanPrice) ([]invoicing.UsageCharge, []uuid.UUID, error) {
	if !tenant.MetersUsage() {
		return nil, nil, nil
	}

	features, err := s.featureRepo.ListMetered(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list metered features: %w", err)
	}

	var charges []invoicing.UsageCharge
	var carried []uuid.UUID
	for _, feature := range features {
		schedule, err := s.tierRepo.ScheduleFor(ctx, feature.ID, price.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load tier schedule for %s: %w", feature.Codename, err)
		}
		if schedule == nil {
			// feature is not priced under this plan price
			continue
		}
		agg, err := repos.UsageRecords().SumForPeriod(ctx, tenant.ID, feature.ID, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to aggregate %s usage: %w", feature.Codename, err)
		}
		if agg == nil {
			agg = &billing.AggregatedUsage{
				TenantID:      tenant.ID,
				FeatureID:     feature.ID,
				PeriodStart:   sub.CurrentPeriodStart,
				PeriodEnd:     sub.CurrentPeriodEnd,
				QuantityTotal: decimal.Zero,
			}
		}
		pending, err := repos.UsageAdjustments().FindPending(ctx, tenant.ID, feature.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load pending adjustments for %s: %w", feature.Codename, err)
		}
		for _, adjustment := range pending {
			agg.AddAdjustment(adjustment)
			carried = append(carried, adjustment.ID)
		}
		if agg.IsEmpty() {
			continue
		}
		charges = append(charges, invoicing.UsageCharge{
			Feature:          feature,
			Schedule:         schedule,
			Aggregated:       agg,
			CumulativeBefore: decimal.Zero,
		})
	}
	return charges, carried, nil
}

// collectDiscounts loads the subscription's discounts with their coupons, in
// creation order
func (s *InvoiceService) collectDiscounts(ctx context.Context, repos TransactionalRepositories, sub *subscription.Subscription) ([]invoicing.AppliedDiscount, error) {
	discounts, err := repos.Coupons().DiscountsOf(ctx, sub.TenantID, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load discounts: %w", err)
	}
	applied := make([]invoicing.AppliedDiscount, 0, len(discounts))
	for _, discount := range discounts {
		coupon, err := repos.Coupons().FindByID(ctx, discount.CouponID)
		if err != nil {
			return nil, fmt.Errorf("failed to load coupon: %w", err)
		}
		if coupon == nil {
			return nil, shared.NewDomainError("INVALID_DISCOUNT", "Discount references a missing coupon")
		}
		applied = append(applied, invoicing.AppliedDiscount{Discount: discount, Coupon: coupon})
	}
	return applied, nil
}

// availableCredit reads the positive part of the tenant's ledger balance
func (s *InvoiceService) availableCredit(ctx context.Context, repos TransactionalRepositories, tenantID uuid.UUID) (decimal.Decimal, error) {
	tail, err := repos.Ledger().Tail(ctx, tenantID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read ledger tail: %w", err)
	}
	if tail == nil || !tail.BalanceAfter.IsPositive() {
		return decimal.Zero, nil
	}
	return tail.BalanceAfter, nil
}

// deductCredit posts the usage deduction matching the invoice's credit line
func (s *InvoiceService) deductCredit(ctx context.Context, repos TransactionalRepositories, tenant *identity.Tenant, invoice *invoicing.Invoice, amount decimal.Decimal, actor Actor) error {
	tail, err := repos.Ledger().Tail(ctx, tenant.ID)
	if err != nil {
		return fmt.Errorf("failed to read ledger tail: %w", err)
	}
	previousBalance := decimal.Zero
	if tail != nil {
		previousBalance = tail.BalanceAfter
	}

	entry, err := ledger.NewEntry(tenant.ID, ledger.EntryTypeUsageDeduction, amount.Neg(), previousBalance, tenant.CreditPolicy)
	if err != nil {
		return err
	}
	entry.WithDescription(fmt.Sprintf("Credit applied to invoice %s", invoice.Number))
	entry.WithActor(ledger.ActorType(actor.Type), actor.ID)

	var creditLine *invoicing.LineItem
	for _, line := range invoice.LineItems {
		if line.Type == invoicing.LineItemTypeCredit {
			creditLine = line
			break
		}
	}
	if creditLine != nil {
		entry.WithReference("invoice_line_item", creditLine.ID)
	}

	if err := repos.Ledger().Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append credit deduction: %w", err)
	}
	return s.auditor.write(ctx, repos.AuditRecords(), tenant.ID, actor,
		"ledger.post", audit.TargetKindLedgerEntry, entry.ID, nil, entry)
}

// FinalizeInvoice freezes the draft and opens it for payment. When a gateway
// is configured and a balance remains, collection is attempted immediately;
// a gateway failure leaves the invoice open for retry and is not an error of
// the finalize operation itself.
func (s *InvoiceService) FinalizeInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID, dueDate time.Time, actor Actor) (*invoicing.Invoice, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "invoice", "finalize",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrInvoiceID, invoiceID.String()),
	)
	defer span.End()

	invoice, err := s.transition(ctx, tenantID, invoiceID, actor, "invoice.finalized", func(inv *invoicing.Invoice) error {
		return inv.Finalize(dueDate)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if s.gateway != nil && invoice.Remaining().IsPositive() {
		invoice, err = s.collect(ctx, invoice, actor)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	} else if invoice.Status == invoicing.StatusOpen && !invoice.Remaining().IsPositive() {
		// fully covered by applied credit
		invoice, err = s.transition(ctx, tenantID, invoiceID, actor, "invoice.paid", func(inv *invoicing.Invoice) error {
			return inv.MarkPaid()
		})
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}
	return invoice, nil
}

// collect attempts gateway collection of the open balance. Gateway failures
// are recoverable: they are audited and logged, and the invoice stays open.
func (s *InvoiceService) collect(ctx context.Context, invoice *invoicing.Invoice, actor Actor) (*invoicing.Invoice, error) {
	result, chargeErr := s.gateway.Charge(ctx, ChargeRequest{
		TenantID:  invoice.TenantID,
		InvoiceID: invoice.ID,
		Amount:    invoice.Remaining(),
		Currency:  invoice.Currency,
	})
	if chargeErr != nil {
		s.logger.Warn("payment collection failed, invoice stays open",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Error(chargeErr),
		)
		auditErr := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
			return s.auditor.write(ctx, repos.AuditRecords(), invoice.TenantID, actor,
				"invoice.payment_failed", audit.TargetKindInvoice, invoice.ID, nil,
				map[string]string{"error": chargeErr.Error()})
		})
		if auditErr != nil {
			return nil, auditErr
		}
		return invoice, nil
	}

	return s.transition(ctx, invoice.TenantID, invoice.ID, actor, "invoice.paid", func(inv *invoicing.Invoice) error {
		inv.AttachGateway(result.GatewayInvoiceID, result.PDFURL)
		return inv.RecordPayment(inv.Remaining())
	})
}

// MarkPaid settles an open invoice out of band (e.g. wire transfer)
func (s *InvoiceService) MarkPaid(ctx context.Context, tenantID, invoiceID uuid.UUID, actor Actor) (*invoicing.Invoice, error) {
	return s.transition(ctx, tenantID, invoiceID, actor, "invoice.paid", func(inv *invoicing.Invoice) error {
		return inv.MarkPaid()
	})
}

// MarkUncollectible writes an open invoice off
func (s *InvoiceService) MarkUncollectible(ctx context.Context, tenantID, invoiceID uuid.UUID, actor Actor) (*invoicing.Invoice, error) {
	return s.transition(ctx, tenantID, invoiceID, actor, "invoice.uncollectible", func(inv *invoicing.Invoice) error {
		return inv.MarkUncollectible()
	})
}

// Void cancels an open, unpaid invoice
func (s *InvoiceService) Void(ctx context.Context, tenantID, invoiceID uuid.UUID, actor Actor) (*invoicing.Invoice, error) {
	return s.transition(ctx, tenantID, invoiceID, actor, "invoice.voided", func(inv *invoicing.Invoice) error {
		return inv.Void()
	})
}

// transition loads the invoice under the tenant lock, applies fn, persists
// the result and audits the state change with before/after snapshots.
func (s *InvoiceService) transition(ctx context.Context, tenantID, invoiceID uuid.UUID, actor Actor, action string, fn func(*invoicing.Invoice) error) (*invoicing.Invoice, error) {
	if tenantID == uuid.Nil {
		return nil, shared.ErrMissingTenantContext
	}

	var invoice *invoicing.Invoice
	err := withRetry(ctx, s.logger, action, func() error {
		return s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
			if err := repos.TenantLock().Acquire(ctx, tenantID); err != nil {
				return err
			}
			loaded, err := repos.Invoices().FindByID(ctx, tenantID, invoiceID)
			if err != nil {
				return fmt.Errorf("failed to load invoice: %w", err)
			}
			if loaded == nil {
				return shared.ErrNotFound
			}
			before := invoiceSnapshot(loaded)
			if err := fn(loaded); err != nil {
				return err
			}
			if err := repos.Invoices().Update(ctx, loaded); err != nil {
				return fmt.Errorf("failed to persist invoice: %w", err)
			}
			invoice = loaded
			return s.auditor.write(ctx, repos.AuditRecords(), tenantID, actor,
				action, audit.TargetKindInvoice, loaded.ID, before, invoiceSnapshot(loaded))
		})
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// GetInvoice loads one invoice with its line items
func (s *InvoiceService) GetInvoice(ctx context.Context, tenantID, invoiceID uuid.UUID) (*invoicing.Invoice, error) {
	if tenantID == uuid.Nil {
		return nil, shared.ErrMissingTenantContext
	}
	var invoice *invoicing.Invoice
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		invoice, err = repos.Invoices().FindByID(ctx, tenantID, invoiceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, shared.ErrNotFound
	}
	return invoice, nil
}

// ListInvoices returns the tenant's invoices, most recent first
func (s *InvoiceService) ListInvoices(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*invoicing.Invoice, error) {
	if tenantID == uuid.Nil {
		return nil, shared.ErrMissingTenantContext
	}
	var invoices []*invoicing.Invoice
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		invoices, err = repos.Invoices().ListByTenant(ctx, tenantID, limit, offset)
		return err
	})
	return invoices, err
}

// invoiceSnapshot is the audit projection of an invoice's monetary state
func invoiceSnapshot(inv *invoicing.Invoice) map[string]string {
	return map[string]string{
		"status":         string(inv.Status),
		"subtotal":       inv.Subtotal.String(),
		"tax_total":      inv.TaxTotal.String(),
		"discount_total": inv.DiscountTotal.String(),
		"amount_due":     inv.AmountDue.String(),
		"amount_paid":    inv.AmountPaid.String(),
	}
}
