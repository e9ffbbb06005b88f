package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/audit"
	"github.com/saaskit/backend/internal/domain/identity"
	"github.com/saaskit/backend/internal/domain/ledger"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/saaskit/backend/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreditService posts to and reads from tenant credit ledgers. All writes are
// serialized per tenant: the transaction takes the tenant's lock row before
// reading the ledger tail, so concurrent posts cannot both read the same
// previous balance. Lock waits are bounded and surface as LOCK_TIMEOUT,
// which the service retries with backoff.
type CreditService struct {
	scope      TransactionScope
	tenantRepo identity.TenantRepository
	auditor    *auditWriter
	logger     *zap.Logger
}

// NewCreditService creates a credit service
func NewCreditService(scope TransactionScope, tenantRepo identity.TenantRepository, signer IntegritySigner, logger *zap.Logger) *CreditService {
	return &CreditService{
		scope:      scope,
		tenantRepo: tenantRepo,
		auditor:    newAuditWriter(signer),
		logger:     logger,
	}
}

// PostCreditInput describes one ledger movement
type PostCreditInput struct {
	TenantID      uuid.UUID
	Type          ledger.EntryType
	Amount        decimal.Decimal
	Description   string
	Actor         Actor
	ReferenceType string
	ReferenceID   *uuid.UUID
}

// Post appends a movement to the tenant's ledger. Credits carry positive
// amounts, debits negative; the tenant's credit policy is enforced against
// the resulting balance.
func (s *CreditService) Post(ctx context.Context, input PostCreditInput) (*ledger.Entry, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "credit", "post",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, input.TenantID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrEntryType, string(input.Type)),
		telemetry.WithAttribute(telemetry.SpanAttrAmount, input.Amount.String()),
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

	var entry *ledger.Entry
	err = withRetry(ctx, s.logger, "credit.post", func() error {
		return s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
			if err := repos.TenantLock().Acquire(ctx, input.TenantID); err != nil {
				return err
			}
			return s.appendEntry(ctx, repos, tenant.CreditPolicy, input, &entry)
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	telemetry.AddEvent(span, "ledger_entry_appended",
		"entry_id", entry.ID.String(),
		"balance_after", entry.BalanceAfter.String(),
	)
	return entry, nil
}

// appendEntry reads the ledger tail, builds the next entry and persists it
// with its audit record. Must run with the tenant lock held.
func (s *CreditService) appendEntry(ctx context.Context, repos TransactionalRepositories, policy identity.CreditPolicy, input PostCreditInput, out **ledger.Entry) error {
	tail, err := repos.Ledger().Tail(ctx, input.TenantID)
	if err != nil {
		return fmt.Errorf("failed to read ledger tail: %w", err)
	}
	previousBalance := decimal.Zero
	if tail != nil {
		previousBalance = tail.BalanceAfter
	}

	entry, err := ledger.NewEntry(input.TenantID, input.Type, input.Amount, previousBalance, policy)
	if err != nil {
		return err
	}
	entry.WithDescription(input.Description)
	entry.WithActor(ledger.ActorType(input.Actor.Type), input.Actor.ID)
	if input.ReferenceID != nil {
		entry.WithReference(input.ReferenceType, *input.ReferenceID)
	}

	if err := repos.Ledger().Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	if err := s.auditor.write(ctx, repos.AuditRecords(), input.TenantID, input.Actor,
		"ledger.post", audit.TargetKindLedgerEntry, entry.ID, nil, entry); err != nil {
		return err
	}

	*out = entry
	return nil
}

// Debit is a convenience wrapper that posts a usage deduction. amount is
// given positive and negated here.
func (s *CreditService) Debit(ctx context.Context, tenantID uuid.UUID, amount decimal.Decimal, description string, actor Actor, referenceType string, referenceID *uuid.UUID) (*ledger.Entry, error) {
	if !amount.IsPositive() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Debit amount must be positive")
	}
	return s.Post(ctx, PostCreditInput{
		TenantID:      tenantID,
		Type:          ledger.EntryTypeUsageDeduction,
		Amount:        amount.Neg(),
		Description:   description,
		Actor:         actor,
		ReferenceType: referenceType,
		ReferenceID:   referenceID,
	})
}

// CurrentBalance reads the tail entry's running balance. Zero for an empty
// ledger. This is the hot path: no summation, no lock.
func (s *CreditService) CurrentBalance(ctx context.Context, tenantID uuid.UUID) (decimal.Decimal, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "credit", "current_balance",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
	)
	defer span.End()

	if tenantID == uuid.Nil {
		return decimal.Zero, shared.ErrMissingTenantContext
	}

	var balance decimal.Decimal
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		tail, err := repos.Ledger().Tail(ctx, tenantID)
		if err != nil {
			return err
		}
		if tail != nil {
			balance = tail.BalanceAfter
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return decimal.Zero, err
	}
	return balance, nil
}

// History returns ledger entries in append order
func (s *CreditService) History(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*ledger.Entry, error) {
	if tenantID == uuid.Nil {
		return nil, shared.ErrMissingTenantContext
	}
	var entries []*ledger.Entry
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		entries, err = repos.Ledger().History(ctx, tenantID, limit, offset)
		return err
	})
	return entries, err
}

// Reconcile re-derives the tenant's balance from the full ledger and checks
// every entry's stored running balance. Audit path only.
func (s *CreditService) Reconcile(ctx context.Context, tenantID uuid.UUID) (decimal.Decimal, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "credit", "reconcile",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID.String()),
	)
	defer span.End()

	var balance decimal.Decimal
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		entries, err := repos.Ledger().All(ctx, tenantID)
		if err != nil {
			return err
		}
		balance, err = ledger.Reconcile(entries)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.Error("ledger reconciliation failed",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
		return decimal.Zero, err
	}
	return balance, nil
}
