package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/audit"
	"github.com/saaskit/backend/internal/domain/billing"
	"github.com/saaskit/backend/internal/domain/invoicing"
	"github.com/saaskit/backend/internal/domain/ledger"
	"github.com/saaskit/backend/internal/domain/subscription"
)

// TenantLocker serializes billing mutations per tenant. Acquire blocks until
// the tenant's lock row is held by the current transaction or the bounded
// wait elapses, in which case it returns LOCK_TIMEOUT.
type TenantLocker interface {
	Acquire(ctx context.Context, tenantID uuid.UUID) error
}

// TransactionScope runs a function with all billing repositories bound to one
// database transaction. If the function returns an error the transaction is
// rolled back; otherwise it is committed.
type TransactionScope interface {
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories exposes the repositories participating in a
// billing transaction. All of them share the same underlying transaction,
// which is what makes the audit-first guarantee and all-or-nothing invoice
// builds possible.
type TransactionalRepositories interface {
	UsageRecords() billing.UsageRecordRepository
	UsageAdjustments() billing.UsageAdjustmentRepository
	ClosedPeriods() billing.ClosedPeriodRepository
	Ledger() ledger.EntryRepository
	Invoices() invoicing.InvoiceRepository
	Subscriptions() subscription.SubscriptionRepository
	Coupons() subscription.CouponRepository
	AuditRecords() audit.RecordRepository
	TenantLock() TenantLocker
}

// NoOpTransactionScope executes functions without a real transaction. Used in
// tests where repositories are in-memory fakes.
type NoOpTransactionScope struct {
	repos TransactionalRepositories
}

// NewNoOpTransactionScope creates a scope over the given repositories
func NewNoOpTransactionScope(repos TransactionalRepositories) *NoOpTransactionScope {
	return &NoOpTransactionScope{repos: repos}
}

// Execute runs fn against the fixed repository set
func (s *NoOpTransactionScope) Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(s.repos)
}

// StaticRepositories is a simple TransactionalRepositories implementation
// assembled from individual repositories.
type StaticRepositories struct {
	UsageRecordRepo     billing.UsageRecordRepository
	UsageAdjustmentRepo billing.UsageAdjustmentRepository
	ClosedPeriodRepo    billing.ClosedPeriodRepository
	LedgerRepo          ledger.EntryRepository
	InvoiceRepo         invoicing.InvoiceRepository
	SubscriptionRepo    subscription.SubscriptionRepository
	CouponRepo          subscription.CouponRepository
	AuditRepo           audit.RecordRepository
	Locker              TenantLocker
}

func (r *StaticRepositories) UsageRecords() billing.UsageRecordRepository { return r.UsageRecordRepo }
func (r *StaticRepositories) UsageAdjustments() billing.UsageAdjustmentRepository {
	return r.UsageAdjustmentRepo
}
func (r *StaticRepositories) ClosedPeriods() billing.ClosedPeriodRepository {
	return r.ClosedPeriodRepo
}
func (r *StaticRepositories) Ledger() ledger.EntryRepository                  { return r.LedgerRepo }
func (r *StaticRepositories) Invoices() invoicing.InvoiceRepository          { return r.InvoiceRepo }
func (r *StaticRepositories) Subscriptions() subscription.SubscriptionRepository {
	return r.SubscriptionRepo
}
func (r *StaticRepositories) Coupons() subscription.CouponRepository { return r.CouponRepo }
func (r *StaticRepositories) AuditRecords() audit.RecordRepository   { return r.AuditRepo }
func (r *StaticRepositories) TenantLock() TenantLocker               { return r.Locker }
