package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	appbilling "github.com/saaskit/backend/internal/application/billing"
	"github.com/saaskit/backend/internal/domain/audit"
	"github.com/saaskit/backend/internal/domain/billing"
	"github.com/saaskit/backend/internal/domain/invoicing"
	"github.com/saaskit/backend/internal/domain/ledger"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/saaskit/backend/internal/domain/subscription"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// pgLockNotAvailable is the SQLSTATE Postgres raises when lock_timeout elapses
const pgLockNotAvailable = "55P03"

// TenantLockModel is the per-tenant lock row. Holding it FOR UPDATE inside a
// transaction serializes all billing mutations of that tenant.
type TenantLockModel struct {
	TenantID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for the model
func (TenantLockModel) TableName() string {
	return "tenant_billing_locks"
}

// GormTransactionScope implements the billing TransactionScope using GORM
// transactions. Every repository handed to fn shares one transaction, which
// is what makes audit-first writes and all-or-nothing invoice builds hold.
type GormTransactionScope struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

// NewGormTransactionScope creates a transaction scope. lockTimeout bounds how
// long a transaction waits for the tenant lock row before failing with
// LOCK_TIMEOUT.
func NewGormTransactionScope(db *gorm.DB, lockTimeout time.Duration) *GormTransactionScope {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &GormTransactionScope{db: db, lockTimeout: lockTimeout}
}

// Execute runs fn inside a database transaction. A returned error rolls the
// transaction back; success commits it.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos appbilling.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := &gormTransactionalRepositories{tx: tx, lockTimeout: s.lockTimeout}
		return fn(repos)
	})
}

// gormTransactionalRepositories binds every billing repository to one transaction
type gormTransactionalRepositories struct {
	tx          *gorm.DB
	lockTimeout time.Duration
}

func (r *gormTransactionalRepositories) UsageRecords() billing.UsageRecordRepository {
	return NewUsageRecordRepository(r.tx)
}

func (r *gormTransactionalRepositories) UsageAdjustments() billing.UsageAdjustmentRepository {
	return NewUsageAdjustmentRepository(r.tx)
}

func (r *gormTransactionalRepositories) ClosedPeriods() billing.ClosedPeriodRepository {
	return NewClosedPeriodRepository(r.tx)
}

func (r *gormTransactionalRepositories) Ledger() ledger.EntryRepository {
	return NewLedgerEntryRepository(r.tx)
}

func (r *gormTransactionalRepositories) Invoices() invoicing.InvoiceRepository {
	return NewInvoiceRepository(r.tx)
}

func (r *gormTransactionalRepositories) Subscriptions() subscription.SubscriptionRepository {
	return NewSubscriptionRepository(r.tx)
}

func (r *gormTransactionalRepositories) Coupons() subscription.CouponRepository {
	return NewCouponRepository(r.tx)
}

func (r *gormTransactionalRepositories) AuditRecords() audit.RecordRepository {
	return NewAuditRecordRepository(r.tx)
}

func (r *gormTransactionalRepositories) TenantLock() appbilling.TenantLocker {
	return &gormTenantLocker{tx: r.tx, lockTimeout: r.lockTimeout}
}

// gormTenantLocker acquires the tenant's lock row with SELECT ... FOR UPDATE.
// The row lock is released when the surrounding transaction ends.
type gormTenantLocker struct {
	tx          *gorm.DB
	lockTimeout time.Duration
}

// Acquire blocks until the tenant lock row is held by this transaction or the
// bounded wait elapses, mapped to LOCK_TIMEOUT.
func (l *gormTenantLocker) Acquire(ctx context.Context, tenantID uuid.UUID) error {
	if tenantID == uuid.Nil {
		return shared.ErrMissingTenantContext
	}

	tx := l.tx.WithContext(ctx)

	// The lock row is created lazily on the tenant's first billing mutation
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&TenantLockModel{TenantID: tenantID}).Error; err != nil {
		return fmt.Errorf("failed to ensure tenant lock row: %w", err)
	}

	// sqlite allows a single writer per database and knows neither
	// lock_timeout nor FOR UPDATE; the row lock is a postgres mechanism
	if tx.Dialector.Name() != "postgres" {
		return nil
	}

	// SET does not accept bind parameters; the timeout is an integer we format ourselves
	if err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", l.lockTimeout.Milliseconds())).Error; err != nil {
		return fmt.Errorf("failed to set lock timeout: %w", err)
	}

	var row TenantLockModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ?", tenantID).
		First(&row).Error
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return shared.ErrLockTimeout
		}
		return fmt.Errorf("failed to acquire tenant lock: %w", err)
	}
	return nil
}

// Ensure GormTransactionScope implements TransactionScope
var _ appbilling.TransactionScope = (*GormTransactionScope)(nil)

// Ensure gormTransactionalRepositories implements TransactionalRepositories
var _ appbilling.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
