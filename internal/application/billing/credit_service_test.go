package billing

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/identity"
	"github.com/saaskit/backend/internal/domain/ledger"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type creditFixture struct {
	service *CreditService
	tenant  *identity.Tenant
	ledger  *memLedgerRepo
	audits  *memAuditRepo
}

func newCreditFixture(t *testing.T) *creditFixture {
	t.Helper()

	tenant, err := identity.NewTenant("Acme", "acme", identity.BillingStrategyHybrid)
	require.NoError(t, err)
	require.NoError(t, tenant.Activate())

	tenantRepo := &memTenantRepo{}
	require.NoError(t, tenantRepo.Save(context.Background(), tenant))

	f := &creditFixture{
		tenant: tenant,
		ledger: &memLedgerRepo{},
		audits: &memAuditRepo{},
	}
	scope := newLockingScope(&StaticRepositories{
		LedgerRepo: f.ledger,
		AuditRepo:  f.audits,
	}, newMemTenantLocker())
	f.service = NewCreditService(scope, tenantRepo, noopSigner{}, zap.NewNop())
	return f
}

func (f *creditFixture) purchase(t *testing.T, amount int64) *ledger.Entry {
	t.Helper()
	entry, err := f.service.Post(context.Background(), PostCreditInput{
		TenantID:    f.tenant.ID,
		Type:        ledger.EntryTypePurchase,
		Amount:      decimal.NewFromInt(amount),
		Description: "credit purchase",
		Actor:       SystemActor(),
	})
	require.NoError(t, err)
	return entry
}

func TestCreditService_Post(t *testing.T) {
	ctx := context.Background()

	t.Run("should chain balances across entries", func(t *testing.T) {
		f := newCreditFixture(t)

		first := f.purchase(t, 100)
		assert.Equal(t, "100", first.BalanceAfter.String())

		second, err := f.service.Post(ctx, PostCreditInput{
			TenantID: f.tenant.ID,
			Type:     ledger.EntryTypeUsageDeduction,
			Amount:   decimal.NewFromInt(-30),
			Actor:    SystemActor(),
		})
		require.NoError(t, err)
		assert.Equal(t, "70", second.BalanceAfter.String())
		assert.Equal(t, 2, f.audits.count())
	})

	t.Run("should reject a debit exceeding the balance", func(t *testing.T) {
		f := newCreditFixture(t)
		f.purchase(t, 50)

		_, err := f.service.Post(ctx, PostCreditInput{
			TenantID: f.tenant.ID,
			Type:     ledger.EntryTypeUsageDeduction,
			Amount:   decimal.NewFromInt(-80),
			Actor:    SystemActor(),
		})
		assert.ErrorIs(t, err, shared.ErrInsufficientCredit)

		// the failed debit leaves the ledger untouched
		balance, err := f.service.CurrentBalance(ctx, f.tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, "50", balance.String())
	})

	t.Run("should allow overdraft down to the credit line floor", func(t *testing.T) {
		f := newCreditFixture(t)
		_, err := f.tenant.WithCreditLine(decimal.NewFromInt(-100))
		require.NoError(t, err)
		f.purchase(t, 50)

		entry, err := f.service.Post(ctx, PostCreditInput{
			TenantID: f.tenant.ID,
			Type:     ledger.EntryTypeUsageDeduction,
			Amount:   decimal.NewFromInt(-120),
			Actor:    SystemActor(),
		})
		require.NoError(t, err)
		assert.Equal(t, "-70", entry.BalanceAfter.String())

		_, err = f.service.Post(ctx, PostCreditInput{
			TenantID: f.tenant.ID,
			Type:     ledger.EntryTypeUsageDeduction,
			Amount:   decimal.NewFromInt(-31),
			Actor:    SystemActor(),
		})
		assert.ErrorIs(t, err, shared.ErrInsufficientCredit, "floor is -100")
	})

	t.Run("should reject unknown tenants", func(t *testing.T) {
		f := newCreditFixture(t)
		_, err := f.service.Post(ctx, PostCreditInput{
			TenantID: uuid.New(),
			Type:     ledger.EntryTypePurchase,
			Amount:   decimal.NewFromInt(10),
			Actor:    SystemActor(),
		})
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("should serialize concurrent posts for one tenant", func(t *testing.T) {
		f := newCreditFixture(t)
		f.purchase(t, 1000)

		const writers = 10
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.service.Post(context.Background(), PostCreditInput{
					TenantID: f.tenant.ID,
					Type:     ledger.EntryTypeUsageDeduction,
					Amount:   decimal.NewFromInt(-10),
					Actor:    SystemActor(),
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		balance, err := f.service.Reconcile(ctx, f.tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, "900", balance.String())
	})
}

func TestCreditService_Debit(t *testing.T) {
	ctx := context.Background()

	t.Run("should negate the amount", func(t *testing.T) {
		f := newCreditFixture(t)
		f.purchase(t, 100)

		ref := uuid.New()
		entry, err := f.service.Debit(ctx, f.tenant.ID, decimal.NewFromInt(40), "usage", SystemActor(), "invoice_line_item", &ref)
		require.NoError(t, err)
		assert.Equal(t, ledger.EntryTypeUsageDeduction, entry.Type)
		assert.Equal(t, "-40", entry.Amount.String())
		assert.Equal(t, "60", entry.BalanceAfter.String())
		require.NotNil(t, entry.ReferenceID)
		assert.Equal(t, ref, *entry.ReferenceID)
	})

	t.Run("should reject non-positive amounts", func(t *testing.T) {
		f := newCreditFixture(t)
		_, err := f.service.Debit(ctx, f.tenant.ID, decimal.NewFromInt(-5), "usage", SystemActor(), "", nil)
		require.Error(t, err)
		assert.Equal(t, "INVALID_AMOUNT", err.(*shared.DomainError).Code)
	})
}

func TestCreditService_CurrentBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("should be zero for an empty ledger", func(t *testing.T) {
		f := newCreditFixture(t)
		balance, err := f.service.CurrentBalance(ctx, f.tenant.ID)
		require.NoError(t, err)
		assert.True(t, balance.IsZero())
	})

	t.Run("should read the tail without summing", func(t *testing.T) {
		f := newCreditFixture(t)
		f.purchase(t, 100)
		f.purchase(t, 23)

		balance, err := f.service.CurrentBalance(ctx, f.tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, "123", balance.String())
	})
}

func TestCreditService_History(t *testing.T) {
	ctx := context.Background()

	t.Run("should page in append order", func(t *testing.T) {
		f := newCreditFixture(t)
		f.purchase(t, 10)
		f.purchase(t, 20)
		f.purchase(t, 30)

		page, err := f.service.History(ctx, f.tenant.ID, 2, 1)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "20", page[0].Amount.String())
		assert.Equal(t, "30", page[1].Amount.String())
	})
}

func TestCreditService_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("should detect a tampered running balance", func(t *testing.T) {
		f := newCreditFixture(t)
		f.purchase(t, 100)
		entry := f.purchase(t, 50)

		entry.BalanceAfter = decimal.NewFromInt(9999)

		_, err := f.service.Reconcile(ctx, f.tenant.ID)
		require.Error(t, err)
		assert.Equal(t, "LEDGER_INCONSISTENT", err.(*shared.DomainError).Code)
	})
}
