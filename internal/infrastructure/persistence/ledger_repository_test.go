package persistence

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/identity"
	"github.com/saaskit/backend/internal/domain/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	err = db.AutoMigrate(&LedgerEntryModel{})
	require.NoError(t, err)

	return db
}

// appendEntries posts alternating purchases and deductions and returns them in
// append order
func appendEntries(t *testing.T, repo *LedgerEntryRepository, tenantID uuid.UUID, amounts []string) []*ledger.Entry {
	t.Helper()
	ctx := context.Background()
	policy := identity.DefaultCreditPolicy()

	balance := decimal.Zero
	entries := make([]*ledger.Entry, 0, len(amounts))
	for _, raw := range amounts {
		amount := decimal.RequireFromString(raw)
		entryType := ledger.EntryTypePurchase
		if amount.IsNegative() {
			entryType = ledger.EntryTypeUsageDeduction
		}
		entry, err := ledger.NewEntry(tenantID, entryType, amount, balance, policy)
		require.NoError(t, err)
		require.NoError(t, repo.Append(ctx, entry))
		balance = entry.BalanceAfter
		entries = append(entries, entry)
	}
	return entries
}

func TestLedgerEntryRepository_AppendAndTail(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewLedgerEntryRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()

	t.Run("empty ledger has no tail", func(t *testing.T) {
		tail, err := repo.Tail(ctx, tenantID)
		require.NoError(t, err)
		assert.Nil(t, tail)
	})

	entries := appendEntries(t, repo, tenantID, []string{"100", "-30", "50"})

	t.Run("tail is the last appended entry", func(t *testing.T) {
		tail, err := repo.Tail(ctx, tenantID)
		require.NoError(t, err)
		require.NotNil(t, tail)
		assert.Equal(t, entries[2].ID, tail.ID)
		assert.True(t, tail.BalanceAfter.Equal(decimal.NewFromInt(120)))
	})

	t.Run("tenants do not share a ledger", func(t *testing.T) {
		tail, err := repo.Tail(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, tail)
	})
}

func TestLedgerEntryRepository_History(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewLedgerEntryRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	entries := appendEntries(t, repo, tenantID, []string{"10", "20", "-5", "40"})

	t.Run("returns entries in append order", func(t *testing.T) {
		history, err := repo.History(ctx, tenantID, 0, 0)
		require.NoError(t, err)
		require.Len(t, history, 4)
		for i, entry := range history {
			assert.Equal(t, entries[i].ID, entry.ID)
		}
	})

	t.Run("paginates without reordering", func(t *testing.T) {
		page, err := repo.History(ctx, tenantID, 2, 1)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, entries[1].ID, page[0].ID)
		assert.Equal(t, entries[2].ID, page[1].ID)
	})
}

func TestLedgerEntryRepository_AllReconciles(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewLedgerEntryRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	appendEntries(t, repo, tenantID, []string{"200", "-75.5", "-24.5", "10"})

	all, err := repo.All(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, all, 4)

	balance, err := ledger.Reconcile(all)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(110)), "got %s", balance)
}

func TestLedgerEntryRepository_FindByID(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewLedgerEntryRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	entries := appendEntries(t, repo, tenantID, []string{"100"})
	entry := entries[0]

	found, err := repo.FindByID(ctx, tenantID, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, ledger.EntryTypePurchase, found.Type)
	assert.True(t, found.Amount.Equal(decimal.NewFromInt(100)))

	missing, err := repo.FindByID(ctx, uuid.New(), entry.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
