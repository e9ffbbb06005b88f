package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/billing"
	"github.com/saaskit/backend/internal/domain/invoicing"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupInvoiceTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	err = db.AutoMigrate(&InvoiceModel{}, &InvoiceLineItemModel{})
	require.NoError(t, err)

	return db
}

func buildDraftInvoice(t *testing.T, tenantID, subscriptionID uuid.UUID, periodStart, periodEnd time.Time) *invoicing.Invoice {
	t.Helper()

	invoice, err := invoicing.NewInvoice(tenantID, subscriptionID, "USD", periodStart, periodEnd)
	require.NoError(t, err)

	base, err := invoicing.NewLineItem(invoicing.LineItemTypeSubscription, "Pro plan (monthly)",
		decimal.NewFromInt(1), decimal.NewFromInt(49), decimal.NewFromInt(49), "USD")
	require.NoError(t, err)
	require.NoError(t, invoice.AddLineItem(base.WithPeriod(periodStart, periodEnd)))

	usage, err := invoicing.NewLineItem(invoicing.LineItemTypeUsage, "API calls",
		decimal.NewFromInt(1500), decimal.RequireFromString("0.01"), decimal.NewFromInt(15), "USD")
	require.NoError(t, err)
	featureID := uuid.New()
	usage.WithUsage(featureID, billing.TierBreakdown{
		TierID:       uuid.New(),
		UnitsCharged: decimal.NewFromInt(1500),
		UnitPrice:    decimal.RequireFromString("0.01"),
		FlatFee:      decimal.Zero,
		Subtotal:     decimal.NewFromInt(15),
	}, []uuid.UUID{uuid.New(), uuid.New()})
	require.NoError(t, invoice.AddLineItem(usage))

	return invoice
}

func TestInvoiceRepository_SaveAndFindByID(t *testing.T) {
	db := setupInvoiceTestDB(t)
	repo := NewInvoiceRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	subscriptionID := uuid.New()
	periodStart := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	invoice := buildDraftInvoice(t, tenantID, subscriptionID, periodStart, periodEnd)
	require.NoError(t, repo.Save(ctx, invoice))

	t.Run("loads the invoice with lines in position order", func(t *testing.T) {
		found, err := repo.FindByID(ctx, tenantID, invoice.ID)
		require.NoError(t, err)
		require.NotNil(t, found)

		assert.Equal(t, invoicing.StatusDraft, found.Status)
		assert.True(t, found.Subtotal.Equal(decimal.NewFromInt(64)))
		assert.True(t, found.AmountDue.Equal(decimal.NewFromInt(64)))

		require.Len(t, found.LineItems, 2)
		assert.Equal(t, invoicing.LineItemTypeSubscription, found.LineItems[0].Type)
		assert.Equal(t, invoicing.LineItemTypeUsage, found.LineItems[1].Type)

		usageLine := found.LineItems[1]
		require.NotNil(t, usageLine.TierSnapshot)
		assert.True(t, usageLine.TierSnapshot.UnitsCharged.Equal(decimal.NewFromInt(1500)))
		assert.Len(t, usageLine.UsageRecordIDs, 2)
	})

	t.Run("another tenant cannot see the invoice", func(t *testing.T) {
		found, err := repo.FindByID(ctx, uuid.New(), invoice.ID)
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestInvoiceRepository_DuplicatePeriodRejected(t *testing.T) {
	db := setupInvoiceTestDB(t)
	repo := NewInvoiceRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	subscriptionID := uuid.New()
	periodStart := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	first := buildDraftInvoice(t, tenantID, subscriptionID, periodStart, periodEnd)
	require.NoError(t, repo.Save(ctx, first))

	t.Run("same subscription and period end collides", func(t *testing.T) {
		second := buildDraftInvoice(t, tenantID, subscriptionID, periodStart, periodEnd)
		err := repo.Save(ctx, second)
		assert.ErrorIs(t, err, shared.ErrDuplicatePeriod)
	})

	t.Run("the next period does not collide", func(t *testing.T) {
		next := buildDraftInvoice(t, tenantID, subscriptionID, periodEnd, periodEnd.AddDate(0, 1, 0))
		assert.NoError(t, repo.Save(ctx, next))
	})

	t.Run("another subscription does not collide", func(t *testing.T) {
		other := buildDraftInvoice(t, tenantID, uuid.New(), periodStart, periodEnd)
		assert.NoError(t, repo.Save(ctx, other))
	})
}

func TestInvoiceRepository_FindByPeriod(t *testing.T) {
	db := setupInvoiceTestDB(t)
	repo := NewInvoiceRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	subscriptionID := uuid.New()
	periodStart := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	invoice := buildDraftInvoice(t, tenantID, subscriptionID, periodStart, periodEnd)
	require.NoError(t, repo.Save(ctx, invoice))

	found, err := repo.FindByPeriod(ctx, subscriptionID, periodEnd)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, invoice.ID, found.ID)
	assert.Len(t, found.LineItems, 2)

	missing, err := repo.FindByPeriod(ctx, subscriptionID, periodEnd.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInvoiceRepository_Update(t *testing.T) {
	db := setupInvoiceTestDB(t)
	repo := NewInvoiceRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	subscriptionID := uuid.New()
	periodStart := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	invoice := buildDraftInvoice(t, tenantID, subscriptionID, periodStart, periodEnd)
	require.NoError(t, repo.Save(ctx, invoice))

	require.NoError(t, invoice.Finalize(periodEnd.AddDate(0, 0, 14)))
	invoice.AttachGateway("inv_gw_123", "https://pay.example.com/inv_gw_123.pdf")
	require.NoError(t, repo.Update(ctx, invoice))

	found, err := repo.FindByID(ctx, tenantID, invoice.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, invoicing.StatusOpen, found.Status)
	assert.Equal(t, "inv_gw_123", found.GatewayInvoiceID)
	require.NotNil(t, found.FinalizedAt)
	require.NotNil(t, found.DueDate)
	assert.Len(t, found.LineItems, 2)

	t.Run("updating an unknown invoice fails", func(t *testing.T) {
		ghost := buildDraftInvoice(t, tenantID, uuid.New(), periodStart, periodEnd)
		assert.ErrorIs(t, repo.Update(ctx, ghost), shared.ErrNotFound)
	})
}

func TestInvoiceRepository_ListByTenant(t *testing.T) {
	db := setupInvoiceTestDB(t)
	repo := NewInvoiceRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	periodStart := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		start := periodStart.AddDate(0, i, 0)
		invoice := buildDraftInvoice(t, tenantID, uuid.New(), start, start.AddDate(0, 1, 0))
		require.NoError(t, repo.Save(ctx, invoice))
	}

	invoices, err := repo.ListByTenant(ctx, tenantID, 2, 0)
	require.NoError(t, err)
	assert.Len(t, invoices, 2)

	rest, err := repo.ListByTenant(ctx, tenantID, 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)

	none, err := repo.ListByTenant(ctx, uuid.New(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
