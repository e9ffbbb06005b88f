package invoicing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InvoiceRepository persists invoices with their line items atomically.
// Implementations enforce a unique (subscription_id, period_end) constraint
// as the backstop against double billing; violations surface as
// DUPLICATE_PERIOD.
type InvoiceRepository interface {
	Save(ctx context.Context, invoice *Invoice) error
	Update(ctx context.Context, invoice *Invoice) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Invoice, error)
	FindByPeriod(ctx context.Context, subscriptionID uuid.UUID, periodEnd time.Time) (*Invoice, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*Invoice, error)
}
