package ledger

import (
	"context"

	"github.com/google/uuid"
)

// EntryRepository provides append-only access to a tenant's ledger.
// Implementations must serialize appends per tenant; see the application
// layer's locking contract.
type EntryRepository interface {
	Append(ctx context.Context, entry *Entry) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Entry, error)
	// Tail returns the most recent entry, or nil for an empty ledger
	Tail(ctx context.Context, tenantID uuid.UUID) (*Entry, error)
	// History returns entries in append order
	History(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*Entry, error)
	// All returns the full ledger in append order, for reconciliation
	All(ctx context.Context, tenantID uuid.UUID) ([]*Entry, error)
}
