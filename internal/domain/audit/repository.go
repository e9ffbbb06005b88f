package audit

import (
	"context"

	"github.com/google/uuid"
)

// RecordRepository provides append-only access to audit records
type RecordRepository interface {
	Create(ctx context.Context, record *Record) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Record, error)
	ListByTarget(ctx context.Context, tenantID uuid.UUID, kind TargetKind, targetID uuid.UUID) ([]*Record, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*Record, error)
}
