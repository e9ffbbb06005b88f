package billing

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/audit"
	"github.com/saaskit/backend/internal/infrastructure/telemetry"
)

// Actor identifies who triggers a billing operation, carried from the
// request context into audit records and ledger entries.
type Actor struct {
	Type audit.ActorType
	ID   *uuid.UUID
}

// SystemActor is the actor for scheduler- and engine-initiated operations
func SystemActor() Actor {
	return Actor{Type: audit.ActorTypeSystem}
}

// UserActor builds an actor for an authenticated user
func UserActor(userID uuid.UUID) Actor {
	return Actor{Type: audit.ActorTypeUser, ID: &userID}
}

// auditWriter seals and persists audit records inside the caller's
// transaction. Every billing mutation goes through it; if the audit write
// fails the whole transaction rolls back.
type auditWriter struct {
	signer IntegritySigner
}

func newAuditWriter(signer IntegritySigner) *auditWriter {
	return &auditWriter{signer: signer}
}

func (w *auditWriter) write(ctx context.Context, repo audit.RecordRepository, tenantID uuid.UUID,
	actor Actor, action string, kind audit.TargetKind, targetID uuid.UUID, before, after any) error {

	record, err := audit.NewRecord(tenantID, actor.Type, action, kind, targetID)
	if err != nil {
		return err
	}
	if actor.ID != nil {
		record.WithActor(*actor.ID)
	}

	beforeJSON, err := marshalSnapshot(before)
	if err != nil {
		return err
	}
	afterJSON, err := marshalSnapshot(after)
	if err != nil {
		return err
	}
	record.WithSnapshots(beforeJSON, afterJSON)
	record.WithTrace(telemetry.GetTraceID(ctx), telemetry.GetSpanID(ctx))

	if w.signer != nil {
		if err := w.signer.Seal(record); err != nil {
			return err
		}
	}
	return repo.Create(ctx, record)
}

func marshalSnapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
