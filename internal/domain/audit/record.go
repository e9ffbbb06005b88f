package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/shared"
)

// ActorType identifies who performed an audited action
type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
	ActorTypeAPIKey ActorType = "api_key"
)

// IsValid returns true if the actor type is known
func (t ActorType) IsValid() bool {
	switch t {
	case ActorTypeUser, ActorTypeSystem, ActorTypeAPIKey:
		return true
	}
	return false
}

// TargetKind is the typed discriminator for what a record points at. Each
// auditable entity has its own kind; there is no generic reference.
type TargetKind string

const (
	TargetKindLedgerEntry   TargetKind = "ledger_entry"
	TargetKindInvoice       TargetKind = "invoice"
	TargetKindUsageRecord   TargetKind = "usage_record"
	TargetKindBillingPeriod TargetKind = "billing_period"
	TargetKindSubscription  TargetKind = "subscription"
	TargetKindTenant        TargetKind = "tenant"
)

// IsValid returns true if the target kind is known
func (k TargetKind) IsValid() bool {
	switch k {
	case TargetKindLedgerEntry, TargetKindInvoice, TargetKindUsageRecord,
		TargetKindBillingPeriod, TargetKindSubscription, TargetKindTenant:
		return true
	}
	return false
}

// Record is one append-only audit row. It is written in the same transaction
// as the mutation it describes; a billing event without its audit record can
// never be observed.
type Record struct {
	shared.BaseEntity
	TenantID   uuid.UUID
	ActorType  ActorType
	ActorID    *uuid.UUID
	Action     string
	TargetKind TargetKind
	TargetID   uuid.UUID
	Before     json.RawMessage
	After      json.RawMessage
	TraceID    string
	RequestID  string
	OccurredAt time.Time
	Checksum   string // SHA-256 over the canonical payload
	Signature  string // HMAC over the checksum, keyed per deployment
}

// NewRecord creates an audit record for an action against a target
func NewRecord(tenantID uuid.UUID, actorType ActorType, action string, targetKind TargetKind, targetID uuid.UUID) (*Record, error) {
	if tenantID == uuid.Nil {
		return nil, shared.ErrMissingTenantContext
	}
	if !actorType.IsValid() {
		return nil, shared.NewDomainError("INVALID_ACTOR_TYPE", "Unknown actor type")
	}
	if action == "" {
		return nil, shared.NewDomainError("INVALID_ACTION", "Audit action cannot be empty")
	}
	if !targetKind.IsValid() {
		return nil, shared.NewDomainError("INVALID_TARGET_KIND", "Unknown audit target kind")
	}
	if targetID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TARGET", "Audit target ID cannot be empty")
	}
	return &Record{
		BaseEntity: shared.NewBaseEntity(),
		TenantID:   tenantID,
		ActorType:  actorType,
		Action:     action,
		TargetKind: targetKind,
		TargetID:   targetID,
		OccurredAt: time.Now(),
	}, nil
}

// WithActor sets the acting user or API key
func (r *Record) WithActor(actorID uuid.UUID) *Record {
	r.ActorID = &actorID
	return r
}

// WithSnapshots attaches the before/after state of the target
func (r *Record) WithSnapshots(before, after json.RawMessage) *Record {
	r.Before = before
	r.After = after
	return r
}

// WithTrace attaches distributed tracing correlation IDs
func (r *Record) WithTrace(traceID, requestID string) *Record {
	r.TraceID = traceID
	r.RequestID = requestID
	return r
}

// Seal stores the integrity checksum and signature computed by the signer
func (r *Record) Seal(checksum, signature string) {
	r.Checksum = checksum
	r.Signature = signature
}

// canonicalPayload is the deterministic projection the integrity layer
// checksums. Field order is fixed by the struct definition.
type canonicalPayload struct {
	ID         uuid.UUID       `json:"id"`
	TenantID   uuid.UUID       `json:"tenant_id"`
	ActorType  ActorType       `json:"actor_type"`
	ActorID    *uuid.UUID      `json:"actor_id"`
	Action     string          `json:"action"`
	TargetKind TargetKind      `json:"target_kind"`
	TargetID   uuid.UUID       `json:"target_id"`
	Before     json.RawMessage `json:"before"`
	After      json.RawMessage `json:"after"`
	OccurredAt string          `json:"occurred_at"`
}

// CanonicalPayload serializes the record's signed fields deterministically
func (r *Record) CanonicalPayload() ([]byte, error) {
	return json.Marshal(canonicalPayload{
		ID:         r.ID,
		TenantID:   r.TenantID,
		ActorType:  r.ActorType,
		ActorID:    r.ActorID,
		Action:     r.Action,
		TargetKind: r.TargetKind,
		TargetID:   r.TargetID,
		Before:     r.Before,
		After:      r.After,
		OccurredAt: r.OccurredAt.UTC().Format(time.RFC3339Nano),
	})
}
