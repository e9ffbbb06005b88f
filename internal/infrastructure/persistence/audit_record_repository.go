package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/audit"
	"github.com/saaskit/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// AuditRecordModel is the GORM model for audit records. Rows are append-only;
// the checksum and signature columns seal each row against later edits.
type AuditRecordModel struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	TenantID   uuid.UUID  `gorm:"type:uuid;not null;index:idx_audit_records_target"`
	ActorType  string     `gorm:"type:varchar(20);not null"`
	ActorID    *uuid.UUID `gorm:"type:uuid"`
	Action     string     `gorm:"type:varchar(100);not null"`
	TargetKind string     `gorm:"type:varchar(30);not null;index:idx_audit_records_target"`
	TargetID   uuid.UUID  `gorm:"type:uuid;not null;index:idx_audit_records_target"`
	Before     []byte     `gorm:"type:jsonb"`
	After      []byte     `gorm:"type:jsonb"`
	TraceID    string     `gorm:"type:varchar(64)"`
	RequestID  string     `gorm:"type:varchar(64)"`
	OccurredAt time.Time  `gorm:"not null;index"`
	Checksum   string     `gorm:"type:varchar(64);not null"`
	Signature  string     `gorm:"type:varchar(64);not null"`
	CreatedAt  time.Time  `gorm:"not null"`
	UpdatedAt  time.Time  `gorm:"not null"`
}

// TableName returns the table name for the model
func (AuditRecordModel) TableName() string {
	return "audit_records"
}

// ToEntity converts the model to a domain entity
func (m *AuditRecordModel) ToEntity() *audit.Record {
	return &audit.Record{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		TenantID:   m.TenantID,
		ActorType:  audit.ActorType(m.ActorType),
		ActorID:    m.ActorID,
		Action:     m.Action,
		TargetKind: audit.TargetKind(m.TargetKind),
		TargetID:   m.TargetID,
		Before:     m.Before,
		After:      m.After,
		TraceID:    m.TraceID,
		RequestID:  m.RequestID,
		OccurredAt: m.OccurredAt,
		Checksum:   m.Checksum,
		Signature:  m.Signature,
	}
}

// AuditRecordModelFromEntity creates a model from a domain entity
func AuditRecordModelFromEntity(e *audit.Record) *AuditRecordModel {
	return &AuditRecordModel{
		ID:         e.ID,
		TenantID:   e.TenantID,
		ActorType:  string(e.ActorType),
		ActorID:    e.ActorID,
		Action:     e.Action,
		TargetKind: string(e.TargetKind),
		TargetID:   e.TargetID,
		Before:     e.Before,
		After:      e.After,
		TraceID:    e.TraceID,
		RequestID:  e.RequestID,
		OccurredAt: e.OccurredAt,
		Checksum:   e.Checksum,
		Signature:  e.Signature,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

// AuditRecordRepository implements the audit.RecordRepository interface
type AuditRecordRepository struct {
	db *gorm.DB
}

// NewAuditRecordRepository creates a new audit record repository
func NewAuditRecordRepository(db *gorm.DB) *AuditRecordRepository {
	return &AuditRecordRepository{db: db}
}

// Create appends an audit record
func (r *AuditRecordRepository) Create(ctx context.Context, record *audit.Record) error {
	model := AuditRecordModelFromEntity(record)
	return r.db.WithContext(ctx).Create(model).Error
}

// FindByID retrieves a tenant's record by ID, or nil when it does not exist
func (r *AuditRecordRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*audit.Record, error) {
	var model AuditRecordModel
	err := r.db.WithContext(ctx).
		First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// ListByTarget returns every record written against one target, oldest first
func (r *AuditRecordRepository) ListByTarget(ctx context.Context, tenantID uuid.UUID, kind audit.TargetKind, targetID uuid.UUID) ([]*audit.Record, error) {
	var models []AuditRecordModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND target_kind = ? AND target_id = ?", tenantID, string(kind), targetID).
		Order("occurred_at asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]*audit.Record, len(models))
	for i, model := range models {
		records[i] = model.ToEntity()
	}
	return records, nil
}

// ListByTenant returns the tenant's audit trail, newest first
func (r *AuditRecordRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*audit.Record, error) {
	query := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("occurred_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var models []AuditRecordModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	records := make([]*audit.Record, len(models))
	for i, model := range models {
		records[i] = model.ToEntity()
	}
	return records, nil
}

// Ensure AuditRecordRepository implements the interface
var _ audit.RecordRepository = (*AuditRecordRepository)(nil)
