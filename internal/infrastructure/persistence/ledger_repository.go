package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/ledger"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LedgerEntryModel is the GORM model for credit ledger entries. The
// auto-incremented Seq is the primary key so append order is total even when
// two entries share a timestamp; the domain ID stays unique alongside it.
type LedgerEntryModel struct {
	Seq           int64           `gorm:"primaryKey;autoIncrement"`
	ID            uuid.UUID       `gorm:"type:uuid;uniqueIndex;not null"`
	TenantID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	Type          string          `gorm:"type:varchar(30);not null"`
	Amount        decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	Description   string          `gorm:"type:text"`
	ActorType     string          `gorm:"type:varchar(20);not null"`
	ActorID       *uuid.UUID      `gorm:"type:uuid"`
	ReferenceType string          `gorm:"type:varchar(50)"`
	ReferenceID   *uuid.UUID      `gorm:"type:uuid"`
	CreatedAt     time.Time       `gorm:"not null"`
	UpdatedAt     time.Time       `gorm:"not null"`
}

// TableName returns the table name for the model
func (LedgerEntryModel) TableName() string {
	return "credit_ledger_entries"
}

// ToEntity converts the model to a domain entity
func (m *LedgerEntryModel) ToEntity() *ledger.Entry {
	return &ledger.Entry{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		TenantID:      m.TenantID,
		Type:          ledger.EntryType(m.Type),
		Amount:        m.Amount,
		BalanceAfter:  m.BalanceAfter,
		Description:   m.Description,
		ActorType:     ledger.ActorType(m.ActorType),
		ActorID:       m.ActorID,
		ReferenceType: m.ReferenceType,
		ReferenceID:   m.ReferenceID,
	}
}

// LedgerEntryModelFromEntity creates a model from a domain entity
func LedgerEntryModelFromEntity(e *ledger.Entry) *LedgerEntryModel {
	return &LedgerEntryModel{
		ID:            e.ID,
		TenantID:      e.TenantID,
		Type:          string(e.Type),
		Amount:        e.Amount,
		BalanceAfter:  e.BalanceAfter,
		Description:   e.Description,
		ActorType:     string(e.ActorType),
		ActorID:       e.ActorID,
		ReferenceType: e.ReferenceType,
		ReferenceID:   e.ReferenceID,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

// LedgerEntryRepository implements the ledger.EntryRepository interface
type LedgerEntryRepository struct {
	db *gorm.DB
}

// NewLedgerEntryRepository creates a new ledger entry repository
func NewLedgerEntryRepository(db *gorm.DB) *LedgerEntryRepository {
	return &LedgerEntryRepository{db: db}
}

// Append persists a new ledger entry. There is no update or delete path.
func (r *LedgerEntryRepository) Append(ctx context.Context, entry *ledger.Entry) error {
	model := LedgerEntryModelFromEntity(entry)
	return r.db.WithContext(ctx).Create(model).Error
}

// FindByID retrieves a tenant's entry by ID, or nil when it does not exist
func (r *LedgerEntryRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*ledger.Entry, error) {
	var model LedgerEntryModel
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

// Tail returns the most recent entry, or nil for an empty ledger
func (r *LedgerEntryRepository) Tail(ctx context.Context, tenantID uuid.UUID) (*ledger.Entry, error) {
	var model LedgerEntryModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("seq desc").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// History returns entries in append order
func (r *LedgerEntryRepository) History(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*ledger.Entry, error) {
	query := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("seq asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var models []LedgerEntryModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	entries := make([]*ledger.Entry, len(models))
	for i, model := range models {
		entries[i] = model.ToEntity()
	}
	return entries, nil
}

// All returns the full ledger in append order, for reconciliation
func (r *LedgerEntryRepository) All(ctx context.Context, tenantID uuid.UUID) ([]*ledger.Entry, error) {
	var models []LedgerEntryModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("seq asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]*ledger.Entry, len(models))
	for i, model := range models {
		entries[i] = model.ToEntity()
	}
	return entries, nil
}

// Ensure LedgerEntryRepository implements the interface
var _ ledger.EntryRepository = (*LedgerEntryRepository)(nil)
