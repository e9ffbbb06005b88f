package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/billing"
	"github.com/saaskit/backend/internal/domain/invoicing"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InvoiceModel is the GORM model for invoices. The unique
// (subscription_id, period_end) index is the database backstop against two
// invoices ever covering the same period.
type InvoiceModel struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TenantID         uuid.UUID       `gorm:"type:uuid;not null;index"`
	SubscriptionID   uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_invoices_subscription_period"`
	Number           string          `gorm:"type:varchar(50);not null"`
	Status           string          `gorm:"type:varchar(20);not null"`
	Currency         string          `gorm:"type:varchar(3);not null"`
	PeriodStart      time.Time       `gorm:"not null"`
	PeriodEnd        time.Time       `gorm:"not null;uniqueIndex:idx_invoices_subscription_period"`
	Subtotal         decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	TaxTotal         decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	DiscountTotal    decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	AmountDue        decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	AmountPaid       decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	DueDate          *time.Time
	FinalizedAt      *time.Time
	PaidAt           *time.Time
	GatewayInvoiceID string     `gorm:"type:varchar(255)"`
	PDFURL           string     `gorm:"type:text"`
	CreatedBy        *uuid.UUID `gorm:"type:uuid"`
	Version          int        `gorm:"not null;default:1"`
	CreatedAt        time.Time  `gorm:"not null"`
	UpdatedAt        time.Time  `gorm:"not null"`
}

// TableName returns the table name for the model
func (InvoiceModel) TableName() string {
	return "invoices"
}

// InvoiceLineItemModel is the GORM model for invoice lines. TierSnapshot and
// UsageRecordIDs are stored as JSON so an issued invoice keeps the exact
// pricing inputs even after tier schedules change.
type InvoiceLineItemModel struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey"`
	InvoiceID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	Position       int             `gorm:"not null"`
	Type           string          `gorm:"type:varchar(20);not null"`
	Description    string          `gorm:"type:text;not null"`
	Quantity       decimal.Decimal `gorm:"type:decimal(18,6);not null"`
	UnitPrice      decimal.Decimal `gorm:"type:decimal(18,6);not null"`
	Amount         decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	Currency       string          `gorm:"type:varchar(3);not null"`
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	FeatureID      *uuid.UUID `gorm:"type:uuid"`
	TierSnapshot   []byte     `gorm:"type:jsonb"`
	UsageRecordIDs []byte     `gorm:"type:jsonb"`
	CreatedAt      time.Time  `gorm:"not null"`
	UpdatedAt      time.Time  `gorm:"not null"`
}

// TableName returns the table name for the model
func (InvoiceLineItemModel) TableName() string {
	return "invoice_line_items"
}

// ToEntity converts the line item model to a domain entity
func (m *InvoiceLineItemModel) ToEntity() (*invoicing.LineItem, error) {
	item := &invoicing.LineItem{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		InvoiceID:   m.InvoiceID,
		Position:    m.Position,
		Type:        invoicing.LineItemType(m.Type),
		Description: m.Description,
		Quantity:    m.Quantity,
		UnitPrice:   m.UnitPrice,
		Amount:      m.Amount,
		Currency:    m.Currency,
		PeriodStart: m.PeriodStart,
		PeriodEnd:   m.PeriodEnd,
		FeatureID:   m.FeatureID,
	}
	if len(m.TierSnapshot) > 0 {
		var snapshot billing.TierBreakdown
		if err := json.Unmarshal(m.TierSnapshot, &snapshot); err != nil {
			return nil, err
		}
		item.TierSnapshot = &snapshot
	}
	if len(m.UsageRecordIDs) > 0 {
		if err := json.Unmarshal(m.UsageRecordIDs, &item.UsageRecordIDs); err != nil {
			return nil, err
		}
	}
	return item, nil
}

// InvoiceLineItemModelFromEntity creates a model from a domain entity
func InvoiceLineItemModelFromEntity(e *invoicing.LineItem) (*InvoiceLineItemModel, error) {
	model := &InvoiceLineItemModel{
		ID:          e.ID,
		InvoiceID:   e.InvoiceID,
		Position:    e.Position,
		Type:        string(e.Type),
		Description: e.Description,
		Quantity:    e.Quantity,
		UnitPrice:   e.UnitPrice,
		Amount:      e.Amount,
		Currency:    e.Currency,
		PeriodStart: e.PeriodStart,
		PeriodEnd:   e.PeriodEnd,
		FeatureID:   e.FeatureID,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
	if e.TierSnapshot != nil {
		snapshot, err := json.Marshal(e.TierSnapshot)
		if err != nil {
			return nil, err
		}
		model.TierSnapshot = snapshot
	}
	if len(e.UsageRecordIDs) > 0 {
		recordIDs, err := json.Marshal(e.UsageRecordIDs)
		if err != nil {
			return nil, err
		}
		model.UsageRecordIDs = recordIDs
	}
	return model, nil
}

// ToEntity converts the invoice model and its lines to a domain entity
func (m *InvoiceModel) ToEntity(lines []InvoiceLineItemModel) (*invoicing.Invoice, error) {
	invoice := &invoicing.Invoice{
		TenantAggregateRoot: shared.TenantAggregateRoot{
			BaseAggregateRoot: shared.BaseAggregateRoot{
				BaseEntity: shared.BaseEntity{
					ID:        m.ID,
					CreatedAt: m.CreatedAt,
					UpdatedAt: m.UpdatedAt,
				},
				Version: m.Version,
			},
			TenantID:  m.TenantID,
			CreatedBy: m.CreatedBy,
		},
		SubscriptionID:   m.SubscriptionID,
		Number:           m.Number,
		Status:           invoicing.Status(m.Status),
		Currency:         m.Currency,
		PeriodStart:      m.PeriodStart,
		PeriodEnd:        m.PeriodEnd,
		Subtotal:         m.Subtotal,
		TaxTotal:         m.TaxTotal,
		DiscountTotal:    m.DiscountTotal,
		AmountDue:        m.AmountDue,
		AmountPaid:       m.AmountPaid,
		DueDate:          m.DueDate,
		FinalizedAt:      m.FinalizedAt,
		PaidAt:           m.PaidAt,
		GatewayInvoiceID: m.GatewayInvoiceID,
		PDFURL:           m.PDFURL,
	}
	for _, line := range lines {
		item, err := line.ToEntity()
		if err != nil {
			return nil, err
		}
		invoice.LineItems = append(invoice.LineItems, item)
	}
	return invoice, nil
}

// InvoiceModelFromEntity creates a model from a domain entity
func InvoiceModelFromEntity(e *invoicing.Invoice) *InvoiceModel {
	return &InvoiceModel{
		ID:               e.ID,
		TenantID:         e.TenantID,
		SubscriptionID:   e.SubscriptionID,
		Number:           e.Number,
		Status:           string(e.Status),
		Currency:         e.Currency,
		PeriodStart:      e.PeriodStart,
		PeriodEnd:        e.PeriodEnd,
		Subtotal:         e.Subtotal,
		TaxTotal:         e.TaxTotal,
		DiscountTotal:    e.DiscountTotal,
		AmountDue:        e.AmountDue,
		AmountPaid:       e.AmountPaid,
		DueDate:          e.DueDate,
		FinalizedAt:      e.FinalizedAt,
		PaidAt:           e.PaidAt,
		GatewayInvoiceID: e.GatewayInvoiceID,
		PDFURL:           e.PDFURL,
		CreatedBy:        e.CreatedBy,
		Version:          e.Version,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

// InvoiceRepository implements the invoicing.InvoiceRepository interface
type InvoiceRepository struct {
	db *gorm.DB
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// Save persists a new invoice with its line items atomically. A second
// invoice for the same (subscription, period end) fails with DUPLICATE_PERIOD.
func (r *InvoiceRepository) Save(ctx context.Context, invoice *invoicing.Invoice) error {
	model := InvoiceModelFromEntity(invoice)
	lineModels := make([]*InvoiceLineItemModel, len(invoice.LineItems))
	for i, item := range invoice.LineItems {
		lineModel, err := InvoiceLineItemModelFromEntity(item)
		if err != nil {
			return err
		}
		lineModels[i] = lineModel
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		if len(lineModels) > 0 {
			if err := tx.Create(lineModels).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return shared.ErrDuplicatePeriod
	}
	return err
}

// Update persists state changes to an existing invoice and replaces its line
// items. Per-tenant serialization is the caller's concern; billing mutations
// run under the tenant lock.
func (r *InvoiceRepository) Update(ctx context.Context, invoice *invoicing.Invoice) error {
	model := InvoiceModelFromEntity(invoice)
	lineModels := make([]*InvoiceLineItemModel, len(invoice.LineItems))
	for i, item := range invoice.LineItems {
		lineModel, err := InvoiceLineItemModelFromEntity(item)
		if err != nil {
			return err
		}
		lineModels[i] = lineModel
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&InvoiceModel{}).
			Where("id = ? AND tenant_id = ?", model.ID, model.TenantID).
			Select("*").
			Omit("created_at").
			Updates(model)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return shared.ErrNotFound
		}
		if err := tx.Where("invoice_id = ?", model.ID).Delete(&InvoiceLineItemModel{}).Error; err != nil {
			return err
		}
		if len(lineModels) > 0 {
			if err := tx.Create(lineModels).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// FindByID retrieves a tenant's invoice with its lines, or nil when it does
// not exist
func (r *InvoiceRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*invoicing.Invoice, error) {
	var model InvoiceModel
	err := r.db.WithContext(ctx).
		First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.loadWithLines(ctx, &model)
}

// FindByPeriod retrieves the invoice covering a subscription period, or nil
// when none exists
func (r *InvoiceRepository) FindByPeriod(ctx context.Context, subscriptionID uuid.UUID, periodEnd time.Time) (*invoicing.Invoice, error) {
	var model InvoiceModel
	err := r.db.WithContext(ctx).
		First(&model, "subscription_id = ? AND period_end = ?", subscriptionID, periodEnd).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.loadWithLines(ctx, &model)
}

// ListByTenant returns the tenant's invoices, newest first
func (r *InvoiceRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*invoicing.Invoice, error) {
	query := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var models []InvoiceModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	invoices := make([]*invoicing.Invoice, len(models))
	for i := range models {
		invoice, err := r.loadWithLines(ctx, &models[i])
		if err != nil {
			return nil, err
		}
		invoices[i] = invoice
	}
	return invoices, nil
}

// loadWithLines attaches the invoice's line items in position order
func (r *InvoiceRepository) loadWithLines(ctx context.Context, model *InvoiceModel) (*invoicing.Invoice, error) {
	var lines []InvoiceLineItemModel
	err := r.db.WithContext(ctx).
		Where("invoice_id = ?", model.ID).
		Order("position asc").
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	return model.ToEntity(lines)
}

// Ensure InvoiceRepository implements the interface
var _ invoicing.InvoiceRepository = (*InvoiceRepository)(nil)
