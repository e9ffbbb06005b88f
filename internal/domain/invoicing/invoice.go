package invoicing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Status is the invoice lifecycle state. Draft invoices are mutable working
// documents; once an invoice opens its monetary fields are frozen and
// corrections require a new invoice or credit note.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusOpen          Status = "open"
	StatusPaid          Status = "paid"
	StatusUncollectible Status = "uncollectible"
	StatusVoid          Status = "void"
)

// IsValid returns true if the status is known
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusOpen, StatusPaid, StatusUncollectible, StatusVoid:
		return true
	}
	return false
}

// IsTerminal returns true for states with no further transitions
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusUncollectible || s == StatusVoid
}

// Invoice is the billing document for one subscription period. Monetary
// fields satisfy amount_due = subtotal + tax_total - discount_total at all
// times after recalculation.
type Invoice struct {
	shared.TenantAggregateRoot
	SubscriptionID   uuid.UUID
	Number           string
	Status           Status
	Currency         string
	PeriodStart      time.Time
	PeriodEnd        time.Time
	Subtotal         decimal.Decimal
	TaxTotal         decimal.Decimal
	DiscountTotal    decimal.Decimal
	AmountDue        decimal.Decimal
	AmountPaid       decimal.Decimal
	DueDate          *time.Time
	FinalizedAt      *time.Time
	PaidAt           *time.Time
	GatewayInvoiceID string
	PDFURL           string
	LineItems        []*LineItem
}

// NewInvoice creates a draft invoice for a subscription period
func NewInvoice(tenantID, subscriptionID uuid.UUID, currency string, periodStart, periodEnd time.Time) (*Invoice, error) {
	if tenantID == uuid.Nil {
		return nil, shared.ErrMissingTenantContext
	}
	if subscriptionID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_SUBSCRIPTION", "Subscription ID cannot be empty")
	}
	if len(currency) != 3 {
		return nil, shared.NewDomainError("INVALID_CURRENCY", "Currency must be a 3-letter code")
	}
	if !periodEnd.After(periodStart) {
		return nil, shared.NewDomainError("INVALID_PERIOD", "Period end must be after period start")
	}
	inv := &Invoice{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		SubscriptionID:      subscriptionID,
		Status:              StatusDraft,
		Currency:            currency,
		PeriodStart:         periodStart,
		PeriodEnd:           periodEnd,
		Subtotal:            decimal.Zero,
		TaxTotal:            decimal.Zero,
		DiscountTotal:       decimal.Zero,
		AmountDue:           decimal.Zero,
		AmountPaid:          decimal.Zero,
	}
	inv.Number = fmt.Sprintf("INV-%s-%s", periodEnd.Format("200601"), inv.ID.String()[:8])
	return inv, nil
}

// AddLineItem appends a line to a draft invoice and recalculates totals
func (i *Invoice) AddLineItem(item *LineItem) error {
	if i.Status != StatusDraft {
		return shared.NewDomainError("INVALID_STATE", "Line items can only be added to draft invoices")
	}
	if item.Currency != i.Currency {
		return shared.NewDomainError("CURRENCY_MISMATCH", "Line item currency does not match the invoice")
	}
	item.InvoiceID = i.ID
	item.Position = len(i.LineItems)
	i.LineItems = append(i.LineItems, item)
	i.recalculate()
	return nil
}

// recalculate derives the monetary totals from the line items
func (i *Invoice) recalculate() {
	subtotal := decimal.Zero
	discount := decimal.Zero
	tax := decimal.Zero
	credit := decimal.Zero
	for _, item := range i.LineItems {
		switch item.Type {
		case LineItemTypeSubscription, LineItemTypeUsage, LineItemTypeOneTime:
			subtotal = subtotal.Add(item.Amount)
		case LineItemTypeDiscount:
			discount = discount.Add(item.Amount.Neg())
		case LineItemTypeTax:
			tax = tax.Add(item.Amount)
		case LineItemTypeCredit:
			credit = credit.Add(item.Amount.Neg())
		}
	}
	i.Subtotal = subtotal.Round(2)
	i.DiscountTotal = discount.Round(2)
	i.TaxTotal = tax.Round(2)
	i.AmountDue = i.Subtotal.Add(i.TaxTotal).Sub(i.DiscountTotal)
	i.AmountPaid = credit.Round(2)
	i.Touch()
}

// Remaining returns the unpaid portion of the invoice
func (i *Invoice) Remaining() decimal.Decimal {
	return i.AmountDue.Sub(i.AmountPaid)
}

// Finalize freezes the invoice and opens it for payment
func (i *Invoice) Finalize(dueDate time.Time) error {
	if i.Status != StatusDraft {
		return shared.NewDomainError("INVALID_STATE", "Only draft invoices can be finalized")
	}
	now := time.Now()
	i.Status = StatusOpen
	i.FinalizedAt = &now
	i.DueDate = &dueDate
	i.UpdatedAt = now
	i.IncrementVersion()
	i.AddDomainEvent(newInvoiceEvent("invoice.finalized", i))
	return nil
}

// RecordPayment registers a settled amount against an open invoice
func (i *Invoice) RecordPayment(amount decimal.Decimal) error {
	if i.Status != StatusOpen {
		return shared.NewDomainError("INVALID_STATE", "Payments apply to open invoices only")
	}
	if !amount.IsPositive() {
		return shared.NewDomainError("INVALID_AMOUNT", "Payment amount must be positive")
	}
	i.AmountPaid = i.AmountPaid.Add(amount).Round(2)
	i.Touch()
	if i.Remaining().LessThanOrEqual(decimal.Zero) {
		return i.MarkPaid()
	}
	return nil
}

// MarkPaid closes the invoice as settled
func (i *Invoice) MarkPaid() error {
	if i.Status != StatusOpen {
		return shared.NewDomainError("INVALID_STATE", "Only open invoices can be marked paid")
	}
	now := time.Now()
	i.Status = StatusPaid
	i.PaidAt = &now
	i.UpdatedAt = now
	i.AddDomainEvent(newInvoiceEvent("invoice.paid", i))
	return nil
}

// MarkUncollectible writes the invoice off after failed collection
func (i *Invoice) MarkUncollectible() error {
	if i.Status != StatusOpen {
		return shared.NewDomainError("INVALID_STATE", "Only open invoices can be marked uncollectible")
	}
	i.Status = StatusUncollectible
	i.Touch()
	i.AddDomainEvent(newInvoiceEvent("invoice.uncollectible", i))
	return nil
}

// Void cancels an open invoice that was issued in error
func (i *Invoice) Void() error {
	if i.Status != StatusOpen {
		return shared.NewDomainError("INVALID_STATE", "Only open invoices can be voided")
	}
	if i.AmountPaid.IsPositive() {
		return shared.NewDomainError("INVALID_STATE", "Paid invoices cannot be voided; issue a credit note")
	}
	i.Status = StatusVoid
	i.Touch()
	i.AddDomainEvent(newInvoiceEvent("invoice.voided", i))
	return nil
}

// AttachGateway records the external gateway document reference
func (i *Invoice) AttachGateway(gatewayInvoiceID, pdfURL string) {
	i.GatewayInvoiceID = gatewayInvoiceID
	i.PDFURL = pdfURL
	i.Touch()
}

type invoiceEvent struct {
	shared.BaseDomainEvent
	Status    Status          `json:"status"`
	AmountDue decimal.Decimal `json:"amount_due"`
}

func newInvoiceEvent(eventType string, i *Invoice) *invoiceEvent {
	return &invoiceEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, "invoice", i.ID, i.TenantID),
		Status:          i.Status,
		AmountDue:       i.AmountDue,
	}
}
