package invoicing

import (
	"time"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/billing"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// LineItemType classifies invoice lines
type LineItemType string

const (
	LineItemTypeSubscription LineItemType = "subscription"
	LineItemTypeUsage        LineItemType = "usage"
	LineItemTypeOneTime      LineItemType = "one_time"
	LineItemTypeDiscount     LineItemType = "discount"
	LineItemTypeTax          LineItemType = "tax"
	LineItemTypeCredit       LineItemType = "credit"
)

// IsValid returns true if the line item type is known
func (t LineItemType) IsValid() bool {
	switch t {
	case LineItemTypeSubscription, LineItemTypeUsage, LineItemTypeOneTime,
		LineItemTypeDiscount, LineItemTypeTax, LineItemTypeCredit:
		return true
	}
	return false
}

// LineItem is one row of an invoice. Usage lines snapshot the tier they were
// priced with (TierSnapshot) and the raw records they cover (UsageRecordIDs),
// so later tier changes never alter how an issued invoice was computed.
type LineItem struct {
	shared.BaseEntity
	InvoiceID      uuid.UUID
	Position       int
	Type           LineItemType
	Description    string
	Quantity       decimal.Decimal
	UnitPrice      decimal.Decimal
	Amount         decimal.Decimal
	Currency       string
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	FeatureID      *uuid.UUID
	TierSnapshot   *billing.TierBreakdown
	UsageRecordIDs []uuid.UUID
}

// NewLineItem creates a line item with validation. Discount and credit lines
// carry negative amounts; all other types are non-negative.
func NewLineItem(itemType LineItemType, description string, quantity, unitPrice, amount decimal.Decimal, currency string) (*LineItem, error) {
	if !itemType.IsValid() {
		return nil, shared.NewDomainError("INVALID_LINE_ITEM_TYPE", "Unknown line item type")
	}
	if description == "" {
		return nil, shared.NewDomainError("INVALID_DESCRIPTION", "Line item description cannot be empty")
	}
	if len(currency) != 3 {
		return nil, shared.NewDomainError("INVALID_CURRENCY", "Currency must be a 3-letter code")
	}
	switch itemType {
	case LineItemTypeDiscount, LineItemTypeCredit:
		if amount.IsPositive() {
			return nil, shared.NewDomainError("INVALID_AMOUNT", "Discount and credit lines must carry a non-positive amount")
		}
	default:
		if amount.IsNegative() {
			return nil, shared.NewDomainError("INVALID_AMOUNT", "Amount cannot be negative for this line type")
		}
	}
	return &LineItem{
		BaseEntity:  shared.NewBaseEntity(),
		Type:        itemType,
		Description: description,
		Quantity:    quantity.Round(billing.QuantityPrecision),
		UnitPrice:   unitPrice,
		Amount:      amount.Round(billing.CurrencyPrecision),
		Currency:    currency,
	}, nil
}

// WithPeriod sets the service period the line covers
func (l *LineItem) WithPeriod(start, end time.Time) *LineItem {
	l.PeriodStart = &start
	l.PeriodEnd = &end
	return l
}

// WithUsage links the line to its feature, priced tier and covered records
func (l *LineItem) WithUsage(featureID uuid.UUID, tier billing.TierBreakdown, recordIDs []uuid.UUID) *LineItem {
	l.FeatureID = &featureID
	l.TierSnapshot = &tier
	l.UsageRecordIDs = recordIDs
	return l
}
