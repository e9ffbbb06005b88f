package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/identity"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// EntryType classifies a ledger movement
type EntryType string

const (
	// EntryTypePurchase is credit bought or granted (amount > 0)
	EntryTypePurchase EntryType = "purchase"
	// EntryTypeUsageDeduction is credit consumed against an invoice (amount < 0)
	EntryTypeUsageDeduction EntryType = "usage_deduction"
	// EntryTypeRefund returns previously consumed credit (amount > 0)
	EntryTypeRefund EntryType = "refund"
	// EntryTypeAdjustment is a manual correction (either sign)
	EntryTypeAdjustment EntryType = "adjustment"
)

// IsValid returns true if the entry type is known
func (t EntryType) IsValid() bool {
	switch t {
	case EntryTypePurchase, EntryTypeUsageDeduction, EntryTypeRefund, EntryTypeAdjustment:
		return true
	}
	return false
}

// ActorType identifies who initiated a ledger movement
type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
	ActorTypeAPIKey ActorType = "api_key"
)

// Entry is one append-only row of a tenant's credit ledger. Amount is signed
// (credits positive, debits negative) and BalanceAfter carries the running
// balance, so the tail entry answers balance queries without summation.
// Entries are never updated or deleted; corrections are new entries.
type Entry struct {
	shared.BaseEntity
	TenantID      uuid.UUID
	Type          EntryType
	Amount        decimal.Decimal
	BalanceAfter  decimal.Decimal
	Description   string
	ActorType     ActorType
	ActorID       *uuid.UUID
	ReferenceType string // e.g. "invoice_line_item"
	ReferenceID   *uuid.UUID
}

// NewEntry appends a movement on top of the previous balance, enforcing the
// sign convention per type and the tenant's credit policy. previousBalance is
// the BalanceAfter of the tail entry (zero for an empty ledger).
func NewEntry(tenantID uuid.UUID, entryType EntryType, amount, previousBalance decimal.Decimal, policy identity.CreditPolicy) (*Entry, error) {
	if tenantID == uuid.Nil {
		return nil, shared.ErrMissingTenantContext
	}
	if !entryType.IsValid() {
		return nil, shared.NewDomainError("INVALID_ENTRY_TYPE", "Unknown ledger entry type")
	}
	if amount.IsZero() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Ledger amount cannot be zero")
	}

	switch entryType {
	case EntryTypePurchase, EntryTypeRefund:
		if amount.IsNegative() {
			return nil, shared.NewDomainError("INVALID_AMOUNT", "Credit entries must carry a positive amount")
		}
	case EntryTypeUsageDeduction:
		if amount.IsPositive() {
			return nil, shared.NewDomainError("INVALID_AMOUNT", "Deduction entries must carry a negative amount")
		}
	}

	balanceAfter := previousBalance.Add(amount).Round(2)
	if amount.IsNegative() && !policy.Allows(balanceAfter) {
		return nil, shared.ErrInsufficientCredit
	}

	return &Entry{
		BaseEntity:   shared.NewBaseEntity(),
		TenantID:     tenantID,
		Type:         entryType,
		Amount:       amount.Round(2),
		BalanceAfter: balanceAfter,
		ActorType:    ActorTypeSystem,
	}, nil
}

// WithDescription sets the human-readable description
func (e *Entry) WithDescription(description string) *Entry {
	e.Description = description
	return e
}

// WithActor records who initiated the movement
func (e *Entry) WithActor(actorType ActorType, actorID *uuid.UUID) *Entry {
	e.ActorType = actorType
	e.ActorID = actorID
	return e
}

// WithReference links the entry to the object it settles
func (e *Entry) WithReference(referenceType string, referenceID uuid.UUID) *Entry {
	e.ReferenceType = referenceType
	e.ReferenceID = &referenceID
	return e
}

// IsCredit returns true for positive movements
func (e *Entry) IsCredit() bool {
	return e.Amount.IsPositive()
}

// Reconcile re-derives the running balance from scratch and verifies each
// entry's BalanceAfter against it. The hot path never calls this; it exists
// for the audit path, where the stored tail must be provably consistent with
// the full history.
func Reconcile(entries []*Entry) (decimal.Decimal, error) {
	balance := decimal.Zero
	for i, entry := range entries {
		balance = balance.Add(entry.Amount)
		if !entry.BalanceAfter.Equal(balance) {
			return decimal.Zero, shared.NewDomainError("LEDGER_INCONSISTENT",
				fmt.Sprintf("Ledger entry %s at position %d does not match the running sum", entry.ID, i))
		}
	}
	return balance, nil
}
