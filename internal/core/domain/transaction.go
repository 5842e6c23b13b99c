package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payx-ledger/pkg/money"
)

// ErrIdempotencyKeyTaken is the sentinel returned by the transaction
// repository when the partial unique index on (business_id,
// idempotency_key) fires. The engine resolves it by replaying the winner.
var ErrIdempotencyKeyTaken = errors.New("idempotency key already taken")

// TransactionType discriminates the three money movements.
type TransactionType string

const (
	TransactionTypeCredit   TransactionType = "credit"
	TransactionTypeDebit    TransactionType = "debit"
	TransactionTypeTransfer TransactionType = "transfer"
)

// Valid reports whether t is one of the known types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeCredit, TransactionTypeDebit, TransactionTypeTransfer:
		return true
	}
	return false
}

// TransactionStatus is the lifecycle state. The engine commits the success
// path directly as completed; pending is reserved for a future two-phase
// authorization flow.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Transaction is a completed money movement. Immutable once completed.
// For credit: source is nil. For debit: destination is nil. For transfer:
// both present and distinct.
type Transaction struct {
	ID                   uuid.UUID         `json:"id"`
	BusinessID           uuid.UUID         `json:"business_id"`
	IdempotencyKey       *string           `json:"idempotency_key,omitempty"`
	Type                 TransactionType   `json:"type"`
	Status               TransactionStatus `json:"status"`
	SourceAccountID      *uuid.UUID        `json:"source_account_id,omitempty"`
	DestinationAccountID *uuid.UUID        `json:"destination_account_id,omitempty"`
	Amount               decimal.Decimal   `json:"amount"`
	Currency             string            `json:"currency"`
	Description          *string           `json:"description,omitempty"`
	Metadata             json.RawMessage   `json:"metadata,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	CompletedAt          *time.Time        `json:"completed_at,omitempty"`
}

// Fingerprint is the canonicalized tuple of request fields used to decide
// whether a repeated idempotency key is a replay or a conflict.
type Fingerprint struct {
	Type                 TransactionType
	SourceAccountID      *uuid.UUID
	DestinationAccountID *uuid.UUID
	Amount               decimal.Decimal
	Currency             string
}

// Matches reports whether the stored transaction was produced by a request
// with the given fingerprint.
func (t *Transaction) Matches(fp Fingerprint) bool {
	return t.Type == fp.Type &&
		uuidPtrEqual(t.SourceAccountID, fp.SourceAccountID) &&
		uuidPtrEqual(t.DestinationAccountID, fp.DestinationAccountID) &&
		t.Amount.Equal(fp.Amount) &&
		t.Currency == fp.Currency
}

func uuidPtrEqual(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// TransactionView is the client-facing shape, also used verbatim as the
// webhook payload data. Amount is a fixed four-fraction-digit string.
type TransactionView struct {
	ID                   uuid.UUID         `json:"id"`
	Type                 TransactionType   `json:"type"`
	Status               TransactionStatus `json:"status"`
	SourceAccountID      *uuid.UUID        `json:"source_account_id,omitempty"`
	DestinationAccountID *uuid.UUID        `json:"destination_account_id,omitempty"`
	Amount               string            `json:"amount"`
	Currency             string            `json:"currency"`
	Description          *string           `json:"description,omitempty"`
	Metadata             json.RawMessage   `json:"metadata,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	CompletedAt          *time.Time        `json:"completed_at,omitempty"`
}

// View converts the transaction to its client-facing shape.
func (t *Transaction) View() TransactionView {
	return TransactionView{
		ID:                   t.ID,
		Type:                 t.Type,
		Status:               t.Status,
		SourceAccountID:      t.SourceAccountID,
		DestinationAccountID: t.DestinationAccountID,
		Amount:               money.Format(t.Amount),
		Currency:             t.Currency,
		Description:          t.Description,
		Metadata:             t.Metadata,
		CreatedAt:            t.CreatedAt,
		CompletedAt:          t.CompletedAt,
	}
}

// LedgerEntryType marks which side of the double entry a row records.
type LedgerEntryType string

const (
	LedgerEntryDebit  LedgerEntryType = "debit"
	LedgerEntryCredit LedgerEntryType = "credit"
)

// LedgerEntry is the atomic unit of bookkeeping. Append-only; entries exist
// iff the parent transaction completed, and per transaction the debit and
// credit sides sum to the same amount.
type LedgerEntry struct {
	ID            uuid.UUID       `json:"id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	AccountID     uuid.UUID       `json:"account_id"`
	EntryType     LedgerEntryType `json:"entry_type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	CreatedAt     time.Time       `json:"created_at"`
}
