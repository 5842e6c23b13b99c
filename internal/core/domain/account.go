package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payx-ledger/pkg/money"
)

// Account holds a balance in a single currency, owned by one business.
// Balances are exact decimals; the storage layer additionally enforces
// balance >= 0 and available_balance >= 0.
type Account struct {
	ID               uuid.UUID
	BusinessID       uuid.UUID
	AccountType      string
	Currency         string
	Balance          decimal.Decimal
	AvailableBalance decimal.Decimal
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AccountView is the client-facing shape: balances rendered as fixed
// four-fraction-digit strings.
type AccountView struct {
	ID               uuid.UUID `json:"id"`
	BusinessID       uuid.UUID `json:"business_id"`
	AccountType      string    `json:"account_type"`
	Currency         string    `json:"currency"`
	Balance          string    `json:"balance"`
	AvailableBalance string    `json:"available_balance"`
	CreatedAt        time.Time `json:"created_at"`
}

// View converts the account to its client-facing shape.
func (a *Account) View() AccountView {
	return AccountView{
		ID:               a.ID,
		BusinessID:       a.BusinessID,
		AccountType:      a.AccountType,
		Currency:         a.Currency,
		Balance:          money.Format(a.Balance),
		AvailableBalance: money.Format(a.AvailableBalance),
		CreatedAt:        a.CreatedAt,
	}
}
