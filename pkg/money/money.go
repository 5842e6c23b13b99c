// Package money provides the exact decimal quantity type used everywhere a
// monetary value touches a ledger row or is exchanged with a client.
// Floating point is forbidden in this codebase.
package money

import (
	"regexp"

	"github.com/shopspring/decimal"

	"payx-ledger/pkg/apperror"
)

// Amounts are fixed-precision decimal(19,4): up to ~10^15 with four
// fractional digits.
const maxFractionalDigits = 4

var (
	maxMagnitude = decimal.New(1, 15) // 10^15
	currencyRe   = regexp.MustCompile(`^[A-Z]{3}$`)
)

// Money is a value type carrying an exact decimal amount and an ISO-4217
// currency code.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// New builds a Money from an already-validated decimal and currency.
func New(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// Zero returns the zero amount in the given currency.
func Zero(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// Parse builds a Money from a decimal string and a currency code. It fails
// on non-numeric input, more than four fractional digits, magnitude at or
// beyond 10^15, and malformed currency codes.
func Parse(amount, currency string) (Money, error) {
	if !currencyRe.MatchString(currency) {
		return Money{}, apperror.Validation("currency must be a 3-letter ISO code")
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, apperror.Validation("amount must be a decimal string")
	}
	if d.Exponent() < -maxFractionalDigits {
		return Money{}, apperror.Validation("amount must have at most 4 fractional digits")
	}
	if d.Abs().Cmp(maxMagnitude) >= 0 {
		return Money{}, apperror.Validation("amount exceeds the maximum magnitude")
	}

	return Money{Amount: d, Currency: currency}, nil
}

// Add returns m + other. Both operands must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, apperror.CurrencyMismatch(m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m - other, failing if the result would be negative.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, apperror.CurrencyMismatch(m.Currency, other.Currency)
	}
	result := m.Amount.Sub(other.Amount)
	if result.IsNegative() {
		return Money{}, apperror.InsufficientFunds(m.String(), other.String())
	}
	return Money{Amount: result, Currency: m.Currency}, nil
}

// Cmp compares the amounts: -1 if m < other, 0 if equal, +1 if m > other.
// Both operands must share a currency.
func (m Money) Cmp(other Money) (int, error) {
	if m.Currency != other.Currency {
		return 0, apperror.CurrencyMismatch(m.Currency, other.Currency)
	}
	return m.Amount.Cmp(other.Amount), nil
}

// Equal reports whether amount and currency both match.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

// String renders the amount with exactly four fractional digits.
func (m Money) String() string {
	return m.Amount.StringFixed(maxFractionalDigits)
}

// Format renders a bare decimal the way Money renders amounts. Used when a
// decimal is carried outside a Money (account balances, error details).
func Format(d decimal.Decimal) string {
	return d.StringFixed(maxFractionalDigits)
}
