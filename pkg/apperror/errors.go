package apperror

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	HTTPStatus int            `json:"-"`
	Err        error          `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Client errors ----

func Validation(message string) *AppError {
	return New("validation_error", message, http.StatusBadRequest)
}

func InvalidAPIKey() *AppError {
	return New("invalid_api_key", "invalid api key", http.StatusUnauthorized)
}

func RateLimitExceeded() *AppError {
	return New("rate_limit_exceeded", "rate limit exceeded", http.StatusTooManyRequests)
}

func AccountNotFound(id uuid.UUID) *AppError {
	return New("account_not_found", fmt.Sprintf("account not found: %s", id), http.StatusNotFound)
}

func BusinessNotFound(id uuid.UUID) *AppError {
	return New("business_not_found", fmt.Sprintf("business not found: %s", id), http.StatusNotFound)
}

func TransactionNotFound(id uuid.UUID) *AppError {
	return New("transaction_not_found", fmt.Sprintf("transaction not found: %s", id), http.StatusNotFound)
}

func NotFound(message string) *AppError {
	return New("not_found", message, http.StatusNotFound)
}

func CurrencyMismatch(from, to string) *AppError {
	return New("currency_mismatch", fmt.Sprintf("currency mismatch: from %s, to %s", from, to), http.StatusBadRequest)
}

// InsufficientFunds carries the available and requested amounts (both
// rendered with four fractional digits) in the error details.
func InsufficientFunds(available, requested string) *AppError {
	e := New("insufficient_funds",
		fmt.Sprintf("insufficient funds: available %s, requested %s", available, requested),
		http.StatusUnprocessableEntity)
	e.Details = map[string]any{
		"available": available,
		"requested": requested,
	}
	return e
}

func IdempotencyConflict(existingID uuid.UUID) *AppError {
	return New("idempotency_conflict",
		fmt.Sprintf("idempotency conflict: existing transaction %s", existingID),
		http.StatusConflict)
}

// ---- Server errors ----

func DatabaseError(err error) *AppError {
	return Wrap("database_error", "internal database error", http.StatusInternalServerError, err)
}

func Internal(err error) *AppError {
	return Wrap("internal_error", "internal server error", http.StatusInternalServerError, err)
}
