package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"payx-ledger/internal/core/domain"
)

// CreateBusinessRequest is the request body for tenant creation.
type CreateBusinessRequest struct {
	Name       string  `json:"name" binding:"required,min=1,max=255"`
	Email      string  `json:"email" binding:"required,email,max=255"`
	WebhookURL *string `json:"webhook_url,omitempty" binding:"omitempty,webhook_url"`
}

// UpdateBusinessRequest is the request body for tenant updates. Absent
// fields are left untouched.
type UpdateBusinessRequest struct {
	Name  *string `json:"name,omitempty" binding:"omitempty,min=1,max=255"`
	Email *string `json:"email,omitempty" binding:"omitempty,email,max=255"`
}

// BusinessResponse is the client-facing tenant shape. The webhook secret is
// never included; it is returned exactly once at creation or rotation.
type BusinessResponse struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	WebhookURL *string   `json:"webhook_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FromBusiness converts a tenant to its response shape.
func FromBusiness(b *domain.Business) BusinessResponse {
	return BusinessResponse{
		ID:         b.ID,
		Name:       b.Name,
		Email:      b.Email,
		WebhookURL: b.WebhookURL,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
}

// CreateBusinessResponse carries the one-time credential material alongside
// the tenant.
type CreateBusinessResponse struct {
	Business      BusinessResponse `json:"business"`
	APIKey        string           `json:"api_key"`
	KeyPrefix     string           `json:"key_prefix"`
	WebhookSecret string           `json:"webhook_secret"`
}

// CreateAccountRequest is the request body for account creation.
// InitialBalance is an optional provisioning seed, a decimal string in the
// account currency.
type CreateAccountRequest struct {
	AccountType    string  `json:"account_type,omitempty" binding:"omitempty,max=50"`
	Currency       string  `json:"currency" binding:"required,currency_code"`
	InitialBalance *string `json:"initial_balance,omitempty"`
}

// CreateTransactionRequest is the request body for the core write. Amount is
// a decimal string with at most four fractional digits.
type CreateTransactionRequest struct {
	Type                 string          `json:"type" binding:"required"`
	SourceAccountID      *string         `json:"source_account_id,omitempty" binding:"omitempty,uuid"`
	DestinationAccountID *string         `json:"destination_account_id,omitempty" binding:"omitempty,uuid"`
	Amount               string          `json:"amount" binding:"required"`
	Currency             string          `json:"currency" binding:"required,currency_code"`
	Description          *string         `json:"description,omitempty" binding:"omitempty,max=500"`
	Metadata             json.RawMessage `json:"metadata,omitempty"`
}

// WebhookEndpointRequest is the request body for webhook endpoint
// configuration.
type WebhookEndpointRequest struct {
	URL string `json:"url" binding:"required,webhook_url"`
}

// WebhookEndpointResponse is returned from endpoint creation; Secret is the
// one-time signing secret.
type WebhookEndpointResponse struct {
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"`
}

// DeliveryResponse is the client-facing shape of one outbox row.
type DeliveryResponse struct {
	ID            uuid.UUID           `json:"id"`
	EventType     string              `json:"event_type"`
	Payload       json.RawMessage     `json:"payload"`
	Status        domain.OutboxStatus `json:"status"`
	Attempts      int                 `json:"attempts"`
	MaxAttempts   int                 `json:"max_attempts"`
	NextAttemptAt time.Time           `json:"next_attempt_at"`
	LastError     *string             `json:"last_error,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	ProcessedAt   *time.Time          `json:"processed_at,omitempty"`
}

// FromOutboxEvent converts an outbox row to its response shape.
func FromOutboxEvent(e *domain.OutboxEvent) DeliveryResponse {
	return DeliveryResponse{
		ID:            e.ID,
		EventType:     e.EventType,
		Payload:       e.Payload,
		Status:        e.Status,
		Attempts:      e.Attempts,
		MaxAttempts:   e.MaxAttempts,
		NextAttemptAt: e.NextAttemptAt,
		LastError:     e.LastError,
		CreatedAt:     e.CreatedAt,
		ProcessedAt:   e.ProcessedAt,
	}
}

// ListResponse wraps an offset-paginated collection.
type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// CursorListResponse wraps a cursor-paginated collection. NextCursor is nil
// on the last page.
type CursorListResponse[T any] struct {
	Items      []T        `json:"items"`
	NextCursor *uuid.UUID `json:"next_cursor,omitempty"`
}
