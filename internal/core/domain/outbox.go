package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Outbox event lifecycle. delivered and failed are terminal.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusRetrying  OutboxStatus = "retrying"
	OutboxStatusDelivered OutboxStatus = "delivered"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// EventTransactionCompleted is emitted for every completed transaction.
const EventTransactionCompleted = "transaction.completed"

// DefaultMaxAttempts bounds webhook delivery retries.
const DefaultMaxAttempts = 5

// OutboxEvent is a durable row written in the same database transaction as
// the ledger change it describes, later delivered by the webhook worker.
type OutboxEvent struct {
	ID            uuid.UUID       `json:"id"`
	BusinessID    uuid.UUID       `json:"business_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Status        OutboxStatus    `json:"status"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     *string         `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
}

// WebhookPayload is the body POSTed to the tenant's webhook_url. It is
// serialized once, at enqueue time, and delivered byte-for-byte.
type WebhookPayload struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// NewWebhookPayload wraps event data in the egress envelope.
func NewWebhookPayload(eventType string, data json.RawMessage) WebhookPayload {
	return WebhookPayload{
		ID:        "evt_" + uuid.NewString(),
		EventType: eventType,
		CreatedAt: time.Now().UTC(),
		Data:      data,
	}
}
