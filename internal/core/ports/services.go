package ports

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"payx-ledger/internal/core/domain"
	"payx-ledger/pkg/money"
)

// CreateBusinessInput is the payload for tenant provisioning.
type CreateBusinessInput struct {
	Name       string
	Email      string
	WebhookURL *string
}

// CreateBusinessResult carries the secrets that are shown exactly once.
type CreateBusinessResult struct {
	Business      *domain.Business
	APIKey        *domain.APIKey
	RawKey        string
	WebhookSecret string
}

// UpdateBusinessInput carries the mutable tenant fields.
type UpdateBusinessInput struct {
	Name  *string
	Email *string
}

// BusinessService provisions tenants and manages their webhook endpoint.
type BusinessService interface {
	Create(ctx context.Context, in CreateBusinessInput) (*CreateBusinessResult, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Business, error)
	Update(ctx context.Context, id uuid.UUID, in UpdateBusinessInput) (*domain.Business, error)
	// SetWebhookEndpoint stores the URL and rotates the signing secret. The
	// returned secret is shown once and never retrievable afterwards.
	SetWebhookEndpoint(ctx context.Context, businessID uuid.UUID, url string) (*domain.Business, string, error)
	UpdateWebhookEndpoint(ctx context.Context, businessID uuid.UUID, url string) (*domain.Business, error)
	DeleteWebhookEndpoint(ctx context.Context, businessID uuid.UUID) error
}

// CreateAccountInput is the payload for account creation.
type CreateAccountInput struct {
	BusinessID     uuid.UUID
	AccountType    string
	Currency       string
	InitialBalance *money.Money
}

// AccountService manages accounts within the authenticated tenant.
type AccountService interface {
	Create(ctx context.Context, in CreateAccountInput) (*domain.Account, error)
	Get(ctx context.Context, id, businessID uuid.UUID) (*domain.Account, error)
	List(ctx context.Context, businessID uuid.UUID, limit, offset int) ([]domain.Account, error)
	// ListTransactions pages an account's history newest-first by cursor.
	ListTransactions(ctx context.Context, businessID, accountID uuid.UUID, cursor *uuid.UUID, limit int) ([]domain.Transaction, error)
}

// SubmitTransactionInput is the validated payload handed to the engine.
type SubmitTransactionInput struct {
	BusinessID           uuid.UUID
	IdempotencyKey       *string
	Type                 domain.TransactionType
	SourceAccountID      *uuid.UUID
	DestinationAccountID *uuid.UUID
	Amount               money.Money
	Description          *string
	Metadata             json.RawMessage
}

// Fingerprint extracts the tuple compared against a stored transaction when
// an idempotency key is reused.
func (in SubmitTransactionInput) Fingerprint() domain.Fingerprint {
	return domain.Fingerprint{
		Type:                 in.Type,
		SourceAccountID:      in.SourceAccountID,
		DestinationAccountID: in.DestinationAccountID,
		Amount:               in.Amount.Amount,
		Currency:             in.Amount.Currency,
	}
}

// TransactionService is the double-entry engine.
type TransactionService interface {
	// Submit executes one money movement. replayed is true when the result
	// is a prior transaction returned for a repeated idempotency key, which
	// the handler maps to 200 instead of 201.
	Submit(ctx context.Context, in SubmitTransactionInput) (txn *domain.Transaction, replayed bool, err error)
	Get(ctx context.Context, id, businessID uuid.UUID) (*domain.Transaction, error)
	List(ctx context.Context, businessID uuid.UUID, limit, offset int) ([]domain.Transaction, error)
}

// WebhookService exposes the delivery log and the manual retry control.
type WebhookService interface {
	ListDeliveries(ctx context.Context, businessID uuid.UUID, status *domain.OutboxStatus, limit, offset int) ([]domain.OutboxEvent, error)
	GetDelivery(ctx context.Context, id, businessID uuid.UUID) (*domain.OutboxEvent, error)
	// RetryDelivery re-arms a failed delivery for the worker to pick up.
	RetryDelivery(ctx context.Context, id, businessID uuid.UUID) (*domain.OutboxEvent, error)
}

// HashService hashes API keys for storage and verifies presented keys.
type HashService interface {
	Hash(plain string) (string, error)
	Verify(plain, encoded string) (bool, error)
}

// SignatureService signs webhook bodies and verifies signatures.
type SignatureService interface {
	// Sign returns the X-Webhook-Signature header value for the body,
	// in the form "sha256=<hex>".
	Sign(secret string, body []byte) string
	Verify(secret string, body []byte, signature string) bool
}
