package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"payx-ledger/internal/core/domain"
)

// DBTransactor opens database transactions. It is the only component that
// does; repositories either run on the pool or on a pgx.Tx handed to them.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// BusinessRepository defines persistence operations for tenants.
type BusinessRepository interface {
	Create(ctx context.Context, business *domain.Business) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Business, error)
	Update(ctx context.Context, business *domain.Business) error
	SetWebhookEndpoint(ctx context.Context, id uuid.UUID, url *string, secret *string) (*domain.Business, error)
}

// APIKeyRepository defines persistence operations for credentials.
type APIKeyRepository interface {
	Create(ctx context.Context, key *domain.APIKey) error
	// GetByPrefix returns at most one candidate, filtered on revoked_at IS
	// NULL via the partial index. Returns nil, nil when absent.
	GetByPrefix(ctx context.Context, prefix string) (*domain.APIKey, error)
	// TouchLastUsed is best-effort bookkeeping; callers must not block a
	// request on it.
	TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
}

// AccountRepository defines persistence operations for accounts.
// Methods accepting pgx.Tx run inside the engine's critical section under
// row locks.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	// GetByIDForUpdate acquires an exclusive row lock. Returns nil, nil when
	// the account does not exist.
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Account, error)
	// UpdateBalance writes both balances under the held lock and bumps the
	// row version, returning the new version.
	UpdateBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, balance, available decimal.Decimal) (int64, error)
	ListByBusiness(ctx context.Context, businessID uuid.UUID, limit, offset int) ([]domain.Account, error)
}

// TransactionRepository defines persistence operations for transactions.
type TransactionRepository interface {
	// Create inserts the row. A collision on the (business_id,
	// idempotency_key) partial unique index surfaces as
	// domain.ErrIdempotencyKeyTaken.
	Create(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error
	GetByID(ctx context.Context, id, businessID uuid.UUID) (*domain.Transaction, error)
	// GetByIdempotencyKey returns nil, nil when no row carries the key.
	GetByIdempotencyKey(ctx context.Context, businessID uuid.UUID, key string) (*domain.Transaction, error)
	// ListByAccount pages newest-first; cursor is the id of the last row of
	// the previous page.
	ListByAccount(ctx context.Context, accountID uuid.UUID, cursor *uuid.UUID, limit int) ([]domain.Transaction, error)
	ListByBusiness(ctx context.Context, businessID uuid.UUID, limit, offset int) ([]domain.Transaction, error)
}

// LedgerEntryRepository defines persistence operations for ledger entries.
type LedgerEntryRepository interface {
	Create(ctx context.Context, tx pgx.Tx, entry *domain.LedgerEntry) error
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error)
}

// OutboxRepository defines persistence operations for webhook outbox rows.
// Claim/mark methods run inside the worker's batch transaction so that a
// crashed worker frees its claims via rollback.
type OutboxRepository interface {
	Enqueue(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error
	// ClaimBatch locks up to limit due rows with FOR UPDATE SKIP LOCKED.
	ClaimBatch(ctx context.Context, tx pgx.Tx, limit int, now time.Time) ([]domain.OutboxEvent, error)
	MarkDelivered(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error
	ScheduleRetry(ctx context.Context, tx pgx.Tx, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id uuid.UUID, lastError string) error
	// Rearm resets a failed row to pending. Returns nil, nil when no failed
	// row matches.
	Rearm(ctx context.Context, id, businessID uuid.UUID) (*domain.OutboxEvent, error)
	GetByID(ctx context.Context, id, businessID uuid.UUID) (*domain.OutboxEvent, error)
	ListByBusiness(ctx context.Context, businessID uuid.UUID, status *domain.OutboxStatus, limit, offset int) ([]domain.OutboxEvent, error)
}

// RateLimitRepository maintains the per-credential fixed windows.
type RateLimitRepository interface {
	// IncrementWindow upserts the (credential, window) row and returns the
	// post-increment request count.
	IncrementWindow(ctx context.Context, apiKeyID uuid.UUID, windowStart time.Time) (int, error)
	// PruneBefore removes windows older than the cutoff.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// IdempotencyCache is an optional, advisory response cache in front of the
// database probe. Implementations must never be authoritative.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
