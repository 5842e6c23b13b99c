package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"payx-ledger/internal/core/domain"
)

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

const transactionColumns = `id, business_id, idempotency_key, type, status, source_account_id, destination_account_id,
		amount, currency, description, metadata, created_at, completed_at`

// Create inserts a new transaction within a database transaction. A unique
// violation on the idempotency index maps to domain.ErrIdempotencyKeyTaken
// so the engine can resolve the concurrent-duplicate race.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO transactions (id, business_id, idempotency_key, type, status, source_account_id, destination_account_id,
		amount, currency, description, metadata, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := tx.Exec(ctx, query,
		t.ID, t.BusinessID, t.IdempotencyKey, t.Type, t.Status,
		t.SourceAccountID, t.DestinationAccountID,
		t.Amount, t.Currency, t.Description, t.Metadata,
		t.CreatedAt, t.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrIdempotencyKeyTaken
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID, scoped to the owning business.
func (r *TransactionRepo) GetByID(ctx context.Context, id, businessID uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 AND business_id = $2`

	return scanTransaction(r.pool.QueryRow(ctx, query, id, businessID))
}

// GetByIdempotencyKey fetches the transaction recorded under the given key.
// Returns nil, nil when no row carries it.
func (r *TransactionRepo) GetByIdempotencyKey(ctx context.Context, businessID uuid.UUID, key string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE business_id = $1 AND idempotency_key = $2`

	return scanTransaction(r.pool.QueryRow(ctx, query, businessID, key))
}

// ListByAccount pages an account's history newest-first. The cursor is the
// id of the last row of the previous page; (created_at, id) gives a total
// order even when timestamps collide.
func (r *TransactionRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, cursor *uuid.UUID, limit int) ([]domain.Transaction, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if cursor != nil {
		query := `SELECT ` + transactionColumns + ` FROM transactions
			WHERE (source_account_id = $1 OR destination_account_id = $1)
			AND (created_at, id) < (SELECT created_at, id FROM transactions WHERE id = $2)
			ORDER BY created_at DESC, id DESC LIMIT $3`
		rows, err = r.pool.Query(ctx, query, accountID, *cursor, limit)
	} else {
		query := `SELECT ` + transactionColumns + ` FROM transactions
			WHERE (source_account_id = $1 OR destination_account_id = $1)
			ORDER BY created_at DESC, id DESC LIMIT $2`
		rows, err = r.pool.Query(ctx, query, accountID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list transactions by account: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// ListByBusiness fetches a page of the tenant's transactions, newest first.
func (r *TransactionRepo) ListByBusiness(ctx context.Context, businessID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE business_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, businessID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	var txns []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		err := rows.Scan(
			&t.ID, &t.BusinessID, &t.IdempotencyKey, &t.Type, &t.Status,
			&t.SourceAccountID, &t.DestinationAccountID,
			&t.Amount, &t.Currency, &t.Description, &t.Metadata,
			&t.CreatedAt, &t.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, nil
}

// scanTransaction is a helper to scan a single row into a Transaction.
func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	err := row.Scan(
		&t.ID, &t.BusinessID, &t.IdempotencyKey, &t.Type, &t.Status,
		&t.SourceAccountID, &t.DestinationAccountID,
		&t.Amount, &t.Currency, &t.Description, &t.Metadata,
		&t.CreatedAt, &t.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return t, nil
}
