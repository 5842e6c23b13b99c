package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"payx-ledger/internal/core/domain"
)

// OutboxRepo implements ports.OutboxRepository.
type OutboxRepo struct {
	pool Pool
}

// NewOutboxRepo creates a new OutboxRepo.
func NewOutboxRepo(pool Pool) *OutboxRepo {
	return &OutboxRepo{pool: pool}
}

const outboxColumns = `id, business_id, event_type, payload, status, attempts, max_attempts, next_attempt_at, last_error, created_at, processed_at`

// Enqueue inserts an outbox row within the same database transaction as the
// ledger change it describes.
func (r *OutboxRepo) Enqueue(ctx context.Context, tx pgx.Tx, e *domain.OutboxEvent) error {
	query := `INSERT INTO webhook_outbox (id, business_id, event_type, payload, status, attempts, max_attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := tx.Exec(ctx, query,
		e.ID, e.BusinessID, e.EventType, e.Payload, e.Status,
		e.Attempts, e.MaxAttempts, e.NextAttemptAt, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue outbox event: %w", err)
	}
	return nil
}

// ClaimBatch locks up to limit due rows for this worker. SKIP LOCKED lets
// concurrent workers claim disjoint batches; rows stay locked until the
// surrounding transaction commits or rolls back.
func (r *OutboxRepo) ClaimBatch(ctx context.Context, tx pgx.Tx, limit int, now time.Time) ([]domain.OutboxEvent, error) {
	query := `SELECT ` + outboxColumns + ` FROM webhook_outbox
		WHERE status IN ('pending', 'retrying') AND next_attempt_at <= $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}
	defer rows.Close()

	return collectOutboxEvents(rows)
}

// MarkDelivered records a successful delivery. The winning attempt counts
// toward attempts like the failed ones before it.
func (r *OutboxRepo) MarkDelivered(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	query := `UPDATE webhook_outbox SET status = 'delivered', attempts = attempts + 1, processed_at = $1 WHERE id = $2`

	if _, err := tx.Exec(ctx, query, at, id); err != nil {
		return fmt.Errorf("mark outbox delivered: %w", err)
	}
	return nil
}

// ScheduleRetry records a failed attempt and when to try again.
func (r *OutboxRepo) ScheduleRetry(ctx context.Context, tx pgx.Tx, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error {
	query := `UPDATE webhook_outbox SET status = 'retrying', attempts = $1, next_attempt_at = $2, last_error = $3 WHERE id = $4`

	if _, err := tx.Exec(ctx, query, attempts, nextAttemptAt, lastError, id); err != nil {
		return fmt.Errorf("schedule outbox retry: %w", err)
	}
	return nil
}

// MarkFailed parks a row that exhausted its attempts.
func (r *OutboxRepo) MarkFailed(ctx context.Context, tx pgx.Tx, id uuid.UUID, lastError string) error {
	query := `UPDATE webhook_outbox SET status = 'failed', attempts = attempts + 1, last_error = $1 WHERE id = $2`

	if _, err := tx.Exec(ctx, query, lastError, id); err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

// Rearm resets a failed row to pending with a fresh attempt budget so the
// worker picks it up again. Returns nil, nil when no failed row matches.
func (r *OutboxRepo) Rearm(ctx context.Context, id, businessID uuid.UUID) (*domain.OutboxEvent, error) {
	query := `UPDATE webhook_outbox SET status = 'pending', attempts = 0, next_attempt_at = NOW(), last_error = NULL
		WHERE id = $1 AND business_id = $2 AND status = 'failed'
		RETURNING ` + outboxColumns

	e, err := scanOutboxEvent(r.pool.QueryRow(ctx, query, id, businessID))
	if err != nil {
		return nil, fmt.Errorf("rearm outbox event: %w", err)
	}
	return e, nil
}

// GetByID fetches an outbox row, scoped to the owning business.
func (r *OutboxRepo) GetByID(ctx context.Context, id, businessID uuid.UUID) (*domain.OutboxEvent, error) {
	query := `SELECT ` + outboxColumns + ` FROM webhook_outbox WHERE id = $1 AND business_id = $2`

	e, err := scanOutboxEvent(r.pool.QueryRow(ctx, query, id, businessID))
	if err != nil {
		return nil, fmt.Errorf("get outbox event: %w", err)
	}
	return e, nil
}

// ListByBusiness fetches a page of the tenant's deliveries, newest first,
// optionally filtered by status.
func (r *OutboxRepo) ListByBusiness(ctx context.Context, businessID uuid.UUID, status *domain.OutboxStatus, limit, offset int) ([]domain.OutboxEvent, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status != nil {
		query := `SELECT ` + outboxColumns + ` FROM webhook_outbox
			WHERE business_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`
		rows, err = r.pool.Query(ctx, query, businessID, *status, limit, offset)
	} else {
		query := `SELECT ` + outboxColumns + ` FROM webhook_outbox
			WHERE business_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		rows, err = r.pool.Query(ctx, query, businessID, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list outbox events: %w", err)
	}
	defer rows.Close()

	return collectOutboxEvents(rows)
}

func collectOutboxEvents(rows pgx.Rows) ([]domain.OutboxEvent, error) {
	var events []domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		err := rows.Scan(
			&e.ID, &e.BusinessID, &e.EventType, &e.Payload, &e.Status,
			&e.Attempts, &e.MaxAttempts, &e.NextAttemptAt, &e.LastError,
			&e.CreatedAt, &e.ProcessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return events, nil
}

// scanOutboxEvent is a helper to scan a single row into an OutboxEvent.
func scanOutboxEvent(row pgx.Row) (*domain.OutboxEvent, error) {
	e := &domain.OutboxEvent{}
	err := row.Scan(
		&e.ID, &e.BusinessID, &e.EventType, &e.Payload, &e.Status,
		&e.Attempts, &e.MaxAttempts, &e.NextAttemptAt, &e.LastError,
		&e.CreatedAt, &e.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}
