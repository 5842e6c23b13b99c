package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"payx-ledger/internal/core/domain"
)

// BusinessRepo implements ports.BusinessRepository.
type BusinessRepo struct {
	pool Pool
}

// NewBusinessRepo creates a new BusinessRepo.
func NewBusinessRepo(pool Pool) *BusinessRepo {
	return &BusinessRepo{pool: pool}
}

// Create inserts a new business.
func (r *BusinessRepo) Create(ctx context.Context, b *domain.Business) error {
	query := `INSERT INTO businesses (id, name, email, webhook_url, webhook_secret, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		b.ID, b.Name, b.Email, b.WebhookURL, b.WebhookSecret,
		b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert business: %w", err)
	}
	return nil
}

// GetByID fetches a business by its UUID. Returns nil, nil when absent.
func (r *BusinessRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Business, error) {
	query := `SELECT id, name, email, webhook_url, webhook_secret, created_at, updated_at
		FROM businesses WHERE id = $1`

	b := &domain.Business{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&b.ID, &b.Name, &b.Email, &b.WebhookURL, &b.WebhookSecret,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get business by id: %w", err)
	}
	return b, nil
}

// Update persists the mutable business fields.
func (r *BusinessRepo) Update(ctx context.Context, b *domain.Business) error {
	query := `UPDATE businesses SET name = $1, email = $2, updated_at = NOW() WHERE id = $3`

	tag, err := r.pool.Exec(ctx, query, b.Name, b.Email, b.ID)
	if err != nil {
		return fmt.Errorf("update business: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("business not found: %s", b.ID)
	}
	return nil
}

// SetWebhookEndpoint stores the webhook URL and secret in one statement and
// returns the updated row. Passing nils clears the endpoint.
func (r *BusinessRepo) SetWebhookEndpoint(ctx context.Context, id uuid.UUID, url, secret *string) (*domain.Business, error) {
	query := `UPDATE businesses SET webhook_url = $1, webhook_secret = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING id, name, email, webhook_url, webhook_secret, created_at, updated_at`

	b := &domain.Business{}
	err := r.pool.QueryRow(ctx, query, url, secret, id).Scan(
		&b.ID, &b.Name, &b.Email, &b.WebhookURL, &b.WebhookSecret,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("set webhook endpoint: %w", err)
	}
	return b, nil
}
