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

// APIKeyRepo implements ports.APIKeyRepository.
type APIKeyRepo struct {
	pool Pool
}

// NewAPIKeyRepo creates a new APIKeyRepo.
func NewAPIKeyRepo(pool Pool) *APIKeyRepo {
	return &APIKeyRepo{pool: pool}
}

// Create inserts a new API key.
func (r *APIKeyRepo) Create(ctx context.Context, k *domain.APIKey) error {
	query := `INSERT INTO api_keys (id, business_id, key_hash, key_prefix, name, rate_limit_per_minute, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		k.ID, k.BusinessID, k.KeyHash, k.KeyPrefix, k.Name,
		k.RateLimitPerMinute, k.CreatedAt, k.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetByPrefix fetches the unrevoked key with the given lookup prefix.
// Returns nil, nil when absent.
func (r *APIKeyRepo) GetByPrefix(ctx context.Context, prefix string) (*domain.APIKey, error) {
	query := `SELECT id, business_id, key_hash, key_prefix, name, rate_limit_per_minute, created_at, expires_at, revoked_at, last_used_at
		FROM api_keys WHERE key_prefix = $1 AND revoked_at IS NULL`

	k := &domain.APIKey{}
	err := r.pool.QueryRow(ctx, query, prefix).Scan(
		&k.ID, &k.BusinessID, &k.KeyHash, &k.KeyPrefix, &k.Name,
		&k.RateLimitPerMinute, &k.CreatedAt, &k.ExpiresAt, &k.RevokedAt, &k.LastUsedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return k, nil
}

// TouchLastUsed records when the key last authenticated a request.
func (r *APIKeyRepo) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`

	if _, err := r.pool.Exec(ctx, query, at, id); err != nil {
		return fmt.Errorf("touch api key last used: %w", err)
	}
	return nil
}
