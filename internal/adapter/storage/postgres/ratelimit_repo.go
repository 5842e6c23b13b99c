package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RateLimitRepo implements ports.RateLimitRepository over fixed
// per-credential windows. The database is the single source of truth, which
// keeps the count correct across API replicas.
type RateLimitRepo struct {
	pool Pool
}

// NewRateLimitRepo creates a new RateLimitRepo.
func NewRateLimitRepo(pool Pool) *RateLimitRepo {
	return &RateLimitRepo{pool: pool}
}

// IncrementWindow upserts the (credential, window) row and returns the
// post-increment request count. windowStart must be minute-truncated.
func (r *RateLimitRepo) IncrementWindow(ctx context.Context, apiKeyID uuid.UUID, windowStart time.Time) (int, error) {
	query := `INSERT INTO rate_limit_windows (api_key_id, window_start, request_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (api_key_id, window_start)
		DO UPDATE SET request_count = rate_limit_windows.request_count + 1
		RETURNING request_count`

	var count int
	if err := r.pool.QueryRow(ctx, query, apiKeyID, windowStart).Scan(&count); err != nil {
		return 0, fmt.Errorf("increment rate limit window: %w", err)
	}
	return count, nil
}

// PruneBefore removes windows older than the cutoff and returns how many
// rows were deleted.
func (r *RateLimitRepo) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM rate_limit_windows WHERE window_start < $1`

	tag, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune rate limit windows: %w", err)
	}
	return tag.RowsAffected(), nil
}
