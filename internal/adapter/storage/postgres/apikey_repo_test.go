package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payx-ledger/internal/core/domain"
)

func newTestAPIKey(businessID uuid.UUID) *domain.APIKey {
	name := "server key"
	return &domain.APIKey{
		ID:                 uuid.New(),
		BusinessID:         businessID,
		KeyHash:            "$argon2id$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		KeyPrefix:          "AbCdEfGhIjKl",
		Name:               &name,
		RateLimitPerMinute: 100,
		CreatedAt:          time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestAPIKeyRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAPIKeyRepo(mock)
	k := newTestAPIKey(uuid.New())

	mock.ExpectExec("INSERT INTO api_keys").
		WithArgs(k.ID, k.BusinessID, k.KeyHash, k.KeyPrefix, k.Name,
			k.RateLimitPerMinute, k.CreatedAt, k.ExpiresAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Create(context.Background(), k)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyRepo_GetByPrefix(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAPIKeyRepo(mock)
	k := newTestAPIKey(uuid.New())

	rows := pgxmock.NewRows([]string{
		"id", "business_id", "key_hash", "key_prefix", "name",
		"rate_limit_per_minute", "created_at", "expires_at", "revoked_at", "last_used_at",
	}).AddRow(
		k.ID, k.BusinessID, k.KeyHash, k.KeyPrefix, k.Name,
		k.RateLimitPerMinute, k.CreatedAt, k.ExpiresAt, k.RevokedAt, k.LastUsedAt,
	)

	mock.ExpectQuery("SELECT .+ FROM api_keys WHERE key_prefix .+ revoked_at IS NULL").
		WithArgs(k.KeyPrefix).
		WillReturnRows(rows)

	result, err := repo.GetByPrefix(context.Background(), k.KeyPrefix)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, k.ID, result.ID)
	assert.Equal(t, k.KeyHash, result.KeyHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyRepo_GetByPrefix_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAPIKeyRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM api_keys").
		WithArgs("UnknownPrefix").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	result, err := repo.GetByPrefix(context.Background(), "UnknownPrefix")
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAPIKeyRepo_TouchLastUsed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAPIKeyRepo(mock)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE api_keys SET last_used_at").
		WithArgs(now, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = repo.TouchLastUsed(context.Background(), id, now)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
