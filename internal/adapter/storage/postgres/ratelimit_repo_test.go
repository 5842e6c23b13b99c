package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitRepo_IncrementWindow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRateLimitRepo(mock)
	keyID := uuid.New()
	window := time.Now().UTC().Truncate(time.Minute)

	mock.ExpectQuery("INSERT INTO rate_limit_windows").
		WithArgs(keyID, window).
		WillReturnRows(pgxmock.NewRows([]string{"request_count"}).AddRow(7))

	count, err := repo.IncrementWindow(context.Background(), keyID, window)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimitRepo_PruneBefore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRateLimitRepo(mock)
	cutoff := time.Now().UTC().Add(-time.Hour)

	mock.ExpectExec("DELETE FROM rate_limit_windows").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 42))

	deleted, err := repo.PruneBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
