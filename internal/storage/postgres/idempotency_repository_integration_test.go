package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/farmoms/internal/domain"
)

func TestIdempotencyRepository_PostgresLifecycle(t *testing.T) {
	repo := NewIdempotencyRepository(openPostgresStoreForIntegrationTest(t))
	ctx := context.Background()
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	created, err := repo.CreateProcessing(ctx, "buyer-1:checkout", "hash-a", ttl)
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusProcessing, created.Status)

	existing, err := repo.CreateProcessing(ctx, "buyer-1:checkout", "hash-a", ttl)
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	assert.Equal(t, domain.IdempotencyStatusProcessing, existing.Status)

	_, err = repo.CreateProcessing(ctx, "buyer-1:checkout", "hash-b", ttl)
	assert.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	require.NoError(t, repo.MarkDone(ctx, "buyer-1:checkout", []byte(`{"orders":[]}`), 0))
	got, err := repo.Get(ctx, "buyer-1:checkout")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusDone, got.Status)
	assert.JSONEq(t, `{"orders":[]}`, string(got.ResponseBody))
	assert.True(t, got.TTLAt.Equal(ttl), "ttl mismatch: expected %s, got %s", ttl, got.TTLAt)

	assert.ErrorIs(t, repo.MarkFailed(ctx, "missing", nil, 13), domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_PostgresExpiredKeyIsReplaced(t *testing.T) {
	repo := NewIdempotencyRepository(openPostgresStoreForIntegrationTest(t))
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := repo.CreateProcessing(ctx, "buyer-1:pay", "hash-old", now.Add(-time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, "buyer-1:pay", nil, 14))

	_, err = repo.Get(ctx, "buyer-1:pay")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	record, err := repo.CreateProcessing(ctx, "buyer-1:pay", "hash-new", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "hash-new", record.RequestHash)

	got, err := repo.Get(ctx, "buyer-1:pay")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusProcessing, got.Status)
	assert.Zero(t, got.StatusCode)
}

func TestIdempotencyRepository_PostgresDeleteExpired(t *testing.T) {
	repo := NewIdempotencyRepository(openPostgresStoreForIntegrationTest(t))
	ctx := context.Background()
	now := time.Now().UTC()

	for i, key := range []string{"old-1", "old-2", "old-3"} {
		_, err := repo.CreateProcessing(ctx, key, "h", now.Add(-time.Duration(5-i)*time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(ctx, "fresh", "h", now.Add(time.Hour))
	require.NoError(t, err)

	removed, err := repo.DeleteExpired(ctx, now, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	removed, err = repo.DeleteExpired(ctx, now, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = repo.Get(ctx, "fresh")
	assert.NoError(t, err)
}
