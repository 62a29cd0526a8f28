package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrator_UpDownRoundTrip(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, store.MigrateDown(ctx, 100))
	state, err := store.MigrationState(ctx)
	require.NoError(t, err)
	assert.Equal(t, MigrationState{Pending: []int64{1, 2}}, state)

	require.NoError(t, store.MigrateUp(ctx, 1))
	state, err = store.MigrationState(ctx)
	require.NoError(t, err)
	assert.Equal(t, MigrationState{Current: 1, Applied: 1, Pending: []int64{2}}, state)

	require.NoError(t, store.MigrateUp(ctx, 0))
	require.NoError(t, store.MigrateUp(ctx, 0), "repeated up is a no-op")
	state, err = store.MigrationState(ctx)
	require.NoError(t, err)
	assert.Equal(t, MigrationState{Current: 2, Applied: 2, Pending: []int64{}}, state)

	require.NoError(t, store.MigrateDown(ctx, 0))
	state, err = store.MigrationState(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Current)

	require.NoError(t, store.MigrateDown(ctx, 5))
	require.NoError(t, store.MigrateDown(ctx, 1), "down on empty schema is a no-op")
	require.NoError(t, store.MigrateUp(ctx, 0))
}

func TestMigrator_DetectsDrift(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()

	_, err := store.DB().ExecContext(ctx, `UPDATE schema_migrations SET checksum = 'tampered' WHERE version = 1`)
	require.NoError(t, err)
	t.Cleanup(func() {
		known, err := readMigrations(embeddedMigrations)
		if err == nil {
			_, _ = store.DB().ExecContext(context.Background(),
				`UPDATE schema_migrations SET checksum = $1 WHERE version = 1`, known[0].checksum)
		}
	})

	assert.ErrorIs(t, store.MigrateUp(ctx, 0), ErrMigrationDrift)
}

func TestMigrator_NilStore(t *testing.T) {
	var store *Store
	ctx := context.Background()

	assert.ErrorIs(t, store.MigrateUp(ctx, 0), errStoreNotInitialized)
	assert.ErrorIs(t, store.MigrateDown(ctx, 1), errStoreNotInitialized)
	_, err := store.MigrationState(ctx)
	assert.ErrorIs(t, err, errStoreNotInitialized)
}
