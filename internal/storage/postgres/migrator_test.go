package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func migrationFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, body := range files {
		fsys["sql/migrations/"+name] = &fstest.MapFile{Data: []byte(body)}
	}
	return fsys
}

func TestReadMigrations_SortedPairs(t *testing.T) {
	t.Parallel()

	got, err := readMigrations(migrationFS(map[string]string{
		"0002_sellers.up.sql":   "CREATE TABLE sellers (id TEXT);",
		"0002_sellers.down.sql": "DROP TABLE sellers;",
		"0001_init.up.sql":      "CREATE TABLE farms (id TEXT);",
		"0001_init.down.sql":    "DROP TABLE farms;",
	}))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "001_init", got[0].label())
	assert.Equal(t, "002_sellers", got[1].label())
	assert.Len(t, got[0].checksum, 64)
	assert.NotEqual(t, got[0].checksum, got[1].checksum)
}

func TestReadMigrations_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]map[string]string{
		"missing down": {"0001_init.up.sql": "SELECT 1;"},
		"bad name":     {"init.sql": "SELECT 1;"},
		"empty body": {
			"0001_init.up.sql":   "  \n",
			"0001_init.down.sql": "SELECT 1;",
		},
		"name mismatch": {
			"0001_init.up.sql":    "SELECT 1;",
			"0001_other.down.sql": "SELECT 1;",
		},
		"nothing": {},
	}
	for name, files := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := readMigrations(migrationFS(files))
			assert.Error(t, err)
		})
	}
}

func TestEmbeddedMigrationsAreContiguous(t *testing.T) {
	got, err := readMigrations(embeddedMigrations)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(got), 2)
	for i, m := range got {
		assert.Equal(t, int64(i+1), m.version, "migration %s", m.label())
	}
}

func TestParseMigrationName(t *testing.T) {
	version, name, up, err := parseMigrationName("002_outbox_idempotency.down.sql")
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
	assert.Equal(t, "outbox_idempotency", name)
	assert.False(t, up)

	_, _, _, err = parseMigrationName("README.md")
	assert.Error(t, err)
}
