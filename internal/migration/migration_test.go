package migration

import (
	"io/fs"
	"testing"

	"github.com/smallbiznis/heartline/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name()] = true
	}
	assert.True(t, names["0001_init.up.sql"])
	assert.True(t, names["0001_init.down.sql"])
}

func TestMigrateAutoMigratesSQLite(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, Migrate(conn))

	for _, table := range []string{"users", "accounts", "instances", "editor_keys", "usage_buckets", "pending_deliveries"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}
