package migration

import (
	"fmt"
	"io/fs"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestEmbeddedMigrationsPresent(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.Contains(t, names, "000001_init.up.sql")
	require.Contains(t, names, "000001_init.down.sql")
	require.Contains(t, names, "000002_reclaim_failed_at.up.sql")
	require.Contains(t, names, "000002_reclaim_failed_at.down.sql")
}

func TestRunAutoMigratesSQLite(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Run(conn))

	for _, table := range []string{"owners", "invoice_records", "upload_quotas", "feedback_submissions", "caller_windows"} {
		require.True(t, conn.Migrator().HasTable(table), table)
	}
	require.True(t, conn.Migrator().HasIndex("invoice_records", "ux_invoice_records_owner_invoice"))
	require.True(t, conn.Migrator().HasColumn("invoice_records", "reclaim_failed_at"))

	// Idempotent on a second run.
	require.NoError(t, Run(conn))
}
