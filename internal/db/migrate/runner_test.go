package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/account-api/internal/db"
)

func TestRunRejectsEmptyDSN(t *testing.T) {
	for _, dsn := range []string{"", "   "} {
		err := Run(dsn, DirectionUp)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database url")
	}
}

func TestRunRejectsUnknownDirection(t *testing.T) {
	for _, dir := range []string{"", "UP", "sideways"} {
		t.Run(dir, func(t *testing.T) {
			err := Run("postgres://localhost/test", dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "direction")
		})
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(db.MigrationFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	assert.Equal(t, ups, downs)
}

func TestInitialMigrationDefinesSessionColumns(t *testing.T) {
	raw, err := fs.ReadFile(db.MigrationFS, "migrations/000001_init.up.sql")
	require.NoError(t, err)
	sql := string(raw)
	for _, col := range []string{"refresh_token_hash", "previous_refresh_token_hash", "login_attempts", "lock_until", "roles TEXT[]"} {
		assert.Contains(t, sql, col)
	}
}

func TestRefreshHistoryMigrationCascadesWithSessions(t *testing.T) {
	raw, err := fs.ReadFile(db.MigrationFS, "migrations/000002_refresh_history.up.sql")
	require.NoError(t, err)
	sql := string(raw)
	assert.Contains(t, sql, "session_refresh_history")
	assert.Contains(t, sql, "REFERENCES sessions(id) ON DELETE CASCADE")
}
