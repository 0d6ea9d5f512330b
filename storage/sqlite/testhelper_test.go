package sqlite

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// setupTestDB opens a migrated in-memory database private to the test.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewMemoryDB(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, RunMigrations(db.Writer))
	return db
}
