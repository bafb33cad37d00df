package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tenantcore/internal/store"
)

// NewSQLiteDB opens a migrated SQLite database in a temp directory and closes
// it when the test ends. A file is used rather than :memory: so the pool can
// hold several connections.
func NewSQLiteDB(t testing.TB) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenantcore.db")
	db, err := store.Open(context.Background(), store.Config{
		Driver:       "sqlite3",
		DSN:          path,
		MaxOpenConns: 8,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}
