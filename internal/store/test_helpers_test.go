package store

import (
	"context"
	"path/filepath"
	"testing"
)

// createTestDB opens a migrated SQLite database in a temp directory.
func createTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
