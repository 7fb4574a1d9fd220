// Package testutil provides shared helpers for haven tests: a migrated
// throwaway database, a scripted completion generator, and a recording
// channel for registry fan-out assertions.
package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/haven-chat/haven/internal/database"
)

// OpenTestDB opens a fresh migrated SQLite database in a temp directory.
// The database is closed automatically when the test finishes.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "haven-test.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}

	return db
}
