package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"inboxrag/internal/db"
)

// OpenTestDB opens a throwaway SQLite database with the full schema
// applied. The file lives in the test's temp dir and is cleaned up with
// it.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if _, err := conn.Exec(db.Schema()); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return conn
}
