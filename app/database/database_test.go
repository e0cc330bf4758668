package database

import (
	"testing"
)

// newTestDB opens a migrated database in a per-test temporary
// directory.
func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewConnection(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db
}

// newTestSource registers a source row and returns its ID.
func newTestSource(t *testing.T, db *DB, name string) string {
	t.Helper()

	repo := NewSourceRepository(db)
	id, _, err := repo.UpsertSource(name, "testplatform", "testcreator", "https://example.com/"+name)
	if err != nil {
		t.Fatalf("Failed to create test source: %v", err)
	}

	return id
}
