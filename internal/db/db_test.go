package db

import (
	"os"
	"path/filepath"
	"testing"
)

// TestOpen verifies database opening with proper configuration.
func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(tmpDir, FileName)); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	var result int
	if err := db.QueryRow("SELECT 1").Scan(&result); err != nil {
		t.Errorf("Database query failed: %v", err)
	}
	if result != 1 {
		t.Errorf("Expected 1, got %d", result)
	}

	var walMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&walMode); err != nil {
		t.Errorf("Failed to check WAL mode: %v", err)
	}
	if walMode != "wal" {
		t.Errorf("WAL mode not enabled, got: %s", walMode)
	}

	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		t.Errorf("Failed to check foreign keys: %v", err)
	}
	if fkEnabled != 1 {
		t.Errorf("Foreign keys not enabled, got: %d", fkEnabled)
	}
}

// TestOpen_invalidDataDir verifies error when data directory cannot be created.
func TestOpen_invalidDataDir(t *testing.T) {
	if _, err := Open("/dev/null/invalid_path/that/cannot/be/created"); err == nil {
		t.Error("Open() with invalid path should return error")
	}
}

// TestOpenMigrated verifies the schema is in place after opening.
func TestOpenMigrated(t *testing.T) {
	db, err := OpenMigrated(t.TempDir())
	if err != nil {
		t.Fatalf("OpenMigrated() failed: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"kv", "documents", "post_type_usage", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

// TestDB_reopen verifies data survives closing and reopening.
func TestDB_reopen(t *testing.T) {
	tmpDir := t.TempDir()

	db1, err := OpenMigrated(tmpDir)
	if err != nil {
		t.Fatalf("First OpenMigrated() failed: %v", err)
	}
	if _, err := db1.Exec("INSERT INTO kv (key, value, updated_at) VALUES ('k', 'v', 1)"); err != nil {
		t.Fatalf("Failed to insert test data: %v", err)
	}
	if err := db1.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	db2, err := OpenMigrated(tmpDir)
	if err != nil {
		t.Fatalf("Second OpenMigrated() failed: %v", err)
	}
	defer db2.Close()

	var value string
	if err := db2.QueryRow("SELECT value FROM kv WHERE key = 'k'").Scan(&value); err != nil {
		t.Errorf("Failed to query test data: %v", err)
	}
	if value != "v" {
		t.Errorf("Expected 'v', got %q", value)
	}
}

// TestClose verifies querying a closed database fails.
func TestClose(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}

	var result int
	if err := db.QueryRow("SELECT 1").Scan(&result); err == nil {
		t.Error("Query on closed database should fail")
	}
}

// openTestDB returns a migrated database in a temp dir.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMigrated(t.TempDir())
	if err != nil {
		t.Fatalf("OpenMigrated() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
