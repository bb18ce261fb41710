package migrations

import (
	"context"
	"testing"

	"feedkeeper/internal/core"
)

var followsTables = []string{"follow_files", "follow_local", "follow_sync_items"}

func openTestDB(t *testing.T) *core.Database {
	t.Helper()
	db, err := core.OpenDatabase(core.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, core.NopLogger())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *core.Database, table string) bool {
	t.Helper()
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to check table %s: %v", table, err)
	}
	return count == 1
}

func TestFollowsMigrations(t *testing.T) {
	db := openTestDB(t)
	manager := NewManager(db, core.NopLogger())

	ctx := context.Background()
	if err := manager.Migrate(ctx); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count); err != nil {
		t.Fatalf("Failed to query migrations table: %v", err)
	}
	expected := len(manager.Migrations())
	if count != expected {
		t.Errorf("Expected %d migrations, got %d", expected, count)
	}

	for _, table := range followsTables {
		if !tableExists(t, db, table) {
			t.Errorf("Table %s was not created", table)
		}
	}

	// running again must not duplicate anything
	if err := manager.Migrate(ctx); err != nil {
		t.Fatalf("Failed to re-apply migrations: %v", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count); err != nil {
		t.Fatalf("Failed to query migrations table: %v", err)
	}
	if count != expected {
		t.Errorf("Expected %d migrations after re-apply, got %d", expected, count)
	}

	pending, err := manager.Pending(ctx)
	if err != nil {
		t.Fatalf("Failed to list pending migrations: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected no pending migrations, got %d", len(pending))
	}
}

func TestMigrationRollback(t *testing.T) {
	db := openTestDB(t)
	manager := NewManager(db, core.NopLogger())

	ctx := context.Background()
	if err := manager.Migrate(ctx); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	for range manager.Migrations() {
		if err := manager.Rollback(ctx); err != nil {
			t.Fatalf("Failed to rollback migration: %v", err)
		}
	}

	for _, table := range followsTables {
		if tableExists(t, db, table) {
			t.Errorf("Table %s was not removed during rollback", table)
		}
	}

	if err := manager.Rollback(ctx); err == nil {
		t.Error("Expected rollback with nothing applied to fail")
	}
}
