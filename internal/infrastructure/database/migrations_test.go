package database

import (
	"context"
	"testing"
)

func TestMigrate_AppliesFullHistory(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	pending, err := db.PendingMigrations(ctx)
	if err != nil {
		t.Fatalf("PendingMigrations: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after Migrate = %v, want none", pending)
	}

	// The audit table must exist and accept the repository's insert shape.
	_, err = db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, entity_type, entity_id, user_id, source, details, created_at)
		 VALUES ('aud-1', 'broker-swap', 'broker', 'mqtt://b:1884', NULL, 'monitor', NULL, '2026-01-15T09:00:00Z')`,
	)
	if err != nil {
		t.Fatalf("inserting into audit_logs after Migrate: %v", err)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("first Migrate: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("counting schema_migrations: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("schema_migrations rows = %d, want %d", count, len(migrations))
	}
}

func TestMigrateDown_RollsBackLatest(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}

	pending, err := db.PendingMigrations(ctx)
	if err != nil {
		t.Fatalf("PendingMigrations: %v", err)
	}
	last := migrations[len(migrations)-1].Version
	if len(pending) != 1 || pending[0] != last {
		t.Errorf("pending after rollback = %v, want [%s]", pending, last)
	}
}

func TestMigrateDown_EmptyHistoryIsNoOp(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.ensureMigrationsTable(ctx); err != nil {
		t.Fatalf("ensureMigrationsTable: %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Errorf("MigrateDown on empty history: %v", err)
	}
}

func TestMigrationHistory_WellFormed(t *testing.T) {
	seen := make(map[string]bool)
	prev := ""
	for _, m := range migrations {
		if m.Version == "" || m.Name == "" || m.UpSQL == "" {
			t.Errorf("migration %q (%q) missing version, name, or up SQL", m.Version, m.Name)
		}
		if seen[m.Version] {
			t.Errorf("duplicate migration version %s", m.Version)
		}
		seen[m.Version] = true
		if m.Version <= prev {
			t.Errorf("migration %s out of order after %s", m.Version, prev)
		}
		prev = m.Version
	}
}
