package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/brokerpilot/core/internal/infrastructure/database"
)

func testRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestCreateAndList(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	entries := []*AuditLog{
		{Action: "broker-swap", EntityType: "broker", EntityID: "mqtt://b:1884", Source: "monitor",
			Details: map[string]any{"old_uri": "mqtt://a:1883", "trigger": "score-swap"}},
		{Action: "broker-unavailable", EntityType: "broker", EntityID: "mqtt://a:1883", Source: "session",
			Details: map[string]any{"reason": "connect timeout"}},
		{Action: "queue-drop", EntityType: "message", EntityID: "telemetry/temp", Source: "session"},
	}
	for _, e := range entries {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create(%s): %v", e.Action, err)
		}
		if e.ID == "" {
			t.Errorf("Create left ID empty for %s", e.Action)
		}
		if e.CreatedAt.IsZero() {
			t.Errorf("Create left CreatedAt zero for %s", e.Action)
		}
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if result.Total != len(entries) {
		t.Errorf("Total = %d, want %d", result.Total, len(entries))
	}
	if len(result.Logs) != len(entries) {
		t.Fatalf("len(Logs) = %d, want %d", len(result.Logs), len(entries))
	}
}

func TestList_FilterByAction(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	for _, action := range []string{"broker-swap", "broker-swap", "queue-drop"} {
		if err := repo.Create(ctx, &AuditLog{Action: action, EntityType: "broker", Source: "monitor"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	result, err := repo.List(ctx, Filter{Action: "broker-swap"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if result.Total != 2 {
		t.Errorf("Total = %d, want 2", result.Total)
	}
	for _, l := range result.Logs {
		if l.Action != "broker-swap" {
			t.Errorf("filtered list contains action %q", l.Action)
		}
	}
}

func TestList_DetailsRoundTrip(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	in := &AuditLog{
		Action:     "broker-swap",
		EntityType: "broker",
		EntityID:   "mqtt://c:1885",
		Source:     "monitor",
		Details:    map[string]any{"old_uri": "mqtt://b:1884", "trigger": "connection-lost"},
	}
	if err := repo.Create(ctx, in); err != nil {
		t.Fatalf("Create: %v", err)
	}

	result, err := repo.List(ctx, Filter{EntityID: "mqtt://c:1885"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(result.Logs) != 1 {
		t.Fatalf("len(Logs) = %d, want 1", len(result.Logs))
	}
	got := result.Logs[0]
	if got.Details["old_uri"] != "mqtt://b:1884" || got.Details["trigger"] != "connection-lost" {
		t.Errorf("Details = %v, want round-tripped map", got.Details)
	}
}

func TestList_ClampsLimit(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	result, err := repo.List(ctx, Filter{Limit: 10_000})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if result.Limit != 200 {
		t.Errorf("Limit = %d, want clamp to 200", result.Limit)
	}

	result, err = repo.List(ctx, Filter{Limit: -3, Offset: -9})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if result.Limit != 50 || result.Offset != 0 {
		t.Errorf("Limit/Offset = %d/%d, want 50/0 defaults", result.Limit, result.Offset)
	}
}

func TestSQLiteRecorder(t *testing.T) {
	repo := testRepo(t)
	rec := NewSQLiteRecorder(repo)

	rec.RecordSwap("mqtt://a:1883", "mqtt://b:1884", "score-swap")
	rec.RecordUnavailable("mqtt://a:1883", "connect timeout")
	rec.RecordQueueDrop("telemetry/temp")

	result, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if result.Total != 3 {
		t.Fatalf("Total = %d, want 3 recorded events", result.Total)
	}

	actions := make(map[string]bool)
	for _, l := range result.Logs {
		actions[l.Action] = true
	}
	for _, want := range []string{"broker-swap", "broker-unavailable", "queue-drop"} {
		if !actions[want] {
			t.Errorf("recorder did not write a %q entry", want)
		}
	}
}
