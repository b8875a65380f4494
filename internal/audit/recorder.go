package audit

import (
	"context"
	"time"
)

// SQLiteRecorder adapts a Repository to session.Recorder. Every call builds
// an AuditLog and writes it with a short background timeout; a write
// failure is dropped, never surfaced to the caller, since the audit trail
// is observational only.
type SQLiteRecorder struct {
	repo    Repository
	timeout time.Duration
}

// NewSQLiteRecorder wraps repo as a session.Recorder. Every write gets a
// 2-second timeout.
func NewSQLiteRecorder(repo Repository) *SQLiteRecorder {
	return &SQLiteRecorder{repo: repo, timeout: 2 * time.Second}
}

func (r *SQLiteRecorder) RecordSwap(oldURI, newURI, trigger string) {
	r.record(&AuditLog{
		Action:     "broker-swap",
		EntityType: "broker",
		EntityID:   newURI,
		Source:     "monitor",
		Details: map[string]any{
			"old_uri": oldURI,
			"new_uri": newURI,
			"trigger": trigger,
		},
	})
}

func (r *SQLiteRecorder) RecordUnavailable(uri, reason string) {
	r.record(&AuditLog{
		Action:     "broker-unavailable",
		EntityType: "broker",
		EntityID:   uri,
		Source:     "session",
		Details: map[string]any{
			"reason": reason,
		},
	})
}

func (r *SQLiteRecorder) RecordQueueDrop(topic string) {
	r.record(&AuditLog{
		Action:     "queue-drop",
		EntityType: "message",
		EntityID:   topic,
		Source:     "session",
	})
}

func (r *SQLiteRecorder) record(log *AuditLog) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	_ = r.repo.Create(ctx, log)
}
