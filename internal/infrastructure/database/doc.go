// Package database manages the SQLite store behind the broker-lifecycle
// audit trail: broker swaps, unavailability transitions, and queue drops
// are recorded through this connection.
//
// It owns connection setup (WAL mode, busy timeout, a single-writer pool)
// and the versioned schema history, applied by Migrate at startup. The
// schema lives in migrations.go as ordered Go constants; entries are
// append-only. The audit repository in internal/audit runs its queries
// directly against the embedded *sql.DB.
//
// Nothing in the adaptive-selection core depends on this package: the
// Offline Queue is deliberately memory-only, and a missing or broken
// audit database degrades to log lines, never to a connect or publish
// failure.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Audit.Path})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
