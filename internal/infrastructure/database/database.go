package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	// openTimeout bounds the connectivity check inside Open.
	openTimeout = 5 * time.Second
)

// Config maps the audit section of config.yaml onto SQLite open options.
type Config struct {
	// Path is the SQLite database file. Its directory is created on demand.
	Path string

	// WALMode enables write-ahead logging so audit reads (the admin API's
	// GET /audit) don't block behind recorder writes.
	WALMode bool

	// BusyTimeout is how long, in seconds, a statement waits on a locked
	// database before failing.
	BusyTimeout int
}

// DB is the SQLite handle backing the broker-lifecycle audit trail. It
// embeds *sql.DB; the audit repository operates on it directly.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if necessary) the audit database at cfg.Path,
// applies the connection pragmas, and verifies connectivity.
//
// SQLite permits one writer at a time, so the pool is pinned to a single
// connection; the audit recorder is the only writer and its volume is a
// handful of rows per broker event.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on", cfg.Path, cfg.BusyTimeout*1000)
	if cfg.WALMode {
		dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	db := &DB{DB: sqlDB, path: cfg.Path}

	pingCtx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		sqlDB.Close() //nolint:errcheck // best-effort cleanup on the error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// The file may not exist until the first write; tighten permissions
	// opportunistically.
	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck

	return db, nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the database file's filesystem path.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck verifies the database answers a trivial query.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
