package queue

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on events(blob_id) for image path rewrites and purges
// 2 - Added events.attempts, every failed attempt including transient ones
const currentSchemaVersion = 2

// Queue is the durable local queue. It is opened at device boot, injected
// into the components that need it and closed at shutdown.
type Queue struct {
	db           *sql.DB
	path         string
	now          func() time.Time
	minFreeBytes uint64
	freeSpace    SpaceChecker
	logger       *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the wall clock used for created_at/synced_at stamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// WithMinFreeBytes makes Enqueue fail with ErrStorageExhausted when the
// volume holding the database has less than n bytes free. 0 disables the check.
func WithMinFreeBytes(n uint64) Option {
	return func(q *Queue) {
		q.minFreeBytes = n
	}
}

// WithSpaceChecker replaces the free-space probe (tests use a fixed value).
func WithSpaceChecker(fn SpaceChecker) Option {
	return func(q *Queue) {
		q.freeSpace = fn
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// Open creates or opens the queue database at path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times on the same path.
func Open(path string, opts ...Option) (*Queue, error) {
	// Pragmas are repeated in the DSN so a reconnected handle gets them too.
	dsn := path + "?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, storageErr("open", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storageErr("connect", err)
	}

	// SQLite only supports one writer at a time. Enqueue and the sync worker
	// share this connection; each call holds it for one short statement or tx.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, storageErr("apply pragmas", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, storageErr("apply schema", err)
	}

	q := &Queue{
		db:        db,
		path:      path,
		now:       time.Now,
		freeSpace: diskFree,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Close closes the database connection.
func (q *Queue) Close() error {
	if q.db == nil {
		return nil
	}
	return q.db.Close()
}

// Path returns the database file path.
func (q *Queue) Path() string {
	return q.path
}

// Dir returns the directory holding the database file.
func (q *Queue) Dir() string {
	return filepath.Dir(q.path)
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}
	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_events_blob_id
		ON events(blob_id)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

func migrateToV2(db *sql.DB) error {
	_, err := db.Exec(`ALTER TABLE events ADD COLUMN attempts INTEGER NOT NULL DEFAULT 0`)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (q *Queue) verifyPragma(name, expected string) error {
	var value string
	if err := q.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
