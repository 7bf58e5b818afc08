package queue

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	q, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer q.Close()

	for _, table := range []string{"events", "blobs", "meta"} {
		var name string
		err := q.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestOpen_Pragmas(t *testing.T) {
	q := createTestQueue(t)

	// synchronous=FULL reads back as 2.
	checks := map[string]string{
		"journal_mode": "wal",
		"synchronous":  "2",
		"foreign_keys": "1",
		"busy_timeout": "5000",
		"user_version": "2",
	}
	for name, want := range checks {
		if err := q.verifyPragma(name, want); err != nil {
			t.Errorf("pragma: %v", err)
		}
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	for i := 0; i < 3; i++ {
		q, err := Open(path)
		if err != nil {
			t.Fatalf("Open() #%d failed: %v", i, err)
		}
		if err := q.Close(); err != nil {
			t.Fatalf("Close() #%d failed: %v", i, err)
		}
	}
}

func TestEnqueue_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	q, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	id, err := q.Enqueue(ctx, testDetection("good", 0), nil)
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	// Simulate an abrupt stop: no further calls on q before the handle goes away.
	q.Close()

	q2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer q2.Close()

	pending, err := q2.ListUnsynced(ctx)
	if err != nil {
		t.Fatalf("ListUnsynced() failed: %v", err)
	}
	if len(pending) != 1 || pending[0].LocalID != id {
		t.Fatalf("ListUnsynced() after reopen = %+v, want record %d", pending, id)
	}
}

func TestClose_Twice(t *testing.T) {
	q := createTestQueue(t)
	if err := q.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	// database/sql tolerates a second Close.
	_ = q.Close()
}

func TestOpen_MigratesV1Database(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	// A v1 database has no attempts column.
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("sql.Open() failed: %v", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_id TEXT NOT NULL, label TEXT NOT NULL, confidence REAL NOT NULL,
			captured_at INTEGER NOT NULL, device_id TEXT NOT NULL,
			blob_id INTEGER, image_path TEXT,
			sync_state TEXT NOT NULL DEFAULT 'pending',
			aggregation_applied INTEGER NOT NULL DEFAULT 0, remote_id TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0, next_attempt_at INTEGER NOT NULL DEFAULT 0,
			last_error TEXT, created_at INTEGER NOT NULL, synced_at INTEGER)`,
		`INSERT INTO events (batch_id, label, confidence, captured_at, device_id, retry_count, created_at)
			VALUES ('B1', 'good', 0.9, 1, 'kiosk-01', 1, 1)`,
		`PRAGMA user_version = 1`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed v1: %v", err)
		}
	}
	db.Close()

	q, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer q.Close()
	if err := q.verifyPragma("user_version", "2"); err != nil {
		t.Fatal(err)
	}

	ev, err := q.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if ev.RetryCount != 1 || ev.Attempts != 0 {
		t.Fatalf("migrated record retry_count=%d attempts=%d, want 1 and 0", ev.RetryCount, ev.Attempts)
	}
}
