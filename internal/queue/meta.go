package queue

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	metaDeviceID = "device_id"
	metaLastSync = "last_sync_at"
)

// Counts summarizes queue contents by state.
type Counts struct {
	Pending int64 `json:"pending"`
	Synced  int64 `json:"synced"`
	Failed  int64 `json:"failed"`
}

// PendingCount returns the number of events not yet synced (dead letters excluded).
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	c, err := q.Counts(ctx)
	return c.Pending, err
}

// FailedCount returns the number of dead-lettered events.
func (q *Queue) FailedCount(ctx context.Context) (int64, error) {
	c, err := q.Counts(ctx)
	return c.Failed, err
}

// Counts returns per-state event counts.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT sync_state, COUNT(*) FROM events GROUP BY sync_state`)
	if err != nil {
		return Counts{}, storageErr("count events", err)
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return Counts{}, storageErr("scan counts", err)
		}
		switch state {
		case "pending":
			c.Pending = n
		case "synced":
			c.Synced = n
		case "failed":
			c.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return Counts{}, storageErr("iterate counts", err)
	}
	return c, nil
}

// LastSync returns when the last clean sync run finished.
// ok is false if no run has completed yet.
func (q *Queue) LastSync(ctx context.Context) (t time.Time, ok bool, err error) {
	v, found, err := q.getMeta(ctx, metaLastSync)
	if err != nil || !found {
		return time.Time{}, false, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, storageErr("parse last sync", err)
	}
	return time.Unix(0, n).UTC(), true, nil
}

// SetLastSync records the completion time of a clean sync run.
func (q *Queue) SetLastSync(ctx context.Context, t time.Time) error {
	return q.setMeta(ctx, metaLastSync, strconv.FormatInt(t.UnixNano(), 10))
}

// DeviceID returns the device identity stored in the queue, generating and
// persisting a random one on first use. Concurrent first calls agree on the
// value because the insert is ON CONFLICT DO NOTHING followed by a read.
func (q *Queue) DeviceID(ctx context.Context) (string, error) {
	if _, err := q.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO NOTHING
	`, metaDeviceID, uuid.NewString()); err != nil {
		return "", storageErr("init device id", err)
	}
	v, _, err := q.getMeta(ctx, metaDeviceID)
	return v, err
}

// SetDeviceID pins the device identity (from configuration).
func (q *Queue) SetDeviceID(ctx context.Context, id string) error {
	return q.setMeta(ctx, metaDeviceID, id)
}

func (q *Queue) getMeta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := q.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("read meta "+key, err)
	}
	return v, true, nil
}

func (q *Queue) setMeta(ctx context.Context, key, value string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return storageErr("write meta "+key, err)
	}
	return nil
}
