package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/eggsync/internal/event"
)

const selectEvents = `
	SELECT e.id, e.batch_id, e.label, e.confidence, e.captured_at, e.device_id,
	       COALESCE(e.blob_id, 0), COALESCE(b.sync_state, ''), COALESCE(e.image_path, ''),
	       e.sync_state, COALESCE(e.remote_id, ''), e.aggregation_applied,
	       e.retry_count, e.attempts, e.next_attempt_at, COALESCE(e.last_error, ''),
	       e.created_at, COALESCE(e.synced_at, 0)
	FROM events e
	LEFT JOIN blobs b ON b.id = e.blob_id
`

// ListUnsynced returns every pending event ordered by capture time.
// Synced and failed records are never included. The call is a pure read, so
// it is safe to repeat after a partial failure.
func (q *Queue) ListUnsynced(ctx context.Context) ([]event.DetectionEvent, error) {
	return q.queryEvents(ctx, selectEvents+`
		WHERE e.sync_state = 'pending'
		ORDER BY e.captured_at ASC, e.id ASC
	`)
}

// ListDue returns pending events whose backoff has elapsed at now, in capture
// order. limit <= 0 means no limit.
func (q *Queue) ListDue(ctx context.Context, now time.Time, limit int) ([]event.DetectionEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	return q.queryEvents(ctx, selectEvents+`
		WHERE e.sync_state = 'pending' AND e.next_attempt_at <= ?
		ORDER BY e.captured_at ASC, e.id ASC
		LIMIT ?
	`, now.UnixNano(), limit)
}

// ListFailed returns dead-lettered events, oldest first.
func (q *Queue) ListFailed(ctx context.Context) ([]event.DetectionEvent, error) {
	return q.queryEvents(ctx, selectEvents+`
		WHERE e.sync_state = 'failed'
		ORDER BY e.captured_at ASC, e.id ASC
	`)
}

// Get returns a single event by local id.
func (q *Queue) Get(ctx context.Context, localID int64) (event.DetectionEvent, error) {
	events, err := q.queryEvents(ctx, selectEvents+`WHERE e.id = ?`, localID)
	if err != nil {
		return event.DetectionEvent{}, err
	}
	if len(events) == 0 {
		return event.DetectionEvent{}, fmt.Errorf("get %d: %w", localID, ErrNotFound)
	}
	return events[0], nil
}

// BlobData loads an image blob including its bytes.
func (q *Queue) BlobData(ctx context.Context, blobID int64) (event.ImageBlob, error) {
	var (
		b                             event.ImageBlob
		state                         string
		captured, created, syncedNano int64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, batch_id, captured_at, content_type, data, size, sync_state,
		       COALESCE(remote_path, ''), created_at, COALESCE(synced_at, 0)
		FROM blobs WHERE id = ?
	`, blobID).Scan(&b.ID, &b.BatchID, &captured, &b.ContentType, &b.Data, &b.Size,
		&state, &b.RemotePath, &created, &syncedNano)
	if errors.Is(err, sql.ErrNoRows) {
		return event.ImageBlob{}, fmt.Errorf("blob %d: %w", blobID, ErrNotFound)
	}
	if err != nil {
		return event.ImageBlob{}, storageErr("read blob", err)
	}
	b.State = event.SyncState(state)
	b.CapturedAt = time.Unix(0, captured).UTC()
	b.CreatedAt = time.Unix(0, created).UTC()
	b.SyncedAt = fromNanos(syncedNano)
	return b, nil
}

func (q *Queue) queryEvents(ctx context.Context, query string, args ...any) ([]event.DetectionEvent, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query events", err)
	}
	defer rows.Close()

	events := []event.DetectionEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate events", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (event.DetectionEvent, error) {
	var (
		ev                                   event.DetectionEvent
		label, blobState, state              string
		captured, next, created, syncedNanos int64
		applied                              int
	)
	err := rows.Scan(
		&ev.LocalID, &ev.BatchID, &label, &ev.Confidence, &captured, &ev.DeviceID,
		&ev.BlobID, &blobState, &ev.ImagePath,
		&state, &ev.RemoteID, &applied,
		&ev.RetryCount, &ev.Attempts, &next, &ev.LastError,
		&created, &syncedNanos,
	)
	if err != nil {
		return event.DetectionEvent{}, storageErr("scan event", err)
	}
	ev.Label = event.Label(label)
	ev.BlobState = event.SyncState(blobState)
	ev.State = event.SyncState(state)
	if !ev.State.Valid() {
		return event.DetectionEvent{}, storageErr("scan event", fmt.Errorf("record %d: unknown sync state %q", ev.LocalID, state))
	}
	ev.AggregationApplied = applied != 0
	ev.CapturedAt = time.Unix(0, captured).UTC()
	ev.NextAttemptAt = fromNanos(next)
	ev.CreatedAt = time.Unix(0, created).UTC()
	ev.SyncedAt = fromNanos(syncedNanos)
	return ev, nil
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
