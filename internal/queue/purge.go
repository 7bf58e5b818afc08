package queue

import (
	"context"
	"math"
	"time"
)

// PurgeResult counts the rows removed by PurgeSynced.
type PurgeResult struct {
	Events int64 `json:"events"`
	Blobs  int64 `json:"blobs"`
}

// PurgeSynced removes synced events whose synced_at is before olderThan
// (a zero olderThan removes every synced event), then removes synced blobs
// that no remaining event references. Pending and failed rows are never
// touched.
func (q *Queue) PurgeSynced(ctx context.Context, olderThan time.Time) (PurgeResult, error) {
	cutoff := int64(math.MaxInt64)
	if !olderThan.IsZero() {
		cutoff = olderThan.UnixNano()
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return PurgeResult{}, storageErr("purge: begin tx", err)
	}
	defer tx.Rollback()

	var result PurgeResult

	res, err := tx.ExecContext(ctx, `
		DELETE FROM events
		WHERE sync_state = 'synced' AND synced_at < ?
	`, cutoff)
	if err != nil {
		return PurgeResult{}, storageErr("purge events", err)
	}
	if result.Events, err = res.RowsAffected(); err != nil {
		return PurgeResult{}, storageErr("purge events: rows affected", err)
	}

	res, err = tx.ExecContext(ctx, `
		DELETE FROM blobs
		WHERE sync_state = 'synced'
		  AND NOT EXISTS (SELECT 1 FROM events e WHERE e.blob_id = blobs.id)
	`)
	if err != nil {
		return PurgeResult{}, storageErr("purge blobs", err)
	}
	if result.Blobs, err = res.RowsAffected(); err != nil {
		return PurgeResult{}, storageErr("purge blobs: rows affected", err)
	}

	if err := tx.Commit(); err != nil {
		return PurgeResult{}, storageErr("purge: commit", err)
	}

	if result.Events > 0 || result.Blobs > 0 {
		q.logger.Info("purged synced records", "events", result.Events, "blobs", result.Blobs)
	}
	return result, nil
}
