package queue

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/eggsync/internal/event"
)

// Enqueue persists a detection and its optional image in one transaction and
// returns the event's local id. The record is durable when Enqueue returns.
//
// The detection should already be normalized (see ingest.API). An unknown
// label is rejected as-is; every storage failure is a *StorageError.
func (q *Queue) Enqueue(ctx context.Context, d event.Detection, img *event.ImageInput) (int64, error) {
	label, err := event.ParseLabel(d.Label)
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	batchID := d.BatchID
	if batchID == "" {
		batchID = event.DefaultBatchID
	}

	var need uint64
	if img != nil {
		need = uint64(len(img.Data))
	}
	if err := q.checkFreeSpace(need); err != nil {
		return 0, err
	}

	now := q.now().UnixNano()
	captured := now
	if !d.Timestamp.IsZero() {
		captured = d.Timestamp.UnixNano()
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("enqueue: begin tx", err)
	}
	defer tx.Rollback()

	var blobID sql.NullInt64
	if img != nil && len(img.Data) > 0 {
		contentType := img.ContentType
		if contentType == "" {
			contentType = "image/jpeg"
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO blobs (batch_id, captured_at, content_type, data, size, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, batchID, captured, contentType, img.Data, len(img.Data), now)
		if err != nil {
			return 0, storageErr("enqueue: insert blob", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, storageErr("enqueue: blob id", err)
		}
		blobID = sql.NullInt64{Int64: id, Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (batch_id, label, confidence, captured_at, device_id, blob_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, batchID, string(label), d.Confidence, captured, d.DeviceID, blobID, now)
	if err != nil {
		return 0, storageErr("enqueue: insert event", err)
	}
	localID, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("enqueue: event id", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("enqueue: commit", err)
	}

	q.logger.Debug("event enqueued", "local_id", localID, "label", label, "batch_id", batchID, "blob_id", blobID.Int64)
	return localID, nil
}
