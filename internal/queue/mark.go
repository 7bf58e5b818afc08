package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/eggsync/internal/event"
)

// MarkBlobSynced records a successful image upload and rewrites the image
// reference of every event pointing at the blob to the remote path.
// Idempotent: marking an already-synced blob again is a no-op.
func (q *Queue) MarkBlobSynced(ctx context.Context, blobID int64, remotePath string) error {
	if remotePath == "" {
		return fmt.Errorf("mark blob synced %d: empty remote path", blobID)
	}
	now := q.now().UnixNano()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("mark blob synced: begin tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE blobs SET sync_state = 'synced', remote_path = ?, synced_at = ?
		WHERE id = ? AND sync_state = 'pending'
	`, remotePath, now, blobID)
	if err != nil {
		return storageErr("mark blob synced", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return storageErr("mark blob synced: rows affected", err)
	} else if n == 0 {
		if err := requireState(ctx, tx, "blobs", blobID, event.StateSynced); err != nil {
			return fmt.Errorf("mark blob synced %d: %w", blobID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE events SET image_path = ?
		WHERE blob_id = ? AND sync_state = 'pending'
	`, remotePath, blobID); err != nil {
		return storageErr("mark blob synced: rewrite image path", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("mark blob synced: commit", err)
	}
	return nil
}

// MarkAggregationApplied records that the event's counter increments have
// been issued. The worker checks this flag before incrementing again.
// Idempotent; ErrNotFound for an unknown id.
func (q *Queue) MarkAggregationApplied(ctx context.Context, localID int64) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE events SET aggregation_applied = 1
		WHERE id = ? AND sync_state = 'pending' AND aggregation_applied = 0
	`, localID)
	if err != nil {
		return storageErr("mark aggregation applied", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("mark aggregation applied: rows affected", err)
	}
	if n > 0 {
		return nil
	}

	ev, err := q.Get(ctx, localID)
	if err != nil {
		return fmt.Errorf("mark aggregation applied: %w", err)
	}
	if !ev.State.CanTransition(event.StateSynced) {
		return fmt.Errorf("mark aggregation applied %d: %w", localID, ErrInvalidTransition)
	}
	return nil
}

// MarkSynced flips a pending event to synced, stores the remote id and sets
// aggregation_applied in the same statement.
//
// Calling it twice with the same arguments is a no-op after the first call.
// Returns ErrNotFound for an unknown id and ErrInvalidTransition for a
// dead-lettered record.
func (q *Queue) MarkSynced(ctx context.Context, localID int64, remoteID string) error {
	if remoteID == "" {
		return fmt.Errorf("mark synced %d: empty remote id", localID)
	}
	now := q.now().UnixNano()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("mark synced: begin tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE events
		SET sync_state = 'synced', remote_id = ?, aggregation_applied = 1,
		    synced_at = ?, last_error = NULL
		WHERE id = ? AND sync_state = 'pending'
	`, remoteID, now, localID)
	if err != nil {
		return storageErr("mark synced", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("mark synced: rows affected", err)
	}
	if n == 0 {
		if err := requireState(ctx, tx, "events", localID, event.StateSynced); err != nil {
			return fmt.Errorf("mark synced %d: %w", localID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("mark synced: commit", err)
	}
	return nil
}

// Failure describes a failed sync attempt.
type Failure struct {
	Err string

	// NextAttemptAt is when the record becomes due again.
	NextAttemptAt time.Time

	// Counted failures consume the retry budget; transient network failures
	// only push NextAttemptAt.
	Counted bool

	// MaxRetries is the budget; a counted failure reaching it dead-letters
	// the record. 0 means unlimited.
	MaxRetries int

	// MaxAttempts dead-letters the record once this many attempts have
	// failed, counted or not. 0 means unlimited.
	MaxAttempts int
}

// RecordFailure stores a failed attempt and returns the record's new state.
// Every failure bumps attempts; only counted ones bump retry_count. Only
// pending records are updated.
func (q *Queue) RecordFailure(ctx context.Context, localID int64, f Failure) (event.SyncState, error) {
	counted := 0
	if f.Counted {
		counted = 1
	}
	var next int64
	if !f.NextAttemptAt.IsZero() {
		next = f.NextAttemptAt.UnixNano()
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storageErr("record failure: begin tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE events
		SET retry_count = retry_count + ?,
		    attempts = attempts + 1,
		    next_attempt_at = ?,
		    last_error = ?,
		    sync_state = CASE
		        WHEN ? > 0 AND ? = 1 AND retry_count + 1 >= ? THEN 'failed'
		        WHEN ? > 0 AND attempts + 1 >= ? THEN 'failed'
		        ELSE sync_state
		    END
		WHERE id = ? AND sync_state = 'pending'
	`, counted, next, f.Err, f.MaxRetries, counted, f.MaxRetries, f.MaxAttempts, f.MaxAttempts, localID)
	if err != nil {
		return "", storageErr("record failure", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", storageErr("record failure: rows affected", err)
	} else if n == 0 {
		state, err := currentState(ctx, tx, "events", localID)
		if err != nil {
			return "", fmt.Errorf("record failure %d: %w", localID, err)
		}
		return state, nil
	}

	state, err := currentState(ctx, tx, "events", localID)
	if err != nil {
		return "", fmt.Errorf("record failure %d: %w", localID, err)
	}
	if err := tx.Commit(); err != nil {
		return "", storageErr("record failure: commit", err)
	}
	return state, nil
}

// currentState reads sync_state of a row in table.
func currentState(ctx context.Context, tx *sql.Tx, table string, id int64) (event.SyncState, error) {
	var state string
	err := tx.QueryRowContext(ctx, "SELECT sync_state FROM "+table+" WHERE id = ?", id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", storageErr("read state", err)
	}
	if s := event.SyncState(state); s.Valid() {
		return s, nil
	}
	return "", storageErr("read state", fmt.Errorf("unknown sync state %q", state))
}

// requireState explains a zero-row update guarded on the pending state:
// ErrNotFound if the row is missing, nil if it is already in want,
// ErrInvalidTransition otherwise.
func requireState(ctx context.Context, tx *sql.Tx, table string, id int64, want event.SyncState) error {
	state, err := currentState(ctx, tx, table, id)
	if err != nil {
		return err
	}
	if !state.CanTransition(want) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, state, want)
	}
	return nil
}
