package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eggsync/internal/event"
)

func TestMarkSynced_Basic(t *testing.T) {
	q := createTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, testDetection("good", 0), nil)
	require.NoError(t, err)

	require.NoError(t, q.MarkSynced(ctx, id, "doc-1"))

	ev, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, event.StateSynced, ev.State)
	assert.Equal(t, "doc-1", ev.RemoteID)
	assert.True(t, ev.AggregationApplied, "synced implies aggregation applied")
	assert.Equal(t, testEpoch, ev.SyncedAt)

	pending, err := q.ListUnsynced(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMarkSynced_Idempotent(t *testing.T) {
	q := createTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, testDetection("good", 0), nil)
	require.NoError(t, err)

	require.NoError(t, q.MarkSynced(ctx, id, "doc-1"))
	require.NoError(t, q.MarkSynced(ctx, id, "doc-1"), "second mark must be a no-op")

	c, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Synced: 1}, c)
}

func TestMarkSynced_NotFound(t *testing.T) {
	q := createTestQueue(t)

	err := q.MarkSynced(context.Background(), 42, "doc-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkSynced_FailedIsTerminal(t *testing.T) {
	q := createTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, testDetection("good", 0), nil)
	require.NoError(t, err)

	state, err := q.RecordFailure(ctx, id, Failure{Err: "rejected", Counted: true, MaxRetries: 1})
	require.NoError(t, err)
	require.Equal(t, event.StateFailed, state)

	err = q.MarkSynced(ctx, id, "doc-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMarkSynced_SyncedCannotFail(t *testing.T) {
	q := createTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, testDetection("good", 0), nil)
	require.NoError(t, err)
	require.NoError(t, q.MarkSynced(ctx, id, "doc-1"))

	state, err := q.RecordFailure(ctx, id, Failure{Err: "late", Counted: true, MaxRetries: 1})
	require.NoError(t, err)
	assert.Equal(t, event.StateSynced, state, "failures never move a synced record")
}

func TestGet_UnknownStateIsStorageError(t *testing.T) {
	q := createTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, testDetection("good", 0), nil)
	require.NoError(t, err)

	// The schema CHECK keeps this out; an older or hand-edited file may not.
	_, err = q.db.ExecContext(ctx, `PRAGMA ignore_check_constraints = ON`)
	require.NoError(t, err)
	_, err = q.db.ExecContext(ctx, `UPDATE events SET sync_state = 'archived' WHERE id = ?`, id)
	require.NoError(t, err)

	_, err = q.Get(ctx, id)
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
	assert.Contains(t, err.Error(), "archived")

	err = q.MarkSynced(ctx, id, "doc-1")
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
}

func TestMarkAggregationApplied(t *testing.T) {
	q := createTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, testDetection("good", 0), nil)
	require.NoError(t, err)

	require.NoError(t, q.MarkAggregationApplied(ctx, id))
	require.NoError(t, q.MarkAggregationApplied(ctx, id))

	ev, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, ev.AggregationApplied)
	assert.Equal(t, event.StatePending, ev.State, "the sub-flag does not sync the record")

	assert.ErrorIs(t, q.MarkAggregationApplied(ctx, 404), ErrNotFound)
}

func TestMarkAggregationApplied_FailedIsTerminal(t *testing.T) {
	q := createTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, testDetection("good", 0), nil)
	require.NoError(t, err)
	_, err = q.RecordFailure(ctx, id, Failure{Err: "rejected", Counted: true, MaxRetries: 1})
	require.NoError(t, err)

	assert.ErrorIs(t, q.MarkAggregationApplied(ctx, id), ErrInvalidTransition)
}

func TestMarkAggregationApplied_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t)

	id, err := q.Enqueue(ctx, testDetection("good", 0), nil)
	require.NoError(t, err)
	require.NoError(t, q.MarkAggregationApplied(ctx, id))
	path := q.Path()
	require.NoError(t, q.Close())

	q2, err := Open(path)
	require.NoError(t, err)
	defer q2.Close()

	pending, err := q2.ListUnsynced(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].AggregationApplied)
}

func TestMarkBlobSynced_RewritesImagePath(t *testing.T) {
	q := createTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, testDetection("cracked", 0), &event.ImageInput{Data: []byte("jpeg")})
	require.NoError(t, err)
	ev, err := q.Get(ctx, id)
	require.NoError(t, err)

	require.NoError(t, q.MarkBlobSynced(ctx, ev.BlobID, "s3://bucket/images/a.jpg"))
	require.NoError(t, q.MarkBlobSynced(ctx, ev.BlobID, "s3://bucket/images/a.jpg"))

	ev, err = q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/images/a.jpg", ev.ImagePath)
	assert.Equal(t, event.StateSynced, ev.BlobState)
	assert.False(t, ev.NeedsUpload())
	assert.Equal(t, event.StatePending, ev.State, "the event itself is still pending")

	assert.ErrorIs(t, q.MarkBlobSynced(ctx, 999, "x"), ErrNotFound)
	assert.Error(t, q.MarkBlobSynced(ctx, ev.BlobID, ""))
}

func TestRecordFailure_BackoffWithoutBudget(t *testing.T) {
	q := createTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, testDetection("good", 0), nil)
	require.NoError(t, err)

	next := testEpoch.Add(30 * time.Second)
	for i := 0; i < 5; i++ {
		state, err := q.RecordFailure(ctx, id, Failure{Err: "dial tcp: timeout", NextAttemptAt: next, MaxRetries: 2})
		require.NoError(t, err)
		assert.Equal(t, event.StatePending, state, "uncounted failures never dead-letter")
	}

	ev, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, ev.RetryCount)
	assert.Equal(t, 5, ev.Attempts, "every failure is an attempt")
	assert.Equal(t, next, ev.NextAttemptAt)
	assert.Equal(t, "dial tcp: timeout", ev.LastError)
}

func TestRecordFailure_DeadLetterAtMaxAttempts(t *testing.T) {
	q := createTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, testDetection("good", 0), nil)
	require.NoError(t, err)

	f := Failure{Err: "i/o timeout", MaxRetries: 2, MaxAttempts: 4}
	for i := 1; i <= 3; i++ {
		state, err := q.RecordFailure(ctx, id, f)
		require.NoError(t, err)
		assert.Equal(t, event.StatePending, state, "attempt %d", i)
	}
	state, err := q.RecordFailure(ctx, id, f)
	require.NoError(t, err)
	assert.Equal(t, event.StateFailed, state)

	ev, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, ev.RetryCount, "transient failures leave the retry budget alone")
	assert.Equal(t, 4, ev.Attempts)
}

func TestRecordFailure_DeadLetterAtMaxRetries(t *testing.T) {
	q := createTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, testDetection("good", 0), nil)
	require.NoError(t, err)

	f := Failure{Err: "rejected: bad field", Counted: true, MaxRetries: 3}
	for i := 1; i <= 2; i++ {
		state, err := q.RecordFailure(ctx, id, f)
		require.NoError(t, err)
		assert.Equal(t, event.StatePending, state, "attempt %d", i)
	}
	state, err := q.RecordFailure(ctx, id, f)
	require.NoError(t, err)
	assert.Equal(t, event.StateFailed, state)

	// Further failures do not touch a dead letter.
	state, err = q.RecordFailure(ctx, id, f)
	require.NoError(t, err)
	assert.Equal(t, event.StateFailed, state)

	ev, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, ev.RetryCount)

	failed, err := q.ListFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{id}, localIDs(failed))

	pending, err := q.ListUnsynced(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "dead letters are excluded from the unsynced listing")

	n, err := q.FailedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRecordFailure_NotFound(t *testing.T) {
	q := createTestQueue(t)

	_, err := q.RecordFailure(context.Background(), 7, Failure{Err: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}
