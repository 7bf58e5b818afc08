package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eggsync/internal/event"
	"github.com/roach88/eggsync/internal/remote"
)

var captured = time.Date(2026, 10, 19, 23, 30, 0, 0, time.UTC)

func testEvent(id int64, label event.Label, batch string) event.DetectionEvent {
	return event.DetectionEvent{
		LocalID:    id,
		DeviceID:   "kiosk-01",
		BatchID:    batch,
		Label:      label,
		Confidence: 0.9,
		CapturedAt: captured,
	}
}

func TestApplyEventGuarded(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemoryStore()
	u := NewUpdater(store)

	applied, err := u.ApplyEvent(ctx, testEvent(1, event.LabelCracked, "b1"))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = u.ApplyEvent(ctx, testEvent(1, event.LabelCracked, "b1"))
	require.NoError(t, err)
	assert.False(t, applied, "same event must not be counted twice")

	daily, err := ReadSummary(ctx, store, KindDaily, "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, int64(1), daily.Total)
	assert.Equal(t, map[string]int64{"cracked": 1}, daily.Labels)
	assert.True(t, daily.Consistent())

	batch, err := ReadSummary(ctx, store, KindBatch, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), batch.Total)
	assert.True(t, batch.Consistent())
}

func TestApplyEventDistinctEvents(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewMemoryStore()
	u := NewUpdater(mem)

	for i, l := range []event.Label{event.LabelGood, event.LabelGood, event.LabelDirty} {
		applied, err := u.ApplyEvent(ctx, testEvent(int64(i+1), l, ""))
		require.NoError(t, err)
		assert.True(t, applied)
	}
	assert.Equal(t, 3, mem.Calls(remote.OpApplyOnce))

	batch, err := ReadSummary(ctx, mem, KindBatch, event.DefaultBatchID)
	require.NoError(t, err)
	assert.Equal(t, Summary{
		Kind:   KindBatch,
		Key:    event.DefaultBatchID,
		Total:  3,
		Labels: map[string]int64{"good": 2, "dirty": 1},
	}, batch)
}

func TestApplyEventUsesDeviceZone(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemoryStore()
	tokyo := time.FixedZone("JST", 9*60*60)
	u := NewUpdater(store, WithLocation(tokyo))

	_, err := u.ApplyEvent(ctx, testEvent(1, event.LabelGood, "b1"))
	require.NoError(t, err)

	s, err := ReadSummary(ctx, store, KindDaily, "2026-10-20")
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Total)
}

func TestApplyEventFailureIsConflict(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemoryStore()
	store.Inject(remote.OpApplyOnce, remote.FaultFail, 1)
	u := NewUpdater(store)

	applied, err := u.ApplyEvent(ctx, testEvent(1, event.LabelGood, "b1"))
	require.Error(t, err)
	assert.False(t, applied)
	assert.True(t, IsConflict(err))
	assert.True(t, remote.IsTransient(err))
}

func TestApplyEventAfterAmbiguousTimeout(t *testing.T) {
	ctx := context.Background()
	store := remote.NewMemoryStore()
	store.Inject(remote.OpApplyOnce, remote.FaultCommitThenTimeout, 1)
	u := NewUpdater(store)
	ev := testEvent(1, event.LabelGood, "b1")

	_, err := u.ApplyEvent(ctx, ev)
	require.Error(t, err)

	applied, err := u.ApplyEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, applied)

	s, err := ReadSummary(ctx, store, KindDaily, "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Total)
}

func TestApplyEventRejectsMissingDevice(t *testing.T) {
	u := NewUpdater(remote.NewMemoryStore())
	ev := testEvent(1, event.LabelGood, "b1")
	ev.DeviceID = ""
	_, err := u.ApplyEvent(context.Background(), ev)
	assert.True(t, IsConflict(err))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("Batch")
	require.NoError(t, err)
	assert.Equal(t, KindBatch, k)
	assert.Equal(t, CollectionBatch, k.Collection())

	_, err = ParseKind("weekly")
	assert.Error(t, err)
}
