package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreUpsertMerges(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Upsert(ctx, "events", "a", map[string]any{"label": "good", "local_id": int64(1)}))
	require.NoError(t, s.Upsert(ctx, "events", "a", map[string]any{"image_path": "images/x.jpg"}))
	require.NoError(t, s.Upsert(ctx, "events", "a", map[string]any{"image_path": "images/x.jpg"}))

	doc, ok := s.Document("events", "a")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"label": "good", "local_id": int64(1), "image_path": "images/x.jpg"}, doc)
	assert.Equal(t, []string{"a"}, s.DocumentIDs("events"))
}

func TestMemoryStoreApplyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	incs := []Increment{
		{Collection: "daily_summaries", DocID: "2026-10-19", Field: "total", Delta: 1},
		{Collection: "daily_summaries", DocID: "2026-10-19", Field: "labels.good", Delta: 1},
	}

	applied, err := s.ApplyOnce(ctx, "ev-1", incs)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.ApplyOnce(ctx, "ev-1", incs)
	require.NoError(t, err)
	assert.False(t, applied, "second apply with the same guard is a no-op")

	c, err := s.Counters(ctx, "daily_summaries", "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"total": 1, "labels.good": 1}, c)
}

func TestMemoryStoreFaults(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.Inject(OpUpsert, FaultFail, 2)
	err := s.Upsert(ctx, "events", "a", map[string]any{"x": "1"})
	assert.True(t, IsTransient(err))
	err = s.Upsert(ctx, "events", "a", map[string]any{"x": "1"})
	assert.True(t, IsTransient(err))
	require.NoError(t, s.Upsert(ctx, "events", "a", map[string]any{"x": "1"}))
	assert.Equal(t, 3, s.Calls(OpUpsert))

	s.Inject(OpApplyOnce, FaultReject, 1)
	_, err = s.ApplyOnce(ctx, "g", []Increment{{Collection: "c", DocID: "d", Field: "f", Delta: 1}})
	assert.True(t, IsRejected(err))
	c, _ := s.Counters(ctx, "c", "d")
	assert.Empty(t, c)
}

func TestMemoryStoreCommitThenTimeout(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	incs := []Increment{{Collection: "c", DocID: "d", Field: "total", Delta: 1}}

	s.Inject(OpApplyOnce, FaultCommitThenTimeout, 1)
	applied, err := s.ApplyOnce(ctx, "g", incs)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, applied)

	// The write landed; the retry must see the guard.
	applied, err = s.ApplyOnce(ctx, "g", incs)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, map[string]map[string]int64{"c/d": {"total": 1}}, s.CounterSnapshot())
}

func TestMemoryStoreOffline(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.SetOffline(true)
	assert.True(t, IsTransient(s.Ping(ctx)))
	s.SetOffline(false)
	assert.NoError(t, s.Ping(ctx))
}

func TestMemoryStoreCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore()
	err := s.Upsert(ctx, "events", "a", map[string]any{"x": "1"})
	assert.True(t, IsTransient(err))
	_, ok := s.Document("events", "a")
	assert.False(t, ok)
}

func TestMemoryBlobStore(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBlobStore()

	p, err := b.Upload(ctx, "images/dev/2026-10-19/abc.jpg", []byte{1, 2, 3}, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "mem://images/dev/2026-10-19/abc.jpg", p)

	data, ct, ok := b.Object("images/dev/2026-10-19/abc.jpg")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, data)
	assert.Equal(t, "image/jpeg", ct)

	b.Inject(OpUpload, FaultFail, 1)
	_, err = b.Upload(ctx, "images/other.jpg", []byte{4}, "image/jpeg")
	assert.True(t, IsTransient(err))
	assert.Equal(t, 1, b.Len())
}
