package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceID_GeneratedOnceAndPersisted(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t)

	id1, err := q.DeviceID(ctx)
	require.NoError(t, err)
	_, err = uuid.Parse(id1)
	require.NoError(t, err, "generated device id should be a uuid")

	id2, err := q.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	path := q.Path()
	require.NoError(t, q.Close())
	q2, err := Open(path)
	require.NoError(t, err)
	defer q2.Close()

	id3, err := q2.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id1, id3, "device id must survive restarts")
}

func TestSetDeviceID(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t)

	require.NoError(t, q.SetDeviceID(ctx, "kiosk-07"))
	id, err := q.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kiosk-07", id)
}

func TestLastSync(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t)

	_, ok, err := q.LastSync(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	require.NoError(t, q.SetLastSync(ctx, at))

	got, ok, err := q.LastSync(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, at, got)
}

func TestCounts(t *testing.T) {
	ctx := context.Background()
	q := createTestQueue(t)

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, testDetection("good", time.Duration(i)*time.Second), nil)
		require.NoError(t, err)
	}
	require.NoError(t, q.MarkSynced(ctx, 1, "doc-1"))

	pending, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	c, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Pending: 2, Synced: 1}, c)
}
