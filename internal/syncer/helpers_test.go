package syncer

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/eggsync/internal/aggregate"
	"github.com/roach88/eggsync/internal/connectivity"
	"github.com/roach88/eggsync/internal/event"
	"github.com/roach88/eggsync/internal/queue"
	"github.com/roach88/eggsync/internal/remote"
	"github.com/roach88/eggsync/internal/testutil"
)

var testEpoch = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

type fixture struct {
	t       *testing.T
	clock   *testutil.ManualClock
	queue   *queue.Queue
	docs    *remote.MemoryStore
	blobs   *remote.MemoryBlobStore
	monitor *connectivity.Monitor
	worker  *Worker
	cfg     Config
}

func testConfig() Config {
	return Config{
		Interval:       time.Hour,
		AttemptTimeout: time.Second,
		MaxRetries:     3,
		BaseBackoff:    time.Second,
		MaxBackoff:     time.Minute,
	}
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		clock:   testutil.NewManualClock(testEpoch),
		docs:    remote.NewMemoryStore(),
		blobs:   remote.NewMemoryBlobStore(),
		monitor: connectivity.NewMonitor(nil),
		cfg:     cfg,
	}
	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"), queue.WithClock(f.clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	f.queue = q
	f.worker = f.newWorker(q, f.docs)
	return f
}

func (f *fixture) newWorker(q Queue, docs remote.DocumentStore) *Worker {
	return New(q, docs, f.blobs, aggregate.NewUpdater(docs), f.monitor, f.cfg,
		WithClock(f.clock.Now),
		WithIDGenerator(testutil.NewSequentialIDs("run")),
	)
}

func (f *fixture) record(label string, img *event.ImageInput) int64 {
	f.t.Helper()
	id, err := f.queue.Enqueue(context.Background(), event.Detection{
		BatchID:    "B-1",
		Label:      label,
		Confidence: 0.9,
		Timestamp:  f.clock.Now(),
		DeviceID:   "kiosk-01",
	}, img)
	require.NoError(f.t, err)
	f.clock.Advance(time.Second)
	return id
}

func (f *fixture) get(id int64) event.DetectionEvent {
	f.t.Helper()
	ev, err := f.queue.Get(context.Background(), id)
	require.NoError(f.t, err)
	return ev
}

func (f *fixture) summary(kind aggregate.Kind, key string) aggregate.Summary {
	f.t.Helper()
	s, err := aggregate.ReadSummary(context.Background(), f.docs, kind, key)
	require.NoError(f.t, err)
	return s
}

// flakyQueue fails MarkSynced a fixed number of times, simulating a crash
// between the remote writes and the local state flip.
type flakyQueue struct {
	*queue.Queue

	mu             sync.Mutex
	failMarkSynced int
}

func (q *flakyQueue) MarkSynced(ctx context.Context, localID int64, remoteID string) error {
	q.mu.Lock()
	if q.failMarkSynced > 0 {
		q.failMarkSynced--
		q.mu.Unlock()
		return &queue.StorageError{Op: "mark synced", Err: context.Canceled}
	}
	q.mu.Unlock()
	return q.Queue.MarkSynced(ctx, localID, remoteID)
}

// scriptedMonitor reports online for the first n checks.
type scriptedMonitor struct {
	mu     sync.Mutex
	checks int
	n      int
}

func (m *scriptedMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	return m.checks <= m.n
}

func (m *scriptedMonitor) Subscribe() (<-chan struct{}, func()) {
	return make(chan struct{}), func() {}
}

// slowStore delays remote writes so new records land while a drain is in
// flight.
type slowStore struct {
	*remote.MemoryStore
	delay time.Duration
}

func (s slowStore) Upsert(ctx context.Context, collection, id string, fields map[string]any) error {
	time.Sleep(s.delay)
	return s.MemoryStore.Upsert(ctx, collection, id, fields)
}

func (s slowStore) ApplyOnce(ctx context.Context, guard string, incs []remote.Increment) (bool, error) {
	time.Sleep(s.delay)
	return s.MemoryStore.ApplyOnce(ctx, guard, incs)
}
