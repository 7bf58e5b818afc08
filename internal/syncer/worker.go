package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/eggsync/internal/event"
	"github.com/roach88/eggsync/internal/queue"
	"github.com/roach88/eggsync/internal/remote"
)

// CollectionDetections holds one document per synced detection event.
const CollectionDetections = "detections"

// Queue is the part of *queue.Queue the worker drives.
type Queue interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]event.DetectionEvent, error)
	BlobData(ctx context.Context, blobID int64) (event.ImageBlob, error)
	MarkBlobSynced(ctx context.Context, blobID int64, remotePath string) error
	MarkAggregationApplied(ctx context.Context, localID int64) error
	MarkSynced(ctx context.Context, localID int64, remoteID string) error
	RecordFailure(ctx context.Context, localID int64, f queue.Failure) (event.SyncState, error)
	SetLastSync(ctx context.Context, t time.Time) error
	PurgeSynced(ctx context.Context, olderThan time.Time) (queue.PurgeResult, error)
}

// Aggregator applies a synced event to the remote summaries.
type Aggregator interface {
	ApplyEvent(ctx context.Context, ev event.DetectionEvent) (bool, error)
}

// Monitor reports connectivity.
type Monitor interface {
	IsOnline() bool
	Subscribe() (<-chan struct{}, func())
}

// Config tunes the worker.
type Config struct {
	// Interval between periodic drains.
	Interval time.Duration

	// AttemptTimeout bounds each record's remote calls.
	AttemptTimeout time.Duration

	// MaxRetries is the number of counted failures before a record is
	// dead-lettered. 0 disables dead-lettering.
	MaxRetries int

	// MaxAttempts dead-letters a record after this many failed attempts of
	// any kind, bounding records that only ever time out. 0 means no bound.
	MaxAttempts int

	// The delay before the next attempt doubles with every failed attempt,
	// from BaseBackoff up to MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// BatchSize caps the records fetched per drain. 0 means all due.
	BatchSize int

	// Retention purges synced records older than this after each drain.
	// 0 keeps them.
	Retention time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       30 * time.Second,
		AttemptTimeout: 15 * time.Second,
		MaxRetries:     8,
		MaxAttempts:    100,
		BaseBackoff:    5 * time.Second,
		MaxBackoff:     10 * time.Minute,
		BatchSize:      200,
	}
}

// Worker syncs pending records.
//
// Thread-safety model:
//   - Trigger(): safe from any goroutine
//   - RunOnce(): safe from any goroutine; concurrent calls get ErrRunInProgress
//   - Run(): must be called from exactly one goroutine
type Worker struct {
	queue   Queue
	docs    remote.DocumentStore
	blobs   remote.BlobStore
	agg     Aggregator
	monitor Monitor
	cfg     Config

	now    func() time.Time
	ids    IDGenerator
	loc    *time.Location
	logger *slog.Logger

	trigger chan struct{}
	running sync.Mutex
}

// Option configures a Worker.
type Option func(*Worker)

// WithClock sets the time source used for scheduling and stamps.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithIDGenerator sets the run id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(w *Worker) {
		if g != nil {
			w.ids = g
		}
	}
}

// WithLocation sets the zone used for date-partitioned blob paths.
func WithLocation(loc *time.Location) Option {
	return func(w *Worker) {
		if loc != nil {
			w.loc = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a Worker. blobs may be nil if no record ever carries an image;
// such a record then fails with CodeBlobUpload.
func New(q Queue, docs remote.DocumentStore, blobs remote.BlobStore, agg Aggregator, mon Monitor, cfg Config, opts ...Option) *Worker {
	w := &Worker{
		queue:   q,
		docs:    docs,
		blobs:   blobs,
		agg:     agg,
		monitor: mon,
		cfg:     cfg,
		now:     time.Now,
		ids:     UUIDv7Generator{},
		loc:     time.UTC,
		logger:  slog.Default(),
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Trigger requests a drain. Never blocks; pending requests coalesce.
func (w *Worker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run drains on online transitions, on every tick and on Trigger, until ctx
// is cancelled. Drains only start while the monitor reports online.
func (w *Worker) Run(ctx context.Context) error {
	online, unsubscribe := w.monitor.Subscribe()
	defer unsubscribe()

	interval := w.cfg.Interval
	if interval <= 0 {
		interval = DefaultConfig().Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("sync worker starting", "interval", interval)
	if w.monitor.IsOnline() {
		w.drain(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sync worker stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-online:
		case <-ticker.C:
		case <-w.trigger:
		}
		if w.monitor.IsOnline() {
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error("sync run failed", "err", err)
	}
}
