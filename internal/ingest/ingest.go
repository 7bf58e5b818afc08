// Package ingest is the synchronous entry point for new detections.
//
// Record validates a detection, writes it to the durable queue and, if the
// device is online, nudges the sync worker. It never waits on the network:
// once Record returns a local id the detection survives crashes and will be
// synced eventually.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/roach88/eggsync/internal/event"
)

// ErrInvalidDetection is returned for detections that fail validation.
var ErrInvalidDetection = errors.New("invalid detection")

// Queue is the durable store detections are written to.
type Queue interface {
	Enqueue(ctx context.Context, d event.Detection, img *event.ImageInput) (int64, error)
	DeviceID(ctx context.Context) (string, error)
}

// Triggerer starts a sync drain without blocking.
type Triggerer interface {
	Trigger()
}

// OnlineChecker reports connectivity.
type OnlineChecker interface {
	IsOnline() bool
}

// API records detections.
type API struct {
	queue   Queue
	worker  Triggerer
	monitor OnlineChecker
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithClock sets the time used for detections without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(a *API) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an API. worker and monitor may be nil; records are then only
// queued.
func New(q Queue, worker Triggerer, monitor OnlineChecker, opts ...Option) *API {
	a := &API{
		queue:   q,
		worker:  worker,
		monitor: monitor,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Record validates, normalizes and durably enqueues a detection and returns
// its local id. Errors are either ErrInvalidDetection or a
// *queue.StorageError.
func (a *API) Record(ctx context.Context, d event.Detection, img *event.ImageInput) (int64, error) {
	d, err := a.normalize(ctx, d)
	if err != nil {
		return 0, err
	}
	if img != nil && len(img.Data) == 0 {
		img = nil
	}

	id, err := a.queue.Enqueue(ctx, d, img)
	if err != nil {
		return 0, err
	}
	a.logger.Debug("detection recorded", "local_id", id, "label", d.Label, "batch_id", d.BatchID)

	if a.worker != nil && a.monitor != nil && a.monitor.IsOnline() {
		a.worker.Trigger()
	}
	return id, nil
}

func (a *API) normalize(ctx context.Context, d event.Detection) (event.Detection, error) {
	label, err := event.ParseLabel(d.Label)
	if err != nil {
		return d, fmt.Errorf("%w: %v", ErrInvalidDetection, err)
	}
	d.Label = string(label)

	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return d, fmt.Errorf("%w: confidence %v outside [0, 1]", ErrInvalidDetection, d.Confidence)
	}
	if d.BatchID == "" {
		d.BatchID = event.DefaultBatchID
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = a.now()
	}
	if d.DeviceID == "" {
		id, err := a.queue.DeviceID(ctx)
		if err != nil {
			return d, err
		}
		d.DeviceID = id
	}
	return d, nil
}
