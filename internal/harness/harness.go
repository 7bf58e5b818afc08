package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roach88/eggsync/internal/aggregate"
	"github.com/roach88/eggsync/internal/connectivity"
	"github.com/roach88/eggsync/internal/event"
	"github.com/roach88/eggsync/internal/ingest"
	"github.com/roach88/eggsync/internal/queue"
	"github.com/roach88/eggsync/internal/remote"
	"github.com/roach88/eggsync/internal/syncer"
	"github.com/roach88/eggsync/internal/testutil"
)

// Scenario defaults.
var (
	DefaultStart    = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	DefaultDeviceID = "kiosk-01"
)

// Harness is the scenario execution environment: one device with its queue
// and worker, and one in-memory remote that outlives restarts.
type Harness struct {
	scenario *Scenario
	dbPath   string
	loc      *time.Location
	clock    *testutil.ManualClock
	ids      *testutil.SequentialIDs
	logger   *slog.Logger

	docs    *remote.MemoryStore
	blobs   *remote.MemoryBlobStore
	monitor *connectivity.Monitor

	queue  *crashingQueue
	worker *syncer.Worker
	ingest *ingest.API
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh SQLite queue in a temporary directory
// that is removed afterwards. An error means the scenario could not be
// executed; assertion failures are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "eggsync-harness-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	h, err := newHarness(scenario, filepath.Join(dir, "queue.db"))
	if err != nil {
		return nil, err
	}
	defer h.close()

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
	}

	final, err := h.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot final state: %w", err)
	}
	result.Final = final

	for _, msg := range EvaluateAssertions(ctx, h, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(s *Scenario, dbPath string) (*Harness, error) {
	loc := time.UTC
	if s.Timezone != "" {
		l, err := time.LoadLocation(s.Timezone)
		if err != nil {
			return nil, err
		}
		loc = l
	}
	start := s.Start
	if start.IsZero() {
		start = DefaultStart
	}

	h := &Harness{
		scenario: s,
		dbPath:   dbPath,
		loc:      loc,
		clock:    testutil.NewManualClock(start),
		ids:      testutil.NewSequentialIDs("run"),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		docs:     remote.NewMemoryStore(),
		blobs:    remote.NewMemoryBlobStore(),
		monitor:  connectivity.NewMonitor(nil),
	}
	h.monitor.Set(true)

	if err := h.open(); err != nil {
		return nil, err
	}
	return h, nil
}

// open opens the queue at dbPath and builds a worker on it.
func (h *Harness) open() error {
	q, err := queue.Open(h.dbPath, queue.WithClock(h.clock.Now), queue.WithLogger(h.logger))
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	h.queue = &crashingQueue{Queue: q}

	cfg := syncer.Config{
		Interval:       time.Hour,
		AttemptTimeout: time.Second,
		MaxRetries:     3,
		BaseBackoff:    10 * time.Second,
		MaxBackoff:     5 * time.Minute,
	}
	if s := h.scenario.Sync; s.MaxRetries > 0 {
		cfg.MaxRetries = s.MaxRetries
	}
	if s := h.scenario.Sync; s.BaseBackoff > 0 {
		cfg.BaseBackoff = s.BaseBackoff
	}
	if s := h.scenario.Sync; s.MaxBackoff > 0 {
		cfg.MaxBackoff = s.MaxBackoff
	}
	if s := h.scenario.Sync; s.MaxAttempts > 0 {
		cfg.MaxAttempts = s.MaxAttempts
	}

	updater := aggregate.NewUpdater(h.docs, aggregate.WithLocation(h.loc), aggregate.WithLogger(h.logger))
	h.worker = syncer.New(h.queue, h.docs, h.blobs, updater, h.monitor, cfg,
		syncer.WithClock(h.clock.Now),
		syncer.WithIDGenerator(h.ids),
		syncer.WithLocation(h.loc),
		syncer.WithLogger(h.logger),
	)
	h.ingest = ingest.New(h.queue, nil, nil, ingest.WithClock(h.clock.Now), ingest.WithLogger(h.logger))
	return nil
}

func (h *Harness) close() {
	if h.queue != nil {
		h.queue.Close()
	}
}

// execute runs one step and appends it to the trace.
func (h *Harness) execute(ctx context.Context, step Step, result *Result) error {
	switch step.Action {
	case ActionRecord:
		return h.record(ctx, step.Detection, result)

	case ActionOffline, ActionOnline:
		online := step.Action == ActionOnline
		h.docs.SetOffline(!online)
		h.blobs.SetOffline(!online)
		h.monitor.Set(online)
		result.addTrace(step.Action, nil)

	case ActionSync:
		report, err := h.worker.RunOnce(ctx)
		fields := reportFields(report)
		if err != nil {
			if !syncer.IsLocalStorageError(err) {
				return err
			}
			fields["aborted"] = true
		}
		result.addTrace(ActionSync, fields)

	case ActionFault:
		op, mode := remote.Op(step.Op), remote.FaultMode(step.Mode)
		if op == remote.OpUpload {
			h.blobs.Inject(op, mode, step.Times)
		} else {
			h.docs.Inject(op, mode, step.Times)
		}
		times := max(step.Times, 1)
		result.addTrace(ActionFault, map[string]any{
			"op":    step.Op,
			"mode":  step.Mode,
			"times": times,
		})

	case ActionCrash:
		point := step.Op
		if point == "" {
			point = CrashMarkSynced
		}
		times := max(step.Times, 1)
		h.queue.crashAt(point, times)
		result.addTrace(ActionCrash, map[string]any{"op": point, "times": times})

	case ActionRestart:
		if err := h.queue.Close(); err != nil {
			return fmt.Errorf("close queue: %w", err)
		}
		if err := h.open(); err != nil {
			return err
		}
		result.addTrace(ActionRestart, nil)

	case ActionAdvance:
		h.clock.Advance(step.Duration)
		result.addTrace(ActionAdvance, map[string]any{"duration": step.Duration.String()})

	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
	return nil
}

func (h *Harness) record(ctx context.Context, spec *DetectionSpec, result *Result) error {
	seq := len(result.Trace) + 1
	d := event.Detection{
		BatchID:    spec.BatchID,
		Label:      spec.Label,
		Confidence: spec.Confidence,
		Timestamp:  h.clock.Now(),
		DeviceID:   h.scenario.DeviceID,
	}
	if d.DeviceID == "" {
		d.DeviceID = DefaultDeviceID
	}
	var img *event.ImageInput
	if spec.Image != "" {
		img = &event.ImageInput{
			Data:        []byte(fmt.Sprintf("image-%d-%s", seq, spec.Label)),
			ContentType: spec.Image,
		}
	}

	id, err := h.ingest.Record(ctx, d, img)
	h.clock.Advance(time.Second)
	switch {
	case err == nil:
		result.addTrace(ActionRecord, map[string]any{"local_id": id})
	case errors.Is(err, ingest.ErrInvalidDetection):
		result.addTrace(ActionRecord, map[string]any{"rejected": true})
	default:
		return err
	}
	return nil
}

// reportFields flattens the parts of a report that are stable across runs.
// Error messages are left out.
func reportFields(r syncer.Report) map[string]any {
	fields := map[string]any{
		"run_id":        r.RunID,
		"attempted":     r.Attempted,
		"synced":        r.Synced,
		"retrying":      r.Retrying,
		"dead_lettered": r.DeadLettered,
		"stopped":       r.Stopped,
	}
	if len(r.Failures) > 0 {
		failures := make([]any, len(r.Failures))
		for i, f := range r.Failures {
			failures[i] = map[string]any{
				"local_id": f.LocalID,
				"code":     string(f.Code),
				"kind":     f.Kind,
				"state":    string(f.State),
			}
		}
		fields["failures"] = failures
	}
	return fields
}

func (h *Harness) snapshot(ctx context.Context) (FinalState, error) {
	counts, err := h.queue.Counts(ctx)
	if err != nil {
		return FinalState{}, err
	}
	return FinalState{
		Counts:    counts,
		Counters:  h.docs.CounterSnapshot(),
		Documents: len(h.docs.DocumentIDs(syncer.CollectionDetections)),
		Blobs:     h.blobs.Len(),
	}, nil
}

// crashingQueue fails selected local writes on demand. The remote writes
// before them have landed by then, which is the window a power cut would hit.
type crashingQueue struct {
	*queue.Queue

	mu      sync.Mutex
	pending map[string]int
}

func (q *crashingQueue) crashAt(point string, times int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == nil {
		q.pending = make(map[string]int)
	}
	q.pending[point] += times
}

func (q *crashingQueue) crash(point string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending[point] == 0 {
		return nil
	}
	q.pending[point]--
	return &queue.StorageError{Op: point, Err: errors.New("simulated crash")}
}

func (q *crashingQueue) MarkAggregationApplied(ctx context.Context, localID int64) error {
	if err := q.crash(CrashMarkAggregationApplied); err != nil {
		return err
	}
	return q.Queue.MarkAggregationApplied(ctx, localID)
}

func (q *crashingQueue) MarkSynced(ctx context.Context, localID int64, remoteID string) error {
	if err := q.crash(CrashMarkSynced); err != nil {
		return err
	}
	return q.Queue.MarkSynced(ctx, localID, remoteID)
}
