package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/eggsync/internal/event"
	"github.com/roach88/eggsync/internal/queue"
)

// Report summarizes one drain.
type Report struct {
	RunID        string            `json:"run_id"`
	Attempted    int               `json:"attempted"`
	Synced       int               `json:"synced"`
	Retrying     int               `json:"retrying"`
	DeadLettered int               `json:"dead_lettered"`
	Stopped      bool              `json:"stopped,omitempty"`
	Purged       queue.PurgeResult `json:"purged"`
	Failures     []Failure         `json:"failures,omitempty"`
}

// Failure describes a record that did not sync in this drain.
type Failure struct {
	LocalID int64           `json:"local_id"`
	Code    ErrorCode       `json:"code"`
	Kind    string          `json:"kind"`
	State   event.SyncState `json:"state"`
	Error   string          `json:"error"`
}

// RunOnce performs one drain of every due record, in capture order.
//
// A failing record is scheduled for retry and never blocks the ones after
// it. The drain stops early if the monitor goes offline. An error is returned
// only for local storage failures, which abort the drain.
func (w *Worker) RunOnce(ctx context.Context) (Report, error) {
	if !w.running.TryLock() {
		return Report{}, ErrRunInProgress
	}
	defer w.running.Unlock()

	report := Report{RunID: w.ids.Generate()}
	log := w.logger.With("run_id", report.RunID)

	if !w.monitor.IsOnline() {
		report.Stopped = true
		log.Debug("sync skipped: offline")
		return report, nil
	}

	due, err := w.queue.ListDue(ctx, w.now(), w.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list due records: %w", err)
	}
	log.Debug("sync run starting", "due", len(due))

	clean := true
	for _, ev := range due {
		if ctx.Err() != nil {
			report.Stopped = true
			clean = false
			break
		}
		if !w.monitor.IsOnline() {
			log.Info("sync run stopped: went offline", "remaining", len(due)-report.Attempted)
			report.Stopped = true
			clean = false
			break
		}

		report.Attempted++
		recErr := w.syncRecord(ctx, ev)
		if recErr == nil {
			report.Synced++
			log.Debug("record synced", "local_id", ev.LocalID)
			continue
		}
		if recErr.Code == CodeLocalStorage {
			return report, recErr
		}
		if recErr.IsTransient() {
			clean = false
		}

		state, err := w.recordFailure(ctx, ev, recErr)
		if err != nil {
			return report, err
		}
		report.Failures = append(report.Failures, Failure{
			LocalID: ev.LocalID,
			Code:    recErr.Code,
			Kind:    recErr.Kind(),
			State:   state,
			Error:   recErr.Error(),
		})
		if state == event.StateFailed {
			report.DeadLettered++
			log.Error("record dead-lettered", "local_id", ev.LocalID, "code", recErr.Code, "err", recErr.Err)
		} else {
			report.Retrying++
			log.Warn("record sync failed", "local_id", ev.LocalID, "code", recErr.Code, "kind", recErr.Kind(), "err", recErr.Err)
		}
	}

	if clean {
		if err := w.queue.SetLastSync(ctx, w.now()); err != nil {
			return report, fmt.Errorf("stamp last sync: %w", err)
		}
	}

	if w.cfg.Retention > 0 {
		purged, err := w.queue.PurgeSynced(ctx, w.now().Add(-w.cfg.Retention))
		if err != nil {
			return report, fmt.Errorf("purge synced: %w", err)
		}
		report.Purged = purged
	}

	log.Info("sync run finished",
		"attempted", report.Attempted,
		"synced", report.Synced,
		"retrying", report.Retrying,
		"dead_lettered", report.DeadLettered,
	)
	return report, nil
}

// recordFailure schedules the next attempt. The delay grows with every
// failed attempt; transient failures do not consume the retry budget.
func (w *Worker) recordFailure(ctx context.Context, ev event.DetectionEvent, recErr *RecordError) (event.SyncState, error) {
	f := queue.Failure{
		Err:           recErr.Error(),
		NextAttemptAt: w.now().Add(Backoff(w.cfg.BaseBackoff, w.cfg.MaxBackoff, ev.Attempts+1)),
		Counted:       !recErr.IsTransient(),
		MaxRetries:    w.cfg.MaxRetries,
		MaxAttempts:   w.cfg.MaxAttempts,
	}
	state, err := w.queue.RecordFailure(ctx, ev.LocalID, f)
	if err != nil {
		w.logger.Error("record failure not persisted", "local_id", ev.LocalID, "err", err)
		return "", err
	}
	return state, nil
}

// syncRecord pushes one record through upload, upsert, aggregation and the
// local state flip. Remote calls share one attempt deadline; local writes use
// the parent context so a late timeout cannot strand a landed write unrecorded.
func (w *Worker) syncRecord(ctx context.Context, ev event.DetectionEvent) *RecordError {
	docID, err := event.DocumentID(ev.DeviceID, ev.LocalID)
	if err != nil {
		return recordErr(CodeRemoteWrite, ev.LocalID, "", err)
	}

	attemptCtx := ctx
	if w.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, w.cfg.AttemptTimeout)
		defer cancel()
	}

	if ev.NeedsUpload() {
		remotePath, recErr := w.uploadBlob(ctx, attemptCtx, ev, docID)
		if recErr != nil {
			return recErr
		}
		ev.ImagePath = remotePath
	}

	if err := w.docs.Upsert(attemptCtx, CollectionDetections, docID, event.Document(ev)); err != nil {
		return recordErr(CodeRemoteWrite, ev.LocalID, docID, err)
	}

	if !ev.AggregationApplied {
		applied, err := w.agg.ApplyEvent(attemptCtx, ev)
		if err != nil {
			return recordErr(CodeAggregation, ev.LocalID, docID, err)
		}
		if !applied {
			w.logger.Info("aggregation already recorded remotely", "local_id", ev.LocalID, "doc_id", docID)
		}
		if err := w.queue.MarkAggregationApplied(ctx, ev.LocalID); err != nil {
			return recordErr(CodeLocalStorage, ev.LocalID, docID, err)
		}
	}

	if err := w.queue.MarkSynced(ctx, ev.LocalID, docID); err != nil {
		return recordErr(CodeLocalStorage, ev.LocalID, docID, err)
	}
	return nil
}

func (w *Worker) uploadBlob(ctx, attemptCtx context.Context, ev event.DetectionEvent, docID string) (string, *RecordError) {
	if w.blobs == nil {
		return "", recordErr(CodeBlobUpload, ev.LocalID, docID, errors.New("no blob store configured"))
	}
	blob, err := w.queue.BlobData(ctx, ev.BlobID)
	if err != nil {
		return "", recordErr(CodeLocalStorage, ev.LocalID, docID, err)
	}
	path, err := event.BlobPath(ev, blob.ContentType, w.loc)
	if err != nil {
		return "", recordErr(CodeBlobUpload, ev.LocalID, docID, err)
	}
	remotePath, err := w.blobs.Upload(attemptCtx, path, blob.Data, blob.ContentType)
	if err != nil {
		return "", recordErr(CodeBlobUpload, ev.LocalID, docID, err)
	}
	if err := w.queue.MarkBlobSynced(ctx, ev.BlobID, remotePath); err != nil {
		return "", recordErr(CodeLocalStorage, ev.LocalID, docID, err)
	}
	return remotePath, nil
}
