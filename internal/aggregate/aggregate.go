// Package aggregate maintains the remote daily and per-batch detection
// rollups.
//
// Each synced event contributes exactly one increment to the total of its
// daily and batch summaries and one to the matching label counter, so
// sum(labels.*) == total holds for every summary document.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/eggsync/internal/event"
	"github.com/roach88/eggsync/internal/remote"
)

// Summary collections and counter fields.
const (
	CollectionDaily = "daily_summaries"
	CollectionBatch = "batch_summaries"

	FieldTotal     = "total"
	FieldProcessed = "processed"
	labelPrefix    = "labels."
)

// Kind selects a rollup.
type Kind string

const (
	KindDaily Kind = "daily"
	KindBatch Kind = "batch"
)

// Collection returns the remote collection holding summaries of this kind.
func (k Kind) Collection() string {
	if k == KindBatch {
		return CollectionBatch
	}
	return CollectionDaily
}

func (k Kind) totalField() string {
	if k == KindBatch {
		return FieldProcessed
	}
	return FieldTotal
}

// ParseKind parses "daily" or "batch".
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindDaily:
		return KindDaily, nil
	case KindBatch:
		return KindBatch, nil
	}
	return "", fmt.Errorf("unknown summary kind %q", s)
}

// LabelField returns the counter field for a label.
func LabelField(l event.Label) string {
	return labelPrefix + string(l)
}

// ConflictError is an aggregation write that failed or could not be
// confirmed. The event stays pending and is retried.
type ConflictError struct {
	DocID string
	Err   error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("aggregation for %s: %v", e.DocID, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err is an aggregation failure.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// Updater applies events to the summary documents.
type Updater struct {
	store  remote.DocumentStore
	loc    *time.Location
	logger *slog.Logger
}

// Option configures an Updater.
type Option func(*Updater)

// WithLocation sets the zone used to pick the daily summary date.
func WithLocation(loc *time.Location) Option {
	return func(u *Updater) {
		if loc != nil {
			u.loc = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(u *Updater) {
		if l != nil {
			u.logger = l
		}
	}
}

// NewUpdater returns an Updater writing to store.
func NewUpdater(store remote.DocumentStore, opts ...Option) *Updater {
	u := &Updater{store: store, loc: time.UTC, logger: slog.Default()}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Increments returns the counter bumps one event contributes.
func (u *Updater) Increments(ev event.DetectionEvent) []remote.Increment {
	day := event.DayKey(ev.CapturedAt, u.loc)
	batch := ev.BatchID
	if batch == "" {
		batch = event.DefaultBatchID
	}
	label := LabelField(ev.Label)
	return []remote.Increment{
		{Collection: CollectionDaily, DocID: day, Field: FieldTotal, Delta: 1},
		{Collection: CollectionDaily, DocID: day, Field: label, Delta: 1},
		{Collection: CollectionBatch, DocID: batch, Field: FieldProcessed, Delta: 1},
		{Collection: CollectionBatch, DocID: batch, Field: label, Delta: 1},
	}
}

// ApplyEvent adds ev to its daily and batch summaries.
//
// The four increments land in one atomic step keyed by the event's document
// id, so a repeat call (after a lost acknowledgement, say) reports
// applied=false without touching the counters.
func (u *Updater) ApplyEvent(ctx context.Context, ev event.DetectionEvent) (bool, error) {
	docID, err := event.DocumentID(ev.DeviceID, ev.LocalID)
	if err != nil {
		return false, &ConflictError{DocID: fmt.Sprintf("local:%d", ev.LocalID), Err: err}
	}
	incs := u.Increments(ev)

	applied, err := u.store.ApplyOnce(ctx, docID, incs)
	if err != nil {
		return false, &ConflictError{DocID: docID, Err: err}
	}
	if !applied {
		u.logger.Debug("aggregation already applied", "local_id", ev.LocalID, "doc_id", docID)
	}
	return applied, nil
}

// Summary is one rollup document.
type Summary struct {
	Kind   Kind             `json:"kind"`
	Key    string           `json:"key"`
	Total  int64            `json:"total"`
	Labels map[string]int64 `json:"labels"`
}

// Consistent reports whether the label counters add up to the total.
func (s Summary) Consistent() bool {
	var sum int64
	for _, n := range s.Labels {
		sum += n
	}
	return sum == s.Total
}

// CounterReader reads counter documents.
type CounterReader interface {
	Counters(ctx context.Context, collection, docID string) (map[string]int64, error)
}

// ReadSummary loads a summary document. A missing document reads as zero.
func ReadSummary(ctx context.Context, r CounterReader, kind Kind, key string) (Summary, error) {
	raw, err := r.Counters(ctx, kind.Collection(), key)
	if err != nil {
		return Summary{}, fmt.Errorf("read %s summary %s: %w", kind, key, err)
	}
	s := Summary{Kind: kind, Key: key, Labels: map[string]int64{}}
	for field, n := range raw {
		switch {
		case field == kind.totalField():
			s.Total = n
		case strings.HasPrefix(field, labelPrefix):
			s.Labels[strings.TrimPrefix(field, labelPrefix)] = n
		}
	}
	return s, nil
}
