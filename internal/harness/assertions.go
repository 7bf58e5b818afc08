package harness

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/eggsync/internal/aggregate"
	"github.com/roach88/eggsync/internal/remote"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %v\n", ev.Seq, ev.Step, ev.Fields)
		}
	}
	return buf.String()
}

// EvaluateAssertions evaluates all assertions after a run.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(ctx context.Context, h *Harness, result *Result, assertions []Assertion) []string {
	var errs []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertQueueCounts:
			err = assertQueueCounts(result, a)
		case AssertRecordState:
			err = assertRecordState(ctx, h, result, a)
		case AssertSummary:
			err = assertSummary(ctx, h, result, a)
		case AssertRemoteDocuments:
			err = assertCount(AssertRemoteDocuments, "detection documents", result.Final.Documents, a.Count, result)
		case AssertBlobCount:
			err = assertCount(AssertBlobCount, "uploaded images", result.Final.Blobs, a.Count, result)
		case AssertRemoteCalls:
			op := remote.Op(a.Op)
			n := h.docs.Calls(op)
			if op == remote.OpUpload {
				n = h.blobs.Calls(op)
			}
			err = assertCount(AssertRemoteCalls, a.Op+" calls", n, a.Count, result)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func assertQueueCounts(result *Result, a Assertion) error {
	c := result.Final.Counts
	actual := map[string]any{
		"pending": c.Pending,
		"synced":  c.Synced,
		"failed":  c.Failed,
	}
	return expectFields(AssertQueueCounts, "queue", actual, a.Expect, result.Trace)
}

func assertRecordState(ctx context.Context, h *Harness, result *Result, a Assertion) error {
	ev, err := h.queue.Get(ctx, a.LocalID)
	if err != nil {
		return &AssertionError{
			Type:     AssertRecordState,
			Expected: fmt.Sprintf("record %d", a.LocalID),
			Actual:   fmt.Sprintf("lookup error: %v", err),
		}
	}
	actual := map[string]any{
		"state":               string(ev.State),
		"retry_count":         ev.RetryCount,
		"attempts":            ev.Attempts,
		"aggregation_applied": ev.AggregationApplied,
		"has_image":           ev.HasImage(),
		"image_synced":        ev.ImagePath != "",
		"remote_id_set":       ev.RemoteID != "",
	}
	return expectFields(AssertRecordState, fmt.Sprintf("record %d", a.LocalID), actual, a.Expect, result.Trace)
}

func assertSummary(ctx context.Context, h *Harness, result *Result, a Assertion) error {
	kind, err := aggregate.ParseKind(a.Kind)
	if err != nil {
		return err
	}
	s, err := aggregate.ReadSummary(ctx, h.docs, kind, a.Key)
	if err != nil {
		return &AssertionError{
			Type:     AssertSummary,
			Expected: fmt.Sprintf("%s summary %s", a.Kind, a.Key),
			Actual:   fmt.Sprintf("read error: %v", err),
		}
	}
	if !s.Consistent() {
		return &AssertionError{
			Type:     AssertSummary,
			Expected: fmt.Sprintf("%s summary %s labels summing to total", a.Kind, a.Key),
			Actual:   fmt.Sprintf("total %d, labels %v", s.Total, s.Labels),
			Trace:    result.Trace,
		}
	}

	actual := map[string]any{"total": s.Total}
	if err := expectFields(AssertSummary, a.Kind+" summary "+a.Key, actual, a.Expect, result.Trace); err != nil {
		return err
	}
	for _, label := range slices.Sorted(maps.Keys(a.Labels)) {
		if got, want := s.Labels[label], a.Labels[label]; got != want {
			return &AssertionError{
				Type:     AssertSummary,
				Expected: fmt.Sprintf("%s summary %s label %s = %d", a.Kind, a.Key, label, want),
				Actual:   fmt.Sprintf("%d", got),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

func assertCount(typ, what string, actual, expected int, result *Result) error {
	if actual == expected {
		return nil
	}
	return &AssertionError{
		Type:     typ,
		Expected: fmt.Sprintf("%d %s", expected, what),
		Actual:   fmt.Sprintf("%d %s", actual, what),
		Trace:    result.Trace,
	}
}

// assertTraceCount checks the step appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Step == a.Step {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Step),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// expectFields checks each expected field against actual (subset semantics).
// Keys are visited in sorted order so the first failure is deterministic.
func expectFields(typ, subject string, actual, expect map[string]any, trace []TraceEvent) error {
	for _, key := range slices.Sorted(maps.Keys(expect)) {
		got, ok := actual[key]
		if !ok {
			return &AssertionError{
				Type:     typ,
				Expected: fmt.Sprintf("%s field %q to exist", subject, key),
				Actual:   fmt.Sprintf("known fields: %v", slices.Sorted(maps.Keys(actual))),
			}
		}
		if !valuesEqual(expect[key], got) {
			return &AssertionError{
				Type:     typ,
				Expected: fmt.Sprintf("%s %s = %v (type %T)", subject, key, expect[key], expect[key]),
				Actual:   fmt.Sprintf("%s = %v (type %T)", key, got, got),
				Trace:    trace,
			}
		}
	}
	return nil
}

// valuesEqual compares a YAML-decoded expected value with an actual one.
// YAML integers decode as int; actual counters may be int or int64.
func valuesEqual(expected, actual any) bool {
	if ei, ok := asInt64(expected); ok {
		ai, ok := asInt64(actual)
		return ok && ei == ai
	}
	return expected == actual
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}
