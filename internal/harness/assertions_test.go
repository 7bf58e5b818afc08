package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertQueueCounts,
		Expected: "queue synced = 3",
		Actual:   "synced = 2",
		Trace: []TraceEvent{
			{Seq: 1, Step: ActionRecord, Fields: map[string]any{"local_id": int64(1)}},
			{Seq: 2, Step: ActionSync},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: queue_counts")
	assert.Contains(t, msg, "Expected: queue synced = 3")
	assert.Contains(t, msg, "Actual: synced = 2")
	assert.Contains(t, msg, "[1] record map[local_id:1]")
	assert.Contains(t, msg, "[2] sync")
}

func TestAssertionError_NoTrace(t *testing.T) {
	err := &AssertionError{Type: AssertBlobCount, Expected: "1", Actual: "0"}
	assert.NotContains(t, err.Error(), "Full trace")
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		want     bool
	}{
		{"int vs int64", 3, int64(3), true},
		{"int vs int", 3, 3, true},
		{"int mismatch", 3, int64(4), false},
		{"int vs string", 3, "3", false},
		{"bool", true, true, true},
		{"bool mismatch", true, false, false},
		{"string", "synced", "synced", true},
		{"string mismatch", "synced", "pending", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, valuesEqual(tt.expected, tt.actual))
		})
	}
}

func TestExpectFields_MissingField(t *testing.T) {
	err := expectFields(AssertRecordState, "record 1",
		map[string]any{"state": "synced"},
		map[string]any{"colour": "brown"}, nil)
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), `field "colour" to exist`)
	}
}

func TestExpectFields_SubsetMatch(t *testing.T) {
	err := expectFields(AssertRecordState, "record 1",
		map[string]any{"state": "synced", "retry_count": 0, "aggregation_applied": true},
		map[string]any{"state": "synced"}, nil)
	assert.NoError(t, err)
}

func TestAssertTraceCount(t *testing.T) {
	trace := []TraceEvent{{Seq: 1, Step: ActionSync}, {Seq: 2, Step: ActionRecord}, {Seq: 3, Step: ActionSync}}

	assert.NoError(t, assertTraceCount(trace, Assertion{Type: AssertTraceCount, Step: ActionSync, Count: 2}))
	err := assertTraceCount(trace, Assertion{Type: AssertTraceCount, Step: ActionRecord, Count: 2})
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "2 occurrences of record")
	}
}
