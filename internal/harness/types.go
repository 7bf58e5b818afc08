package harness

import (
	"github.com/roach88/eggsync/internal/queue"
)

// TraceEvent is one executed step and what it produced.
type TraceEvent struct {
	Seq    int64          `json:"seq"`
	Step   string         `json:"step"`
	Fields map[string]any `json:"fields,omitempty"`
}

// FinalState is the local and remote state after the last step.
type FinalState struct {
	Counts    queue.Counts                `json:"counts"`
	Counters  map[string]map[string]int64 `json:"counters"`
	Documents int                         `json:"documents"`
	Blobs     int                         `json:"blobs"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace lists the executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	Final FinalState `json:"final"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addTrace appends a step with its output fields.
func (r *Result) addTrace(step string, fields map[string]any) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    int64(len(r.Trace) + 1),
		Step:   step,
		Fields: fields,
	})
}
