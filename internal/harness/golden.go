package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/eggsync/internal/event"
)

// TraceSnapshot captures the trace and final state of a scenario execution.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Final        FinalState
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical
// JSON serialization. Trace fields are flattened next to seq and step.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := make(map[string]any, len(ev.Fields)+2)
		for k, v := range ev.Fields {
			m[k] = v
		}
		m["seq"] = ev.Seq
		m["step"] = ev.Step
		traceList[i] = m
	}

	counters := make(map[string]any, len(s.Final.Counters))
	for doc, fields := range s.Final.Counters {
		counters[doc] = fields
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"final": map[string]any{
			"counts": map[string]any{
				"pending": s.Final.Counts.Pending,
				"synced":  s.Final.Counts.Synced,
				"failed":  s.Final.Counts.Failed,
			},
			"counters":  counters,
			"documents": s.Final.Documents,
			"blobs":     s.Final.Blobs,
		},
	}
}

// MarshalSnapshot renders the snapshot of result as canonical JSON.
func MarshalSnapshot(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		Final:        result.Final,
	}
	return event.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario, fails the test on assertion errors and
// compares the snapshot against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
