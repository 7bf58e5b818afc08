package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/eggsync/internal/aggregate"
	"github.com/roach88/eggsync/internal/remote"
)

// Scenario defines a sync scenario: a sequence of steps against a fresh
// device and remote, followed by assertions on the final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// DeviceID is stamped on every recorded detection. Default "kiosk-01".
	DeviceID string `yaml:"device_id,omitempty"`

	// Timezone is the IANA zone for daily summaries. Default UTC.
	Timezone string `yaml:"timezone,omitempty"`

	// Start is the initial clock reading. Default 2026-10-19T08:00:00Z.
	Start time.Time `yaml:"start,omitempty"`

	Sync SyncSettings `yaml:"sync,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions"`
}

// SyncSettings overrides the worker's retry policy.
type SyncSettings struct {
	MaxRetries  int           `yaml:"max_retries,omitempty"`
	BaseBackoff time.Duration `yaml:"base_backoff,omitempty"`
	MaxBackoff  time.Duration `yaml:"max_backoff,omitempty"`
	MaxAttempts int           `yaml:"max_attempts,omitempty"`
}

// Step is one action in a scenario.
type Step struct {
	// Action is one of the Action* constants.
	Action string `yaml:"action"`

	// Detection is the input of a record step.
	Detection *DetectionSpec `yaml:"detection,omitempty"`

	// Op, Mode and Times configure a fault step. A crash step uses Op to
	// pick the local write that fails (default mark_synced) and Times.
	Op    string `yaml:"op,omitempty"`
	Mode  string `yaml:"mode,omitempty"`
	Times int    `yaml:"times,omitempty"`

	// Duration is how far an advance step moves the clock.
	Duration time.Duration `yaml:"duration,omitempty"`
}

// DetectionSpec describes a detection to record. The capture time is the
// current clock reading; the clock then advances one second.
type DetectionSpec struct {
	Label      string  `yaml:"label"`
	BatchID    string  `yaml:"batch_id,omitempty"`
	Confidence float64 `yaml:"confidence,omitempty"`

	// Image is the content type of a synthetic image to attach.
	Image string `yaml:"image,omitempty"`
}

// Step actions.
const (
	ActionRecord  = "record"
	ActionOffline = "offline"
	ActionOnline  = "online"
	ActionSync    = "sync"
	ActionFault   = "fault"
	ActionCrash   = "crash"
	ActionRestart = "restart"
	ActionAdvance = "advance"
)

// Local writes a crash step can interrupt.
const (
	CrashMarkSynced             = "mark_synced"
	CrashMarkAggregationApplied = "mark_aggregation_applied"
)

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// LocalID selects the record (record_state).
	LocalID int64 `yaml:"local_id,omitempty"`

	// Kind and Key select the summary (summary).
	Kind string `yaml:"kind,omitempty"`
	Key  string `yaml:"key,omitempty"`

	// Expect holds expected field values (queue_counts, record_state,
	// summary). Subset match: only listed fields are checked.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Labels are expected label counters (summary).
	Labels map[string]int64 `yaml:"labels,omitempty"`

	// Count is the expected number (remote_documents, blob_count,
	// remote_calls, trace_count).
	Count int `yaml:"count"`

	// Op selects the remote operation (remote_calls).
	Op string `yaml:"op,omitempty"`

	// Step selects the action (trace_count).
	Step string `yaml:"step,omitempty"`
}

// Assertion type constants.
const (
	AssertQueueCounts     = "queue_counts"
	AssertRecordState     = "record_state"
	AssertSummary         = "summary"
	AssertRemoteDocuments = "remote_documents"
	AssertBlobCount       = "blob_count"
	AssertRemoteCalls     = "remote_calls"
	AssertTraceCount      = "trace_count"
)

var (
	validActions = []string{
		ActionRecord, ActionOffline, ActionOnline, ActionSync,
		ActionFault, ActionCrash, ActionRestart, ActionAdvance,
	}
	validOps = []remote.Op{
		remote.OpUpsert, remote.OpApplyOnce,
		remote.OpCounters, remote.OpPing, remote.OpUpload,
	}
	validModes = []remote.FaultMode{
		remote.FaultFail, remote.FaultReject, remote.FaultCommitThenTimeout,
	}
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml scenario in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenarios in %s", dir)
	}
	slices.Sort(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		if prev, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", filepath.Base(p), s.Name, prev)
		}
		seen[s.Name] = filepath.Base(p)
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	if s.Sync.MaxRetries < 0 || s.Sync.MaxAttempts < 0 || s.Sync.BaseBackoff < 0 || s.Sync.MaxBackoff < 0 {
		return fmt.Errorf("sync settings must not be negative")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	if !slices.Contains(validActions, st.Action) {
		return fmt.Errorf("steps[%d]: unknown action %q", index, st.Action)
	}
	switch st.Action {
	case ActionRecord:
		if st.Detection == nil {
			return fmt.Errorf("steps[%d]: detection is required for record", index)
		}
	case ActionFault:
		if !slices.Contains(validOps, remote.Op(st.Op)) {
			return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
		}
		if !slices.Contains(validModes, remote.FaultMode(st.Mode)) {
			return fmt.Errorf("steps[%d]: unknown fault mode %q", index, st.Mode)
		}
		if st.Times < 0 {
			return fmt.Errorf("steps[%d]: times must be non-negative", index)
		}
	case ActionCrash:
		if st.Op != "" && st.Op != CrashMarkSynced && st.Op != CrashMarkAggregationApplied {
			return fmt.Errorf("steps[%d]: unknown crash point %q", index, st.Op)
		}
		if st.Times < 0 {
			return fmt.Errorf("steps[%d]: times must be non-negative", index)
		}
	case ActionAdvance:
		if st.Duration <= 0 {
			return fmt.Errorf("steps[%d]: duration must be positive", index)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertQueueCounts:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for queue_counts", index)
		}
	case AssertRecordState:
		if a.LocalID <= 0 {
			return fmt.Errorf("assertions[%d]: local_id is required for record_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for record_state", index)
		}
	case AssertSummary:
		if _, err := aggregate.ParseKind(a.Kind); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for summary", index)
		}
	case AssertRemoteDocuments, AssertBlobCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertRemoteCalls:
		if !slices.Contains(validOps, remote.Op(a.Op)) {
			return fmt.Errorf("assertions[%d]: unknown op %q", index, a.Op)
		}
	case AssertTraceCount:
		if !slices.Contains(validActions, a.Step) {
			return fmt.Errorf("assertions[%d]: unknown step %q for trace_count", index, a.Step)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
