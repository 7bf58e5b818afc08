package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "one record, one sync"
steps:
  - action: record
    detection: { label: good }
  - action: sync
assertions:
  - type: queue_counts
    expect: { synced: 1 }
`

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	require.Len(t, s.Steps, 2)
	assert.Equal(t, ActionRecord, s.Steps[0].Action)
	require.NotNil(t, s.Steps[0].Detection)
	assert.Equal(t, "good", s.Steps[0].Detection.Label)
	assert.True(t, s.Start.IsZero())
}

func TestParseScenario_FullOptions(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: full
description: "every option"
device_id: kiosk-07
timezone: Asia/Tokyo
start: 2026-10-19T15:30:00Z
sync:
  max_retries: 2
  base_backoff: 5s
  max_backoff: 1m
  max_attempts: 8
steps:
  - action: fault
    op: upload
    mode: commit_then_timeout
    times: 2
  - action: advance
    duration: 90s
  - action: crash
    times: 1
  - action: restart
assertions:
  - type: remote_calls
    op: upload
    count: 0
`))
	require.NoError(t, err)

	assert.Equal(t, "kiosk-07", s.DeviceID)
	assert.Equal(t, time.Date(2026, 10, 19, 15, 30, 0, 0, time.UTC), s.Start.UTC())
	assert.Equal(t, SyncSettings{MaxRetries: 2, BaseBackoff: 5 * time.Second, MaxBackoff: time.Minute, MaxAttempts: 8}, s.Sync)
	assert.Equal(t, 90*time.Second, s.Steps[1].Duration)
	assert.Equal(t, 2, s.Steps[0].Times)
}

func TestParseScenario_UnknownFieldRejected(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "assertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nsteps: [{action: sync}]\nassertions: [{type: blob_count}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nsteps: [{action: sync}]\nassertions: [{type: blob_count}]\n",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			yaml:    "name: n\ndescription: d\nassertions: [{type: blob_count}]\n",
			wantErr: "steps list is required",
		},
		{
			name:    "no assertions",
			yaml:    "name: n\ndescription: d\nsteps: [{action: sync}]\n",
			wantErr: "assertions list is required",
		},
		{
			name:    "unknown action",
			yaml:    "name: n\ndescription: d\nsteps: [{action: reboot}]\nassertions: [{type: blob_count}]\n",
			wantErr: `unknown action "reboot"`,
		},
		{
			name:    "record without detection",
			yaml:    "name: n\ndescription: d\nsteps: [{action: record}]\nassertions: [{type: blob_count}]\n",
			wantErr: "detection is required",
		},
		{
			name:    "fault with unknown op",
			yaml:    "name: n\ndescription: d\nsteps: [{action: fault, op: delete, mode: fail}]\nassertions: [{type: blob_count}]\n",
			wantErr: `unknown op "delete"`,
		},
		{
			name:    "fault with unknown mode",
			yaml:    "name: n\ndescription: d\nsteps: [{action: fault, op: upsert, mode: explode}]\nassertions: [{type: blob_count}]\n",
			wantErr: `unknown fault mode "explode"`,
		},
		{
			name:    "advance without duration",
			yaml:    "name: n\ndescription: d\nsteps: [{action: advance}]\nassertions: [{type: blob_count}]\n",
			wantErr: "duration must be positive",
		},
		{
			name:    "bad timezone",
			yaml:    "name: n\ndescription: d\ntimezone: Mars/Olympus\nsteps: [{action: sync}]\nassertions: [{type: blob_count}]\n",
			wantErr: "timezone",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: n\ndescription: d\nsteps: [{action: sync}]\nassertions: [{type: vibes}]\n",
			wantErr: `unknown assertion type "vibes"`,
		},
		{
			name:    "summary with bad kind",
			yaml:    "name: n\ndescription: d\nsteps: [{action: sync}]\nassertions: [{type: summary, kind: weekly, key: x}]\n",
			wantErr: "assertions[0]",
		},
		{
			name:    "record_state without local id",
			yaml:    "name: n\ndescription: d\nsteps: [{action: sync}]\nassertions: [{type: record_state, expect: {state: synced}}]\n",
			wantErr: "local_id is required",
		},
		{
			name:    "trace_count with unknown step",
			yaml:    "name: n\ndescription: d\nsteps: [{action: sync}]\nassertions: [{type: trace_count, step: nap, count: 1}]\n",
			wantErr: `unknown step "nap"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_FileNotFound(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenarios_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(minimalScenario), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(minimalScenario), 0o644))

	_, err := LoadScenarios(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"minimal" already used by a.yaml`)
}

func TestLoadScenarios_EmptyDir(t *testing.T) {
	_, err := LoadScenarios(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenarios")
}

func TestLoadScenarios_Testdata(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, s := range scenarios {
		_, err := os.Stat(filepath.Join("testdata", "golden", s.Name+".golden"))
		assert.NoError(t, err, "scenario %s has no golden file", s.Name)
	}
}
