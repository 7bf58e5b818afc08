package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario under testdata/scenarios and compares
// its trace and final state with the golden snapshot.
//
//	go test ./internal/harness -run TestScenarios -update
func TestScenarios(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			require.NoError(t, RunWithGolden(t, s))
		})
	}
}

func TestMarshalSnapshot_Deterministic(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	r1, err := Run(s)
	require.NoError(t, err)
	r2, err := Run(s)
	require.NoError(t, err)

	b1, err := MarshalSnapshot(s.Name, r1)
	require.NoError(t, err)
	b2, err := MarshalSnapshot(s.Name, r2)
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(b2))
}

func TestMarshalSnapshot_Shape(t *testing.T) {
	result := NewResult()
	result.addTrace(ActionOffline, nil)
	result.addTrace(ActionRecord, map[string]any{"local_id": int64(1)})
	result.Final.Counters = map[string]map[string]int64{}
	result.Final.Counts.Pending = 1

	data, err := MarshalSnapshot("shape", result)
	require.NoError(t, err)
	assert.Equal(t,
		`{"final":{"blobs":0,"counters":{},"counts":{"failed":0,"pending":1,"synced":0},"documents":0},`+
			`"scenario_name":"shape","trace":[{"seq":1,"step":"offline"},{"local_id":1,"seq":2,"step":"record"}]}`,
		string(data))
}
