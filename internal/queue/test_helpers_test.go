package queue

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/eggsync/internal/event"
)

var testEpoch = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

// createTestQueue opens a queue in a temp dir with a fixed clock.
func createTestQueue(t *testing.T, opts ...Option) *Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	opts = append([]Option{WithClock(func() time.Time { return testEpoch })}, opts...)
	q, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

// testDetection builds a detection captured offset after testEpoch.
func testDetection(label string, offset time.Duration) event.Detection {
	return event.Detection{
		BatchID:    "B-1",
		Label:      label,
		Confidence: 0.9,
		Timestamp:  testEpoch.Add(offset),
		DeviceID:   "kiosk-01",
	}
}
