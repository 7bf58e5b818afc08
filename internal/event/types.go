package event

import "time"

// DefaultBatchID is recorded when the capture pipeline has no batch open.
const DefaultBatchID = "default"

// SyncState is the lifecycle state of a queued record.
type SyncState string

const (
	StatePending SyncState = "pending"
	StateSynced  SyncState = "synced"
	StateFailed  SyncState = "failed"
)

// Valid reports whether s is one of the known states.
func (s SyncState) Valid() bool {
	switch s {
	case StatePending, StateSynced, StateFailed:
		return true
	}
	return false
}

// CanTransition reports whether a record may move from s to next.
// Same-state transitions are allowed so that repeated marks stay no-ops.
func (s SyncState) CanTransition(next SyncState) bool {
	if s == next {
		return true
	}
	return s == StatePending && (next == StateSynced || next == StateFailed)
}

// Detection is what the capture pipeline hands to the ingestion API.
type Detection struct {
	BatchID    string    `json:"batch_id" yaml:"batch_id"`
	Label      string    `json:"label" yaml:"label"`
	Confidence float64   `json:"confidence" yaml:"confidence"`
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	DeviceID   string    `json:"device_id" yaml:"device_id"`
}

// ImageInput is the optional image captured together with a detection.
type ImageInput struct {
	Data        []byte
	ContentType string
}

// DetectionEvent is one classification result as persisted in the local queue.
type DetectionEvent struct {
	LocalID    int64
	BatchID    string
	Label      Label
	Confidence float64
	CapturedAt time.Time
	DeviceID   string

	// BlobID references the local image row (0 when there is no image).
	// ImagePath is filled in once the blob has been uploaded.
	BlobID    int64
	BlobState SyncState
	ImagePath string

	State              SyncState
	RemoteID           string
	AggregationApplied bool
	RetryCount         int
	Attempts           int
	NextAttemptAt      time.Time
	LastError          string
	CreatedAt          time.Time
	SyncedAt           time.Time
}

// HasImage reports whether the event references an image blob.
func (e DetectionEvent) HasImage() bool {
	return e.BlobID != 0
}

// NeedsUpload reports whether the referenced blob still has to be uploaded.
func (e DetectionEvent) NeedsUpload() bool {
	return e.HasImage() && e.BlobState != StateSynced
}

// ImageBlob is the raw image stored next to a detection.
type ImageBlob struct {
	ID          int64
	BatchID     string
	CapturedAt  time.Time
	ContentType string
	Data        []byte
	Size        int64
	State       SyncState
	RemotePath  string
	CreatedAt   time.Time
	SyncedAt    time.Time
}
