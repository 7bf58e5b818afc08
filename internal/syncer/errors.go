package syncer

import (
	"errors"
	"fmt"

	"github.com/roach88/eggsync/internal/queue"
	"github.com/roach88/eggsync/internal/remote"
)

// ErrRunInProgress is returned by RunOnce when another drain is running.
var ErrRunInProgress = errors.New("sync run already in progress")

// ErrorCode identifies the step a record failed at.
type ErrorCode string

const (
	// CodeBlobUpload: the image upload failed.
	CodeBlobUpload ErrorCode = "BLOB_UPLOAD"

	// CodeRemoteWrite: the event document upsert failed.
	CodeRemoteWrite ErrorCode = "REMOTE_WRITE"

	// CodeAggregation: the summary increments failed or were not confirmed.
	CodeAggregation ErrorCode = "AGGREGATION"

	// CodeLocalStorage: reading or updating the local queue failed.
	CodeLocalStorage ErrorCode = "LOCAL_STORAGE"
)

// RecordError is a failure syncing one record.
type RecordError struct {
	Code    ErrorCode
	LocalID int64
	DocID   string
	Err     error
}

func (e *RecordError) Error() string {
	if e.DocID != "" {
		return fmt.Sprintf("%s: local_id=%d doc=%s: %v", e.Code, e.LocalID, e.DocID, e.Err)
	}
	return fmt.Sprintf("%s: local_id=%d: %v", e.Code, e.LocalID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the failure should be retried without
// consuming the record's retry budget.
func (e *RecordError) IsTransient() bool {
	return e.Code != CodeLocalStorage && remote.IsTransient(e.Err)
}

// Kind returns the remote error classification as a string.
func (e *RecordError) Kind() string {
	if e.Code == CodeLocalStorage {
		return "local"
	}
	return remote.Classify(e.Err).String()
}

// IsLocalStorageError returns true if err is a record failure caused by the
// local queue. Uses errors.As to handle wrapped errors.
func IsLocalStorageError(err error) bool {
	var re *RecordError
	if errors.As(err, &re) {
		return re.Code == CodeLocalStorage
	}
	return queue.IsStorageError(err)
}

func recordErr(code ErrorCode, localID int64, docID string, err error) *RecordError {
	return &RecordError{Code: code, LocalID: localID, DocID: docID, Err: err}
}
