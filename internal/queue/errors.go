package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a local id does not exist.
	ErrNotFound = errors.New("queue: record not found")

	// ErrInvalidTransition is returned when a mark would move a record
	// backward or out of a terminal state.
	ErrInvalidTransition = errors.New("queue: invalid sync state transition")

	// ErrStorageExhausted is returned by Enqueue when the free-space guard trips.
	ErrStorageExhausted = errors.New("queue: local storage exhausted")
)

// StorageError reports that the local durability layer failed.
// It is the only error the ingestion path propagates to its caller.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("local storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
