package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies remote failures for retry decisions.
type ErrorKind int

const (
	// KindUnknown is an unclassified failure; retried against the budget.
	KindUnknown ErrorKind = iota
	// KindNetwork may succeed on retry; the write may also have landed.
	KindNetwork
	// KindRejected will not succeed on retry.
	KindRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// NetworkError is a transient failure reaching the remote store.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RejectedError is a permanent refusal by the remote store.
type RejectedError struct {
	Op     string
	Reason string
	Err    error
}

func (e *RejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: rejected: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: rejected: %s", e.Op, e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Network wraps err as a NetworkError.
func Network(op string, err error) error {
	return &NetworkError{Op: op, Err: err}
}

// Rejected builds a RejectedError.
func Rejected(op, reason string, err error) error {
	return &RejectedError{Op: op, Reason: reason, Err: err}
}

// Classify reports the kind of err. Deadlines and net.Error values count as
// network failures even when a backend forgot to wrap them.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var rej *RejectedError
	if errors.As(err, &rej) {
		return KindRejected
	}
	var nerr *NetworkError
	if errors.As(err, &nerr) {
		return KindNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	return KindUnknown
}

// IsTransient reports whether err is worth retrying without consuming the
// retry budget.
func IsTransient(err error) bool {
	return Classify(err) == KindNetwork
}

// IsRejected reports whether err is a permanent rejection.
func IsRejected(err error) bool {
	return Classify(err) == KindRejected
}
