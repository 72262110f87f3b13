package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrNotFound is returned by lookups when no record exists for the given
// identity. It is a result, not a failure: callers must distinguish it from
// the error classes below.
var ErrNotFound = errors.New("record not found")

// Class partitions remote failures by how the caller should react.
type Class int

const (
	// ClassTransient covers rate limiting and transient network faults;
	// the operation is retry-eligible.
	ClassTransient Class = iota
	// ClassTerminal covers misconfiguration (missing schema/container,
	// invalid query arguments); retrying cannot help, degrade at once.
	ClassTerminal
	// ClassConflict means the remote record changed since it was last
	// read; resolved by re-fetch plus the conflict resolver, never
	// surfaced to the end caller as a failure.
	ClassConflict
)

// String returns the class name used in logs and status messages.
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassTerminal:
		return "terminal"
	case ClassConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// RemoteError wraps a remote store failure with its classification.
type RemoteError struct {
	Class Class
	Op    string
	Err   error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s failure: %v", e.Op, e.Class, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// NewRemoteError builds a classified remote failure.
func NewRemoteError(class Class, op string, err error) *RemoteError {
	return &RemoteError{Class: class, Op: op, Err: err}
}

// ClassOf extracts the classification of err. Unclassified errors are
// treated as transient so that a driver error the adapter never anticipated
// still gets the bounded retry treatment rather than an immediate degrade.
func ClassOf(err error) Class {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Class
	}
	return ClassTransient
}

// IsTransient reports whether err is retry-eligible.
func IsTransient(err error) bool { return err != nil && ClassOf(err) == ClassTransient }

// IsTerminal reports whether err is a non-retryable configuration failure.
func IsTerminal(err error) bool { return err != nil && ClassOf(err) == ClassTerminal }

// IsConflict reports whether err is a concurrent-modification conflict.
func IsConflict(err error) bool { return err != nil && ClassOf(err) == ClassConflict }

// Classify maps a raw driver error to the failure taxonomy.
//
// Network faults, timeouts and server-busy replies are transient; context
// cancellation is transient (the retry policy's sleep aborts on it anyway);
// everything that looks like a schema or usage problem is terminal.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return err
	}

	var netErr net.Error
	switch {
	case errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return NewRemoteError(ClassTransient, op, err)
	}

	msg := err.Error()
	for _, s := range []string{"LOADING", "READONLY", "TRYAGAIN", "BUSY", "CLUSTERDOWN", "connection refused", "connection reset", "broken pipe", "i/o timeout", "EOF"} {
		if strings.Contains(msg, s) {
			return NewRemoteError(ClassTransient, op, err)
		}
	}
	for _, s := range []string{"WRONGTYPE", "unknown command", "wrong number of arguments", "NOSCRIPT", "invalid"} {
		if strings.Contains(msg, s) {
			return NewRemoteError(ClassTerminal, op, err)
		}
	}
	return NewRemoteError(ClassTransient, op, err)
}
