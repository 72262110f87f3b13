package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func TestClassifyNetworkErrorsTransient(t *testing.T) {
	var netErr net.Error = &net.OpError{Op: "dial", Err: errors.New("refused")}

	tests := []struct {
		name string
		err  error
	}{
		{"net.Error", netErr},
		{"deadline", context.DeadlineExceeded},
		{"cancelled", context.Canceled},
		{"server loading", errors.New("LOADING Redis is loading the dataset in memory")},
		{"busy", errors.New("BUSY Redis is busy running a script")},
		{"connection refused", errors.New("dial tcp: connection refused")},
		{"broken pipe", errors.New("write: broken pipe")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("save", tt.err)
			if !IsTransient(err) {
				t.Errorf("Classify(%v) = %v, want transient", tt.err, ClassOf(err))
			}
		})
	}
}

func TestClassifySchemaErrorsTerminal(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"wrong type", errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")},
		{"unknown command", errors.New("ERR unknown command 'HSETALL'")},
		{"bad arity", errors.New("ERR wrong number of arguments for 'hset' command")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("query", tt.err)
			if !IsTerminal(err) {
				t.Errorf("Classify(%v) = %v, want terminal", tt.err, ClassOf(err))
			}
		})
	}
}

func TestClassifyPreservesExistingClassification(t *testing.T) {
	conflict := NewRemoteError(ClassConflict, "save", errors.New("changed"))
	wrapped := fmt.Errorf("while syncing: %w", conflict)

	err := Classify("save", wrapped)
	if !IsConflict(err) {
		t.Errorf("Classify should not reclassify an already classified error, got %v", ClassOf(err))
	}
}

func TestClassifyNil(t *testing.T) {
	if err := Classify("save", nil); err != nil {
		t.Errorf("Classify(nil) = %v, want nil", err)
	}
}

func TestUnclassifiedDefaultsToTransient(t *testing.T) {
	if !IsTransient(errors.New("some unexpected driver error")) {
		t.Error("unclassified errors must default to transient")
	}
	if IsTransient(nil) || IsTerminal(nil) || IsConflict(nil) {
		t.Error("nil must not match any classification")
	}
}

func TestRemoteErrorUnwrap(t *testing.T) {
	inner := errors.New("root cause")
	err := NewRemoteError(ClassTerminal, "delete", inner)

	if !errors.Is(err, inner) {
		t.Error("RemoteError must unwrap to its cause")
	}
	var re *RemoteError
	if !errors.As(fmt.Errorf("wrapped: %w", err), &re) || re.Class != ClassTerminal {
		t.Error("errors.As should find the RemoteError through wrapping")
	}
}

func TestErrNotFoundIsNotAFailureClass(t *testing.T) {
	// ErrNotFound is a lookup result; classification still applies if a
	// careless caller feeds it through, and defaults to transient.
	if errors.Is(Classify("find", ErrNotFound), ErrNotFound) != true {
		t.Error("Classify must preserve the wrapped sentinel")
	}
}

func TestRecordValidateDefaults(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	rec := &Record{
		SessionID:  "s1",
		Date:       "2026-03-14",
		Target:     30,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := rec.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
	if rec.SchemaVersion != RecordSchemaVersion {
		t.Errorf("schema version defaulted to %d, want %d", rec.SchemaVersion, RecordSchemaVersion)
	}
	if rec.Rounds == nil {
		t.Error("rounds should default to empty, not nil")
	}
}

func TestRecordValidateRejectsFutureSchema(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	rec := &Record{
		SchemaVersion: RecordSchemaVersion + 1,
		SessionID:     "s1",
		Date:          "2026-03-14",
		Target:        30,
		CreatedAt:     now,
		ModifiedAt:    now,
	}
	if err := rec.Validate(); err == nil {
		t.Error("expected error for a newer schema version")
	}
}
