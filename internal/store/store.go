// Package store defines the contracts shared by the local and remote
// session stores: the remote record wire shape, the lookup filter, and the
// failure taxonomy the sync engine's retry policy keys off.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kastlog/kastlog/internal/model"
)

// RecordSchemaVersion is the current remote record schema. Records written
// by this build always carry it; records missing required fields are
// rejected at the adapter boundary rather than decoded ad hoc.
const RecordSchemaVersion = 1

// Record is the remote wire shape of a session.
//
// RecordID is the remote store's own identity for the write and is
// independent of the logical SessionID: a device that cannot find the
// existing record for a session (for example when the identity index is
// unavailable) creates a fresh record, so multiple live records may share
// one SessionID until a deduplication sweep collapses them.
type Record struct {
	RecordID      string
	SchemaVersion int
	SessionID     string
	Date          string
	Target        int
	TotalKubbs    int
	TotalBatons   int
	StartTime     time.Time
	EndTime       *time.Time
	IsComplete    bool
	CreatedAt     time.Time
	ModifiedAt    time.Time
	Rounds        []model.Round

	// BaseModifiedAt is the ModifiedAt the caller last read for this
	// record. When set, Save performs a compare-and-set: if the stored
	// copy has a different ModifiedAt the write fails with a Conflict
	// classification instead of clobbering a concurrent update. Zero
	// disables the guard (first write of a fresh record).
	BaseModifiedAt time.Time
}

// FromSession converts a session to its remote record shape.
// RecordID is left empty; the adapter assigns one on first save.
func FromSession(s *model.Session) *Record {
	return &Record{
		SchemaVersion: RecordSchemaVersion,
		SessionID:     s.ID,
		Date:          s.Date,
		Target:        s.Target,
		TotalKubbs:    s.TotalKubbs,
		TotalBatons:   s.TotalBatons,
		StartTime:     s.StartTime,
		EndTime:       s.EndTime,
		IsComplete:    s.IsComplete,
		CreatedAt:     s.CreatedAt,
		ModifiedAt:    s.ModifiedAt,
		Rounds:        s.Rounds,
	}
}

// Session converts the record back to the in-memory session shape.
func (r *Record) Session() *model.Session {
	return &model.Session{
		ID:          r.SessionID,
		Date:        r.Date,
		Target:      r.Target,
		TotalKubbs:  r.TotalKubbs,
		TotalBatons: r.TotalBatons,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		IsComplete:  r.IsComplete,
		CreatedAt:   r.CreatedAt,
		ModifiedAt:  r.ModifiedAt,
		Rounds:      r.Rounds,
	}
}

// Validate enforces the versioned schema contract for remote records.
// Required: session id, date, target, timestamps. Optional with defaults:
// schema version (1), rounds (empty), end time (unset).
func (r *Record) Validate() error {
	if r.SchemaVersion == 0 {
		r.SchemaVersion = RecordSchemaVersion
	}
	if r.SchemaVersion > RecordSchemaVersion {
		return fmt.Errorf("unsupported record schema version %d", r.SchemaVersion)
	}
	if r.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if _, err := time.Parse(model.DateLayout, r.Date); err != nil {
		return fmt.Errorf("invalid date %q: %w", r.Date, err)
	}
	if r.Target <= 0 {
		return fmt.Errorf("target must be positive (got %d)", r.Target)
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if r.ModifiedAt.IsZero() {
		return fmt.Errorf("modified_at is required")
	}
	if r.Rounds == nil {
		r.Rounds = []model.Round{}
	}
	return nil
}

// MarshalRounds serializes the nested round structure for the rounds field.
func (r *Record) MarshalRounds() (string, error) {
	data, err := json.Marshal(r.Rounds)
	if err != nil {
		return "", fmt.Errorf("failed to marshal rounds: %w", err)
	}
	return string(data), nil
}

// QueryFilter narrows a remote Query.
type QueryFilter struct {
	// OnlyIncomplete restricts results to records with is_complete = 0.
	OnlyIncomplete bool
	// SessionID restricts results to records for one logical session
	// (used by the full-scan fallback when the identity index is
	// unavailable). Empty matches all sessions.
	SessionID string
}

// RemoteStore is the cloud record service consumed by the sync engine.
//
// Implementations classify their failures into the taxonomy of this
// package: transient failures are retry-eligible, terminal failures degrade
// immediately, and conflicts are resolved by re-fetch rather than surfaced.
type RemoteStore interface {
	// Save creates or updates a record. When the record carries a
	// BaseModifiedAt guard and the stored copy has moved past it, Save
	// fails with a Conflict-classified error and writes nothing.
	Save(ctx context.Context, rec *Record) (*Record, error)

	// Query returns all records matching the filter. Undecodable records
	// are skipped, not fatal.
	Query(ctx context.Context, filter QueryFilter) ([]*Record, error)

	// FindBySession looks a session up by logical id via the identity
	// index. Returns ErrNotFound (not an error classification) when no
	// record exists; the lookup itself may fail Terminal when the index
	// is unavailable, in which case callers fall back to Query.
	FindBySession(ctx context.Context, sessionID string) ([]*Record, error)

	// Delete removes a single record by remote identity. Idempotent.
	Delete(ctx context.Context, recordID string) error

	// Ping reports reachability.
	Ping(ctx context.Context) error
}
