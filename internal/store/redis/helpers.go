package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/kastlog/kastlog/internal/model"
	"github.com/kastlog/kastlog/internal/store"
)

// parseRecord converts a record hash to a store.Record, enforcing the
// versioned schema contract at the adapter boundary. Required fields fail
// the parse; optional fields get their documented defaults.
func parseRecord(data map[string]string) (*store.Record, error) {
	if len(data) == 0 {
		return nil, store.ErrNotFound
	}

	rec := &store.Record{
		RecordID:  data["record_id"],
		SessionID: data["session_id"],
		Date:      data["date"],
	}

	// schema_version is optional and defaults to 1 (pre-versioning writers)
	if v, ok := data["schema_version"]; ok && v != "" {
		sv, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse schema_version: %w", err)
		}
		rec.SchemaVersion = sv
	}

	var err error
	if rec.Target, err = strconv.Atoi(data["target"]); err != nil {
		return nil, fmt.Errorf("failed to parse target: %w", err)
	}
	if rec.TotalKubbs, err = strconv.Atoi(data["total_kubbs"]); err != nil {
		return nil, fmt.Errorf("failed to parse total_kubbs: %w", err)
	}
	if rec.TotalBatons, err = strconv.Atoi(data["total_batons"]); err != nil {
		return nil, fmt.Errorf("failed to parse total_batons: %w", err)
	}

	if rec.StartTime, err = time.Parse(time.RFC3339Nano, data["start_time"]); err != nil {
		return nil, fmt.Errorf("failed to parse start_time: %w", err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, data["created_at"]); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if rec.ModifiedAt, err = time.Parse(time.RFC3339Nano, data["modified_at"]); err != nil {
		return nil, fmt.Errorf("failed to parse modified_at: %w", err)
	}

	// end_time is optional: absent or empty means the session never ended
	if v := data["end_time"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse end_time: %w", err)
		}
		rec.EndTime = &t
	}

	rec.IsComplete = data["is_complete"] == "1"

	// rounds is optional and defaults to empty
	if v := data["rounds"]; v != "" && v != "null" {
		if err := json.Unmarshal([]byte(v), &rec.Rounds); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rounds: %w", err)
		}
	} else {
		rec.Rounds = []model.Round{}
	}

	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid record %s: %w", rec.RecordID, err)
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func formatOptTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func formatGuard(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func boolToField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
