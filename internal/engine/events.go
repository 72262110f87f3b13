package engine

import "time"

// Status is the observable sync state. It is informational: consumers may
// display it but must never use it to gate local interaction.
type Status string

const (
	// StatusIdle means no sync activity since startup or the last reset.
	StatusIdle Status = "idle"
	// StatusSyncing means a remote operation is in flight.
	StatusSyncing Status = "syncing"
	// StatusSuccess means the last remote operation completed.
	StatusSuccess Status = "success"
	// StatusError means the last remote operation degraded to the local
	// store; Message carries the reason.
	StatusError Status = "error"
)

// EventType identifies the closed set of engine notifications.
type EventType string

const (
	// EventStatusChanged fires on every sync status transition.
	EventStatusChanged EventType = "statusChanged"
	// EventSessionUpdated fires when a session's stored state changed
	// (local write, or remote copy adopted as canonical).
	EventSessionUpdated EventType = "sessionUpdated"
	// EventDataCleared fires when a session was deleted.
	EventDataCleared EventType = "dataCleared"
)

// Event is a typed engine notification delivered to subscribers.
// Consumers register callbacks rather than observing ambient state.
type Event struct {
	Type      EventType `json:"type"`
	Status    Status    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Time      time.Time `json:"time"`
}
