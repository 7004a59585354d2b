package domain

import "time"

// EventKind identifies the registration change that occurred
type EventKind string

const (
	EventPlayerRegistered EventKind = "player_registered"
	EventPlayerCancelled  EventKind = "player_cancelled"
	EventPlayerPromoted   EventKind = "player_promoted"
	EventAttendanceMarked EventKind = "attendance_marked"
)

// Event is a change notification produced by a completed state transition.
// The engine only returns events; relaying them to Kafka or websocket
// subscribers is the caller's concern.
type Event struct {
	SessionID string         `json:"session_id"`
	Kind      EventKind      `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent creates an event stamped with the current time
func NewEvent(sessionID string, kind EventKind, payload map[string]any) Event {
	return Event{
		SessionID: sessionID,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}
