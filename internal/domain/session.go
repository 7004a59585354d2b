package domain

import "time"

// SessionStatus represents the lifecycle state of a session
type SessionStatus string

const (
	SessionScheduled  SessionStatus = "scheduled"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionCancelled  SessionStatus = "cancelled"
)

// Session is a single scheduled occurrence players register for.
// ConstraintRule is the stored textual capacity rule; satisfaction is always
// recomputed from the current registration set, never cached on the session.
type Session struct {
	ID                string        `json:"id"`
	Title             string        `json:"title"`
	StartsAt          time.Time     `json:"starts_at"`
	EndsAt            time.Time     `json:"ends_at"`
	FieldsAvailable   int           `json:"fields_available"`
	ConstraintRule    string        `json:"constraint_rule"`
	CancelDeadlineHrs int           `json:"cancel_deadline_hours"`
	Status            SessionStatus `json:"status"`
	ShareToken        string        `json:"share_token,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// CreateSessionRequest is the payload for creating a session
type CreateSessionRequest struct {
	Title             string    `json:"title"`
	StartsAt          time.Time `json:"starts_at"`
	EndsAt            time.Time `json:"ends_at"`
	FieldsAvailable   int       `json:"fields_available"`
	ConstraintRule    string    `json:"constraint_rule"`
	CancelDeadlineHrs int       `json:"cancel_deadline_hours,omitempty"`
}

// CapacityStatus is the derived occupancy report for a session
type CapacityStatus struct {
	Confirmed            int      `json:"confirmed"`
	Waitlisted           int      `json:"waitlist"`
	CanAddPlayer         bool     `json:"can_add_player"`
	ConstraintsSatisfied bool     `json:"constraints_satisfied"`
	Unsatisfied          []string `json:"unsatisfied_constraints,omitempty"`
	Description          string   `json:"description"`
}
