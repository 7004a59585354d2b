package domain

import "time"

// RegistrationStatus represents the state of a registration
type RegistrationStatus string

const (
	RegistrationConfirmed  RegistrationStatus = "confirmed"
	RegistrationWaitlisted RegistrationStatus = "waitlisted"
	RegistrationCancelled  RegistrationStatus = "cancelled"
	RegistrationAttended   RegistrationStatus = "attended"
	RegistrationNoShow     RegistrationStatus = "no_show"
)

// IsActive reports whether the status counts toward the one-active-per-player invariant
func (s RegistrationStatus) IsActive() bool {
	return s == RegistrationConfirmed || s == RegistrationWaitlisted
}

// Registration links one player to one session. Rows are never deleted;
// status transitions preserve history for the player counters.
// Position and PriorityScore are only meaningful while waitlisted.
type Registration struct {
	ID            string             `json:"id"`
	SessionID     string             `json:"session_id"`
	PlayerID      string             `json:"player_id"`
	Status        RegistrationStatus `json:"status"`
	Position      int                `json:"position,omitempty"`
	PriorityScore float64            `json:"priority_score,omitempty"`
	CancelToken   string             `json:"-"`
	RegisteredAt  time.Time          `json:"registered_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// SignupRequest is the payload for registering a player to a session
type SignupRequest struct {
	SessionID string `json:"session_id"`
	PlayerID  string `json:"player_id"`
}

// SignupResult reports the outcome of a signup
type SignupResult struct {
	Registration Registration `json:"registration"`
	Waitlisted   bool         `json:"waitlisted"`
}

// CancelResult reports the outcome of a cancellation. LateCancellation is a
// soft warning raised when the cancel happened past the session deadline.
type CancelResult struct {
	Registration     Registration  `json:"registration"`
	LateCancellation bool          `json:"late_cancellation"`
	Promoted         *Registration `json:"promoted,omitempty"`
}

// PromotionResult reports the outcome of a waitlist promotion.
// Promoted is nil when nothing was eligible (a no-op success).
type PromotionResult struct {
	Promoted *Registration `json:"promoted,omitempty"`
}
