package domain

import "time"

// Player represents a registered participant with cumulative history counters.
// Counters are mutated only by the registration and attendance flows.
type Player struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Email            string     `json:"email,omitempty"`
	Phone            string     `json:"phone,omitempty"`
	TotalAttendance  int        `json:"total_attendance"`
	TotalRegistered  int        `json:"total_registered"`
	TotalNoShows     int        `json:"total_no_shows"`
	TotalWaitlisted  int        `json:"total_waitlisted"`
	LastAttendanceAt *time.Time `json:"last_attendance_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// PlayerStats is the slice of player history the priority calculator reads.
type PlayerStats struct {
	RecentAttendance int        `json:"recent_attendance"`
	LastAttendanceAt *time.Time `json:"last_attendance_at,omitempty"`
	NoShowCount      int        `json:"no_show_count"`
	WaitlistCount    int        `json:"waitlist_count"`
}
