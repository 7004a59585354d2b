// Package priority computes waitlist ranking scores. The score is a
// heuristic weighted sum, not a normalized probability; it is unclamped and
// can go negative for chronic no-show players. Higher scores promote sooner.
package priority

import (
	"sort"
	"time"

	"github.com/pickup-scheduler/internal/domain"
)

const (
	baseScore = 100.0

	// Players below this many attendances in the recent window earn a bonus
	attendanceTarget      = 8
	underAttendanceWeight = 10.0

	absenceWeight   = 0.5
	absenceBonusCap = 30.0
	// Sentinel for players who have never attended
	neverAttendedDays = 999

	noShowPenalty  = 15.0
	waitlistReward = 3.0

	// RecentWindow is the trailing window recent attendance is counted over
	RecentWindow = 28 * 24 * time.Hour
)

// Score computes the waitlist priority score for a player's stats, with now
// as the time reference (normally the evaluation time; the session only
// supplies the reference point).
func Score(stats domain.PlayerStats, now time.Time) float64 {
	days := neverAttendedDays
	if stats.LastAttendanceAt != nil {
		days = int(now.Sub(*stats.LastAttendanceAt).Hours() / 24)
		if days < 0 {
			days = 0
		}
	}

	underAttendance := float64(attendanceTarget-stats.RecentAttendance) * underAttendanceWeight
	if underAttendance < 0 {
		underAttendance = 0
	}

	absence := float64(days) * absenceWeight
	if absence > absenceBonusCap {
		absence = absenceBonusCap
	}

	return baseScore +
		underAttendance +
		absence -
		float64(stats.NoShowCount)*noShowPenalty +
		float64(stats.WaitlistCount)*waitlistReward
}

// SortWaitlist orders registrations for promotion: descending by priority
// score, ties broken by earlier registration time (stable FIFO fallback).
func SortWaitlist(regs []domain.Registration) {
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].PriorityScore != regs[j].PriorityScore {
			return regs[i].PriorityScore > regs[j].PriorityScore
		}
		return regs[i].RegisteredAt.Before(regs[j].RegisteredAt)
	})
}
