package priority

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pickup-scheduler/internal/domain"
)

func TestScoreNeverAttendedPlayer(t *testing.T) {
	// Zero history: 100 base + 80 under-attendance + 30 capped absence
	score := Score(domain.PlayerStats{}, time.Now())
	assert.Equal(t, 210.0, score)
}

func TestScoreRecentAttendanceReducesBonus(t *testing.T) {
	now := time.Now()
	last := now.Add(-10 * 24 * time.Hour)

	score := Score(domain.PlayerStats{
		RecentAttendance: 3,
		LastAttendanceAt: &last,
	}, now)

	// 100 + (8-3)*10 + 10*0.5
	assert.Equal(t, 155.0, score)
}

func TestScoreOverAttendanceBonusFloorsAtZero(t *testing.T) {
	now := time.Now()
	last := now.Add(-1 * 24 * time.Hour)

	score := Score(domain.PlayerStats{
		RecentAttendance: 12,
		LastAttendanceAt: &last,
	}, now)

	// 100 + 0 + 0.5
	assert.Equal(t, 100.5, score)
}

func TestScoreNoShowPenaltyUnbounded(t *testing.T) {
	now := time.Now()
	last := now
	score := Score(domain.PlayerStats{
		RecentAttendance: 8,
		LastAttendanceAt: &last,
		NoShowCount:      10,
	}, now)

	// 100 + 0 + 0 - 150: negative scores are allowed
	assert.Equal(t, -50.0, score)
}

func TestScoreWaitlistReward(t *testing.T) {
	score := Score(domain.PlayerStats{WaitlistCount: 4}, time.Now())
	assert.Equal(t, 222.0, score)
}

func TestSortWaitlistDescendingScoreThenFIFO(t *testing.T) {
	base := time.Date(2026, 8, 1, 18, 0, 0, 0, time.UTC)
	regs := []domain.Registration{
		{ID: "a", PriorityScore: 150, RegisteredAt: base.Add(2 * time.Minute)},
		{ID: "b", PriorityScore: 210, RegisteredAt: base.Add(3 * time.Minute)},
		{ID: "c", PriorityScore: 150, RegisteredAt: base.Add(1 * time.Minute)},
	}

	SortWaitlist(regs)

	assert.Equal(t, "b", regs[0].ID)
	assert.Equal(t, "c", regs[1].ID)
	assert.Equal(t, "a", regs[2].ID)
}
