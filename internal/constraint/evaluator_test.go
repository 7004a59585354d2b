package constraint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanAddPlayerLookahead(t *testing.T) {
	// divisible_by_6 at 11 confirmed: current state violates the rule but the
	// next state (12) satisfies it, so one more player is admissible.
	e := NewEvaluator(Parse("divisible_by_6"))
	occ := Occupancy{Confirmed: 11}

	assert.True(t, e.CanAddPlayer(occ))
	assert.False(t, e.AllSatisfied(occ))
}

func TestCanAddPlayerRespectsMax(t *testing.T) {
	e := NewEvaluator(Parse("max_2"))

	assert.True(t, e.CanAddPlayer(Occupancy{Confirmed: 1}))
	assert.False(t, e.CanAddPlayer(Occupancy{Confirmed: 2}))
}

func TestUnsatisfiedReportsFailingBranches(t *testing.T) {
	e := NewEvaluator(Parse("max_18,min_12,even"))

	failed := e.Unsatisfied(Occupancy{Confirmed: 7})
	names := make([]string, len(failed))
	for i, f := range failed {
		names[i] = f.Name()
	}
	assert.Equal(t, []string{"min_12", "even"}, names)

	assert.Empty(t, e.Unsatisfied(Occupancy{Confirmed: 14}))
}

func TestUnsatisfiedNonAndRoot(t *testing.T) {
	e := NewEvaluator(Or(Max(5), Min(20)))

	failed := e.Unsatisfied(Occupancy{Confirmed: 10})
	assert.Len(t, failed, 1)
}
