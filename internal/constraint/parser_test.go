package constraint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	c := Parse("max_18,min_12,even")

	assert.True(t, c.IsSatisfiedBy(Occupancy{Confirmed: 14}))
	assert.False(t, c.IsSatisfiedBy(Occupancy{Confirmed: 19}))

	failed := NewEvaluator(c).Unsatisfied(Occupancy{Confirmed: 19})
	names := make([]string, len(failed))
	for i, f := range failed {
		names[i] = f.Name()
	}
	assert.Contains(t, names, "max_18")
}

func TestParseDropsMalformedTokensSilently(t *testing.T) {
	c := Parse("max_18,bogus,min_abc,per_field_,even")

	require.Equal(t, KindAnd, c.Kind)
	names := make([]string, len(c.Children))
	for i, child := range c.Children {
		names[i] = child.Name()
	}
	assert.Equal(t, []string{"max_18", "even"}, names)
}

func TestParseEmptyRuleAlwaysSatisfied(t *testing.T) {
	c := Parse("")
	assert.True(t, c.IsSatisfiedBy(Occupancy{Confirmed: 999}))
}

func TestParsePerFieldAndDivisible(t *testing.T) {
	c := Parse("per_field_6,divisible_by_2")
	assert.True(t, c.IsSatisfiedBy(Occupancy{Confirmed: 12, FieldsAvailable: 2}))
	assert.False(t, c.IsSatisfiedBy(Occupancy{Confirmed: 13, FieldsAvailable: 2}))
}

func TestValidateRule(t *testing.T) {
	assert.NoError(t, ValidateRule(""))
	assert.NoError(t, ValidateRule("max_18,min_12,even"))
	assert.NoError(t, ValidateRule("per_field_6,divisible_by_4"))

	assert.Error(t, ValidateRule("max_18,bogus"))
	assert.Error(t, ValidateRule("max_"))
	assert.Error(t, ValidateRule("MAX_18"))
	assert.Error(t, ValidateRule("max_18, min_12"))
}
