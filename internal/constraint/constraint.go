// Package constraint implements the capacity rules a session's registration
// flow is evaluated against. Rules are pure predicates over an occupancy
// snapshot; they hold no state and are re-parsed from the stored rule string
// on every evaluation.
package constraint

import (
	"fmt"
	"strings"
)

// Occupancy is the snapshot a constraint is evaluated against
type Occupancy struct {
	Confirmed       int `json:"confirmed"`
	Waitlisted      int `json:"waitlisted"`
	FieldsAvailable int `json:"fields_available"`
}

// Kind identifies a constraint variant
type Kind string

const (
	KindMax         Kind = "max"
	KindMin         Kind = "min"
	KindEven        Kind = "even"
	KindPerField    Kind = "per_field"
	KindDivisibleBy Kind = "divisible_by"
	KindAnd         Kind = "and"
	KindOr          Kind = "or"
	KindNot         Kind = "not"
)

// Constraint is a closed sum over the atomic variants and their boolean
// combinators. Value holds the numeric argument for Max, Min, PerField and
// DivisibleBy; Children holds the operands for And, Or and Not.
type Constraint struct {
	Kind     Kind
	Value    int
	Children []Constraint
}

// Atomic constructors

func Max(n int) Constraint         { return Constraint{Kind: KindMax, Value: n} }
func Min(n int) Constraint         { return Constraint{Kind: KindMin, Value: n} }
func Even() Constraint             { return Constraint{Kind: KindEven} }
func PerField(k int) Constraint    { return Constraint{Kind: KindPerField, Value: k} }
func DivisibleBy(d int) Constraint { return Constraint{Kind: KindDivisibleBy, Value: d} }

// Combinators

func And(operands ...Constraint) Constraint {
	return Constraint{Kind: KindAnd, Children: operands}
}

func Or(operands ...Constraint) Constraint {
	return Constraint{Kind: KindOr, Children: operands}
}

func Not(operand Constraint) Constraint {
	return Constraint{Kind: KindNot, Children: []Constraint{operand}}
}

// IsSatisfiedBy evaluates the constraint against an occupancy snapshot
func (c Constraint) IsSatisfiedBy(occ Occupancy) bool {
	switch c.Kind {
	case KindMax:
		return occ.Confirmed <= c.Value
	case KindMin:
		return occ.Confirmed >= c.Value
	case KindEven:
		return occ.Confirmed%2 == 0
	case KindPerField:
		return occ.Confirmed <= c.Value*occ.FieldsAvailable
	case KindDivisibleBy:
		if c.Value <= 0 {
			return true
		}
		return occ.Confirmed%c.Value == 0
	case KindAnd:
		for _, child := range c.Children {
			if !child.IsSatisfiedBy(occ) {
				return false
			}
		}
		return true
	case KindOr:
		for _, child := range c.Children {
			if child.IsSatisfiedBy(occ) {
				return true
			}
		}
		return len(c.Children) == 0
	case KindNot:
		if len(c.Children) == 0 {
			return true
		}
		return !c.Children[0].IsSatisfiedBy(occ)
	default:
		return true
	}
}

// Name returns the stable serialization name of the constraint
func (c Constraint) Name() string {
	switch c.Kind {
	case KindMax, KindMin, KindPerField, KindDivisibleBy:
		return fmt.Sprintf("%s_%d", c.Kind, c.Value)
	default:
		return string(c.Kind)
	}
}

// Describe returns a human-readable description. AND lists compose their
// children joined with commas.
func (c Constraint) Describe() string {
	switch c.Kind {
	case KindMax:
		return fmt.Sprintf("at most %d players", c.Value)
	case KindMin:
		return fmt.Sprintf("at least %d players", c.Value)
	case KindEven:
		return "an even number of players"
	case KindPerField:
		return fmt.Sprintf("at most %d players per field", c.Value)
	case KindDivisibleBy:
		return fmt.Sprintf("a multiple of %d players", c.Value)
	case KindAnd:
		return joinDescriptions(c.Children, ", ")
	case KindOr:
		return joinDescriptions(c.Children, " or ")
	case KindNot:
		if len(c.Children) == 0 {
			return ""
		}
		return "not " + c.Children[0].Describe()
	default:
		return ""
	}
}

func joinDescriptions(children []Constraint, sep string) string {
	parts := make([]string, 0, len(children))
	for _, child := range children {
		if d := child.Describe(); d != "" {
			parts = append(parts, d)
		}
	}
	return strings.Join(parts, sep)
}
