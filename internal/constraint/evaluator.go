package constraint

// Evaluator answers admission questions for one session's parsed constraint
type Evaluator struct {
	constraint Constraint
}

// NewEvaluator creates an evaluator for a parsed constraint
func NewEvaluator(c Constraint) *Evaluator {
	return &Evaluator{constraint: c}
}

// AllSatisfied reports whether the constraint holds for the current occupancy
func (e *Evaluator) AllSatisfied(occ Occupancy) bool {
	return e.constraint.IsSatisfiedBy(occ)
}

// CanAddPlayer is the admission test: it checks the occupancy with confirmed
// incremented by exactly one. The lookahead is a single step, not a search,
// so a rule like divisible_by_6 can be unsatisfied at 11 confirmed while
// still admitting the twelfth player. Admission order therefore matters
// under Even/DivisibleBy rules.
func (e *Evaluator) CanAddPlayer(occ Occupancy) bool {
	next := occ
	next.Confirmed++
	return e.constraint.IsSatisfiedBy(next)
}

// Unsatisfied returns the top-level AND branches that fail against the
// occupancy, for diagnostics. Only meaningful for the default AND-composed
// textual form; a non-AND root is reported as a single branch.
func (e *Evaluator) Unsatisfied(occ Occupancy) []Constraint {
	branches := e.constraint.Children
	if e.constraint.Kind != KindAnd {
		branches = []Constraint{e.constraint}
	}
	var failed []Constraint
	for _, branch := range branches {
		if !branch.IsSatisfiedBy(occ) {
			failed = append(failed, branch)
		}
	}
	return failed
}

// Describe returns the human-readable description of the constraint
func (e *Evaluator) Describe() string {
	return e.constraint.Describe()
}
