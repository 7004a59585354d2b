package constraint

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var ruleStringPattern = regexp.MustCompile(`^[a-z_0-9]+(,[a-z_0-9]+)*$`)

// Parse turns a stored rule string into an AND-composed constraint.
// Tokens are comma-separated `<name>_<value>` pairs (value omitted for
// `even`). Malformed or unrecognized tokens are dropped, not errored, so
// legacy stored strings never hard-fail a read path; strict validation
// belongs at write time via ValidateRule. fieldsAvailable is carried into
// PerField evaluation through the occupancy snapshot, so the parser does
// not need it, but callers pass the same rule for one session's lifetime.
//
// The textual form has no OR/NOT syntax; composite constraints beyond the
// default AND are built directly with the combinator constructors.
func Parse(rule string) Constraint {
	tokens := splitTokens(rule)
	parsed := make([]Constraint, 0, len(tokens))
	for _, token := range tokens {
		c, ok := parseToken(token)
		if !ok {
			continue
		}
		parsed = append(parsed, c)
	}
	return And(parsed...)
}

// ValidateRule strictly checks a rule string for write-time use. Unknown or
// malformed tokens are rejected with the offending token named, never
// silently dropped.
func ValidateRule(rule string) error {
	if rule == "" {
		return nil
	}
	if !ruleStringPattern.MatchString(rule) {
		return fmt.Errorf("rule string contains invalid characters: %q", rule)
	}
	for _, token := range splitTokens(rule) {
		if _, ok := parseToken(token); !ok {
			return fmt.Errorf("unrecognized constraint token: %q", token)
		}
	}
	return nil
}

func splitTokens(rule string) []string {
	if strings.TrimSpace(rule) == "" {
		return nil
	}
	parts := strings.Split(rule, ",")
	tokens := make([]string, 0, len(parts))
	for _, part := range parts {
		if token := strings.TrimSpace(part); token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

func parseToken(token string) (Constraint, bool) {
	if token == "even" {
		return Even(), true
	}
	for _, def := range []struct {
		prefix string
		build  func(int) Constraint
	}{
		{"per_field_", PerField},
		{"divisible_by_", DivisibleBy},
		{"max_", Max},
		{"min_", Min},
	} {
		if value, ok := numericSuffix(token, def.prefix); ok {
			return def.build(value), true
		}
	}
	return Constraint{}, false
}

func numericSuffix(token, prefix string) (int, bool) {
	if !strings.HasPrefix(token, prefix) {
		return 0, false
	}
	value, err := strconv.Atoi(token[len(prefix):])
	if err != nil || value < 0 {
		return 0, false
	}
	return value, true
}
