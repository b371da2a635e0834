package routing

import (
	"errors"
	"fmt"
)

// ErrRuleNotFound indicates no rule exists with the given id.
var ErrRuleNotFound = errors.New("routing rule not found")

// PatternCompileError records a regex or glob pattern that could not be
// compiled. The rule stays in the list but never matches.
type PatternCompileError struct {
	Pattern string
	Type    MatchType
	Err     error
}

func (e *PatternCompileError) Error() string {
	return fmt.Sprintf("routing: invalid %s pattern %q: %v", e.Type, e.Pattern, e.Err)
}

func (e *PatternCompileError) Unwrap() error { return e.Err }
