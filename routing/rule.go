package routing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// MatchTarget selects which producer attribute a rule inspects.
type MatchTarget int

const (
	// MatchName inspects the producer's display name.
	MatchName MatchTarget = iota
	// MatchBinary inspects the producer's executable name.
	MatchBinary
	// MatchEither matches when the name or the binary matches.
	MatchEither
)

// String returns the persisted spelling of the target.
func (t MatchTarget) String() string {
	switch t {
	case MatchName:
		return "name"
	case MatchBinary:
		return "binary"
	case MatchEither:
		return "either"
	default:
		return fmt.Sprintf("MatchTarget(%d)", int(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t MatchTarget) MarshalText() ([]byte, error) {
	switch t {
	case MatchName, MatchBinary, MatchEither:
		return []byte(t.String()), nil
	}
	return nil, fmt.Errorf("routing: unknown match target %d", int(t))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *MatchTarget) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "name":
		*t = MatchName
	case "binary":
		*t = MatchBinary
	case "either":
		*t = MatchEither
	default:
		return fmt.Errorf("routing: unknown match target %q", string(text))
	}
	return nil
}

// MatchType selects how a rule's pattern is compared.
type MatchType int

const (
	// MatchContains is a case-insensitive substring test.
	MatchContains MatchType = iota
	// MatchExact is a case-insensitive equality test.
	MatchExact
	// MatchRegex is an unanchored regular expression search.
	MatchRegex
	// MatchGlob is a case-insensitive shell glob with *, ? and [...].
	MatchGlob
)

// String returns the persisted spelling of the match type.
func (m MatchType) String() string {
	switch m {
	case MatchContains:
		return "contains"
	case MatchExact:
		return "exact"
	case MatchRegex:
		return "regex"
	case MatchGlob:
		return "glob"
	default:
		return fmt.Sprintf("MatchType(%d)", int(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m MatchType) MarshalText() ([]byte, error) {
	switch m {
	case MatchContains, MatchExact, MatchRegex, MatchGlob:
		return []byte(m.String()), nil
	}
	return nil, fmt.Errorf("routing: unknown match type %d", int(m))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MatchType) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "contains":
		*m = MatchContains
	case "exact":
		*m = MatchExact
	case "regex":
		*m = MatchRegex
	case "glob":
		*m = MatchGlob
	default:
		return fmt.Errorf("routing: unknown match type %q", string(text))
	}
	return nil
}

// Rule maps producers whose name or binary matches Pattern to TargetChannel.
// Lower Priority values are evaluated first.
type Rule struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Enabled       bool        `json:"enabled"`
	Target        MatchTarget `json:"match_target"`
	Type          MatchType   `json:"match_type"`
	Pattern       string      `json:"pattern"`
	TargetChannel string      `json:"target_channel"`
	Priority      int         `json:"priority"`

	matcher    func(string) bool
	compileErr error
}

// CompileError returns the pattern compile failure recorded for the rule, if any.
// A rule with a compile error never matches.
func (r Rule) CompileError() error { return r.compileErr }

// Matches reports whether the rule applies to a producer. Disabled rules
// and rules whose pattern failed to compile never match. An empty binary
// never matches a binary target.
func (r Rule) Matches(name, binary string) bool {
	if !r.Enabled || r.matcher == nil {
		return false
	}
	switch r.Target {
	case MatchName:
		return r.matcher(name)
	case MatchBinary:
		return binary != "" && r.matcher(binary)
	case MatchEither:
		return r.matcher(name) || (binary != "" && r.matcher(binary))
	default:
		return false
	}
}

// compile prepares the matcher for the rule's pattern and type.
func (r *Rule) compile() {
	r.matcher, r.compileErr = buildMatcher(r.Type, r.Pattern)
}

func buildMatcher(kind MatchType, pattern string) (func(string) bool, error) {
	switch kind {
	case MatchContains:
		p := strings.ToLower(pattern)
		return func(s string) bool {
			return strings.Contains(strings.ToLower(s), p)
		}, nil
	case MatchExact:
		return func(s string) bool {
			return strings.EqualFold(s, pattern)
		}, nil
	case MatchRegex:
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, &PatternCompileError{Pattern: pattern, Type: kind, Err: err}
		}
		return re.MatchString, nil
	case MatchGlob:
		g, err := glob.Compile(translateGlob(strings.ToLower(pattern)))
		if err != nil {
			return nil, &PatternCompileError{Pattern: pattern, Type: kind, Err: err}
		}
		return func(s string) bool {
			return g.Match(strings.ToLower(s))
		}, nil
	default:
		return nil, &PatternCompileError{Pattern: pattern, Type: kind, Err: fmt.Errorf("unknown match type")}
	}
}

// translateGlob rewrites shell glob syntax into the matcher's dialect:
// a leading ^ inside brackets negates like !, and braces are literal.
func translateGlob(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern) + 4)
	inClass := false
	classStart := false
	for _, r := range pattern {
		switch {
		case inClass && classStart && r == '^':
			b.WriteRune('!')
			classStart = false
			continue
		case inClass:
			classStart = false
			if r == ']' {
				inClass = false
			}
		case r == '[':
			inClass = true
			classStart = true
		case r == '{' || r == '}' || r == ',':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
