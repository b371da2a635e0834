package routing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(rules []Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.ID
	}
	return out
}

func newRule(id string, priority int, target MatchTarget, kind MatchType, pattern, channel string) Rule {
	return Rule{
		ID:            id,
		Name:          id,
		Enabled:       true,
		Target:        target,
		Type:          kind,
		Pattern:       pattern,
		TargetChannel: channel,
		Priority:      priority,
	}
}

func TestContainsAndExactAreCaseInsensitive(t *testing.T) {
	tests := []struct {
		name    string
		kind    MatchType
		pattern string
		subject string
		want    bool
	}{
		{"contains hit", MatchContains, "fox", "Firefox", true},
		{"contains upper pattern", MatchContains, "FIRE", "firefox", true},
		{"contains miss", MatchContains, "chrome", "Firefox", false},
		{"exact hit", MatchExact, "SPOTIFY", "spotify", true},
		{"exact miss on substring", MatchExact, "spot", "spotify", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRule("r", 0, MatchName, tt.kind, tt.pattern, "music")
			r.compile()
			require.NoError(t, r.CompileError())
			assert.Equal(t, tt.want, r.Matches(tt.subject, ""))
		})
	}
}

func TestGlobMatching(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"fire*", "Firefox", true},
		{"fire*", "firefox audio", true},
		{"[fc]hrome", "Fhrome", true},
		{"[fc]hrome", "bhrome", false},
		{"*chrome*", "Google Chrome", true},
		{"fire?ox", "FireFox", true},
		{"fire?ox", "firefoox", false},
		{"[fc]hrome", "chrome", true},
		{"[fc]hrome", "shrome", false},
		{"[!f]irefox", "firefox", false},
		{"[!f]irefox", "wirefox", true},
		{"[^f]irefox", "firefox", false},
		{"[^f]irefox", "wirefox", true},
		{"[a-c]at", "Bat", true},
		{"[a-c]at", "rat", false},
		{"*.exe", "Discord.EXE", true},
		{"{a,b}", "{a,b}", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.subject, func(t *testing.T) {
			r := newRule("g", 0, MatchName, MatchGlob, tt.pattern, "x")
			r.compile()
			require.NoError(t, r.CompileError())
			assert.Equal(t, tt.want, r.Matches(tt.subject, ""))
		})
	}
}

func TestRegexMatching(t *testing.T) {
	r := newRule("re", 0, MatchBinary, MatchRegex, `^(firefox|chromium)$`, "browser")
	r.compile()
	require.NoError(t, r.CompileError())
	assert.True(t, r.Matches("", "firefox"))
	assert.False(t, r.Matches("firefox", ""))
	assert.False(t, r.Matches("", "firefox-bin"))

	unanchored := newRule("re2", 0, MatchName, MatchRegex, `call`, "voice")
	unanchored.compile()
	assert.True(t, unanchored.Matches("Zoom call window", ""))
}

// A rule whose regex fails to compile never matches anything.
func TestInvalidRegexNeverMatches(t *testing.T) {
	e := NewEngine()
	stored := e.Add(newRule("bad", 0, MatchEither, MatchRegex, "([", "x"))

	var pce *PatternCompileError
	require.ErrorAs(t, stored.CompileError(), &pce)
	assert.Equal(t, "([", pce.Pattern)

	for _, s := range []string{"", "(", "([", "anything"} {
		_, ok := e.Match(s, s)
		assert.False(t, ok, "subject %q", s)
	}
}

func TestMatchTargets(t *testing.T) {
	name := newRule("n", 0, MatchName, MatchExact, "discord", "voice")
	name.compile()
	bin := newRule("b", 0, MatchBinary, MatchExact, "discord", "voice")
	bin.compile()
	either := newRule("e", 0, MatchEither, MatchExact, "discord", "voice")
	either.compile()

	assert.True(t, name.Matches("Discord", "electron"))
	assert.False(t, name.Matches("Electron", "discord"))

	assert.True(t, bin.Matches("Electron", "discord"))
	assert.False(t, bin.Matches("Discord", ""))

	assert.True(t, either.Matches("Discord", ""))
	assert.True(t, either.Matches("Electron", "discord"))
	assert.False(t, either.Matches("Electron", "electron"))
}

// When two enabled rules both match, the one with lower priority wins.
func TestLowerPriorityWins(t *testing.T) {
	e := NewEngine()
	e.Add(newRule("late", 20, MatchName, MatchContains, "fire", "b"))
	e.Add(newRule("early", 10, MatchName, MatchContains, "fox", "a"))

	r, ok := e.Match("firefox", "")
	require.True(t, ok)
	assert.Equal(t, "early", r.ID)
	assert.Equal(t, "a", r.TargetChannel)
}

func TestDisabledRulesAreSkipped(t *testing.T) {
	e := NewEngine()
	e.Add(newRule("first", 1, MatchName, MatchContains, "fox", "a"))
	e.Add(newRule("second", 2, MatchName, MatchContains, "fox", "b"))

	enabled, err := e.Toggle("first")
	require.NoError(t, err)
	assert.False(t, enabled)

	r, ok := e.Match("firefox", "")
	require.True(t, ok)
	assert.Equal(t, "second", r.ID)

	require.NoError(t, e.SetEnabled("second", false))
	_, ok = e.Match("firefox", "")
	assert.False(t, ok)
}

func TestPriorityTableWithDisable(t *testing.T) {
	e := NewEngine()
	e.Add(newRule("comms", 10, MatchEither, MatchContains, "disc", "Comms"))
	e.Add(newRule("game", 20, MatchBinary, MatchExact, "game.exe", "Game"))

	tests := []struct {
		name        string
		disable     string
		subjectName string
		binary      string
		wantOK      bool
		wantChannel string
	}{
		{"either contains", "", "Discord", "discord", true, "Comms"},
		{"binary exact", "", "Anything", "game.exe", true, "Game"},
		{"priority 10 disabled", "comms", "Discord", "discord", false, ""},
		{"other rule still matches", "comms", "Anything", "game.exe", true, "Game"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.disable != "" {
				require.NoError(t, e.SetEnabled(tt.disable, false))
				defer func() { require.NoError(t, e.SetEnabled(tt.disable, true)) }()
			}
			r, ok := e.Match(tt.subjectName, tt.binary)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantChannel, r.TargetChannel)
		})
	}
}

// Rules with equal priority keep their insertion order.
func TestStableOrderForEqualPriority(t *testing.T) {
	e := NewEngine()
	e.Add(newRule("a", 5, MatchName, MatchContains, "x", "1"))
	e.Add(newRule("b", 5, MatchName, MatchContains, "x", "2"))
	e.Add(newRule("c", 1, MatchName, MatchContains, "x", "3"))
	e.Add(newRule("d", 5, MatchName, MatchContains, "x", "4"))

	assert.Equal(t, []string{"c", "a", "b", "d"}, ids(e.Rules()))

	r, ok := e.Match("x", "")
	require.True(t, ok)
	assert.Equal(t, "c", r.ID)
}

// Moving a rule up then down restores the original order.
func TestMoveUpThenDownRestoresOrder(t *testing.T) {
	e := NewEngine()
	e.Add(newRule("a", 1, MatchName, MatchContains, "x", "1"))
	e.Add(newRule("b", 2, MatchName, MatchContains, "x", "2"))
	e.Add(newRule("c", 3, MatchName, MatchContains, "x", "3"))
	before := ids(e.Rules())

	require.NoError(t, e.MoveUp("c"))
	assert.Equal(t, []string{"a", "c", "b"}, ids(e.Rules()))

	require.NoError(t, e.MoveDown("c"))
	assert.Equal(t, before, ids(e.Rules()))

	r, err := e.Get("c")
	require.NoError(t, err)
	assert.Equal(t, 3, r.Priority)
}

func TestMoveWithEqualPrioritiesSwapsPosition(t *testing.T) {
	e := NewEngine()
	e.Add(newRule("a", 1, MatchName, MatchContains, "x", "1"))
	e.Add(newRule("b", 1, MatchName, MatchContains, "x", "2"))

	require.NoError(t, e.MoveDown("a"))
	assert.Equal(t, []string{"b", "a"}, ids(e.Rules()))
	require.NoError(t, e.MoveUp("a"))
	assert.Equal(t, []string{"a", "b"}, ids(e.Rules()))
}

func TestMoveAtEdgesIsNoop(t *testing.T) {
	e := NewEngine()
	e.Add(newRule("a", 1, MatchName, MatchContains, "x", "1"))
	e.Add(newRule("b", 2, MatchName, MatchContains, "x", "2"))

	require.NoError(t, e.MoveUp("a"))
	require.NoError(t, e.MoveDown("b"))
	assert.Equal(t, []string{"a", "b"}, ids(e.Rules()))
}

func TestUnknownRuleErrors(t *testing.T) {
	e := NewEngine()
	assert.ErrorIs(t, e.Remove("nope"), ErrRuleNotFound)
	assert.ErrorIs(t, e.MoveUp("nope"), ErrRuleNotFound)
	assert.ErrorIs(t, e.MoveDown("nope"), ErrRuleNotFound)
	assert.ErrorIs(t, e.SetEnabled("nope", true), ErrRuleNotFound)
	_, err := e.Toggle("nope")
	assert.ErrorIs(t, err, ErrRuleNotFound)
	_, err = e.Get("nope")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestAddGeneratesIDAndRemove(t *testing.T) {
	e := NewEngine()
	r := e.Add(Rule{Enabled: true, Type: MatchContains, Pattern: "x"})
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, 1, e.Len())

	require.NoError(t, e.Remove(r.ID))
	assert.Equal(t, 0, e.Len())
}

func TestReplaceFromPersistedRecords(t *testing.T) {
	raw := `[
		{"id":"r2","name":"browsers","enabled":true,"match_target":"binary","match_type":"glob","pattern":"*fox","target_channel":"web","priority":2},
		{"id":"r1","name":"voice","enabled":true,"match_target":"either","match_type":"regex","pattern":"(?i)discord","target_channel":"chat","priority":1}
	]`
	var rules []Rule
	require.NoError(t, json.Unmarshal([]byte(raw), &rules))

	e := NewEngine()
	e.Replace(rules)
	assert.Equal(t, []string{"r1", "r2"}, ids(e.Rules()))

	r, ok := e.Match("Discord", "")
	require.True(t, ok)
	assert.Equal(t, "chat", r.TargetChannel)

	r, ok = e.Match("Browser", "firefox")
	require.True(t, ok)
	assert.Equal(t, "web", r.TargetChannel)

	out, err := json.Marshal(e.Rules()[1])
	require.NoError(t, err)
	assert.Contains(t, string(out), `"match_target":"binary"`)
	assert.Contains(t, string(out), `"match_type":"glob"`)
}

func TestUnmarshalUnknownEnum(t *testing.T) {
	var kind MatchType
	assert.Error(t, kind.UnmarshalText([]byte("fuzzy")))
	var target MatchTarget
	assert.Error(t, target.UnmarshalText([]byte("pid")))
}
