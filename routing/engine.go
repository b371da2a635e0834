// Package routing decides which channel a newly discovered audio producer
// is sent to.
//
// Rules are kept sorted by ascending priority with a stable sort, so rules
// sharing a priority keep their relative order. The first enabled rule that
// matches wins; when none matches the producer stays unassigned.
package routing

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Engine holds the ordered rule list. All methods are safe for concurrent use;
// none of them run on an audio thread.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewEngine creates an empty rule engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Add inserts a rule and re-sorts the list. A missing ID is generated.
// A pattern that fails to compile is not an error here: the rule is kept,
// logged, and never matches. The stored rule is returned.
func (e *Engine) Add(rule Rule) Rule {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.compile()
	logCompileError(rule)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = append(e.rules, rule)
	e.sortLocked()

	logrus.WithFields(logrus.Fields{
		"function": "Engine.Add",
		"rule_id":  rule.ID,
		"pattern":  rule.Pattern,
		"type":     rule.Type.String(),
		"target":   rule.TargetChannel,
		"priority": rule.Priority,
	}).Debug("Routing rule added")

	return rule
}

// Replace swaps the whole list for rules, typically restored from
// persisted records. Input order is kept for equal priorities.
func (e *Engine) Replace(rules []Rule) {
	next := make([]Rule, len(rules))
	for i, r := range rules {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		r.compile()
		logCompileError(r)
		next[i] = r
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = next
	e.sortLocked()

	logrus.WithFields(logrus.Fields{
		"function": "Engine.Replace",
		"count":    len(next),
	}).Info("Routing rules replaced")
}

// Remove deletes the rule with the given id.
func (e *Engine) Remove(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	e.rules = append(e.rules[:i], e.rules[i+1:]...)
	return nil
}

// Toggle flips the enabled flag of a rule and returns the new value.
func (e *Engine) Toggle(id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.indexLocked(id)
	if i < 0 {
		return false, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	e.rules[i].Enabled = !e.rules[i].Enabled
	return e.rules[i].Enabled, nil
}

// SetEnabled sets the enabled flag of a rule.
func (e *Engine) SetEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	e.rules[i].Enabled = enabled
	return nil
}

// MoveUp swaps a rule's priority with the rule before it. The first rule
// stays where it is.
func (e *Engine) MoveUp(id string) error {
	return e.move(id, -1)
}

// MoveDown swaps a rule's priority with the rule after it. The last rule
// stays where it is.
func (e *Engine) MoveDown(id string) error {
	return e.move(id, 1)
}

func (e *Engine) move(id string, delta int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	j := i + delta
	if j < 0 || j >= len(e.rules) {
		return nil
	}

	if e.rules[i].Priority == e.rules[j].Priority {
		// Equal priorities: the list position is the only order, swap it.
		e.rules[i], e.rules[j] = e.rules[j], e.rules[i]
		return nil
	}
	e.rules[i].Priority, e.rules[j].Priority = e.rules[j].Priority, e.rules[i].Priority
	e.sortLocked()
	return nil
}

// Match returns the first enabled rule matching the producer.
func (e *Engine) Match(name, binary string) (Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, r := range e.rules {
		if r.Matches(name, binary) {
			return r, true
		}
	}
	return Rule{}, false
}

// Get returns the rule with the given id.
func (e *Engine) Get(id string) (Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	i := e.indexLocked(id)
	if i < 0 {
		return Rule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return e.rules[i], nil
}

// Rules returns a copy of the ordered rule list.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Len returns the number of rules.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

func (e *Engine) sortLocked() {
	sort.SliceStable(e.rules, func(a, b int) bool {
		return e.rules[a].Priority < e.rules[b].Priority
	})
}

func (e *Engine) indexLocked(id string) int {
	for i := range e.rules {
		if e.rules[i].ID == id {
			return i
		}
	}
	return -1
}

func logCompileError(r Rule) {
	if r.compileErr == nil {
		return
	}
	var pce *PatternCompileError
	fields := logrus.Fields{
		"function": "Engine.compile",
		"rule_id":  r.ID,
		"pattern":  r.Pattern,
		"error":    r.compileErr.Error(),
	}
	if errors.As(r.compileErr, &pce) {
		fields["type"] = pce.Type.String()
	}
	logrus.WithFields(fields).Warn("Routing rule pattern does not compile, rule will never match")
}
