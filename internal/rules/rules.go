// Package rules implements the priority rule engine (C2): given a
// Classification and request metadata, find the highest-priority Rule whose
// match conditions are satisfied.
package rules

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pearlgate/gateway/pkg/models"
)

// Context is what a Rule's MatchConditions is evaluated against.
type Context struct {
	Classification models.Classification
	AgentID        string
	Metadata       map[string]any
}

// Engine holds a mutable, priority-sorted rule set. Safe for concurrent use.
type Engine struct {
	mu    sync.RWMutex
	rules []models.Rule
	next  int
}

// NewEngine builds an Engine from an initial rule set, validating that
// exactly one default rule exists.
func NewEngine(initial []models.Rule) (*Engine, error) {
	e := &Engine{}
	for _, r := range initial {
		if err := e.Add(r); err != nil {
			return nil, err
		}
	}
	if err := e.validateExactlyOneDefault(); err != nil {
		return nil, err
	}
	return e, nil
}

// Add appends a rule, assigns it the next insertion index, and re-sorts.
func (e *Engine) Add(r models.Rule) error {
	if r.Name == "" {
		return fmt.Errorf("rules: rule must have a name")
	}
	if _, err := compileTokenComparator(r.Match.EstimatedTokens); err != nil {
		return fmt.Errorf("rules: rule %q: %w", r.Name, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r = r.WithInsertionIndex(e.next)
	e.next++
	e.rules = append(e.rules, r)
	e.resort()
	return nil
}

// Remove deletes the named rule, if present.
func (e *Engine) Remove(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.rules[:0]
	for _, r := range e.rules {
		if r.Name != name {
			out = append(out, r)
		}
	}
	e.rules = out
}

// Rules returns a snapshot of the current rule set, in evaluation order.
func (e *Engine) Rules() []models.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

func (e *Engine) resort() {
	sort.SliceStable(e.rules, func(i, j int) bool {
		if e.rules[i].Priority != e.rules[j].Priority {
			return e.rules[i].Priority > e.rules[j].Priority
		}
		return e.rules[i].InsertionIndex() < e.rules[j].InsertionIndex()
	})
}

func (e *Engine) validateExactlyOneDefault() error {
	count := 0
	for _, r := range e.rules {
		if r.Match.Default {
			count++
		}
	}
	if count != 1 {
		return fmt.Errorf("rules: ruleset must contain exactly one default:true rule, found %d", count)
	}
	return nil
}

// FindMatchingRule returns the highest-priority rule whose match conditions
// are satisfied by ctx, or ok=false if none match (callers fall back to the
// ruleset's default rule).
func (e *Engine) FindMatchingRule(ctx Context) (models.Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.rules {
		if matches(r.Match, ctx) {
			return r, true
		}
	}
	return models.Rule{}, false
}

// matches evaluates whether every declared field of m holds for ctx. All
// declared fields are ANDed; undeclared (zero-value) fields are ignored.
func matches(m models.MatchConditions, ctx Context) bool {
	if m.Default {
		return true
	}
	if m.Sensitive != nil && *m.Sensitive != ctx.Classification.Sensitive {
		return false
	}
	if m.AgentID != "" && !globMatch(m.AgentID, ctx.AgentID) {
		return false
	}
	if m.Type != "" && m.Type != ctx.Classification.Type {
		return false
	}
	if m.Complexity != "" && m.Complexity != ctx.Classification.Complexity {
		return false
	}
	if m.EstimatedTokens != "" {
		cmp, err := compileTokenComparator(m.EstimatedTokens)
		if err != nil || !cmp(ctx.Classification.EstimatedTokens) {
			return false
		}
	}
	for key, want := range m.Metadata {
		got, ok := ctx.Metadata[key]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", got) != want {
			return false
		}
	}
	return true
}

// globMatch supports '*' and '?' wildcards, anchored to the full string.
func globMatch(pattern, value string) bool {
	ok, err := filepath.Match(pattern, value)
	return err == nil && ok
}

// compileTokenComparator parses the grammar "<N | <=N | >N | >=N | =N | N"
// into a predicate over an estimatedTokens value.
func compileTokenComparator(spec string) (func(int) bool, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return func(int) bool { return true }, nil
	}

	op := "="
	rest := spec
	switch {
	case strings.HasPrefix(spec, "<="):
		op, rest = "<=", spec[2:]
	case strings.HasPrefix(spec, ">="):
		op, rest = ">=", spec[2:]
	case strings.HasPrefix(spec, "<"):
		op, rest = "<", spec[1:]
	case strings.HasPrefix(spec, ">"):
		op, rest = ">", spec[1:]
	case strings.HasPrefix(spec, "="):
		op, rest = "=", spec[1:]
	}

	n, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return nil, fmt.Errorf("invalid estimatedTokens comparator %q: %w", spec, err)
	}

	switch op {
	case "<":
		return func(v int) bool { return v < n }, nil
	case "<=":
		return func(v int) bool { return v <= n }, nil
	case ">":
		return func(v int) bool { return v > n }, nil
	case ">=":
		return func(v int) bool { return v >= n }, nil
	default:
		return func(v int) bool { return v == n }, nil
	}
}
