// Package accounts implements the AccountRouter (C3): applies the rule
// engine's chosen rule against the account registry, enforcing monthly
// budgets and fallbacks.
package accounts

import (
	"fmt"
	"sync"
	"time"

	"github.com/pearlgate/gateway/internal/rules"
	"github.com/pearlgate/gateway/pkg/models"
)

// ErrBudgetExhausted is returned when strict routing finds no account
// within budget.
type ErrBudgetExhausted struct {
	AccountID string
}

func (e *ErrBudgetExhausted) Error() string {
	return fmt.Sprintf("accounts: account %q is over its monthly budget", e.AccountID)
}

// Options configures a single Route call.
type Options struct {
	RespectBudget bool
	Strict        bool
}

// Registry holds the configured accounts and owns atomic mutation of their
// usage totals. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
}

// NewRegistry builds a Registry from a set of accounts, keyed by ID.
func NewRegistry(initial []*models.Account) *Registry {
	reg := &Registry{accounts: make(map[string]*models.Account, len(initial))}
	for _, a := range initial {
		reg.accounts[a.ID] = a
	}
	return reg
}

// Get returns the account with the given ID, or nil if absent.
func (reg *Registry) Get(id string) *models.Account {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.accounts[id]
}

// AddUsage atomically increments an account's current-month usage and
// updates lastUsedAt. It is the only writer of Account.UsageCurrentMonthUSD.
func (reg *Registry) AddUsage(id string, costUSD float64, now time.Time) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	a, ok := reg.accounts[id]
	if !ok {
		return
	}
	a.UsageCurrentMonthUSD += costUSD
	a.LastUsedAt = &now
}

// ResetMonthlyUsage zeroes UsageCurrentMonthUSD for every account, called at
// a month-rollover boundary.
func (reg *Registry) ResetMonthlyUsage() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, a := range reg.accounts {
		a.UsageCurrentMonthUSD = 0
	}
}

// Router routes a classified request to a specific backend account.
type Router struct {
	Engine   *rules.Engine
	Registry *Registry
	Now      func() time.Time
}

// Route resolves ctx to a RoutingResult, applying budget checks and
// fallback per spec §4.3.
func (r *Router) Route(ctx rules.Context, opts Options) (models.RoutingResult, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	rule, matched := r.Engine.FindMatchingRule(ctx)
	ruleName := rule.Name
	if !matched {
		rule, matched = findDefaultRule(r.Engine)
		if !matched {
			return models.RoutingResult{}, fmt.Errorf("accounts: no matching rule and no default rule configured")
		}
		ruleName = "fallback-default"
	}

	account := r.Registry.Get(rule.Target)
	if account == nil {
		return models.RoutingResult{}, fmt.Errorf("accounts: rule %q targets unknown account %q", ruleName, rule.Target)
	}

	result := models.RoutingResult{Account: account, Rule: ruleName}

	if opts.RespectBudget && account.BudgetMonthlyUSD != nil && account.UsageCurrentMonthUSD >= *account.BudgetMonthlyUSD {
		if rule.Fallback != "" {
			if fallback := r.Registry.Get(rule.Fallback); fallback != nil && fallback.Enabled && !fallback.OverBudget() {
				result.Account = fallback
				result.Fallback = true
				result.Reason = "primary over budget"
				account = fallback
			}
		}
		if result.Account == account && account.OverBudget() {
			if opts.Strict {
				return models.RoutingResult{}, &ErrBudgetExhausted{AccountID: account.ID}
			}
			result.Warning = "over budget"
		}
	}

	if !result.Account.Enabled {
		return models.RoutingResult{}, fmt.Errorf("accounts: account %q is disabled", result.Account.ID)
	}

	if result.Warning == "" && result.Account.BudgetFraction() > 0.80 {
		result.Warning = "approaching budget"
	}

	r.Registry.mu.Lock()
	result.Account.LastUsedAt = timePtr(now())
	r.Registry.mu.Unlock()

	return result, nil
}

func findDefaultRule(e *rules.Engine) (models.Rule, bool) {
	for _, r := range e.Rules() {
		if r.Match.Default {
			return r, true
		}
	}
	return models.Rule{}, false
}

func timePtr(t time.Time) *time.Time { return &t }
