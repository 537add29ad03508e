package models

import "time"

// AuthMode identifies how an Account authenticates with its provider.
type AuthMode string

// Supported auth modes.
const (
	AuthAPIKey AuthMode = "apiKey"
	AuthOAuth  AuthMode = "oauth"
)

// Account is a configured backend destination: a provider, its credentials,
// and a monthly budget. Accounts are created at startup from config and
// mutated only by the usage recorder and month rollover.
type Account struct {
	ID       string   `yaml:"id" json:"id"`
	Provider string   `yaml:"provider" json:"provider"` // anthropic, openai, ollama, ...
	Auth     AuthMode `yaml:"auth" json:"auth"`
	// Credential is the API key, or the refresh token when Auth == AuthOAuth.
	Credential string `yaml:"credential" json:"-"`
	BaseURL    string `yaml:"baseUrl,omitempty" json:"baseUrl,omitempty"`

	// TokenURL, ClientID, and ClientSecret configure the OAuth refresh-token
	// exchange used when Auth == AuthOAuth. Unused for AuthAPIKey accounts.
	TokenURL     string `yaml:"tokenUrl,omitempty" json:"-"`
	ClientID     string `yaml:"clientId,omitempty" json:"-"`
	ClientSecret string `yaml:"clientSecret,omitempty" json:"-"`

	BudgetMonthlyUSD *float64 `yaml:"budgetMonthlyUsd,omitempty" json:"budgetMonthlyUsd,omitempty"`
	// UsageCurrentMonthUSD must only be mutated with atomic helpers; see
	// internal/accounts.Registry.
	UsageCurrentMonthUSD float64    `json:"usageCurrentMonthUsd"`
	Enabled              bool       `yaml:"enabled" json:"enabled"`
	LastUsedAt           *time.Time `json:"lastUsedAt,omitempty"`
}

// OverBudget reports whether the account has exhausted its monthly budget.
func (a *Account) OverBudget() bool {
	if a == nil || a.BudgetMonthlyUSD == nil {
		return false
	}
	return a.UsageCurrentMonthUSD >= *a.BudgetMonthlyUSD
}

// BudgetFraction returns usage/budget, or 0 if no budget is configured.
func (a *Account) BudgetFraction() float64 {
	if a == nil || a.BudgetMonthlyUSD == nil || *a.BudgetMonthlyUSD <= 0 {
		return 0
	}
	return a.UsageCurrentMonthUSD / *a.BudgetMonthlyUSD
}

// UsageRecord is an append-only record of one request's token usage and cost.
type UsageRecord struct {
	ID               string         `json:"id"`
	AccountID        string         `json:"accountId"`
	AgentID          string         `json:"agentId,omitempty"`
	Provider         string         `json:"provider"`
	Model            string         `json:"model"`
	PromptTokens     int            `json:"promptTokens"`
	CompletionTokens int            `json:"completionTokens"`
	TotalTokens      int            `json:"totalTokens"`
	CostUSD          float64        `json:"costUsd"`
	Timestamp        time.Time      `json:"timestamp"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// RoutingResult is the outcome of AccountRouter.Route.
type RoutingResult struct {
	Account  *Account
	Rule     string
	Fallback bool
	Reason   string
	Warning  string
}
