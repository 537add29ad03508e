// Package providers implements the BackendDispatcher (C7): per-provider wire
// adapters behind a single Provider interface, selected by the
// "<provider>/<name>" model prefix.
package providers

import (
	"context"

	"github.com/pearlgate/gateway/pkg/models"
)

// Provider is the interface every backend adapter implements. Complete is
// lazy and single-pass: the returned channel is closed after the terminal
// chunk, or early (with no terminal chunk) on context cancellation.
type Provider interface {
	// Name returns the provider's registry key, e.g. "anthropic".
	Name() string

	// Complete streams a chat completion. model has already had the
	// "<provider>/" prefix stripped.
	Complete(ctx context.Context, model string, req *models.ChatRequest) (<-chan *models.ChatChunk, error)

	// Models lists the provider's available models.
	Models() []models.Model

	// Health reports whether the provider is currently reachable.
	Health(ctx context.Context) bool
}

// RetryPolicy configures BackendDispatcher's retry/backoff behavior,
// grounded on spec §4.7: base=1s, factor=2, cap=10s.
type RetryPolicy struct {
	Base    float64 // seconds
	Factor  float64
	Cap     float64 // seconds
	Retries int
}

// DefaultRetryPolicy is the spec's default.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 1.0, Factor: 2.0, Cap: 10.0, Retries: 3}
}
