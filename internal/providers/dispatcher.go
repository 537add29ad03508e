package providers

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pearlgate/gateway/pkg/models"
)

const defaultDeadline = 30 * time.Second

// Dispatcher parses "<provider>/<name>" model strings, selects the
// registered adapter, and streams the completion with retry/backoff.
type Dispatcher struct {
	providers map[string]Provider
	policy    RetryPolicy
	deadline  time.Duration
	sleep     func(time.Duration)
}

// NewDispatcher builds a Dispatcher over a set of registered providers,
// keyed by their Name().
func NewDispatcher(registered []Provider, policy RetryPolicy) *Dispatcher {
	m := make(map[string]Provider, len(registered))
	for _, p := range registered {
		m[p.Name()] = p
	}
	return &Dispatcher{providers: m, policy: policy, deadline: defaultDeadline, sleep: time.Sleep}
}

// WithDeadline overrides the per-request deadline (e.g. longer for local
// models).
func (d *Dispatcher) WithDeadline(deadline time.Duration) *Dispatcher {
	d.deadline = deadline
	return d
}

// ParseModel splits "<provider>/<name>" into its two parts.
func ParseModel(model string) (provider, name string, err error) {
	idx := strings.IndexByte(model, '/')
	if idx < 0 {
		return "", "", fmt.Errorf("providers: model %q is missing a \"<provider>/<name>\" prefix", model)
	}
	return model[:idx], model[idx+1:], nil
}

// Chat parses req.Model, selects the adapter, and returns its chunk stream,
// retrying retryable failures before the stream begins per spec §4.7.
// Once streaming has started, mid-stream errors are surfaced as a failed
// terminal send rather than retried (the dispatcher cannot safely replay
// partially-consumed output).
func (d *Dispatcher) Chat(ctx context.Context, req *models.ChatRequest) (<-chan *models.ChatChunk, error) {
	providerName, modelName, err := ParseModel(req.Model)
	if err != nil {
		return nil, err
	}
	provider, ok := d.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("providers: unknown provider %q", providerName)
	}

	ctx, cancel := context.WithTimeout(ctx, d.deadline)

	retries := d.policy.Retries
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if ctx.Err() != nil {
			cancel()
			return nil, ctx.Err()
		}
		stream, err := provider.Complete(ctx, modelName, req)
		if err == nil {
			return wrapWithCancel(ctx, stream, cancel), nil
		}
		lastErr = err
		if !IsRetryable(err) {
			cancel()
			return nil, err
		}
		wait := backoffDelay(d.policy, attempt)
		if pe, ok := GetProviderError(err); ok && pe.RetryAfter > 0 {
			wait = time.Duration(pe.RetryAfter) * time.Second
		}
		select {
		case <-ctx.Done():
			cancel()
			return nil, ctx.Err()
		default:
			d.sleep(wait)
		}
	}
	cancel()
	return nil, lastErr
}

// wrapWithCancel ensures the context is released once the adapter's stream
// closes or the caller disconnects (ctx cancelled), regardless of how the
// stream ends.
func wrapWithCancel(ctx context.Context, in <-chan *models.ChatChunk, cancel context.CancelFunc) <-chan *models.ChatChunk {
	out := make(chan *models.ChatChunk)
	go func() {
		defer close(out)
		defer cancel()
		for {
			select {
			case chunk, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// backoffDelay computes exponential backoff with the configured base,
// factor, and cap.
func backoffDelay(policy RetryPolicy, attempt int) time.Duration {
	base, factor, ceiling := policy.Base, policy.Factor, policy.Cap
	if base <= 0 {
		base = 1
	}
	if factor <= 1 {
		factor = 2
	}
	if ceiling <= 0 {
		ceiling = 10
	}
	delay := base * math.Pow(factor, float64(attempt))
	if delay > ceiling {
		delay = ceiling
	}
	return time.Duration(delay * float64(time.Second))
}

// Health reports whether every registered provider is reachable.
func (d *Dispatcher) Health(ctx context.Context) bool {
	for _, p := range d.providers {
		if !p.Health(ctx) {
			return false
		}
	}
	return true
}

// Models returns the union of every registered provider's models, prefixed
// with "<provider>/".
func (d *Dispatcher) Models() []models.Model {
	var out []models.Model
	for name, p := range d.providers {
		for _, m := range p.Models() {
			m.ID = name + "/" + m.ID
			out = append(out, m)
		}
	}
	return out
}
