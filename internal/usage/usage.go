// Package usage implements the UsageRecorder (C9): cost computation from a
// pricing table and append-only recording of per-request token usage.
package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pearlgate/gateway/internal/accounts"
	"github.com/pearlgate/gateway/pkg/models"
)

// ModelPricing is the per-1000-token price for one model, in USD.
type ModelPricing struct {
	InputPer1K  float64 `yaml:"input_per_1k" json:"inputPer1k"`
	OutputPer1K float64 `yaml:"output_per_1k" json:"outputPer1k"`
}

// PricingTable maps provider -> model -> ModelPricing. A "*" model entry
// matches any model not listed explicitly for that provider; a "*" provider
// entry is the last-resort fallback. Either may be omitted, in which case an
// unpriced model costs 0 (treated as free/unknown per the configured table).
type PricingTable map[string]map[string]ModelPricing

// price looks up the price for provider/model, falling back to the
// provider's wildcard, then the table's wildcard provider+model, then free.
func (t PricingTable) price(provider, model string) ModelPricing {
	if byModel, ok := t[provider]; ok {
		if p, ok := byModel[model]; ok {
			return p
		}
		if p, ok := byModel["*"]; ok {
			return p
		}
	}
	if byModel, ok := t["*"]; ok {
		if p, ok := byModel[model]; ok {
			return p
		}
		if p, ok := byModel["*"]; ok {
			return p
		}
	}
	return ModelPricing{}
}

// Cost computes the USD cost of usage against this table.
func (t PricingTable) Cost(provider, model string, u models.Usage) float64 {
	p := t.price(provider, model)
	return float64(u.PromptTokens)/1000*p.InputPer1K + float64(u.CompletionTokens)/1000*p.OutputPer1K
}

// Store appends usage records for later accounting/reporting. Implementations
// must be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, rec models.UsageRecord) error
}

// MemoryStore is an in-process Store backed by a slice, suitable for tests
// and single-process deployments that don't need durable usage history.
type MemoryStore struct {
	mu      sync.RWMutex
	records []models.UsageRecord
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, rec models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of every record appended so far, in append order.
func (s *MemoryStore) Records() []models.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.UsageRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Recorder implements the record(accountId, model, provider, usage,
// metadata) contract: it computes cost, appends a UsageRecord to Store, and
// updates the account's running monthly total via Registry.AddUsage.
type Recorder struct {
	Pricing  PricingTable
	Store    Store
	Registry *accounts.Registry
	Now      func() time.Time
}

// NewRecorder builds a Recorder. now defaults to time.Now.
func NewRecorder(pricing PricingTable, store Store, registry *accounts.Registry, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{Pricing: pricing, Store: store, Registry: registry, Now: now}
}

// Record appends a UsageRecord computed from usage and updates the account's
// current-month spend. Per the recorder's invariant, callers must only
// invoke this once a terminal chunk carrying usage has actually been
// delivered to the caller — never speculatively, and never on cancellation.
func (r *Recorder) Record(ctx context.Context, accountID, provider, model string, u models.Usage, agentID string, metadata map[string]any) (models.UsageRecord, error) {
	now := r.Now()
	cost := r.Pricing.Cost(provider, model, u)

	rec := models.UsageRecord{
		ID:               uuid.NewString(),
		AccountID:        accountID,
		AgentID:          agentID,
		Provider:         provider,
		Model:            model,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		CostUSD:          cost,
		Timestamp:        now,
		Metadata:         metadata,
	}

	if r.Store != nil {
		if err := r.Store.Append(ctx, rec); err != nil {
			return models.UsageRecord{}, fmt.Errorf("usage: append record: %w", err)
		}
	}
	if r.Registry != nil {
		r.Registry.AddUsage(accountID, cost, now)
	}
	return rec, nil
}
