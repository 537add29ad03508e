package usage

import (
	"context"
	"testing"
	"time"

	"github.com/pearlgate/gateway/internal/accounts"
	"github.com/pearlgate/gateway/pkg/models"
)

func TestPricingTableCost(t *testing.T) {
	table := PricingTable{
		"anthropic": {
			"claude-haiku-4-20250514": {InputPer1K: 0.001, OutputPer1K: 0.005},
			"*":                       {InputPer1K: 0.01, OutputPer1K: 0.03},
		},
		"ollama": {
			"*": {InputPer1K: 0, OutputPer1K: 0},
		},
	}

	tests := []struct {
		name     string
		provider string
		model    string
		usage    models.Usage
		expected float64
	}{
		{"exact model match", "anthropic", "claude-haiku-4-20250514", models.Usage{PromptTokens: 1000, CompletionTokens: 1000}, 0.006},
		{"provider wildcard", "anthropic", "claude-opus-4-20250514", models.Usage{PromptTokens: 1000, CompletionTokens: 1000}, 0.04},
		{"free provider", "ollama", "llama3", models.Usage{PromptTokens: 1000, CompletionTokens: 1000}, 0},
		{"unpriced provider", "mystery", "model-x", models.Usage{PromptTokens: 1000, CompletionTokens: 1000}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := table.Cost(tt.provider, tt.model, tt.usage)
			if got != tt.expected {
				t.Errorf("expected cost %.4f, got %.4f", tt.expected, got)
			}
		})
	}
}

func TestRecorderAppendsAndUpdatesAccountSpend(t *testing.T) {
	budget := 100.0
	acct := &models.Account{ID: "acct-1", Provider: "anthropic", Enabled: true, BudgetMonthlyUSD: &budget}
	registry := accounts.NewRegistry([]*models.Account{acct})
	store := NewMemoryStore()
	fixed := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	rec := NewRecorder(PricingTable{
		"anthropic": {"*": {InputPer1K: 0.01, OutputPer1K: 0.03}},
	}, store, registry, func() time.Time { return fixed })

	got, err := rec.Record(context.Background(), "acct-1", "anthropic", "claude-opus-4-20250514",
		models.Usage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500}, "agent-1", nil)
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if got.CostUSD != 0.025 {
		t.Fatalf("expected cost 0.025, got %.4f", got.CostUSD)
	}
	if got.ID == "" {
		t.Fatal("expected a generated record ID")
	}

	records := store.Records()
	if len(records) != 1 {
		t.Fatalf("expected 1 appended record, got %d", len(records))
	}

	updated := registry.Get("acct-1")
	if updated.UsageCurrentMonthUSD != 0.025 {
		t.Fatalf("expected account spend 0.025, got %.4f", updated.UsageCurrentMonthUSD)
	}
	if updated.LastUsedAt == nil || !updated.LastUsedAt.Equal(fixed) {
		t.Fatalf("expected lastUsedAt to be updated to the fixed clock time")
	}
}

func TestRecorderAccumulatesAcrossMultipleRecords(t *testing.T) {
	acct := &models.Account{ID: "acct-1", Provider: "openai", Enabled: true}
	registry := accounts.NewRegistry([]*models.Account{acct})
	store := NewMemoryStore()

	rec := NewRecorder(PricingTable{
		"openai": {"*": {InputPer1K: 0.005, OutputPer1K: 0.015}},
	}, store, registry, nil)

	for i := 0; i < 3; i++ {
		if _, err := rec.Record(context.Background(), "acct-1", "openai", "gpt-4o", models.Usage{PromptTokens: 1000, CompletionTokens: 1000}, "", nil); err != nil {
			t.Fatalf("Record returned error: %v", err)
		}
	}

	updated := registry.Get("acct-1")
	expected := 3 * (0.005 + 0.015)
	if updated.UsageCurrentMonthUSD != expected {
		t.Fatalf("expected accumulated spend %.4f, got %.4f", expected, updated.UsageCurrentMonthUSD)
	}
	if len(store.Records()) != 3 {
		t.Fatalf("expected 3 records, got %d", len(store.Records()))
	}
}
