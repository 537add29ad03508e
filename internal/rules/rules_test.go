package rules

import (
	"testing"

	"github.com/pearlgate/gateway/pkg/models"
)

func boolPtr(b bool) *bool { return &b }

func defaultRule(target string) models.Rule {
	return models.Rule{Name: "default", Match: models.MatchConditions{Default: true}, Target: target, Priority: 0}
}

func TestFindMatchingRuleSensitiveWins(t *testing.T) {
	e, err := NewEngine([]models.Rule{
		{Name: "sensitive-local", Match: models.MatchConditions{Sensitive: boolPtr(true)}, Target: "local", Priority: 100},
		defaultRule("sonnet"),
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := Context{Classification: models.Classification{Sensitive: true}}
	r, ok := e.FindMatchingRule(ctx)
	if !ok || r.Name != "sensitive-local" {
		t.Fatalf("expected sensitive-local, got %+v ok=%v", r, ok)
	}
}

func TestFindMatchingRulePriorityTieBreak(t *testing.T) {
	e, err := NewEngine([]models.Rule{
		{Name: "code", Match: models.MatchConditions{Type: models.TypeCode}, Target: "sonnet", Priority: 50},
		{Name: "high-complexity", Match: models.MatchConditions{Complexity: models.ComplexityHigh}, Target: "opus", Priority: 40},
		defaultRule("sonnet"),
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := Context{Classification: models.Classification{Type: models.TypeCode, Complexity: models.ComplexityHigh}}
	r, ok := e.FindMatchingRule(ctx)
	if !ok || r.Name != "code" {
		t.Fatalf("expected code to win on priority, got %+v", r)
	}
}

func TestFindMatchingRuleNoDefaultRejected(t *testing.T) {
	_, err := NewEngine([]models.Rule{
		{Name: "only", Match: models.MatchConditions{Type: models.TypeCode}, Target: "sonnet", Priority: 10},
	})
	if err == nil {
		t.Fatal("expected error for ruleset with no default rule")
	}
}

func TestFindMatchingRuleEstimatedTokensComparator(t *testing.T) {
	e, err := NewEngine([]models.Rule{
		{Name: "small", Match: models.MatchConditions{EstimatedTokens: "<500"}, Target: "haiku", Priority: 10},
		defaultRule("sonnet"),
	})
	if err != nil {
		t.Fatal(err)
	}
	r, ok := e.FindMatchingRule(Context{Classification: models.Classification{EstimatedTokens: 100}})
	if !ok || r.Name != "small" {
		t.Fatalf("expected small, got %+v", r)
	}
	r, ok = e.FindMatchingRule(Context{Classification: models.Classification{EstimatedTokens: 900}})
	if !ok || r.Name != "default" {
		t.Fatalf("expected 900 tokens to miss <500 and fall to default, got %+v", r)
	}
}

func TestFindMatchingRuleAgentGlob(t *testing.T) {
	e, err := NewEngine([]models.Rule{
		{Name: "agent-beta", Match: models.MatchConditions{AgentID: "beta-*"}, Target: "opus", Priority: 10},
		defaultRule("sonnet"),
	})
	if err != nil {
		t.Fatal(err)
	}
	r, ok := e.FindMatchingRule(Context{AgentID: "beta-prod"})
	if !ok || r.Name != "agent-beta" {
		t.Fatalf("expected agent-beta to match, got %+v ok=%v", r, ok)
	}
	r, ok = e.FindMatchingRule(Context{AgentID: "gamma-prod"})
	if !ok || r.Name != "default" {
		t.Fatalf("expected gamma-prod not to match beta-* glob and fall to default, got %+v", r)
	}
}

func TestFindMatchingRuleMetadataExtension(t *testing.T) {
	e, err := NewEngine([]models.Rule{
		{Name: "region-eu", Match: models.MatchConditions{Metadata: map[string]string{"region": "eu"}}, Target: "eu-account", Priority: 10},
		defaultRule("sonnet"),
	})
	if err != nil {
		t.Fatal(err)
	}
	r, ok := e.FindMatchingRule(Context{Metadata: map[string]any{"region": "eu"}})
	if !ok || r.Name != "region-eu" {
		t.Fatalf("expected region-eu, got %+v", r)
	}
	r, ok = e.FindMatchingRule(Context{Metadata: map[string]any{"region": "us"}})
	if !ok || r.Name != "default" {
		t.Fatalf("expected differing metadata value to fall to default, got %+v", r)
	}
}
