package providers

import (
	"testing"

	"github.com/pearlgate/gateway/pkg/models"
)

func TestSplitSystemMessageExtractsFirstSystemMessage(t *testing.T) {
	in := []models.Message{
		{Role: models.RoleSystem, Content: "be concise"},
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
	}
	system, rest := splitSystemMessage(in)
	if system != "be concise" {
		t.Fatalf("expected system message %q, got %q", "be concise", system)
	}
	if len(rest) != 2 || rest[0].Role != models.RoleUser || rest[1].Role != models.RoleAssistant {
		t.Fatalf("expected system message removed from remaining messages, got %+v", rest)
	}
}

func TestSplitSystemMessageNoSystemMessage(t *testing.T) {
	in := []models.Message{
		{Role: models.RoleUser, Content: "hi"},
	}
	system, rest := splitSystemMessage(in)
	if system != "" {
		t.Fatalf("expected empty system message, got %q", system)
	}
	if len(rest) != 1 {
		t.Fatalf("expected unmodified message list, got %+v", rest)
	}
}

func TestSplitSystemMessageExtractsNonLeadingSystemMessage(t *testing.T) {
	in := []models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleSystem, Content: "ignored, not first"},
	}
	system, rest := splitSystemMessage(in)
	if system != "ignored, not first" {
		t.Fatalf("expected the only system message to be extracted regardless of position, got %q", system)
	}
	if len(rest) != 1 || rest[0].Role != models.RoleUser {
		t.Fatalf("expected remaining messages to exclude the system message, got %+v", rest)
	}
}

func TestConvertAnthropicMessagesPreservesCount(t *testing.T) {
	in := []models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
		{Role: models.RoleUser, Content: "how are you"},
	}
	out := convertAnthropicMessages(in)
	if len(out) != len(in) {
		t.Fatalf("expected %d converted messages, got %d", len(in), len(out))
	}
}

func TestConvertAnthropicMessagesHandlesEmptyInput(t *testing.T) {
	out := convertAnthropicMessages(nil)
	if len(out) != 0 {
		t.Fatalf("expected no messages, got %d", len(out))
	}
}

func TestAnthropicProviderNameAndModels(t *testing.T) {
	p := NewAnthropicProvider("test-key", "")
	if p.Name() != "anthropic" {
		t.Fatalf("expected provider name %q, got %q", "anthropic", p.Name())
	}
	models := p.Models()
	if len(models) == 0 {
		t.Fatal("expected at least one model")
	}
	for _, m := range models {
		if m.OwnedBy != "anthropic" {
			t.Errorf("model %s: expected owned_by anthropic, got %q", m.ID, m.OwnedBy)
		}
	}
}

func TestAnthropicProviderAcceptsCustomBaseURL(t *testing.T) {
	p := NewAnthropicProvider("test-key", "https://custom.example.com")
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
}
