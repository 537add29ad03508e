package memory

import (
	"context"
	"testing"
	"time"

	"github.com/pearlgate/gateway/pkg/models"
)

func TestAugmentDedupesAcrossTurns(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := &fakeStore{memories: []*models.Memory{
		{ID: "m1", Type: models.MemoryPreference, Content: "User prefers dark mode", Embedding: []float32{1, 0}, CreatedAt: now},
	}}
	retriever := &Retriever{Store: store, Embedder: &fakeEmbedder{vec: []float32{1, 0}}, Now: func() time.Time { return now }}
	augmenter := &Augmenter{Retriever: retriever, Sessions: NewSessionInjectionSet(1000, time.Hour), Now: func() time.Time { return now }}

	turn1 := []models.Message{{Role: models.RoleUser, Content: "How do I change the UI theme?"}}
	result1 := augmenter.Augment(context.Background(), "agent-1", turn1, AugmentOptions{SessionID: "s1"})
	if len(result1.Injected) != 1 || result1.Injected[0] != "m1" {
		t.Fatalf("expected m1 injected on turn 1, got %+v", result1.Injected)
	}

	turn2 := []models.Message{{Role: models.RoleUser, Content: "Another UI question about theme"}}
	result2 := augmenter.Augment(context.Background(), "agent-1", turn2, AugmentOptions{SessionID: "s1"})
	if len(result2.Injected) != 0 {
		t.Fatalf("expected no injection on turn 2 (already injected), got %+v", result2.Injected)
	}
	if len(result2.Messages) != len(turn2) {
		t.Fatalf("expected messages unchanged on turn 2, got %+v", result2.Messages)
	}
}

func TestAugmentInsertsNewSystemMessageWhenAbsent(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := &fakeStore{memories: []*models.Memory{
		{ID: "m1", Type: models.MemoryDecision, Content: "Use Postgres for storage", Embedding: []float32{1, 0}, CreatedAt: now},
	}}
	retriever := &Retriever{Store: store, Embedder: &fakeEmbedder{vec: []float32{1, 0}}, Now: func() time.Time { return now }}
	augmenter := &Augmenter{Retriever: retriever, Sessions: NewSessionInjectionSet(1000, time.Hour), Now: func() time.Time { return now }}

	messages := []models.Message{{Role: models.RoleUser, Content: "What database should I use?"}}
	result := augmenter.Augment(context.Background(), "agent-1", messages, AugmentOptions{SessionID: "s2"})

	if len(result.Messages) != 2 {
		t.Fatalf("expected a system message prepended, got %+v", result.Messages)
	}
	if result.Messages[0].Role != models.RoleSystem {
		t.Fatalf("expected first message to be system, got %+v", result.Messages[0])
	}
}

func TestAugmentPreservesCallerMessageSlice(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	retriever := &Retriever{Store: &fakeStore{}, Embedder: &fakeEmbedder{vec: []float32{1, 0}}, Now: func() time.Time { return now }}
	augmenter := &Augmenter{Retriever: retriever, Sessions: NewSessionInjectionSet(10, time.Hour), Now: func() time.Time { return now }}

	original := []models.Message{{Role: models.RoleUser, Content: "hi"}}
	_ = augmenter.Augment(context.Background(), "agent-1", original, AugmentOptions{SessionID: "s3"})
	if original[0].Content != "hi" {
		t.Fatalf("caller's message slice was mutated: %+v", original)
	}
}
