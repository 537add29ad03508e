package memory

import (
	"context"
	"testing"
	"time"

	"github.com/pearlgate/gateway/pkg/models"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

type fakeStore struct {
	memories []*models.Memory
}

func (f *fakeStore) Query(ctx context.Context, filter models.MemoryFilter) ([]*models.Memory, error) {
	return f.memories, nil
}

func (f *fakeStore) RecordAccess(ctx context.Context, ids []string) error { return nil }

func TestRetrieveRanksByScoreAndAppliesMinScore(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := &fakeStore{memories: []*models.Memory{
		{ID: "m1", Type: models.MemoryFact, Content: "user likes dark mode", Embedding: []float32{1, 0}, CreatedAt: now},
		{ID: "m2", Type: models.MemoryFact, Content: "unrelated note", Embedding: []float32{0, 1}, CreatedAt: now},
	}}
	r := &Retriever{Store: store, Embedder: &fakeEmbedder{vec: []float32{1, 0}}, Now: func() time.Time { return now }}

	result := r.Retrieve(context.Background(), "agent-1", "dark mode preference", RetrieveOptions{})
	if len(result) != 1 || result[0].Memory.ID != "m1" {
		t.Fatalf("expected only m1 to pass minScore, got %+v", result)
	}
}

func TestRetrieveEmbedFailureReturnsEmpty(t *testing.T) {
	r := &Retriever{Store: &fakeStore{}, Embedder: &fakeEmbedder{err: context.DeadlineExceeded}}
	result := r.Retrieve(context.Background(), "agent-1", "query", RetrieveOptions{})
	if result != nil {
		t.Fatalf("expected nil on embed failure, got %+v", result)
	}
}

func TestRetrieveTokenBudgetKeepsAtLeastOne(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	longContent := ""
	for i := 0; i < 200; i++ {
		longContent += "word "
	}
	store := &fakeStore{memories: []*models.Memory{
		{ID: "m1", Type: models.MemoryFact, Content: longContent, Embedding: []float32{1, 0}, CreatedAt: now},
	}}
	r := &Retriever{Store: store, Embedder: &fakeEmbedder{vec: []float32{1, 0}}, Now: func() time.Time { return now }}
	result := r.Retrieve(context.Background(), "agent-1", "query", RetrieveOptions{TokenBudget: 5})
	if len(result) != 1 {
		t.Fatalf("expected at least one result kept despite exceeding budget, got %d", len(result))
	}
}

func TestCosineSimilarityIdentical(t *testing.T) {
	a := []float32{1, 2, 3}
	if sim := cosineSimilarity(a, a); sim < 0.99 {
		t.Fatalf("expected ~1.0 similarity for identical vectors, got %f", sim)
	}
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	if sim := cosineSimilarity(a, b); sim > 0.01 || sim < -0.01 {
		t.Fatalf("expected ~0 similarity for orthogonal vectors, got %f", sim)
	}
}
