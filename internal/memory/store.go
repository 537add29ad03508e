// Package memory implements the MemoryRetriever (C5) and PromptAugmenter
// (C6): embedding-based semantic recall over an agent's stored memories,
// folded into the outbound system message with per-session dedupe.
package memory

import (
	"context"

	"github.com/pearlgate/gateway/pkg/models"
)

// Store is the narrow collaborator interface the retriever consumes; it is
// implemented by the persistent memory backend (out of core scope).
type Store interface {
	Query(ctx context.Context, filter models.MemoryFilter) ([]*models.Memory, error)
	RecordAccess(ctx context.Context, ids []string) error
}

// Embedder is the narrow collaborator interface for the embedding service.
// Embed may fail; failures are non-fatal to the pipeline.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
