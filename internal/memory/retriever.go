package memory

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/pearlgate/gateway/pkg/models"
)

// DefaultTypeWeights are the per-type multipliers from spec §4.5.
func DefaultTypeWeights() map[models.MemoryType]float64 {
	return map[models.MemoryType]float64{
		models.MemoryRule:         1.5,
		models.MemoryDecision:     1.3,
		models.MemoryPreference:   1.2,
		models.MemoryFact:         1.0,
		models.MemoryHealth:       1.0,
		models.MemoryRelationship: 1.0,
		models.MemoryReminder:     0.8,
	}
}

const defaultRecencyHalfLife = 168 * time.Hour

// RetrieveOptions configures a single Retrieve call.
type RetrieveOptions struct {
	Types         []models.MemoryType
	TypeWeights   map[models.MemoryType]float64
	RecencyBoost  bool
	HalfLife      time.Duration
	MinScore      float64
	Limit         int
	TokenBudget   int
	RecordAccess  bool
}

// withDefaults fills zero-valued fields with the spec's defaults.
func (o RetrieveOptions) withDefaults() RetrieveOptions {
	if o.TypeWeights == nil {
		o.TypeWeights = DefaultTypeWeights()
	}
	if o.HalfLife <= 0 {
		o.HalfLife = defaultRecencyHalfLife
	}
	if o.MinScore <= 0 {
		o.MinScore = 0.3
	}
	if o.Limit <= 0 {
		o.Limit = 10
	}
	return o
}

// Retriever implements MemoryRetriever (C5).
type Retriever struct {
	Store    Store
	Embedder Embedder
	Now      func() time.Time
}

// Retrieve embeds query, ranks agentId's memories by cosine similarity
// weighted by type and recency, and returns the top results within budget.
func (r *Retriever) Retrieve(ctx context.Context, agentID, query string, opts RetrieveOptions) []models.ScoredMemory {
	opts = opts.withDefaults()
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	queryEmb, err := r.Embedder.Embed(ctx, query)
	if err != nil {
		return nil
	}

	candidates, err := r.Store.Query(ctx, models.MemoryFilter{AgentID: agentID, Types: opts.Types})
	if err != nil {
		return nil
	}

	scored := make([]models.ScoredMemory, 0, len(candidates))
	for _, m := range candidates {
		if len(m.Embedding) == 0 {
			continue
		}
		sim := cosineSimilarity(queryEmb, m.Embedding)
		weight, ok := opts.TypeWeights[m.Type]
		if !ok {
			weight = 1.0
		}
		recency := 1.0
		if opts.RecencyBoost {
			recency = recencyFactor(m.CreatedAt, now(), opts.HalfLife)
		}
		score := float64(sim) * weight * recency
		if score < opts.MinScore {
			continue
		}
		scored = append(scored, models.ScoredMemory{Memory: m, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > opts.Limit {
		scored = scored[:opts.Limit]
	}

	selected := applyTokenBudget(scored, opts.TokenBudget)

	if opts.RecordAccess && len(selected) > 0 {
		ids := make([]string, len(selected))
		for i, sm := range selected {
			ids[i] = sm.Memory.ID
		}
		_ = r.Store.RecordAccess(ctx, ids)
		accessedAt := now()
		for _, sm := range selected {
			sm.Memory.AccessCount++
			sm.Memory.AccessedAt = &accessedAt
		}
	}

	return selected
}

// applyTokenBudget greedily accumulates scored memories (already sorted
// highest-score first) until the token budget would be exceeded. The first
// result is always kept, even when it alone exceeds the budget.
func applyTokenBudget(scored []models.ScoredMemory, tokenBudget int) []models.ScoredMemory {
	if tokenBudget <= 0 {
		return scored
	}
	var out []models.ScoredMemory
	used := 0
	for _, sm := range scored {
		cost := estimateTokens(sm.Memory.Content)
		if used+cost > tokenBudget {
			if len(out) == 0 {
				out = append(out, sm)
			}
			break
		}
		used += cost
		out = append(out, sm)
	}
	return out
}

func estimateTokens(content string) int {
	return int(math.Ceil(float64(len(content)) / 4.0))
}

func recencyFactor(createdAt, now time.Time, halfLife time.Duration) float64 {
	age := now.Sub(createdAt)
	if age < 0 {
		age = 0
	}
	exponent := -float64(age) / float64(halfLife)
	return 0.7 + 0.3*math.Pow(2, exponent)
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (sqrt32(normA) * sqrt32(normB))
}

func sqrt32(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}
