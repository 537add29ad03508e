package models

import "time"

// MemoryType classifies a stored long-term memory.
type MemoryType string

// Supported memory types, used both for retrieval type weighting and for
// the prompt augmenter's label rendering.
const (
	MemoryFact         MemoryType = "fact"
	MemoryPreference   MemoryType = "preference"
	MemoryRule         MemoryType = "rule"
	MemoryDecision     MemoryType = "decision"
	MemoryHealth       MemoryType = "health"
	MemoryReminder     MemoryType = "reminder"
	MemoryRelationship MemoryType = "relationship"
)

// Memory is a persisted, semantically indexed note scoped to an agent. The
// retriever holds read-only references; the store owns the record.
type Memory struct {
	ID            string     `json:"id"`
	AgentID       string     `json:"agentId"`
	Type          MemoryType `json:"type"`
	Content       string     `json:"content"`
	Tags          []string   `json:"tags,omitempty"`
	Embedding     []float32  `json:"-"`
	Confidence    *float64   `json:"confidence,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	AccessedAt    *time.Time `json:"accessedAt,omitempty"`
	AccessCount   int        `json:"accessCount"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	SourceSession string     `json:"sourceSession,omitempty"`
}

// ScoredMemory pairs a Memory with its retrieval score. Transient.
type ScoredMemory struct {
	Memory *Memory
	Score  float64
}

// MemoryFilter restricts a MemoryStore.Query call.
type MemoryFilter struct {
	AgentID string
	Types   []MemoryType
}
