// Package models defines the core data types shared across the gateway
// pipeline: chat messages, classification results, routing rules, accounts,
// memories, and the streamed chat-completion wire types.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies who authored a Message.
type Role string

// Supported message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single turn in a chat conversation. The first message may be
// a system message; user and assistant messages alternate thereafter, but
// the pipeline does not enforce strict alternation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// RequestMetadata carries agent/session hints accepted from the JSON body or
// mirrored inbound headers.
type RequestMetadata struct {
	AgentID         string `json:"agentId,omitempty"`
	SessionID       string `json:"sessionId,omitempty"`
	UserID          string `json:"userId,omitempty"`
	IsAdmin         bool   `json:"isAdmin,omitempty"`
	EmergencyBypass string `json:"emergencyBypass,omitempty"`
	ForceSunrise    bool   `json:"forceSunrise,omitempty"`

	// Extra holds any additional metadata keys so the rule engine's
	// metadata-extension matching has something to match against. It is
	// populated by UnmarshalJSON, not by struct tags, since it needs to
	// collect whatever keys the named fields above didn't claim.
	Extra map[string]any `json:"-"`
}

// requestMetadataFields mirrors RequestMetadata's named JSON fields, used by
// UnmarshalJSON to decode them without recursing back into this method.
type requestMetadataFields struct {
	AgentID         string `json:"agentId,omitempty"`
	SessionID       string `json:"sessionId,omitempty"`
	UserID          string `json:"userId,omitempty"`
	IsAdmin         bool   `json:"isAdmin,omitempty"`
	EmergencyBypass string `json:"emergencyBypass,omitempty"`
	ForceSunrise    bool   `json:"forceSunrise,omitempty"`
}

// UnmarshalJSON decodes the named metadata fields as usual, then stashes any
// unrecognized keys into Extra so inbound HTTP bodies can actually populate
// it (a plain `json:"-"` tag would otherwise make Extra unreachable from
// encoding/json).
func (m *RequestMetadata) UnmarshalJSON(data []byte) error {
	var fields requestMetadataFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	m.AgentID = fields.AgentID
	m.SessionID = fields.SessionID
	m.UserID = fields.UserID
	m.IsAdmin = fields.IsAdmin
	m.EmergencyBypass = fields.EmergencyBypass
	m.ForceSunrise = fields.ForceSunrise

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known := map[string]bool{
		"agentId": true, "sessionId": true, "userId": true,
		"isAdmin": true, "emergencyBypass": true, "forceSunrise": true,
	}
	for key, v := range raw {
		if known[key] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			continue
		}
		if m.Extra == nil {
			m.Extra = make(map[string]any)
		}
		m.Extra[key] = val
	}
	return nil
}

// ChatRequest is the inbound OpenAI-compatible chat completion request.
// It is immutable once it enters the pipeline.
type ChatRequest struct {
	Model       string          `json:"model"`
	Messages    []Message       `json:"messages"`
	Stream      bool            `json:"stream,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Metadata    RequestMetadata `json:"metadata,omitempty"`
}

// LastUserMessage returns the content of the most recent user message, or
// the empty string if there is none.
func (r *ChatRequest) LastUserMessage() string {
	if r == nil {
		return ""
	}
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

// SystemMessageIndex returns the index of the first system message, or -1.
func (r *ChatRequest) SystemMessageIndex() int {
	if r == nil {
		return -1
	}
	for i, m := range r.Messages {
		if m.Role == RoleSystem {
			return i
		}
	}
	return -1
}

// FinishReason enumerates why a stream stopped.
type FinishReason string

// Supported finish reasons.
const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishToolCalls     FinishReason = "tool_calls"
)

// ChunkDelta is the incremental content of a streamed choice.
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChunkChoice is one choice within a ChatChunk.
type ChunkChoice struct {
	Index        int           `json:"index"`
	Delta        ChunkDelta    `json:"delta"`
	FinishReason *FinishReason `json:"finish_reason,omitempty"`
}

// ChatChunk is one element of the streamed response. The terminal chunk
// carries a FinishReason and Usage.
type ChatChunk struct {
	ID      string        `json:"id"`
	Model   string        `json:"model"`
	Created int64         `json:"created"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`

	// Err, when set, signals a pipeline failure (e.g. a policy block) that
	// the caller should surface instead of treating this as content.
	Err error `json:"-"`
}

// IsTerminal reports whether this chunk carries a finish reason.
func (c *ChatChunk) IsTerminal() bool {
	if c == nil || len(c.Choices) == 0 {
		return false
	}
	return c.Choices[0].FinishReason != nil
}

// Usage records prompt/completion token counts for cost accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Model describes an available backend model for GET /v1/models.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// TranscriptEntry is one appended record of a completed exchange, used for
// later session recovery.
type TranscriptEntry struct {
	SessionID string    `json:"session_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	Messages  []Message `json:"messages"`
	Response  string    `json:"response"`
	Usage     Usage     `json:"usage"`
	CreatedAt time.Time `json:"created_at"`
}
