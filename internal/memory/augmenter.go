package memory

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pearlgate/gateway/pkg/models"
)

const blockOpenTag = "<pearl:memories>"
const blockCloseTag = "</pearl:memories>"
const blockHeading = "## Relevant Context"

// labelledTypes render with a "[Label] " prefix instead of a plain bullet.
var labelledTypes = map[models.MemoryType]string{
	models.MemoryDecision: "Decision",
	models.MemoryRule:     "Rule",
	models.MemoryHealth:   "Health",
	models.MemoryReminder: "Reminder",
}

// AugmentOptions configures a single Augment call.
type AugmentOptions struct {
	RetrieveOptions
	SessionID            string
	SkipSessionTracking  bool
	QueryContextMessages int
}

// AugmentResult is C6's return value.
type AugmentResult struct {
	Messages     []models.Message
	Injected     []string
	TokensUsed   int
}

// SessionInjectionSet is a bounded, LRU-evicted map from sessionId to the
// set of memory IDs already injected into that session. Safe for
// concurrent use; entries are purged on session end or TTL.
type SessionInjectionSet struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List
	entries  map[string]*sessionEntry
}

type sessionEntry struct {
	ids        map[string]struct{}
	lastTouch  time.Time
	elem       *list.Element
}

// NewSessionInjectionSet creates a bounded LRU set. capacity<=0 means
// unbounded; ttl<=0 means entries never expire on their own.
func NewSessionInjectionSet(capacity int, ttl time.Duration) *SessionInjectionSet {
	return &SessionInjectionSet{capacity: capacity, ttl: ttl, order: list.New(), entries: make(map[string]*sessionEntry)}
}

// Contains reports whether memoryID was already injected into sessionID.
func (s *SessionInjectionSet) Contains(sessionID, memoryID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(sessionID, now)
	if !ok {
		return false
	}
	_, ok = e.ids[memoryID]
	return ok
}

// Add records memoryID as injected into sessionID.
func (s *SessionInjectionSet) Add(sessionID, memoryID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(sessionID, now)
	if !ok {
		e = &sessionEntry{ids: make(map[string]struct{})}
		e.elem = s.order.PushFront(sessionID)
		s.entries[sessionID] = e
		s.evictIfNeeded()
	}
	e.ids[memoryID] = struct{}{}
	e.lastTouch = now
	s.order.MoveToFront(e.elem)
}

// EndSession purges a session's entry immediately.
func (s *SessionInjectionSet) EndSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[sessionID]; ok {
		s.order.Remove(e.elem)
		delete(s.entries, sessionID)
	}
}

func (s *SessionInjectionSet) get(sessionID string, now time.Time) (*sessionEntry, bool) {
	e, ok := s.entries[sessionID]
	if !ok {
		return nil, false
	}
	if s.ttl > 0 && now.Sub(e.lastTouch) > s.ttl {
		s.order.Remove(e.elem)
		delete(s.entries, sessionID)
		return nil, false
	}
	return e, true
}

func (s *SessionInjectionSet) evictIfNeeded() {
	if s.capacity <= 0 {
		return
	}
	for len(s.entries) > s.capacity {
		back := s.order.Back()
		if back == nil {
			return
		}
		sessionID := back.Value.(string)
		s.order.Remove(back)
		delete(s.entries, sessionID)
	}
}

// Augmenter implements PromptAugmenter (C6).
type Augmenter struct {
	Retriever *Retriever
	Sessions  *SessionInjectionSet
	Now       func() time.Time
}

// Augment builds a retrieval query from the trailing user messages, retrieves
// candidate memories, removes any already injected into this session, folds
// the remainder into the system message within token budget, and returns a
// deep copy of the message list per spec §4.6.
func (a *Augmenter) Augment(ctx context.Context, agentID string, messages []models.Message, opts AugmentOptions) AugmentResult {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}

	queryMsgCount := opts.QueryContextMessages
	if queryMsgCount <= 0 {
		queryMsgCount = 1
	}
	query := buildQuery(messages, queryMsgCount)

	candidates := a.Retriever.Retrieve(ctx, agentID, query, opts.RetrieveOptions)

	if opts.SessionID != "" && !opts.SkipSessionTracking && a.Sessions != nil {
		filtered := candidates[:0]
		for _, c := range candidates {
			if !a.Sessions.Contains(opts.SessionID, c.Memory.ID, now()) {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}

	budget := opts.TokenBudget
	selected, tokensUsed := selectWithinBudget(candidates, budget)

	out := deepCopyMessages(messages)
	var injected []string
	if len(selected) > 0 {
		block := formatBlock(selected)
		out = injectBlock(out, block)
		for _, sm := range selected {
			injected = append(injected, sm.Memory.ID)
			if opts.SessionID != "" && !opts.SkipSessionTracking && a.Sessions != nil {
				a.Sessions.Add(opts.SessionID, sm.Memory.ID, now())
			}
		}
	}

	return AugmentResult{Messages: out, Injected: injected, TokensUsed: tokensUsed}
}

func buildQuery(messages []models.Message, n int) string {
	var userMsgs []string
	for i := len(messages) - 1; i >= 0 && len(userMsgs) < n; i-- {
		if messages[i].Role == models.RoleUser {
			userMsgs = append([]string{messages[i].Content}, userMsgs...)
		}
	}
	return strings.Join(userMsgs, "\n")
}

// selectWithinBudget re-applies the token budget accounting for the
// wrapper overhead (open/close tags + heading), per spec §4.6 step 4.
func selectWithinBudget(candidates []models.ScoredMemory, budget int) ([]models.ScoredMemory, int) {
	if budget <= 0 {
		total := 0
		for _, c := range candidates {
			total += estimateTokens(c.Memory.Content)
		}
		return candidates, total
	}

	overhead := estimateTokens(blockOpenTag + blockCloseTag + blockHeading)
	used := overhead
	var out []models.ScoredMemory
	for _, c := range candidates {
		cost := estimateTokens(c.Memory.Content)
		if used+cost > budget {
			break
		}
		used += cost
		out = append(out, c)
	}
	return out, used
}

func formatBlock(selected []models.ScoredMemory) string {
	var b strings.Builder
	b.WriteString(blockOpenTag)
	b.WriteString("\n")
	b.WriteString(blockHeading)
	b.WriteString("\n")
	for _, sm := range selected {
		if label, ok := labelledTypes[sm.Memory.Type]; ok {
			fmt.Fprintf(&b, "- [%s] %s\n", label, sm.Memory.Content)
		} else {
			fmt.Fprintf(&b, "- %s\n", sm.Memory.Content)
		}
	}
	b.WriteString(blockCloseTag)
	return b.String()
}

func injectBlock(messages []models.Message, block string) []models.Message {
	for i := range messages {
		if messages[i].Role == models.RoleSystem {
			messages[i].Content = block + "\n" + messages[i].Content
			return messages
		}
	}
	return append([]models.Message{{Role: models.RoleSystem, Content: block}}, messages...)
}

func deepCopyMessages(messages []models.Message) []models.Message {
	out := make([]models.Message, len(messages))
	copy(out, messages)
	return out
}
