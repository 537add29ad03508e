// Package pipeline implements the PipelineOrchestrator (C10): it sequences
// classification, routing, screening, augmentation, dispatch, filtering, and
// usage recording for a single chat request.
//
// The orchestrator drives each request through a state machine:
//
//	RECEIVED → CLASSIFIED → SCREENED → {BLOCKED | ROUTED} →
//	          AUGMENTED → DISPATCHED → STREAMING → {COMPLETED | CANCELLED | FAILED}
//
// BLOCKED short-circuits before any backend call and writes no usage record.
// FAILED, when the rule that routed the request named a fallback account
// still within budget, restarts once at DISPATCHED against that fallback.
// CANCELLED and COMPLETED are mutually exclusive terminal states: a usage
// record and transcript append happen on COMPLETED only, never on
// CANCELLED or BLOCKED.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pearlgate/gateway/internal/accounts"
	"github.com/pearlgate/gateway/internal/classify"
	"github.com/pearlgate/gateway/internal/filter"
	"github.com/pearlgate/gateway/internal/inject"
	"github.com/pearlgate/gateway/internal/memory"
	"github.com/pearlgate/gateway/internal/providers"
	"github.com/pearlgate/gateway/internal/rules"
	"github.com/pearlgate/gateway/internal/usage"
	"github.com/pearlgate/gateway/pkg/models"
)

// State names the orchestrator's position in a single request's lifecycle.
type State string

// Supported states, in the order a successful request passes through them.
const (
	StateReceived  State = "RECEIVED"
	StateClassified State = "CLASSIFIED"
	StateScreened  State = "SCREENED"
	StateBlocked   State = "BLOCKED"
	StateRouted    State = "ROUTED"
	StateAugmented State = "AUGMENTED"
	StateDispatched State = "DISPATCHED"
	StateStreaming State = "STREAMING"
	StateCompleted State = "COMPLETED"
	StateCancelled State = "CANCELLED"
	StateFailed    State = "FAILED"
)

// TranscriptStore appends completed exchanges for later session recovery.
// CANCELLED and BLOCKED requests never reach this.
type TranscriptStore interface {
	Append(ctx context.Context, entry models.TranscriptEntry) error
}

// Orchestrator wires together every pipeline stage. All fields are required
// except Transcript, FilterConfig, and Now.
type Orchestrator struct {
	Rules     *rules.Engine
	Router    *accounts.Router
	Detector  *inject.Detector
	Augmenter *memory.Augmenter
	Dispatcher *providers.Dispatcher
	Pricing   usage.PricingTable
	UsageStore usage.Store
	Registry  *accounts.Registry
	Transcript TranscriptStore
	FilterConfig filter.Config
	Now       func() time.Time
}

// RouteOptions mirrors accounts.Options for callers that need to opt into
// strict budget enforcement per request.
type RouteOptions = accounts.Options

// RequestContext carries the per-request security/session hints that don't
// belong on the wire-level ChatRequest itself.
type RequestContext struct {
	Security inject.SecurityContext
	Route    RouteOptions
	Augment  memory.AugmentOptions
}

// Run drives req through the full pipeline and returns a channel of
// ChatChunks. The channel is closed once the terminal state is reached; a
// BLOCKED request yields exactly one synthetic terminal chunk and closes
// immediately. Callers must drain the channel (or cancel ctx) to release
// backend resources.
func (o *Orchestrator) Run(ctx context.Context, req *models.ChatRequest, rc RequestContext) (<-chan *models.ChatChunk, error) {
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}

	classification := classify.Classify(req.Messages)

	ruleCtx := rules.Context{
		Classification: classification,
		AgentID:        req.Metadata.AgentID,
		Metadata:       req.Metadata.Extra,
	}

	detection := o.Detector.Analyze(req.LastUserMessage(), rc.Security, now())
	if detection.Blocked() {
		out := make(chan *models.ChatChunk, 1)
		fr := models.FinishContentFilter
		out <- &models.ChatChunk{
			ID:      uuid.NewString(),
			Created: now().Unix(),
			Choices: []models.ChunkChoice{{FinishReason: &fr}},
			Err:     &PolicyBlockError{Reason: detection.Reasoning, Result: detection},
		}
		close(out)
		return out, nil
	}

	routing, err := o.Router.Route(ruleCtx, rc.Route)
	if err != nil {
		return nil, err
	}

	augmented := o.Augmenter.Augment(ctx, req.Metadata.AgentID, req.Messages, rc.Augment)

	billedModel := req.Model

	dispatchReq := *req
	dispatchReq.Messages = augmented.Messages
	dispatchReq.Model = routing.Account.Provider + "/" + modelNameFor(req.Model)

	out := make(chan *models.ChatChunk)
	go o.stream(ctx, &dispatchReq, routing, req.Metadata.AgentID, billedModel, req.Messages, now, out)
	return out, nil
}

// stream runs C7-C9 (dispatch, filter, usage/transcript) for one attempt,
// retrying once against the routed rule's fallback account when dispatch
// fails, per the FAILED → DISPATCHED restart rule. billedModel is the
// bare, unprefixed model name the caller asked for; it is what gets recorded
// against the pricing table, since req.Model carries the provider-prefixed
// dispatch string (and may be rewritten again on fallback) while
// usage.PricingTable keys are bare model names.
func (o *Orchestrator) stream(ctx context.Context, req *models.ChatRequest, routing models.RoutingResult, agentID, billedModel string, original []models.Message, now func() time.Time, out chan<- *models.ChatChunk) {
	defer close(out)

	backendStream, err := o.Dispatcher.Chat(ctx, req)
	if err != nil {
		if fallback := o.fallbackAccount(routing); fallback != nil {
			req.Model = fallback.Provider + "/" + modelNameFor(req.Model)
			routing.Account = fallback
			backendStream, err = o.Dispatcher.Chat(ctx, req)
		}
		if err != nil {
			select {
			case out <- &models.ChatChunk{Err: err}:
			case <-ctx.Done():
			}
			return
		}
	}

	f, ferr := filter.New(o.FilterConfig)
	if ferr != nil {
		select {
		case out <- &models.ChatChunk{Err: ferr}:
		case <-ctx.Done():
		}
		return
	}

	recorder := &usage.Recorder{Pricing: o.Pricing, Store: o.UsageStore, Registry: o.Registry, Now: now}

	var terminal *models.ChatChunk
	var responseText string

	for chunk := range backendStream {
		if chunk.Err != nil {
			select {
			case out <- chunk:
			case <-ctx.Done():
			}
			return
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			chunk.Choices[0].Delta.Content = f.Apply(chunk.Choices[0].Delta.Content)
			responseText += chunk.Choices[0].Delta.Content
		}
		if chunk.IsTerminal() {
			if len(chunk.Choices) > 0 {
				tail := f.Flush()
				chunk.Choices[0].Delta.Content += tail
				responseText += tail
			}
			terminal = chunk
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			return
		}
		if terminal != nil {
			break
		}
	}

	// Cancellation (or an upstream close with no terminal chunk) ⇒ no usage
	// record, no transcript append, matching the CANCELLED state.
	if ctx.Err() != nil || terminal == nil || terminal.Usage == nil {
		return
	}

	rec, err := recorder.Record(ctx, routing.Account.ID, routing.Account.Provider, billedModel, *terminal.Usage, agentID, nil)
	if err != nil {
		return
	}
	_ = rec

	if o.Transcript != nil {
		_ = o.Transcript.Append(ctx, models.TranscriptEntry{
			SessionID: req.Metadata.SessionID,
			AgentID:   agentID,
			Messages:  original,
			Response:  responseText,
			Usage:     *terminal.Usage,
			CreatedAt: now(),
		})
	}
}

// fallbackAccount resolves the rule's configured fallback account, if it
// exists, is enabled, and is still within budget.
func (o *Orchestrator) fallbackAccount(routing models.RoutingResult) *models.Account {
	if routing.Account == nil {
		return nil
	}
	ruleSet := o.Rules.Rules()
	for _, r := range ruleSet {
		if r.Name != routing.Rule || r.Fallback == "" {
			continue
		}
		fb := o.Registry.Get(r.Fallback)
		if fb != nil && fb.Enabled && !fb.OverBudget() && fb.ID != routing.Account.ID {
			return fb
		}
	}
	return nil
}

func modelNameFor(model string) string {
	if idx := lastSlash(model); idx >= 0 {
		return model[idx+1:]
	}
	return model
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

// PolicyBlockError carries the injection detector's reasoning for a blocked
// request, surfaced via the terminal chunk's Err field.
type PolicyBlockError struct {
	Reason string
	Result models.DetectionResult
}

func (e *PolicyBlockError) Error() string {
	if e.Reason == "" {
		return "pipeline: request blocked by injection policy"
	}
	return "pipeline: request blocked: " + e.Reason
}

// IsPolicyBlock reports whether err is a PolicyBlockError.
func IsPolicyBlock(err error) bool {
	var pe *PolicyBlockError
	return errors.As(err, &pe)
}
