// Package api implements the gateway's OpenAI-compatible HTTP boundary:
// POST /v1/chat/completions (JSON or SSE), GET /v1/models, and GET
// /v1/health, plus the inbound auth and rate-limit checks that gate them.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pearlgate/gateway/internal/accounts"
	"github.com/pearlgate/gateway/internal/auth"
	"github.com/pearlgate/gateway/internal/inject"
	"github.com/pearlgate/gateway/internal/memory"
	"github.com/pearlgate/gateway/internal/metrics"
	"github.com/pearlgate/gateway/internal/pipeline"
	"github.com/pearlgate/gateway/internal/providers"
	"github.com/pearlgate/gateway/internal/ratelimit"
	"github.com/pearlgate/gateway/pkg/models"
)

const version = "0.1.0"

// Server wires the pipeline orchestrator to the inbound HTTP boundary.
type Server struct {
	Orchestrator   *pipeline.Orchestrator
	Dispatcher     *providers.Dispatcher
	Auth           *auth.Authenticator
	Limiter        *ratelimit.Limiter
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	Now            func() time.Time
	DefaultAugment memory.AugmentOptions

	httpServer *http.Server
	listener   net.Listener
}

// bypassPaths never run through the auth/rate-limit checks.
var bypassPaths = map[string]bool{"/v1/health": true}

// Mux builds the server's http.Handler, in route-registration order matching
// the gateway's documented surface.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/v1/models", s.handleModels)
	mux.HandleFunc("/v1/health", s.handleHealth)
	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics.Handler())
	}

	var handler http.Handler = mux
	handler = s.rateLimitMiddleware(handler)
	handler = auth.Middleware(s.Auth, bypassPaths, handler)
	return handler
}

// rateLimitMiddleware enforces the inbound token-bucket limiter, keyed by
// the caller's identity (or remote address if unauthenticated). Per spec
// §7, a throttled request gets 429; health checks are never throttled.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bypassPaths[r.URL.Path] || s.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := r.RemoteAddr
		if id, ok := auth.IdentityFromContext(r.Context()); ok {
			key = id.Subject
		}
		if !s.Limiter.Allow(key) {
			writeError(w, http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe starts the HTTP listener on addr and blocks until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", addr, err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:           s.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	if s.Logger != nil {
		s.Logger.Info("api server listening", "addr", addr)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// --- GET /v1/health ---

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := s.Dispatcher == nil || s.Dispatcher.Health(r.Context())
	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{Status: status, Version: version})
}

// --- GET /v1/models ---

type modelsResponse struct {
	Object string         `json:"object"`
	Data   []models.Model `json:"data"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}
	var list []models.Model
	if s.Dispatcher != nil {
		list = s.Dispatcher.Models()
	}
	writeJSON(w, http.StatusOK, modelsResponse{Object: "list", Data: list})
}

// --- POST /v1/chat/completions ---

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method not allowed")
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "malformed request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}

	applyMetadataHeaders(&req.Metadata, r)

	augment := s.DefaultAugment
	augment.SessionID = req.Metadata.SessionID

	rc := pipeline.RequestContext{
		Security: inject.SecurityContext{
			UserID:          req.Metadata.UserID,
			IsAdmin:         req.Metadata.IsAdmin,
			EmergencyBypass: req.Metadata.EmergencyBypass,
		},
		Route:   pipeline.RouteOptions{RespectBudget: true},
		Augment: augment,
	}

	out, err := s.Orchestrator.Run(r.Context(), &req, rc)
	if err != nil {
		status, errType, msg := mapError(err)
		writeError(w, status, errType, msg)
		return
	}

	if req.Stream {
		s.streamSSE(w, r, out)
		return
	}
	s.writeAggregateResponse(w, r, &req, out)
}

// applyMetadataHeaders fills any metadata field left unset on the body from
// its mirrored header, per spec §6's "Agent hinting" contract.
func applyMetadataHeaders(md *models.RequestMetadata, r *http.Request) {
	if md.AgentID == "" {
		md.AgentID = r.Header.Get("x-agent-id")
	}
	if md.SessionID == "" {
		md.SessionID = r.Header.Get("x-session-id")
	}
	if md.UserID == "" {
		md.UserID = r.Header.Get("x-user-id")
	}
	if !md.IsAdmin {
		md.IsAdmin = r.Header.Get("x-is-admin") == "true"
	}
	if md.EmergencyBypass == "" {
		md.EmergencyBypass = r.Header.Get("x-emergency-bypass")
	}
	if !md.ForceSunrise {
		md.ForceSunrise = r.Header.Get("x-force-sunrise") == "true"
	}
}

func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, out <-chan *models.ChatChunk) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for chunk := range out {
		if chunk.Err != nil && !pipeline.IsPolicyBlock(chunk.Err) {
			writeSSEError(w, chunk.Err)
			flusher.Flush()
			continue
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeSSEError(w http.ResponseWriter, err error) {
	_, errType, msg := mapError(err)
	payload := map[string]any{"error": map[string]string{"message": msg, "type": errType}}
	data, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// chatCompletionResponse is the non-streaming OpenAI-compatible envelope.
type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []chatCompletionChoice `json:"choices"`
	Usage   *models.Usage          `json:"usage,omitempty"`
}

type chatCompletionChoice struct {
	Index        int                  `json:"index"`
	Message      chatCompletionMsg    `json:"message"`
	FinishReason *models.FinishReason `json:"finish_reason,omitempty"`
}

type chatCompletionMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) writeAggregateResponse(w http.ResponseWriter, r *http.Request, req *models.ChatRequest, out <-chan *models.ChatChunk) {
	resp := chatCompletionResponse{
		ID:      uuid.NewString(),
		Object:  "chat.completion",
		Created: s.now().Unix(),
		Model:   req.Model,
	}
	var content string
	var finish *models.FinishReason

	for chunk := range out {
		if chunk.Err != nil && !pipeline.IsPolicyBlock(chunk.Err) {
			status, errType, msg := mapError(chunk.Err)
			writeError(w, status, errType, msg)
			return
		}
		if len(chunk.Choices) > 0 {
			content += chunk.Choices[0].Delta.Content
			if chunk.Choices[0].FinishReason != nil {
				finish = chunk.Choices[0].FinishReason
			}
		}
		if chunk.Usage != nil {
			resp.Usage = chunk.Usage
		}
	}

	resp.Choices = []chatCompletionChoice{{
		Index:        0,
		Message:      chatCompletionMsg{Role: string(models.RoleAssistant), Content: content},
		FinishReason: finish,
	}}
	writeJSON(w, http.StatusOK, resp)
}

// --- error mapping (spec §7) ---

func mapError(err error) (status int, errType, message string) {
	switch {
	case pipeline.IsPolicyBlock(err):
		return http.StatusOK, "content_filter", err.Error()
	case errors.As(err, new(*accounts.ErrBudgetExhausted)):
		return http.StatusPaymentRequired, "budget_exhausted", err.Error()
	case providers.IsProviderError(err):
		pe, _ := providers.GetProviderError(err)
		if pe.Reason == providers.FailoverRateLimit {
			return http.StatusTooManyRequests, "rate_limit_error", err.Error()
		}
		if pe.StatusCode >= 500 || pe.StatusCode == 0 {
			return http.StatusBadGateway, "upstream_error", err.Error()
		}
		return pe.StatusCode, "upstream_error", err.Error()
	default:
		return http.StatusInternalServerError, "internal_error", "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]string{"message": message, "type": errType}})
}
