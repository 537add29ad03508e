package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pearlgate/gateway/pkg/models"
)

const defaultOllamaTimeout = 2 * time.Minute

// OllamaConfig configures the Ollama provider.
type OllamaConfig struct {
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
}

// OllamaProvider implements Provider against a local or self-hosted Ollama
// server, speaking its per-line NDJSON streaming wire format directly over
// net/http rather than through a vendor SDK.
type OllamaProvider struct {
	client       *http.Client
	baseURL      string
	defaultModel string
}

// NewOllamaProvider builds an OllamaProvider.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOllamaTimeout
	}
	return &OllamaProvider{
		client:       &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		defaultModel: strings.TrimSpace(cfg.DefaultModel),
	}
}

// Name implements Provider.
func (p *OllamaProvider) Name() string { return "ollama" }

// Models implements Provider, returning only the configured default model
// since Ollama's catalog is whatever the operator has pulled locally.
func (p *OllamaProvider) Models() []models.Model {
	if p.defaultModel == "" {
		return nil
	}
	return []models.Model{{ID: p.defaultModel, Object: "model", OwnedBy: "ollama"}}
}

// Health implements Provider via a cheap tags listing.
func (p *OllamaProvider) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusBadRequest
}

// Complete implements Provider, POSTing a streaming chat request and
// decoding Ollama's one-JSON-object-per-line response body. The terminal
// line carries done:true along with prompt_eval_count/eval_count, which
// become the chunk's Usage per spec §4.7.
func (p *OllamaProvider) Complete(ctx context.Context, model string, req *models.ChatRequest) (<-chan *models.ChatChunk, error) {
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return nil, NewProviderError("ollama", errors.New("model is required"))
	}

	payload := ollamaChatRequest{
		Model:    model,
		Stream:   true,
		Messages: convertOllamaMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		payload.Options = map[string]any{"num_predict": req.MaxTokens}
	}
	if req.Temperature != nil {
		if payload.Options == nil {
			payload.Options = map[string]any{}
		}
		payload.Options["temperature"] = *req.Temperature
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewProviderError("ollama", fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, NewProviderError("ollama", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewProviderError("ollama", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, NewProviderError("ollama", fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))).WithStatus(resp.StatusCode)
	}

	out := make(chan *models.ChatChunk)
	go p.streamResponse(ctx, resp.Body, model, out)
	return out, nil
}

func (p *OllamaProvider) streamResponse(ctx context.Context, body io.ReadCloser, model string, out chan<- *models.ChatChunk) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	emit := func(chunk *models.ChatChunk) bool {
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var resp ollamaChatResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			return
		}
		if resp.Error != "" {
			return
		}
		if resp.Message.Content != "" {
			if !emit(&models.ChatChunk{
				Model:   model,
				Choices: []models.ChunkChoice{{Delta: models.ChunkDelta{Content: resp.Message.Content}}},
			}) {
				return
			}
		}
		if resp.Done {
			fr := models.FinishStop
			emit(&models.ChatChunk{
				Model: model,
				Choices: []models.ChunkChoice{{FinishReason: &fr}},
				Usage: &models.Usage{
					PromptTokens:     resp.PromptEvalCount,
					CompletionTokens: resp.EvalCount,
					TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
				},
			})
			return
		}
	}
}

func convertOllamaMessages(messages []models.Message) []ollamaChatMessage {
	out := make([]ollamaChatMessage, len(messages))
	for i, m := range messages {
		out[i] = ollamaChatMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
}

type ollamaChatResponse struct {
	Model           string            `json:"model"`
	Message         ollamaChatMessage `json:"message"`
	Done            bool              `json:"done"`
	Error           string            `json:"error,omitempty"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	EvalCount       int               `json:"eval_count"`
}
