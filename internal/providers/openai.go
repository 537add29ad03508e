package providers

import (
	"context"
	"errors"
	"io"

	"github.com/pearlgate/gateway/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Provider against the OpenAI chat completions
// API (and any OpenAI-compatible endpoint reachable via BaseURL).
type OpenAIProvider struct {
	client  *openai.Client
	modelID string
}

// NewOpenAIProvider builds an OpenAIProvider. baseURL may be empty to use
// the default OpenAI endpoint, or set for compatible third-party gateways.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Models implements Provider.
func (p *OpenAIProvider) Models() []models.Model {
	return []models.Model{
		{ID: "gpt-4o", Object: "model", OwnedBy: "openai"},
		{ID: "gpt-4-turbo", Object: "model", OwnedBy: "openai"},
		{ID: "gpt-3.5-turbo", Object: "model", OwnedBy: "openai"},
	}
}

// Health implements Provider via a cheap model-list call.
func (p *OpenAIProvider) Health(ctx context.Context) bool {
	_, err := p.client.ListModels(ctx)
	return err == nil
}

// Complete implements Provider, translating the generic request directly
// (OpenAI messages pass through unchanged) and consuming the SSE stream
// until the [DONE] sentinel.
func (p *OpenAIProvider) Complete(ctx context.Context, model string, req *models.ChatRequest) (<-chan *models.ChatChunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertMessages(req.Messages),
		Stream:   true,
		// The OpenAI streaming API only emits a usage object on the final
		// chunk when stream_options.include_usage is set; without it
		// resp.Usage is always nil and usage recording silently no-ops.
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		chatReq.TopP = float32(*req.TopP)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	out := make(chan *models.ChatChunk)
	go p.processStream(ctx, model, stream, out)
	return out, nil
}

func (p *OpenAIProvider) processStream(ctx context.Context, model string, stream *openai.ChatCompletionStream, out chan<- *models.ChatChunk) {
	defer close(out)
	defer stream.Close()

	var usage *models.Usage
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			return
		}
		if resp.Usage != nil {
			usage = &models.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		chunk := &models.ChatChunk{ID: resp.ID, Model: model, Created: resp.Created}
		cc := models.ChunkChoice{Index: choice.Index, Delta: models.ChunkDelta{Content: choice.Delta.Content}}
		if choice.FinishReason != "" {
			fr := mapOpenAIFinishReason(string(choice.FinishReason))
			cc.FinishReason = &fr
			chunk.Usage = usage
		}
		chunk.Choices = []models.ChunkChoice{cc}
		select {
		case out <- chunk:
		case <-ctx.Done():
			return
		}
	}
}

func convertMessages(messages []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

func mapOpenAIFinishReason(reason string) models.FinishReason {
	switch reason {
	case "length":
		return models.FinishLength
	case "content_filter":
		return models.FinishContentFilter
	case "tool_calls":
		return models.FinishToolCalls
	default:
		return models.FinishStop
	}
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		pe := NewProviderError("openai", err).WithStatus(apiErr.HTTPStatusCode)
		if code, ok := apiErr.Code.(string); ok {
			pe = pe.WithCode(code)
		}
		return pe
	}
	return NewProviderError("openai", err).WithStatus(0)
}
