package providers

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/pearlgate/gateway/pkg/models"
)

const defaultAnthropicMaxTokens = 4096

// maxEmptyStreamEvents bounds consecutive no-op SSE events before the
// stream is treated as malformed, protecting against a stalled upstream
// that never sends message_stop.
const maxEmptyStreamEvents = 50

// AnthropicProvider implements Provider against Anthropic's Messages API.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider builds an AnthropicProvider. baseURL may be empty to
// use the default Anthropic endpoint.
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Models implements Provider.
func (p *AnthropicProvider) Models() []models.Model {
	return []models.Model{
		{ID: "claude-opus-4-20250514", Object: "model", OwnedBy: "anthropic"},
		{ID: "claude-sonnet-4-20250514", Object: "model", OwnedBy: "anthropic"},
		{ID: "claude-haiku-4-20250514", Object: "model", OwnedBy: "anthropic"},
	}
}

// Health implements Provider with a minimal, cheap completion call.
func (p *AnthropicProvider) Health(ctx context.Context) bool {
	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model("claude-haiku-4-20250514"),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	return err == nil
}

// Complete implements Provider, extracting the system message per spec
// §4.7 and streaming server-sent events into ChatChunks.
func (p *AnthropicProvider) Complete(ctx context.Context, model string, req *models.ChatRequest) (<-chan *models.ChatChunk, error) {
	system, messages := splitSystemMessage(req.Messages)

	maxTokens := int64(defaultAnthropicMaxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  convertAnthropicMessages(messages),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	out := make(chan *models.ChatChunk)
	go p.processStream(ctx, stream, model, out)
	return out, nil
}

func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], model string, out chan<- *models.ChatChunk) {
	defer close(out)

	var inputTokens, outputTokens int64
	emptyEvents := 0

	emit := func(chunk *models.ChatChunk) bool {
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = messageStart.Message.Usage.InputTokens
			}
			processed = true

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			if delta.Type == "text_delta" && delta.Text != "" {
				if !emit(&models.ChatChunk{Model: model, Choices: []models.ChunkChoice{{Delta: models.ChunkDelta{Content: delta.Text}}}}) {
					return
				}
				processed = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = messageDelta.Usage.OutputTokens
			}
			processed = true

		case "message_stop":
			fr := models.FinishStop
			usage := &models.Usage{
				PromptTokens:     int(inputTokens),
				CompletionTokens: int(outputTokens),
				TotalTokens:      int(inputTokens + outputTokens),
			}
			emit(&models.ChatChunk{
				Model:   model,
				Choices: []models.ChunkChoice{{FinishReason: &fr}},
				Usage:   usage,
			})
			return

		case "error":
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				return
			}
		}
	}

	if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return
	}
}

func splitSystemMessage(messages []models.Message) (string, []models.Message) {
	for i, m := range messages {
		if m.Role == models.RoleSystem {
			rest := make([]models.Message, 0, len(messages)-1)
			rest = append(rest, messages[:i]...)
			rest = append(rest, messages[i+1:]...)
			return m.Content, rest
		}
	}
	return "", messages
}

func convertAnthropicMessages(messages []models.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}
