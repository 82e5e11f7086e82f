package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"ai-analysis-gateway/internal/domain/ports/adapter"
)

var _ adapter.AIServiceAdapter = (*OpenAIAdapter)(nil)

// ErrOpenAIRefused is returned when the model declines to answer. The router
// treats it like any provider failure.
var ErrOpenAIRefused = errors.New("openai: model refused")

// OpenAIAdapter implements adapter.AIServiceAdapter on the Chat Completions
// API. Any OpenAI-compatible gateway works through baseURL.
type OpenAIAdapter struct {
	client openai.Client
	model  string
	maxOut int
}

func NewOpenAIAdapter(apiKey, baseURL, model string, maxOut int) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIAdapter{
		client: openai.NewClient(opts...),
		model:  model,
		maxOut: maxOut,
	}, nil
}

func (o *OpenAIAdapter) Provider() string     { return "openai" }
func (o *OpenAIAdapter) DefaultModel() string { return o.model }

// CountTokens is a local tiktoken estimate; the API has no counting call.
func (o *OpenAIAdapter) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	return EstimateTokens(o.pick(model), messages), nil
}

func (o *OpenAIAdapter) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	if len(messages) == 0 {
		return "", adapter.Usage{}, errors.New("openai: no query to analyze")
	}
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.pick(model)),
		Messages:    toOpenAIMessages(messages),
		Temperature: openai.Float(float64(analysisTemperature)),
	}
	if o.maxOut > 0 {
		params.MaxCompletionTokens = openai.Int(int64(o.maxOut))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apierr *openai.Error
		if errors.As(err, &apierr) {
			return "", adapter.Usage{}, fmt.Errorf("openai http %d: %w", apierr.StatusCode, err)
		}
		return "", adapter.Usage{}, fmt.Errorf("openai chat: %w", err)
	}

	u := adapter.Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	if len(resp.Choices) == 0 {
		return "", u, errors.New("openai: no choices")
	}
	msg := resp.Choices[0].Message
	if msg.Content == "" && msg.Refusal != "" {
		return "", u, fmt.Errorf("%w: %s", ErrOpenAIRefused, msg.Refusal)
	}
	return msg.Content, u, nil
}

func (o *OpenAIAdapter) pick(model string) string {
	if strings.TrimSpace(model) != "" {
		return model
	}
	return o.model
}

func toOpenAIMessages(msgs []adapter.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant", "model":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
