package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"ai-analysis-gateway/internal/domain/ports/adapter"
)

var _ adapter.AIServiceAdapter = (*GeminiAdapter)(nil)

// ErrGeminiBlocked means the response was withheld by the provider's safety
// filters. It is returned as an error so the router can try another provider.
var ErrGeminiBlocked = errors.New("gemini: response blocked")

const analysisTemperature float32 = 0.2

// GeminiAdapter issues single-turn generate calls: leading system messages
// become the system instruction and the rest become user/model contents.
type GeminiAdapter struct {
	client       *genai.Client
	defaultModel string
	maxOut       int32
}

func NewGeminiAdapter(ctx context.Context, apiKey, baseURL, defaultModel string, maxOut int) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiAdapter{client: c, defaultModel: defaultModel, maxOut: int32(maxOut)}, nil
}

func (g *GeminiAdapter) Provider() string     { return "gemini" }
func (g *GeminiAdapter) DefaultModel() string { return g.defaultModel }

// CountTokens asks the API and falls back to the local estimate when the call
// fails, so a usage gap never fails an analysis.
func (g *GeminiAdapter) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	resp, err := g.client.Models.CountTokens(ctx, g.model(model), toGeminiContents(messages), nil)
	if err != nil {
		return EstimateTokens(g.model(model), messages), nil
	}
	return int(resp.TotalTokens), nil
}

func (g *GeminiAdapter) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	system, turns := splitSystem(messages)
	if len(turns) == 0 {
		return "", adapter.Usage{}, errors.New("gemini: no query to analyze")
	}

	temp := analysisTemperature
	cfg := &genai.GenerateContentConfig{Temperature: &temp}
	if g.maxOut > 0 {
		cfg.MaxOutputTokens = g.maxOut
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model(model), toGeminiContents(turns), cfg)
	if err != nil {
		return "", adapter.Usage{}, fmt.Errorf("gemini generate: %w", err)
	}
	text, err := geminiText(resp)
	if err != nil {
		return "", adapter.Usage{}, err
	}

	var u adapter.Usage
	if md := resp.UsageMetadata; md != nil {
		u.PromptTokens = int(md.PromptTokenCount)
		u.CompletionTokens = int(md.CandidatesTokenCount)
		u.TotalTokens = int(md.TotalTokenCount)
	}
	return text, u, nil
}

func (g *GeminiAdapter) model(m string) string {
	if strings.TrimSpace(m) != "" {
		return m
	}
	return g.defaultModel
}

// geminiText joins the first candidate's text parts. A blocked prompt or a
// safety stop with no text is an error rather than an empty analysis.
func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", errors.New("gemini: empty response")
	}
	if pf := resp.PromptFeedback; pf != nil && pf.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt %s", ErrGeminiBlocked, pf.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini: no candidates")
	}
	c := resp.Candidates[0]
	var sb strings.Builder
	for _, p := range c.Content.Parts {
		if p != nil && !p.Thought {
			sb.WriteString(p.Text)
		}
	}
	if sb.Len() == 0 && string(c.FinishReason) == "SAFETY" {
		return "", fmt.Errorf("%w: candidate stopped for safety", ErrGeminiBlocked)
	}
	return sb.String(), nil
}

func toGeminiContents(msgs []adapter.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.RoleUser
		if r := strings.ToLower(m.Role); r == "assistant" || r == "model" {
			role = genai.RoleModel
		}
		out = append(out, &genai.Content{Role: role, Parts: []*genai.Part{{Text: m.Content}}})
	}
	return out
}

// splitSystem pulls leading system messages out for the system instruction.
func splitSystem(msgs []adapter.Message) (string, []adapter.Message) {
	var parts []string
	i := 0
	for ; i < len(msgs) && strings.EqualFold(msgs[i].Role, "system"); i++ {
		parts = append(parts, msgs[i].Content)
	}
	return strings.Join(parts, "\n\n"), msgs[i:]
}
