package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai-analysis-gateway/internal/domain/ports/adapter"
)

var _ adapter.AIServiceAdapter = (*NoopAIAdapter)(nil)

// NoopAIAdapter answers locally for development and tests when no provider key
// is configured. Replies are deterministic.
type NoopAIAdapter struct {
	log   *zerolog.Logger
	delay time.Duration
}

func NewNoopAIAdapter(logger *zerolog.Logger) *NoopAIAdapter {
	l := logger.With().Str("component", "NoopAI").Logger()
	return &NoopAIAdapter{log: &l, delay: 100 * time.Millisecond}
}

func (a *NoopAIAdapter) Provider() string     { return "noop" }
func (a *NoopAIAdapter) DefaultModel() string { return "noop-ai-model" }

func (a *NoopAIAdapter) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	n := 0
	for _, m := range messages {
		n += 4 + charEstimate(m.Content)
	}
	return n, nil
}

func (a *NoopAIAdapter) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	// Simulate processing and respect ctx
	select {
	case <-time.After(a.delay):
	case <-ctx.Done():
		return "", adapter.Usage{}, ctx.Err()
	}

	last := ""
	if len(messages) > 0 {
		last = strings.TrimSpace(messages[len(messages)-1].Content)
	}
	a.log.Debug().Int("messages", len(messages)).Msg("noop chat")

	reply := fmt.Sprintf("Noop analysis of %q.", last)
	in, _ := a.CountTokens(ctx, model, messages)
	out := charEstimate(reply)
	return reply, adapter.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}, nil
}
