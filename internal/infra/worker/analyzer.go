package worker

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"ai-analysis-gateway/internal/domain/model"
	"ai-analysis-gateway/internal/domain/ports/adapter"
	"ai-analysis-gateway/internal/infra/metrics"
)

const systemPrompt = "You are an analysis assistant. Answer the user's query with a concise, factual analysis. " +
	"State assumptions explicitly and say so when the question cannot be answered."

// Analyzer is the single LLM call shared by queued jobs and synchronous
// /analyze requests.
type Analyzer struct {
	ai    adapter.AIServiceAdapter
	clock clockwork.Clock
	log   *zerolog.Logger
}

func NewAnalyzer(ai adapter.AIServiceAdapter, clock clockwork.Clock, logger *zerolog.Logger) *Analyzer {
	l := logger.With().Str("component", "Analyzer").Logger()
	return &Analyzer{ai: ai, clock: clock, log: &l}
}

func (a *Analyzer) Analyze(ctx context.Context, query string) (string, *model.ResultMetrics, error) {
	mdl := a.ai.DefaultModel()
	msgs := []adapter.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: query},
	}

	start := a.clock.Now()
	reply, usage, err := a.ai.ChatWithUsage(ctx, mdl, msgs)
	latency := a.clock.Since(start)
	if err != nil {
		metrics.ObserveChatUsage(a.ai.Provider(), mdl, 0, 0, latency.Milliseconds(), false)
		return "", nil, fmt.Errorf("ai adapter failed: %w", err)
	}

	// the router reports who answered; a failover changes both
	provider := a.ai.Provider()
	if usage.Provider != "" {
		provider = usage.Provider
	}
	if usage.Model != "" {
		mdl = usage.Model
	}

	// some providers omit usage; estimate rather than report zeros
	if usage.PromptTokens == 0 {
		if n, cerr := a.ai.CountTokens(ctx, mdl, msgs); cerr == nil {
			usage.PromptTokens = n
		} else {
			a.log.Debug().Err(cerr).Msg("count tokens")
		}
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	metrics.ObserveChatUsage(provider, mdl, usage.PromptTokens, usage.CompletionTokens, latency.Milliseconds(), true)

	return reply, &model.ResultMetrics{
		Model:        mdl,
		Provider:     provider,
		PromptTokens: usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		TotalTokens:  usage.TotalTokens,
		DurationMs:   latency.Milliseconds(),
	}, nil
}
