package ai

import (
	"context"
	"fmt"

	"ai-analysis-gateway/internal/domain/ports/adapter"
	"ai-analysis-gateway/internal/infra/metrics"
)

// Compile-time check
var _ adapter.AIServiceAdapter = (*limitedAI)(nil)

// limitedAI caps concurrent LLM calls. The job pool and the synchronous
// /analyze path share one provider quota, so the cap sits on the adapter
// rather than on either caller.
type limitedAI struct {
	inner adapter.AIServiceAdapter
	sem   chan struct{}
}

func NewLimitedAI(inner adapter.AIServiceAdapter, maxConcurrent int) adapter.AIServiceAdapter {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedAI{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedAI) Provider() string     { return l.inner.Provider() }
func (l *limitedAI) DefaultModel() string { return l.inner.DefaultModel() }

func (l *limitedAI) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return "", adapter.Usage{}, fmt.Errorf("waiting for ai slot: %w", ctx.Err())
	}
	metrics.AddAIInflight(1)
	defer func() {
		metrics.AddAIInflight(-1)
		<-l.sem
	}()
	return l.inner.ChatWithUsage(ctx, model, messages)
}

// CountTokens is local or cheap for every provider and is not limited.
func (l *limitedAI) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	return l.inner.CountTokens(ctx, model, messages)
}
