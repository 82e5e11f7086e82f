// File: internal/infra/adapters/ai/router.go
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"ai-analysis-gateway/internal/domain/ports/adapter"
	"ai-analysis-gateway/internal/infra/metrics"
)

var _ adapter.AIServiceAdapter = (*Router)(nil)

var ErrNoProvider = errors.New("no ai provider configured")

// Router sends a call to the provider that owns the requested model. When
// that provider fails, the remaining providers are tried in order, each with
// its own default model. Cancellation and deadlines are never failed over.
type Router struct {
	order     []string // primary first
	providers map[string]adapter.AIServiceAdapter
	log       *zerolog.Logger
}

// NewRouter keeps only the names in order that have a provider.
func NewRouter(order []string, providers map[string]adapter.AIServiceAdapter, logger *zerolog.Logger) *Router {
	l := logger.With().Str("component", "AIRouter").Logger()
	r := &Router{providers: map[string]adapter.AIServiceAdapter{}, log: &l}
	for _, name := range order {
		name = strings.ToLower(name)
		if p := providers[name]; p != nil {
			if _, dup := r.providers[name]; !dup {
				r.order = append(r.order, name)
				r.providers[name] = p
			}
		}
	}
	return r
}

// ProviderFor maps a model name onto a provider by prefix; unknown and empty
// names go to the primary.
func (r *Router) ProviderFor(model string) string {
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "gemini"):
		if _, ok := r.providers["gemini"]; ok {
			return "gemini"
		}
	case strings.HasPrefix(l, "gpt"), strings.HasPrefix(l, "o1"), strings.HasPrefix(l, "o3"), strings.HasPrefix(l, "o4"):
		if _, ok := r.providers["openai"]; ok {
			return "openai"
		}
	}
	if len(r.order) == 0 {
		return ""
	}
	return r.order[0]
}

func (r *Router) Provider() string {
	if len(r.order) == 0 {
		return "none"
	}
	return r.order[0]
}

func (r *Router) DefaultModel() string {
	if len(r.order) == 0 {
		return ""
	}
	return r.providers[r.order[0]].DefaultModel()
}

func (r *Router) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	p := r.providers[r.ProviderFor(model)]
	if p == nil {
		return 0, ErrNoProvider
	}
	return p.CountTokens(ctx, model, messages)
}

func (r *Router) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message) (string, adapter.Usage, error) {
	first := r.ProviderFor(model)
	if first == "" {
		return "", adapter.Usage{}, ErrNoProvider
	}

	candidates := []string{first}
	for _, name := range r.order {
		if name != first {
			candidates = append(candidates, name)
		}
	}

	var errs []error
	for i, name := range candidates {
		p := r.providers[name]
		m := model
		if i > 0 || m == "" {
			m = p.DefaultModel()
		}
		reply, usage, err := p.ChatWithUsage(ctx, m, messages)
		if err == nil {
			if i > 0 {
				metrics.IncAIFailover(first, name)
				r.log.Warn().Str("from", first).Str("to", name).Msg("ai call served by fallback provider")
			}
			usage.Provider, usage.Model = name, m
			return reply, usage, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
		if ctx.Err() != nil {
			break
		}
		r.log.Warn().Err(err).Str("provider", name).Str("model", m).Msg("ai provider failed")
	}
	return "", adapter.Usage{}, errors.Join(errs...)
}
