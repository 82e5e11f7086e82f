package usecase

import (
	"context"
	"strings"
	"time"

	"ai-analysis-gateway/internal/domain"
	"ai-analysis-gateway/internal/domain/model"
	"ai-analysis-gateway/internal/domain/ports/adapter"
	"ai-analysis-gateway/internal/infra/breaker"
	"ai-analysis-gateway/internal/infra/cache"
	"ai-analysis-gateway/internal/infra/logging"
	"ai-analysis-gateway/internal/infra/metrics"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ AnalysisUseCase = (*analysisUC)(nil)

type AnalysisUseCase interface {
	Analyze(ctx context.Context, req model.AnalysisRequest) (*AnalysisOutcome, error)
}

type AnalysisOutcome struct {
	Result      *model.AnalysisResult
	Cached      bool
	CacheSource string
	Attempts    int
}

type analysisUC struct {
	cache     *cache.ResponseCache
	breaker   *breaker.Fallback
	compute   adapter.ComputeClient
	planner   *RetryBudgetPlanner
	clock     clockwork.Clock
	preferred time.Duration
	log       *zerolog.Logger
}

// NewAnalysisUseCase wires the synchronous path: response cache in front of a
// breaker-guarded compute call, with budget-gated retries on fallback.
// preferred is the per-retry timeout the planner starts from.
func NewAnalysisUseCase(rc *cache.ResponseCache, fb *breaker.Fallback, compute adapter.ComputeClient, planner *RetryBudgetPlanner, clock clockwork.Clock, preferred time.Duration, logger *zerolog.Logger) *analysisUC {
	return &analysisUC{
		cache:     rc,
		breaker:   fb,
		compute:   compute,
		planner:   planner,
		clock:     clock,
		preferred: preferred,
		log:       logger,
	}
}

func breakerKey(endpoint string) string {
	if endpoint == "" {
		return "compute:analyze"
	}
	return "compute:" + endpoint
}

// Analyze makes at most three upstream attempts. The second (same path) and
// third (direct, no cache, no breaker) only run when the previous attempt
// produced a fallback and the remaining route budget still fits one. Time
// consumed is measured from a single start so all three share one budget.
func (u *analysisUC) Analyze(ctx context.Context, req model.AnalysisRequest) (*AnalysisOutcome, error) {
	defer logging.TraceDuration(u.log, "AnalysisUC.Analyze")()

	req.Query = strings.TrimSpace(req.Query)
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.Query == "" || req.SessionID == "" {
		return nil, domain.ErrInvalidArgument
	}
	ctx = logging.WithSessID(ctx, req.SessionID)
	log := logging.With(ctx, u.log)

	start := u.clock.Now()
	out := &AnalysisOutcome{}
	defer func() { metrics.ObserveAnalysisAttempts(out.Attempts) }()

	res, lk, err := u.guarded(ctx, req, u.planner.MaxRequestTimeout())
	out.Attempts++
	if err != nil {
		return nil, err
	}
	if lk.Hit {
		out.Result, out.Cached, out.CacheSource = res, true, lk.Source
		return out, nil
	}
	out.Result, out.CacheSource = res, cache.SourceNone
	if !isFallback(res) {
		return out, nil
	}

	if ctx.Err() != nil {
		return out, nil
	}
	plan := u.planner.Plan(u.clock.Since(start), u.preferred)
	if !plan.RetryAllowed {
		log.Info().Dur("remaining", plan.Remaining).Msg("no budget for a second attempt")
		return out, nil
	}
	log.Info().Str("reason", res.FallbackReason).Dur("timeout", plan.Timeout).Msg("retrying after fallback")
	res2, lk2, err := u.guarded(ctx, req, plan.Timeout)
	out.Attempts++
	if err == nil && res2 != nil {
		out.Result = res2
		if lk2.Hit {
			out.Cached, out.CacheSource = true, lk2.Source
			return out, nil
		}
		if !isFallback(res2) {
			return out, nil
		}
	}

	if ctx.Err() != nil {
		return out, nil
	}
	direct := u.planner.PlanDirect(u.clock.Since(start), u.preferred)
	if !direct.RetryAllowed {
		log.Info().Dur("remaining", direct.Remaining).Msg("no budget for a direct attempt")
		return out, nil
	}
	out.Attempts++
	if r := u.direct(ctx, req, direct.Timeout); r != nil {
		out.Result = r
	}
	return out, nil
}

// guarded is one attempt through cache and breaker.
func (u *analysisUC) guarded(ctx context.Context, req model.AnalysisRequest, timeout time.Duration) (*model.AnalysisResult, cache.Lookup, error) {
	return u.cache.WithCache(ctx, req.SessionID, req.Query, req.Endpoint, func(ctx context.Context) (*model.AnalysisResult, error) {
		o := u.breaker.Execute(ctx, breakerKey(req.Endpoint), func(ctx context.Context) (*model.AnalysisResult, error) {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return u.compute.Analyze(cctx, req)
		}, nil)
		return o.Data, nil
	})
}

// direct calls compute with neither cache nor breaker. Its result is never
// cached. It returns nil when the call did not produce a usable result.
func (u *analysisUC) direct(ctx context.Context, req model.AnalysisRequest, timeout time.Duration) *model.AnalysisResult {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r, err := u.compute.Analyze(cctx, req)
	if err != nil || r == nil || !r.Success {
		msg := "unsuccessful response"
		if err != nil {
			msg = err.Error()
		}
		reason := breaker.ClassifyReason(msg)
		logging.With(ctx, u.log).Warn().Str("reason", reason).Msg("direct attempt failed")
		metrics.IncBreakerExecution("direct", model.SourceFallback, reason)
		return nil
	}
	r.Source = model.SourceDirect
	metrics.IncBreakerExecution("direct", model.SourceDirect, "")
	return r
}

func isFallback(r *model.AnalysisResult) bool {
	return r == nil || r.Source == model.SourceFallback
}
