package usecase

import (
	"time"

	"ai-analysis-gateway/internal/config"
	"ai-analysis-gateway/internal/infra/metrics"
)

const minRequestTimeout = 500 * time.Millisecond

// RetryPlan says whether one more upstream attempt fits in the route budget
// and, if so, how long it may take.
type RetryPlan struct {
	RetryAllowed bool
	Timeout      time.Duration
	Remaining    time.Duration
}

// RetryBudgetPlanner turns a fixed per-route wall-clock budget into per-attempt
// timeouts. It is pure arithmetic; callers pass the total time consumed so far
// across all previous attempts.
type RetryBudgetPlanner struct {
	cfg config.BudgetConfig
}

func NewRetryBudgetPlanner(cfg config.BudgetConfig) *RetryBudgetPlanner {
	return &RetryBudgetPlanner{cfg: cfg}
}

// MaxRequestTimeout caps the first attempt.
func (p *RetryBudgetPlanner) MaxRequestTimeout() time.Duration {
	d := p.cfg.RouteBudget - p.cfg.Reserve
	if d < minRequestTimeout {
		return minRequestTimeout
	}
	return d
}

// Plan decides a same-path retry.
func (p *RetryBudgetPlanner) Plan(consumed, preferred time.Duration) RetryPlan {
	plan := p.plan(consumed, preferred, p.cfg.MinBuffer)
	metrics.IncRetryPlan("same_path", plan.RetryAllowed)
	return plan
}

// PlanDirect decides the last direct attempt that bypasses cache and breaker.
// It demands an extra buffer so a doomed last-second call is not started.
func (p *RetryBudgetPlanner) PlanDirect(consumed, preferred time.Duration) RetryPlan {
	plan := p.plan(consumed, preferred, p.cfg.MinBuffer+p.cfg.DirectExtraBuffer)
	metrics.IncRetryPlan("direct", plan.RetryAllowed)
	return plan
}

func (p *RetryBudgetPlanner) plan(consumed, preferred, buffer time.Duration) RetryPlan {
	remaining := p.cfg.RouteBudget - p.cfg.Reserve - consumed - p.cfg.AttemptGuard
	if remaining < 0 {
		remaining = 0
	}
	if remaining <= 0 || remaining < p.cfg.MinAttemptTimeout+buffer {
		return RetryPlan{Remaining: remaining}
	}

	if preferred <= 0 {
		preferred = p.cfg.MaxAttemptTimeout
	}
	timeout := minDuration(preferred, remaining, p.cfg.MaxAttemptTimeout)
	timeout = config.ClampDuration(timeout, p.cfg.MinAttemptTimeout, p.cfg.MaxAttemptTimeout)
	return RetryPlan{RetryAllowed: true, Timeout: timeout, Remaining: remaining}
}

func minDuration(ds ...time.Duration) time.Duration {
	m := ds[0]
	for _, d := range ds[1:] {
		if d < m {
			m = d
		}
	}
	return m
}
