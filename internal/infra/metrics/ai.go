package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		aiTokensIn,
		aiTokensOut,
		aiCallsLatencyMs,
		breakerExecutionsTotal,
		breakerStateChangesTotal,
		retryPlansTotal,
		analysisAttemptsTotal,
	)
}

var (
	aiTokensIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_in",
			Help: "Sum of prompt (input) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiTokensOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_out",
			Help: "Sum of completion (output) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_calls_latency_ms",
			Help:    "AI call latency distribution in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 20000, 40000},
		},
		[]string{"provider", "model", "success"},
	)

	breakerExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_executions_total",
			Help: "Circuit-breaker guarded calls by key, result source and fallback reason.",
		},
		[]string{"key", "source", "reason"},
	)

	breakerStateChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breaker_state_changes_total",
			Help: "Circuit-breaker state transitions.",
		},
		[]string{"key", "to"},
	)

	retryPlansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_plans_total",
			Help: "Retry budget decisions by kind (same_path|direct) and outcome.",
		},
		[]string{"kind", "allowed"},
	)

	analysisAttemptsTotal = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analysis_attempts",
			Help:    "Upstream attempts spent per synchronous analysis request.",
			Buckets: []float64{1, 2, 3},
		},
	)
)

func ObserveChatUsage(provider, model string, tokensIn, tokensOut int, latencyMs int64, success bool) {
	lbl := []string{norm(provider), norm(model)}
	aiTokensIn.WithLabelValues(lbl...).Add(float64(tokensIn))
	aiTokensOut.WithLabelValues(lbl...).Add(float64(tokensOut))
	aiCallsLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}

func IncBreakerExecution(key, source, reason string) {
	breakerExecutionsTotal.WithLabelValues(norm(key), norm(source), norm(reason)).Inc()
}

func IncBreakerStateChange(key, to string) {
	breakerStateChangesTotal.WithLabelValues(norm(key), norm(to)).Inc()
}

func IncRetryPlan(kind string, allowed bool) {
	retryPlansTotal.WithLabelValues(norm(kind), strconv.FormatBool(allowed)).Inc()
}

func ObserveAnalysisAttempts(n int) {
	analysisAttemptsTotal.Observe(float64(n))
}
