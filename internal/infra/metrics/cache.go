package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(cacheRequestsTotal, cacheErrorsTotal) }

var (
	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Tracks response cache hits and misses per tier.",
		},
		[]string{"tier", "result"}, // e.g., tier="memory", result="hit"
	)

	cacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_errors_total",
			Help: "Swallowed cache backend failures per tier and operation.",
		},
		[]string{"tier", "op"},
	)
)

func IncCacheRequest(tier, result string) {
	cacheRequestsTotal.WithLabelValues(norm(tier), norm(result)).Inc()
}

func IncCacheError(tier, op string) {
	cacheErrorsTotal.WithLabelValues(norm(tier), norm(op)).Inc()
}
