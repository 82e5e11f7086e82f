package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(poolBuffered, poolBusy, poolRejectedTotal, aiInflight, aiFailoverTotal)
}

var (
	poolBuffered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_pool_buffered_tasks",
		Help: "Tasks accepted by the pool and waiting for a free worker.",
	})
	poolBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worker_pool_busy",
		Help: "Pool workers currently running a task.",
	})
	poolRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "worker_pool_rejected_total",
		Help: "Submissions refused because the pool buffer was full.",
	})

	aiInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ai_calls_inflight",
		Help: "LLM calls holding a concurrency slot.",
	})
	aiFailoverTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_provider_failovers_total",
			Help: "Calls moved to another provider after the routed one failed.",
		},
		[]string{"from", "to"},
	)
)

func SetPoolBuffered(n int) { poolBuffered.Set(float64(n)) }
func AddPoolBusy(d int)     { poolBusy.Add(float64(d)) }
func IncPoolRejected()      { poolRejectedTotal.Inc() }
func AddAIInflight(d int)   { aiInflight.Add(float64(d)) }

func IncAIFailover(from, to string) {
	aiFailoverTotal.WithLabelValues(norm(from), norm(to)).Inc()
}
