package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		jobTransitionsTotal,
		triggerTotal,
		aiJobsProcessedTotal,
		jobRejectionsTotal,
		archiveErrorsTotal,
	)
}

var (
	jobTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_transitions_total",
			Help: "Job state transitions performed by the gateway, labeled by target status.",
		},
		[]string{"to"}, // queued|cancelled
	)

	triggerTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_trigger_total",
			Help: "Worker trigger dispatches by outcome.",
		},
		[]string{"status"}, // sent|failed|skipped|timeout
	)

	aiJobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_jobs_processed_total",
			Help: "Total number of AI jobs processed by the worker, labeled by status.",
		},
		[]string{"status"}, // 'completed', 'failed', 'cancelled'
	)

	jobRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_rejections_total",
			Help: "Client-visible job operation rejections by operation and reason.",
		},
		[]string{"op", "reason"},
	)

	archiveErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "result_archive_errors_total",
			Help: "Finished jobs that could not be written to the result archive.",
		},
	)
)

func IncJobTransition(to string) {
	jobTransitionsTotal.WithLabelValues(norm(to)).Inc()
}

func IncTrigger(status string) {
	triggerTotal.WithLabelValues(norm(status)).Inc()
}

func IncAIJob(status string) {
	aiJobsProcessedTotal.WithLabelValues(norm(status)).Inc()
}

func IncJobRejection(op, reason string) {
	jobRejectionsTotal.WithLabelValues(norm(op), norm(reason)).Inc()
}

func IncArchiveError() { archiveErrorsTotal.Inc() }
