package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		streamEventsTotal,
		streamDurationSeconds,
		streamOpen,
	)
}

var (
	streamEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_events_total",
			Help: "SSE events emitted, labeled by event name.",
		},
		[]string{"event"},
	)

	streamDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stream_duration_seconds",
			Help:    "Lifetime of SSE connections grouped by how they ended.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 55, 60},
		},
		[]string{"end"}, // result|error|timeout|aborted
	)

	streamOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stream_connections_open",
			Help: "Currently open SSE connections.",
		},
	)
)

func IncStreamEvent(event string) {
	streamEventsTotal.WithLabelValues(norm(event)).Inc()
}

func ObserveStreamDuration(end string, seconds float64) {
	streamDurationSeconds.WithLabelValues(norm(end)).Observe(seconds)
}

func StreamOpened() { streamOpen.Inc() }
func StreamClosed() { streamOpen.Dec() }
