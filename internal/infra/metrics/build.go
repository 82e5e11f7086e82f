package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(buildInfo)
}

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "build_info",
		Help: "A constant metric with labels for version, commit and binary role.",
	},
	[]string{"version", "commit", "role"},
)

func SetBuildInfo(version, commit, role string) {
	buildInfo.WithLabelValues(version, commit, norm(role)).Set(1)
}
