package orchestrator

import "github.com/prometheus/client_golang/prometheus"

var stageDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "hallod",
		Subsystem: "inference",
		Name:      "stage_duration_seconds",
		Help:      "Duration of each inference stage in seconds",
		Buckets:   []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300, 600},
	},
	[]string{"stage"},
)

func init() {
	prometheus.MustRegister(stageDuration)
}
