package handler

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hallod",
			Name:      "jobs_total",
			Help:      "Jobs finished by status and error kind",
		},
		[]string{"status", "kind"},
	)
	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hallod",
			Name:      "job_duration_seconds",
			Help:      "End-to-end job duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		},
		[]string{"status"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hallod",
			Name:      "job_state_transitions_total",
			Help:      "Job state transitions by target state",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal, jobDuration, stateTransitions)
}
