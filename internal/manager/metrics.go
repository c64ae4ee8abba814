package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	bundleLoadSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hallod",
		Subsystem: "bundle",
		Name:      "load_seconds",
		Help:      "Time spent loading the model bundle",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	deviceFallback = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hallod",
		Subsystem: "bundle",
		Name:      "device_fallback",
		Help:      "1 when the bundle was loaded on the fallback device",
	})

	lockWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hallod",
		Subsystem: "lock",
		Name:      "wait_seconds",
		Help:      "Time spent waiting for the accelerator lock",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	lockQueueLen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hallod",
		Subsystem: "lock",
		Name:      "queue_length",
		Help:      "Jobs queued for or holding the accelerator lock",
	})

	lockInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hallod",
		Subsystem: "lock",
		Name:      "inflight",
		Help:      "1 while a job holds the accelerator lock",
	})
)

func init() {
	prometheus.MustRegister(bundleLoadSeconds, deviceFallback, lockWaitSeconds, lockQueueLen, lockInflight)
}
