package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hallod",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "code"})

	// Render requests run for minutes, so the buckets reach the job timeout.
	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hallod",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   []float64{0.005, 0.05, 0.5, 5, 30, 60, 120, 300, 600, 900},
	}, []string{"route"})

	httpInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hallod",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "HTTP requests currently being served.",
	})

	requestBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hallod",
		Subsystem: "http",
		Name:      "job_payload_bytes",
		Help:      "Size of accepted /runsync payloads.",
		Buckets:   prometheus.ExponentialBuckets(1<<10, 4, 10),
	})

	rejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hallod",
		Subsystem: "http",
		Name:      "rejected_total",
		Help:      "Jobs rejected before reaching the handler.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(httpRequests, httpLatency, httpInflight, requestBytes, rejectedTotal)
}

// MetricsMiddleware records request counts and latency per chi route.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		httpInflight.Inc()
		start := time.Now()
		defer func() {
			httpInflight.Dec()
			route := routeLabel(r)
			code := ww.Status()
			if code == 0 {
				code = http.StatusOK
			}
			httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(code)).Inc()
			httpLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}()
		next.ServeHTTP(ww, r)
	})
}

// routeLabel prefers the matched chi pattern so unknown paths do not blow up
// label cardinality.
func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func incRejected(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	rejectedTotal.WithLabelValues(reason).Inc()
}
