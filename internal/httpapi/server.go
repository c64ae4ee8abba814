// Package httpapi exposes the job handler over HTTP in the serverless
// calling convention plus health, status and metrics endpoints.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hallod/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	// RunSync runs one raw job payload to its single result.
	RunSync(ctx context.Context, raw []byte) types.JobResponse
	Status() types.StatusResponse
	Ready() bool
	// Broken reports a fatal model load failure.
	Broken() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(MetricsMiddleware)
	r.Use(AccessLog)
	r.Use(middleware.Recoverer)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Post("/runsync", func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			incRejected("content_type")
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		if svc.Broken() {
			incRejected("broken")
			writeJSONError(w, http.StatusServiceUnavailable, "worker unavailable: model load failed")
			return
		}
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				incRejected("too_large")
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeJSONError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		requestBytes.Observe(float64(len(raw)))

		// Shutdown cancels the job as well as a client disconnect.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		resp := svc.RunSync(ctx, raw)
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			w.Header().Set("X-Request-Id", rid)
		}
		writeJSON(w, jobStatusCode(resp), resp)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case svc.Ready():
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		case svc.Broken():
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("error"))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("loading"))
		}
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}
