package queue

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"hallod/pkg/types"
)

// ErrWorkerBroken is returned by Run after a job reported a fatal model
// load failure. The process should exit so the platform replaces it.
var ErrWorkerBroken = errors.New("worker broken: model load failed")

// Broker is the queue as the worker sees it.
type Broker interface {
	Pop(ctx context.Context) ([]byte, error)
	Complete(ctx context.Context, resp types.JobResponse) error
	// Requeue puts a payload back so it is the next one popped.
	Requeue(ctx context.Context, payload []byte) error
}

// kindCancelled matches job.KindCancelled on the wire.
const kindCancelled = "cancelled"

// JobHandler runs one raw payload to a result.
type JobHandler interface {
	Handle(ctx context.Context, raw []byte) types.JobResponse
}

type Worker struct {
	broker Broker
	h      JobHandler
	fatal  func(types.JobResponse) bool
	log    zerolog.Logger
	// backoff after a broker error
	backoff time.Duration
}

var popped = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "hallod",
	Subsystem: "queue",
	Name:      "jobs_total",
	Help:      "Jobs taken from the queue by completion result",
}, []string{"result"})

func init() {
	prometheus.MustRegister(popped)
}

// NewWorker builds a worker. fatal decides whether a result should stop it.
func NewWorker(b Broker, h JobHandler, fatal func(types.JobResponse) bool, log zerolog.Logger) *Worker {
	if fatal == nil {
		fatal = func(types.JobResponse) bool { return false }
	}
	return &Worker{broker: b, h: h, fatal: fatal, log: log.With().Str("component", "queue").Logger(), backoff: time.Second}
}

// Run processes jobs one at a time until ctx is done or a fatal result.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Msg("worker started")
	for {
		if ctx.Err() != nil {
			w.log.Info().Msg("worker stopping")
			return nil
		}
		raw, err := w.broker.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Warn().Err(err).Msg("pop failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.backoff):
			}
			continue
		}
		if raw == nil {
			continue
		}
		resp := w.h.Handle(ctx, raw)
		// A job cut short by shutdown goes back to the queue for the next
		// worker instead of ending with a cancelled result.
		if ctx.Err() != nil && resp.Error != nil && resp.Error.Kind == kindCancelled {
			err := w.broker.Requeue(context.WithoutCancel(ctx), raw)
			if err == nil {
				popped.WithLabelValues("requeued").Inc()
				w.log.Info().Str("job_id", resp.ID).Msg("job interrupted by shutdown; requeued")
				return nil
			}
			w.log.Error().Err(err).Str("job_id", resp.ID).Msg("requeue failed; storing cancelled result")
		}
		// Store the result even when shutting down.
		if err := w.broker.Complete(context.WithoutCancel(ctx), resp); err != nil {
			popped.WithLabelValues("store_failed").Inc()
			w.log.Error().Err(err).Str("job_id", resp.ID).Msg("store result failed")
		} else {
			popped.WithLabelValues(resp.Status).Inc()
		}
		if w.fatal(resp) {
			w.log.Error().Str("job_id", resp.ID).Msg("fatal job result; stopping worker")
			return ErrWorkerBroken
		}
	}
}
