// Package handler runs one job end to end: parse, materialize, infer under
// the accelerator lock, package. Every job yields exactly one result.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"hallod/internal/job"
	"hallod/internal/logging"
	"hallod/internal/manager"
	"hallod/internal/materialize"
	"hallod/internal/orchestrator"
	"hallod/pkg/types"
)

// Materializer prepares job inputs.
type Materializer interface {
	Materialize(ctx context.Context, j job.Job) (*materialize.Input, error)
}

// Models hands out the bundle and guards the accelerator.
type Models interface {
	GetOrLoadBundle(ctx context.Context) (*manager.Bundle, error)
	Acquire(ctx context.Context) (func(), error)
}

// Runner executes the inference stages.
type Runner interface {
	Run(ctx context.Context, p orchestrator.Pipeline, in *materialize.Input, opts job.Options) (*orchestrator.Result, error)
}

// Packager turns a result into the job output.
type Packager interface {
	Package(ctx context.Context, jobID string, res *orchestrator.Result) (types.JobOutput, error)
}

type Config struct {
	// JobTimeout bounds a whole job, lock wait included.
	JobTimeout time.Duration
}

type Handler struct {
	cfg    Config
	mat    Materializer
	models Models
	orch   Runner
	pack   Packager
	log    zerolog.Logger
}

func New(cfg Config, mat Materializer, models Models, orch Runner, pack Packager, log zerolog.Logger) *Handler {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 15 * time.Minute
	}
	return &Handler{cfg: cfg, mat: mat, models: models, orch: orch, pack: pack, log: log}
}

// Handle parses a raw payload and runs it.
func (h *Handler) Handle(ctx context.Context, raw []byte) types.JobResponse {
	j, err := job.Decode(raw)
	if err != nil {
		var peek struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(raw, &peek)
		return h.reject(peek.ID, err)
	}
	return h.run(ctx, j)
}

// HandleRequest runs an already unmarshalled request.
func (h *Handler) HandleRequest(ctx context.Context, req types.JobRequest) types.JobResponse {
	j, err := job.FromRequest(req)
	if err != nil {
		return h.reject(req.ID, err)
	}
	return h.run(ctx, j)
}

// reject fails a job whose payload could not be parsed.
func (h *Handler) reject(id string, err error) types.JobResponse {
	log := logging.ForJob(h.log, id)
	m := newMachine(log)
	_ = m.to(StateValidating)
	_ = m.to(StateFailed)
	je := job.Classify(err, string(StateValidating))
	log.Warn().Str("kind", string(je.Kind)).Msg(je.PublicMessage())
	jobsTotal.WithLabelValues(types.StatusError, string(je.Kind)).Inc()
	jobDuration.WithLabelValues(types.StatusError).Observe(0)
	return errorResponse(id, je)
}

func (h *Handler) run(ctx context.Context, j job.Job) (resp types.JobResponse) {
	start := time.Now()
	log := logging.ForJob(h.log, j.ID)
	m := newMachine(log)
	log.Info().Str("image", j.Image.String()).Str("audio", j.Audio.String()).
		Str("resolution", string(j.Options.Resolution)).Int("fps", j.Options.FPS).Msg("job received")

	ctx, cancel := context.WithTimeout(ctx, h.cfg.JobTimeout)
	defer cancel()

	out, err := h.process(ctx, j, m)
	if err == nil {
		err = m.to(StateCompleted)
	}
	status := types.StatusSuccess
	kind := ""
	if err != nil {
		_ = m.to(StateFailed)
		je := job.Classify(err, string(m.history[len(m.history)-2]))
		status, kind = types.StatusError, string(je.Kind)
		ev := log.Warn()
		if je.Class == job.ClassInternal || je.Class == job.ClassModelLoad {
			ev = log.Error()
		}
		ev.Err(je.Err).Str("kind", kind).Bool("retryable", je.Retryable).Msg(je.PublicMessage())
		resp = errorResponse(j.ID, je)
	} else {
		log.Info().Float64("duration_s", out.DurationSeconds).Int("frames", out.FrameCount).
			Str("encoding", out.Encoding).Int64("bytes", out.SizeBytes).Msg("job completed")
		resp = types.JobResponse{ID: j.ID, Status: types.StatusSuccess, Output: &out}
	}
	jobsTotal.WithLabelValues(status, kind).Inc()
	jobDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	return resp
}

// process walks the states. A panic in any component becomes an internal
// error; deferred cleanup and lock release still run.
func (h *Handler) process(ctx context.Context, j job.Job, m *machine) (out types.JobOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Str("stack", string(debug.Stack())).Msgf("panic: %v", r)
			err = job.Internal("panic in "+string(m.state), fmt.Errorf("%v", r))
		}
	}()

	// Parsing already happened at the boundary; validating checks the job
	// is still wanted before any expensive work.
	if err := m.to(StateValidating); err != nil {
		return out, job.Internal("state machine", err)
	}
	if ce := job.FromContext(ctx.Err(), string(StateValidating)); ce != nil {
		return out, ce
	}

	if err := m.to(StateMaterializing); err != nil {
		return out, job.Internal("state machine", err)
	}
	in, err := h.mat.Materialize(ctx, j)
	if err != nil {
		return out, err
	}
	defer func() {
		if cerr := in.Cleanup(); cerr != nil {
			m.log.Warn().Err(cerr).Str("dir", in.WorkDir).Msg("work dir cleanup failed")
		}
	}()

	if err := m.to(StateInferring); err != nil {
		return out, job.Internal("state machine", err)
	}
	res, err := h.infer(ctx, in, j.Options, m.log)
	if err != nil {
		return out, err
	}

	if err := m.to(StatePackaging); err != nil {
		return out, job.Internal("state machine", err)
	}
	return h.pack.Package(ctx, j.ID, res)
}

// infer loads the bundle, then runs the orchestrator while holding the lock.
func (h *Handler) infer(ctx context.Context, in *materialize.Input, opts job.Options, log zerolog.Logger) (*orchestrator.Result, error) {
	bundle, err := h.models.GetOrLoadBundle(ctx)
	if err != nil {
		return nil, err
	}
	release, err := h.models.Acquire(ctx)
	if err != nil {
		if manager.IsTooBusy(err) {
			return nil, job.InferenceError(job.KindTimeout, "accelerator busy", err)
		}
		return nil, job.Classify(err, string(StateInferring))
	}
	defer release()
	log.Debug().Str("device", bundle.Device).Msg("accelerator acquired")

	res, err := h.orch.Run(ctx, bundle, in, opts)
	if err != nil {
		return nil, err
	}
	res.Device = bundle.Device
	return res, nil
}

func errorResponse(id string, je *job.Error) types.JobResponse {
	return types.JobResponse{
		ID:     id,
		Status: types.StatusError,
		Error: &types.JobError{
			Kind:      string(je.Kind),
			Message:   je.PublicMessage(),
			Retryable: je.Retryable,
		},
	}
}

// IsFatal reports whether resp means the worker can no longer serve jobs.
func IsFatal(resp types.JobResponse) bool {
	return resp.Error != nil && resp.Error.Kind == string(job.KindModelLoad)
}
