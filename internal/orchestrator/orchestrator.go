// Package orchestrator drives one job through the loaded pipeline in strict
// stage order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"hallod/internal/job"
	"hallod/internal/manager"
	"hallod/internal/materialize"
	"hallod/internal/media"
)

// Stage names, in execution order.
const (
	StageAudioFeatures = "audio_features"
	StageIdentity      = "identity"
	StageBackbone      = "backbone"
	StageDecode        = "decode"
	StageAssemble      = "assemble"
)

// Pipeline is the loaded bundle as the orchestrator uses it.
type Pipeline interface {
	Supports(r job.Resolution) bool
	ExtractAudioFeatures(ctx context.Context, req manager.AudioFeaturesRequest) (manager.Handle, error)
	EncodeIdentity(ctx context.Context, req manager.IdentityRequest) (manager.Handle, error)
	GenerateClip(ctx context.Context, req manager.ClipRequest) (manager.Handle, error)
	Decode(ctx context.Context, req manager.DecodeRequest) (int, error)
}

// Config bounds the work done per job.
type Config struct {
	ClipFrames         int
	MaxSteps           int
	MaxDurationSeconds float64
}

// Result is the raw output of one inference: frames on disk plus the exact
// audio track and the parameters actually used.
type Result struct {
	FramesDir  string
	FrameCount int
	AudioPath  string
	FPS        int
	Resolution job.Resolution
	Width      int
	Height     int

	DurationSeconds          float64
	RequestedDurationSeconds float64
	Clamped                  bool

	Seed          int64
	Steps         int
	GuidanceScale float64
	// Device is filled in by the caller that owns the bundle.
	Device string

	Stages map[string]time.Duration
}

type Orchestrator struct {
	cfg Config
	log zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Orchestrator {
	if cfg.ClipFrames <= 0 {
		cfg.ClipFrames = 16
	}
	return &Orchestrator{cfg: cfg, log: log.With().Str("component", "orchestrator").Logger()}
}

// Run executes every stage in order. The caller must hold the accelerator
// lock for the whole call.
func (o *Orchestrator) Run(ctx context.Context, p Pipeline, in *materialize.Input, opts job.Options) (*Result, error) {
	if !p.Supports(opts.Resolution) {
		return nil, job.InferenceError(job.KindUnsupportedResolution,
			fmt.Sprintf("resolution %q is not supported by the loaded decoder", opts.Resolution), nil)
	}
	plan := PlanFor(in.AudioDuration(), in.SampleRate, opts, o.cfg)
	w, h := opts.Resolution.Size()
	res := &Result{
		FPS:                      opts.FPS,
		Resolution:               opts.Resolution,
		Width:                    w,
		Height:                   h,
		DurationSeconds:          plan.Duration,
		RequestedDurationSeconds: plan.Requested,
		Clamped:                  plan.Clamped,
		Seed:                     opts.Seed,
		Steps:                    plan.Steps,
		GuidanceScale:            opts.GuidanceScale,
		Stages:                   make(map[string]time.Duration, 5),
	}
	if plan.Clamped {
		o.log.Info().Float64("requested", plan.Requested).Float64("duration", plan.Duration).Msg("duration clamped")
	}

	var audio, identity manager.Handle
	var latents []manager.Handle

	err := o.stage(ctx, res, StageAudioFeatures, func() (err error) {
		audio, err = p.ExtractAudioFeatures(ctx, manager.AudioFeaturesRequest{
			AudioPath:  in.AudioPath,
			SampleRate: in.SampleRate,
			FPS:        opts.FPS,
			Frames:     plan.Frames,
			Duration:   plan.Duration,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	err = o.stage(ctx, res, StageIdentity, func() (err error) {
		identity, err = p.EncodeIdentity(ctx, manager.IdentityRequest{
			ImagePath:       in.ImagePath,
			BBox:            in.Face.BBox,
			Landmarks:       in.Face.Landmarks,
			FaceExpandRatio: opts.FaceExpandRatio,
			Width:           w,
			Height:          h,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	clips := Clips(plan.Frames, o.cfg.ClipFrames)
	err = o.stage(ctx, res, StageBackbone, func() error {
		var motion manager.Handle
		for i := 0; i < clips; i++ {
			if i > 0 {
				if ce := job.FromContext(ctx.Err(), StageBackbone); ce != nil {
					return ce
				}
			}
			lat, err := p.GenerateClip(ctx, manager.ClipRequest{
				Identity:      identity,
				AudioFeatures: audio,
				MotionContext: motion,
				FrameStart:    i * o.cfg.ClipFrames,
				FrameCount:    o.cfg.ClipFrames,
				Steps:         plan.Steps,
				GuidanceScale: opts.GuidanceScale,
				Seed:          opts.Seed + int64(i),
				PoseWeight:    opts.PoseWeight,
				FaceWeight:    opts.FaceWeight,
				LipWeight:     opts.LipWeight,
				Width:         w,
				Height:        h,
			})
			if err != nil {
				return err
			}
			latents = append(latents, lat)
			motion = lat
			o.log.Debug().Int("clip", i+1).Int("of", clips).Msg("clip generated")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	framesDir := filepath.Join(in.WorkDir, "frames")
	err = o.stage(ctx, res, StageDecode, func() error {
		if err := os.MkdirAll(framesDir, 0o755); err != nil {
			return job.Internal("create frames dir", err)
		}
		n, err := p.Decode(ctx, manager.DecodeRequest{Latents: latents, OutDir: framesDir, Width: w, Height: h})
		if err != nil {
			return err
		}
		if n < plan.Frames {
			return job.InferenceError(job.KindPipelineFailed, fmt.Sprintf("decoder produced %d frames, want %d", n, plan.Frames), nil)
		}
		res.FrameCount = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = o.stage(ctx, res, StageAssemble, func() error {
		if err := discardFrames(framesDir, plan.Frames, res.FrameCount); err != nil {
			return job.Internal("discard extra frames", err)
		}
		res.FrameCount = plan.Frames
		track := filepath.Join(in.WorkDir, "track.wav")
		if err := media.WriteWAV(track, media.FitSamples(in.Samples, plan.Samples), in.SampleRate); err != nil {
			return job.Internal("write audio track", err)
		}
		res.FramesDir, res.AudioPath = framesDir, track
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// stage checks for cancellation, runs fn, records its duration and maps any
// failure into an inference error.
func (o *Orchestrator) stage(ctx context.Context, res *Result, name string, fn func() error) error {
	if ce := job.FromContext(ctx.Err(), name); ce != nil {
		return ce
	}
	start := time.Now()
	err := fn()
	d := time.Since(start)
	res.Stages[name] = d
	stageDuration.WithLabelValues(name).Observe(d.Seconds())
	if err != nil {
		o.log.Warn().Err(err).Str("stage", name).Dur("dur", d).Msg("stage failed")
		return mapError(ctx, name, err)
	}
	o.log.Debug().Str("stage", name).Dur("dur", d).Msg("stage done")
	return nil
}

func mapError(ctx context.Context, stage string, err error) error {
	if ce := job.FromContext(ctx.Err(), stage); ce != nil {
		return ce
	}
	switch {
	case manager.IsResourceExhausted(err):
		return job.InferenceError(job.KindResourceExhausted, "accelerator out of memory during "+stage, err)
	case manager.IsUnsupportedResolution(err):
		return job.InferenceError(job.KindUnsupportedResolution, "decoder rejected the resolution", err)
	}
	var je *job.Error
	if errors.As(err, &je) {
		return je
	}
	return job.InferenceError(job.KindPipelineFailed, stage+" failed", err)
}

// discardFrames removes frames numbered [keep, have).
func discardFrames(dir string, keep, have int) error {
	for i := keep; i < have; i++ {
		p := filepath.Join(dir, fmt.Sprintf(media.FramePattern, i))
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

var _ Pipeline = (*manager.Bundle)(nil)
