package orchestrator

import (
	"math"

	"hallod/internal/job"
)

// Plan is the resolved output geometry of one job.
type Plan struct {
	// Duration is the target length after clamping.
	Duration float64
	// Requested is the caller's duration, or the audio duration when unset.
	Requested float64
	Clamped   bool
	Frames    int
	// Samples is the exact audio track length at the sample rate.
	Samples int
	Steps   int
}

// PlanFor resolves duration, frame count and steps. Frame count is
// floor(duration × fps) and never below one.
func PlanFor(audioSeconds float64, sampleRate int, opts job.Options, cfg Config) Plan {
	p := Plan{Requested: audioSeconds}
	if opts.DurationSeconds > 0 {
		p.Requested = opts.DurationSeconds
	}
	p.Duration = p.Requested
	if cfg.MaxDurationSeconds > 0 && p.Duration > cfg.MaxDurationSeconds {
		p.Duration = cfg.MaxDurationSeconds
		p.Clamped = true
	}
	// The epsilon absorbs float error such as 0.28*25 = 6.9999.
	p.Frames = int(math.Floor(p.Duration*float64(opts.FPS) + 1e-9))
	if p.Frames < 1 {
		p.Frames = 1
	}
	p.Samples = int(math.Round(p.Duration * float64(sampleRate)))
	p.Steps = opts.Steps
	if cfg.MaxSteps > 0 && p.Steps > cfg.MaxSteps {
		p.Steps = cfg.MaxSteps
	}
	return p
}

// Clips returns how many backbone clips cover frames.
func Clips(frames, clipFrames int) int {
	if clipFrames <= 0 {
		return 1
	}
	return (frames + clipFrames - 1) / clipFrames
}
