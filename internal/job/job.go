// Package job holds the strongly typed job model and the error taxonomy shared
// by every stage of the handler.
package job

import (
	"fmt"
	"strings"
)

// Resolution is an output size tier.
type Resolution string

const (
	ResolutionLow      Resolution = "low"
	ResolutionStandard Resolution = "standard"
	ResolutionHigh     Resolution = "high"
)

// Size returns the fixed pixel dimensions of a tier.
func (r Resolution) Size() (width, height int) {
	switch r {
	case ResolutionLow:
		return 256, 256
	case ResolutionHigh:
		return 768, 768
	default:
		return 512, 512
	}
}

// Valid reports whether r is a recognized tier.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionLow, ResolutionStandard, ResolutionHigh:
		return true
	}
	return false
}

// ParseResolution maps a tier name to a Resolution.
func ParseResolution(s string) (Resolution, error) {
	r := Resolution(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown resolution %q (want low, standard or high)", s)
	}
	return r, nil
}

// Defaults and accepted ranges of the job options.
const (
	DefaultFPS = 25
	MinFPS     = 1
	MaxFPS     = 60

	DefaultGuidanceScale = 3.5
	MinGuidanceScale     = 1.0
	MaxGuidanceScale     = 20.0

	DefaultSteps = 40
	MinSteps     = 1
	// MaxStepsAccepted bounds what validation accepts; the orchestrator then
	// clamps to its configured maximum.
	MaxStepsAccepted = 1000

	DefaultWeight = 1.0
	MinWeight     = 0.0
	MaxWeight     = 5.0

	DefaultFaceExpandRatio = 1.2
	MinFaceExpandRatio     = 1.0
	MaxFaceExpandRatio     = 2.0
)

// Options are the resolved per-job parameters. Every field holds a value after
// parsing; SeedSet and DurationSeconds record what the caller actually sent.
type Options struct {
	Resolution      Resolution
	FPS             int
	Seed            int64
	SeedSet         bool
	GuidanceScale   float64
	Steps           int
	DurationSeconds float64 // 0 means "use the audio duration"
	PoseWeight      float64
	FaceWeight      float64
	LipWeight       float64
	FaceExpandRatio float64
}

// DefaultOptions returns options with every documented default applied.
// The seed is left unset; Parse draws one when the caller omits it.
func DefaultOptions() Options {
	return Options{
		Resolution:      ResolutionStandard,
		FPS:             DefaultFPS,
		GuidanceScale:   DefaultGuidanceScale,
		Steps:           DefaultSteps,
		PoseWeight:      DefaultWeight,
		FaceWeight:      DefaultWeight,
		LipWeight:       DefaultWeight,
		FaceExpandRatio: DefaultFaceExpandRatio,
	}
}

// RefKind distinguishes how an input is delivered.
type RefKind int

const (
	RefURL RefKind = iota
	RefInline
)

// Ref points at an input artifact: a URL to fetch or inline encoded bytes.
type Ref struct {
	Kind  RefKind
	Value string
}

func (r Ref) String() string {
	if r.Kind == RefURL {
		return r.Value
	}
	return fmt.Sprintf("inline(%d chars)", len(r.Value))
}

// Job is one immutable request to animate a still image with an audio track.
type Job struct {
	ID      string
	Image   Ref
	Audio   Ref
	Options Options
}
