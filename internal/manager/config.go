package manager

import (
	"time"

	"github.com/rs/zerolog"

	"hallod/internal/job"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxQueueDepth = 4
	defaultMaxWait       = 10 * time.Minute
	defaultLoadTimeout   = 10 * time.Minute
	defaultDevice        = "cuda"
	defaultFallback      = "cpu"
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	ModelsDir  string
	Components map[string]string

	Device         string
	FallbackDevice string
	LoadTimeout    time.Duration

	// SupportedResolutions are the tiers the decoder can produce.
	SupportedResolutions []job.Resolution

	// Accelerator lock
	MaxQueueDepth int
	MaxWait       time.Duration

	Runtime   Runtime
	Publisher EventPublisher
	Logger    zerolog.Logger

	// Binaries checked by SanityCheck.
	RequiredBins []string
}

// New constructs a Manager from ManagerConfig. Nothing is loaded until the
// first GetOrLoadBundle or Preload.
func New(cfg ManagerConfig) *Manager {
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = defaultMaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaultLoadTimeout
	}
	if cfg.Device == "" {
		cfg.Device = defaultDevice
	}
	if cfg.FallbackDevice == "" {
		cfg.FallbackDevice = defaultFallback
	}
	if len(cfg.SupportedResolutions) == 0 {
		cfg.SupportedResolutions = []job.Resolution{job.ResolutionLow, job.ResolutionStandard, job.ResolutionHigh}
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = noopPublisher{}
	}
	return &Manager{
		cfg:       cfg,
		rt:        cfg.Runtime,
		log:       cfg.Logger.With().Str("component", "manager").Logger(),
		publisher: pub,
		state:     StateIdle,
		done:      make(chan struct{}),
		genCh:     make(chan struct{}, 1),
		queueCh:   make(chan struct{}, cfg.MaxQueueDepth),
		startTime: time.Now(),
	}
}
