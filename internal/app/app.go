// Package app wires configuration into a ready-to-run worker.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"hallod/internal/config"
	"hallod/internal/handler"
	"hallod/internal/job"
	"hallod/internal/manager"
	"hallod/internal/materialize"
	"hallod/internal/media"
	"hallod/internal/orchestrator"
	"hallod/internal/packager"
	"hallod/internal/storage"
	"hallod/pkg/types"
)

// App is the fully wired worker. It satisfies httpapi.Service and
// queue.JobHandler.
type App struct {
	Manager *manager.Manager

	cfg     config.Config
	log     zerolog.Logger
	handler *handler.Handler
}

// New builds every component from cfg. Nothing is loaded or spawned until
// the first job or an explicit Preload.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	resolutions, err := parseResolutions(cfg.Inference.SupportedResolutions)
	if err != nil {
		return nil, err
	}
	pub := manager.LogPublisher{Log: log}
	var rt manager.Runtime
	bins := []string{cfg.Media.FFmpeg, cfg.Media.FFprobe}
	if cfg.Runtime.URL != "" {
		rt = manager.NewRemoteRuntime(cfg.Runtime.URL, &http.Client{}, cfg.Runtime.RequestTimeout.Duration)
	} else {
		args := append([]string(nil), cfg.Runtime.Args...)
		rt = manager.NewSubprocessRuntime(manager.SubprocessConfig{
			Bin:            cfg.Runtime.Bin,
			Args:           args,
			Host:           cfg.Runtime.Host,
			PortStart:      cfg.Runtime.PortStart,
			PortEnd:        cfg.Runtime.PortEnd,
			ReadyTimeout:   cfg.Runtime.ReadyTimeout.Duration,
			RequestTimeout: cfg.Runtime.RequestTimeout.Duration,
			Logger:         log,
			Publisher:      pub,
		})
		bins = append(bins, cfg.Runtime.Bin)
	}
	mgr := manager.New(manager.ManagerConfig{
		ModelsDir:            cfg.Models.Dir,
		Components:           cfg.Models.Components,
		Device:               cfg.Models.Device,
		FallbackDevice:       cfg.Models.FallbackDevice,
		LoadTimeout:          cfg.Models.LoadTimeout.Duration,
		SupportedResolutions: resolutions,
		MaxQueueDepth:        cfg.Inference.LockQueueDepth,
		MaxWait:              cfg.Inference.LockWait.Duration,
		Runtime:              rt,
		Publisher:            pub,
		Logger:               log,
		RequiredBins:         bins,
	})

	ff := media.New(cfg.Media.FFmpeg, cfg.Media.FFprobe)
	mat := materialize.New(materialize.Config{
		WorkRoot:     cfg.WorkDir,
		FetchTimeout: cfg.Inputs.FetchTimeout.Duration,
		MaxBytes:     cfg.Inputs.MaxFetchBytes,
		SampleRate:   cfg.Inputs.SampleRate,
		FacePolicy:   cfg.Inputs.FacePolicy,
	}, mgr, ff, &http.Client{}, log)
	orch := orchestrator.New(orchestrator.Config{
		ClipFrames:         cfg.Inference.ClipFrames,
		MaxSteps:           cfg.Inference.MaxSteps,
		MaxDurationSeconds: cfg.Inference.MaxDurationSeconds,
	}, log)
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		_ = mgr.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	pack := packager.New(packager.Config{
		Container:      cfg.Output.Container,
		VideoCodec:     cfg.Output.VideoCodec,
		AudioCodec:     cfg.Output.AudioCodec,
		PixelFormat:    cfg.Output.PixelFormat,
		CRF:            cfg.Output.CRF,
		InlineMaxBytes: cfg.Output.InlineMaxBytes,
		MinOutputBytes: cfg.Output.MinOutputBytes,
	}, ff, store, log)
	h := handler.New(handler.Config{JobTimeout: cfg.Inference.JobTimeout.Duration}, mat, mgr, orch, pack, log)

	return &App{Manager: mgr, cfg: cfg, log: log, handler: h}, nil
}

func parseResolutions(names []string) ([]job.Resolution, error) {
	out := make([]job.Resolution, 0, len(names))
	for _, n := range names {
		r, err := job.ParseResolution(n)
		if err != nil {
			return nil, fmt.Errorf("inference.supported_resolutions: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (a *App) Handle(ctx context.Context, raw []byte) types.JobResponse {
	return a.handler.Handle(ctx, raw)
}

func (a *App) RunSync(ctx context.Context, raw []byte) types.JobResponse {
	return a.handler.Handle(ctx, raw)
}

func (a *App) Status() types.StatusResponse { return a.Manager.Status() }
func (a *App) Ready() bool                  { return a.Manager.Ready() }
func (a *App) Broken() bool                 { return a.Manager.Broken() }

// Preload starts loading the bundle in the background.
func (a *App) Preload() { a.Manager.Preload() }

func (a *App) Close() error { return a.Manager.Close() }
