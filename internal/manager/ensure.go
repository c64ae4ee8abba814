package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hallod/internal/job"
	"hallod/internal/registry"
)

// GetOrLoadBundle returns the process-wide bundle, loading it on first use.
// The load runs detached from ctx with its own timeout; ctx only bounds how
// long this caller waits. A load failure is returned to every later caller.
func (m *Manager) GetOrLoadBundle(ctx context.Context) (*Bundle, error) {
	m.Preload()
	select {
	case <-m.done:
		return m.bundle, m.loadErr
	default:
	}
	select {
	case <-m.done:
		return m.bundle, m.loadErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Preload starts the one-time load without waiting for it.
func (m *Manager) Preload() {
	m.once.Do(func() {
		m.setState(StateLoading, "")
		go m.load()
	})
}

// Loaded reports whether a load has been attempted and has finished.
func (m *Manager) Loaded() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

func (m *Manager) load() {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.LoadTimeout)
	defer cancel()

	m.log.Info().Str("models_dir", m.cfg.ModelsDir).Msg("bundle load start")
	m.publisher.Publish(Event{Name: "load_start", Fields: map[string]any{"models_dir": m.cfg.ModelsDir}})

	b, err := m.loadBundle(ctx)
	dur := time.Since(start)
	bundleLoadSeconds.Observe(dur.Seconds())
	if err != nil {
		if ctx.Err() != nil && !job.IsFatal(err) {
			err = job.ModelLoadError(fmt.Sprintf("bundle load timed out after %s", m.cfg.LoadTimeout), err)
		}
		m.mu.Lock()
		m.state = StateError
		m.err = err.Error()
		m.loadDur = dur
		m.loadErr = err
		m.mu.Unlock()
		m.log.Error().Err(err).Dur("dur", dur).Msg("bundle load failed")
		m.publisher.Publish(Event{Name: "load_failed", Fields: map[string]any{"error": err.Error()}})
		close(m.done)
		return
	}
	m.mu.Lock()
	m.state = StateReady
	m.err = ""
	m.loadDur = dur
	m.bundle = b
	m.mu.Unlock()
	m.log.Info().Str("device", b.Device).Bool("fallback", b.DeviceFallback).Dur("dur", dur).Msg("bundle ready")
	m.publisher.Publish(Event{Name: "load_ready", Fields: map[string]any{"device": b.Device, "dur_ms": dur.Milliseconds()}})
	close(m.done)
}

func (m *Manager) loadBundle(ctx context.Context) (*Bundle, error) {
	if m.rt == nil {
		return nil, job.ModelLoadError("no pipeline runtime configured", nil)
	}
	files, err := registry.LoadDir(m.cfg.ModelsDir, m.cfg.Components)
	if err != nil {
		return nil, job.ModelLoadError("staged model tree is incomplete", err)
	}

	device, fallback, err := m.pickDevice(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.device, m.fallback = device, fallback
	m.mu.Unlock()

	b := &Bundle{
		Device:         device,
		DeviceFallback: fallback,
		resolutions:    make(map[job.Resolution]bool, len(m.cfg.SupportedResolutions)),
		rt:             m.rt,
	}
	for _, r := range m.cfg.SupportedResolutions {
		b.resolutions[r] = true
	}
	for _, f := range files {
		h, err := m.rt.LoadComponent(ctx, LoadRequest{Component: f.Component, Path: f.Path, Device: device})
		if err != nil {
			if ctx.Err() != nil {
				return nil, job.ModelLoadError("loading "+f.Component+" timed out", ctx.Err())
			}
			return nil, job.ModelLoadError("loading "+f.Component+" failed", err)
		}
		b.Components = append(b.Components, ComponentHandle{Name: f.Component, Path: f.Path, Handle: h, SizeBytes: f.SizeBytes})
		m.log.Debug().Str("name", f.Component).Str("handle", string(h)).Msg("component loaded")
		m.publisher.Publish(Event{Name: "component_loaded", Fields: map[string]any{"component": f.Component}})
	}
	return b, nil
}

// pickDevice probes the preferred device and falls back instead of failing.
func (m *Manager) pickDevice(ctx context.Context) (string, bool, error) {
	ok, err := m.rt.ProbeDevice(ctx, m.cfg.Device)
	if err == nil && ok {
		deviceFallback.Set(0)
		return m.cfg.Device, false, nil
	}
	if ctx.Err() != nil {
		return "", false, job.ModelLoadError("device probe timed out", ctx.Err())
	}
	reason := "unavailable"
	if err != nil {
		reason = err.Error()
	}
	if m.cfg.FallbackDevice == "" || m.cfg.FallbackDevice == m.cfg.Device {
		return "", false, job.ModelLoadError("device "+m.cfg.Device+" "+reason, err)
	}
	ok2, err2 := m.rt.ProbeDevice(ctx, m.cfg.FallbackDevice)
	if err2 != nil || !ok2 {
		return "", false, job.ModelLoadError("no usable device", errors.Join(err, err2))
	}
	m.log.Warn().Str("preferred", m.cfg.Device).Str("fallback", m.cfg.FallbackDevice).Str("reason", reason).Msg("device fallback")
	m.publisher.Publish(Event{Name: "device_fallback", Fields: map[string]any{"preferred": m.cfg.Device, "device": m.cfg.FallbackDevice, "reason": reason}})
	deviceFallback.Set(1)
	return m.cfg.FallbackDevice, true, nil
}
