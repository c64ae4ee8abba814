package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Manager struct {
	cfg       ManagerConfig
	rt        Runtime
	log       zerolog.Logger
	publisher EventPublisher

	// One-time load. done is closed once bundle or loadErr is set.
	once    sync.Once
	done    chan struct{}
	bundle  *Bundle
	loadErr error

	mu       sync.RWMutex
	state    State
	device   string
	fallback bool
	loadDur  time.Duration
	err      string

	// Accelerator lock: genCh holds the single in-flight slot, queueCh bounds
	// the number of jobs waiting for it.
	genCh   chan struct{}
	queueCh chan struct{}

	startTime time.Time
}

// Ready reports whether the bundle is loaded and usable.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady
}

// Broken reports whether the bundle failed to load. It never recovers.
func (m *Manager) Broken() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateError
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) setState(s State, errMsg string) {
	m.mu.Lock()
	m.state = s
	m.err = errMsg
	m.mu.Unlock()
}

// DetectFaces runs face analysis without the bundle and without the lock.
func (m *Manager) DetectFaces(ctx context.Context, imagePath string) ([]Face, error) {
	return m.rt.DetectFaces(ctx, imagePath)
}

// SetPublisher installs an EventPublisher for lifecycle events.
func (m *Manager) SetPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	m.publisher = p
}

// Close releases the runtime.
func (m *Manager) Close() error {
	if m.rt == nil {
		return nil
	}
	return m.rt.Close()
}
