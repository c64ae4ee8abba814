package manager

import (
	"time"

	"hallod/pkg/types"
)

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp := types.StatusResponse{
		State:          string(m.state),
		Device:         m.device,
		DeviceFallback: m.fallback,
		LoadMillis:     m.loadDur.Milliseconds(),
		QueueLen:       len(m.queueCh),
		Inflight:       len(m.genCh),
		MaxQueueDepth:  cap(m.queueCh),
		Error:          m.err,
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
	if m.state == StateReady && m.bundle != nil {
		resp.Components = make([]types.ComponentStatus, 0, len(m.bundle.Components))
		for _, c := range m.bundle.Components {
			resp.Components = append(resp.Components, types.ComponentStatus{
				Name:   c.Name,
				Path:   c.Path,
				Handle: string(c.Handle),
				SizeMB: c.SizeBytes >> 20,
			})
		}
		for _, r := range m.bundle.Resolutions() {
			resp.Resolutions = append(resp.Resolutions, string(r))
		}
	}
	return resp
}
