package manager

import (
	"os/exec"

	"hallod/internal/registry"
	"hallod/pkg/types"
)

// SanityReport describes checks of external dependencies.
type SanityReport struct {
	OK         bool              `json:"ok"`
	Binaries   map[string]string `json:"binaries"`
	Missing    []string          `json:"missing,omitempty"`
	Components []types.ModelFile `json:"components,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// SanityCheck validates that required binaries are on PATH and that the
// staged model tree is complete. It does not load anything.
func (m *Manager) SanityCheck() SanityReport {
	r := SanityReport{OK: true, Binaries: map[string]string{}}
	for _, b := range m.cfg.RequiredBins {
		if b == "" {
			continue
		}
		p, err := exec.LookPath(b)
		if err != nil {
			r.OK = false
			r.Missing = append(r.Missing, b)
			continue
		}
		r.Binaries[b] = p
	}
	files, err := registry.LoadDir(m.cfg.ModelsDir, m.cfg.Components)
	if err != nil {
		r.OK = false
		r.Error = err.Error()
		return r
	}
	r.Components = files
	return r
}
