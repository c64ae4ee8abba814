package manager

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// stageModels writes a minimal model tree and returns its root and component map.
func stageModels(t *testing.T) (string, map[string]string) {
	t.Helper()
	dir := t.TempDir()
	comps := map[string]string{
		"face_analysis":  "face_analysis/models",
		"audio_encoder":  "wav2vec/wav2vec2-base-960h",
		"denoising_unet": "hallo/net.pth",
		"vae":            "sd-vae-ft-mse",
	}
	files := map[string]string{
		"face_analysis/models/det.onnx":          "onnx",
		"wav2vec/wav2vec2-base-960h/config.json": "{}",
		"hallo/net.pth":                          "weights",
		"sd-vae-ft-mse/diffusion.bin":            "vae",
	}
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir, comps
}

// fakeRuntime is an in-memory Runtime used for tests.
type fakeRuntime struct {
	mu        sync.Mutex
	devices   map[string]bool
	probeErr  error
	loadErr   error
	loadDelay time.Duration
	loads     atomic.Int32
	loaded    []string
	faces     []Face
	closed    bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{devices: map[string]bool{"cuda": true, "cpu": true}}
}

func (f *fakeRuntime) ProbeDevice(ctx context.Context, device string) (bool, error) {
	if f.probeErr != nil && device == "cuda" {
		return false, f.probeErr
	}
	return f.devices[device], nil
}

func (f *fakeRuntime) LoadComponent(ctx context.Context, req LoadRequest) (Handle, error) {
	f.loads.Add(1)
	if f.loadDelay > 0 {
		select {
		case <-time.After(f.loadDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.loadErr != nil {
		return "", f.loadErr
	}
	f.mu.Lock()
	f.loaded = append(f.loaded, req.Component)
	f.mu.Unlock()
	return Handle("h-" + req.Component + "@" + req.Device), nil
}

func (f *fakeRuntime) DetectFaces(ctx context.Context, imagePath string) ([]Face, error) {
	return f.faces, nil
}

func (f *fakeRuntime) ExtractAudioFeatures(ctx context.Context, req AudioFeaturesRequest) (Handle, error) {
	return "audio", nil
}

func (f *fakeRuntime) EncodeIdentity(ctx context.Context, req IdentityRequest) (Handle, error) {
	return "identity", nil
}

func (f *fakeRuntime) GenerateClip(ctx context.Context, req ClipRequest) (Handle, error) {
	return "latents", nil
}

func (f *fakeRuntime) Decode(ctx context.Context, req DecodeRequest) (int, error) {
	return 0, nil
}

func (f *fakeRuntime) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func newTestManager(t *testing.T, rt Runtime, mut func(*ManagerConfig)) (*Manager, *MemoryPublisher) {
	t.Helper()
	dir, comps := stageModels(t)
	pub := NewMemoryPublisher()
	cfg := ManagerConfig{
		ModelsDir:   dir,
		Components:  comps,
		Runtime:     rt,
		Publisher:   pub,
		Logger:      zerolog.Nop(),
		LoadTimeout: 5 * time.Second,
	}
	if mut != nil {
		mut(&cfg)
	}
	return New(cfg), pub
}
