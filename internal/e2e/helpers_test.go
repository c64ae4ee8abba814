// Package e2e drives the full worker over HTTP against a fake pipeline
// server and the real ffmpeg.
package e2e

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hallod/internal/app"
	"hallod/internal/config"
	"hallod/internal/httpapi"
	"hallod/internal/manager"
	"hallod/internal/media"
)

func requireFFmpeg(t *testing.T) {
	t.Helper()
	for _, b := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(b); err != nil {
			t.Skipf("%s not on PATH", b)
		}
	}
}

// pipelineServer imitates the pipeline server's HTTP surface. Latent handles
// remember their frame count so decode writes the right number of frames.
type pipelineServer struct {
	mu      sync.Mutex
	latents map[string]int
	next    int
	calls   []string
	noFaces bool
	oom     bool
}

func (p *pipelineServer) handler() http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	record := func(name string) {
		p.mu.Lock()
		p.calls = append(p.calls, name)
		p.mu.Unlock()
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/v1/device", func(w http.ResponseWriter, r *http.Request) {
		record("device")
		reply(w, map[string]any{"available": true})
	})
	mux.HandleFunc("/v1/load", func(w http.ResponseWriter, r *http.Request) {
		var req manager.LoadRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		record("load:" + req.Component)
		reply(w, map[string]any{"handle": "h-" + req.Component})
	})
	mux.HandleFunc("/v1/faces", func(w http.ResponseWriter, r *http.Request) {
		record("faces")
		if p.noFaces {
			reply(w, map[string]any{"faces": []any{}})
			return
		}
		reply(w, map[string]any{"faces": []manager.Face{
			{BBox: manager.BBox{X: 8, Y: 8, W: 32, H: 40}, Score: 0.98},
		}})
	})
	mux.HandleFunc("/v1/audio_features", func(w http.ResponseWriter, r *http.Request) {
		record("audio_features")
		reply(w, map[string]any{"handle": "audio-1"})
	})
	mux.HandleFunc("/v1/identity", func(w http.ResponseWriter, r *http.Request) {
		record("identity")
		reply(w, map[string]any{"handle": "id-1"})
	})
	mux.HandleFunc("/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		record("generate")
		if p.oom {
			w.WriteHeader(http.StatusInternalServerError)
			reply(w, map[string]any{"error": map[string]string{"kind": "out_of_memory", "message": "CUDA out of memory"}})
			return
		}
		var req manager.ClipRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.mu.Lock()
		p.next++
		h := fmt.Sprintf("lat-%d", p.next)
		p.latents[h] = req.FrameCount
		p.mu.Unlock()
		reply(w, map[string]any{"handle": h})
	})
	mux.HandleFunc("/v1/decode", func(w http.ResponseWriter, r *http.Request) {
		record("decode")
		var req manager.DecodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		total := 0
		p.mu.Lock()
		for _, h := range req.Latents {
			total += p.latents[string(h)]
		}
		p.mu.Unlock()
		for i := 0; i < total; i++ {
			path := filepath.Join(req.OutDir, fmt.Sprintf(media.FramePattern, req.StartIndex+i))
			if err := os.WriteFile(path, pngBytes(req.Width, req.Height, uint8(i*8)), 0o644); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		reply(w, map[string]any{"frames": total})
	})
	return mux
}

func (p *pipelineServer) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == name {
			n++
		}
	}
	return n
}

func pngBytes(w, h int, shade uint8) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: uint8(x), B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// toneWAV returns a base64 mono 16 kHz WAV of the given length.
func toneWAV(t *testing.T, seconds float64) string {
	t.Helper()
	const rate = 16000
	samples := make([]int16, int(seconds*rate))
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/rate))
	}
	p := filepath.Join(t.TempDir(), "tone.wav")
	if err := media.WriteWAV(p, samples, rate); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}

func stageModels(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, rel := range config.DefaultComponents() {
		p := filepath.Join(dir, filepath.FromSlash(rel), "weights.bin")
		if filepath.Ext(rel) != "" {
			p = filepath.Join(dir, filepath.FromSlash(rel))
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("weights"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

type stack struct {
	srv      *httptest.Server
	app      *app.App
	pipeline *pipelineServer
}

func newStack(t *testing.T, p *pipelineServer, mutate func(*config.Config)) *stack {
	t.Helper()
	if p.latents == nil {
		p.latents = map[string]int{}
	}
	ps := httptest.NewServer(p.handler())
	t.Cleanup(ps.Close)

	cfg := config.Defaults()
	cfg.WorkDir = t.TempDir()
	cfg.Models.Dir = stageModels(t)
	cfg.Models.LoadTimeout = config.D(10 * time.Second)
	cfg.Runtime.URL = ps.URL
	cfg.Runtime.RequestTimeout = config.D(10 * time.Second)
	cfg.Inference.LockWait = config.D(5 * time.Second)
	cfg.Inference.JobTimeout = config.D(time.Minute)
	cfg.Output.VideoCodec = "mpeg4"
	cfg.Output.MinOutputBytes = 64
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := app.New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	srv := httptest.NewServer(httpapi.NewMux(a))
	t.Cleanup(srv.Close)
	return &stack{srv: srv, app: a, pipeline: p}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}
