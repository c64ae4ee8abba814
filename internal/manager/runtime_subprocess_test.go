package manager

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRemoteRuntime_RoundTrips(t *testing.T) {
	var gotClip ClipRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/faces":
			_, _ = w.Write([]byte(`{"faces":[{"bbox":{"x":1,"y":2,"w":3,"h":4},"score":0.9}]}`))
		case "/v1/generate":
			_ = json.NewDecoder(r.Body).Decode(&gotClip)
			_, _ = w.Write([]byte(`{"handle":"lat-1"}`))
		case "/v1/decode":
			_, _ = w.Write([]byte(`{"frames":16}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	rt := NewRemoteRuntime(ts.URL, ts.Client(), time.Second)
	faces, err := rt.DetectFaces(context.Background(), "/img.png")
	if err != nil || len(faces) != 1 || faces[0].BBox.Area() != 12 {
		t.Fatalf("faces=%+v err=%v", faces, err)
	}
	h, err := rt.GenerateClip(context.Background(), ClipRequest{Seed: 42, Steps: 30, FrameCount: 16})
	if err != nil || h != "lat-1" {
		t.Fatalf("handle=%q err=%v", h, err)
	}
	if gotClip.Seed != 42 || gotClip.Steps != 30 {
		t.Fatalf("request not forwarded: %+v", gotClip)
	}
	n, err := rt.Decode(context.Background(), DecodeRequest{Latents: []Handle{"lat-1"}})
	if err != nil || n != 16 {
		t.Fatalf("frames=%d err=%v", n, err)
	}
}

func TestRemoteRuntime_ErrorMapping(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/generate":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"kind":"out_of_memory","message":"CUDA out of memory"}}`))
		case "/v1/decode":
			w.WriteHeader(http.StatusInsufficientStorage)
			_, _ = w.Write([]byte(`vram full`))
		case "/v1/identity":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"kind":"unsupported_resolution","message":"768 not supported"}}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`boom`))
		}
	}))
	defer ts.Close()
	rt := NewRemoteRuntime(ts.URL, ts.Client(), time.Second)

	_, err := rt.GenerateClip(context.Background(), ClipRequest{})
	if !IsResourceExhausted(err) {
		t.Fatalf("expected resource exhausted, got %v", err)
	}
	_, err = rt.Decode(context.Background(), DecodeRequest{})
	if !IsResourceExhausted(err) {
		t.Fatalf("507 should be resource exhausted, got %v", err)
	}
	_, err = rt.EncodeIdentity(context.Background(), IdentityRequest{})
	if !IsUnsupportedResolution(err) {
		t.Fatalf("expected unsupported resolution, got %v", err)
	}
	_, err = rt.ExtractAudioFeatures(context.Background(), AudioFeaturesRequest{})
	var re *RuntimeError
	if !errors.As(err, &re) || re.Status != 500 || re.Message != "boom" || IsResourceExhausted(err) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRemoteRuntime_ContextCancel(t *testing.T) {
	block := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(block)
	rt := NewRemoteRuntime(ts.URL, ts.Client(), 0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := rt.GenerateClip(ctx, ClipRequest{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func buildFakePipelineServer(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not on PATH")
	}
	bin := filepath.Join(t.TempDir(), "fake_pipeline_server")
	cmd := exec.Command("go", "build", "-o", bin, "./testdata/fake_pipeline_server.go")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build fake server: %v: %s", err, out)
	}
	return bin
}

func TestSubprocessRuntime_SpawnAndStop(t *testing.T) {
	bin := buildFakePipelineServer(t)
	pub := NewMemoryPublisher()
	rt := NewSubprocessRuntime(SubprocessConfig{Bin: bin, ReadyTimeout: 10 * time.Second, Logger: zerolog.Nop(), Publisher: pub})
	defer rt.Close()

	faces, err := rt.DetectFaces(context.Background(), "/img.png")
	if err != nil || len(faces) != 1 {
		t.Fatalf("faces=%v err=%v", faces, err)
	}
	pid := rt.PID()
	if pid == 0 {
		t.Fatalf("expected a running process")
	}
	ok, err := rt.ProbeDevice(context.Background(), "cuda")
	if err != nil || !ok {
		t.Fatalf("probe: %v %v", ok, err)
	}
	if rt.PID() != pid {
		t.Fatalf("server should be reused")
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if rt.PID() != 0 || pub.Count("spawn_ready") != 1 || pub.Count("spawn_stop") != 1 {
		t.Fatalf("unexpected state after close: %+v", pub.Events())
	}
}

func TestSubprocessRuntime_EarlyExitCarriesStderr(t *testing.T) {
	bin := buildFakePipelineServer(t)
	rt := NewSubprocessRuntime(SubprocessConfig{Bin: bin, Args: []string{"-fail"}, ReadyTimeout: 10 * time.Second, Logger: zerolog.Nop()})
	_, err := rt.DetectFaces(context.Background(), "/img.png")
	if err == nil || !strings.Contains(err.Error(), "no kernel image") {
		t.Fatalf("expected stderr tail in error, got %v", err)
	}
}

func TestSubprocessRuntime_MissingBinary(t *testing.T) {
	rt := NewSubprocessRuntime(SubprocessConfig{Bin: "/nonexistent/hallo-serve", Logger: zerolog.Nop()})
	if _, err := rt.ProbeDevice(context.Background(), "cuda"); err == nil {
		t.Fatalf("expected spawn error")
	}
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(5)
	_, _ = tb.Write([]byte("hello "))
	_, _ = tb.Write([]byte("world"))
	if got := tb.String(); got != "world" {
		t.Fatalf("tail=%q", got)
	}
}

func TestPickFreePort(t *testing.T) {
	p, err := pickFreePort("127.0.0.1")
	if err != nil || p <= 0 {
		t.Fatalf("port=%d err=%v", p, err)
	}
}
