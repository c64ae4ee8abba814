package e2e

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hallod/internal/config"
	"hallod/pkg/types"
)

func portrait() string {
	return base64.StdEncoding.EncodeToString(pngBytes(64, 64, 120))
}

func decodeJob(t *testing.T, resp *http.Response) types.JobResponse {
	t.Helper()
	defer resp.Body.Close()
	var out types.JobResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestRunSyncRendersVideo(t *testing.T) {
	requireFFmpeg(t)
	p := &pipelineServer{}
	s := newStack(t, p, nil)

	resp := postJSON(t, s.srv.URL+"/runsync", map[string]any{
		"id": "e2e-1",
		"input": map[string]any{
			"image":   portrait(),
			"audio":   toneWAV(t, 1),
			"options": map[string]any{"resolution": "low", "fps": 10, "steps": 4, "seed": 9},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("missing request id header")
	}
	out := decodeJob(t, resp)
	if out.Status != types.StatusSuccess || out.Output == nil {
		t.Fatalf("unexpected response: %+v err=%+v", out, out.Error)
	}
	o := out.Output
	if out.ID != "e2e-1" || o.Encoding != "base64" || o.ContentType != "video/mp4" {
		t.Fatalf("output=%+v", o)
	}
	if o.FrameCount != 10 || o.FPS != 10 || o.Width != 256 || o.Height != 256 || o.Seed != 9 || o.Steps != 4 {
		t.Fatalf("output=%+v", o)
	}
	video, err := base64.StdEncoding.DecodeString(o.Video)
	if err != nil || int64(len(video)) != o.SizeBytes {
		t.Fatalf("video len=%d size=%d err=%v", len(video), o.SizeBytes, err)
	}

	path := filepath.Join(t.TempDir(), "out.mp4")
	if err := os.WriteFile(path, video, 0o644); err != nil {
		t.Fatal(err)
	}
	probe, err := exec.Command("ffprobe", "-v", "error", "-show_entries", "stream=codec_type", "-of", "csv=p=0", path).Output()
	if err != nil {
		t.Fatalf("ffprobe: %v", err)
	}
	streams := strings.Fields(string(probe))
	if len(streams) != 2 {
		t.Fatalf("want video and audio streams, got %q", probe)
	}

	if n := p.count("generate"); n != 1 {
		t.Fatalf("10 frames fit one clip, got %d generate calls", n)
	}
	if !s.app.Ready() {
		t.Fatalf("bundle should be ready after a job")
	}
}

func TestRunSyncNoFace(t *testing.T) {
	requireFFmpeg(t)
	p := &pipelineServer{noFaces: true}
	s := newStack(t, p, nil)

	resp := postJSON(t, s.srv.URL+"/runsync", map[string]any{
		"input": map[string]any{"image": portrait(), "audio": toneWAV(t, 0.5)},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	out := decodeJob(t, resp)
	if out.Status != types.StatusError || out.Error == nil || out.Error.Kind != "no_face_detected" || out.Error.Retryable {
		t.Fatalf("response=%+v err=%+v", out, out.Error)
	}
	if out.ID == "" {
		t.Fatalf("generated id expected")
	}
	if p.count("load:vae") != 0 {
		t.Fatalf("bundle must not load for a job without a face")
	}
}

func TestRunSyncOutOfMemoryIsRetryable(t *testing.T) {
	requireFFmpeg(t)
	p := &pipelineServer{oom: true}
	s := newStack(t, p, nil)

	resp := postJSON(t, s.srv.URL+"/runsync", map[string]any{
		"input": map[string]any{"image": portrait(), "audio": toneWAV(t, 0.5), "options": map[string]any{"resolution": "low"}},
	})
	out := decodeJob(t, resp)
	if out.Error == nil || out.Error.Kind != "resource_exhausted" || !out.Error.Retryable {
		t.Fatalf("response=%+v err=%+v", out, out.Error)
	}
	if st := s.app.Status(); st.Inflight != 0 {
		t.Fatalf("lock still held: %+v", st)
	}
}

func TestRunSyncRejectsUnknownResolution(t *testing.T) {
	p := &pipelineServer{}
	s := newStack(t, p, nil)
	resp := postJSON(t, s.srv.URL+"/runsync", map[string]any{
		"input": map[string]any{"image": portrait(), "audio": toneWAV(t, 0.5), "options": map[string]any{"resolution": "ultra"}},
	})
	out := decodeJob(t, resp)
	if out.Error == nil || out.Error.Kind != "invalid_request" {
		t.Fatalf("response=%+v err=%+v", out, out.Error)
	}
	if p.count("faces") != 0 {
		t.Fatalf("invalid jobs must not reach the pipeline")
	}
}

func TestRunSyncUnsupportedResolution(t *testing.T) {
	requireFFmpeg(t)
	p := &pipelineServer{}
	s := newStack(t, p, func(c *config.Config) {
		c.Inference.SupportedResolutions = []string{"low"}
	})
	resp := postJSON(t, s.srv.URL+"/runsync", map[string]any{
		"input": map[string]any{"image": portrait(), "audio": toneWAV(t, 0.5), "options": map[string]any{"resolution": "high"}},
	})
	out := decodeJob(t, resp)
	if out.Error == nil || out.Error.Kind != "unsupported_resolution" {
		t.Fatalf("response=%+v err=%+v", out, out.Error)
	}
	if p.count("generate") != 0 {
		t.Fatalf("no clip should be generated")
	}
}

func TestRunSyncRequiresJSON(t *testing.T) {
	s := newStack(t, &pipelineServer{}, nil)
	resp, err := http.Post(s.srv.URL+"/runsync", "text/plain", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestPreloadReadiness(t *testing.T) {
	p := &pipelineServer{}
	s := newStack(t, p, nil)

	resp, err := http.Get(s.srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz before preload=%d", resp.StatusCode)
	}

	s.app.Preload()
	deadline := time.Now().Add(5 * time.Second)
	for !s.app.Ready() {
		if time.Now().After(deadline) {
			t.Fatalf("bundle never became ready: %+v", s.app.Status())
		}
		time.Sleep(10 * time.Millisecond)
	}
	resp, err = http.Get(s.srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz after preload=%d", resp.StatusCode)
	}

	resp, err = http.Get(s.srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("status body %s: %v", body, err)
	}
	if st.State != "ready" || len(st.Components) != len(config.DefaultComponents()) {
		t.Fatalf("status=%+v", st)
	}
	if p.count("load:denoising_unet") != 1 {
		t.Fatalf("each component loads once, calls=%v", p.calls)
	}
}
