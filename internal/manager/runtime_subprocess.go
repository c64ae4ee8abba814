package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// SubprocessConfig configures the pipeline server subprocess.
type SubprocessConfig struct {
	Bin            string
	Args           []string
	Host           string
	PortStart      int
	PortEnd        int
	ReadyTimeout   time.Duration
	RequestTimeout time.Duration
	Logger         zerolog.Logger
	Publisher      EventPublisher
}

// PipelineRuntime speaks JSON over HTTP to the pipeline server. It either
// spawns the server on first use or talks to a fixed base URL.
type PipelineRuntime struct {
	cfg        SubprocessConfig
	httpClient *http.Client
	log        zerolog.Logger
	publisher  EventPublisher

	mu      sync.Mutex
	baseURL string
	fixed   bool
	proc    *pipelineProc
	loaded  int
}

type pipelineProc struct {
	cmd     *exec.Cmd
	stderr  *tailBuffer
	exited  chan struct{}
	exitErr error
}

// NewSubprocessRuntime returns a runtime that spawns cfg.Bin lazily.
func NewSubprocessRuntime(cfg SubprocessConfig) *PipelineRuntime {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 2 * time.Minute
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = noopPublisher{}
	}
	// Timeout=0: every call carries a context deadline instead.
	return &PipelineRuntime{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 0},
		log:        cfg.Logger.With().Str("component", "pipeline_runtime").Logger(),
		publisher:  pub,
	}
}

// NewRemoteRuntime talks to an already running pipeline server.
func NewRemoteRuntime(baseURL string, client *http.Client, requestTimeout time.Duration) *PipelineRuntime {
	if client == nil {
		client = &http.Client{}
	}
	return &PipelineRuntime{
		cfg:        SubprocessConfig{RequestTimeout: requestTimeout},
		httpClient: client,
		log:        zerolog.Nop(),
		publisher:  noopPublisher{},
		baseURL:    strings.TrimRight(baseURL, "/"),
		fixed:      true,
	}
}

type deviceResponse struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

type handleResponse struct {
	Handle Handle `json:"handle"`
}

type facesResponse struct {
	Faces []Face `json:"faces"`
}

type decodeResponse struct {
	Frames int `json:"frames"`
}

type errorEnvelope struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func (r *PipelineRuntime) ProbeDevice(ctx context.Context, device string) (bool, error) {
	var out deviceResponse
	if err := r.call(ctx, "probe_device", "/v1/device", map[string]string{"device": device}, &out); err != nil {
		return false, err
	}
	return out.Available, nil
}

func (r *PipelineRuntime) LoadComponent(ctx context.Context, req LoadRequest) (Handle, error) {
	var out handleResponse
	if err := r.call(ctx, "load_component", "/v1/load", req, &out); err != nil {
		return "", err
	}
	r.mu.Lock()
	r.loaded++
	r.mu.Unlock()
	return out.Handle, nil
}

func (r *PipelineRuntime) DetectFaces(ctx context.Context, imagePath string) ([]Face, error) {
	var out facesResponse
	if err := r.call(ctx, "detect_faces", "/v1/faces", map[string]string{"image_path": imagePath}, &out); err != nil {
		return nil, err
	}
	return out.Faces, nil
}

func (r *PipelineRuntime) ExtractAudioFeatures(ctx context.Context, req AudioFeaturesRequest) (Handle, error) {
	var out handleResponse
	err := r.call(ctx, "audio_features", "/v1/audio_features", req, &out)
	return out.Handle, err
}

func (r *PipelineRuntime) EncodeIdentity(ctx context.Context, req IdentityRequest) (Handle, error) {
	var out handleResponse
	err := r.call(ctx, "identity", "/v1/identity", req, &out)
	return out.Handle, err
}

func (r *PipelineRuntime) GenerateClip(ctx context.Context, req ClipRequest) (Handle, error) {
	var out handleResponse
	err := r.call(ctx, "generate_clip", "/v1/generate", req, &out)
	return out.Handle, err
}

func (r *PipelineRuntime) Decode(ctx context.Context, req DecodeRequest) (int, error) {
	var out decodeResponse
	err := r.call(ctx, "decode", "/v1/decode", req, &out)
	return out.Frames, err
}

func (r *PipelineRuntime) call(ctx context.Context, op, path string, in, out any) error {
	base, err := r.ensure(ctx)
	if err != nil {
		return err
	}
	if r.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RequestTimeout)
		defer cancel()
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &RuntimeError{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		re := &RuntimeError{Op: op, Status: resp.StatusCode}
		var env errorEnvelope
		if json.Unmarshal(b, &env) == nil && (env.Error.Kind != "" || env.Error.Message != "") {
			re.Kind, re.Message = env.Error.Kind, env.Error.Message
		} else {
			re.Message = strings.TrimSpace(string(b))
		}
		return re
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RuntimeError{Op: op, Message: "malformed response: " + err.Error()}
	}
	return nil
}

// ensure returns the server base URL, spawning the server when needed. A
// server that died before any component was loaded is restarted; one that
// died holding components is reported, since its weights are gone.
func (r *PipelineRuntime) ensure(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fixed {
		return r.baseURL, nil
	}
	if p := r.proc; p != nil {
		select {
		case <-p.exited:
			if r.loaded > 0 {
				return "", &RuntimeError{Op: "spawn", Message: fmt.Sprintf("pipeline server exited: %v; stderr tail: %s", p.exitErr, p.stderr.String())}
			}
			r.proc = nil
		default:
			return r.baseURL, nil
		}
	}
	return r.spawn(ctx)
}

// spawn must be called with r.mu held.
func (r *PipelineRuntime) spawn(ctx context.Context) (string, error) {
	if strings.TrimSpace(r.cfg.Bin) == "" {
		return "", &RuntimeError{Op: "spawn", Message: "pipeline server binary not configured"}
	}
	host := r.cfg.Host
	var port int
	var err error
	if r.cfg.PortStart > 0 && r.cfg.PortEnd >= r.cfg.PortStart {
		port, err = pickPortInRange(host, r.cfg.PortStart, r.cfg.PortEnd)
	} else {
		port, err = pickFreePort(host)
	}
	if err != nil {
		return "", &RuntimeError{Op: "spawn", Message: err.Error()}
	}
	baseURL := fmt.Sprintf("http://%s:%d", host, port)

	args := append(append([]string{}, r.cfg.Args...), "--host", host, "--port", strconv.Itoa(port))
	cmd := exec.Command(r.cfg.Bin, args...)
	p := &pipelineProc{cmd: cmd, stderr: newTailBuffer(4096), exited: make(chan struct{})}
	cmd.Stderr = p.stderr
	if err := cmd.Start(); err != nil {
		return "", &RuntimeError{Op: "spawn", Message: "start pipeline server: " + err.Error()}
	}
	go func() {
		p.exitErr = cmd.Wait()
		close(p.exited)
	}()
	pid := cmd.Process.Pid
	r.log.Info().Int("pid", pid).Str("url", baseURL).Msg("pipeline server start")
	r.publisher.Publish(Event{Name: "spawn_start", Fields: map[string]any{"pid": pid, "port": port}})

	deadline := time.NewTimer(r.cfg.ReadyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		if r.healthy(baseURL) {
			break
		}
		select {
		case <-p.exited:
			r.log.Error().Int("pid", pid).Err(p.exitErr).Msg("pipeline server exited early")
			r.publisher.Publish(Event{Name: "spawn_exit", Fields: map[string]any{"pid": pid}})
			return "", &RuntimeError{Op: "spawn", Message: fmt.Sprintf("pipeline server exited before ready: %v; stderr tail: %s", p.exitErr, p.stderr.String())}
		case <-deadline.C:
			stopProc(p)
			r.publisher.Publish(Event{Name: "spawn_timeout", Fields: map[string]any{"pid": pid}})
			return "", &RuntimeError{Op: "spawn", Message: "pipeline server not ready in " + r.cfg.ReadyTimeout.String()}
		case <-ctx.Done():
			stopProc(p)
			return "", ctx.Err()
		case <-tick.C:
		}
	}
	r.proc = p
	r.baseURL = baseURL
	r.log.Info().Int("pid", pid).Msg("pipeline server ready")
	r.publisher.Publish(Event{Name: "spawn_ready", Fields: map[string]any{"pid": pid, "url": baseURL}})
	return baseURL, nil
}

func (r *PipelineRuntime) healthy(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Close terminates the spawned server, if any.
func (r *PipelineRuntime) Close() error {
	r.mu.Lock()
	p := r.proc
	r.proc = nil
	r.mu.Unlock()
	if p != nil {
		stopProc(p)
		r.publisher.Publish(Event{Name: "spawn_stop"})
	}
	return nil
}

// PID returns the server process id, or 0 when none is running.
func (r *PipelineRuntime) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc == nil || r.proc.cmd.Process == nil {
		return 0
	}
	return r.proc.cmd.Process.Pid
}

// stopProc sends SIGTERM and kills the process if it has not exited in 2s.
func stopProc(p *pipelineProc) {
	if p.cmd.Process == nil {
		return
	}
	select {
	case <-p.exited:
		return
	default:
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.exited:
	case <-time.After(2 * time.Second):
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
}

func pickPortInRange(host string, start, end int) (int, error) {
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, errors.New("unexpected listener address: " + l.Addr().String())
	}
	return addr.Port, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer { return &tailBuffer{max: max} }

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = append([]byte(nil), t.buf[len(t.buf)-t.max:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
