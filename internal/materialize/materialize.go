// Package materialize turns the references of a job into decoded artifacts
// in a per-job work directory.
package materialize

import (
	"context"
	"image"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"hallod/internal/job"
	"hallod/internal/manager"
	"hallod/internal/media"
)

// Face selection policies for images with more than one face.
const (
	PolicyLargest = "largest"
	PolicyReject  = "reject"
)

// FaceDetector finds faces in an image file without touching the bundle.
type FaceDetector interface {
	DetectFaces(ctx context.Context, imagePath string) ([]manager.Face, error)
}

// AudioDecoder converts an audio file to mono s16 samples at rate.
type AudioDecoder interface {
	DecodeAudio(ctx context.Context, src string, rate int) ([]int16, error)
}

// Config holds materializer limits.
type Config struct {
	WorkRoot     string
	FetchTimeout time.Duration
	MaxBytes     int64
	SampleRate   int
	FacePolicy   string
}

// Materializer resolves and decodes job inputs.
type Materializer struct {
	cfg    Config
	client *http.Client
	faces  FaceDetector
	audio  AudioDecoder
	log    zerolog.Logger
}

// Input is a fully decoded job input. The job owns it; Cleanup removes the
// work directory.
type Input struct {
	WorkDir    string
	ImagePath  string
	Image      *image.RGBA
	Width      int
	Height     int
	AudioPath  string
	Samples    []int16
	SampleRate int
	Face       manager.Face
	FaceCount  int
}

// AudioDuration returns the decoded audio length in seconds.
func (in *Input) AudioDuration() float64 {
	if in.SampleRate <= 0 {
		return 0
	}
	return float64(len(in.Samples)) / float64(in.SampleRate)
}

// Cleanup removes the work directory and everything in it.
func (in *Input) Cleanup() error {
	if in == nil || in.WorkDir == "" {
		return nil
	}
	return os.RemoveAll(in.WorkDir)
}

func New(cfg Config, faces FaceDetector, audio AudioDecoder, client *http.Client, log zerolog.Logger) *Materializer {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 120 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 64 << 20
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FacePolicy == "" {
		cfg.FacePolicy = PolicyLargest
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Materializer{cfg: cfg, client: client, faces: faces, audio: audio, log: log.With().Str("component", "materialize").Logger()}
}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Materialize fetches and decodes both inputs concurrently, then detects and
// selects the face. Failures are classified input errors; the work directory
// is removed on failure.
func (m *Materializer) Materialize(ctx context.Context, j job.Job) (in *Input, err error) {
	if m.cfg.WorkRoot != "" {
		if err := os.MkdirAll(m.cfg.WorkRoot, 0o755); err != nil {
			return nil, job.Internal("create work root", err)
		}
	}
	id := unsafeIDChars.ReplaceAllString(j.ID, "_")
	if len(id) > 64 {
		id = id[:64]
	}
	dir, err := os.MkdirTemp(m.cfg.WorkRoot, "job-"+id+"-")
	if err != nil {
		return nil, job.Internal("create work dir", err)
	}
	// Error returns nil in before deferred funcs run, so remove by path.
	defer func() {
		if err != nil {
			if rerr := os.RemoveAll(dir); rerr != nil {
				m.log.Warn().Err(rerr).Str("dir", dir).Msg("remove work dir")
			}
		}
	}()
	in = &Input{WorkDir: dir, SampleRate: m.cfg.SampleRate}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.loadImage(gctx, j.Image, in) })
	g.Go(func() error { return m.loadAudio(gctx, j.Audio, in) })
	if err := g.Wait(); err != nil {
		if ce := job.FromContext(ctx.Err(), "materializing"); ce != nil {
			return nil, ce
		}
		return nil, job.Classify(err, "materializing")
	}

	face, count, err := m.selectFace(ctx, in.ImagePath)
	if err != nil {
		if ce := job.FromContext(ctx.Err(), "materializing"); ce != nil {
			return nil, ce
		}
		return nil, err
	}
	in.Face, in.FaceCount = face, count
	m.log.Debug().Str("job_id", j.ID).Int("width", in.Width).Int("height", in.Height).
		Float64("audio_seconds", in.AudioDuration()).Int("faces", count).Msg("inputs materialized")
	return in, nil
}

func (m *Materializer) loadImage(ctx context.Context, ref job.Ref, in *Input) error {
	raw, err := m.resolve(ctx, "image", ref)
	if err != nil {
		return err
	}
	img, err := decodeImage(raw)
	if err != nil {
		return err
	}
	p := filepath.Join(in.WorkDir, "image.png")
	f, err := os.Create(p)
	if err != nil {
		return job.Internal("write image", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return job.Internal("encode image", err)
	}
	if err := f.Close(); err != nil {
		return job.Internal("write image", err)
	}
	in.Image, in.ImagePath = img, p
	in.Width, in.Height = img.Bounds().Dx(), img.Bounds().Dy()
	return nil
}

func (m *Materializer) loadAudio(ctx context.Context, ref job.Ref, in *Input) error {
	raw, err := m.resolve(ctx, "audio", ref)
	if err != nil {
		return err
	}
	src := filepath.Join(in.WorkDir, "audio.src")
	if err := os.WriteFile(src, raw, 0o644); err != nil {
		return job.Internal("write audio", err)
	}
	samples, err := m.audio.DecodeAudio(ctx, src, m.cfg.SampleRate)
	if err != nil {
		if ce := job.FromContext(ctx.Err(), "materializing"); ce != nil {
			return ce
		}
		return job.InputError(job.KindDecodeFailed, "audio could not be decoded", err)
	}
	if len(samples) == 0 {
		return job.InputErrorf(job.KindDecodeFailed, "audio is empty")
	}
	p := filepath.Join(in.WorkDir, "audio.wav")
	if err := media.WriteWAV(p, samples, m.cfg.SampleRate); err != nil {
		return job.Internal("write audio", err)
	}
	in.Samples, in.AudioPath = samples, p
	return nil
}

func (m *Materializer) selectFace(ctx context.Context, imagePath string) (manager.Face, int, error) {
	faces, err := m.faces.DetectFaces(ctx, imagePath)
	if err != nil {
		if ce := job.FromContext(ctx.Err(), "face detection"); ce != nil {
			return manager.Face{}, 0, ce
		}
		if manager.IsInvalidInput(err) {
			return manager.Face{}, 0, job.InputError(job.KindDecodeFailed, "face analysis could not read the image", err)
		}
		return manager.Face{}, 0, job.InferenceError(job.KindPipelineFailed, "face analysis failed", err)
	}
	face, err := SelectFace(faces, m.cfg.FacePolicy)
	return face, len(faces), err
}

// SelectFace applies the multi-face policy.
func SelectFace(faces []manager.Face, policy string) (manager.Face, error) {
	switch {
	case len(faces) == 0:
		return manager.Face{}, job.InputErrorf(job.KindNoFace, "no face detected in image")
	case len(faces) > 1 && policy == PolicyReject:
		return manager.Face{}, job.InputErrorf(job.KindAmbiguousFace, "image contains %d faces", len(faces))
	}
	best := faces[0]
	for _, f := range faces[1:] {
		if f.BBox.Area() > best.BBox.Area() {
			best = f
		}
	}
	return best, nil
}
