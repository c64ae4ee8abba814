// Package packager encodes rendered frames and the audio track into a video
// container and delivers it inline or through the object store.
package packager

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"hallod/internal/job"
	"hallod/internal/media"
	"hallod/internal/orchestrator"
	"hallod/internal/storage"
	"hallod/pkg/types"
)

// Output encodings.
const (
	EncodingBase64 = "base64"
	EncodingURL    = "url"
)

// Encoder muxes frames and audio into a container and measures the result.
type Encoder interface {
	Encode(ctx context.Context, spec media.EncodeSpec) error
	Probe(ctx context.Context, path string) (float64, error)
}

// codecSlack absorbs audio encoder priming and padding, which can stretch a
// container past its last frame by a few audio packets.
const codecSlack = 0.1

type Config struct {
	Container   string
	VideoCodec  string
	AudioCodec  string
	PixelFormat string
	CRF         int
	// InlineMaxBytes is the largest output returned as base64. Larger outputs
	// go to the object store.
	InlineMaxBytes int64
	// MinOutputBytes rejects containers too small to hold any video.
	MinOutputBytes int64
}

type Packager struct {
	cfg   Config
	enc   Encoder
	store storage.Store
	log   zerolog.Logger
}

var (
	outputBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hallod",
		Subsystem: "output",
		Name:      "bytes",
		Help:      "Size of encoded outputs in bytes",
		Buckets:   prometheus.ExponentialBuckets(64*1024, 4, 8),
	})
	deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hallod",
		Subsystem: "output",
		Name:      "deliveries_total",
		Help:      "Outputs delivered by encoding and result",
	}, []string{"encoding", "result"})
)

func init() {
	prometheus.MustRegister(outputBytes, deliveries)
}

// New returns a Packager. store may be nil, in which case outputs above the
// inline limit fail with upload_failed.
func New(cfg Config, enc Encoder, store storage.Store, log zerolog.Logger) *Packager {
	if cfg.Container == "" {
		cfg.Container = "mp4"
	}
	return &Packager{cfg: cfg, enc: enc, store: store, log: log.With().Str("component", "packager").Logger()}
}

// ContentType returns the MIME type of a container name.
func ContentType(container string) string {
	switch strings.ToLower(container) {
	case "webm":
		return "video/webm"
	case "mov":
		return "video/quicktime"
	case "mkv", "matroska":
		return "video/x-matroska"
	default:
		return "video/mp4"
	}
}

// Package encodes res and returns the job output.
func (p *Packager) Package(ctx context.Context, jobID string, res *orchestrator.Result) (types.JobOutput, error) {
	out := filepath.Join(filepath.Dir(res.FramesDir), "output."+p.cfg.Container)
	spec := media.EncodeSpec{
		FramesDir:   res.FramesDir,
		FrameCount:  res.FrameCount,
		FPS:         res.FPS,
		AudioPath:   res.AudioPath,
		OutPath:     out,
		VideoCodec:  p.cfg.VideoCodec,
		AudioCodec:  p.cfg.AudioCodec,
		PixelFormat: p.cfg.PixelFormat,
		CRF:         p.cfg.CRF,
		Container:   p.cfg.Container,
	}
	if err := p.enc.Encode(ctx, spec); err != nil {
		if ce := job.FromContext(ctx.Err(), "packaging"); ce != nil {
			return types.JobOutput{}, ce
		}
		return types.JobOutput{}, job.PackagingError(job.KindEncodeFailed, "video encode failed", err)
	}
	st, err := os.Stat(out)
	if err != nil {
		return types.JobOutput{}, job.PackagingError(job.KindEncodeFailed, "encoder produced no output", err)
	}
	if st.Size() < p.cfg.MinOutputBytes {
		return types.JobOutput{}, job.PackagingError(job.KindEncodeFailed,
			fmt.Sprintf("encoded output is %d bytes, below the %d byte minimum", st.Size(), p.cfg.MinOutputBytes), nil)
	}
	if err := p.checkDuration(ctx, out, res); err != nil {
		return types.JobOutput{}, err
	}
	outputBytes.Observe(float64(st.Size()))

	o := types.JobOutput{
		ContentType:              ContentType(p.cfg.Container),
		DurationSeconds:          res.DurationSeconds,
		FPS:                      res.FPS,
		Resolution:               string(res.Resolution),
		Width:                    res.Width,
		Height:                   res.Height,
		FrameCount:               res.FrameCount,
		SizeBytes:                st.Size(),
		Seed:                     res.Seed,
		Steps:                    res.Steps,
		GuidanceScale:            res.GuidanceScale,
		Clamped:                  res.Clamped,
		RequestedDurationSeconds: res.RequestedDurationSeconds,
		Device:                   res.Device,
	}
	if st.Size() <= p.cfg.InlineMaxBytes {
		b, err := os.ReadFile(out)
		if err != nil {
			return types.JobOutput{}, job.Internal("read encoded output", err)
		}
		o.Video = base64.StdEncoding.EncodeToString(b)
		o.Encoding = EncodingBase64
		deliveries.WithLabelValues(EncodingBase64, "ok").Inc()
		return o, nil
	}

	url, err := p.upload(ctx, jobID, out, st.Size(), o.ContentType)
	if err != nil {
		deliveries.WithLabelValues(EncodingURL, "error").Inc()
		return types.JobOutput{}, err
	}
	o.Video = url
	o.Encoding = EncodingURL
	deliveries.WithLabelValues(EncodingURL, "ok").Inc()
	return o, nil
}

// checkDuration rejects containers whose measured length is off by more than
// one frame interval from the target duration.
func (p *Packager) checkDuration(ctx context.Context, path string, res *orchestrator.Result) error {
	got, err := p.enc.Probe(ctx, path)
	if err != nil {
		if ce := job.FromContext(ctx.Err(), "packaging"); ce != nil {
			return ce
		}
		return job.PackagingError(job.KindEncodeFailed, "probe encoded output", err)
	}
	tol := codecSlack
	if res.FPS > 0 {
		tol = math.Max(tol, 1/float64(res.FPS))
	}
	if math.Abs(got-res.DurationSeconds) > tol {
		return job.PackagingError(job.KindEncodeFailed,
			fmt.Sprintf("encoded output lasts %.3fs, want %.3fs", got, res.DurationSeconds), nil)
	}
	p.log.Debug().Float64("probed_seconds", got).Float64("target_seconds", res.DurationSeconds).Msg("output duration checked")
	return nil
}

func (p *Packager) upload(ctx context.Context, jobID, path string, size int64, contentType string) (string, error) {
	if p.store == nil {
		return "", job.PackagingError(job.KindUploadFailed,
			fmt.Sprintf("output is %d bytes, above the %d byte inline limit, and no storage is configured", size, p.cfg.InlineMaxBytes), nil)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", job.Internal("open encoded output", err)
	}
	defer f.Close()
	obj, err := p.store.Put(ctx, storage.PutInput{
		Key:         "outputs/" + jobID + "." + p.cfg.Container,
		ContentType: contentType,
		Reader:      f,
		Size:        size,
	})
	if err != nil {
		if ce := job.FromContext(ctx.Err(), "packaging"); ce != nil {
			return "", ce
		}
		return "", job.PackagingError(job.KindUploadFailed, "upload to "+p.store.Provider()+" failed", err)
	}
	if obj.URL == "" {
		// Unreachable without a URL, so do not leave it behind.
		if derr := p.store.Delete(context.WithoutCancel(ctx), obj.Key); derr != nil {
			p.log.Warn().Err(derr).Str("key", obj.Key).Msg("delete orphaned output")
		}
		return "", job.PackagingError(job.KindUploadFailed, p.store.Provider()+" returned no URL", nil)
	}
	p.log.Info().Str("provider", obj.Provider).Str("key", obj.Key).Int64("bytes", size).Msg("output uploaded")
	return obj.URL, nil
}
