package materialize

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"hallod/internal/job"
)

// maxPixels bounds decoded image area.
const maxPixels = 8192 * 8192

// resolve returns the raw bytes behind a reference.
func (m *Materializer) resolve(ctx context.Context, field string, ref job.Ref) ([]byte, error) {
	if ref.Kind == job.RefURL {
		return m.fetch(ctx, field, ref.Value)
	}
	b, err := decodeInline(ref.Value)
	if err != nil {
		return nil, job.InputError(job.KindDecodeFailed, field+" is not valid base64", err)
	}
	if int64(len(b)) > m.cfg.MaxBytes {
		return nil, job.InputErrorf(job.KindDecodeFailed, "%s exceeds %d bytes", field, m.cfg.MaxBytes)
	}
	if len(b) == 0 {
		return nil, job.InputErrorf(job.KindDecodeFailed, "%s is empty", field)
	}
	return b, nil
}

// fetchError classifies a transport failure. A done parent context is the
// job's deadline or the caller going away, not a bad input.
func (m *Materializer) fetchError(parent, ctx context.Context, field, op string, err error) error {
	if ce := job.FromContext(parent.Err(), "materializing"); ce != nil {
		return ce
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return job.InputErrorf(job.KindFetchFailed, "fetch %s timed out after %s", field, m.cfg.FetchTimeout)
	}
	return job.InputError(job.KindFetchFailed, op+" "+field, err)
}

func (m *Materializer) fetch(parent context.Context, field, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(parent, m.cfg.FetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, job.InputError(job.KindFetchFailed, "fetch "+field, err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, m.fetchError(parent, ctx, field, "fetch", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, job.InputErrorf(job.KindFetchFailed, "fetch %s: status %s", field, resp.Status)
	}
	if resp.ContentLength > m.cfg.MaxBytes {
		return nil, job.InputErrorf(job.KindFetchFailed, "fetch %s: payload of %d bytes exceeds %d", field, resp.ContentLength, m.cfg.MaxBytes)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, m.cfg.MaxBytes+1))
	if err != nil {
		return nil, m.fetchError(parent, ctx, field, "read", err)
	}
	if int64(len(b)) > m.cfg.MaxBytes {
		return nil, job.InputErrorf(job.KindFetchFailed, "fetch %s: payload exceeds %d bytes", field, m.cfg.MaxBytes)
	}
	if len(b) == 0 {
		return nil, job.InputErrorf(job.KindFetchFailed, "fetch %s: empty body", field)
	}
	return b, nil
}

// decodeInline accepts a data URI or bare base64 in any common alphabet.
func decodeInline(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 || !strings.HasSuffix(strings.ToLower(s[:i]), ";base64") {
			return nil, errors.New("data URI must be base64 encoded")
		}
		s = s[i+1:]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
	var lastErr error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func decodeImage(raw []byte) (*image.RGBA, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, job.InputError(job.KindDecodeFailed, "unsupported or corrupt image", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, job.InputErrorf(job.KindDecodeFailed, "image has zero area")
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, job.InputErrorf(job.KindDecodeFailed, "image of %dx%d exceeds the pixel limit", cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, job.InputError(job.KindDecodeFailed, fmt.Sprintf("decode %s image", format), err)
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba, nil
}
