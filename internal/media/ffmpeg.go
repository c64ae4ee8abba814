// Package media wraps the ffmpeg and ffprobe binaries used to normalize input
// audio and to mux generated frames into the output container.
package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// FramePattern is the file name pattern frames are written under.
const FramePattern = "frame_%05d.png"

// stderrTail bounds how much ffmpeg stderr is kept in error messages.
const stderrTail = 2048

// FFmpeg runs the ffmpeg/ffprobe binaries.
type FFmpeg struct {
	Bin      string
	ProbeBin string
}

// New returns an FFmpeg using the given binaries, defaulting to PATH lookups.
func New(bin, probeBin string) *FFmpeg {
	if strings.TrimSpace(bin) == "" {
		bin = "ffmpeg"
	}
	if strings.TrimSpace(probeBin) == "" {
		probeBin = "ffprobe"
	}
	return &FFmpeg{Bin: bin, ProbeBin: probeBin}
}

// ExitError carries the tail of stderr from a failed invocation.
type ExitError struct {
	Bin    string
	Err    error
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %v", e.Bin, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Bin, e.Err, e.Stderr)
}

func (e *ExitError) Unwrap() error { return e.Err }

func (f *FFmpeg) run(ctx context.Context, bin string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ExitError{Bin: bin, Err: err, Stderr: tail(stderr.String(), stderrTail)}
	}
	return stdout.Bytes(), nil
}

// DecodeAudio converts any audio ffmpeg understands into mono signed 16-bit
// samples at the given rate.
func (f *FFmpeg) DecodeAudio(ctx context.Context, src string, rate int) ([]int16, error) {
	out, err := f.run(ctx, f.Bin, decodeArgs(src, rate))
	if err != nil {
		return nil, err
	}
	samples := PCMFromBytes(out)
	if len(samples) == 0 {
		return nil, errors.New("decoded audio is empty")
	}
	return samples, nil
}

func decodeArgs(src string, rate int) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", src,
		"-vn",
		"-ar", strconv.Itoa(rate),
		"-ac", "1",
		"-acodec", "pcm_s16le",
		"-f", "s16le",
		"pipe:1",
	}
}

// Probe returns the container duration in seconds.
func (f *FFmpeg) Probe(ctx context.Context, path string) (float64, error) {
	out, err := f.run(ctx, f.ProbeBin, []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	})
	if err != nil {
		return 0, err
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return d, nil
}

// EncodeSpec describes one mux of a frame sequence with an audio track.
type EncodeSpec struct {
	FramesDir   string
	FrameCount  int
	FPS         int
	AudioPath   string
	OutPath     string
	VideoCodec  string
	AudioCodec  string
	PixelFormat string
	CRF         int
	Container   string
}

// Encode muxes frames and audio into OutPath.
func (f *FFmpeg) Encode(ctx context.Context, spec EncodeSpec) error {
	if spec.FrameCount <= 0 || spec.FPS <= 0 {
		return fmt.Errorf("invalid encode spec: frames=%d fps=%d", spec.FrameCount, spec.FPS)
	}
	_, err := f.run(ctx, f.Bin, encodeArgs(spec))
	return err
}

func encodeArgs(s EncodeSpec) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin", "-y",
		"-framerate", strconv.Itoa(s.FPS),
		"-i", strings.TrimRight(s.FramesDir, "/") + "/" + FramePattern,
		"-i", s.AudioPath,
		"-frames:v", strconv.Itoa(s.FrameCount),
		"-c:v", s.VideoCodec,
		"-pix_fmt", s.PixelFormat,
	}
	if s.CRF > 0 {
		args = append(args, "-crf", strconv.Itoa(s.CRF))
	}
	args = append(args, "-c:a", s.AudioCodec)
	if s.Container == "mp4" {
		args = append(args, "-movflags", "+faststart")
	}
	if s.Container != "" {
		args = append(args, "-f", s.Container)
	}
	return append(args, s.OutPath)
}

// Available reports which of the configured binaries cannot be found.
func (f *FFmpeg) Available() error {
	var missing []string
	for _, b := range []string{f.Bin, f.ProbeBin} {
		if _, err := exec.LookPath(b); err != nil {
			missing = append(missing, b)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("binaries not found: %s", strings.Join(missing, ", "))
	}
	return nil
}

// PCMFromBytes reinterprets little-endian s16 bytes as samples. A trailing odd
// byte is dropped.
func PCMFromBytes(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
