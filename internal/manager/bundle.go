package manager

import (
	"context"
	"sort"

	"hallod/internal/job"
)

// Bundle is the loaded pipeline. It is created once and shared read-only;
// its stage methods must only be called while holding the accelerator lock.
type Bundle struct {
	Device         string
	DeviceFallback bool
	Components     []ComponentHandle

	resolutions map[job.Resolution]bool
	rt          Runtime
}

// Supports reports whether the decoder can produce the given tier.
func (b *Bundle) Supports(r job.Resolution) bool { return b.resolutions[r] }

// Resolutions lists the supported tiers in ascending size.
func (b *Bundle) Resolutions() []job.Resolution {
	out := make([]job.Resolution, 0, len(b.resolutions))
	for r := range b.resolutions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		wi, _ := out[i].Size()
		wj, _ := out[j].Size()
		return wi < wj
	})
	return out
}

func (b *Bundle) ExtractAudioFeatures(ctx context.Context, req AudioFeaturesRequest) (Handle, error) {
	return b.rt.ExtractAudioFeatures(ctx, req)
}

func (b *Bundle) EncodeIdentity(ctx context.Context, req IdentityRequest) (Handle, error) {
	return b.rt.EncodeIdentity(ctx, req)
}

func (b *Bundle) GenerateClip(ctx context.Context, req ClipRequest) (Handle, error) {
	return b.rt.GenerateClip(ctx, req)
}

func (b *Bundle) Decode(ctx context.Context, req DecodeRequest) (int, error) {
	return b.rt.Decode(ctx, req)
}
