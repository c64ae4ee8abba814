package manager

import "context"

// Runtime is the generative pipeline as seen by the manager. Implementations
// must be safe for concurrent use; the manager serializes the accelerator
// stages itself.
type Runtime interface {
	// ProbeDevice reports whether the named device can host the bundle.
	ProbeDevice(ctx context.Context, device string) (bool, error)
	LoadComponent(ctx context.Context, req LoadRequest) (Handle, error)
	// DetectFaces runs face analysis on CPU and needs no loaded bundle.
	DetectFaces(ctx context.Context, imagePath string) ([]Face, error)
	ExtractAudioFeatures(ctx context.Context, req AudioFeaturesRequest) (Handle, error)
	EncodeIdentity(ctx context.Context, req IdentityRequest) (Handle, error)
	GenerateClip(ctx context.Context, req ClipRequest) (Handle, error)
	// Decode writes frames and returns how many it wrote.
	Decode(ctx context.Context, req DecodeRequest) (int, error)
	Close() error
}
