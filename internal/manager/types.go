package manager

// State represents the lifecycle state of the bundle.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// BBox is an axis-aligned box in source image pixels.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Area returns the box area, zero for degenerate boxes.
func (b BBox) Area() float64 {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// Face is one detected face.
type Face struct {
	BBox      BBox         `json:"bbox"`
	Landmarks [][2]float64 `json:"landmarks,omitempty"`
	Score     float64      `json:"score"`
}

// Handle names an intermediate tensor held by the runtime.
type Handle string

// ComponentHandle records one loaded model component.
type ComponentHandle struct {
	Name      string
	Path      string
	Handle    Handle
	SizeBytes int64
}

// AudioFeaturesRequest asks for per-frame motion features of an audio file.
type AudioFeaturesRequest struct {
	AudioPath  string  `json:"audio_path"`
	SampleRate int     `json:"sample_rate"`
	FPS        int     `json:"fps"`
	Frames     int     `json:"frames"`
	Duration   float64 `json:"duration_seconds"`
}

// IdentityRequest asks for the identity embedding of the selected face.
type IdentityRequest struct {
	ImagePath       string       `json:"image_path"`
	BBox            BBox         `json:"bbox"`
	Landmarks       [][2]float64 `json:"landmarks,omitempty"`
	FaceExpandRatio float64      `json:"face_expand_ratio"`
	Width           int          `json:"width"`
	Height          int          `json:"height"`
}

// ClipRequest asks the denoising backbone for one clip of latents.
type ClipRequest struct {
	Identity      Handle  `json:"identity"`
	AudioFeatures Handle  `json:"audio_features"`
	MotionContext Handle  `json:"motion_context,omitempty"`
	FrameStart    int     `json:"frame_start"`
	FrameCount    int     `json:"frame_count"`
	Steps         int     `json:"steps"`
	GuidanceScale float64 `json:"guidance_scale"`
	Seed          int64   `json:"seed"`
	PoseWeight    float64 `json:"pose_weight"`
	FaceWeight    float64 `json:"face_weight"`
	LipWeight     float64 `json:"lip_weight"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
}

// DecodeRequest asks the decoder to write frames for the given latents.
// Frames are numbered from StartIndex in OutDir.
type DecodeRequest struct {
	Latents    []Handle `json:"latents"`
	OutDir     string   `json:"out_dir"`
	StartIndex int      `json:"start_index"`
	Width      int      `json:"width"`
	Height     int      `json:"height"`
}

// LoadRequest asks the runtime to load one component onto a device.
type LoadRequest struct {
	Component string `json:"component"`
	Path      string `json:"path"`
	Device    string `json:"device"`
}
