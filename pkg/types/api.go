package types

import "encoding/json"

// JobRequest is the payload delivered by the serverless platform for one job.
type JobRequest struct {
	// Caller-assigned job identifier. Generated when empty.
	// example: job-7f3a
	ID string `json:"id,omitempty" example:"job-7f3a"`
	// Job input: source image, driving audio and options.
	Input JobInput `json:"input"`
}

// JobInput carries the references to the source image and driving audio.
// Each reference is an http(s) URL, a data URI or bare base64.
type JobInput struct {
	// Source portrait image (URL or base64).
	// example: https://example.com/portrait.jpg
	Image string `json:"image,omitempty" example:"https://example.com/portrait.jpg"`
	// Driving audio (URL or base64).
	// example: https://example.com/speech.mp3
	Audio string `json:"audio,omitempty" example:"https://example.com/speech.mp3"`
	// Legacy keys accepted for compatibility with older clients.
	ImageBase64 string `json:"image_base64,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	AudioBase64 string `json:"audio_base64,omitempty"`
	AudioURL    string `json:"audio_url,omitempty"`
	// Loosely typed options; parsed and range-checked at the boundary.
	Options json.RawMessage `json:"options,omitempty" swaggertype:"object"`
}

// JobResponse is the single terminal result returned for a job.
type JobResponse struct {
	// Job identifier echoed from the request (or generated).
	// example: job-7f3a
	ID string `json:"id" example:"job-7f3a"`
	// Either "success" or "error".
	// example: success
	Status string `json:"status" example:"success"`
	// Present when status is success.
	Output *JobOutput `json:"output,omitempty"`
	// Present when status is error.
	Error *JobError `json:"error,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// JobOutput describes the rendered video.
type JobOutput struct {
	// Base64 video bytes or a retrievable URL, see Encoding.
	Video string `json:"video"`
	// "base64" or "url".
	// example: base64
	Encoding string `json:"encoding" example:"base64"`
	// Container MIME type.
	// example: video/mp4
	ContentType string `json:"content_type" example:"video/mp4"`
	// Duration of the rendered video in seconds.
	// example: 4.2
	DurationSeconds float64 `json:"duration_seconds" example:"4.2"`
	// Frames per second of the rendered video.
	// example: 25
	FPS int `json:"fps" example:"25"`
	// Resolution tier used.
	// example: standard
	Resolution string `json:"resolution" example:"standard"`
	// Pixel dimensions.
	Width  int `json:"width" example:"512"`
	Height int `json:"height" example:"512"`
	// Number of frames in the container.
	// example: 105
	FrameCount int `json:"frame_count" example:"105"`
	// Encoded size in bytes.
	SizeBytes int64 `json:"size_bytes" example:"482113"`
	// Parameters actually used.
	Seed          int64   `json:"seed" example:"42"`
	Steps         int     `json:"steps" example:"40"`
	GuidanceScale float64 `json:"guidance_scale" example:"3.5"`
	// True when the requested duration exceeded the configured maximum.
	Clamped bool `json:"clamped,omitempty"`
	// Duration originally requested (or the audio duration) before clamping.
	RequestedDurationSeconds float64 `json:"requested_duration_seconds,omitempty"`
	// Device the pipeline ran on.
	// example: cuda
	Device string `json:"device" example:"cuda"`
}

// JobError is the structured failure payload.
type JobError struct {
	// Error kind, e.g. invalid_request, no_face_detected, resource_exhausted.
	// example: no_face_detected
	Kind string `json:"kind" example:"no_face_detected"`
	// Human-readable message.
	// example: no face detected in source image
	Message string `json:"message" example:"no face detected in source image"`
	// Whether the platform may retry the job (typically on another worker).
	// example: false
	Retryable bool `json:"retryable" example:"false"`
}

// ErrorResponse is a consistent JSON error payload for non-job endpoints.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Bundle lifecycle state: unloaded, loading, ready, error.
	// example: ready
	State string `json:"state" example:"ready"`
	// Device the bundle is placed on.
	// example: cuda
	Device string `json:"device,omitempty" example:"cuda"`
	// True when the preferred accelerator was unavailable.
	DeviceFallback bool `json:"device_fallback"`
	// Loaded components.
	Components []ComponentStatus `json:"components"`
	// Resolution tiers the loaded bundle can render, smallest first.
	// example: ["low","standard","high"]
	Resolutions []string `json:"resolutions,omitempty"`
	// Wall time spent loading the bundle, in milliseconds.
	LoadMillis int64 `json:"load_ms,omitempty"`
	// Jobs waiting for the accelerator.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Jobs currently holding the accelerator (0 or 1).
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Maximum jobs allowed to wait for the accelerator.
	// example: 4
	MaxQueueDepth int `json:"max_queue_depth" example:"4"`
	// Fatal load error, if any.
	Error string `json:"error,omitempty"`
	// Uptime of the process in seconds.
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// ComponentStatus summarizes one loaded model component.
type ComponentStatus struct {
	// example: denoising_unet
	Name string `json:"name" example:"denoising_unet"`
	// example: /models/hallo/net.pth
	Path string `json:"path" example:"/models/hallo/net.pth"`
	// Runtime handle for the loaded weights.
	Handle string `json:"handle,omitempty"`
	// example: 1200
	SizeMB int64 `json:"size_mb" example:"1200"`
}
