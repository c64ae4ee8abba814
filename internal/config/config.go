package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that decodes from strings like "90s" in every
// supported config format.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// D is shorthand for building a Duration.
func D(v time.Duration) Duration { return Duration{v} }

// Config holds runtime parameters for the worker.
type Config struct {
	WorkDir   string          `json:"work_dir" yaml:"work_dir" toml:"work_dir"`
	Log       LogConfig       `json:"log" yaml:"log" toml:"log"`
	Server    ServerConfig    `json:"server" yaml:"server" toml:"server"`
	Models    ModelsConfig    `json:"models" yaml:"models" toml:"models"`
	Runtime   RuntimeConfig   `json:"runtime" yaml:"runtime" toml:"runtime"`
	Media     MediaConfig     `json:"media" yaml:"media" toml:"media"`
	Inputs    InputsConfig    `json:"inputs" yaml:"inputs" toml:"inputs"`
	Inference InferenceConfig `json:"inference" yaml:"inference" toml:"inference"`
	Output    OutputConfig    `json:"output" yaml:"output" toml:"output"`
	Storage   StorageConfig   `json:"storage" yaml:"storage" toml:"storage"`
	Queue     QueueConfig     `json:"queue" yaml:"queue" toml:"queue"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"` // json | console
}

type ServerConfig struct {
	Addr         string   `json:"addr" yaml:"addr" toml:"addr"`
	MaxBodyBytes int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	CORSEnabled  bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins  []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	Preload      bool     `json:"preload" yaml:"preload" toml:"preload"`
}

type ModelsConfig struct {
	Dir            string            `json:"dir" yaml:"dir" toml:"dir"`
	Device         string            `json:"device" yaml:"device" toml:"device"`
	FallbackDevice string            `json:"fallback_device" yaml:"fallback_device" toml:"fallback_device"`
	Components     map[string]string `json:"components" yaml:"components" toml:"components"`
	LoadTimeout    Duration          `json:"load_timeout" yaml:"load_timeout" toml:"load_timeout"`
}

type RuntimeConfig struct {
	// URL points at an already running pipeline server. When set, Bin is
	// not spawned.
	URL            string   `json:"url" yaml:"url" toml:"url"`
	Bin            string   `json:"bin" yaml:"bin" toml:"bin"`
	Args           []string `json:"args" yaml:"args" toml:"args"`
	Host           string   `json:"host" yaml:"host" toml:"host"`
	PortStart      int      `json:"port_start" yaml:"port_start" toml:"port_start"`
	PortEnd        int      `json:"port_end" yaml:"port_end" toml:"port_end"`
	ReadyTimeout   Duration `json:"ready_timeout" yaml:"ready_timeout" toml:"ready_timeout"`
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
}

type MediaConfig struct {
	FFmpeg  string `json:"ffmpeg" yaml:"ffmpeg" toml:"ffmpeg"`
	FFprobe string `json:"ffprobe" yaml:"ffprobe" toml:"ffprobe"`
}

type InputsConfig struct {
	FetchTimeout  Duration `json:"fetch_timeout" yaml:"fetch_timeout" toml:"fetch_timeout"`
	MaxFetchBytes int64    `json:"max_fetch_bytes" yaml:"max_fetch_bytes" toml:"max_fetch_bytes"`
	SampleRate    int      `json:"sample_rate" yaml:"sample_rate" toml:"sample_rate"`
	FacePolicy    string   `json:"face_policy" yaml:"face_policy" toml:"face_policy"` // largest | reject
}

type InferenceConfig struct {
	MaxSteps             int      `json:"max_steps" yaml:"max_steps" toml:"max_steps"`
	MaxDurationSeconds   float64  `json:"max_duration_seconds" yaml:"max_duration_seconds" toml:"max_duration_seconds"`
	ClipFrames           int      `json:"clip_frames" yaml:"clip_frames" toml:"clip_frames"`
	SupportedResolutions []string `json:"supported_resolutions" yaml:"supported_resolutions" toml:"supported_resolutions"`
	LockQueueDepth       int      `json:"lock_queue_depth" yaml:"lock_queue_depth" toml:"lock_queue_depth"`
	LockWait             Duration `json:"lock_wait" yaml:"lock_wait" toml:"lock_wait"`
	JobTimeout           Duration `json:"job_timeout" yaml:"job_timeout" toml:"job_timeout"`
}

type OutputConfig struct {
	Container      string `json:"container" yaml:"container" toml:"container"`
	VideoCodec     string `json:"video_codec" yaml:"video_codec" toml:"video_codec"`
	AudioCodec     string `json:"audio_codec" yaml:"audio_codec" toml:"audio_codec"`
	PixelFormat    string `json:"pixel_format" yaml:"pixel_format" toml:"pixel_format"`
	CRF            int    `json:"crf" yaml:"crf" toml:"crf"`
	InlineMaxBytes int64  `json:"inline_max_bytes" yaml:"inline_max_bytes" toml:"inline_max_bytes"`
	MinOutputBytes int64  `json:"min_output_bytes" yaml:"min_output_bytes" toml:"min_output_bytes"`
}

type StorageConfig struct {
	Provider  string       `json:"provider" yaml:"provider" toml:"provider"` // none | localfs | gdrive
	LocalRoot string       `json:"local_root" yaml:"local_root" toml:"local_root"`
	BaseURL   string       `json:"base_url" yaml:"base_url" toml:"base_url"`
	GDrive    GDriveConfig `json:"gdrive" yaml:"gdrive" toml:"gdrive"`
}

type GDriveConfig struct {
	ClientID     string `json:"client_id" yaml:"client_id" toml:"client_id"`
	ClientSecret string `json:"client_secret" yaml:"client_secret" toml:"client_secret"`
	RefreshToken string `json:"refresh_token" yaml:"refresh_token" toml:"refresh_token"`
	FolderID     string `json:"folder_id" yaml:"folder_id" toml:"folder_id"`
}

type QueueConfig struct {
	RedisAddr     string   `json:"redis_addr" yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string   `json:"redis_password" yaml:"redis_password" toml:"redis_password"`
	RedisDB       int      `json:"redis_db" yaml:"redis_db" toml:"redis_db"`
	List          string   `json:"list" yaml:"list" toml:"list"`
	KeyPrefix     string   `json:"key_prefix" yaml:"key_prefix" toml:"key_prefix"`
	ResultTTL     Duration `json:"result_ttl" yaml:"result_ttl" toml:"result_ttl"`
	PopTimeout    Duration `json:"pop_timeout" yaml:"pop_timeout" toml:"pop_timeout"`
}

// DefaultComponents maps each required model component to its path relative
// to the staging directory.
func DefaultComponents() map[string]string {
	return map[string]string{
		"face_analysis":  "face_analysis/models",
		"audio_encoder":  "wav2vec/wav2vec2-base-960h",
		"image_encoder":  "stable-diffusion-v1-5/unet",
		"denoising_unet": "hallo/net.pth",
		"motion_module":  "motion_module/mm_sd_v15_v2.ckpt",
		"vae":            "sd-vae-ft-mse",
	}
}

// Defaults returns the documented default configuration.
func Defaults() Config {
	return Config{
		WorkDir: "/tmp/hallod",
		Log:     LogConfig{Level: "info", Format: "json"},
		Server: ServerConfig{
			Addr:         ":8080",
			MaxBodyBytes: 96 << 20,
			Preload:      true,
		},
		Models: ModelsConfig{
			Dir:            "/app/pretrained_models",
			Device:         "cuda",
			FallbackDevice: "cpu",
			Components:     DefaultComponents(),
			LoadTimeout:    D(10 * time.Minute),
		},
		Runtime: RuntimeConfig{
			Bin:            "python",
			Args:           []string{"-m", "hallo.serve"},
			Host:           "127.0.0.1",
			ReadyTimeout:   D(2 * time.Minute),
			RequestTimeout: D(10 * time.Minute),
		},
		Media: MediaConfig{FFmpeg: "ffmpeg", FFprobe: "ffprobe"},
		Inputs: InputsConfig{
			FetchTimeout:  D(120 * time.Second),
			MaxFetchBytes: 64 << 20,
			SampleRate:    16000,
			FacePolicy:    "largest",
		},
		Inference: InferenceConfig{
			MaxSteps:             50,
			MaxDurationSeconds:   60,
			ClipFrames:           16,
			SupportedResolutions: []string{"low", "standard", "high"},
			LockQueueDepth:       4,
			LockWait:             D(10 * time.Minute),
			JobTimeout:           D(15 * time.Minute),
		},
		Output: OutputConfig{
			Container:      "mp4",
			VideoCodec:     "libx264",
			AudioCodec:     "aac",
			PixelFormat:    "yuv420p",
			CRF:            18,
			InlineMaxBytes: 8 << 20,
			MinOutputBytes: 1024,
		},
		Storage: StorageConfig{Provider: "none", LocalRoot: "/tmp/hallod/outputs"},
		Queue: QueueConfig{
			RedisAddr:  "127.0.0.1:6379",
			List:       "hallod:jobs",
			KeyPrefix:  "hallod",
			ResultTTL:  D(24 * time.Hour),
			PopTimeout: D(30 * time.Second),
		},
	}
}

// Validate rejects inconsistent settings.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Models.Dir) == "" {
		return fmt.Errorf("models.dir is required")
	}
	if len(c.Models.Components) == 0 {
		return fmt.Errorf("models.components must list at least one component")
	}
	switch c.Inputs.FacePolicy {
	case "largest", "reject":
	default:
		return fmt.Errorf("inputs.face_policy must be largest or reject, got %q", c.Inputs.FacePolicy)
	}
	if c.Inputs.SampleRate <= 0 {
		return fmt.Errorf("inputs.sample_rate must be positive")
	}
	if c.Inputs.MaxFetchBytes <= 0 {
		return fmt.Errorf("inputs.max_fetch_bytes must be positive")
	}
	if c.Inference.MaxSteps <= 0 {
		return fmt.Errorf("inference.max_steps must be positive")
	}
	if c.Inference.MaxDurationSeconds <= 0 {
		return fmt.Errorf("inference.max_duration_seconds must be positive")
	}
	if c.Inference.ClipFrames <= 0 {
		return fmt.Errorf("inference.clip_frames must be positive")
	}
	if len(c.Inference.SupportedResolutions) == 0 {
		return fmt.Errorf("inference.supported_resolutions must not be empty")
	}
	if c.Inference.JobTimeout.Duration <= 0 {
		return fmt.Errorf("inference.job_timeout must be positive")
	}
	switch c.Storage.Provider {
	case "", "none", "localfs", "gdrive":
	default:
		return fmt.Errorf("unknown storage provider: %s", c.Storage.Provider)
	}
	if c.Output.InlineMaxBytes < 0 {
		return fmt.Errorf("output.inline_max_bytes must not be negative")
	}
	return nil
}

// ApplyEnv overrides fields from HALLOD_* variables read through getenv.
func ApplyEnv(c *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	var firstErr error
	num := func(key string, dst *int64) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", key, err)
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *Duration) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", key, err)
			}
		}
	}

	str("HALLOD_WORK_DIR", &c.WorkDir)
	str("HALLOD_LOG_LEVEL", &c.Log.Level)
	str("HALLOD_LOG_FORMAT", &c.Log.Format)
	str("HALLOD_ADDR", &c.Server.Addr)
	str("HALLOD_MODELS_DIR", &c.Models.Dir)
	str("HALLOD_DEVICE", &c.Models.Device)
	dur("HALLOD_LOAD_TIMEOUT", &c.Models.LoadTimeout)
	str("HALLOD_RUNTIME_BIN", &c.Runtime.Bin)
	str("HALLOD_RUNTIME_URL", &c.Runtime.URL)
	str("HALLOD_FFMPEG", &c.Media.FFmpeg)
	str("HALLOD_FFPROBE", &c.Media.FFprobe)
	dur("HALLOD_FETCH_TIMEOUT", &c.Inputs.FetchTimeout)
	num("HALLOD_MAX_FETCH_BYTES", &c.Inputs.MaxFetchBytes)
	str("HALLOD_FACE_POLICY", &c.Inputs.FacePolicy)
	dur("HALLOD_JOB_TIMEOUT", &c.Inference.JobTimeout)
	num("HALLOD_INLINE_MAX_BYTES", &c.Output.InlineMaxBytes)
	str("HALLOD_STORAGE_PROVIDER", &c.Storage.Provider)
	str("HALLOD_STORAGE_LOCAL_ROOT", &c.Storage.LocalRoot)
	str("HALLOD_STORAGE_BASE_URL", &c.Storage.BaseURL)
	str("HALLOD_GDRIVE_CLIENT_ID", &c.Storage.GDrive.ClientID)
	str("HALLOD_GDRIVE_CLIENT_SECRET", &c.Storage.GDrive.ClientSecret)
	str("HALLOD_GDRIVE_REFRESH_TOKEN", &c.Storage.GDrive.RefreshToken)
	str("HALLOD_GDRIVE_FOLDER_ID", &c.Storage.GDrive.FolderID)
	str("HALLOD_REDIS_ADDR", &c.Queue.RedisAddr)
	str("HALLOD_REDIS_PASSWORD", &c.Queue.RedisPassword)
	str("HALLOD_QUEUE_LIST", &c.Queue.List)

	if v := strings.TrimSpace(getenv("HALLOD_MAX_DURATION_SECONDS")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("HALLOD_MAX_DURATION_SECONDS: %w", err)
		}
		c.Inference.MaxDurationSeconds = f
	}
	if v := strings.TrimSpace(getenv("HALLOD_MAX_STEPS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HALLOD_MAX_STEPS: %w", err)
		}
		c.Inference.MaxSteps = n
	}
	return firstErr
}
