package types

// ModelFile is one staged model component found on disk.
type ModelFile struct {
	// Component name, e.g. denoising_unet.
	Component string `json:"component"`
	// Absolute path to the file or directory.
	Path string `json:"path"`
	// Total size in bytes (summed for directories).
	SizeBytes int64 `json:"size_bytes"`
	// True when the component is a directory (e.g. a HF snapshot).
	IsDir bool `json:"is_dir"`
	// Expected sha256 from the staging manifest, if listed.
	SHA256 string `json:"sha256,omitempty"`
}
