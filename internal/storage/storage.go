// Package storage holds the object-store collaborator large outputs are
// uploaded to.
package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
)

// PutInput describes one object upload.
type PutInput struct {
	Key         string
	ContentType string
	Reader      io.Reader
	Size        int64
}

// Object is the reference returned for a stored object.
type Object struct {
	Provider string
	// Key is the provider's handle (the Drive file id for gdrive).
	Key  string
	URL  string
	Size int64
}

// Store is implemented by every object-store backend.
type Store interface {
	Provider() string
	Put(ctx context.Context, in PutInput) (Object, error)
	Delete(ctx context.Context, key string) error
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
