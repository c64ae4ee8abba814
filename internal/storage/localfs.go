package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalFS stores objects under a root directory. When BaseURL is set the
// returned URL is BaseURL/key, otherwise a file:// URL.
type LocalFS struct {
	root    string
	baseURL string
}

func NewLocalFS(root, baseURL string) *LocalFS {
	return &LocalFS{root: root, baseURL: strings.TrimRight(baseURL, "/")}
}

func (l *LocalFS) Provider() string { return "localfs" }

func (l *LocalFS) Put(ctx context.Context, in PutInput) (Object, error) {
	key, err := sanitizeKey(in.Key)
	if err != nil {
		return Object{}, err
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	dst := filepath.Join(l.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Object{}, fmt.Errorf("storage: ensure directory: %w", err)
	}
	tmp := dst + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return Object{}, fmt.Errorf("storage: create: %w", err)
	}
	n, err := io.Copy(f, in.Reader)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return Object{}, fmt.Errorf("storage: write: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return Object{}, fmt.Errorf("storage: rename: %w", err)
	}
	url := "file://" + filepath.ToSlash(dst)
	if l.baseURL != "" {
		url = l.baseURL + "/" + key
	}
	return Object{Provider: l.Provider(), Key: key, URL: url, Size: n}, nil
}

func (l *LocalFS) Delete(ctx context.Context, key string) error {
	k, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	return os.Remove(filepath.Join(l.root, filepath.FromSlash(k)))
}
