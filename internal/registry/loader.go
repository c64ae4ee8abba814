// Package registry verifies the staged model tree and describes each
// component the runtime has to load.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"hallod/internal/common/fsutil"
	"hallod/pkg/types"
)

// ManifestName is the optional checksum manifest at the root of the tree.
const ManifestName = "manifest.yaml"

// LoadOrder is the fixed order components are loaded in. Components not
// listed here load afterwards in name order.
var LoadOrder = []string{
	"face_analysis",
	"audio_encoder",
	"image_encoder",
	"denoising_unet",
	"motion_module",
	"vae",
}

// Manifest maps paths relative to the staging root to expected sha256 sums.
type Manifest struct {
	Checksums map[string]string `yaml:"checksums"`
}

// ErrMissing and ErrCorrupt classify staging problems.
var (
	ErrMissing = errors.New("component missing")
	ErrCorrupt = errors.New("component corrupt")
)

// ComponentError names the component a staging check failed for.
type ComponentError struct {
	Component string
	Path      string
	Err       error
	Detail    string
}

func (e *ComponentError) Error() string {
	msg := fmt.Sprintf("%s (%s): %v", e.Component, e.Path, e.Err)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ComponentError) Unwrap() error { return e.Err }

// LoadDir verifies every component under dir and returns them in load order.
// components maps component name to a path relative to dir.
func LoadDir(dir string, components map[string]string) ([]types.ModelFile, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	if st, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("models dir: %w", err)
	} else if !st.IsDir() {
		return nil, fmt.Errorf("models dir %s is not a directory", abs)
	}
	man, err := readManifest(abs)
	if err != nil {
		return nil, err
	}

	var out []types.ModelFile
	for _, name := range orderedNames(components) {
		rel := filepath.Clean(components[name])
		mf, err := inspect(abs, name, rel, man.Checksums[filepath.ToSlash(rel)])
		if err != nil {
			return nil, err
		}
		out = append(out, mf)
	}
	return out, nil
}

func inspect(root, name, rel, want string) (types.ModelFile, error) {
	p := filepath.Join(root, rel)
	st, err := os.Stat(p)
	if err != nil {
		return types.ModelFile{}, &ComponentError{Component: name, Path: p, Err: ErrMissing, Detail: err.Error()}
	}
	size, err := fsutil.Size(p)
	if err != nil {
		return types.ModelFile{}, &ComponentError{Component: name, Path: p, Err: ErrCorrupt, Detail: err.Error()}
	}
	if size == 0 {
		return types.ModelFile{}, &ComponentError{Component: name, Path: p, Err: ErrMissing, Detail: "empty"}
	}
	mf := types.ModelFile{Component: name, Path: p, SizeBytes: size, IsDir: st.IsDir()}
	if want != "" && !st.IsDir() {
		got, err := fsutil.SHA256File(p)
		if err != nil {
			return types.ModelFile{}, &ComponentError{Component: name, Path: p, Err: ErrCorrupt, Detail: err.Error()}
		}
		if !strings.EqualFold(got, want) {
			return types.ModelFile{}, &ComponentError{Component: name, Path: p, Err: ErrCorrupt, Detail: "sha256 mismatch: got " + got}
		}
		mf.SHA256 = strings.ToLower(want)
	}
	return mf, nil
}

func readManifest(root string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(filepath.Join(root, ManifestName))
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

func orderedNames(components map[string]string) []string {
	rank := make(map[string]int, len(LoadOrder))
	for i, n := range LoadOrder {
		rank[n] = i
	}
	names := make([]string, 0, len(components))
	for n := range components {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		ri, iok := rank[names[i]]
		rj, jok := rank[names[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		}
		return names[i] < names[j]
	})
	return names
}
