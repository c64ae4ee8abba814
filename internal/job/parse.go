package job

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/google/uuid"

	"hallod/pkg/types"
)

// Decode parses a raw job payload. Any shape problem is an invalid_request.
func Decode(raw []byte) (Job, error) {
	var req types.JobRequest
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&req); err != nil {
		return Job{}, InputError(KindInvalidRequest, "malformed job payload", err)
	}
	return FromRequest(req)
}

// FromRequest validates a decoded request and resolves every default.
func FromRequest(req types.JobRequest) (Job, error) {
	j := Job{ID: strings.TrimSpace(req.ID)}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}

	var err error
	if j.Image, err = pickRef("image", req.Input.Image, req.Input.ImageURL, req.Input.ImageBase64); err != nil {
		return Job{}, err
	}
	if j.Audio, err = pickRef("audio", req.Input.Audio, req.Input.AudioURL, req.Input.AudioBase64); err != nil {
		return Job{}, err
	}
	if j.Options, err = parseOptions(req.Input.Options); err != nil {
		return Job{}, err
	}
	return j, nil
}

// pickRef resolves the spec key and the legacy url/base64 keys into one Ref.
func pickRef(field, generic, url, b64 string) (Ref, error) {
	generic, url, b64 = strings.TrimSpace(generic), strings.TrimSpace(url), strings.TrimSpace(b64)
	set := 0
	for _, v := range []string{generic, url, b64} {
		if v != "" {
			set++
		}
	}
	switch {
	case set == 0:
		return Ref{}, InputErrorf(KindInvalidRequest, "input.%s is required", field)
	case set > 1:
		return Ref{}, InputErrorf(KindInvalidRequest, "input.%s given more than once (use one of %s, %s_url, %s_base64)", field, field, field, field)
	case url != "":
		if !isURL(url) {
			return Ref{}, InputErrorf(KindInvalidRequest, "input.%s_url must be an http(s) URL", field)
		}
		return Ref{Kind: RefURL, Value: url}, nil
	case b64 != "":
		return Ref{Kind: RefInline, Value: b64}, nil
	}
	if isURL(generic) {
		return Ref{Kind: RefURL, Value: generic}, nil
	}
	return Ref{Kind: RefInline, Value: generic}, nil
}

func isURL(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

var knownOptions = map[string]bool{
	"resolution": true, "fps": true, "seed": true, "guidance_scale": true,
	"steps": true, "duration_seconds": true, "pose_weight": true,
	"face_weight": true, "lip_weight": true, "face_expand_ratio": true,
}

func parseOptions(raw json.RawMessage) (Options, error) {
	opts := DefaultOptions()
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		opts.Seed = randomSeed()
		return opts, nil
	}
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return Options{}, InputError(KindInvalidRequest, "input.options must be an object", err)
	}

	var unknown []string
	for k := range m {
		if !knownOptions[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Options{}, InputErrorf(KindInvalidRequest, "unknown option(s): %s", strings.Join(unknown, ", "))
	}

	if v, ok := m["resolution"]; ok {
		s, isStr := v.(string)
		if !isStr {
			return Options{}, InputErrorf(KindInvalidRequest, "options.resolution must be a string")
		}
		r, err := ParseResolution(s)
		if err != nil {
			return Options{}, InputError(KindInvalidRequest, "options.resolution", err)
		}
		opts.Resolution = r
	}

	var err error
	if opts.FPS, err = intOpt(m, "fps", opts.FPS, MinFPS, MaxFPS); err != nil {
		return Options{}, err
	}
	if opts.Steps, err = intOpt(m, "steps", opts.Steps, MinSteps, MaxStepsAccepted); err != nil {
		return Options{}, err
	}
	if opts.GuidanceScale, err = floatOpt(m, "guidance_scale", opts.GuidanceScale, MinGuidanceScale, MaxGuidanceScale); err != nil {
		return Options{}, err
	}
	if opts.PoseWeight, err = floatOpt(m, "pose_weight", opts.PoseWeight, MinWeight, MaxWeight); err != nil {
		return Options{}, err
	}
	if opts.FaceWeight, err = floatOpt(m, "face_weight", opts.FaceWeight, MinWeight, MaxWeight); err != nil {
		return Options{}, err
	}
	if opts.LipWeight, err = floatOpt(m, "lip_weight", opts.LipWeight, MinWeight, MaxWeight); err != nil {
		return Options{}, err
	}
	if opts.FaceExpandRatio, err = floatOpt(m, "face_expand_ratio", opts.FaceExpandRatio, MinFaceExpandRatio, MaxFaceExpandRatio); err != nil {
		return Options{}, err
	}
	if v, ok := m["duration_seconds"]; ok {
		d, err := asFloat(v)
		if err != nil || d <= 0 || math.IsInf(d, 0) {
			return Options{}, InputErrorf(KindInvalidRequest, "options.duration_seconds must be a positive number")
		}
		opts.DurationSeconds = d
	}
	if v, ok := m["seed"]; ok {
		n, isNum := v.(json.Number)
		if !isNum {
			return Options{}, InputErrorf(KindInvalidRequest, "options.seed must be an integer")
		}
		seed, err := n.Int64()
		if err != nil {
			return Options{}, InputErrorf(KindInvalidRequest, "options.seed must be an integer")
		}
		opts.Seed, opts.SeedSet = seed, true
	} else {
		opts.Seed = randomSeed()
	}
	return opts, nil
}

func intOpt(m map[string]any, key string, def, lo, hi int) (int, error) {
	v, ok := m[key]
	if !ok {
		return def, nil
	}
	n, isNum := v.(json.Number)
	if !isNum {
		return 0, InputErrorf(KindInvalidRequest, "options.%s must be an integer", key)
	}
	i, err := n.Int64()
	if err != nil {
		return 0, InputErrorf(KindInvalidRequest, "options.%s must be an integer", key)
	}
	if i < int64(lo) || i > int64(hi) {
		return 0, InputErrorf(KindInvalidRequest, "options.%s must be in [%d,%d], got %d", key, lo, hi, i)
	}
	return int(i), nil
}

func floatOpt(m map[string]any, key string, def, lo, hi float64) (float64, error) {
	v, ok := m[key]
	if !ok {
		return def, nil
	}
	f, err := asFloat(v)
	if err != nil {
		return 0, InputErrorf(KindInvalidRequest, "options.%s must be a number", key)
	}
	if f < lo || f > hi || math.IsNaN(f) {
		return 0, InputErrorf(KindInvalidRequest, "options.%s must be in [%g,%g], got %g", key, lo, hi, f)
	}
	return f, nil
}

func asFloat(v any) (float64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("not a number: %v", v)
	}
	return n.Float64()
}

// randomSeed draws a non-negative seed that fits every pipeline RNG.
func randomSeed() int64 {
	return rand.Int64N(math.MaxInt32)
}
