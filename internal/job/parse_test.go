package job

import (
	"errors"
	"testing"
)

func TestDecodeAppliesDefaults(t *testing.T) {
	j, err := Decode([]byte(`{"id":"j1","input":{"image":"https://x/img.png","audio":"UklGRg=="}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if j.ID != "j1" {
		t.Fatalf("id=%q", j.ID)
	}
	if j.Image.Kind != RefURL || j.Audio.Kind != RefInline {
		t.Fatalf("unexpected ref kinds: %+v %+v", j.Image, j.Audio)
	}
	o := j.Options
	if o.Resolution != ResolutionStandard || o.FPS != DefaultFPS || o.Steps != DefaultSteps || o.GuidanceScale != DefaultGuidanceScale {
		t.Fatalf("defaults not applied: %+v", o)
	}
	if o.SeedSet || o.Seed < 0 {
		t.Fatalf("expected a random non-negative seed, got %+v", o)
	}
	if o.FaceExpandRatio != DefaultFaceExpandRatio || o.LipWeight != DefaultWeight {
		t.Fatalf("weights not defaulted: %+v", o)
	}
}

func TestDecodeGeneratesID(t *testing.T) {
	j, err := Decode([]byte(`{"input":{"image":"aGk=","audio":"aGk="}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(j.ID) != 36 {
		t.Fatalf("expected uuid id, got %q", j.ID)
	}
}

func TestDecodeLegacyKeys(t *testing.T) {
	j, err := Decode([]byte(`{"input":{"image_base64":"aGk=","audio_url":"http://h/a.mp3"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if j.Image.Kind != RefInline || j.Audio.Kind != RefURL || j.Audio.Value != "http://h/a.mp3" {
		t.Fatalf("legacy refs wrong: %+v %+v", j.Image, j.Audio)
	}
}

func TestDecodeOptions(t *testing.T) {
	raw := `{"input":{"image":"aGk=","audio":"aGk=","options":{"resolution":"HIGH","fps":30,"seed":7,"guidance_scale":4.5,"steps":25,"duration_seconds":3.5,"lip_weight":1.5}}}`
	j, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	o := j.Options
	if o.Resolution != ResolutionHigh || o.FPS != 30 || o.Seed != 7 || !o.SeedSet || o.GuidanceScale != 4.5 || o.Steps != 25 || o.DurationSeconds != 3.5 || o.LipWeight != 1.5 {
		t.Fatalf("options not parsed: %+v", o)
	}
}

func TestDecodeInvalidRequests(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"missing image":     `{"input":{"audio":"aGk="}}`,
		"missing audio":     `{"input":{"image":"aGk="}}`,
		"duplicate image":   `{"input":{"image":"aGk=","image_base64":"aGk=","audio":"aGk="}}`,
		"bad legacy url":    `{"input":{"image_url":"ftp://x","audio":"aGk="}}`,
		"image wrong type":  `{"input":{"image":5,"audio":"aGk="}}`,
		"options not obj":   `{"input":{"image":"aGk=","audio":"aGk=","options":"x"}}`,
		"ultra resolution":  `{"input":{"image":"aGk=","audio":"aGk=","options":{"resolution":"ultra"}}}`,
		"resolution number": `{"input":{"image":"aGk=","audio":"aGk=","options":{"resolution":1}}}`,
		"fps too high":      `{"input":{"image":"aGk=","audio":"aGk=","options":{"fps":61}}}`,
		"fps zero":          `{"input":{"image":"aGk=","audio":"aGk=","options":{"fps":0}}}`,
		"fps fractional":    `{"input":{"image":"aGk=","audio":"aGk=","options":{"fps":24.5}}}`,
		"fps string":        `{"input":{"image":"aGk=","audio":"aGk=","options":{"fps":"25"}}}`,
		"guidance range":    `{"input":{"image":"aGk=","audio":"aGk=","options":{"guidance_scale":0.5}}}`,
		"seed float":        `{"input":{"image":"aGk=","audio":"aGk=","options":{"seed":1.5}}}`,
		"negative duration": `{"input":{"image":"aGk=","audio":"aGk=","options":{"duration_seconds":-1}}}`,
		"unknown option":    `{"input":{"image":"aGk=","audio":"aGk=","options":{"cfg":1}}}`,
	}
	for name, raw := range cases {
		_, err := Decode([]byte(raw))
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !IsKind(err, KindInvalidRequest) {
			t.Fatalf("%s: expected invalid_request, got %v", name, err)
		}
		var je *Error
		if !errors.As(err, &je) || je.Retryable || je.Class != ClassInput {
			t.Fatalf("%s: expected non-retryable input error, got %+v", name, je)
		}
	}
}

func TestResolutionSizes(t *testing.T) {
	cases := map[Resolution]int{ResolutionLow: 256, ResolutionStandard: 512, ResolutionHigh: 768}
	for r, want := range cases {
		w, h := r.Size()
		if w != want || h != want {
			t.Fatalf("%s: got %dx%d", r, w, h)
		}
	}
	if _, err := ParseResolution("ultra"); err == nil {
		t.Fatalf("expected error for ultra")
	}
}
