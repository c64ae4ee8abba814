package manager

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorHelpers(t *testing.T) {
	busy := fmt.Errorf("wrap: %w", tooBusyError{waited: "1s"})
	if !IsTooBusy(busy) || IsTooBusy(errors.New("x")) {
		t.Fatalf("IsTooBusy wrong")
	}
	oom := fmt.Errorf("stage: %w", &RuntimeError{Op: "generate_clip", Kind: RuntimeKindOutOfMemory})
	if !IsResourceExhausted(oom) || IsUnsupportedResolution(oom) {
		t.Fatalf("oom classification wrong")
	}
	if !IsResourceExhausted(&RuntimeError{Status: http.StatusInsufficientStorage}) {
		t.Fatalf("507 should be resource exhausted")
	}
	if !IsInvalidInput(&RuntimeError{Kind: RuntimeKindInvalidInput}) {
		t.Fatalf("invalid input not detected")
	}
	msg := (&RuntimeError{Op: "decode", Kind: "x", Status: 500, Message: "boom"}).Error()
	if msg != "runtime decode [x] (http 500): boom" {
		t.Fatalf("message=%q", msg)
	}
}
