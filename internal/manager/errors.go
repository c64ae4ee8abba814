package manager

import (
	"errors"
	"fmt"
	"net/http"
)

// tooBusyError signals that the accelerator lock could not be acquired in time.
type tooBusyError struct{ waited string }

func (e tooBusyError) Error() string { return "accelerator busy: waited " + e.waited }

// IsTooBusy reports whether err indicates lock backpressure.
func IsTooBusy(err error) bool {
	var tb tooBusyError
	return errors.As(err, &tb)
}

// Runtime error kinds reported by the pipeline server.
const (
	RuntimeKindOutOfMemory           = "out_of_memory"
	RuntimeKindUnsupportedResolution = "unsupported_resolution"
	RuntimeKindInvalidInput          = "invalid_input"
)

// RuntimeError is a failure reported by the pipeline runtime.
type RuntimeError struct {
	Op      string
	Kind    string
	Message string
	Status  int
}

func (e *RuntimeError) Error() string {
	msg := "runtime " + e.Op
	if e.Kind != "" {
		msg += " [" + e.Kind + "]"
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (http %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// IsResourceExhausted reports whether the runtime ran out of device memory.
func IsResourceExhausted(err error) bool {
	var re *RuntimeError
	if !errors.As(err, &re) {
		return false
	}
	return re.Kind == RuntimeKindOutOfMemory || re.Status == http.StatusInsufficientStorage
}

// IsUnsupportedResolution reports whether the decoder refused the output size.
func IsUnsupportedResolution(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Kind == RuntimeKindUnsupportedResolution
}

// IsInvalidInput reports whether the runtime rejected its input as unreadable.
func IsInvalidInput(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Kind == RuntimeKindInvalidInput
}
