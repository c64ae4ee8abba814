package job

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Class groups error kinds by origin.
type Class string

const (
	ClassInput     Class = "input"
	ClassModelLoad Class = "model_load"
	ClassInference Class = "inference"
	ClassPackaging Class = "packaging"
	ClassInternal  Class = "internal"
)

// Kind is the machine-readable failure reason returned to callers.
type Kind string

const (
	// Input (caller-caused, never retryable).
	KindInvalidRequest Kind = "invalid_request"
	KindFetchFailed    Kind = "fetch_failed"
	KindDecodeFailed   Kind = "decode_failed"
	KindNoFace         Kind = "no_face_detected"
	KindAmbiguousFace  Kind = "ambiguous_face"

	// Model load (process-fatal).
	KindModelLoad Kind = "model_load_failed"

	// Inference.
	KindResourceExhausted     Kind = "resource_exhausted"
	KindUnsupportedResolution Kind = "unsupported_resolution"
	KindTimeout               Kind = "timeout"
	KindCancelled             Kind = "cancelled"
	KindPipelineFailed        Kind = "pipeline_failed"

	// Packaging (inference succeeded, delivery failed).
	KindEncodeFailed Kind = "encode_failed"
	KindUploadFailed Kind = "upload_failed"

	KindInternal Kind = "internal"
)

// maxMessageLen caps messages surfaced to callers.
const maxMessageLen = 2000

// Error is the classified failure every component returns to the handler.
type Error struct {
	Class     Class
	Kind      Kind
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	msg := string(e.Class) + "/" + string(e.Kind) + ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so callers can use errors.Is with a template error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// PublicMessage is the message handed to the caller, truncated.
func (e *Error) PublicMessage() string {
	msg := e.Message
	if e.Err != nil && e.Class != ClassInternal {
		msg += ": " + e.Err.Error()
	}
	if len(msg) > maxMessageLen {
		cut := maxMessageLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return msg
}

// InputError builds a caller-caused error.
func InputError(kind Kind, msg string, err error) *Error {
	return &Error{Class: ClassInput, Kind: kind, Message: msg, Err: err}
}

// InputErrorf builds a caller-caused error with a formatted message.
func InputErrorf(kind Kind, format string, args ...any) *Error {
	return InputError(kind, fmt.Sprintf(format, args...), nil)
}

// ModelLoadError marks the worker as broken; it is never retried in-process.
func ModelLoadError(msg string, err error) *Error {
	return &Error{Class: ClassModelLoad, Kind: KindModelLoad, Message: msg, Err: err}
}

// InferenceError builds an inference failure; retryability follows the kind.
func InferenceError(kind Kind, msg string, err error) *Error {
	return &Error{Class: ClassInference, Kind: kind, Message: msg, Retryable: retryableInference(kind), Err: err}
}

// PackagingError builds a delivery failure. Never retryable.
func PackagingError(kind Kind, msg string, err error) *Error {
	return &Error{Class: ClassPackaging, Kind: kind, Message: msg, Err: err}
}

// Internal wraps an unclassified fault.
func Internal(msg string, err error) *Error {
	return &Error{Class: ClassInternal, Kind: KindInternal, Message: msg, Err: err}
}

func retryableInference(kind Kind) bool {
	switch kind {
	case KindResourceExhausted, KindTimeout, KindCancelled:
		return true
	default:
		return false
	}
}

// FromContext converts a context error into the matching inference error.
// It returns nil when err is not a context error.
func FromContext(err error, stage string) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return InferenceError(KindTimeout, "job timed out during "+stage, err)
	case errors.Is(err, context.Canceled):
		return InferenceError(KindCancelled, "job cancelled during "+stage, err)
	}
	return nil
}

// Classify returns err as a *Error, translating context errors and wrapping
// anything unclassified as internal.
func Classify(err error, stage string) *Error {
	if err == nil {
		return nil
	}
	var je *Error
	if errors.As(err, &je) {
		return je
	}
	if ce := FromContext(err, stage); ce != nil {
		return ce
	}
	return Internal("unexpected failure during "+stage, err)
}

// IsKind reports whether err is a classified error of the given kind.
func IsKind(err error, kind Kind) bool {
	var je *Error
	return errors.As(err, &je) && je.Kind == kind
}

// IsFatal reports whether err means the worker can no longer serve jobs.
func IsFatal(err error) bool {
	var je *Error
	return errors.As(err, &je) && je.Class == ClassModelLoad
}
