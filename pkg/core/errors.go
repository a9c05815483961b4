package core

import (
	"errors"
	"fmt"
)

// Error is the error taxonomy shared by every layer of the dialogue loop.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrDeviceUnavailable means no capture device could be opened. Fatal to
	// session start; the user retries by starting again.
	ErrDeviceUnavailable ErrorType = "device_unavailable"
	// ErrStreamFailed means the recognition stream failed past its single
	// reconnection attempt. Fatal to the recording session.
	ErrStreamFailed ErrorType = "stream_failed"
	// ErrGeneration means a backend call failed or timed out. Recovered at
	// turn level; the session continues.
	ErrGeneration ErrorType = "generation_error"
	// ErrAlreadyRecording and ErrNotRecording are benign operator no-ops.
	ErrAlreadyRecording ErrorType = "already_recording"
	ErrNotRecording     ErrorType = "not_recording"
	// ErrInvalidConfig covers unresolvable models, missing credentials, and
	// other configuration rejected before any device or network is touched.
	ErrInvalidConfig ErrorType = "invalid_config"
)

// NewDeviceUnavailableError creates a device unavailable error.
func NewDeviceUnavailableError(message string, cause error) *Error {
	return &Error{
		Type:    ErrDeviceUnavailable,
		Message: message,
		Cause:   cause,
	}
}

// NewStreamFailedError creates a stream failed error.
func NewStreamFailedError(message string, cause error) *Error {
	return &Error{
		Type:    ErrStreamFailed,
		Message: message,
		Cause:   cause,
	}
}

// NewGenerationError creates a generation error for the named backend.
func NewGenerationError(backend string, cause error) *Error {
	return &Error{
		Type:    ErrGeneration,
		Message: fmt.Sprintf("backend %s", backend),
		Cause:   cause,
	}
}

// NewAlreadyRecordingError creates the benign double-start error.
func NewAlreadyRecordingError() *Error {
	return &Error{
		Type:    ErrAlreadyRecording,
		Message: "session is already recording",
	}
}

// NewNotRecordingError creates the benign stop-while-idle error.
func NewNotRecordingError() *Error {
	return &Error{
		Type:    ErrNotRecording,
		Message: "session is not recording",
	}
}

// NewInvalidConfigError creates a configuration error.
func NewInvalidConfigError(message string) *Error {
	return &Error{
		Type:    ErrInvalidConfig,
		Message: message,
	}
}

// IsBenign reports whether the error is a user-facing no-op rather than a
// failure. Benign errors never change session state.
func (e *Error) IsBenign() bool {
	switch e.Type {
	case ErrAlreadyRecording, ErrNotRecording:
		return true
	default:
		return false
	}
}

// IsFatal reports whether the error ends the recording session. Fatal
// errors always leave the audio source and recognition stream closed.
func (e *Error) IsFatal() bool {
	switch e.Type {
	case ErrDeviceUnavailable, ErrStreamFailed:
		return true
	default:
		return false
	}
}

// TypeOf returns the taxonomy type carried by err, unwrapping as needed,
// or "" when err carries none.
func TypeOf(err error) ErrorType {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ""
}

// IsType reports whether err carries the given taxonomy type.
func IsType(err error, t ErrorType) bool {
	return TypeOf(err) == t
}
