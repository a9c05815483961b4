package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{
		Type:    ErrNotRecording,
		Message: "session is not recording",
	}

	expected := "not_recording: session is not recording"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestError_WithCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewStreamFailedError("recognition stream lost", cause)

	expected := "stream_failed: recognition stream lost: connection reset"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause through Unwrap")
	}
}

func TestNewGenerationError(t *testing.T) {
	underlying := errors.New("upstream 500")
	err := NewGenerationError("gemini", underlying)

	if err.Type != ErrGeneration {
		t.Errorf("Type = %v, want %v", err.Type, ErrGeneration)
	}
	if err.Cause != underlying {
		t.Errorf("Cause = %v, want %v", err.Cause, underlying)
	}
}

func TestError_IsBenign(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    bool
	}{
		{ErrAlreadyRecording, true},
		{ErrNotRecording, true},
		{ErrDeviceUnavailable, false},
		{ErrStreamFailed, false},
		{ErrGeneration, false},
		{ErrInvalidConfig, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			err := &Error{Type: tt.errType, Message: "test"}
			if got := err.IsBenign(); got != tt.want {
				t.Errorf("IsBenign() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_IsFatal(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    bool
	}{
		{ErrDeviceUnavailable, true},
		{ErrStreamFailed, true},
		{ErrGeneration, false},
		{ErrAlreadyRecording, false},
		{ErrNotRecording, false},
		{ErrInvalidConfig, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			err := &Error{Type: tt.errType, Message: "test"}
			if got := err.IsFatal(); got != tt.want {
				t.Errorf("IsFatal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTypeOf(t *testing.T) {
	base := NewDeviceUnavailableError("no capture device", nil)
	wrapped := fmt.Errorf("starting session: %w", base)

	if got := TypeOf(wrapped); got != ErrDeviceUnavailable {
		t.Errorf("TypeOf(wrapped) = %q, want %q", got, ErrDeviceUnavailable)
	}
	if got := TypeOf(errors.New("plain")); got != ErrorType("") {
		t.Errorf("TypeOf(plain) = %q, want empty", got)
	}
	if !IsType(wrapped, ErrDeviceUnavailable) {
		t.Error("IsType should match through wrapping")
	}
}
