// Package stt provides streaming speech recognition for the dialogue
// loop. A Recognizer opens network sessions against a recognition
// service; Stream wraps those sessions into one continuous transcript
// feed that survives a single mid-utterance reconnect.
package stt

import (
	"context"
	"fmt"
	"time"
)

// Config specifies the recognition request.
type Config struct {
	// Project is the cloud project that owns the recognizer resource.
	Project string `json:"project"`

	// Language is the BCP-47 code of the expected speech. Default: ja-JP.
	Language string `json:"language"`

	// Model selects the recognition model. Default: long.
	Model string `json:"model"`

	// SampleRate of the incoming PCM audio in Hz. Default: 16000.
	SampleRate int `json:"sample_rate"`

	// Channels of the incoming audio. Default: 1.
	Channels int `json:"channels"`

	// InterimResults requests partial hypotheses before each utterance is
	// final. Default: true.
	InterimResults bool `json:"interim_results"`
}

// DefaultConfig returns the recognition configuration for the given
// project.
func DefaultConfig(project string) Config {
	return Config{
		Project:        project,
		Language:       "ja-JP",
		Model:          "long",
		SampleRate:     16000,
		Channels:       1,
		InterimResults: true,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Project == "" {
		return fmt.Errorf("project is required")
	}
	if c.Language == "" {
		return fmt.Errorf("language is required")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	return nil
}

// RecognizerPath returns the service resource name. The wildcard
// recognizer carries its configuration inline per request.
func (c Config) RecognizerPath() string {
	return fmt.Sprintf("projects/%s/locations/global/recognizers/_", c.Project)
}

// Transcription is one recognition hypothesis. Interim transcriptions
// overwrite each other; a final transcription commits the utterance.
type Transcription struct {
	Text      string    `json:"text"`
	IsFinal   bool      `json:"is_final"`
	Timestamp time.Time `json:"timestamp"`
}

// Recognizer opens recognition sessions. A Stream uses one session at a
// time and opens a fresh one to recover from a transient failure.
type Recognizer interface {
	// Name returns the service identifier.
	Name() string

	// Open starts a session. The session inherits ctx; cancelling it
	// tears the session down.
	Open(ctx context.Context, cfg Config) (Session, error)
}

// Session is one network recognition session.
type Session interface {
	// Send forwards raw audio bytes to the service.
	Send(data []byte) error

	// Results delivers transcriptions until the session ends. The channel
	// closes when the service finishes or the session fails; Err reports
	// which.
	Results() <-chan Transcription

	// CloseSend tells the service no more audio is coming. Results stay
	// open until the service has flushed its pending hypotheses.
	CloseSend() error

	// Err returns the terminal session error, or nil after a clean end.
	// Valid only after Results closes.
	Err() error

	// Close tears the session down immediately. Safe to call more than
	// once.
	Close() error
}
