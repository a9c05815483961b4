package live

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/kaiwalab/kaiwa/pkg/core/voice/audio"
)

// SessionState represents the current state of the dialogue session.
type SessionState int

const (
	// StateIdle is the resting state: no device held, no stream open.
	StateIdle SessionState = iota
	// StateRecording is live operation: audio flowing, turns dispatched.
	StateRecording
	// StateStopping is the shutdown window while the recognition stream
	// drains its last hypotheses.
	StateStopping
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRecording:
		return "RECORDING"
	case StateStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// DefaultShortThreshold is the rune count below which an utterance gets
// a canned acknowledgement instead of a model call.
const DefaultShortThreshold = 10

// DefaultFillers are the canned acknowledgements for short utterances.
var DefaultFillers = []string{
	"なるほど",
	"そうですね",
	"確かに",
	"それは興味深いですね",
	"はい",
}

// Config holds all configuration for a dialogue session.
type Config struct {
	// Project is the cloud project used for speech recognition.
	Project string `json:"project"`

	// Language is the BCP-47 code of the expected speech. Default: ja-JP.
	Language string `json:"language"`

	// ShortThreshold is the rune count below which a turn is answered
	// with a filler instead of the model. Default: 10.
	ShortThreshold int `json:"short_threshold"`

	// Fillers are the canned acknowledgements for short turns.
	Fillers []string `json:"fillers,omitempty"`

	// Audio configures microphone capture.
	Audio audio.Config `json:"audio"`

	// DrainTimeout bounds how long stop waits for the last hypotheses.
	// Default: 5s.
	DrainTimeout time.Duration `json:"drain_timeout"`

	// EventBuffer is the session event channel capacity. Default: 100.
	EventBuffer int `json:"event_buffer"`

	// TurnBuffer is how many finalized utterances may wait for dispatch.
	// Default: 16.
	TurnBuffer int `json:"turn_buffer"`

	// Logger receives session logs. Defaults to slog.Default().
	Logger *slog.Logger `json:"-"`
}

// DefaultConfig returns a Config with sensible defaults. The project is
// left empty; LoadFromEnv or the caller fills it in.
func DefaultConfig() Config {
	return Config{
		Language:       "ja-JP",
		ShortThreshold: DefaultShortThreshold,
		Fillers:        DefaultFillers,
		Audio:          audio.DefaultConfig(),
		DrainTimeout:   5 * time.Second,
		EventBuffer:    100,
		TurnBuffer:     16,
	}
}

// LoadFromEnv fills unset fields from the environment:
// GOOGLE_CLOUD_PROJECT, KAIWA_LANGUAGE and KAIWA_SHORT_THRESHOLD.
func (c *Config) LoadFromEnv() {
	if c.Project == "" {
		c.Project = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	if v := os.Getenv("KAIWA_LANGUAGE"); v != "" {
		c.Language = v
	}
	if v := os.Getenv("KAIWA_SHORT_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.ShortThreshold = n
		}
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Language == "" {
		return fmt.Errorf("language is required")
	}
	if c.ShortThreshold < 0 {
		return fmt.Errorf("short_threshold must not be negative, got %d", c.ShortThreshold)
	}
	return c.Audio.Validate()
}
