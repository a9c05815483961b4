// Package audio provides microphone capture for the dialogue loop.
package audio

import (
	"context"
	"fmt"
	"time"
)

// Config specifies the capture format. The recognition service dictates
// the values; capture never resamples.
type Config struct {
	// SampleRate in Hz. Default: 16000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo. Default: 1.
	Channels int `json:"channels"`

	// BitsPerSample: typically 16 for PCM. Default: 16.
	BitsPerSample int `json:"bits_per_sample"`

	// ChunkDuration is how much audio each emitted chunk carries.
	// Default: 100ms.
	ChunkDuration time.Duration `json:"chunk_duration"`
}

// DefaultConfig returns the standard capture configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:    16000,
		Channels:      1,
		BitsPerSample: 16,
		ChunkDuration: 100 * time.Millisecond,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BitsPerSample%8 != 0 || c.BitsPerSample <= 0 {
		return fmt.Errorf("bits_per_sample must be a positive multiple of 8, got %d", c.BitsPerSample)
	}
	if c.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration must be positive, got %v", c.ChunkDuration)
	}
	return nil
}

// BytesPerSecond returns the audio byte rate.
func (c Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// ChunkBytes returns the byte count of one full chunk.
func (c Config) ChunkBytes() int {
	return (c.BytesPerSecond() * int(c.ChunkDuration/time.Millisecond)) / 1000
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (c Config) DurationMs(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// Chunk is one opaque unit of captured audio. Seq increases by one per
// chunk for the lifetime of a source, so gaps are observable downstream.
type Chunk struct {
	Seq  uint64
	Data []byte
}

// Source captures audio and hands it to the recognition stream.
type Source interface {
	// Start opens the capture device and begins producing chunks. It fails
	// with a device unavailable error when no device can be opened; callers
	// retry by starting again, never automatically.
	Start(ctx context.Context) error

	// Stop halts capture, flushes any partially filled chunk, and closes
	// the chunk channel. Safe to call more than once.
	Stop() error

	// Chunks returns the capture channel. It is closed after Stop.
	Chunks() <-chan Chunk

	// Overruns reports how many chunks were dropped because the consumer
	// lagged behind the device.
	Overruns() uint64

	// Config returns the capture configuration.
	Config() Config
}
