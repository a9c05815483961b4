package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/kaiwalab/kaiwa/pkg/core"
)

// captureActive enforces exclusive device ownership within the process.
// A second CaptureSource cannot start until the first has stopped.
var captureActive atomic.Bool

// chunkQueueSize bounds the capture channel. At 100ms per chunk this is
// around 3 seconds of headroom before overruns begin.
const chunkQueueSize = 32

// CaptureSource reads PCM audio from the default capture device via
// malgo and emits fixed-size chunks.
type CaptureSource struct {
	cfg Config

	mu       sync.Mutex
	started  bool
	stopped  bool
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	done     chan struct{}

	out      chan Chunk
	chunker  *chunker
	overruns atomic.Uint64
}

// NewCaptureSource creates a capture source for the default device.
func NewCaptureSource(cfg Config) *CaptureSource {
	s := &CaptureSource{
		cfg:  cfg,
		out:  make(chan Chunk, chunkQueueSize),
		done: make(chan struct{}),
	}
	s.chunker = newChunker(cfg.ChunkBytes(), s.emit)
	return s
}

// Start opens the default capture device and begins emitting chunks.
// Failure to open or start the device is reported as a device
// unavailable error and is never retried here.
func (s *CaptureSource) Start(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return core.NewInvalidConfigError(err.Error())
	}
	if s.cfg.BitsPerSample != 16 {
		return core.NewInvalidConfigError(fmt.Sprintf("capture supports 16-bit samples only, got %d", s.cfg.BitsPerSample))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return core.NewAlreadyRecordingError()
	}
	if s.stopped {
		return core.NewDeviceUnavailableError("capture source cannot be restarted", nil)
	}

	if !captureActive.CompareAndSwap(false, true) {
		return core.NewDeviceUnavailableError("capture device is already in use", nil)
	}

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	malgoCtx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		captureActive.Store(false)
		return core.NewDeviceUnavailableError("audio context init failed", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(s.cfg.Channels)
	deviceConfig.SampleRate = uint32(s.cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: s.onData,
	}
	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		malgoCtx.Uninit()
		captureActive.Store(false)
		return core.NewDeviceUnavailableError("capture device open failed", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		malgoCtx.Uninit()
		captureActive.Store(false)
		return core.NewDeviceUnavailableError("capture device start failed", err)
	}

	s.malgoCtx = malgoCtx
	s.device = device
	s.started = true

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()
	return nil
}

// onData runs on the malgo capture thread. It must never block on the
// consumer, so delivery goes through the non-blocking chunker.
func (s *CaptureSource) onData(_, pInputSamples []byte, _ uint32) {
	s.chunker.push(pInputSamples)
}

func (s *CaptureSource) emit(c Chunk) bool {
	select {
	case s.out <- c:
		return true
	default:
		s.overruns.Add(1)
		return false
	}
}

// Stop halts the device, flushes the partial chunk, and closes the chunk
// channel. Calling Stop again, or before Start, is a no-op.
func (s *CaptureSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	if s.device != nil {
		// Uninit waits for in-flight callbacks, so no onData runs after it.
		s.device.Stop()
		s.device.Uninit()
		s.device = nil
	}
	if s.malgoCtx != nil {
		s.malgoCtx.Uninit()
		s.malgoCtx = nil
	}

	s.chunker.flush()
	close(s.out)
	if s.started {
		captureActive.Store(false)
	}
	return nil
}

// Chunks returns the capture channel. Closed after Stop.
func (s *CaptureSource) Chunks() <-chan Chunk {
	return s.out
}

// Overruns reports how many chunks were dropped on a lagging consumer.
func (s *CaptureSource) Overruns() uint64 {
	return s.overruns.Load()
}

// Config returns the capture configuration.
func (s *CaptureSource) Config() Config {
	return s.cfg
}

// chunker accumulates raw device buffers and cuts them into fixed-size
// chunks. push and flush are called from a single goroutine at a time.
type chunker struct {
	size    int
	pending []byte
	seq     uint64
	emit    func(Chunk) bool
}

func newChunker(size int, emit func(Chunk) bool) *chunker {
	return &chunker{
		size:    size,
		pending: make([]byte, 0, size*2),
		emit:    emit,
	}
}

// push appends device data and emits every complete chunk. Sequence
// numbers advance even when a chunk is dropped, so consumers can see
// the gap.
func (k *chunker) push(data []byte) {
	k.pending = append(k.pending, data...)
	for len(k.pending) >= k.size {
		chunk := make([]byte, k.size)
		copy(chunk, k.pending[:k.size])
		k.pending = k.pending[k.size:]
		k.seq++
		k.emit(Chunk{Seq: k.seq, Data: chunk})
	}
}

// flush emits whatever partial chunk remains. Called once at stop so the
// tail of the utterance is not lost.
func (k *chunker) flush() {
	if len(k.pending) == 0 {
		return
	}
	chunk := make([]byte, len(k.pending))
	copy(chunk, k.pending)
	k.pending = k.pending[:0]
	k.seq++
	k.emit(Chunk{Seq: k.seq, Data: chunk})
}
