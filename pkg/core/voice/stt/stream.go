package stt

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kaiwalab/kaiwa/pkg/core"
)

// State represents the lifecycle of a recognition stream.
type State int

const (
	// StateConnecting is the initial state, and the window while a lost
	// session is being replaced.
	StateConnecting State = iota
	// StateStreaming is normal operation: audio in, transcriptions out.
	StateStreaming
	// StateDraining means no more audio is accepted; pending hypotheses
	// are still being flushed.
	StateDraining
	// StateClosed is the terminal state after a clean shutdown.
	StateClosed
	// StateFailed is the terminal state after an unrecovered failure.
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateDraining:
		return "DRAINING"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrNotStarted is returned by Send before Start has succeeded.
	ErrNotStarted = errors.New("stream not started")
	// ErrClosed is returned by Send after the stream has closed.
	ErrClosed = errors.New("stream is closed")
	// ErrDraining is returned by Send once a drain has begun.
	ErrDraining = errors.New("stream is draining")
)

const (
	// DefaultPendingWindow is how many sent chunks are retained for replay
	// after a reconnect. At 100ms per chunk this is 5 seconds of audio.
	DefaultPendingWindow = 50
	// DefaultDrainTimeout bounds how long Drain waits for the service to
	// flush its pending hypotheses.
	DefaultDrainTimeout = 5 * time.Second
)

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithPendingWindow sets the replay buffer size in chunks.
func WithPendingWindow(n int) StreamOption {
	return func(s *Stream) {
		if n > 0 {
			s.pendingWindow = n
		}
	}
}

// WithDrainTimeout sets the drain deadline.
func WithDrainTimeout(d time.Duration) StreamOption {
	return func(s *Stream) {
		if d > 0 {
			s.drainTimeout = d
		}
	}
}

// WithLogger sets the stream logger.
func WithLogger(logger *slog.Logger) StreamOption {
	return func(s *Stream) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Stream turns recognition sessions into one continuous transcription
// feed. A session that dies mid-stream is replaced exactly once, with
// the unacknowledged audio replayed into the replacement; a second
// consecutive failure is terminal. Interim and final results from all
// sessions arrive on a single channel in order.
type Stream struct {
	rec    Recognizer
	cfg    Config
	logger *slog.Logger

	pendingWindow int
	drainTimeout  time.Duration

	mu         sync.Mutex
	state      State
	session    Session
	pending    [][]byte
	replayIdx  int
	dropped    uint64
	reconnects int
	started    bool
	closed     bool
	err        error

	ctx       context.Context
	cancel    context.CancelFunc
	results   chan Transcription
	done      chan struct{}
	closeOnce sync.Once
}

// NewStream creates a stream over the given recognizer.
func NewStream(rec Recognizer, cfg Config, opts ...StreamOption) *Stream {
	s := &Stream{
		rec:           rec,
		cfg:           cfg,
		logger:        slog.Default(),
		pendingWindow: DefaultPendingWindow,
		drainTimeout:  DefaultDrainTimeout,
		state:         StateConnecting,
		results:       make(chan Transcription, 16),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the first recognition session. A connect failure here is
// terminal; the stream never dials on its own before audio exists.
func (s *Stream) Start(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return core.NewInvalidConfigError(err.Error())
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return errors.New("stream already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	sess, err := s.rec.Open(s.ctx, s.cfg)
	if err != nil {
		ferr := core.NewStreamFailedError("recognition connect failed", err)
		s.mu.Lock()
		s.state = StateFailed
		s.err = ferr
		s.closed = true
		s.mu.Unlock()
		s.closeOnce.Do(func() {
			close(s.results)
			close(s.done)
		})
		return ferr
	}

	s.mu.Lock()
	s.session = sess
	s.state = StateStreaming
	s.started = true
	s.mu.Unlock()

	go s.run(sess)
	return nil
}

// Send forwards one chunk of audio. During a reconnect the chunk is
// buffered and replayed, so callers keep sending as if nothing
// happened. Send only fails once the stream is terminal or draining.
func (s *Stream) Send(data []byte) error {
	s.mu.Lock()
	switch {
	case s.state == StateFailed:
		err := s.err
		s.mu.Unlock()
		return err
	case s.closed || s.state == StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case s.state == StateDraining:
		s.mu.Unlock()
		return ErrDraining
	case !s.started:
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.appendPendingLocked(data)
	sess := s.session
	s.mu.Unlock()

	if sess == nil {
		// Reconnect in flight; the chunk waits in the replay buffer.
		return nil
	}
	if err := sess.Send(data); err != nil {
		// Kill the session so the run loop notices and reconnects.
		sess.Close()
	}
	return nil
}

// Results returns the transcription channel. It closes when the stream
// reaches a terminal state; Err distinguishes failure from shutdown.
func (s *Stream) Results() <-chan Transcription {
	return s.results
}

// State returns the current stream state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error after the stream has failed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Dropped reports how many chunks were evicted from the replay buffer.
func (s *Stream) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Drain stops accepting audio and waits for the service to flush its
// remaining hypotheses, up to the drain timeout. A stream caught
// mid-reconnect is closed immediately since its session is already gone.
func (s *Stream) Drain(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return nil
	case StateFailed:
		err := s.err
		s.mu.Unlock()
		return err
	case StateConnecting:
		s.mu.Unlock()
		return s.Close()
	case StateStreaming:
		s.state = StateDraining
		sess := s.session
		s.mu.Unlock()
		if sess != nil {
			if err := sess.CloseSend(); err != nil {
				sess.Close()
			}
		}
	default:
		s.mu.Unlock()
	}

	timer := time.NewTimer(s.drainTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
		s.mu.Lock()
		err := s.err
		s.mu.Unlock()
		return err
	case <-timer.C:
		return s.Close()
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	}
}

// Close tears the stream down immediately. Safe to call more than once
// and in any state.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.state != StateFailed {
		s.state = StateClosed
	}
	sess := s.session
	s.session = nil
	started := s.started
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		sess.Close()
	}
	if !started {
		s.closeOnce.Do(func() {
			close(s.results)
			close(s.done)
		})
		return nil
	}
	<-s.done
	return nil
}

// run owns the session lifecycle: it consumes one session until it
// ends, then either finishes the stream or replaces the session.
func (s *Stream) run(sess Session) {
	defer s.closeOnce.Do(func() {
		close(s.results)
		close(s.done)
	})

	for {
		s.consume(sess)
		cause := sess.Err()

		s.mu.Lock()
		switch s.state {
		case StateClosed:
			s.mu.Unlock()
			return
		case StateDraining:
			if cause == nil {
				s.state = StateClosed
			} else {
				s.state = StateFailed
				s.err = core.NewStreamFailedError("recognition failed during drain", cause)
			}
			s.session = nil
			s.mu.Unlock()
			return
		}

		s.reconnects++
		if s.reconnects > 1 {
			s.state = StateFailed
			s.err = core.NewStreamFailedError("recognition failed twice in a row", cause)
			s.session = nil
			s.mu.Unlock()
			return
		}
		s.state = StateConnecting
		s.session = nil
		replayLen := len(s.pending)
		s.mu.Unlock()

		s.logger.Warn("recognition session lost, reconnecting",
			"recognizer", s.rec.Name(),
			"error", cause,
			"replay_chunks", replayLen)

		next, err := s.rec.Open(s.ctx, s.cfg)
		if err != nil {
			s.mu.Lock()
			if s.state == StateClosed {
				s.mu.Unlock()
				return
			}
			s.state = StateFailed
			s.err = core.NewStreamFailedError("reconnect failed", err)
			s.session = nil
			s.mu.Unlock()
			return
		}
		if !s.attach(next) {
			next.Close()
			return
		}
		sess = next
	}
}

// attach replays the unacknowledged audio into a fresh session and
// publishes it. The replay catches up with chunks that keep arriving
// while it runs, so the handover loses nothing. Returns false when the
// stream was closed mid-handover.
func (s *Stream) attach(next Session) bool {
	s.mu.Lock()
	s.replayIdx = 0
	for {
		if s.state == StateClosed {
			s.mu.Unlock()
			return false
		}
		if s.replayIdx >= len(s.pending) {
			s.session = next
			s.state = StateStreaming
			s.mu.Unlock()
			return true
		}
		batch := make([][]byte, len(s.pending)-s.replayIdx)
		copy(batch, s.pending[s.replayIdx:])
		s.replayIdx = len(s.pending)
		s.mu.Unlock()

		for _, data := range batch {
			if err := next.Send(data); err != nil {
				// The replacement is already broken. Publish it anyway so
				// consume observes the failure, which then counts as the
				// second in a row.
				s.mu.Lock()
				if s.state == StateClosed {
					s.mu.Unlock()
					return false
				}
				s.session = next
				s.state = StateStreaming
				s.mu.Unlock()
				return true
			}
		}
		s.mu.Lock()
	}
}

// consume forwards one session's results until its channel closes. Any
// delivered transcription resets the consecutive-failure count, and a
// final one releases the replay buffer.
func (s *Stream) consume(sess Session) {
	for tr := range sess.Results() {
		s.mu.Lock()
		if tr.IsFinal {
			s.pending = s.pending[:0]
		}
		s.reconnects = 0
		s.mu.Unlock()

		select {
		case s.results <- tr:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Stream) appendPendingLocked(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	s.pending = append(s.pending, buf)
	if over := len(s.pending) - s.pendingWindow; over > 0 {
		s.pending = append(s.pending[:0], s.pending[over:]...)
		s.dropped += uint64(over)
		// Keep an in-progress replay pointed at the same chunk.
		if s.replayIdx > over {
			s.replayIdx -= over
		} else {
			s.replayIdx = 0
		}
	}
}
