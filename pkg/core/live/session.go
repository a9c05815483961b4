package live

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kaiwalab/kaiwa/pkg/core"
	"github.com/kaiwalab/kaiwa/pkg/core/types"
	"github.com/kaiwalab/kaiwa/pkg/core/voice/audio"
	"github.com/kaiwalab/kaiwa/pkg/core/voice/stt"
)

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("session closed")

// RecognitionStream is the stream surface the session drives.
// Implemented by stt.Stream.
type RecognitionStream interface {
	Start(ctx context.Context) error
	Send(data []byte) error
	Results() <-chan stt.Transcription
	Drain(ctx context.Context) error
	Close() error
	State() stt.State
	Err() error
	Dropped() uint64
}

// SourceFactory creates a capture source for one recording run.
type SourceFactory func(cfg audio.Config) audio.Source

// StreamFactory creates a recognition stream for one recording run. The
// context spans the run; cancelling it tears the stream down.
type StreamFactory func(ctx context.Context) (RecognitionStream, error)

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSourceFactory replaces the default microphone capture.
func WithSourceFactory(f SourceFactory) SessionOption {
	return func(s *Session) {
		if f != nil {
			s.newSource = f
		}
	}
}

// WithStreamFactory replaces the default cloud recognition stream.
func WithStreamFactory(f StreamFactory) SessionOption {
	return func(s *Session) {
		if f != nil {
			s.newStream = f
		}
	}
}

// Session is the orchestrator for a voice dialogue: it owns the capture
// source, the recognition stream, and the single worker that turns
// finalized utterances into dialogue turns.
//
// A session cycles between idle and recording any number of times. One
// dispatch worker lives as long as the session, so turns finalized just
// before a stop are still answered, and replies never interleave.
type Session struct {
	config     Config
	engine     *core.Engine
	dispatcher *Dispatcher
	logger     *slog.Logger

	newSource SourceFactory
	newStream StreamFactory

	mu                sync.RWMutex
	state             SessionState
	starting          bool
	run               *recordingRun
	currentTranscript string

	events       chan Event
	eventDrops   atomic.Uint64
	turns        chan string
	done         chan struct{}
	dispatchDone chan struct{}
	closed       atomic.Bool

	lifeCtx    context.Context
	lifeCancel context.CancelFunc
}

// recordingRun bundles the resources of one recording.
type recordingRun struct {
	ctx      context.Context
	cancel   context.CancelFunc
	source   audio.Source
	stream   RecognitionStream
	pumpDone chan struct{}
	readDone chan struct{}
}

// NewSession creates a dialogue session around the given engine.
func NewSession(config Config, engine *core.Engine, opts ...SessionOption) *Session {
	if config.EventBuffer <= 0 {
		config.EventBuffer = 100
	}
	if config.TurnBuffer <= 0 {
		config.TurnBuffer = 16
	}
	if len(config.Fillers) == 0 {
		config.Fillers = DefaultFillers
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	s := &Session{
		config:       config,
		engine:       engine,
		dispatcher:   NewDispatcher(config.ShortThreshold, config.Fillers, engine.History(), engine),
		logger:       logger,
		state:        StateIdle,
		events:       make(chan Event, config.EventBuffer),
		turns:        make(chan string, config.TurnBuffer),
		done:         make(chan struct{}),
		dispatchDone: make(chan struct{}),
		lifeCtx:      lifeCtx,
		lifeCancel:   lifeCancel,
	}
	s.newSource = func(cfg audio.Config) audio.Source {
		return audio.NewCaptureSource(cfg)
	}
	s.newStream = s.defaultStreamFactory

	for _, opt := range opts {
		opt(s)
	}

	go s.dispatchLoop()
	return s
}

// defaultStreamFactory dials Google Cloud Speech with application
// default credentials.
func (s *Session) defaultStreamFactory(ctx context.Context) (RecognitionStream, error) {
	rec, err := stt.NewGoogleRecognizer(ctx)
	if err != nil {
		return nil, err
	}
	cfg := stt.DefaultConfig(s.config.Project)
	cfg.Language = s.config.Language
	cfg.SampleRate = s.config.Audio.SampleRate
	cfg.Channels = s.config.Audio.Channels
	stream := stt.NewStream(rec, cfg,
		stt.WithDrainTimeout(s.config.DrainTimeout),
		stt.WithLogger(s.logger))
	return &googleStream{Stream: stream, rec: rec}, nil
}

// googleStream ties the recognizer client lifetime to the stream.
type googleStream struct {
	*stt.Stream
	rec *stt.GoogleRecognizer
}

func (g *googleStream) Close() error {
	err := g.Stream.Close()
	g.rec.Close()
	return err
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// CurrentTranscript returns the working hypothesis of the utterance in
// progress, or "" between utterances.
func (s *Session) CurrentTranscript() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentTranscript
}

// History returns a snapshot of the dialogue so far.
func (s *Session) History() []types.DialogueTurn {
	return s.engine.History().Snapshot()
}

// Engine returns the conversation engine backing this session.
func (s *Session) Engine() *core.Engine {
	return s.engine
}

// Events returns the channel for receiving session events. It closes
// when the session is closed for good.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Status is a point-in-time snapshot for status endpoints.
type Status struct {
	State             string `json:"state"`
	Recording         bool   `json:"recording"`
	CurrentTranscript string `json:"current_transcript,omitempty"`
	Turns             int    `json:"turns"`
	Overruns          uint64 `json:"overruns,omitempty"`
	DroppedChunks     uint64 `json:"dropped_chunks,omitempty"`
	DroppedEvents     uint64 `json:"dropped_events,omitempty"`
}

// Status reports the session state for the status API.
func (s *Session) Status() Status {
	s.mu.RLock()
	state := s.state
	transcript := s.currentTranscript
	r := s.run
	s.mu.RUnlock()

	status := Status{
		State:             state.String(),
		Recording:         state == StateRecording,
		CurrentTranscript: transcript,
		Turns:             s.engine.History().Len(),
		DroppedEvents:     s.eventDrops.Load(),
	}
	if r != nil {
		status.Overruns = r.source.Overruns()
		status.DroppedChunks = r.stream.Dropped()
	}
	return status
}

// Start opens the capture device and the recognition stream and begins
// dispatching turns. Starting while already recording is a benign
// error and changes nothing. A device or connect failure leaves the
// session idle; the caller retries by starting again.
func (s *Session) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if err := s.config.Validate(); err != nil {
		return core.NewInvalidConfigError(err.Error())
	}

	s.mu.Lock()
	if s.state != StateIdle || s.starting {
		s.mu.Unlock()
		return core.NewAlreadyRecordingError()
	}
	s.starting = true
	s.mu.Unlock()

	runCtx, runCancel := context.WithCancel(ctx)

	source := s.newSource(s.config.Audio)
	if err := source.Start(runCtx); err != nil {
		runCancel()
		s.clearStarting()
		return err
	}

	stream, err := s.newStream(runCtx)
	if err != nil {
		source.Stop()
		runCancel()
		s.clearStarting()
		return core.NewStreamFailedError("recognizer init failed", err)
	}
	if err := stream.Start(runCtx); err != nil {
		source.Stop()
		stream.Close()
		runCancel()
		s.clearStarting()
		return err
	}

	r := &recordingRun{
		ctx:      runCtx,
		cancel:   runCancel,
		source:   source,
		stream:   stream,
		pumpDone: make(chan struct{}),
		readDone: make(chan struct{}),
	}

	s.mu.Lock()
	s.run = r
	s.starting = false
	s.state = StateRecording
	s.mu.Unlock()

	s.logger.Info("recording started",
		"language", s.config.Language,
		"sample_rate", s.config.Audio.SampleRate)
	s.emit(&StateChangedEvent{From: StateIdle, To: StateRecording})
	s.emit(&RecordingStartedEvent{
		SampleRate: s.config.Audio.SampleRate,
		Channels:   s.config.Audio.Channels,
		Language:   s.config.Language,
	})

	go s.pumpLoop(r)
	go s.readLoop(r)
	return nil
}

func (s *Session) clearStarting() {
	s.mu.Lock()
	s.starting = false
	s.mu.Unlock()
}

// Stop ends the recording: the capture tail is flushed, the recognition
// stream drains its last hypotheses, and the session returns to idle.
// Turns already queued keep flowing to the model; stop never cancels an
// in-flight generation. Stopping while idle is a benign error.
func (s *Session) Stop() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.mu.Lock()
	if s.state != StateRecording || s.run == nil {
		s.mu.Unlock()
		return core.NewNotRecordingError()
	}
	r := s.run
	s.run = nil
	s.state = StateStopping
	s.mu.Unlock()
	s.emit(&StateChangedEvent{From: StateRecording, To: StateStopping})

	r.source.Stop()
	<-r.pumpDone

	drainErr := r.stream.Drain(context.Background())
	<-r.readDone
	r.stream.Close()
	r.cancel()

	if drainErr != nil {
		s.logger.Warn("recognition drain failed", "error", drainErr)
		s.emit(&ErrorEvent{Code: string(core.TypeOf(drainErr)), Message: drainErr.Error()})
	}

	s.clearTranscript()
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	s.emit(&StateChangedEvent{From: StateStopping, To: StateIdle})
	s.emit(&RecordingStoppedEvent{Reason: "stopped"})
	s.logger.Info("recording stopped")
	return nil
}

// ClearHistory wipes the dialogue history. Allowed in any state; an
// in-flight generation still lands its turns afterwards.
func (s *Session) ClearHistory() {
	s.engine.History().Clear()
	s.emit(&HistoryClearedEvent{})
}

// Close shuts the session down for good: any recording is torn down,
// the dispatch worker stops, and the event channel closes.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.mu.Lock()
	r := s.run
	s.run = nil
	s.state = StateIdle
	s.mu.Unlock()

	close(s.done)
	s.lifeCancel()

	if r != nil {
		r.source.Stop()
		r.stream.Close()
		r.cancel()
		<-r.pumpDone
		<-r.readDone
	}
	<-s.dispatchDone
	close(s.events)
	return nil
}

// pumpLoop forwards captured audio into the recognition stream until
// the source stops. A terminal stream error ends the pump early; the
// read loop owns the teardown.
func (s *Session) pumpLoop(r *recordingRun) {
	defer close(r.pumpDone)
	for chunk := range r.source.Chunks() {
		if err := r.stream.Send(chunk.Data); err != nil {
			return
		}
	}
}

// readLoop turns recognition results into events and queued turns.
func (s *Session) readLoop(r *recordingRun) {
	defer close(r.readDone)
	for tr := range r.stream.Results() {
		if tr.IsFinal {
			s.mu.Lock()
			s.currentTranscript = ""
			s.mu.Unlock()
			s.emit(&TranscriptFinalEvent{Text: tr.Text})
			select {
			case s.turns <- tr.Text:
			case <-s.done:
				return
			}
		} else {
			s.mu.Lock()
			s.currentTranscript = tr.Text
			s.mu.Unlock()
			s.emit(&TranscriptInterimEvent{Text: tr.Text})
		}
	}

	if err := r.stream.Err(); err != nil {
		s.fatal(r, err)
	}
}

// fatal tears down the current run after an unrecoverable stream
// failure. The device is released and the session returns to idle so
// the user can start again.
func (s *Session) fatal(r *recordingRun, err error) {
	s.mu.Lock()
	if s.run != r {
		// A stop or close already owns this teardown.
		s.mu.Unlock()
		return
	}
	s.run = nil
	s.mu.Unlock()

	s.logger.Error("recognition failed, stopping recording", "error", err)
	s.emit(&ErrorEvent{Code: string(core.TypeOf(err)), Message: err.Error()})

	r.source.Stop()
	r.stream.Close()
	r.cancel()

	s.clearTranscript()
	s.mu.Lock()
	old := s.state
	s.state = StateIdle
	s.mu.Unlock()
	if old != StateIdle {
		s.emit(&StateChangedEvent{From: old, To: StateIdle})
	}
	s.emit(&RecordingStoppedEvent{Reason: "stream_failed"})
}

func (s *Session) clearTranscript() {
	s.mu.Lock()
	s.currentTranscript = ""
	s.mu.Unlock()
}

// dispatchLoop is the single worker that handles finalized utterances.
// One worker means user and assistant turns always land in strict
// pairs, never interleaved across utterances.
func (s *Session) dispatchLoop() {
	defer close(s.dispatchDone)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		select {
		case <-s.done:
			return
		case text := <-s.turns:
			s.handleTurn(text)
		}
	}
}

func (s *Session) handleTurn(text string) {
	result, err := s.dispatcher.Dispatch(s.lifeCtx, text)
	if err != nil {
		s.logger.Warn("turn failed", "error", err)
		s.emit(&ErrorEvent{Code: string(core.TypeOf(err)), Message: err.Error()})
		return
	}

	switch result.Outcome {
	case OutcomeDropped:
		s.emit(&TurnDroppedEvent{})
	case OutcomeAcknowledged:
		s.emit(&TurnAcknowledgedEvent{Utterance: result.Utterance, Filler: result.Reply})
	case OutcomeAnswered:
		s.emit(&TurnAnsweredEvent{Utterance: result.Utterance, Reply: result.Reply})
	}
}

// emit delivers an event without ever blocking a processing loop. A
// full channel drops the event and counts the loss.
func (s *Session) emit(event Event) {
	if s.closed.Load() {
		return
	}
	select {
	case s.events <- event:
	case <-s.done:
	default:
		s.eventDrops.Add(1)
	}
}
