package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kaiwalab/kaiwa/pkg/core/live"
)

// Server exposes one live dialogue session over HTTP: a JSON control
// API mirroring the session operations, SSE and WebSocket event feeds,
// and Prometheus metrics.
type Server struct {
	config  *Config
	logger  *slog.Logger
	session *live.Session

	// HTTP server
	httpServer *http.Server
	mux        *http.ServeMux

	// Middleware
	logging     *LoggingMiddleware
	recovery    *RecoveryMiddleware
	cors        *CORSMiddleware
	bodyLimiter *RequestBodyLimitMiddleware

	// Metrics
	metrics *Metrics

	// Event fan-out
	hub *eventHub

	// WebSocket upgrader
	upgrader websocket.Upgrader

	// Lifecycle
	shutdown atomic.Bool
}

// NewServer creates a server around an existing session. The caller
// keeps ownership of the session and closes it after shutdown.
func NewServer(session *live.Session, opts ...ConfigOption) (*Server, error) {
	if session == nil {
		return nil, fmt.Errorf("session is required")
	}

	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := NewMetrics("kaiwa")

	s := &Server{
		config:  config,
		logger:  logger,
		session: session,
		metrics: metrics,
		hub:     newEventHub(),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now; configure per deployment
			},
		},
	}

	s.logging = NewLoggingMiddleware(logger)
	s.recovery = NewRecoveryMiddleware(logger, metrics)
	s.cors = NewCORSMiddleware(config.AllowedOrigins)
	s.bodyLimiter = NewRequestBodyLimitMiddleware(config.MaxRequestBodyBytes)

	s.setupRoutes()

	// The metrics observer subscribes before the pump starts so it sees
	// every event.
	obs := s.hub.subscribe()
	go s.observeEvents(obs)
	go s.hub.run(session.Events())

	return s, nil
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() {
	s.mux = http.NewServeMux()

	// Liveness (no middleware)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)

	if s.config.Observability.MetricsEnabled {
		s.mux.Handle("GET "+s.config.Observability.MetricsPath, s.metrics.Handler())
	}

	// Control API
	s.mux.Handle("POST /api/start", s.withMiddleware(http.HandlerFunc(s.handleStart)))
	s.mux.Handle("POST /api/stop", s.withMiddleware(http.HandlerFunc(s.handleStop)))
	s.mux.Handle("POST /api/clear", s.withMiddleware(http.HandlerFunc(s.handleClear)))
	s.mux.Handle("GET /api/status", s.withMiddleware(http.HandlerFunc(s.handleStatus)))
	s.mux.Handle("GET /api/history", s.withMiddleware(http.HandlerFunc(s.handleHistory)))

	// Event feeds hold their connections open; they skip the request
	// logging but keep CORS.
	s.mux.Handle("GET /api/stream", s.cors.Handle(http.HandlerFunc(s.handleStream)))
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// withMiddleware wraps a handler with all middleware.
func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	// Apply middleware in reverse order (innermost first)
	handler = s.instrument(handler)
	handler = s.recovery.Recover(handler)
	handler = s.bodyLimiter.Limit(handler)
	handler = s.cors.Handle(handler)
	handler = s.logging.Log(handler)
	return handler
}

// instrument records request metrics per route.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := NewResponseWriter(w)
		next.ServeHTTP(rw, r)
		s.metrics.RecordRequest(r.Method, r.URL.Path, rw.StatusString(), time.Since(start))
	})
}

// observeEvents watches the session feed and keeps the domain metrics
// current.
func (s *Server) observeEvents(sub chan live.Event) {
	var recordingStart time.Time
	for ev := range sub {
		switch e := ev.(type) {
		case *live.RecordingStartedEvent:
			recordingStart = time.Now()
			s.metrics.RecordRecordingStart()
		case *live.RecordingStoppedEvent:
			var duration time.Duration
			if !recordingStart.IsZero() {
				duration = time.Since(recordingStart)
				recordingStart = time.Time{}
			}
			s.metrics.RecordRecordingEnd(e.Reason, duration)
		case *live.TranscriptInterimEvent:
			s.metrics.RecordTranscript("interim")
		case *live.TranscriptFinalEvent:
			s.metrics.RecordTranscript("final")
		case *live.TurnDroppedEvent:
			s.metrics.RecordTurn("dropped")
		case *live.TurnAcknowledgedEvent:
			s.metrics.RecordTurn("acknowledged")
		case *live.TurnAnsweredEvent:
			s.metrics.RecordTurn("answered")
		case *live.ErrorEvent:
			s.metrics.RecordError(e.Code)
		}
	}
}

// Start starts the server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.logger.Info("server starting",
		"addr", addr,
		"tls", s.config.TLSEnabled,
	)

	if s.config.TLSEnabled {
		return s.httpServer.ServeTLS(listener, s.config.TLSCertFile, s.config.TLSKeyFile)
	}
	return s.httpServer.Serve(listener)
}

// Shutdown gracefully shuts down the server. The session itself stays
// open; the caller closes it separately.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdown.Swap(true) {
		return nil
	}

	s.logger.Info("server shutting down")

	// Dropping the subscribers releases the open feed connections so
	// the HTTP shutdown can complete.
	s.hub.close()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// handleHealthz answers liveness probes.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"state":  s.session.State().String(),
	})
}

// handleStart begins a recording. The session gets a background
// context: the recording must outlive this request.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Start(context.Background()); err != nil {
		writeError(w, err, requestIDFromContext(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "音声認識を開始しました。",
	})
}

// handleStop ends the recording and drains the last hypotheses.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Stop(); err != nil {
		writeError(w, err, requestIDFromContext(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "音声認識を停止しました。",
	})
}

// handleClear wipes the dialogue history.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.session.ClearHistory()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "会話履歴をクリアしました。",
	})
}

// handleStatus reports the session state snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}

// handleHistory returns the dialogue so far.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"history": s.session.History(),
	})
}
