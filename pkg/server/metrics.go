package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the server.
type Metrics struct {
	registry *prometheus.Registry

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Recording metrics
	RecordingActive   prometheus.Gauge
	RecordingsTotal   *prometheus.CounterVec
	RecordingDuration prometheus.Histogram

	// Dialogue metrics
	TurnsTotal       *prometheus.CounterVec
	TranscriptsTotal *prometheus.CounterVec

	// Event feed metrics
	SubscribersActive *prometheus.GaugeVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "kaiwa"
	}

	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"path"},
	)

	recordingActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recording_active",
			Help:      "Whether a recording is in progress (0 or 1)",
		},
	)

	recordingsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_total",
			Help:      "Total number of recordings by stop reason",
		},
		[]string{"reason"},
	)

	recordingDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recording_duration_seconds",
			Help:      "Recording duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of dispatched turns by outcome",
		},
		[]string{"outcome"},
	)

	transcriptsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_total",
			Help:      "Total number of transcription results",
		},
		[]string{"kind"},
	)

	subscribersActive := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers_active",
			Help:      "Number of connected event feed clients",
		},
		[]string{"transport"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by taxonomy code",
		},
		[]string{"code"},
	)

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		recordingActive,
		recordingsTotal,
		recordingDuration,
		turnsTotal,
		transcriptsTotal,
		subscribersActive,
		errorsTotal,
	)

	return &Metrics{
		registry:          registry,
		RequestsTotal:     requestsTotal,
		RequestDuration:   requestDuration,
		RecordingActive:   recordingActive,
		RecordingsTotal:   recordingsTotal,
		RecordingDuration: recordingDuration,
		TurnsTotal:        turnsTotal,
		TranscriptsTotal:  transcriptsTotal,
		SubscribersActive: subscribersActive,
		ErrorsTotal:       errorsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed request.
func (m *Metrics) RecordRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// RecordRecordingStart records a recording starting.
func (m *Metrics) RecordRecordingStart() {
	m.RecordingActive.Set(1)
}

// RecordRecordingEnd records a recording ending.
func (m *Metrics) RecordRecordingEnd(reason string, duration time.Duration) {
	m.RecordingActive.Set(0)
	m.RecordingsTotal.WithLabelValues(reason).Inc()
	if duration > 0 {
		m.RecordingDuration.Observe(duration.Seconds())
	}
}

// RecordTurn records a dispatched turn.
func (m *Metrics) RecordTurn(outcome string) {
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

// RecordTranscript records a transcription result.
func (m *Metrics) RecordTranscript(kind string) {
	m.TranscriptsTotal.WithLabelValues(kind).Inc()
}

// SubscriberConnected records an event feed client connecting.
func (m *Metrics) SubscriberConnected(transport string) {
	m.SubscribersActive.WithLabelValues(transport).Inc()
}

// SubscriberDisconnected records an event feed client disconnecting.
func (m *Metrics) SubscriberDisconnected(transport string) {
	m.SubscribersActive.WithLabelValues(transport).Dec()
}

// RecordError records an error.
func (m *Metrics) RecordError(code string) {
	if code == "" {
		code = "internal"
	}
	m.ErrorsTotal.WithLabelValues(code).Inc()
}

// ResponseWriter wraps http.ResponseWriter to capture status code and size.
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode   int
	BytesWritten int
}

// NewResponseWriter creates a new ResponseWriter.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code.
func (rw *ResponseWriter) WriteHeader(code int) {
	rw.StatusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures bytes written.
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.BytesWritten += n
	return n, err
}

// Flush implements http.Flusher.
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// StatusString returns the status code as a string.
func (rw *ResponseWriter) StatusString() string {
	return strconv.Itoa(rw.StatusCode)
}
