// Package server provides the kaiwa HTTP control plane: a JSON API over
// one live dialogue session, with SSE and WebSocket event feeds.
package server

import (
	"log/slog"
	"time"
)

// Config holds all server configuration.
type Config struct {
	// Server settings
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`

	// TLS settings
	TLSEnabled  bool   `json:"tls_enabled" yaml:"tls_enabled"`
	TLSCertFile string `json:"tls_cert_file" yaml:"tls_cert_file"`
	TLSKeyFile  string `json:"tls_key_file" yaml:"tls_key_file"`

	// Observability
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`

	// CORS
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`

	// Request limits
	MaxRequestBodyBytes int64 `json:"max_request_body_bytes" yaml:"max_request_body_bytes"`

	// Timeouts
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`

	// KeepaliveInterval is how often the SSE feed pushes a status frame
	// when no events are flowing.
	KeepaliveInterval time.Duration `json:"keepalive_interval" yaml:"keepalive_interval"`

	// Logger
	Logger *slog.Logger `json:"-" yaml:"-"`
}

// ObservabilityConfig configures metrics and logging.
type ObservabilityConfig struct {
	// Metrics
	MetricsEnabled bool   `json:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path" yaml:"metrics_path"`

	// Logging
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"` // "json" or "text"
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host: "0.0.0.0",
		Port: 8080,

		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			MetricsPath:    "/metrics",
			LogLevel:       "info",
			LogFormat:      "json",
		},

		ReadTimeout:     60 * time.Second,
		WriteTimeout:    0, // SSE and WebSocket connections stay open
		ShutdownTimeout: 30 * time.Second,

		KeepaliveInterval: 15 * time.Second,

		AllowedOrigins:      []string{"*"},
		MaxRequestBodyBytes: 1 << 20,

		Logger: slog.Default(),
	}
}

// ConfigOption is a functional option for Config.
type ConfigOption func(*Config)

// WithHost sets the server host.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.Host = host
	}
}

// WithPort sets the server port.
func WithPort(port int) ConfigOption {
	return func(c *Config) {
		c.Port = port
	}
}

// WithTLS enables TLS with the given certificate and key files.
func WithTLS(certFile, keyFile string) ConfigOption {
	return func(c *Config) {
		c.TLSEnabled = true
		c.TLSCertFile = certFile
		c.TLSKeyFile = keyFile
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ConfigOption {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithObservability sets observability configuration.
func WithObservability(cfg ObservabilityConfig) ConfigOption {
	return func(c *Config) {
		c.Observability = cfg
	}
}

// WithAllowedOrigins sets allowed CORS origins.
func WithAllowedOrigins(origins []string) ConfigOption {
	return func(c *Config) {
		c.AllowedOrigins = origins
	}
}

// WithRequestBodyLimit sets max request body size in bytes.
func WithRequestBodyLimit(limit int64) ConfigOption {
	return func(c *Config) {
		c.MaxRequestBodyBytes = limit
	}
}

// WithTimeouts sets server timeouts.
func WithTimeouts(read, write, shutdown time.Duration) ConfigOption {
	return func(c *Config) {
		if read > 0 {
			c.ReadTimeout = read
		}
		if write > 0 {
			c.WriteTimeout = write
		}
		if shutdown > 0 {
			c.ShutdownTimeout = shutdown
		}
	}
}

// WithKeepaliveInterval sets the SSE keepalive interval.
func WithKeepaliveInterval(interval time.Duration) ConfigOption {
	return func(c *Config) {
		if interval > 0 {
			c.KeepaliveInterval = interval
		}
	}
}

// WithMetrics enables or disables metrics.
func WithMetrics(enabled bool) ConfigOption {
	return func(c *Config) {
		c.Observability.MetricsEnabled = enabled
	}
}
