// Command kaiwa-server runs the dialogue session behind an HTTP control
// plane: start/stop/clear plus status, history, SSE and WebSocket feeds.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kaiwalab/kaiwa/pkg/core"
	"github.com/kaiwalab/kaiwa/pkg/core/live"
	"github.com/kaiwalab/kaiwa/pkg/core/providers/anthropic"
	"github.com/kaiwalab/kaiwa/pkg/core/providers/gemini"
	"github.com/kaiwalab/kaiwa/pkg/core/providers/openai"
	"github.com/kaiwalab/kaiwa/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (yaml/json)")
	flag.Parse()

	_ = godotenv.Load()
	normalizeEnvKeys()

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg)
	slog.SetDefault(logger)

	engine := buildEngine()
	if len(engine.BackendNames()) == 0 {
		slog.Error("no dialogue backend available; set GOOGLE_API_KEY, OPENAI_API_KEY or ANTHROPIC_API_KEY")
		os.Exit(1)
	}
	slog.Info("dialogue engine ready",
		"backends", engine.BackendNames(),
		"assistant_model", engine.Config().AssistantModel)

	sessionCfg := live.DefaultConfig()
	sessionCfg.LoadFromEnv()
	sessionCfg.Logger = logger
	if err := sessionCfg.Validate(); err != nil {
		slog.Error("invalid session config", "error", err)
		os.Exit(1)
	}

	session := live.NewSession(sessionCfg, engine)

	options := []server.ConfigOption{
		server.WithHost(cfg.Host),
		server.WithPort(cfg.Port),
		server.WithLogger(logger),
		server.WithObservability(cfg.Observability),
		server.WithAllowedOrigins(cfg.AllowedOrigins),
		server.WithRequestBodyLimit(cfg.MaxRequestBodyBytes),
		server.WithTimeouts(cfg.ReadTimeout, cfg.WriteTimeout, cfg.ShutdownTimeout),
		server.WithKeepaliveInterval(cfg.KeepaliveInterval),
	}
	if cfg.TLSEnabled {
		options = append(options, server.WithTLS(cfg.TLSCertFile, cfg.TLSKeyFile))
	}

	srv, err := server.NewServer(session, options...)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	if err := session.Close(); err != nil {
		slog.Error("session close error", "error", err)
	}
}

// normalizeEnvKeys lets GOOGLE_API_KEY stand in for GEMINI_API_KEY, which
// is the name the engine's key lookup uses.
func normalizeEnvKeys() {
	if os.Getenv("GEMINI_API_KEY") == "" {
		if googleKey := os.Getenv("GOOGLE_API_KEY"); googleKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", googleKey)
		}
	}
}

// buildEngine creates the dialogue engine and registers every backend
// whose API key is present in the environment.
func buildEngine() *core.Engine {
	engineCfg := core.DefaultEngineConfig()
	if v := os.Getenv("ASSISTANT_MODEL"); v != "" {
		engineCfg.AssistantModel = v
	}
	if v := os.Getenv("HUMAN_MODEL"); v != "" {
		engineCfg.HumanModel = v
	}

	engine := core.NewEngine(engineCfg, nil)
	if key := engine.GetAPIKey("gemini"); key != "" {
		engine.RegisterBackend(gemini.New(key))
	}
	if key := engine.GetAPIKey("openai"); key != "" {
		engine.RegisterBackend(openai.New(key))
	}
	if key := engine.GetAPIKey("anthropic"); key != "" {
		engine.RegisterBackend(anthropic.New(key))
	}
	return engine
}

func setupLogger(cfg *server.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Observability.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Observability.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
