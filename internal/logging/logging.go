// Package logging provides structured logging using slog.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// Config holds logging configuration.
type Config struct {
	Format string // "json" | "text"
	Level  string // "debug" | "info" | "warn" | "error"
}

// SetupWriter initializes the global slog logger writing to w.
func SetupWriter(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RunLogger creates a logger tagged with the run id.
func RunLogger(base *slog.Logger, runID string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With("run_id", runID)
}

// WorkerLogger creates a logger with worker context.
func WorkerLogger(base *slog.Logger, workerID int) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With("worker_id", workerID)
}

// Component returns a logger with a component name.
func Component(name string) *slog.Logger {
	return slog.With("component", name)
}
