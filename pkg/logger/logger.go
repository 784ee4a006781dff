// Package logger configures the process-wide slog logger.
// No external dependencies - uses only standard library.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Config controls logger construction.
type Config struct {
	// Level is one of "debug", "info", "warn", "error" (default: "info").
	Level string

	// Format is "json" or "text" (default: "json").
	Format string

	// AddSource includes the caller file:line in each record.
	AddSource bool
}

// ParseLevel parses a level string, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// New builds a logger writing to stderr.
func New(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// Setup builds the logger and installs it as the slog default, so code
// holding no explicit logger still logs through the same handler.
func Setup(cfg Config) *slog.Logger {
	log := New(cfg)
	slog.SetDefault(log)
	return log
}
