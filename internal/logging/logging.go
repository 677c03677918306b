package logging

import (
	"io"
	"log/slog"
	"os"

	"aurora-fleet/internal/config"
)

// Build returns the process logger for the given settings, writing to stdout.
func Build(cfg config.Common) *slog.Logger {
	return New(os.Stdout, cfg.LogLevel, cfg.LogJSON)
}

func New(w io.Writer, level string, json bool) *slog.Logger {
	hOpts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if json {
		return slog.New(slog.NewJSONHandler(w, hOpts))
	}
	return slog.New(slog.NewTextHandler(w, hOpts))
}

func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard is a logger for tests and callers that do not care about output.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
