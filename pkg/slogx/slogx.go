// Package slogx builds slog loggers with the conventions shared by authkit
// binaries and examples. The SDK itself stays quiet by default via Nop.
package slogx

import (
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	Level     string // "debug", "info", "warn", "error"
	Format    string // "json" or "text"
	AddSource bool
}

// New returns a configured slog.Logger writing to stdout.
func New(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// Nop returns a logger that discards everything. Library code uses this when
// the caller does not supply a logger.
func Nop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// parseLevel maps a string to slog.Level, defaulting to info.
func parseLevel(lvl string) slog.Level {
	switch strings.ToLower(lvl) {
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
