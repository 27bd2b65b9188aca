// Package logging wraps log/slog with store-specific helpers so every
// component logs with consistent field names.
package logging

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger.
type Logger struct {
	*slog.Logger
}

// New creates a Logger with the given handler. A nil handler falls back to a
// text handler on stderr at info level.
func New(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewText creates a Logger that writes human-readable text to stderr.
func NewText(level slog.Level) *Logger {
	return New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewJSON creates a Logger that writes JSON lines to stderr.
func NewJSON(level slog.Level) *Logger {
	return New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Noop creates a Logger that discards all output.
func Noop() *Logger {
	return New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // unreachable level
	}))
}

// WithGraphContext tags the logger with the graph context (namespace) name.
func (l *Logger) WithGraphContext(name string) *Logger {
	return &Logger{Logger: l.Logger.With("context", name)}
}

// WithComponent tags the logger with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch s {
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
