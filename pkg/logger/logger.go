package logger

import (
	"io"
	"log/slog"
	"os"
)

// New creates a JSON logger writing to stdout at the given level.
// With no extractors, DefaultExtractors are used.
func New(level slog.Level, extractors ...ContextExtractor) *slog.Logger {
	return NewWithWriter(os.Stdout, level, extractors...)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level slog.Level, extractors ...ContextExtractor) *slog.Logger {
	if len(extractors) == 0 {
		extractors = DefaultExtractors()
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(NewContextHandler(h, extractors...))
}

// NewNope creates a no-op logger that discards all output.
func NewNope() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel converts "debug", "info", "warn" or "error" into a slog.Level.
// Unknown values fall back to info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
