package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a logger writing to stdout. Every record carries the
// environment and service attributes.
func New(lvl string, addSource bool, environment string) *slog.Logger {
	return NewWithWriter(os.Stdout, lvl, addSource, environment)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, lvl string, addSource bool, environment string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(lvl),
		AddSource: addSource,
	}

	var handler slog.Handler
	if strings.EqualFold(environment, "prod") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler).With(
		slog.String("environment", environment),
		slog.String("service", "tool-dispatcher"),
	)
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else
// is info.
func ParseLevel(level string) slog.Level {
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
