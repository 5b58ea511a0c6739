// Package logging builds the process logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a logger for the given environment: prod logs JSON, dev
// logs text with source locations. LOG_LEVEL (debug, info, warn, error)
// overrides the default info level.
func New(env string) *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	var handler slog.Handler
	if strings.EqualFold(env, "prod") || strings.EqualFold(env, "production") {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level:     level,
			AddSource: true,
		})
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
