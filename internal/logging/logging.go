// Package logging builds the slog.Logger used by the asyncinit command. Library code never logs unless a logger is
// passed to it, so this is the only place where handlers are chosen.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/mkock/asyncinit/internal/config"
)

// FromConfig returns the logger described by the logging section of the configuration. With debug set, the configured
// level is ignored and everything down to slog.LevelDebug is written, which is what the --debug flag does.
func FromConfig(cfg config.LoggingConfig, debug bool, w io.Writer) *slog.Logger {
	level := ParseLevel(cfg.Level)
	if debug {
		level = slog.LevelDebug
	}
	return NewLoggerWithWriter(level, cfg.Format, w)
}

// NewLoggerWithWriter returns a logger writing to w, in json when format says so and as key=value text otherwise.
func NewLoggerWithWriter(level slog.Level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a configured level name to a slog.Level. Unknown names, which config validation already rejects,
// map to slog.LevelInfo.
func ParseLevel(s string) slog.Level {
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
