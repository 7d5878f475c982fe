// Package logger builds the slog.Logger used by the command-line tools.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds logger configuration.
type Config struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json"`
	Output string `mapstructure:"output"` // stdout, stderr, or file path
}

// ParseLevel converts a level name to a slog.Level. Unknown names map to
// Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a logger from cfg.
//
// The returned close function releases the log file, if any, and is safe to
// call when logging to stdout or stderr.
func New(cfg Config) (*slog.Logger, func() error, error) {
	var (
		w       io.Writer
		closeFn = func() error { return nil }
	)

	switch strings.ToLower(cfg.Output) {
	case "stdout", "":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
		}
		w = f
		closeFn = f.Close
	}

	return NewWithWriter(w, cfg.Level, cfg.Format), closeFn, nil
}

// NewWithWriter creates a logger writing to w.
// This is primarily useful for testing.
func NewWithWriter(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
