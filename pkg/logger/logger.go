// Package logger builds structured slog loggers with hostname tracking and
// short source file paths for better debugging across multiple instances.
//
// Loggers are constructed explicitly and handed to each component; there is
// no package-level default to mutate.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// New creates a slog logger writing to w at the given level, with the
// hostname attached to every record and source locations shortened to
// basename:line.
func New(w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			// Shorten source file paths to just basename:line
			if a.Key == slog.SourceKey {
				if source, ok := a.Value.Any().(*slog.Source); ok {
					source.File = filepath.Base(source.File)
					source.Function = ""
				}
			}
			return a
		},
	}

	logger := slog.New(slog.NewTextHandler(w, opts))

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return logger.With("instance", hostname)
}

// ParseLevel converts a config string ("debug", "info", "warn", "error")
// into a slog level. Unknown values fall back to info.
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
