package logging

import (
	"io"
	"log/slog"
	"os"
)

// Init installs the default slog logger. LOG_LEVEL overrides def; the
// terminal client defaults to errors only so logs stay out of the TUI.
func Init(def slog.Level) *slog.Logger {
	return InitWriter(os.Stderr, def)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, def slog.Level) *slog.Logger {
	logger := slog.New(
		slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: ParseLevel(os.Getenv("LOG_LEVEL"), def),
		}),
	)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a LOG_LEVEL value to a slog level, returning def for empty
// or unknown values.
func ParseLevel(s string, def slog.Level) slog.Level {
	switch s {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	default:
		return def
	}
}
