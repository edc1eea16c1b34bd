package media

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// levelTrace sits below slog's debug level; pion is very chatty at trace.
const levelTrace = slog.LevelDebug - 4

// LoggerFactory routes pion's scoped loggers into slog.
type LoggerFactory struct {
	Logger *slog.Logger
}

// NewLogger implements logging.LoggerFactory.
func (f LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	l := f.Logger
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{l: l.With("component", "pion", "scope", scope)}
}

type slogLogger struct {
	l *slog.Logger
}

func (s *slogLogger) log(level slog.Level, msg string) {
	s.l.Log(context.Background(), level, msg)
}

func (s *slogLogger) logf(level slog.Level, format string, args ...interface{}) {
	if !s.l.Enabled(context.Background(), level) {
		return
	}
	s.l.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (s *slogLogger) Trace(msg string)                          { s.log(levelTrace, msg) }
func (s *slogLogger) Tracef(format string, args ...interface{}) { s.logf(levelTrace, format, args...) }
func (s *slogLogger) Debug(msg string)                          { s.log(slog.LevelDebug, msg) }
func (s *slogLogger) Debugf(format string, args ...interface{}) { s.logf(slog.LevelDebug, format, args...) }
func (s *slogLogger) Info(msg string)                           { s.log(slog.LevelInfo, msg) }
func (s *slogLogger) Infof(format string, args ...interface{})  { s.logf(slog.LevelInfo, format, args...) }
func (s *slogLogger) Warn(msg string)                           { s.log(slog.LevelWarn, msg) }
func (s *slogLogger) Warnf(format string, args ...interface{})  { s.logf(slog.LevelWarn, format, args...) }
func (s *slogLogger) Error(msg string)                          { s.log(slog.LevelError, msg) }
func (s *slogLogger) Errorf(format string, args ...interface{}) { s.logf(slog.LevelError, format, args...) }
