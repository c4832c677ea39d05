package logger

import (
	"context"
	"log/slog"
)

// SLogLogger adapts a log/slog handler to the Logger interface. Keyvals are
// handed to slog as alternating key/value arguments, so handler options
// (level, format, output) apply unchanged.
type SLogLogger struct {
	l *slog.Logger
}

// NewSLogLogger builds an adapter over h. A nil handler uses slog.Default.
func NewSLogLogger(h slog.Handler) *SLogLogger {
	if h == nil {
		return &SLogLogger{l: slog.Default()}
	}
	return &SLogLogger{l: slog.New(h)}
}

func (s *SLogLogger) Debug(msg string, keyvals ...any) {
	s.l.Log(context.Background(), slog.LevelDebug, msg, keyvals...)
}

func (s *SLogLogger) Info(msg string, keyvals ...any) {
	s.l.Log(context.Background(), slog.LevelInfo, msg, keyvals...)
}

func (s *SLogLogger) Error(msg string, keyvals ...any) {
	s.l.Log(context.Background(), slog.LevelError, msg, keyvals...)
}
