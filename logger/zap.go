package logger

import "go.uber.org/zap"

// ZapLogger adapts a zap SugaredLogger.
type ZapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger wraps an existing zap logger. A nil logger gets the
// production configuration.
func NewZapLogger(l *zap.Logger) (*ZapLogger, error) {
	if l == nil {
		built, err := zap.NewProduction()
		if err != nil {
			return nil, err
		}
		l = built
	}
	return &ZapLogger{s: l.Sugar()}, nil
}

func (z *ZapLogger) Debug(msg string, keyvals ...any) { z.s.Debugw(msg, keyvals...) }
func (z *ZapLogger) Info(msg string, keyvals ...any)  { z.s.Infow(msg, keyvals...) }
func (z *ZapLogger) Error(msg string, keyvals ...any) { z.s.Errorw(msg, keyvals...) }

// Sync flushes buffered entries.
func (z *ZapLogger) Sync() error { return z.s.Sync() }
