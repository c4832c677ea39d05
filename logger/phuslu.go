package logger

import (
	"fmt"

	phlog "github.com/oarkflow/log"
)

// PhusluLogger adapts the phuslu-style phlog package.
type PhusluLogger struct {
	l *phlog.Logger
}

func NewPhusluLogger() *PhusluLogger {
	return &PhusluLogger{l: &phlog.Logger{Level: phlog.InfoLevel}}
}

// SetVerbose lowers the threshold to debug.
func (p *PhusluLogger) SetVerbose() {
	p.l.Level = phlog.DebugLevel
}

func (p *PhusluLogger) Debug(msg string, keyvals ...any) {
	p.emit(p.l.Debug(), msg, keyvals)
}

func (p *PhusluLogger) Info(msg string, keyvals ...any) {
	p.emit(p.l.Info(), msg, keyvals)
}

func (p *PhusluLogger) Error(msg string, keyvals ...any) {
	p.emit(p.l.Error(), msg, keyvals)
}

func (p *PhusluLogger) emit(b *phlog.Entry, msg string, keyvals []any) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		ks := fmt.Sprint(keyvals[i])
		switch vv := keyvals[i+1].(type) {
		case string:
			b = b.Str(ks, vv)
		case bool:
			b = b.Bool(ks, vv)
		case int:
			b = b.Int(ks, vv)
		case error:
			b = b.AnErr(ks, vv)
		default:
			b = b.Any(ks, vv)
		}
	}
	b.Msg(msg)
}
