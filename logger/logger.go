package logger

// Logger is the structured logging interface the engine and stores write
// to. Implementations accept alternating key/value pairs.
type Logger interface {
	Error(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Debug(msg string, keyvals ...any)
}
