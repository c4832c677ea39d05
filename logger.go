package ubac

import "github.com/oarkflow/ubac/logger"

// Logger is re-exported so callers can pass any adapter from the logger
// package without importing it.
type Logger = logger.Logger

// CorrelationIDFunc generates a correlation ID for each access check.
// It must be cheap and safe for concurrent calls.
type CorrelationIDFunc func() string

// WithLogger installs a Logger on the Engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) error {
		if l != nil {
			e.logger = l
		}
		return nil
	}
}

// WithCorrelationIDFunc installs a custom correlation ID generator used to
// stamp decisions and audit records.
func WithCorrelationIDFunc(f CorrelationIDFunc) Option {
	return func(e *Engine) error {
		if f != nil {
			e.correlationID = f
		}
		return nil
	}
}
