package ubac

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks a malformed grant or attribute request,
	// e.g. a principal with both or neither of user/role set.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEngineUnavailable marks a backing store or role resolver outage.
	// It is never mapped to an allow or a deny.
	ErrEngineUnavailable = errors.New("engine unavailable")

	// ErrAuditWriteFailed marks a decision that was computed but could not
	// be durably logged.
	ErrAuditWriteFailed = errors.New("audit write failed")
)

// AuditWriteError carries the decision that was reached when the audit
// append failed, so callers receive both the outcome and the fault.
// It matches ErrAuditWriteFailed and the underlying store error.
type AuditWriteError struct {
	Decision *Decision
	Err      error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit write failed: %v", e.Err)
}

func (e *AuditWriteError) Unwrap() []error {
	return []error{ErrAuditWriteFailed, e.Err}
}

// unavailable tags a store or resolver failure as EngineUnavailable while
// keeping the cause in the chain.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrEngineUnavailable, err)
}
