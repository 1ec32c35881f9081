// Package errs defines the engine-wide error taxonomy. Every boundary
// (adapter decode, risk rejection, order lifecycle, shutdown) wraps failures
// in a CoreError carrying one of these kinds so callers can branch on cause
// without string-matching error text.
package errs

import "fmt"

// Kind classifies a CoreError by origin, per the error handling design.
type Kind string

const (
	TransportError        Kind = "TransportError"
	DecodeError           Kind = "DecodeError"
	RateLimited           Kind = "RateLimited"
	NotAuthenticated      Kind = "NotAuthenticated"
	InsufficientLiquidity Kind = "InsufficientLiquidity"
	RiskRejected          Kind = "RiskRejected"
	OrderRejectedErr      Kind = "OrderRejected"
	TimeoutErr            Kind = "Timeout"
	ReconciliationFailed  Kind = "ReconciliationFailed"
	ShutdownRequested     Kind = "ShutdownRequested"
)

// CoreError wraps an underlying error with a Kind and the operation that
// produced it, and implements Unwrap so errors.Is/As keep working.
type CoreError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *CoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *CoreError) Unwrap() error { return e.Err }

// New builds a CoreError, wrapping err (which may be nil).
func New(kind Kind, op string, err error) *CoreError {
	return &CoreError{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is a CoreError of the given Kind.
func Is(err error, kind Kind) bool {
	ce, ok := err.(*CoreError)
	if !ok {
		return false
	}
	return ce.Kind == kind
}
