// Package bug is the severity-classified error channel shared by all of
// the I/O packages. Deeply nested routines report conditions through
// Bug; fatal conditions unwind to the recovery point installed by the
// exported entry point that is currently running, where they surface as
// an ordinary error.
package bug

import (
	"errors"
	"fmt"

	"github.com/batchatco/go-thrower"

	"github.com/miriadio/go-native-miriad/internal"
)

// Severity of a reported condition.
type Severity byte

const (
	Fatal   Severity = 'f'
	Warning Severity = 'w'
	Info    Severity = 'i'
)

var (
	logger  = internal.NewLogger()
	promote bool
)

// Sentinel errors shared across the I/O packages.
var (
	// ErrNotPresent means a named item or variable does not exist.
	// It is distinct from a present-but-empty value.
	ErrNotPresent = errors.New("item not present")
	// ErrNotImplemented means the operation depends on a capability
	// that is not available; probe for availability instead of
	// triggering it.
	ErrNotImplemented = errors.New("operation not implemented")
	// ErrUnsupportedHeaderType means a header item exists but its
	// declared type cannot be represented as a typed value.
	ErrUnsupportedHeaderType = errors.New("unsupported header item type")
	// ErrClosed means a dataset, item or stream handle was used after
	// being closed or released.
	ErrClosed = errors.New("handle is closed")
	// ErrEndOfStream is used internally to mark normal stream
	// exhaustion; exported entry points convert it to a count of zero
	// or a sentinel result, never to a failure.
	ErrEndOfStream = errors.New("end of stream")
)

// BugError is a fatal native-style fault, or a warning promoted to an
// error by policy. After one of these the originating handle should be
// treated as possibly inconsistent: close and reopen rather than
// continue.
type BugError struct {
	Severity Severity
	Message  string
}

func (e *BugError) Error() string {
	if e.Severity == Fatal {
		return "fatal: " + e.Message
	}
	return "warning: " + e.Message
}

// ValidationError reports a caller-argument problem detected before any
// I/O was attempted: no partial state can exist.
type ValidationError struct {
	Arg   string // which argument
	Check string // which check failed
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Arg, e.Check)
}

// IOError wraps a nonzero I/O status from an item or dataset operation.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// PromoteWarnings controls whether warning-severity conditions take the
// fatal unwind path instead of being logged. Returns the old setting.
func PromoteWarnings(enable bool) bool {
	old := promote
	promote = enable
	return old
}

// Report raises a condition of the given severity. Fatal conditions
// (and warnings under PromoteWarnings) unwind to the nearest Recover;
// anything else is logged and execution continues.
func Report(sev Severity, msg string) {
	if sev == Fatal || (promote && sev == Warning) {
		thrower.Throw(&BugError{Severity: sev, Message: msg})
	}
	if sev == Warning {
		logger.Warn(msg)
	} else {
		logger.Info(msg)
	}
}

// Reportf is Report with formatting.
func Reportf(sev Severity, format string, v ...any) {
	Report(sev, fmt.Sprintf(format, v...))
}

// Recover is the per-call recovery point. Every exported entry point of
// the I/O packages installs one:
//
//	func (ds *Dataset) Flush() (err error) {
//		defer bug.Recover(&err)
//		...
//	}
//
// Go's panic/recover is goroutine-local, so unlike a process-wide jump
// buffer each in-flight call owns its own recovery context and a fault
// in one goroutine cannot unwind another's. Each call installs a fresh
// recovery point, so a prior fault cannot be mistaken for a current
// one.
//
// Recover is a function value so that deferring it defers
// thrower.RecoverError itself; recover only takes effect when called
// directly from the deferred function.
var Recover = thrower.RecoverError

// Throw aborts the current top-level operation with err.
func Throw(err error) {
	thrower.Throw(err)
}

// ThrowIfError throws only if err is non-nil.
func ThrowIfError(err error) {
	thrower.ThrowIfError(err)
}

// ThrowIO wraps a nonzero I/O status and throws it.
func ThrowIO(op string, err error) {
	thrower.Throw(&IOError{Op: op, Err: err})
}
