package sync

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes a failure per §7's error taxonomy. It is metadata
// on an error, not a distinct error type — callers inspect it via
// KindOf, they do not type-switch on a hierarchy of error structs.
type ErrorKind int

const (
	// KindInvalidArgument covers public API misuse; the caller is always
	// at fault and the run must not start.
	KindInvalidArgument ErrorKind = iota
	// KindOperationCancelled is produced when a Canceler observed true;
	// never logged as an error.
	KindOperationCancelled
	// KindRuntime is a generic non-recoverable local fault.
	KindRuntime
	// KindLocalStorage covers local-storage open/operation failures.
	KindLocalStorage
	// KindRemoteTransport covers wire-client failures the retry policy
	// already exhausted.
	KindRemoteTransport
)

// kindedError pairs a Kind with an underlying cause.
type kindedError struct {
	kind ErrorKind
	err  error
}

func (e *kindedError) Error() string {
	return e.err.Error()
}

func (e *kindedError) Unwrap() error {
	return e.err
}

// WithKind wraps err with an ErrorKind classification.
func WithKind(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}

	return &kindedError{kind: kind, err: err}
}

// KindOf extracts the ErrorKind from err, defaulting to KindRuntime if err
// was never classified.
func KindOf(err error) ErrorKind {
	var ke *kindedError
	if errors.As(err, &ke) {
		return ke.kind
	}

	return KindRuntime
}

// ErrOperationCancelled is returned by any in-flight operation that
// observed Canceler.IsCanceled() == true. It is never logged as an error
// (§7).
var ErrOperationCancelled = WithKind(KindOperationCancelled, errors.New("sync: operation cancelled"))

// StopSynchronizationError is domain data, not a raised exception (§9): it
// travels inside a SyncResult/DownloadNotesStatus/SendStatus rather than
// being returned as a Go error from the run. A zero value means "no stop
// condition" (StopNone).
type StopKind int

const (
	StopNone StopKind = iota
	StopRateLimitReached
	StopAuthenticationExpired
)

// StopSynchronizationError is mutually exclusive across its Kind values
// (§3). SecondsToWait is only meaningful for StopRateLimitReached, and may
// be zero if the server did not specify a wait (in which case the caller
// falls back to Config.Sync.DefaultRateLimitWait — see SUPPLEMENTED FEATURES).
type StopSynchronizationError struct {
	Kind          StopKind
	SecondsToWait int
}

// None reports whether this represents "no stop condition".
func (s StopSynchronizationError) None() bool {
	return s.Kind == StopNone
}

func (s StopSynchronizationError) String() string {
	switch s.Kind {
	case StopRateLimitReached:
		return fmt.Sprintf("rate limit reached, wait %ds", s.SecondsToWait)
	case StopAuthenticationExpired:
		return "authentication expired"
	default:
		return "none"
	}
}
