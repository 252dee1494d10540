package pool

import (
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by Acquire once the pool is shutting down or closed.
var ErrClosed = errors.New("session pool closed")

// initError reports a session that could not be constructed during New.
type initError struct {
	slot int
	err  error
}

func (e initError) Error() string {
	return fmt.Sprintf("init session %d: %v", e.slot, e.err)
}

func (e initError) Unwrap() error { return e.err }

// IsInitError reports whether err came from pool construction.
func IsInitError(err error) bool {
	var ie initError
	return errors.As(err, &ie)
}

// doubleReleaseError signals a Release of a session that is not checked out
// from this pool. Pool state is left untouched.
type doubleReleaseError struct{ slot int }

func (e doubleReleaseError) Error() string {
	return fmt.Sprintf("release of session %d which is not checked out", e.slot)
}

// IsDoubleRelease reports whether err indicates an invalid Release.
func IsDoubleRelease(err error) bool {
	var de doubleReleaseError
	return errors.As(err, &de)
}

// tooBusyError signals that the configured acquire timeout expired.
type tooBusyError struct{ waited time.Duration }

func (e tooBusyError) Error() string {
	return fmt.Sprintf("too busy: no session available after %s", e.waited)
}

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var tb tooBusyError
	return errors.As(err, &tb)
}

// shutdownBusyError is returned when Shutdown gives up waiting for
// checked-out sessions.
type shutdownBusyError struct {
	outstanding int
	err         error
}

func (e shutdownBusyError) Error() string {
	return fmt.Sprintf("shutdown: %d sessions still checked out: %v", e.outstanding, e.err)
}

func (e shutdownBusyError) Unwrap() error { return e.err }

// IsShutdownBusy reports whether err came from an interrupted Shutdown.
func IsShutdownBusy(err error) bool {
	var sb shutdownBusyError
	return errors.As(err, &sb)
}
