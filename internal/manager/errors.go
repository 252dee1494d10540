package manager

import (
	"errors"
	"fmt"

	"wundot/internal/pool"
	"wundot/internal/runtime"
)

// notReadyError signals a request made before Initialize succeeded or after
// Shutdown (return 503).
type notReadyError struct{ reason string }

func (e notReadyError) Error() string { return "not ready: " + e.reason }

// IsNotReady reports whether err indicates that no model is loaded.
func IsNotReady(err error) bool {
	var nr notReadyError
	return errors.As(err, &nr)
}

// runtimeFailureError wraps a decode/sample error from the model runtime.
type runtimeFailureError struct {
	op  string
	err error
}

func (e runtimeFailureError) Error() string { return fmt.Sprintf("runtime %s: %v", e.op, e.err) }

func (e runtimeFailureError) Unwrap() error { return e.err }

// IsRuntimeFailure reports whether err came from the model runtime during
// generation.
func IsRuntimeFailure(err error) bool {
	var rf runtimeFailureError
	return errors.As(err, &rf)
}

type streamNotFoundError struct{ id string }

func (e streamNotFoundError) Error() string { return "stream not found: " + e.id }

// IsStreamNotFound reports whether err refers to an unknown or closed stream.
func IsStreamNotFound(err error) bool {
	var sn streamNotFoundError
	return errors.As(err, &sn)
}

// ErrModelNotFound returns an error when a requested model id is not present in the registry.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var mn modelNotFoundError
	return errors.As(err, &mn)
}

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool { return pool.IsTooBusy(err) }

// IsDependencyUnavailable reports whether err indicates a missing runtime backend.
func IsDependencyUnavailable(err error) bool { return runtime.IsUnavailable(err) }

// IsShutdownBusy reports whether Shutdown had to force-release sessions that
// were still checked out when its context expired.
func IsShutdownBusy(err error) bool { return pool.IsShutdownBusy(err) }
