// Package runtime declares the model-runtime collaborator the pool and the
// generation protocol drive. Implementations own weights, decode contexts and
// samplers; this package only names the surface.
//
// Implementations:
//
//   - echo: deterministic in-memory runtime for tests and local development.
//   - llamacpp: go-llama.cpp bridge, built with `-tags=llama`. Without the tag
//     a stub is compiled that fails Load with an unavailable error.
package runtime

import (
	"errors"

	"wundot/internal/sampling"
)

// Token is a vocabulary id.
type Token int32

// Model is a loaded set of weights. It is shared read-only by every context
// and sampler created from it.
type Model interface {
	Path() string
}

// Context is one decode context: position and token history.
type Context interface {
	Model() Model
}

// Sampler holds token-selection state bound to one policy.
type Sampler interface {
	Policy() sampling.Policy
}

// Runtime is the model runtime. A Context or Sampler must only be used by one
// goroutine at a time; Model methods are safe for concurrent use.
type Runtime interface {
	Load(path string) (Model, error)
	NewContext(m Model) (Context, error)
	NewSampler(m Model, p sampling.Policy) (Sampler, error)

	Tokenize(c Context, text string) ([]Token, error)
	Decode(c Context, tokens []Token) error
	Sample(s Sampler, c Context) (Token, error)
	Accept(s Sampler, t Token)
	IsEndOfGeneration(m Model, t Token) bool
	Render(c Context, t Token) string

	// ResetContext clears decode history so the next Decode starts at position 0.
	ResetContext(c Context) error
	// ResetSampler clears accepted-token history.
	ResetSampler(s Sampler)

	FreeContext(c Context)
	FreeSampler(s Sampler)
	FreeModel(m Model)
}

// unavailableError signals that the runtime backend is not built or cannot
// be reached, so callers can report 503 rather than 500.
type unavailableError struct{ msg string }

func (e unavailableError) Error() string { return e.msg }

// ErrUnavailable constructs an unavailableError.
func ErrUnavailable(msg string) error { return unavailableError{msg: msg} }

// IsUnavailable reports whether err indicates a missing runtime backend.
func IsUnavailable(err error) bool {
	var ue unavailableError
	return errors.As(err, &ue)
}
