//go:build !llama

package llamacpp

import (
	"wundot/internal/runtime"
	"wundot/internal/sampling"
)

// Built reports whether the binary carries the go-llama.cpp bridge.
const Built = false

var errNotBuilt = runtime.ErrUnavailable("llama support not built (missing 'llama' build tag)")

// Runtime refuses to load models in builds without the 'llama' tag.
type Runtime struct {
	opts Options
}

// New returns the stub runtime.
func New(opts Options) *Runtime { return &Runtime{opts: opts.withDefaults()} }

func (r *Runtime) Load(string) (runtime.Model, error) { return nil, errNotBuilt }

func (r *Runtime) NewContext(runtime.Model) (runtime.Context, error) { return nil, errNotBuilt }

func (r *Runtime) NewSampler(runtime.Model, sampling.Policy) (runtime.Sampler, error) {
	return nil, errNotBuilt
}

func (r *Runtime) Tokenize(runtime.Context, string) ([]runtime.Token, error) { return nil, errNotBuilt }

func (r *Runtime) Decode(runtime.Context, []runtime.Token) error { return errNotBuilt }

func (r *Runtime) Sample(runtime.Sampler, runtime.Context) (runtime.Token, error) {
	return 0, errNotBuilt
}

func (r *Runtime) Accept(runtime.Sampler, runtime.Token) {}

func (r *Runtime) IsEndOfGeneration(runtime.Model, runtime.Token) bool { return true }

func (r *Runtime) Render(runtime.Context, runtime.Token) string { return "" }

func (r *Runtime) ResetContext(runtime.Context) error { return errNotBuilt }

func (r *Runtime) ResetSampler(runtime.Sampler) {}

func (r *Runtime) FreeContext(runtime.Context) {}

func (r *Runtime) FreeSampler(runtime.Sampler) {}

func (r *Runtime) FreeModel(runtime.Model) {}
