// Package llamacpp adapts go-llama.cpp to runtime.Runtime.
//
// go-llama.cpp exposes a whole-completion Predict call with a per-piece
// callback rather than a token-level decode/sample API. The bridge runs
// Predict in a goroutine once the first token is sampled and hands each piece
// out as one synthetic token. Every Context owns its own llama instance; the
// weights are mmapped, so contexts share them at the page level.
//
// The real bridge is compiled with -tags=llama. Without it Load fails with
// runtime.ErrUnavailable.
package llamacpp

// Options configures the bridge.
type Options struct {
	// ContextSize is the llama context length in tokens.
	ContextSize int
	// Threads is the number of CPU threads used by Predict.
	Threads int
}

func (o Options) withDefaults() Options {
	if o.ContextSize <= 0 {
		o.ContextSize = 2048
	}
	if o.Threads <= 0 {
		o.Threads = 4
	}
	return o
}
