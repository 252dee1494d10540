//go:build llama

package llamacpp

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"

	"wundot/internal/runtime"
	"wundot/internal/sampling"
)

// Built reports whether the binary carries the go-llama.cpp bridge.
const Built = true

// eos is the synthetic end-of-generation token; pieces are numbered from 1.
const eos runtime.Token = 0

// Runtime implements runtime.Runtime over go-llama.cpp.
type Runtime struct {
	opts Options
}

// New returns a bridge runtime.
func New(opts Options) *Runtime { return &Runtime{opts: opts.withDefaults()} }

type model struct {
	path string
	// primary serves tokenization; Predict never runs on it.
	mu      sync.Mutex
	primary *llama.LLama
}

func (m *model) Path() string { return m.path }

type sampler struct {
	policy sampling.Policy
}

func (s *sampler) Policy() sampling.Policy { return s.policy.Clone() }

// llamaContext owns one llama instance and the state of at most one running
// Predict call.
type llamaContext struct {
	m   *model
	llm *llama.LLama

	pending string
	prompt  strings.Builder
	pieces  []string

	running bool
	ch      chan string
	quit    chan struct{}
	done    chan struct{}
	err     error
}

func (c *llamaContext) Model() runtime.Model { return c.m }

func (r *Runtime) modelOptions() []llama.ModelOption {
	return []llama.ModelOption{llama.SetContext(r.opts.ContextSize)}
}

func (r *Runtime) Load(path string) (runtime.Model, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("model path is empty")
	}
	l, err := llama.New(path, r.modelOptions()...)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return &model{path: path, primary: l}, nil
}

func (r *Runtime) NewContext(m runtime.Model) (runtime.Context, error) {
	mm, ok := m.(*model)
	if !ok {
		return nil, fmt.Errorf("foreign model %T", m)
	}
	l, err := llama.New(mm.path, r.modelOptions()...)
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	return &llamaContext{m: mm, llm: l}, nil
}

func (r *Runtime) NewSampler(_ runtime.Model, p sampling.Policy) (runtime.Sampler, error) {
	return &sampler{policy: p.Clone()}, nil
}

// Tokenize counts tokens with the model's tokenizer and records the text
// for the next Decode, since Predict consumes text rather than ids.
func (r *Runtime) Tokenize(c runtime.Context, text string) ([]runtime.Token, error) {
	cc := c.(*llamaContext)
	cc.m.mu.Lock()
	_, ids, err := cc.m.primary.TokenizeString(text)
	cc.m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]runtime.Token, len(ids))
	for i, id := range ids {
		out[i] = runtime.Token(id)
	}
	cc.pending = text
	return out, nil
}

// Decode appends the tokenized prompt. Generated tokens were already consumed
// by the running Predict, so decoding them is a no-op.
func (r *Runtime) Decode(c runtime.Context, _ []runtime.Token) error {
	cc := c.(*llamaContext)
	if cc.running {
		return nil
	}
	cc.prompt.WriteString(cc.pending)
	cc.pending = ""
	return nil
}

func (r *Runtime) Sample(s runtime.Sampler, c runtime.Context) (runtime.Token, error) {
	cc := c.(*llamaContext)
	if !cc.running {
		r.start(cc, s.(*sampler).policy)
	}
	piece, ok := <-cc.ch
	if !ok {
		<-cc.done
		if cc.err != nil {
			return eos, cc.err
		}
		return eos, nil
	}
	cc.pieces = append(cc.pieces, piece)
	return runtime.Token(len(cc.pieces)), nil
}

// start runs Predict for the accumulated prompt. Pieces are handed over on
// cc.ch; closing cc.quit makes the callback stop generation.
func (r *Runtime) start(cc *llamaContext, p sampling.Policy) {
	cc.running = true
	cc.ch = make(chan string, 16)
	cc.quit = make(chan struct{})
	cc.done = make(chan struct{})
	cc.err = nil
	ch, quit, done := cc.ch, cc.quit, cc.done
	prompt := cc.prompt.String()
	opts := r.predictOptions(p)

	cc.llm.SetTokenCallback(func(tok string) bool {
		select {
		case ch <- tok:
			return true
		case <-quit:
			return false
		}
	})
	go func() {
		defer close(done)
		defer close(ch)
		if _, err := cc.llm.Predict(prompt, opts...); err != nil {
			select {
			case <-quit:
			default:
				cc.err = err
			}
		}
	}()
}

// predictOptions maps a policy to go-llama.cpp options. Stop sequences are
// not passed down; the generation loop trims them itself.
func (r *Runtime) predictOptions(p sampling.Policy) []llama.PredictOption {
	return []llama.PredictOption{
		llama.SetTokens(r.opts.ContextSize),
		llama.SetThreads(r.opts.Threads),
		llama.SetTopP(zf(p.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(p.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(p.Temperature),
		llama.SetPenalty(zf(p.RepeatPenalty, llama.DefaultOptions.Penalty)),
		llama.SetPresencePenalty(p.PresencePenalty),
		llama.SetFrequencyPenalty(p.FrequencyPenalty),
		llama.SetMirostat(p.Mirostat),
	}
}

func (r *Runtime) Accept(runtime.Sampler, runtime.Token) {}

func (r *Runtime) IsEndOfGeneration(_ runtime.Model, t runtime.Token) bool { return t == eos }

func (r *Runtime) Render(c runtime.Context, t runtime.Token) string {
	cc := c.(*llamaContext)
	i := int(t) - 1
	if i < 0 || i >= len(cc.pieces) {
		return ""
	}
	return cc.pieces[i]
}

// ResetContext stops a running Predict and clears the prompt.
func (r *Runtime) ResetContext(c runtime.Context) error {
	cc := c.(*llamaContext)
	r.stop(cc)
	cc.prompt.Reset()
	cc.pending = ""
	cc.pieces = cc.pieces[:0]
	return nil
}

func (r *Runtime) stop(cc *llamaContext) {
	if !cc.running {
		return
	}
	close(cc.quit)
	for range cc.ch {
	}
	<-cc.done
	cc.running = false
}

func (r *Runtime) ResetSampler(runtime.Sampler) {}

func (r *Runtime) FreeContext(c runtime.Context) {
	cc, ok := c.(*llamaContext)
	if !ok || cc.llm == nil {
		return
	}
	r.stop(cc)
	cc.llm.Free()
	cc.llm = nil
}

func (r *Runtime) FreeSampler(runtime.Sampler) {}

func (r *Runtime) FreeModel(m runtime.Model) {
	mm, ok := m.(*model)
	if !ok {
		return
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.primary != nil {
		mm.primary.Free()
		mm.primary = nil
	}
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}
