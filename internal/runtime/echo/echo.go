// Package echo is a deterministic runtime.Runtime. Tokens are
// whitespace-separated words; sampling replays the decoded history from the
// start and reports end-of-generation after a fixed number of samples.
// It keeps live-resource counters so tests can assert teardown order.
package echo

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"wundot/internal/runtime"
	"wundot/internal/sampling"
)

// EOS is the end-of-generation token.
const EOS runtime.Token = 0

// DefaultEOGAfter is the number of samples before EOS when Options.EOGAfter is unset.
const DefaultEOGAfter = 8

// Options tunes the echo runtime. Fail* fields inject errors for tests.
type Options struct {
	EOGAfter int
	// Latency is slept inside every Sample call.
	Latency time.Duration
	// FailContextAfter makes NewContext fail once this many contexts were created (0 disables).
	FailContextAfter int
	// FailSamplerAfter makes NewSampler fail once this many samplers were created (0 disables).
	FailSamplerAfter int
	FailLoad         error
	FailDecode       error
	FailSample       error
}

// Stats is a snapshot of resource accounting.
type Stats struct {
	Models          int
	Contexts        int
	Samplers        int
	ContextsCreated int
	SamplersCreated int
	MaxActive       int
	DoubleFrees     int
	EarlyModelFrees int
}

// Runtime implements runtime.Runtime.
type Runtime struct {
	opts Options

	mu              sync.Mutex
	models          int
	contexts        int
	samplers        int
	contextsCreated int
	samplersCreated int
	doubleFrees     int
	earlyModelFrees int

	active    atomic.Int32
	maxActive atomic.Int32
}

// New returns an echo runtime.
func New(opts Options) *Runtime {
	if opts.EOGAfter <= 0 {
		opts.EOGAfter = DefaultEOGAfter
	}
	return &Runtime{opts: opts}
}

type model struct {
	path string

	mu    sync.Mutex
	words []string
	ids   map[string]runtime.Token
	live  int
	freed bool
}

func (m *model) Path() string { return m.path }

func (m *model) id(word string) runtime.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.ids[word]; ok {
		return t
	}
	m.words = append(m.words, word)
	t := runtime.Token(len(m.words)) // ids start at 1; 0 is EOS
	m.ids[word] = t
	return t
}

func (m *model) word(t runtime.Token) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := int(t) - 1
	if i < 0 || i >= len(m.words) {
		return ""
	}
	return m.words[i]
}

type decodeContext struct {
	m       *model
	history []runtime.Token
	echoPos int
	sampled int
	freed   bool
}

func (c *decodeContext) Model() runtime.Model { return c.m }

type sampler struct {
	m        *model
	policy   sampling.Policy
	accepted []runtime.Token
	freed    bool
}

func (s *sampler) Policy() sampling.Policy { return s.policy.Clone() }

// Accepted returns the tokens s accepted since its last reset, or nil when s
// was not created by this package.
func Accepted(s runtime.Sampler) []runtime.Token {
	sm, ok := s.(*sampler)
	if !ok {
		return nil
	}
	return append([]runtime.Token(nil), sm.accepted...)
}

var errFreed = errors.New("echo: use after free")

func (r *Runtime) Load(path string) (runtime.Model, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("echo: model path is empty")
	}
	if r.opts.FailLoad != nil {
		return nil, r.opts.FailLoad
	}
	r.mu.Lock()
	r.models++
	r.mu.Unlock()
	return &model{path: path, ids: make(map[string]runtime.Token)}, nil
}

func (r *Runtime) NewContext(m runtime.Model) (runtime.Context, error) {
	mm, ok := m.(*model)
	if !ok {
		return nil, errFreed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if mm.freed {
		return nil, errFreed
	}
	if r.opts.FailContextAfter > 0 && r.contextsCreated >= r.opts.FailContextAfter {
		return nil, fmt.Errorf("echo: context limit %d reached", r.opts.FailContextAfter)
	}
	r.contextsCreated++
	r.contexts++
	mm.live++
	return &decodeContext{m: mm}, nil
}

func (r *Runtime) NewSampler(m runtime.Model, p sampling.Policy) (runtime.Sampler, error) {
	mm, ok := m.(*model)
	if !ok {
		return nil, errFreed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if mm.freed {
		return nil, errFreed
	}
	if r.opts.FailSamplerAfter > 0 && r.samplersCreated >= r.opts.FailSamplerAfter {
		return nil, fmt.Errorf("echo: sampler limit %d reached", r.opts.FailSamplerAfter)
	}
	r.samplersCreated++
	r.samplers++
	mm.live++
	return &sampler{m: mm, policy: p.Clone()}, nil
}

func (r *Runtime) Tokenize(c runtime.Context, text string) ([]runtime.Token, error) {
	dc, err := asContext(c)
	if err != nil {
		return nil, err
	}
	words := strings.Fields(text)
	out := make([]runtime.Token, 0, len(words))
	for _, w := range words {
		out = append(out, dc.m.id(w))
	}
	return out, nil
}

func (r *Runtime) Decode(c runtime.Context, tokens []runtime.Token) error {
	dc, err := asContext(c)
	if err != nil {
		return err
	}
	if r.opts.FailDecode != nil {
		return r.opts.FailDecode
	}
	dc.history = append(dc.history, tokens...)
	return nil
}

func (r *Runtime) Sample(s runtime.Sampler, c runtime.Context) (runtime.Token, error) {
	dc, err := asContext(c)
	if err != nil {
		return EOS, err
	}
	if sm, ok := s.(*sampler); !ok || sm.freed {
		return EOS, errFreed
	}
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		cur := r.maxActive.Load()
		if n <= cur || r.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	if r.opts.Latency > 0 {
		time.Sleep(r.opts.Latency)
	}
	if r.opts.FailSample != nil {
		return EOS, r.opts.FailSample
	}
	if dc.sampled >= r.opts.EOGAfter || len(dc.history) == 0 {
		return EOS, nil
	}
	t := dc.history[dc.echoPos%len(dc.history)]
	dc.echoPos++
	dc.sampled++
	return t, nil
}

func (r *Runtime) Accept(s runtime.Sampler, t runtime.Token) {
	if sm, ok := s.(*sampler); ok && !sm.freed {
		sm.accepted = append(sm.accepted, t)
	}
}

func (r *Runtime) IsEndOfGeneration(_ runtime.Model, t runtime.Token) bool { return t == EOS }

func (r *Runtime) Render(c runtime.Context, t runtime.Token) string {
	dc, err := asContext(c)
	if err != nil || t == EOS {
		return ""
	}
	return " " + dc.m.word(t)
}

func (r *Runtime) ResetContext(c runtime.Context) error {
	dc, err := asContext(c)
	if err != nil {
		return err
	}
	dc.history = dc.history[:0]
	dc.echoPos = 0
	dc.sampled = 0
	return nil
}

func (r *Runtime) ResetSampler(s runtime.Sampler) {
	if sm, ok := s.(*sampler); ok {
		sm.accepted = sm.accepted[:0]
	}
}

func (r *Runtime) FreeContext(c runtime.Context) {
	dc, ok := c.(*decodeContext)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if dc.freed {
		r.doubleFrees++
		return
	}
	dc.freed = true
	dc.m.live--
	r.contexts--
}

func (r *Runtime) FreeSampler(s runtime.Sampler) {
	sm, ok := s.(*sampler)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sm.freed {
		r.doubleFrees++
		return
	}
	sm.freed = true
	sm.m.live--
	r.samplers--
}

func (r *Runtime) FreeModel(m runtime.Model) {
	mm, ok := m.(*model)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if mm.freed {
		r.doubleFrees++
		return
	}
	if mm.live > 0 {
		r.earlyModelFrees++
	}
	mm.freed = true
	r.models--
}

// Stats returns a snapshot of resource counters.
func (r *Runtime) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Models:          r.models,
		Contexts:        r.contexts,
		Samplers:        r.samplers,
		ContextsCreated: r.contextsCreated,
		SamplersCreated: r.samplersCreated,
		MaxActive:       int(r.maxActive.Load()),
		DoubleFrees:     r.doubleFrees,
		EarlyModelFrees: r.earlyModelFrees,
	}
}

func asContext(c runtime.Context) (*decodeContext, error) {
	dc, ok := c.(*decodeContext)
	if !ok || dc.freed {
		return nil, errFreed
	}
	return dc, nil
}
