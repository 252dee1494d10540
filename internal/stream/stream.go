// Package stream implements caller-owned, unpooled generation sessions that
// deliver output one token fragment at a time.
//
// Streams are not bounded by the session pool; whoever opens them is
// responsible for admission. A Session is not safe for concurrent use.
package stream

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"wundot/internal/runtime"
	"wundot/internal/sampling"
)

var (
	// ErrClosed is returned by Start and Next after Close.
	ErrClosed = errors.New("stream closed")
	// ErrNotStarted is returned by Next before the first Start.
	ErrNotStarted = errors.New("stream not started")
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Session) { s.log = l } }

// Session owns one decode context and one sampler over a shared model.
type Session struct {
	rt      runtime.Runtime
	model   runtime.Model
	dctx    runtime.Context
	sampler runtime.Sampler
	policy  sampling.Policy
	log     zerolog.Logger

	started  bool
	done     bool
	closed   bool
	produced int
}

// Open allocates a context and a sampler for policy. The model is borrowed:
// Close never frees it.
func Open(rt runtime.Runtime, model runtime.Model, policy sampling.Policy, opts ...Option) (*Session, error) {
	s := &Session{rt: rt, model: model, policy: policy.Clone(), log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	dctx, err := rt.NewContext(model)
	if err != nil {
		return nil, fmt.Errorf("stream context: %w", err)
	}
	smp, err := rt.NewSampler(model, s.policy)
	if err != nil {
		rt.FreeContext(dctx)
		return nil, fmt.Errorf("stream sampler: %w", err)
	}
	s.dctx, s.sampler = dctx, smp
	return s, nil
}

// Start feeds prompt into a fresh decode state. It may be called again to
// reuse the session for another prompt.
func (s *Session) Start(prompt string) error {
	if s.closed {
		return ErrClosed
	}
	if err := s.rt.ResetContext(s.dctx); err != nil {
		return fmt.Errorf("reset context: %w", err)
	}
	s.rt.ResetSampler(s.sampler)
	s.started, s.done, s.produced = false, false, 0

	toks, err := s.rt.Tokenize(s.dctx, prompt)
	if err != nil {
		return fmt.Errorf("tokenize: %w", err)
	}
	if err := s.rt.Decode(s.dctx, toks); err != nil {
		return fmt.Errorf("decode prompt: %w", err)
	}
	s.started = true
	s.log.Debug().Int("prompt_tokens", len(toks)).Msg("stream started")
	return nil
}

// Next produces the next rendered fragment. ok is false once the model has
// reported end of generation or MaxTokens fragments were produced, and stays
// false until the next Start.
func (s *Session) Next() (text string, ok bool, err error) {
	if s.closed {
		return "", false, ErrClosed
	}
	if !s.started {
		return "", false, ErrNotStarted
	}
	if s.done {
		return "", false, nil
	}
	if s.produced >= s.policy.EffectiveMaxTokens() {
		s.done = true
		return "", false, nil
	}
	tok, err := s.rt.Sample(s.sampler, s.dctx)
	if err != nil {
		s.done = true
		return "", false, fmt.Errorf("sample: %w", err)
	}
	s.rt.Accept(s.sampler, tok)
	if s.rt.IsEndOfGeneration(s.model, tok) {
		s.done = true
		return "", false, nil
	}
	text = s.rt.Render(s.dctx, tok)
	if err := s.rt.Decode(s.dctx, []runtime.Token{tok}); err != nil {
		s.done = true
		return "", false, fmt.Errorf("decode: %w", err)
	}
	s.produced++
	return text, true, nil
}

// Policy is the policy the sampler was built with.
func (s *Session) Policy() sampling.Policy { return s.policy.Clone() }

// Model is the model the session decodes against.
func (s *Session) Model() runtime.Model { return s.model }

// Produced is the number of fragments returned since the last Start.
func (s *Session) Produced() int { return s.produced }

// Close frees the sampler and then the context. It is idempotent.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.rt.FreeSampler(s.sampler)
	s.rt.FreeContext(s.dctx)
}
