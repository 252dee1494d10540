// Package pool bounds concurrent access to a model runtime. A Pool owns a
// fixed slot array of sessions (decode context + sampler); callers Acquire one
// for exclusive use and must Release it on every exit path.
//
// Admission uses a FIFO weighted semaphore sized to the pool, so waiters are
// served in arrival order and Acquire honours context cancellation. Slot
// bookkeeping (free list, checked-out bitmap, current policy) lives under one
// mutex.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"wundot/internal/runtime"
	"wundot/internal/sampling"
)

const (
	// DefaultSize replaces pool sizes outside [1, MaxSize].
	DefaultSize = 8
	MaxSize     = 128
)

// Session is one admission unit: a decode context and a sampler. It is owned
// by exactly one caller between Acquire and Release.
type Session struct {
	slot    int
	pool    *Pool
	dctx    runtime.Context
	sampler runtime.Sampler
	policy  sampling.Policy
	gen     uint64
}

// Slot is the session's fixed index in the pool.
func (s *Session) Slot() int { return s.slot }

// Context is the session's decode context. It is reset by the caller before
// each request.
func (s *Session) Context() runtime.Context { return s.dctx }

// Sampler is the pooled sampler, rebuilt on acquire when the pool policy has
// changed since it was made.
func (s *Session) Sampler() runtime.Sampler { return s.sampler }

// Policy is the policy the session's sampler was built with.
func (s *Session) Policy() sampling.Policy { return s.policy.Clone() }

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(l zerolog.Logger) Option { return func(p *Pool) { p.log = l } }

// WithAcquireTimeout bounds how long Acquire waits before failing with a
// too-busy error. Zero waits until the caller's context is done.
func WithAcquireTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.acquireTimeout = d
		}
	}
}

// Pool is a bounded registry of sessions over one model.
type Pool struct {
	rt             runtime.Runtime
	model          runtime.Model
	log            zerolog.Logger
	acquireTimeout time.Duration

	size int
	sem  *semaphore.Weighted

	mu      sync.Mutex
	slots   []*Session
	free    []int
	out     []bool
	nOut    int
	policy  sampling.Policy
	gen     uint64
	closing bool
	closed  bool
	nFreed  int
	drained chan struct{}
	// closedCh is closed when shutdown starts and wakes blocked Acquire calls.
	closedCh chan struct{}
}

// New builds size sessions over model. Sizes outside [1, MaxSize] are replaced
// by DefaultSize. If any session fails to construct, the ones already built
// are freed and an init error is returned.
func New(rt runtime.Runtime, model runtime.Model, size int, policy sampling.Policy, opts ...Option) (*Pool, error) {
	p := &Pool{
		rt:      rt,
		model:   model,
		log:     zerolog.Nop(),
		policy:  policy.Clone(),
		drained:  make(chan struct{}),
		closedCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	if size < 1 || size > MaxSize {
		p.log.Warn().Int("requested", size).Int("size", DefaultSize).Msg("pool size out of range, using default")
		size = DefaultSize
	}
	p.size = size
	p.sem = semaphore.NewWeighted(int64(size))
	p.slots = make([]*Session, 0, size)
	p.free = make([]int, 0, size)
	p.out = make([]bool, size)

	for i := 0; i < size; i++ {
		s, err := p.newSession(i)
		if err != nil {
			p.destroy(p.slots)
			p.log.Error().Err(err).Int("slot", i).Msg("pool init failed, freed partial pool")
			return nil, initError{slot: i, err: err}
		}
		p.slots = append(p.slots, s)
		p.free = append(p.free, i)
	}
	p.log.Info().Int("size", size).Str("model", model.Path()).Msg("session pool ready")
	return p, nil
}

func (p *Pool) newSession(slot int) (*Session, error) {
	dctx, err := p.rt.NewContext(p.model)
	if err != nil {
		return nil, err
	}
	smp, err := p.rt.NewSampler(p.model, p.policy)
	if err != nil {
		p.rt.FreeContext(dctx)
		return nil, err
	}
	return &Session{slot: slot, pool: p, dctx: dctx, sampler: smp, policy: p.policy.Clone(), gen: p.gen}, nil
}

// destroy frees samplers before contexts.
func (p *Pool) destroy(sessions []*Session) {
	for _, s := range sessions {
		p.rt.FreeSampler(s.sampler)
	}
	for _, s := range sessions {
		p.rt.FreeContext(s.dctx)
	}
}

// Acquire blocks until a session is available, ctx is done, or the acquire
// timeout expires. A session whose sampler predates the current policy gets a
// new sampler before it is returned.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	select {
	case <-p.closedCh:
		acquireTotal.WithLabelValues("closed").Inc()
		return nil, ErrClosed
	default:
	}

	waitCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case <-p.closedCh:
			cancel(ErrClosed)
		case <-waitCtx.Done():
		}
	}()
	semCtx := waitCtx
	if p.acquireTimeout > 0 {
		var cancelTimeout context.CancelFunc
		semCtx, cancelTimeout = context.WithTimeout(waitCtx, p.acquireTimeout)
		defer cancelTimeout()
	}
	start := time.Now()
	if err := p.sem.Acquire(semCtx, 1); err != nil {
		if errors.Is(context.Cause(waitCtx), ErrClosed) {
			acquireTotal.WithLabelValues("closed").Inc()
			return nil, ErrClosed
		}
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			acquireTotal.WithLabelValues("timeout").Inc()
			return nil, tooBusyError{waited: time.Since(start)}
		}
		acquireTotal.WithLabelValues("canceled").Inc()
		return nil, err
	}
	acquireWait.Observe(time.Since(start).Seconds())

	p.mu.Lock()
	if p.closing || len(p.free) == 0 {
		p.mu.Unlock()
		p.sem.Release(1)
		acquireTotal.WithLabelValues("closed").Inc()
		return nil, ErrClosed
	}
	idx := p.free[0]
	p.free = p.free[1:]
	p.out[idx] = true
	p.nOut++
	s := p.slots[idx]
	stale := s.gen != p.gen
	policy, gen := p.policy.Clone(), p.gen
	p.mu.Unlock()
	sessionsCheckedOut.Inc()

	if stale {
		if err := p.rebuildSampler(s, policy, gen); err != nil {
			_ = p.Release(s)
			acquireTotal.WithLabelValues("error").Inc()
			return nil, err
		}
	}
	acquireTotal.WithLabelValues("ok").Inc()
	return s, nil
}

// rebuildSampler runs outside the pool lock; the caller owns s.
func (p *Pool) rebuildSampler(s *Session, policy sampling.Policy, gen uint64) error {
	smp, err := p.rt.NewSampler(p.model, policy)
	if err != nil {
		p.log.Error().Err(err).Int("slot", s.slot).Msg("rebuild sampler")
		return err
	}
	p.rt.FreeSampler(s.sampler)
	s.sampler = smp
	s.policy = policy
	s.gen = gen
	samplerRebuildTotal.Inc()
	return nil
}

// Release returns s to the pool and wakes one waiter. Releasing a session
// that is not checked out from this pool is rejected without changing state.
// After a forced shutdown the session is freed instead of being pooled.
func (p *Pool) Release(s *Session) error {
	if s == nil || s.pool != p {
		doubleReleaseTotal.Inc()
		return doubleReleaseError{slot: -1}
	}
	p.mu.Lock()
	if s.slot < 0 || s.slot >= len(p.out) || p.slots[s.slot] != s || !p.out[s.slot] {
		p.mu.Unlock()
		doubleReleaseTotal.Inc()
		p.log.Error().Int("slot", s.slot).Msg("release of session not checked out")
		return doubleReleaseError{slot: s.slot}
	}
	p.out[s.slot] = false
	p.nOut--
	closed := p.closed
	if !closed {
		p.free = append(p.free, s.slot)
	}
	p.mu.Unlock()
	sessionsCheckedOut.Dec()

	if closed {
		// Freeing may wait on the runtime; keep it out from under p.mu.
		p.destroy([]*Session{s})
		p.mu.Lock()
		p.markFreed(1)
		p.mu.Unlock()
	}
	p.sem.Release(1)
	return nil
}

// Reconfigure swaps the policy used for samplers. Sessions pick it up the next
// time they are acquired; sessions checked out now keep their policy until
// released and re-acquired.
func (p *Pool) Reconfigure(policy sampling.Policy) {
	p.mu.Lock()
	p.policy = policy.Clone()
	p.gen++
	gen := p.gen
	p.mu.Unlock()
	p.log.Debug().Uint64("generation", gen).Msg("pool policy reconfigured")
}

// Policy returns the current pool policy.
func (p *Pool) Policy() sampling.Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.policy.Clone()
}

// Shutdown waits until every session is returned (or ctx is done), then frees
// all samplers and contexts. As soon as Shutdown starts, new and blocked
// Acquire calls fail with ErrClosed. It is safe to call more than once.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.markClosing()
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, int64(p.size)); err != nil {
		p.mu.Lock()
		n := p.nOut
		p.mu.Unlock()
		return shutdownBusyError{outstanding: n, err: err}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(int64(p.size))
		return nil
	}
	idle := p.takeIdle()
	p.closed = true
	p.mu.Unlock()

	p.destroy(idle)
	p.mu.Lock()
	p.markFreed(len(idle))
	p.mu.Unlock()

	p.sem.Release(int64(p.size))
	p.log.Info().Int("freed", len(idle)).Msg("session pool shut down")
	return nil
}

// ForceShutdown closes the pool without waiting. Blocked Acquire calls fail
// with ErrClosed. Available sessions are freed now; checked-out sessions are
// freed when their holders release them. Use Drained to learn when the last
// one is gone.
func (p *Pool) ForceShutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.markClosing()
	p.closed = true
	idle := p.takeIdle()
	var outstanding []int
	for i, busy := range p.out {
		if busy {
			outstanding = append(outstanding, i)
		}
	}
	p.mu.Unlock()

	p.destroy(idle)
	p.mu.Lock()
	p.markFreed(len(idle))
	p.mu.Unlock()

	if len(outstanding) > 0 {
		p.log.Warn().Ints("slots", outstanding).Msg("forced shutdown with sessions checked out, freeing them on release")
	}
}

// Drained is closed once every session has been freed.
func (p *Pool) Drained() <-chan struct{} { return p.drained }

func (p *Pool) takeIdle() []*Session {
	idle := make([]*Session, 0, len(p.free))
	for _, i := range p.free {
		idle = append(idle, p.slots[i])
	}
	p.free = nil
	return idle
}

// markClosing must be called with p.mu held.
func (p *Pool) markClosing() {
	if !p.closing {
		p.closing = true
		close(p.closedCh)
	}
}

// markFreed must be called with p.mu held.
func (p *Pool) markFreed(n int) {
	if n == 0 {
		return
	}
	p.nFreed += n
	if p.nFreed == p.size {
		close(p.drained)
	}
}

// Size is the fixed pool capacity.
func (p *Pool) Size() int { return p.size }

// Available is the number of sessions ready to be acquired.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// CheckedOut is the number of sessions currently held by callers.
func (p *Pool) CheckedOut() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nOut
}

// Closed reports whether the pool has been shut down.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
