package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wundot/internal/chat"
	"wundot/internal/pool"
	"wundot/internal/runtime"
	"wundot/internal/sampling"
)

// Finish reasons reported in Result.
const (
	FinishEOG    = "stop"
	FinishStop   = "stop_sequence"
	FinishLength = "length"
)

// Request is one batch generation call.
type Request struct {
	System  string
	History string
	Prompt  string
	// Policy, when set, is used for this call only through a call-scoped
	// sampler; the pooled sampler and the manager policy are untouched.
	Policy *sampling.Policy
	// MaxTokens caps the loop; <= 0 means the effective policy's value.
	MaxTokens int
}

// Result is the outcome of a batch generation call.
type Result struct {
	Text         string
	Tokens       int
	PromptTokens int
	FinishReason string
	Duration     time.Duration
}

// Generate produces a completion for the current policy.
func (m *Manager) Generate(ctx context.Context, system, history, current string) (string, error) {
	res, err := m.Run(ctx, Request{System: system, History: history, Prompt: current})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// GenerateWithPolicy produces a completion under policy, capped at maxTokens
// when > 0.
func (m *Manager) GenerateWithPolicy(ctx context.Context, system, history, current string, policy sampling.Policy, maxTokens int) (string, error) {
	res, err := m.Run(ctx, Request{System: system, History: history, Prompt: current, Policy: &policy, MaxTokens: maxTokens})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// Run executes one request on exactly one pooled session. The session is
// released on every exit path.
func (m *Manager) Run(ctx context.Context, req Request) (Result, error) {
	m.mu.RLock()
	ready := m.state == StateReady
	p := m.pool
	maxTokens := m.maxTokens
	m.mu.RUnlock()
	if !ready || p == nil {
		generateTotal.WithLabelValues("not_ready").Inc()
		return Result{}, notReadyError{reason: "model not initialized"}
	}
	switch {
	case req.MaxTokens > 0:
		maxTokens = req.MaxTokens
	case req.Policy != nil:
		maxTokens = 0 // the call's policy decides
	}

	start := time.Now()
	sess, err := p.Acquire(ctx)
	if err != nil {
		if errors.Is(err, pool.ErrClosed) {
			generateTotal.WithLabelValues("not_ready").Inc()
			return Result{}, notReadyError{reason: "shutting down"}
		}
		generateTotal.WithLabelValues(outcomeOf(err)).Inc()
		return Result{}, err
	}
	defer func() {
		if rerr := p.Release(sess); rerr != nil {
			m.log.Error().Err(rerr).Int("slot", sess.Slot()).Msg("release session")
		}
	}()

	res, err := m.runSession(ctx, sess, req, maxTokens)
	res.Duration = time.Since(start)
	generateDuration.Observe(res.Duration.Seconds())
	tokensGenerated.Add(float64(res.Tokens))
	generateTotal.WithLabelValues(outcomeOf(err)).Inc()
	if err != nil {
		m.log.Error().Err(err).Int("slot", sess.Slot()).Dur("dur", res.Duration).Msg("generation failed")
		return Result{}, err
	}
	m.log.Debug().
		Int("slot", sess.Slot()).
		Int("prompt_tokens", res.PromptTokens).
		Int("tokens", res.Tokens).
		Str("finish", res.FinishReason).
		Dur("dur", res.Duration).
		Msg("generation done")
	return res, nil
}

func (m *Manager) runSession(ctx context.Context, sess *pool.Session, req Request, maxTokens int) (Result, error) {
	var res Result
	dctx := sess.Context()
	model := dctx.Model()

	turns := chat.BuildTurns(req.System, req.History, req.Prompt)
	prompt, err := m.formatter.Format(turns, true)
	if err != nil {
		return res, fmt.Errorf("format prompt: %w", err)
	}

	smp := sess.Sampler()
	policy := sess.Policy()
	if req.Policy != nil {
		policy = req.Policy.Clone()
		scoped, err := m.rt.NewSampler(model, policy)
		if err != nil {
			return res, runtimeFailureError{op: "sampler", err: err}
		}
		defer m.rt.FreeSampler(scoped)
		smp = scoped
	} else {
		m.rt.ResetSampler(smp)
	}
	if err := m.rt.ResetContext(dctx); err != nil {
		return res, runtimeFailureError{op: "reset", err: err}
	}

	toks, err := m.rt.Tokenize(dctx, prompt)
	if err != nil {
		return res, runtimeFailureError{op: "tokenize", err: err}
	}
	if err := m.rt.Decode(dctx, toks); err != nil {
		return res, runtimeFailureError{op: "decode prompt", err: err}
	}
	res.PromptTokens = len(toks)

	if maxTokens <= 0 {
		maxTokens = policy.EffectiveMaxTokens()
	}
	res.Text, res.Tokens, res.FinishReason, err = generateLoop(ctx, m.rt, smp, dctx, model, policy.Stop, maxTokens)
	return res, err
}

// generateLoop samples at most limit tokens. Each step samples, accepts,
// appends the rendered text, stops on end of generation and otherwise feeds
// the token back into the context. The end-of-generation piece is kept in the
// output.
func generateLoop(ctx context.Context, rt runtime.Runtime, smp runtime.Sampler, dctx runtime.Context, model runtime.Model, stop []string, limit int) (string, int, string, error) {
	var b strings.Builder
	n := 0
	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return "", n, "", err
		}
		tok, err := rt.Sample(smp, dctx)
		if err != nil {
			return "", n, "", runtimeFailureError{op: "sample", err: err}
		}
		rt.Accept(smp, tok)
		piece := rt.Render(dctx, tok)
		n++
		b.WriteString(piece)
		if rt.IsEndOfGeneration(model, tok) {
			return b.String(), n, FinishEOG, nil
		}
		if out, ok := cutStop(b.String(), len(piece), stop); ok {
			return out, n, FinishStop, nil
		}
		if err := rt.Decode(dctx, []runtime.Token{tok}); err != nil {
			return "", n, "", runtimeFailureError{op: "decode", err: err}
		}
	}
	return b.String(), n, FinishLength, nil
}

// cutStop looks for a stop sequence that overlaps the last piece appended to s
// and returns s cut at the earliest match. Only the tail that could contain a
// new match is searched, so earlier text is never rescanned.
func cutStop(s string, pieceLen int, stop []string) (string, bool) {
	longest := 0
	for _, st := range stop {
		if len(st) > longest {
			longest = len(st)
		}
	}
	if longest == 0 || pieceLen == 0 {
		return s, false
	}
	from := len(s) - pieceLen - longest + 1
	if from < 0 {
		from = 0
	}
	cut := -1
	for _, st := range stop {
		if st == "" {
			continue
		}
		if i := strings.Index(s[from:], st); i >= 0 && (cut < 0 || from+i < cut) {
			cut = from + i
		}
	}
	if cut < 0 {
		return s, false
	}
	return s[:cut], true
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsTooBusy(err):
		return "too_busy"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case IsRuntimeFailure(err):
		return "runtime_failure"
	default:
		return "error"
	}
}
