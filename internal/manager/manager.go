package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"wundot/internal/chat"
	"wundot/internal/common/fsutil"
	"wundot/internal/pool"
	"wundot/internal/runtime"
	"wundot/internal/sampling"
	"wundot/pkg/types"
)

type Manager struct {
	rt             runtime.Runtime
	formatter      chat.Formatter
	profiles       *sampling.Table
	log            zerolog.Logger
	pubMu          sync.RWMutex
	publisher      EventPublisher
	registry       []types.Model
	defaultModel   string
	poolSize       int
	acquireTimeout time.Duration
	forceShutdown  bool
	maxTokens      int

	// loadMu serialises Initialize and Shutdown.
	loadMu sync.Mutex

	mu       sync.RWMutex
	state    State
	cur      *ModelInfo
	model    runtime.Model
	pool     *pool.Pool
	policy   sampling.Policy
	profile  string
	err      string
	loadedAt time.Time

	streamsMu sync.Mutex
	streams   map[string]*streamHandle

	startTime time.Time
}

// New builds a Manager over rt with package defaults.
func New(rt runtime.Runtime, reg []types.Model, defaultModel string) *Manager {
	return NewWithConfig(ManagerConfig{
		Runtime:      rt,
		Registry:     reg,
		DefaultModel: defaultModel,
	})
}

// Initialize loads the model and builds the session pool. modelPath may be a
// file path or a registry id; empty selects the default model. poolSize <= 0
// uses the configured size. Calling Initialize while a model is loaded is a
// no-op success.
func (m *Manager) Initialize(ctx context.Context, modelPath string, poolSize int) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	m.mu.RLock()
	state, cur := m.state, m.cur
	m.mu.RUnlock()
	if state == StateReady {
		if modelPath != "" && cur != nil && modelPath != cur.Path && modelPath != cur.ID {
			m.log.Warn().Str("requested", modelPath).Str("loaded", cur.Path).Msg("initialize: a different model is already loaded")
		} else {
			m.log.Info().Str("model", cur.Path).Msg("initialize: model already loaded")
		}
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.rt == nil {
		return runtime.ErrUnavailable("no model runtime configured")
	}

	info, err := m.resolveModel(modelPath)
	if err != nil {
		return err
	}
	if poolSize <= 0 {
		poolSize = m.poolSize
	}

	m.mu.Lock()
	m.state = StateLoading
	m.err = ""
	policy := m.policy.Clone()
	m.mu.Unlock()
	m.publish(Event{Name: "initialize_start", ModelID: info.ID, Fields: map[string]any{"pool_size": poolSize}})

	start := time.Now()
	model, err := m.rt.Load(info.Path)
	if err != nil {
		m.setError(err)
		return fmt.Errorf("load model %s: %w", info.Path, err)
	}
	p, err := pool.New(m.rt, model, poolSize, policy,
		pool.WithLogger(m.log.With().Str("component", "pool").Logger()),
		pool.WithAcquireTimeout(m.acquireTimeout),
	)
	if err != nil {
		m.rt.FreeModel(model)
		m.setError(err)
		return fmt.Errorf("build session pool: %w", err)
	}

	m.mu.Lock()
	m.model = model
	m.pool = p
	m.cur = &info
	m.state = StateReady
	m.loadedAt = time.Now()
	m.mu.Unlock()

	dur := time.Since(start)
	modelLoadSeconds.Observe(dur.Seconds())
	m.log.Info().Str("model", info.Path).Int("pool_size", p.Size()).Dur("dur", dur).Msg("model initialized")
	m.publish(Event{Name: "initialize_done", ModelID: info.ID, Fields: map[string]any{"pool_size": p.Size(), "dur_ms": dur.Milliseconds()}})
	return nil
}

func (m *Manager) setError(err error) {
	m.mu.Lock()
	m.state = StateError
	m.err = err.Error()
	m.mu.Unlock()
	m.log.Error().Err(err).Msg("initialize failed")
}

// Shutdown closes every stream, tears down the pool and frees the model.
// By default it waits, bounded by ctx, for checked-out sessions to come back;
// if ctx expires first, or the manager was configured with ForceShutdown,
// outstanding sessions are freed as their holders release them and the model
// is freed after the last one. Generation calls fail with a not-ready error
// once Shutdown has started. Calling Shutdown when nothing is loaded is a
// no-op.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	m.mu.Lock()
	if m.state != StateReady {
		m.mu.Unlock()
		return nil
	}
	m.state = StateDraining
	p, model, cur := m.pool, m.model, m.cur
	m.mu.Unlock()
	m.publish(Event{Name: "shutdown_start", ModelID: cur.ID})
	start := time.Now()

	closed := m.closeAllStreams()

	var err error
	if m.forceShutdown {
		p.ForceShutdown()
	} else if err = p.Shutdown(ctx); err != nil {
		m.log.Warn().Err(err).Msg("shutdown: sessions still checked out, forcing")
		p.ForceShutdown()
	}

	select {
	case <-p.Drained():
		m.rt.FreeModel(model)
	default:
		go func() {
			<-p.Drained()
			m.rt.FreeModel(model)
			m.log.Info().Str("model", cur.Path).Msg("model freed after last session returned")
		}()
	}

	m.mu.Lock()
	m.state = StateUnloaded
	m.pool = nil
	m.model = nil
	m.cur = nil
	m.mu.Unlock()

	m.log.Info().Int("streams_closed", closed).Dur("dur", time.Since(start)).Msg("shutdown complete")
	m.publish(Event{Name: "shutdown_done", ModelID: cur.ID, Fields: map[string]any{"streams_closed": closed}})
	return err
}

// Ready reports whether a model is loaded and accepting generation requests.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady
}

// ListModels returns a copy of the model registry.
func (m *Manager) ListModels() []types.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// return a shallow copy to avoid external mutation
	out := make([]types.Model, len(m.registry))
	copy(out, m.registry)
	return out
}

// SetRegistry replaces the model registry, e.g. after rescanning models_dir.
func (m *Manager) SetRegistry(reg []types.Model) {
	m.mu.Lock()
	m.registry = append([]types.Model(nil), reg...)
	m.mu.Unlock()
}

// SetEventPublisher replaces the lifecycle event sink; nil restores the no-op.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	m.pubMu.Lock()
	m.publisher = p
	m.pubMu.Unlock()
}

func (m *Manager) publish(e Event) {
	m.pubMu.RLock()
	p := m.publisher
	m.pubMu.RUnlock()
	p.Publish(e)
}

// resolveModel maps a registry id or a path to ModelInfo. Unknown values
// that look like paths are used as-is.
func (m *Manager) resolveModel(idOrPath string) (ModelInfo, error) {
	idOrPath = strings.TrimSpace(idOrPath)
	if idOrPath == "" {
		m.mu.RLock()
		def := m.defaultModel
		m.mu.RUnlock()
		if def == "" {
			return ModelInfo{}, notReadyError{reason: "no model path and no default model configured"}
		}
		idOrPath = def
	}
	if mdl, ok := m.getModelByID(idOrPath); ok {
		return ModelInfo{ID: mdl.ID, Path: mdl.Path}, nil
	}
	if looksLikePath(idOrPath) {
		p, err := fsutil.ExpandHome(idOrPath)
		if err != nil {
			return ModelInfo{}, err
		}
		return ModelInfo{ID: modelIDFromPath(p), Path: p}, nil
	}
	return ModelInfo{}, ErrModelNotFound(idOrPath)
}
