package manager

import (
	"time"

	"github.com/rs/zerolog"

	"wundot/internal/chat"
	"wundot/internal/pool"
	"wundot/internal/runtime"
	"wundot/internal/sampling"
	"wundot/pkg/types"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultPoolSize = pool.DefaultSize
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// Runtime drives the model. Without one Initialize fails as unavailable.
	Runtime   runtime.Runtime
	Formatter chat.Formatter
	Profiles  *sampling.Table
	// Profile selects the initial policy; empty means the table baseline.
	Profile string

	Registry     []types.Model
	DefaultModel string

	PoolSize int
	// AcquireTimeout bounds waiting for a pooled session; 0 blocks.
	AcquireTimeout time.Duration
	// ForceShutdown frees idle sessions immediately instead of waiting for
	// checked-out ones to be returned.
	ForceShutdown bool
	// MaxTokens overrides the policy's max_tokens for Generate when > 0.
	MaxTokens int

	Logger    zerolog.Logger
	Publisher EventPublisher
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		state:          StateUnloaded,
		rt:             cfg.Runtime,
		formatter:      cfg.Formatter,
		profiles:       cfg.Profiles,
		registry:       cfg.Registry,
		defaultModel:   cfg.DefaultModel,
		poolSize:       cfg.PoolSize,
		acquireTimeout: cfg.AcquireTimeout,
		forceShutdown:  cfg.ForceShutdown,
		maxTokens:      cfg.MaxTokens,
		log:            cfg.Logger,
		publisher:      cfg.Publisher,
		streams:        make(map[string]*streamHandle),
	}
	if m.formatter == nil {
		m.formatter = chat.ChatML()
	}
	if m.profiles == nil {
		m.profiles = sampling.DefaultTable()
	}
	if m.poolSize <= 0 {
		m.poolSize = defaultPoolSize
	}
	if m.acquireTimeout < 0 {
		m.acquireTimeout = 0
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if cfg.Profile != "" {
		m.policy = m.profiles.Get(cfg.Profile)
		m.profile = cfg.Profile
	} else {
		m.policy = m.profiles.Baseline()
	}
	m.startTime = time.Now()
	return m
}
