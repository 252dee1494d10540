package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"wundot/internal/sampling"
)

// EnvPrefix is the prefix of environment overrides, e.g. WUNDOT_POOL_SIZE.
const EnvPrefix = "wundot"

// Backends understood by the CLI.
const (
	BackendLlama = "llama"
	BackendEcho  = "echo"
)

// Shutdown modes.
const (
	ShutdownWait  = "wait"
	ShutdownForce = "force"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr" envconfig:"ADDR"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir" envconfig:"MODELS_DIR"`
	ModelPath    string `json:"model_path" yaml:"model_path" toml:"model_path" envconfig:"MODEL_PATH"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model" envconfig:"DEFAULT_MODEL"`
	Backend      string `json:"backend" yaml:"backend" toml:"backend" envconfig:"BACKEND"`

	PoolSize               int    `json:"pool_size" yaml:"pool_size" toml:"pool_size" envconfig:"POOL_SIZE"`
	MaxTokens              int    `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens" envconfig:"MAX_TOKENS"`
	Profile                string `json:"profile" yaml:"profile" toml:"profile" envconfig:"PROFILE"`
	AcquireTimeoutMS       int    `json:"acquire_timeout_ms" yaml:"acquire_timeout_ms" toml:"acquire_timeout_ms" envconfig:"ACQUIRE_TIMEOUT_MS"`
	ShutdownMode           string `json:"shutdown_mode" yaml:"shutdown_mode" toml:"shutdown_mode" envconfig:"SHUTDOWN_MODE"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds" toml:"shutdown_timeout_seconds" envconfig:"SHUTDOWN_TIMEOUT_SECONDS"`
	ChatTemplate           string `json:"chat_template" yaml:"chat_template" toml:"chat_template" envconfig:"CHAT_TEMPLATE"`
	LogLevel               string `json:"log_level" yaml:"log_level" toml:"log_level" envconfig:"LOG_LEVEL"`

	Llama LlamaConfig `json:"llama" yaml:"llama" toml:"llama" envconfig:"LLAMA"`
	CORS  CORSConfig  `json:"cors" yaml:"cors" toml:"cors" envconfig:"CORS"`

	// Profiles adds or overrides named sampling profiles.
	Profiles map[string]sampling.Profile `json:"profiles" yaml:"profiles" toml:"profiles" ignored:"true"`
}

// LlamaConfig tunes the go-llama.cpp backend.
type LlamaConfig struct {
	ContextSize int `json:"context_size" yaml:"context_size" toml:"context_size" envconfig:"CONTEXT_SIZE"`
	Threads     int `json:"threads" yaml:"threads" toml:"threads" envconfig:"THREADS"`
}

// CORSConfig enables cross-origin requests on the HTTP API.
type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled" envconfig:"ENABLED"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins" envconfig:"ORIGINS"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods" envconfig:"METHODS"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers" envconfig:"HEADERS"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// FromEnv overlays WUNDOT_* environment variables onto cfg. Unset variables
// leave the existing values alone.
func FromEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("env config: %w", err)
	}
	return nil
}

// ApplyDefaults fills unspecified fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ModelsDir == "" {
		c.ModelsDir = "~/models/llm"
	}
	if c.Backend == "" {
		c.Backend = BackendLlama
	}
	if c.PoolSize == 0 {
		c.PoolSize = 8
	}
	if c.ShutdownMode == "" {
		c.ShutdownMode = ShutdownWait
	}
	if c.ShutdownTimeoutSeconds <= 0 {
		c.ShutdownTimeoutSeconds = 30
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Llama.ContextSize <= 0 {
		c.Llama.ContextSize = 2048
	}
	if c.Llama.Threads <= 0 {
		c.Llama.Threads = 4
	}
	if c.CORS.Enabled {
		if len(c.CORS.Methods) == 0 {
			c.CORS.Methods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
		}
		if len(c.CORS.Headers) == 0 {
			c.CORS.Headers = []string{"Content-Type", "Authorization", "X-Log-Level"}
		}
	}
}

// Validate rejects values that cannot be interpreted. An out-of-range pool
// size is not an error; the pool replaces it with its default.
func (c Config) Validate() error {
	switch c.Backend {
	case "", BackendLlama, BackendEcho:
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendLlama, BackendEcho)
	}
	switch c.ShutdownMode {
	case "", ShutdownWait, ShutdownForce:
	default:
		return fmt.Errorf("unknown shutdown_mode %q (want %s or %s)", c.ShutdownMode, ShutdownWait, ShutdownForce)
	}
	if c.AcquireTimeoutMS < 0 {
		return fmt.Errorf("acquire_timeout_ms must be >= 0")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be >= 0")
	}
	for name, p := range c.Profiles {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("profile with empty name")
		}
		if p.Base != "" && strings.EqualFold(strings.TrimSpace(p.Base), strings.TrimSpace(name)) {
			return fmt.Errorf("profile %q derives from itself", name)
		}
	}
	return nil
}

// AcquireTimeout is AcquireTimeoutMS as a duration; 0 means block.
func (c Config) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutMS) * time.Millisecond
}

// ShutdownTimeout bounds the wait for checked-out sessions on shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// ProfileTable returns the built-in profiles extended with c.Profiles.
func (c Config) ProfileTable() *sampling.Table {
	t := sampling.DefaultTable()
	for name, p := range c.Profiles {
		t.Register(name, p)
	}
	return t
}
