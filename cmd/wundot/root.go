package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"wundot/internal/chat"
	"wundot/internal/common/fsutil"
	"wundot/internal/config"
	"wundot/internal/manager"
	"wundot/internal/registry"
	"wundot/internal/runtime"
	"wundot/internal/runtime/echo"
	"wundot/internal/runtime/llamacpp"
	"wundot/pkg/types"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	backend    string
	model      string
	modelsDir  string
	poolSize   int
	profile    string

	cfg config.Config
	log zerolog.Logger
}

func newRootCmd() *cobra.Command { return newRootCmdWith(&rootOptions{}) }

func newRootCmdWith(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "wundot",
		Short:         "Pooled inference sessions over a single local model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Config file (.yaml, .yml, .json, .toml)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")
	pf.StringVar(&opts.backend, "backend", "", "Model runtime: llama|echo")
	pf.StringVar(&opts.model, "model", "", "Model path or registry id")
	pf.StringVar(&opts.modelsDir, "models-dir", "", "Directory to scan for *.gguf model files")
	pf.IntVar(&opts.poolSize, "pool-size", 0, "Number of pooled sessions (1-128)")
	pf.StringVar(&opts.profile, "profile", "", "Initial sampling profile")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, opts)
		if err != nil {
			return err
		}
		opts.cfg = cfg
		opts.log = newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
		return nil
	}

	root.AddCommand(
		newServeCmd(opts),
		newGenerateCmd(opts),
		newStreamCmd(opts),
		newProfilesCmd(opts),
		newModelsCmd(opts),
	)
	return root
}

// loadConfig merges, in increasing precedence: defaults, the config file,
// WUNDOT_* environment variables, then explicitly set flags.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, error) {
	var cfg config.Config
	if opts.configPath != "" {
		c, err := config.Load(opts.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	if err := config.FromEnv(&cfg); err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("backend") {
		cfg.Backend = opts.backend
	}
	if flags.Changed("model") {
		cfg.ModelPath = opts.model
	}
	if flags.Changed("models-dir") {
		cfg.ModelsDir = opts.modelsDir
	}
	if flags.Changed("pool-size") {
		cfg.PoolSize = opts.poolSize
	}
	if flags.Changed("profile") {
		cfg.Profile = opts.profile
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

func newRuntime(cfg config.Config) runtime.Runtime {
	if cfg.Backend == config.BackendEcho {
		return echo.New(echo.Options{})
	}
	return llamacpp.New(llamacpp.Options{ContextSize: cfg.Llama.ContextSize, Threads: cfg.Llama.Threads})
}

// newFormatter resolves chat_template: empty or "chatml" is the built-in
// ChatML template, an existing file is read as a template, anything else is
// parsed as template source.
func newFormatter(src string) (chat.Formatter, error) {
	src = strings.TrimSpace(src)
	if src == "" || strings.EqualFold(src, "chatml") {
		return chat.ChatML(), nil
	}
	if p, err := fsutil.ExpandHome(src); err == nil && fsutil.IsRegularFile(p) {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read chat template: %w", err)
		}
		src = string(b)
	}
	f, err := chat.NewTemplateFormatter(src)
	if err != nil {
		return nil, fmt.Errorf("chat template: %w", err)
	}
	return f, nil
}

// scanModels loads the registry; a missing models dir is not fatal since a
// model path may be given directly.
func scanModels(cfg config.Config, log zerolog.Logger) []types.Model {
	reg, err := registry.LoadDir(cfg.ModelsDir)
	if err != nil {
		log.Warn().Err(err).Str("models_dir", cfg.ModelsDir).Msg("model scan failed")
		return nil
	}
	log.Debug().Int("count", len(reg)).Str("models_dir", cfg.ModelsDir).Msg("models discovered")
	return reg
}

func newManager(cfg config.Config, reg []types.Model, log zerolog.Logger) (*manager.Manager, error) {
	f, err := newFormatter(cfg.ChatTemplate)
	if err != nil {
		return nil, err
	}
	mlog := log.With().Str("component", "manager").Logger()
	return manager.NewWithConfig(manager.ManagerConfig{
		Runtime:        newRuntime(cfg),
		Formatter:      f,
		Profiles:       cfg.ProfileTable(),
		Profile:        cfg.Profile,
		Registry:       reg,
		DefaultModel:   cfg.DefaultModel,
		PoolSize:       cfg.PoolSize,
		AcquireTimeout: cfg.AcquireTimeout(),
		ForceShutdown:  cfg.ShutdownMode == config.ShutdownForce,
		MaxTokens:      cfg.MaxTokens,
		Logger:         mlog,
		Publisher:      manager.LogPublisher{Logger: mlog},
	}), nil
}
