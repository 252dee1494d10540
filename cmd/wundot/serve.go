package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"wundot/internal/config"
	"wundot/internal/httpapi"
	"wundot/internal/manager"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	var corsOrigins string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the model and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("cors-origins") {
				cfg.CORS.Enabled = true
				cfg.CORS.Origins = splitCSV(corsOrigins)
				cfg.ApplyDefaults()
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			return serve(ctx, cfg, opts.log, ln)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address, e.g. :8080")
	cmd.Flags().StringVar(&corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins (enables CORS)")
	return cmd
}

// serve runs the HTTP API on ln until ctx is done, then drains HTTP
// requests and shuts the manager down.
func serve(ctx context.Context, cfg config.Config, log zerolog.Logger, ln net.Listener) error {
	reg := scanModels(cfg, log)
	mgr, err := newManager(cfg, reg, log)
	if err != nil {
		return err
	}

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, cfg.CORS.Methods, cfg.CORS.Headers)
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	srv := &http.Server{
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Str("backend", cfg.Backend).Str("models_dir", cfg.ModelsDir).Msg("wundot listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Load in the background so /readyz can report progress.
	go func() {
		if cfg.ModelPath == "" && cfg.DefaultModel == "" {
			log.Warn().Msg("no model configured; serving without a loaded model")
			return
		}
		if err := mgr.Initialize(ctx, cfg.ModelPath, cfg.PoolSize); err != nil {
			log.Error().Err(err).Msg("model initialization failed")
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	return shutdown(cfg, log, srv, mgr, cancelBase)
}

func shutdown(cfg config.Config, log zerolog.Logger, srv *http.Server, mgr *manager.Manager, cancelBase context.CancelFunc) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful http shutdown incomplete")
	}
	// Whatever is still running stops between tokens.
	cancelBase()
	if err := mgr.Shutdown(ctx); err != nil {
		if manager.IsShutdownBusy(err) {
			log.Warn().Err(err).Msg("sessions still checked out at shutdown; forced")
			return nil
		}
		return err
	}
	log.Info().Msg("shutdown complete")
	return nil
}
