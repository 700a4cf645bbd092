package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/MrWong99/bookalign/internal/artifact"
	"github.com/MrWong99/bookalign/internal/config"
	"github.com/MrWong99/bookalign/internal/health"
	"github.com/MrWong99/bookalign/internal/observe"
	"github.com/MrWong99/bookalign/internal/viewer"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the review API over stored artifacts",
	Long: `Serve the read-only review API:

  GET /api/chapters
  GET /api/report/{chapter}
  GET /api/report/{chapter}/text
  GET /api/artifacts/{chapter}/{kind}

together with /healthz, /readyz and, when telemetry.metrics is set, /metrics.
The log level follows edits of the config file without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (default: server.listen_addr)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hashes, err := cfg.Params().Hashes()
	if err != nil {
		return err
	}
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Metrics:        cfg.Telemetry.Metrics,
		StorageBackend: string(cfg.Storage.Backend),
		ParamsHash:     hashes[artifact.KindHydrated],
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	store, release, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer release()

	checks := []health.Checker{health.Ping("store", store)}
	if w := watchConfig(); w != nil {
		defer w.Stop()
		checks = append(checks, health.Loaded("config", w.Current))
	}

	opts := []viewer.Option{viewer.WithMetrics(tel.Metrics), viewer.WithHealth(health.New(checks...))}
	if cfg.Telemetry.Metrics {
		opts = append(opts, viewer.WithMetricsHandler(promhttp.Handler()))
	}

	addr := listenAddr
	if addr == "" {
		addr = cfg.Server.ListenAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           viewer.New(store, opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("review api listening", "addr", addr, "storage", cfg.Storage.Backend, "metrics", cfg.Telemetry.Metrics)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received, stopping…")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")
	return nil
}

// watchConfig follows the config file when it exists. Only the log level is
// applied live; other changes are logged.
func watchConfig() *config.Watcher {
	if _, err := os.Stat(configPath); err != nil {
		return nil
	}
	w, err := config.NewWatcher(configPath, func(_, _ *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged && !verbose && !quiet {
			logLevel.Set(d.NewLogLevel.Level())
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if len(d.Invalidated) > 0 {
			slog.Warn("alignment parameters changed; rerun align or batch to regenerate",
				"invalidated", d.Invalidated)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config change requires a restart", "sections", d.RestartRequired)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "path", configPath, "err", err)
		return nil
	}
	return w
}
