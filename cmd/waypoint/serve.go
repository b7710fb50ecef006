package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/waypoint/internal/cron"
	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/internal/logging"
	"github.com/rendis/waypoint/internal/metrics"
	"github.com/rendis/waypoint/internal/runtime"
	"github.com/rendis/waypoint/internal/streaming"
	"github.com/rendis/waypoint/pkg/mcp"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and expose MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, flags, cfg)
		},
	}
}

func serve(ctx context.Context, flags *globalFlags, cfg Config) error {
	// stdout carries the MCP protocol; logs go to stderr.
	logger, level := newLogger(os.Stderr, cfg.LogLevel)

	hub := streaming.NewMemoryHub()
	m := metrics.New()
	rt, closeRuntime, err := openRuntime(ctx, cfg, logger,
		runtime.WithHub(hub), runtime.WithMetrics(m),
		runtime.WithServices(engine.NewServices(map[string]any{engine.ServiceOutput: os.Stderr})))
	if err != nil {
		return err
	}
	defer closeRuntime()

	defs := newDirLoader(rt)
	if n, err := defs.Load(ctx, cfg.DefinitionsDir); err != nil {
		logger.Warn("load definitions", "dir", cfg.DefinitionsDir, "loaded", n, "error", err)
	} else if n > 0 {
		logger.Info("definitions loaded", "dir", cfg.DefinitionsDir, "count", n)
	}

	driver := cron.NewDriver(rt.Bookmarks(), rt,
		cron.WithInterval(cfg.CronInterval), cron.WithLogger(logger))
	if err := driver.Start(ctx); err != nil {
		return fmt.Errorf("start cron driver: %w", err)
	}
	defer driver.Stop()

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
	}

	if err := writePIDFile(); err != nil {
		logger.Warn("write pid file", "error", err)
	}
	defer os.Remove(pidPath())

	go watchReload(ctx, flags, cfg, logger, level, defs)

	mcpSrv := mcp.NewServer(mcp.ServerDeps{
		Runtime: rt,
		Hub:     hub,
		Logger:  logger,
		Version: version,
	})
	logger.Info("waypoint serving", "db_driver", cfg.DBDriver, "match_policy", cfg.MatchPolicy)
	if err := mcpSrv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func metricsMux(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// watchReload re-reads the settings on SIGHUP. The log level and the
// definitions directory apply live; other changes are reported.
func watchReload(ctx context.Context, flags *globalFlags, current Config, logger *slog.Logger, level *slog.LevelVar, defs *dirLoader) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}
		next, err := flags.load()
		if err != nil {
			logger.Error("reload config", "error", err)
			continue
		}
		d := diffConfigs(current, next)
		if d.LogLevelChanged {
			level.Set(logging.ParseLevel(next.LogLevel))
			logger.Info("log level changed", "level", next.LogLevel)
		}
		n, err := defs.Load(ctx, next.DefinitionsDir)
		if err != nil {
			logger.Warn("reload definitions", "dir", next.DefinitionsDir, "error", err)
		}
		logger.Info("configuration reloaded", "definitions", n, "restart_needed", d.RestartNeeded)
		current = next
	}
}

func writePIDFile() error {
	if err := os.MkdirAll(waypointDir(), 0o700); err != nil {
		return err
	}
	return os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}
