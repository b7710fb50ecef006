package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/waypoint/internal/xjson"
)

func installCmd() *cobra.Command {
	cfg := defaultConfig()
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Write ~/.waypoint/settings.json and reload a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			path, err := writeSettings(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
			if pid, ok := signalRunningServer(); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "Signaled running server (PID %d) to reload configuration\n", pid)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "store driver: memory, libsql, badger")
	f.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "database file (libsql) or directory (badger)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	f.IntVar(&cfg.PoolSize, "pool-size", cfg.PoolSize, "worker pool size for dispatch")
	f.StringVar(&cfg.MatchPolicy, "match-policy", cfg.MatchPolicy, "bookmark match policy: broadcast, first")
	f.IntVar(&cfg.MaxSteps, "max-steps", cfg.MaxSteps, "scheduler step limit per run (0 = default)")
	f.DurationVar(&cfg.CronInterval, "cron-interval", cfg.CronInterval, "cron polling interval")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "prometheus listen address (empty disables)")
	f.StringVar(&cfg.DefinitionsDir, "definitions-dir", cfg.DefinitionsDir, "directory of JSON definitions loaded at startup")
	return cmd
}

// writeSettings stores cfg as the settings file and returns its path.
func writeSettings(cfg Config) (string, error) {
	dir := waypointDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create %s: %w", dir, err)
	}
	settings := map[string]any{
		"db_driver":       cfg.DBDriver,
		"db_path":         cfg.DBPath,
		"log_level":       cfg.LogLevel,
		"pool_size":       cfg.PoolSize,
		"match_policy":    cfg.MatchPolicy,
		"max_steps":       cfg.MaxSteps,
		"cron_interval":   cfg.CronInterval.String(),
		"metrics_addr":    cfg.MetricsAddr,
		"definitions_dir": cfg.DefinitionsDir,
	}
	data, err := xjson.Marshal(settings)
	if err != nil {
		return "", err
	}
	path := settingsPath()
	if err := os.WriteFile(filepath.Clean(path), data, 0o644); err != nil {
		return "", fmt.Errorf("cannot write %s: %w", path, err)
	}
	return path, nil
}

// signalRunningServer sends SIGHUP to a running waypoint server (via pidfile).
func signalRunningServer() (int, bool) {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	// Check if process is alive.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return 0, false
	}
	return pid, true
}
