package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rendis/waypoint/internal/bookmarks"
	"github.com/rendis/waypoint/internal/runtime"
	"github.com/rendis/waypoint/internal/secrets"
	"github.com/rendis/waypoint/internal/store"
)

// openStore opens and migrates the configured store.
func openStore(ctx context.Context, cfg Config) (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	switch cfg.DBDriver {
	case "memory":
		s = store.NewMemoryStore()
	case "libsql":
		s, err = store.NewLibSQLStore(cfg.DBPath)
	case "badger":
		s, err = store.NewBadgerStore(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unknown db_driver %q", cfg.DBDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.DBDriver, err)
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func runtimeConfig(cfg Config) runtime.Config {
	return runtime.Config{
		PoolSize:    cfg.PoolSize,
		MatchPolicy: bookmarks.ParseMatchPolicy(cfg.MatchPolicy),
		MaxSteps:    cfg.MaxSteps,
	}
}

// openRuntime opens the store, builds a runtime over it and rebuilds the
// registry from persisted state. The returned func releases both.
func openRuntime(ctx context.Context, cfg Config, logger *slog.Logger, opts ...runtime.Option) (*runtime.Runtime, func(), error) {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	base := []runtime.Option{runtime.WithStore(s), runtime.WithLogger(logger)}
	if cfg.VaultKey != "" {
		vault, err := openVault(s, cfg)
		if err != nil {
			s.Close()
			return nil, nil, err
		}
		base = append(base, runtime.WithVault(vault))
	}
	opts = append(base, opts...)
	rt, err := runtime.New(runtimeConfig(cfg), opts...)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	stats, err := rt.Recover(ctx)
	if err != nil {
		rt.Close()
		s.Close()
		return nil, nil, fmt.Errorf("recover: %w", err)
	}
	logger.Debug("runtime recovered",
		"definitions", stats.Definitions, "bookmarks", stats.Bookmarks, "continued", stats.Continued)
	return rt, func() {
		rt.Close()
		if err := s.Close(); err != nil {
			logger.Warn("close store", "error", err)
		}
	}, nil
}

// openVault builds the AES vault over s from the configured key.
func openVault(s secrets.SecretStore, cfg Config) (*secrets.AESVault, error) {
	if cfg.VaultKey == "" {
		return nil, fmt.Errorf("no vault key configured (set %sVAULT_KEY)", envPrefix)
	}
	vcfg, err := secrets.ConfigFromKey(cfg.VaultKey, "")
	if err != nil {
		return nil, err
	}
	return secrets.NewAESVault(s, vcfg)
}
