package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/rendis/waypoint/internal/xjson"
)

// Config holds all waypoint configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBDriver       string        `koanf:"db_driver" json:"db_driver"` // memory | libsql | badger
	DBPath         string        `koanf:"db_path" json:"db_path"`
	LogLevel       string        `koanf:"log_level" json:"log_level"`
	PoolSize       int           `koanf:"pool_size" json:"pool_size"`
	MatchPolicy    string        `koanf:"match_policy" json:"match_policy"` // broadcast | first
	MaxSteps       int           `koanf:"max_steps" json:"max_steps"`
	CronInterval   time.Duration `koanf:"cron_interval" json:"cron_interval"`
	MetricsAddr    string        `koanf:"metrics_addr" json:"metrics_addr"`
	DefinitionsDir string        `koanf:"definitions_dir" json:"definitions_dir"`
	VaultKey       string        `koanf:"vault_key" json:"-"` // 64 hex chars or a passphrase; env only
}

const envPrefix = "WAYPOINT_"

func defaultConfig() Config {
	return Config{
		DBDriver:     "libsql",
		DBPath:       filepath.Join(waypointDir(), "waypoint.db"),
		LogLevel:     "info",
		PoolSize:     10,
		MatchPolicy:  "broadcast",
		CronInterval: 15 * time.Second,
	}
}

func waypointDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".waypoint"
	}
	return filepath.Join(home, ".waypoint")
}

func settingsPath() string {
	return filepath.Join(waypointDir(), "settings.json")
}

// loadConfig layers struct defaults, the settings file at path (skipped when
// missing) and WAYPOINT_* environment variables.
func loadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if data, err := os.ReadFile(path); err == nil {
		var settings map[string]any
		if err := xjson.Unmarshal(data, &settings); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := k.Load(rawMap(settings), nil); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, envPrefix)), value
		},
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.DBDriver {
	case "memory", "libsql", "badger":
	default:
		return fmt.Errorf("unknown db_driver %q (want memory, libsql or badger)", c.DBDriver)
	}
	switch c.MatchPolicy {
	case "broadcast", "first":
	default:
		return fmt.Errorf("unknown match_policy %q (want broadcast or first)", c.MatchPolicy)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be >= 1, got %d", c.PoolSize)
	}
	if c.CronInterval <= 0 {
		return fmt.Errorf("cron_interval must be positive, got %s", c.CronInterval)
	}
	return nil
}

// rawMap is a koanf.Provider adapter for map[string]any data.
type rawMap map[string]any

func (r rawMap) Read() (map[string]any, error) {
	return r, nil
}

func (r rawMap) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("ReadBytes not implemented")
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged    bool
	DefinitionsChanged bool
	RestartNeeded      []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.DefinitionsDir != new.DefinitionsDir {
		d.DefinitionsChanged = true
	}
	if old.DBDriver != new.DBDriver {
		d.RestartNeeded = append(d.RestartNeeded, "db_driver")
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.PoolSize != new.PoolSize {
		d.RestartNeeded = append(d.RestartNeeded, "pool_size")
	}
	if old.MatchPolicy != new.MatchPolicy {
		d.RestartNeeded = append(d.RestartNeeded, "match_policy")
	}
	if old.MaxSteps != new.MaxSteps {
		d.RestartNeeded = append(d.RestartNeeded, "max_steps")
	}
	if old.CronInterval != new.CronInterval {
		d.RestartNeeded = append(d.RestartNeeded, "cron_interval")
	}
	if old.MetricsAddr != new.MetricsAddr {
		d.RestartNeeded = append(d.RestartNeeded, "metrics_addr")
	}
	if old.VaultKey != new.VaultKey {
		d.RestartNeeded = append(d.RestartNeeded, "vault_key")
	}
	return d
}

func pidPath() string {
	return filepath.Join(waypointDir(), "waypoint.pid")
}
