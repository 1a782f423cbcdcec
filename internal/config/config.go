// Package config loads simhost's TOML configuration file: a defaults()
// baseline merged with whatever the file overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Network  NetworkConfig  `toml:"network"`
	Spatial  SpatialConfig  `toml:"spatial"`
	Plugin   PluginConfig   `toml:"plugin"`
	Script   ScriptConfig   `toml:"script"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	Logging  LoggingConfig  `toml:"logging"`
}

type ServerConfig struct {
	Name      string `toml:"name"`
	ID        int    `toml:"id"`
	StartTime int64  // set at boot, not from config
}

type NetworkConfig struct {
	BindAddress  string        `toml:"bind_address"`
	TickRate     time.Duration `toml:"tick_rate"`
	InputRate    time.Duration `toml:"input_rate"` // dual-rate input pump period
	InQueueSize  int           `toml:"in_queue_size"`
	OutQueueSize int           `toml:"out_queue_size"`
	LingerGrace  time.Duration `toml:"linger_grace"`
}

// SpatialConfig selects and sizes the spatial backend. Mode is "room_graph"
// or "grid"; the grid fields are ignored in room-graph mode.
type SpatialConfig struct {
	Mode       string `toml:"mode"`
	GridOrigin [2]int `toml:"grid_origin"`
	GridWidth  int    `toml:"grid_width"`
	GridHeight int    `toml:"grid_height"`
	AOIRadius  int    `toml:"aoi_radius"`
}

type PluginConfig struct {
	Dir        string `toml:"dir"`
	FuelBudget uint64 `toml:"fuel_budget"`
}

type ScriptConfig struct {
	Dir string `toml:"dir"`
}

type SnapshotConfig struct {
	Dir            string `toml:"dir"`
	Keep           int    `toml:"keep"`
	EveryTicks     uint64 `toml:"every_ticks"`
	PostgresDSN    string `toml:"postgres_dsn"` // empty disables the Postgres-backed store
	MigrateOnStart bool   `toml:"migrate_on_start"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

// ConfigEnvVar names the environment variable that overrides the
// config file path.
const ConfigEnvVar = "SIMCORE_CONFIG"

// Load reads path, or the path named by SIMCORE_CONFIG when path is
// empty, merging it over defaults().
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(ConfigEnvVar)
	}
	cfg := defaults()
	if path == "" {
		cfg.Server.StartTime = time.Now().Unix()
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Server.StartTime = time.Now().Unix()
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name: "simcore",
			ID:   1,
		},
		Network: NetworkConfig{
			BindAddress:  "0.0.0.0:7777",
			TickRate:     100 * time.Millisecond,
			InputRate:    2 * time.Millisecond,
			InQueueSize:  256,
			OutQueueSize: 256,
			LingerGrace:  30 * time.Second,
		},
		Spatial: SpatialConfig{
			Mode:       "room_graph",
			GridWidth:  256,
			GridHeight: 256,
			AOIRadius:  8,
		},
		Plugin: PluginConfig{
			Dir:        "plugins",
			FuelBudget: 10_000_000,
		},
		Script: ScriptConfig{
			Dir: "scripts",
		},
		Snapshot: SnapshotConfig{
			Dir:        "snapshots",
			Keep:       5,
			EveryTicks: 600, // every minute at the default 10 ticks/sec
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
