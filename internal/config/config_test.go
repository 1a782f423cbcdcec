package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithoutPathReturnsDefaults(t *testing.T) {
	t.Setenv(ConfigEnvVar, "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network.TickRate != 100*time.Millisecond {
		t.Fatalf("expected default tick rate 100ms, got %v", cfg.Network.TickRate)
	}
	if cfg.Spatial.Mode != "room_graph" {
		t.Fatalf("expected default spatial mode room_graph, got %s", cfg.Spatial.Mode)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "simcore.toml")
	body := `
[network]
bind_address = "0.0.0.0:9999"
tick_rate = 50000000  # 50ms in nanoseconds

[spatial]
mode = "grid"
aoi_radius = 12
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network.BindAddress != "0.0.0.0:9999" {
		t.Fatalf("expected overridden bind address, got %s", cfg.Network.BindAddress)
	}
	if cfg.Network.TickRate != 50*time.Millisecond {
		t.Fatalf("expected overridden tick rate, got %v", cfg.Network.TickRate)
	}
	if cfg.Spatial.Mode != "grid" || cfg.Spatial.AOIRadius != 12 {
		t.Fatalf("expected grid mode with AOI radius 12, got %+v", cfg.Spatial)
	}
	// untouched defaults must survive the merge
	if cfg.Snapshot.Keep != 5 {
		t.Fatalf("expected default snapshot keep=5 to survive merge, got %d", cfg.Snapshot.Keep)
	}
}

func TestLoadUsesEnvVarWhenPathEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "simcore.toml")
	if err := os.WriteFile(path, []byte(`[server]
name = "from-env"
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigEnvVar, path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Name != "from-env" {
		t.Fatalf("expected name from env-pointed file, got %s", cfg.Server.Name)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}
