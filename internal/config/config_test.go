package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tilesched.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("Load(\"\") = %+v\nwant %+v", cfg, Default())
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
cache:
  dir: /data/tiles
profile: fine
tile:
  quality: 70
  workers: 4
scheduler:
  max_queue: 500
  shutdown_timeout: 5s
logging:
  level: debug
  format: json
metrics:
  addr: ":9102"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		Cache:     CacheConfig{Dir: "/data/tiles"},
		Profile:   "fine",
		Tile:      TileConfig{Quality: 70, Workers: 4},
		Scheduler: SchedulerConfig{MaxQueue: 500, ShutdownTimeout: 5 * time.Second},
		Logging:   LoggingConfig{Level: "debug", Format: "json"},
		Metrics:   MetricsConfig{Addr: ":9102"},
	}
	if !reflect.DeepEqual(cfg, want) {
		t.Errorf("cfg = %+v\nwant %+v", cfg, want)
	}

	p := cfg.TileProfile()
	if p.Name != "fine" || p.TileSize != 256 || p.Quality != 70 {
		t.Errorf("profile = %+v", p)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "scheduler:\n  max_queue: 10\n")
	t.Setenv("TILESCHED_SCHEDULER_MAX_QUEUE", "25")
	t.Setenv("TILESCHED_CACHE_DIR", "/env/cache")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scheduler.MaxQueue != 25 {
		t.Errorf("max_queue = %d, want 25", cfg.Scheduler.MaxQueue)
	}
	if cfg.Cache.Dir != "/env/cache" {
		t.Errorf("cache.dir = %q", cfg.Cache.Dir)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing config file accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty cache dir", func(c *Config) { c.Cache.Dir = "" }, "cache.dir"},
		{"unknown profile", func(c *Config) { c.Profile = "ultra" }, "profile"},
		{"quality", func(c *Config) { c.Tile.Quality = 101 }, "tile.quality"},
		{"workers", func(c *Config) { c.Tile.Workers = 0 }, "tile.workers"},
		{"max queue", func(c *Config) { c.Scheduler.MaxQueue = -1 }, "scheduler.max_queue"},
		{"shutdown", func(c *Config) { c.Scheduler.ShutdownTimeout = 0 }, "shutdown_timeout"},
		{"level", func(c *Config) { c.Logging.Level = "chatty" }, "logging.level"},
		{"format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidate_ReportsAll(t *testing.T) {
	cfg := Default()
	cfg.Cache.Dir = ""
	cfg.Tile.Workers = 0
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "cache.dir") || !strings.Contains(err.Error(), "tile.workers") {
		t.Errorf("err = %v", err)
	}
}
