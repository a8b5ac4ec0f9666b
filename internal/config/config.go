// Package config loads tilesched settings from an optional YAML file,
// TILESCHED_* environment variables and built-in defaults, in that order
// of precedence (environment wins over file).
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/AnyUserName/tilesched/internal/logging"
	"github.com/AnyUserName/tilesched/internal/profile"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// TILESCHED_CACHE_DIR or TILESCHED_SCHEDULER_MAX_QUEUE.
const EnvPrefix = "TILESCHED"

// Config is the full runtime configuration.
type Config struct {
	Cache     CacheConfig     `mapstructure:"cache"`
	Profile   string          `mapstructure:"profile"`
	Tile      TileConfig      `mapstructure:"tile"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type CacheConfig struct {
	Dir string `mapstructure:"dir"`
}

type TileConfig struct {
	// Quality overrides the profile's encoding quality when non-zero.
	Quality int `mapstructure:"quality"`
	// Workers is the number of tiles of one image encoded concurrently.
	Workers int `mapstructure:"workers"`
}

type SchedulerConfig struct {
	// MaxQueue bounds queued requests; 0 is unbounded.
	MaxQueue        int           `mapstructure:"max_queue"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type MetricsConfig struct {
	// Addr is the listen address of the /metrics endpoint; empty disables it.
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("profile", d.Profile)
	v.SetDefault("tile.quality", d.Tile.Quality)
	v.SetDefault("tile.workers", d.Tile.Workers)
	v.SetDefault("scheduler.max_queue", d.Scheduler.MaxQueue)
	v.SetDefault("scheduler.shutdown_timeout", d.Scheduler.ShutdownTimeout)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	return &Config{
		Cache:   CacheConfig{Dir: ".tilesched"},
		Profile: profile.DefaultName,
		Tile:    TileConfig{Workers: 1},
		Scheduler: SchedulerConfig{
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads the configuration. An empty path skips the file; a path
// that does not exist is an error.
func Load(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Cache.Dir == "" {
		errs = append(errs, errors.New("cache.dir must not be empty"))
	}
	if !slices.Contains(profile.Names(), c.Profile) {
		errs = append(errs, fmt.Errorf("profile %q is not one of %s", c.Profile, strings.Join(profile.Names(), ", ")))
	}
	if c.Tile.Quality < 0 || c.Tile.Quality > 100 {
		errs = append(errs, fmt.Errorf("tile.quality %d out of range 0-100", c.Tile.Quality))
	}
	if c.Tile.Workers < 1 {
		errs = append(errs, fmt.Errorf("tile.workers must be at least 1, got %d", c.Tile.Workers))
	}
	if c.Scheduler.MaxQueue < 0 {
		errs = append(errs, fmt.Errorf("scheduler.max_queue must not be negative, got %d", c.Scheduler.MaxQueue))
	}
	if c.Scheduler.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("scheduler.shutdown_timeout must be positive"))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be console or json", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// TileProfile resolves the configured profile, applying the quality
// override.
func (c *Config) TileProfile() profile.Profile {
	p := profile.Get(c.Profile)
	if c.Tile.Quality > 0 {
		p.Quality = c.Tile.Quality
	}
	return p
}

// LogConfig converts the logging section for logging.New.
func (c *Config) LogConfig() logging.Config {
	return logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		File:   c.Logging.File,
	}
}
