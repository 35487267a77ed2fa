// Package config loads driftsync settings from a YAML file, environment
// variables, and built-in defaults, and watches the file for live changes.
package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration. Every field has a default; a
// config file and DRIFTSYNC_* environment variables override selectively.
type Config struct {
	// DataDir holds the durable SQLite state.
	DataDir string `mapstructure:"data_dir"`

	API      APIConfig      `mapstructure:"api"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Network  NetworkConfig  `mapstructure:"network"`
	Log      LogConfig      `mapstructure:"log"`
}

// APIConfig points the HTTP transport at the backend.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RealtimeConfig tunes the WebSocket channel client.
type RealtimeConfig struct {
	URL                  string        `mapstructure:"url"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
}

// SyncConfig tunes queue draining and retry behavior.
type SyncConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	MaxRetry        int           `mapstructure:"max_retry"`
	BaseDelay       time.Duration `mapstructure:"base_delay"`
	InterBatchDelay time.Duration `mapstructure:"inter_batch_delay"`
	DrainInterval   time.Duration `mapstructure:"drain_interval"`
}

// CacheConfig tunes the read cache.
type CacheConfig struct {
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

// NetworkConfig tunes the connectivity monitor.
type NetworkConfig struct {
	ProbeAddr       string        `mapstructure:"probe_addr"`
	ProbeInterval   time.Duration `mapstructure:"probe_interval"`
	StabilityWindow time.Duration `mapstructure:"stability_window"`
}

// LogConfig controls daemon log rotation.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Loader reads configuration and notifies on file changes.
type Loader struct {
	v      *viper.Viper
	logger *log.Logger

	mu      sync.Mutex
	current *Config
}

// NewLoader creates a loader rooted at dir. When dir is empty only the
// working directory is searched. A nil logger discards diagnostics.
func NewLoader(dir string, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	v := viper.New()
	v.SetConfigName("driftsync")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if dir != "" {
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix("DRIFTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	return &Loader{v: v, logger: logger}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", ".driftsync")

	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", 10*time.Second)

	v.SetDefault("realtime.url", "ws://localhost:8080/ws")
	v.SetDefault("realtime.heartbeat_interval", 30*time.Second)
	v.SetDefault("realtime.max_reconnect_attempts", 5)

	v.SetDefault("sync.batch_size", 10)
	v.SetDefault("sync.max_retry", 3)
	v.SetDefault("sync.base_delay", time.Second)
	v.SetDefault("sync.inter_batch_delay", 500*time.Millisecond)
	v.SetDefault("sync.drain_interval", 30*time.Second)

	v.SetDefault("cache.default_ttl", 5*time.Minute)

	v.SetDefault("network.probe_addr", "1.1.1.1:443")
	v.SetDefault("network.probe_interval", 5*time.Second)
	v.SetDefault("network.stability_window", 2*time.Second)

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 14)
}

// Load reads the config file (if present) and resolves the configuration.
// A missing file is not an error; defaults and environment apply.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		l.logger.Printf("Loaded config from %s", l.v.ConfigFileUsed())
	}

	cfg, err := l.resolve()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Current returns the last successfully loaded configuration, or nil when
// Load has not run.
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Watch re-resolves the configuration whenever the file changes and passes
// the result to onChange. Invalid updates are logged and skipped, keeping
// the previous configuration in effect.
func (l *Loader) Watch(onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.resolve()
		if err != nil {
			l.logger.Printf("Ignoring config change %s: %v", e.Name, err)
			return
		}

		l.mu.Lock()
		l.current = cfg
		l.mu.Unlock()

		l.logger.Printf("Config reloaded from %s", e.Name)
		if onChange != nil {
			onChange(cfg)
		}
	})
	l.v.WatchConfig()
}

func (l *Loader) resolve() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the runtime cannot operate with.
func (c *Config) Validate() error {
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("sync.batch_size must be at least 1, got %d", c.Sync.BatchSize)
	}
	if c.Sync.MaxRetry < 0 {
		return fmt.Errorf("sync.max_retry must not be negative, got %d", c.Sync.MaxRetry)
	}
	if c.Sync.BaseDelay <= 0 {
		return fmt.Errorf("sync.base_delay must be positive, got %s", c.Sync.BaseDelay)
	}
	if c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache.default_ttl must be positive, got %s", c.Cache.DefaultTTL)
	}
	if c.Realtime.MaxReconnectAttempts < 1 {
		return fmt.Errorf("realtime.max_reconnect_attempts must be at least 1, got %d", c.Realtime.MaxReconnectAttempts)
	}
	return nil
}
