// Package config loads and validates coordinator configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Bus      BusConfig      `mapstructure:"bus"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Recorder RecorderConfig `mapstructure:"recorder"`
	Reaper   ReaperConfig   `mapstructure:"reaper"`
	Registry RegistryConfig `mapstructure:"registry"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the ops/API HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// StoreConfig selects the job/log store backend.
type StoreConfig struct {
	Provider string `mapstructure:"provider"` // memory | postgres
	DSN      string `mapstructure:"dsn"`
}

// BusConfig selects the notification bus backend.
type BusConfig struct {
	Provider string `mapstructure:"provider"` // memory | postgres
	DSN      string `mapstructure:"dsn"`
}

// QueueConfig optionally mirrors queue pushes to Cloud Pub/Sub topics so
// external pipelines can consume named destinations.
type QueueConfig struct {
	MirrorPubSub bool   `mapstructure:"mirror_pubsub"`
	ProjectID    string `mapstructure:"project_id"`
	TopicPrefix  string `mapstructure:"topic_prefix"`
}

// EngineConfig governs the checkpoint engines.
type EngineConfig struct {
	TrimThreshold float64 `mapstructure:"trim_threshold"`
}

// RecorderConfig controls cold-storage archival of finished jobs.
type RecorderConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// ReaperConfig controls heartbeat-based job reaping.
type ReaperConfig struct {
	Enabled         bool  `mapstructure:"enabled"`
	IntervalSeconds int   `mapstructure:"interval_seconds"`
	Threshold       int64 `mapstructure:"threshold"`
}

// RegistryConfig seeds new jobs via the post-registration hooks.
type RegistryConfig struct {
	DelayMinMs     float64  `mapstructure:"delay_min_ms"`
	DelayMaxMs     float64  `mapstructure:"delay_max_ms"`
	Concurrency    int64    `mapstructure:"concurrency"`
	IgnorePatterns []string `mapstructure:"ignore_patterns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COORDINATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("store.provider", "memory")
	v.SetDefault("bus.provider", "memory")
	v.SetDefault("queue.mirror_pubsub", false)
	v.SetDefault("queue.topic_prefix", "archive-jobs")
	v.SetDefault("engine.trim_threshold", 1000)
	v.SetDefault("recorder.enabled", false)
	v.SetDefault("recorder.prefix", "jobs")
	v.SetDefault("reaper.enabled", true)
	v.SetDefault("reaper.interval_seconds", 2)
	v.SetDefault("reaper.threshold", 3600)
	v.SetDefault("registry.delay_min_ms", 250)
	v.SetDefault("registry.delay_max_ms", 375)
	v.SetDefault("registry.concurrency", 3)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Store.Provider {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set when store.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown store provider: %s", c.Store.Provider)
	}
	switch c.Bus.Provider {
	case "memory":
	case "postgres":
		if c.Bus.DSN == "" && c.Store.DSN == "" {
			return fmt.Errorf("bus.dsn must be set when bus.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown bus provider: %s", c.Bus.Provider)
	}
	if c.Queue.MirrorPubSub && c.Queue.ProjectID == "" {
		return fmt.Errorf("queue.project_id must be set when queue.mirror_pubsub is enabled")
	}
	if c.Engine.TrimThreshold < 0 {
		return fmt.Errorf("engine.trim_threshold must be >= 0")
	}
	if c.Recorder.Enabled && c.Recorder.GCSBucket == "" {
		return fmt.Errorf("recorder.gcs_bucket must be set when recorder is enabled")
	}
	if c.Registry.DelayMinMs > c.Registry.DelayMaxMs {
		return fmt.Errorf("registry.delay_min_ms must be <= registry.delay_max_ms")
	}
	return nil
}

// BusDSN returns the bus connection string, falling back to the store DSN.
func (c Config) BusDSN() string {
	if c.Bus.DSN != "" {
		return c.Bus.DSN
	}
	return c.Store.DSN
}
