// Package config provides the unified configuration system for driverpool.
// It defines the pool and dispatcher settings, their defaults, and a YAML
// loader so applications can keep pool sizing in declarative config files.
//
// Example usage:
//
//	cfg := config.NewPoolConfig()
//	cfg.MaxSize = 20
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/driverpool/pkg/xerrors"
)

// PoolConfig holds the sizing and behavior settings for a connection pool.
type PoolConfig struct {
	// Name identifies the pool instance in logs and metrics
	Name string `yaml:"name" json:"name"`
	// MinSize is the number of connections kept open at all times
	MinSize int `yaml:"min_size" json:"min_size"`
	// MaxSize is the ceiling on connections owned by the pool
	MaxSize int `yaml:"max_size" json:"max_size"`
	// Echo enables per-connection debug logging
	Echo bool `yaml:"echo" json:"echo"`
	// AcquireTimeout bounds how long Acquire may wait for capacity.
	// Zero means the caller's context alone governs cancellation.
	AcquireTimeout time.Duration `yaml:"acquire_timeout" json:"acquire_timeout"`
}

// DispatcherConfig holds the settings for the blocking-call executor.
type DispatcherConfig struct {
	// Workers is the number of OS-thread-bound goroutines running blocking
	// driver calls
	Workers int `yaml:"workers" json:"workers"`
	// QueueDepth is the number of submitted calls that may wait for a worker
	QueueDepth int `yaml:"queue_depth" json:"queue_depth"`
}

// Config bundles the pool and dispatcher sections of a YAML config file.
type Config struct {
	Pool       PoolConfig       `yaml:"pool" json:"pool"`
	Dispatcher DispatcherConfig `yaml:"dispatcher" json:"dispatcher"`
}

// NewPoolConfig creates a PoolConfig with production defaults.
func NewPoolConfig() *PoolConfig {
	return &PoolConfig{
		Name:           "pool",
		MinSize:        10,
		MaxSize:        10,
		Echo:           false,
		AcquireTimeout: 0,
	}
}

// NewDispatcherConfig creates a DispatcherConfig with production defaults.
func NewDispatcherConfig() *DispatcherConfig {
	return &DispatcherConfig{
		Workers:    8,
		QueueDepth: 64,
	}
}

// Validate validates the pool configuration for correctness.
func (c *PoolConfig) Validate() error {
	if c.MinSize < 0 {
		return xerrors.Newf(xerrors.ErrorTypeConfig, "min_size must be non-negative, got %d", c.MinSize)
	}
	if c.MaxSize < c.MinSize {
		return xerrors.Newf(xerrors.ErrorTypeConfig, "max_size %d must be >= min_size %d", c.MaxSize, c.MinSize)
	}
	if c.AcquireTimeout < 0 {
		return xerrors.Newf(xerrors.ErrorTypeConfig, "acquire_timeout must be non-negative, got %s", c.AcquireTimeout)
	}
	return nil
}

// Validate validates the dispatcher configuration for correctness.
func (c *DispatcherConfig) Validate() error {
	if c.Workers <= 0 {
		return xerrors.Newf(xerrors.ErrorTypeConfig, "workers must be positive, got %d", c.Workers)
	}
	if c.QueueDepth < 0 {
		return xerrors.Newf(xerrors.ErrorTypeConfig, "queue_depth must be non-negative, got %d", c.QueueDepth)
	}
	return nil
}

// Load loads a Config from a YAML file and validates it.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: file path is controlled by the caller
	if err != nil {
		return nil, xerrors.Wrap(err, xerrors.ErrorTypeConfig, "failed to read config file")
	}

	cfg := &Config{
		Pool:       *NewPoolConfig(),
		Dispatcher: *NewDispatcherConfig(),
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, xerrors.Wrap(err, xerrors.ErrorTypeConfig, "failed to parse YAML")
	}

	if err := cfg.Pool.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Dispatcher.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves a Config to a YAML file.
func Save(filePath string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return xerrors.Wrap(err, xerrors.ErrorTypeConfig, "failed to marshal YAML")
	}

	if err := os.WriteFile(filePath, data, 0o644); err != nil { //nolint:gosec
		return xerrors.Wrap(err, xerrors.ErrorTypeConfig, "failed to write config file")
	}
	return nil
}
