// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides daemon configuration.
//
// Configuration comes from a YAML file with environment variable
// overrides on top. Durations are expressed in seconds in the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/foreman/internal/ledger"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config represents the complete daemon configuration.
type Config struct {
	// Listen configures the API listener.
	Listen ListenConfig `yaml:"listen,omitempty"`

	// Log configures daemon logging.
	Log LogConfig `yaml:"log,omitempty"`

	// Storage configures the execution store.
	Storage StorageConfig `yaml:"storage,omitempty"`

	// Scheduler configures the placement loop.
	Scheduler SchedulerConfig `yaml:"scheduler,omitempty"`

	// Health configures the runner health monitor.
	Health HealthConfig `yaml:"health,omitempty"`

	// Allocation supplies per-execution resource defaults.
	Allocation ledger.Policy `yaml:"allocation,omitempty"`

	// RunnersFile is the path to the runner definitions file.
	// Environment: FOREMAN_RUNNERS_FILE
	RunnersFile string `yaml:"runners_file,omitempty"`

	// Dispatch configures per-backend trigger rate limits.
	Dispatch DispatchConfig `yaml:"dispatch,omitempty"`

	// ShutdownTimeoutSeconds is the maximum wait for graceful shutdown.
	// Default: 30.
	ShutdownTimeoutSeconds int `yaml:"shutdown_timeout_seconds,omitempty"`
}

// ListenConfig configures how the daemon listens for connections.
type ListenConfig struct {
	// SocketPath is the Unix socket path.
	// Environment: FOREMAN_SOCKET
	// Default: ~/.foreman/foreman.sock
	SocketPath string `yaml:"socket_path,omitempty"`

	// TCPAddr is an optional TCP address to listen on (e.g. ":8720").
	// Environment: FOREMAN_LISTEN
	TCPAddr string `yaml:"tcp_addr,omitempty"`
}

// LogConfig configures daemon logging.
type LogConfig struct {
	// Level is debug, info, warn or error. Default info.
	Level string `yaml:"level,omitempty"`

	// Format is json or text. Default json.
	Format string `yaml:"format,omitempty"`

	// File is an optional log file path; empty logs to stderr.
	File string `yaml:"file,omitempty"`
}

// StorageConfig configures the execution store.
type StorageConfig struct {
	// Backend is memory or sqlite. Default memory.
	Backend string `yaml:"backend,omitempty"`

	// Path is the SQLite database path. Required for the sqlite backend.
	Path string `yaml:"path,omitempty"`

	// HistoryLimit bounds retained terminal executions. Default 100.
	HistoryLimit int `yaml:"history_limit,omitempty"`
}

// SchedulerConfig configures the placement loop.
type SchedulerConfig struct {
	// TickIntervalSeconds is the loop period. Default 5.
	TickIntervalSeconds int `yaml:"tick_interval_seconds,omitempty"`

	// SnapshotLimit bounds queued executions examined per tick. Default 10.
	SnapshotLimit int `yaml:"snapshot_limit,omitempty"`

	// MaxRunningDurationSeconds fails executions running longer. Zero
	// disables the watchdog.
	MaxRunningDurationSeconds int `yaml:"max_running_duration_seconds,omitempty"`
}

// HealthConfig configures the runner health monitor.
type HealthConfig struct {
	// IntervalSeconds is the probe period. Default 120.
	IntervalSeconds int `yaml:"interval_seconds,omitempty"`

	// ProbeTimeoutSeconds bounds one probe. Default 10.
	ProbeTimeoutSeconds int `yaml:"probe_timeout_seconds,omitempty"`
}

// DispatchConfig configures dispatch behavior.
type DispatchConfig struct {
	// TriggersPerSecond rate-limits triggers per backend type. Keys are
	// runner types; zero or absent means unlimited.
	TriggersPerSecond map[string]float64 `yaml:"triggers_per_second,omitempty"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			SocketPath: defaultSocketPath(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Backend:      "memory",
			HistoryLimit: 100,
		},
		Scheduler: SchedulerConfig{
			TickIntervalSeconds: 5,
			SnapshotLimit:       10,
		},
		Health: HealthConfig{
			IntervalSeconds:     120,
			ProbeTimeoutSeconds: 10,
		},
		Allocation: ledger.Policy{
			DefaultCPUUnits: 1,
			DefaultMemoryMB: 512,
		},
		ShutdownTimeoutSeconds: 30,
	}
}

// Load reads configuration from a YAML file, applies environment
// overrides, and validates. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FOREMAN_SOCKET"); v != "" {
		cfg.Listen.SocketPath = v
	}
	if v := os.Getenv("FOREMAN_LISTEN"); v != "" {
		cfg.Listen.TCPAddr = v
	}
	if v := os.Getenv("FOREMAN_RUNNERS_FILE"); v != "" {
		cfg.RunnersFile = v
	}
	if v := os.Getenv("FOREMAN_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: storage.path is required for the sqlite backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.Storage.Backend)
	}

	if c.Scheduler.TickIntervalSeconds <= 0 {
		return fmt.Errorf("%w: scheduler.tick_interval_seconds must be positive", ErrInvalidConfig)
	}
	if c.Scheduler.SnapshotLimit <= 0 {
		return fmt.Errorf("%w: scheduler.snapshot_limit must be positive", ErrInvalidConfig)
	}
	if c.Scheduler.MaxRunningDurationSeconds < 0 {
		return fmt.Errorf("%w: scheduler.max_running_duration_seconds must not be negative", ErrInvalidConfig)
	}
	if c.Health.IntervalSeconds <= 0 {
		return fmt.Errorf("%w: health.interval_seconds must be positive", ErrInvalidConfig)
	}
	if c.Listen.SocketPath == "" && c.Listen.TCPAddr == "" {
		return fmt.Errorf("%w: at least one of listen.socket_path or listen.tcp_addr is required", ErrInvalidConfig)
	}
	for backend, limit := range c.Dispatch.TriggersPerSecond {
		if limit < 0 {
			return fmt.Errorf("%w: dispatch.triggers_per_second[%s] must not be negative", ErrInvalidConfig, backend)
		}
	}
	return nil
}

// TickInterval returns the scheduler tick as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickIntervalSeconds) * time.Second
}

// MaxRunningDuration returns the running watchdog limit as a duration.
func (c *Config) MaxRunningDuration() time.Duration {
	return time.Duration(c.Scheduler.MaxRunningDurationSeconds) * time.Second
}

// HealthInterval returns the probe period as a duration.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Health.IntervalSeconds) * time.Second
}

// ProbeTimeout returns the probe timeout as a duration.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Health.ProbeTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown limit as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

func defaultSocketPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/foreman.sock"
	}
	return filepath.Join(home, ".foreman", "foreman.sock")
}
