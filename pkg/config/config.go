// Package config provides configuration management for the FlowCon trial
// controller. Supports TOML configuration files with environment variable
// overrides.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingValue  = errors.New("missing required configuration value")
)

// Config holds all FlowCon trial configuration.
type Config struct {
	// Trial identifies the experiment and the control-loop cadence.
	Trial TrialConfig `toml:"trial"`

	// Docker configures the container runtime client.
	Docker DockerConfig `toml:"docker"`

	// Logging configures the structured logger.
	Logging LoggingConfig `toml:"logging"`

	// Metrics configures the Prometheus exposition endpoint.
	Metrics MetricsConfig `toml:"metrics"`
}

// TrialConfig holds Algorithm 1 parameters and lifecycle flags.
type TrialConfig struct {
	// Name is the experiment name; used to namespace all persisted outputs.
	Name string `toml:"name" env:"FLOWCON_EXPERIMENT_NAME"`

	// Alpha is the growth-efficiency classification threshold.
	Alpha float64 `toml:"alpha" env:"FLOWCON_ALPHA"`

	// IntervalSeconds is the base control-loop interval.
	IntervalSeconds int `toml:"interval_seconds" env:"FLOWCON_INTERVAL"`

	// StatsIntervalSeconds is the Stats Sampler polling interval.
	StatsIntervalSeconds int `toml:"stats_interval_seconds" env:"FLOWCON_STATS_INTERVAL"`

	// ListenerIntervalSeconds is the Liveness Listener's polling interval
	// during backoff.
	ListenerIntervalSeconds int `toml:"listener_interval_seconds" env:"FLOWCON_LISTENER_INTERVAL"`

	// CoreCount overrides the detected CPU core count (0 = autodetect).
	CoreCount int `toml:"core_count" env:"FLOWCON_CORE_COUNT"`

	// NoAlgo disables running the control algorithm entirely (reconcile only).
	NoAlgo bool `toml:"no_algo" env:"FLOWCON_NO_ALGO"`

	// NoUpdate runs classification but never writes CPU limits through to
	// the runtime.
	NoUpdate bool `toml:"no_update" env:"FLOWCON_NO_UPDATE"`
}

// DockerConfig holds container runtime client configuration.
type DockerConfig struct {
	// Host is the Docker daemon address (empty = unix:///var/run/docker.sock).
	Host string `toml:"host" env:"FLOWCON_DOCKER_HOST"`

	// APIVersion pins the Docker API version negotiated with the daemon.
	APIVersion string `toml:"api_version" env:"FLOWCON_DOCKER_API_VERSION"`

	// CallTimeout bounds each individual runtime call.
	CallTimeoutSeconds int `toml:"call_timeout_seconds" env:"FLOWCON_DOCKER_CALL_TIMEOUT"`

	// RateLimitPerSecond caps outbound runtime calls per second.
	RateLimitPerSecond float64 `toml:"rate_limit_per_second" env:"FLOWCON_DOCKER_RATE_LIMIT"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `toml:"level" env:"FLOWCON_LOG_LEVEL"`
	Format string `toml:"format" env:"FLOWCON_LOG_FORMAT"`
	Output string `toml:"output" env:"FLOWCON_LOG_OUTPUT"`
}

// MetricsConfig holds Prometheus exposition configuration.
type MetricsConfig struct {
	Enabled    bool   `toml:"enabled" env:"FLOWCON_METRICS_ENABLED"`
	ListenAddr string `toml:"listen_addr" env:"FLOWCON_METRICS_ADDR"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Trial: TrialConfig{
			Alpha:                   0.05,
			IntervalSeconds:         30,
			StatsIntervalSeconds:    10,
			ListenerIntervalSeconds: 10,
			CoreCount:               0,
		},
		Docker: DockerConfig{
			Host:               "",
			APIVersion:         "1.45",
			CallTimeoutSeconds: 15,
			RateLimitPerSecond: 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "FlowCon.log",
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: ":9090",
		},
	}
}

// ConfigPaths returns the default configuration file locations to search.
func ConfigPaths() []string {
	return []string{
		"./flowcon.toml",
		"/etc/flowcon/flowcon.toml",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Trial.Name == "" {
		return fmt.Errorf("%w: trial.name is required", ErrInvalidConfig)
	}
	if c.Trial.Alpha <= 0 {
		return fmt.Errorf("%w: trial.alpha must be positive", ErrInvalidConfig)
	}
	if c.Trial.IntervalSeconds <= 0 {
		return fmt.Errorf("%w: trial.interval_seconds must be positive", ErrInvalidConfig)
	}
	if c.Trial.StatsIntervalSeconds <= 0 {
		return fmt.Errorf("%w: trial.stats_interval_seconds must be positive", ErrInvalidConfig)
	}
	if c.Trial.ListenerIntervalSeconds <= 0 {
		return fmt.Errorf("%w: trial.listener_interval_seconds must be positive", ErrInvalidConfig)
	}
	if c.Trial.CoreCount < 0 {
		return fmt.Errorf("%w: trial.core_count cannot be negative", ErrInvalidConfig)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("%w: logging.level must be one of: debug, info, warn, error", ErrInvalidConfig)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("%w: logging.format must be one of: json, text", ErrInvalidConfig)
	}

	if c.Docker.RateLimitPerSecond <= 0 {
		return fmt.Errorf("%w: docker.rate_limit_per_second must be positive", ErrInvalidConfig)
	}
	if c.Docker.CallTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: docker.call_timeout_seconds must be positive", ErrInvalidConfig)
	}

	return nil
}

// ResolvedCoreCount returns the configured core count, or the detected
// number of CPUs when CoreCount is unset.
func (c *Config) ResolvedCoreCount() int {
	if c.Trial.CoreCount > 0 {
		return c.Trial.CoreCount
	}
	return runtime.NumCPU()
}

// Interval returns the base control-loop interval as a Duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Trial.IntervalSeconds) * time.Second
}

// StatsInterval returns the Stats Sampler polling interval as a Duration.
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.Trial.StatsIntervalSeconds) * time.Second
}

// ListenerInterval returns the Liveness Listener polling interval as a Duration.
func (c *Config) ListenerInterval() time.Duration {
	return time.Duration(c.Trial.ListenerIntervalSeconds) * time.Second
}

// CallTimeout returns the per-call runtime timeout as a Duration.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Docker.CallTimeoutSeconds) * time.Second
}
