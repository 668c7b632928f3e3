// Package config provides configuration loading for the FlowCon trial
// controller.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Load loads configuration from a file path, applying environment variable
// overrides and validating the result. An empty path searches ConfigPaths().
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		for _, p := range ConfigPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path == "" {
		log.Printf("Warning: no configuration file found in default locations")
		for _, p := range ConfigPaths() {
			log.Printf("  - %s", p)
		}
		log.Printf("Using default configuration; create one with: flowcon init")
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadOrDie loads configuration or exits the process on error.
func LoadOrDie(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLOWCON_EXPERIMENT_NAME"); v != "" {
		cfg.Trial.Name = v
	}
	if v := os.Getenv("FLOWCON_ALPHA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Trial.Alpha = f
		}
	}
	if v := os.Getenv("FLOWCON_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Trial.IntervalSeconds = n
		}
	}
	if v := os.Getenv("FLOWCON_STATS_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Trial.StatsIntervalSeconds = n
		}
	}
	if v := os.Getenv("FLOWCON_LISTENER_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Trial.ListenerIntervalSeconds = n
		}
	}
	if v := os.Getenv("FLOWCON_CORE_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Trial.CoreCount = n
		}
	}
	if v := os.Getenv("FLOWCON_NO_ALGO"); v != "" {
		cfg.Trial.NoAlgo = v == "true" || v == "1"
	}
	if v := os.Getenv("FLOWCON_NO_UPDATE"); v != "" {
		cfg.Trial.NoUpdate = v == "true" || v == "1"
	}

	if v := os.Getenv("FLOWCON_DOCKER_HOST"); v != "" {
		cfg.Docker.Host = v
	}
	if v := os.Getenv("FLOWCON_DOCKER_API_VERSION"); v != "" {
		cfg.Docker.APIVersion = v
	}
	if v := os.Getenv("FLOWCON_DOCKER_CALL_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Docker.CallTimeoutSeconds = n
		}
	}
	if v := os.Getenv("FLOWCON_DOCKER_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Docker.RateLimitPerSecond = f
		}
	}

	if v := os.Getenv("FLOWCON_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FLOWCON_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("FLOWCON_LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}

	if v := os.Getenv("FLOWCON_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("FLOWCON_METRICS_ADDR"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
}

// Save saves the configuration to a file.
func Save(cfg *Config, path string) error {
	if cfg.Trial.Name != "" {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("cannot save invalid configuration: %w", err)
		}
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateExampleConfig writes an example configuration file.
func GenerateExampleConfig(path string) error {
	cfg := DefaultConfig()
	cfg.Trial.Name = "example-trial"
	return Save(cfg, path)
}
