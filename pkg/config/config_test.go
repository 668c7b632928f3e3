// Package config provides configuration tests for the FlowCon controller.
package config

import (
	"runtime"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Trial.Alpha != 0.05 {
		t.Errorf("Alpha should default to 0.05, got %f", cfg.Trial.Alpha)
	}
	if cfg.Trial.IntervalSeconds != 30 {
		t.Errorf("IntervalSeconds should default to 30, got %d", cfg.Trial.IntervalSeconds)
	}
	if cfg.Trial.StatsIntervalSeconds != 10 {
		t.Errorf("StatsIntervalSeconds should default to 10, got %d", cfg.Trial.StatsIntervalSeconds)
	}
	if cfg.Trial.CoreCount != 0 {
		t.Error("CoreCount should default to 0 (autodetect)")
	}
	if cfg.Docker.APIVersion != "1.45" {
		t.Errorf("APIVersion should default to 1.45, got %s", cfg.Docker.APIVersion)
	}
	if cfg.Logging.Output != "FlowCon.log" {
		t.Errorf("Logging.Output should default to FlowCon.log, got %s", cfg.Logging.Output)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trial.Name = "exp1"

	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config failed validation: %v", err)
	}

	cfg.Trial.Name = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for empty trial name")
	}

	cfg = DefaultConfig()
	cfg.Trial.Name = "exp1"
	cfg.Trial.Alpha = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for non-positive alpha")
	}

	cfg = DefaultConfig()
	cfg.Trial.Name = "exp1"
	cfg.Logging.Level = "invalid"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for invalid log level")
	}

	cfg = DefaultConfig()
	cfg.Trial.Name = "exp1"
	cfg.Docker.RateLimitPerSecond = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for non-positive rate limit")
	}
}

func TestResolvedCoreCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trial.Name = "exp1"

	if got := cfg.ResolvedCoreCount(); got != runtime.NumCPU() {
		t.Errorf("ResolvedCoreCount() = %d, want %d (autodetect)", got, runtime.NumCPU())
	}

	cfg.Trial.CoreCount = 4
	if got := cfg.ResolvedCoreCount(); got != 4 {
		t.Errorf("ResolvedCoreCount() = %d, want 4 (explicit override)", got)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trial.IntervalSeconds = 15
	cfg.Trial.StatsIntervalSeconds = 5
	cfg.Trial.ListenerIntervalSeconds = 10
	cfg.Docker.CallTimeoutSeconds = 3

	if cfg.Interval() != 15*time.Second {
		t.Errorf("Interval() = %v, want 15s", cfg.Interval())
	}
	if cfg.StatsInterval() != 5*time.Second {
		t.Errorf("StatsInterval() = %v, want 5s", cfg.StatsInterval())
	}
	if cfg.ListenerInterval() != 10*time.Second {
		t.Errorf("ListenerInterval() = %v, want 10s", cfg.ListenerInterval())
	}
	if cfg.CallTimeout() != 3*time.Second {
		t.Errorf("CallTimeout() = %v, want 3s", cfg.CallTimeout())
	}
}
