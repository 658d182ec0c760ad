// Package config loads and validates the beacon process configuration.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Sampler    SamplerConfig    `mapstructure:"sampler"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`
	Fanout     FanoutConfig     `mapstructure:"fanout"`
	Limits     LimitsConfig     `mapstructure:"limits"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the dashboard API server.
type ServerConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	EnableCORS bool   `mapstructure:"enable_cors"`
}

// StorageConfig configures the durable store.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// RetentionConfig configures age-based purging. The sweep interval
// applies to the log store sweep; workflows and metrics are purged on
// the same pass.
type RetentionConfig struct {
	Days          int    `mapstructure:"days"`
	SweepInterval string `mapstructure:"sweep_interval"`
}

// SamplerConfig configures the system metrics sampler.
type SamplerConfig struct {
	Interval string `mapstructure:"interval"`
}

// AlertsConfig configures the alert engine.
type AlertsConfig struct {
	SweepInterval            string  `mapstructure:"sweep_interval"`
	DefaultDismissAfterHours float64 `mapstructure:"default_dismiss_after_hours"`
	RulesPath                string  `mapstructure:"rules_path"`
}

// ThresholdsConfig holds the built-in system alert tiers, in percent.
type ThresholdsConfig struct {
	CPUWarning     float64 `mapstructure:"cpu_warning"`
	CPUCritical    float64 `mapstructure:"cpu_critical"`
	MemoryWarning  float64 `mapstructure:"memory_warning"`
	MemoryCritical float64 `mapstructure:"memory_critical"`
	DiskWarning    float64 `mapstructure:"disk_warning"`
	DiskCritical   float64 `mapstructure:"disk_critical"`
}

// FanoutConfig configures the live dashboard snapshot push.
type FanoutConfig struct {
	Interval string `mapstructure:"interval"`
}

// LimitsConfig bounds the in-memory working sets. Full buffers evict
// oldest-first, silently.
type LimitsConfig struct {
	LogRingSize        int `mapstructure:"log_ring_size"`
	MaxActiveWorkflows int `mapstructure:"max_active_workflows"`
	MaxHistory         int `mapstructure:"max_history"`
	MetricsRingSize    int `mapstructure:"metrics_ring_size"`
}

// SweepInterval returns the parsed retention sweep interval.
func (c RetentionConfig) SweepIntervalDuration() time.Duration {
	return mustDuration(c.SweepInterval, time.Hour)
}

// IntervalDuration returns the parsed sampler tick interval.
func (c SamplerConfig) IntervalDuration() time.Duration {
	return mustDuration(c.Interval, 30*time.Second)
}

// SweepIntervalDuration returns the parsed alert sweep interval.
func (c AlertsConfig) SweepIntervalDuration() time.Duration {
	return mustDuration(c.SweepInterval, time.Minute)
}

// IntervalDuration returns the parsed fan-out push interval.
func (c FanoutConfig) IntervalDuration() time.Duration {
	return mustDuration(c.Interval, 5*time.Second)
}

// RetentionWindow returns the retention window as a duration.
func (c RetentionConfig) RetentionWindow() time.Duration {
	return time.Duration(c.Days) * 24 * time.Hour
}

// mustDuration parses s, falling back to def. Validate rejects malformed
// values at startup, so the fallback only covers zero-value configs in
// tests.
func mustDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
