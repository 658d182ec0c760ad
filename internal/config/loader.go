package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "BEACON",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "BEACON",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (BEACON_*)
// 3. Project config (.beacon.yaml in current directory)
// 4. User config (~/.config/beacon/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".beacon")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "beacon"))
		}
	}

	// Read config file (ignore not found)
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	// Log defaults
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	// Server defaults
	l.v.SetDefault("server.host", "localhost")
	l.v.SetDefault("server.port", 8080)
	l.v.SetDefault("server.enable_cors", true)

	// Storage defaults
	l.v.SetDefault("storage.path", ".beacon/beacon.db")

	// Retention defaults: one-day window, hourly sweep
	l.v.SetDefault("retention.days", 1)
	l.v.SetDefault("retention.sweep_interval", "1h")

	// Sampler defaults
	l.v.SetDefault("sampler.interval", "30s")

	// Alert defaults
	l.v.SetDefault("alerts.sweep_interval", "60s")
	l.v.SetDefault("alerts.default_dismiss_after_hours", 24.0)
	l.v.SetDefault("alerts.rules_path", ".beacon/rules.yaml")

	// Built-in system alert tiers
	l.v.SetDefault("thresholds.cpu_warning", 80.0)
	l.v.SetDefault("thresholds.cpu_critical", 90.0)
	l.v.SetDefault("thresholds.memory_warning", 85.0)
	l.v.SetDefault("thresholds.memory_critical", 95.0)
	l.v.SetDefault("thresholds.disk_warning", 90.0)
	l.v.SetDefault("thresholds.disk_critical", 95.0)

	// Fan-out defaults
	l.v.SetDefault("fanout.interval", "5s")

	// In-memory buffer bounds
	l.v.SetDefault("limits.log_ring_size", 1000)
	l.v.SetDefault("limits.max_active_workflows", 200)
	l.v.SetDefault("limits.max_history", 100)
	l.v.SetDefault("limits.metrics_ring_size", 120)
}
