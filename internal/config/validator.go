package config

import (
	"fmt"
	"time"
)

// Validate checks the configuration for malformed values. It is called
// once at process startup and a failure is fatal; after startup,
// configuration errors (bad rules) are rejected per-call instead.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}

	if c.Retention.Days < 1 {
		return fmt.Errorf("retention.days: must be at least 1, got %d", c.Retention.Days)
	}
	if err := validDuration("retention.sweep_interval", c.Retention.SweepInterval); err != nil {
		return err
	}
	if err := validDuration("sampler.interval", c.Sampler.Interval); err != nil {
		return err
	}
	if err := validDuration("alerts.sweep_interval", c.Alerts.SweepInterval); err != nil {
		return err
	}
	if err := validDuration("fanout.interval", c.Fanout.Interval); err != nil {
		return err
	}

	if c.Alerts.DefaultDismissAfterHours < 0 {
		return fmt.Errorf("alerts.default_dismiss_after_hours: cannot be negative")
	}

	pairs := []struct {
		name              string
		warning, critical float64
	}{
		{"cpu", c.Thresholds.CPUWarning, c.Thresholds.CPUCritical},
		{"memory", c.Thresholds.MemoryWarning, c.Thresholds.MemoryCritical},
		{"disk", c.Thresholds.DiskWarning, c.Thresholds.DiskCritical},
	}
	for _, p := range pairs {
		if p.warning <= 0 || p.warning > 100 || p.critical <= 0 || p.critical > 100 {
			return fmt.Errorf("thresholds.%s: tiers must be within (0, 100]", p.name)
		}
		if p.warning >= p.critical {
			return fmt.Errorf("thresholds.%s: warning tier (%.1f) must be below critical (%.1f)",
				p.name, p.warning, p.critical)
		}
	}

	if c.Limits.LogRingSize < 0 || c.Limits.MaxActiveWorkflows < 0 ||
		c.Limits.MaxHistory < 0 || c.Limits.MetricsRingSize < 0 {
		return fmt.Errorf("limits: buffer sizes cannot be negative")
	}

	return nil
}

func validDuration(key, s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s: must be positive, got %s", key, d)
	}
	return nil
}
