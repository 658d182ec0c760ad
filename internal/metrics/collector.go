package metrics

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sync/singleflight"

	"github.com/hugo-lorenzo-mato/beacon/internal/core"
	"github.com/hugo-lorenzo-mato/beacon/internal/events"
	"github.com/hugo-lorenzo-mato/beacon/internal/tasks"
)

// AlertSink receives threshold breach notifications. The alert engine
// implements it; tests substitute a recorder.
type AlertSink interface {
	RaiseSystemAlert(ctx context.Context, severity core.AlertSeverity, title, message string, metadata map[string]any) string
}

// Thresholds are the built-in resource alert tiers, in percent.
type Thresholds struct {
	CPUWarning   float64
	CPUCritical  float64
	MemWarning   float64
	MemCritical  float64
	DiskWarning  float64
	DiskCritical float64
}

// DefaultThresholds returns the default threshold tiers.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUWarning: 80, CPUCritical: 90,
		MemWarning: 85, MemCritical: 95,
		DiskWarning: 90, DiskCritical: 95,
	}
}

// Config configures the collector.
type Config struct {
	SampleInterval time.Duration
	SweepInterval  time.Duration
	RetentionDays  int
	RingSize       int
	Thresholds     Thresholds
}

// DefaultConfig returns the default collector configuration.
func DefaultConfig() Config {
	return Config{
		SampleInterval: 30 * time.Second,
		SweepInterval:  time.Hour,
		RetentionDays:  1,
		RingSize:       120,
		Thresholds:     DefaultThresholds(),
	}
}

// moduleAgg accumulates per-module operation outcomes since start.
type moduleAgg struct {
	Operations int64
	Success    int64
	Failure    int64
	totalMS    float64
}

// Collector samples system usage on a fixed interval, records
// per-module operation outcomes, and raises built-in threshold alerts.
type Collector struct {
	cfg    Config
	db     core.MetricsStore
	bus    *events.EventBus
	sink   AlertSink
	logger *slog.Logger

	sampler Sampler

	mu           sync.RWMutex
	ring         []core.SystemMetricsSample // newest last, bounded
	modules      map[string]*moduleAgg
	tiers        map[string]core.AlertSeverity // resource -> last raised tier
	alertsRaised int64

	self *process.Process

	sampleLoop *tasks.Loop
	sweepLoop  *tasks.Loop
	sweepGroup singleflight.Group
}

// New creates a metrics collector. sink may be nil, in which case
// threshold breaches are only logged.
func New(db core.MetricsStore, bus *events.EventBus, sink AlertSink, sampler Sampler, logger *slog.Logger, cfg Config) *Collector {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 30 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 1
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = 120
	}
	if sampler == nil {
		sampler = NewSystemSampler("/")
	}
	c := &Collector{
		cfg:     cfg,
		db:      db,
		bus:     bus,
		sink:    sink,
		logger:  logger,
		sampler: sampler,
		ring:    make([]core.SystemMetricsSample, 0, cfg.RingSize),
		modules: make(map[string]*moduleAgg),
		tiers:   make(map[string]core.AlertSeverity),
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		c.self = p
	}
	c.sampleLoop = tasks.NewLoop("metrics_sampler", cfg.SampleInterval, c.sampleOnce, logger)
	c.sweepLoop = tasks.NewLoop("metrics_sweep", cfg.SweepInterval, c.Cleanup, logger)
	return c
}

// Start begins background sampling and the retention sweep.
func (c *Collector) Start(ctx context.Context) {
	c.sampleLoop.Start(ctx)
	c.sweepLoop.Start(ctx)
}

// Stop halts the background loops.
func (c *Collector) Stop() {
	c.sampleLoop.Stop()
	c.sweepLoop.Stop()
}

func (c *Collector) sampleOnce(ctx context.Context) error {
	c.SampleSystem(ctx)
	return nil
}

// SampleSystem takes one system snapshot on demand, persists it, and
// runs the built-in threshold checks.
func (c *Collector) SampleSystem(ctx context.Context) core.SystemMetricsSample {
	sample := c.sampler.Sample()

	if err := c.db.InsertSystemSample(ctx, &sample); err != nil {
		c.logger.Warn("system sample not persisted", "error", err)
	}

	c.mu.Lock()
	c.ring = append(c.ring, sample)
	if len(c.ring) > c.cfg.RingSize {
		c.ring = c.ring[len(c.ring)-c.cfg.RingSize:]
	}
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(events.NewSystemSampleEvent(sample))
	}
	c.checkThresholds(ctx, sample)
	return sample
}

// TrackOption customizes one tracked operation.
type TrackOption func(*core.ModuleMetricsSample)

// WithMemoryMB overrides the measured process memory.
func WithMemoryMB(mb float64) TrackOption {
	return func(s *core.ModuleMetricsSample) { s.MemoryMB = mb }
}

// WithCPUPercent overrides the measured process CPU.
func WithCPUPercent(pct float64) TrackOption {
	return func(s *core.ModuleMetricsSample) { s.CPUPercent = pct }
}

// WithStatus sets the operation outcome. Defaults to "completed".
func WithStatus(status string) TrackOption {
	return func(s *core.ModuleMetricsSample) { s.Status = status }
}

// WithTrackMetadata attaches free-form metadata to the sample.
func WithTrackMetadata(md map[string]any) TrackOption {
	return func(s *core.ModuleMetricsSample) { s.Metadata = md }
}

// Track records one completed operation for module. Memory and CPU
// default to the current process's usage when not supplied. Tracking is
// best-effort and never fails the caller.
func (c *Collector) Track(ctx context.Context, module, operation string, durationMS float64, opts ...TrackOption) {
	sample := core.ModuleMetricsSample{
		Timestamp:  time.Now(),
		Module:     module,
		Operation:  operation,
		DurationMS: durationMS,
		Status:     "completed",
	}
	for _, opt := range opts {
		opt(&sample)
	}
	if sample.MemoryMB == 0 || sample.CPUPercent == 0 {
		c.fillProcessUsage(&sample)
	}

	if err := c.db.InsertModuleSample(ctx, &sample); err != nil {
		c.logger.Warn("module sample not persisted",
			"module", module, "operation", operation, "error", err)
	}

	c.mu.Lock()
	agg, ok := c.modules[module]
	if !ok {
		agg = &moduleAgg{}
		c.modules[module] = agg
	}
	agg.Operations++
	if sample.Status == "completed" {
		agg.Success++
	} else {
		agg.Failure++
	}
	agg.totalMS += durationMS
	c.mu.Unlock()
}

// fillProcessUsage fills zero-valued memory/CPU fields from the current
// process, best-effort.
func (c *Collector) fillProcessUsage(sample *core.ModuleMetricsSample) {
	if c.self == nil {
		return
	}
	if sample.MemoryMB == 0 {
		if mi, err := c.self.MemoryInfo(); err == nil && mi != nil {
			sample.MemoryMB = float64(mi.RSS) / 1024 / 1024
		}
	}
	if sample.CPUPercent == 0 {
		if pct, err := c.self.CPUPercent(); err == nil {
			sample.CPUPercent = pct
		}
	}
}

// SystemMetrics returns persisted system samples from the last N hours,
// newest first.
func (c *Collector) SystemMetrics(ctx context.Context, hours int, limit int) ([]*core.SystemMetricsSample, error) {
	if hours <= 0 {
		hours = 1
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	return c.db.SystemSamplesSince(ctx, since, limit)
}

// ModuleMetrics returns persisted module samples from the last N hours,
// newest first. Empty module matches all modules.
func (c *Collector) ModuleMetrics(ctx context.Context, module string, hours int, limit int) ([]*core.ModuleMetricsSample, error) {
	if hours <= 0 {
		hours = 1
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	return c.db.ModuleSamplesSince(ctx, module, since, limit)
}

// ModuleSummary is the aggregated outcome ledger for one module.
type ModuleSummary struct {
	Operations    int64   `json:"operations"`
	Success       int64   `json:"success"`
	Failure       int64   `json:"failure"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// AlertCounts summarizes built-in threshold alert activity.
type AlertCounts struct {
	Raised     int64                         `json:"raised"`
	ByResource map[string]core.AlertSeverity `json:"by_resource,omitempty"`
}

// Summary is the point-in-time metrics overview for the dashboard.
type Summary struct {
	Current    *core.SystemMetricsSample `json:"current,omitempty"`
	AvgCPU     float64                   `json:"avg_cpu_percent"`
	AvgMem     float64                   `json:"avg_mem_percent"`
	AvgDisk    float64                   `json:"avg_disk_percent"`
	SampleSpan time.Duration             `json:"sample_span"`
	Modules    map[string]ModuleSummary  `json:"modules"`
	Alerts     AlertCounts               `json:"alert_counts"`
}

// Summary aggregates the in-memory sample ring and module ledger.
func (c *Collector) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := Summary{Modules: make(map[string]ModuleSummary, len(c.modules))}

	if n := len(c.ring); n > 0 {
		latest := c.ring[n-1]
		out.Current = &latest
		out.SampleSpan = latest.Timestamp.Sub(c.ring[0].Timestamp)

		var cpuSum, memSum, diskSum float64
		for _, s := range c.ring {
			cpuSum += s.CPUPercent
			memSum += s.MemPercent
			diskSum += s.DiskPercent
		}
		out.AvgCPU = cpuSum / float64(n)
		out.AvgMem = memSum / float64(n)
		out.AvgDisk = diskSum / float64(n)
	}

	for name, agg := range c.modules {
		ms := ModuleSummary{
			Operations: agg.Operations,
			Success:    agg.Success,
			Failure:    agg.Failure,
		}
		if agg.Operations > 0 {
			ms.AvgDurationMS = agg.totalMS / float64(agg.Operations)
		}
		out.Modules[name] = ms
	}

	out.Alerts.Raised = c.alertsRaised
	if len(c.tiers) > 0 {
		out.Alerts.ByResource = make(map[string]core.AlertSeverity, len(c.tiers))
		for resource, tier := range c.tiers {
			out.Alerts.ByResource[resource] = tier
		}
	}
	return out
}

// checkThresholds raises alerts when a resource crosses into a higher
// tier. Re-raising within the same tier is suppressed until the resource
// drops back below the warning threshold.
func (c *Collector) checkThresholds(ctx context.Context, sample core.SystemMetricsSample) {
	t := c.cfg.Thresholds
	c.checkResource(ctx, "cpu", sample.CPUPercent, t.CPUWarning, t.CPUCritical)
	c.checkResource(ctx, "memory", sample.MemPercent, t.MemWarning, t.MemCritical)
	c.checkResource(ctx, "disk", sample.DiskPercent, t.DiskWarning, t.DiskCritical)
}

func (c *Collector) checkResource(ctx context.Context, resource string, value, warning, critical float64) {
	var tier core.AlertSeverity
	switch {
	case critical > 0 && value >= critical:
		tier = core.SeverityCritical
	case warning > 0 && value >= warning:
		tier = core.SeverityWarning
	}

	c.mu.Lock()
	prev := c.tiers[resource]
	if tier == "" {
		delete(c.tiers, resource)
	} else {
		c.tiers[resource] = tier
	}
	escalated := tier != "" && tier != prev &&
		!(prev == core.SeverityCritical && tier == core.SeverityWarning)
	if escalated {
		c.alertsRaised++
	}
	c.mu.Unlock()

	if !escalated {
		return
	}

	title := resource + " usage " + string(tier)
	msg := resource + " usage crossed the " + string(tier) + " threshold"
	c.logger.Warn("resource threshold crossed",
		"resource", resource, "tier", string(tier), "value", value)
	if c.sink != nil {
		c.sink.RaiseSystemAlert(ctx, tier, title, msg, map[string]any{
			"resource": resource,
			"value":    value,
		})
	}
}

// Cleanup deletes persisted samples older than the retention window.
// Single-flight: concurrent callers share one sweep.
func (c *Collector) Cleanup(ctx context.Context) error {
	_, err, _ := c.sweepGroup.Do("sweep", func() (any, error) {
		cutoff := time.Now().Add(-time.Duration(c.cfg.RetentionDays) * 24 * time.Hour)
		deleted, err := c.db.DeleteMetricsBefore(ctx, cutoff)
		if err != nil {
			return nil, err
		}
		if deleted > 0 {
			c.logger.Info("metrics retention sweep", "deleted", deleted)
		}
		return deleted, nil
	})
	return err
}

// Health reports the sampler and sweep loop status.
type Health struct {
	Sampler  tasks.Status `json:"sampler"`
	Sweep    tasks.Status `json:"sweep"`
	Degraded bool         `json:"degraded"`
}

// Health returns the component health for the dashboard.
func (c *Collector) Health() Health {
	sampler := c.sampleLoop.Status()
	sweep := c.sweepLoop.Status()
	return Health{
		Sampler:  sampler,
		Sweep:    sweep,
		Degraded: !sampler.Healthy || !sweep.Healthy,
	}
}
