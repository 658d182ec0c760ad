package metrics

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/beacon/internal/core"
)

// fakeMetricsDB is an in-memory core.MetricsStore.
type fakeMetricsDB struct {
	mu     sync.Mutex
	system []*core.SystemMetricsSample
	module []*core.ModuleMetricsSample
}

func (f *fakeMetricsDB) InsertSystemSample(_ context.Context, s *core.SystemMetricsSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.system = append(f.system, s)
	return nil
}

func (f *fakeMetricsDB) InsertModuleSample(_ context.Context, s *core.ModuleMetricsSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.module = append(f.module, s)
	return nil
}

func (f *fakeMetricsDB) SystemSamplesSince(_ context.Context, since time.Time, limit int) ([]*core.SystemMetricsSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*core.SystemMetricsSample
	for i := len(f.system) - 1; i >= 0 && len(out) < limit; i-- {
		if f.system[i].Timestamp.After(since) {
			out = append(out, f.system[i])
		}
	}
	return out, nil
}

func (f *fakeMetricsDB) ModuleSamplesSince(_ context.Context, module string, since time.Time, limit int) ([]*core.ModuleMetricsSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*core.ModuleMetricsSample
	for i := len(f.module) - 1; i >= 0 && len(out) < limit; i-- {
		s := f.module[i]
		if module != "" && s.Module != module {
			continue
		}
		if s.Timestamp.After(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeMetricsDB) DeleteMetricsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.system[:0]
	var deleted int64
	for _, s := range f.system {
		if s.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, s)
	}
	f.system = kept
	return deleted, nil
}

// stagedSampler replays predefined samples in order.
type stagedSampler struct {
	mu      sync.Mutex
	samples []core.SystemMetricsSample
	idx     int
}

func (s *stagedSampler) Sample() core.SystemMetricsSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample := s.samples[s.idx]
	if s.idx < len(s.samples)-1 {
		s.idx++
	}
	sample.Timestamp = time.Now()
	return sample
}

// recordingSink captures raised threshold alerts.
type recordingSink struct {
	mu     sync.Mutex
	raised []raisedAlert
}

type raisedAlert struct {
	severity core.AlertSeverity
	title    string
}

func (r *recordingSink) RaiseSystemAlert(_ context.Context, severity core.AlertSeverity, title, _ string, _ map[string]any) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raised = append(r.raised, raisedAlert{severity: severity, title: title})
	return "alert-id"
}

func (r *recordingSink) all() []raisedAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]raisedAlert(nil), r.raised...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTrackAggregatesPerModule(t *testing.T) {
	db := &fakeMetricsDB{}
	c := New(db, nil, nil, &stagedSampler{samples: []core.SystemMetricsSample{{}}}, testLogger(), DefaultConfig())
	ctx := context.Background()

	c.Track(ctx, "ingest", "parse", 100, WithMemoryMB(10), WithCPUPercent(5))
	c.Track(ctx, "ingest", "parse", 300, WithMemoryMB(10), WithCPUPercent(5))
	c.Track(ctx, "ingest", "load", 200, WithStatus("failure"), WithMemoryMB(10), WithCPUPercent(5))
	c.Track(ctx, "output", "render", 50, WithMemoryMB(10), WithCPUPercent(5))

	sum := c.Summary()
	ingest, ok := sum.Modules["ingest"]
	require.True(t, ok)
	assert.Equal(t, int64(3), ingest.Operations)
	assert.Equal(t, int64(2), ingest.Success)
	assert.Equal(t, int64(1), ingest.Failure)
	assert.InDelta(t, 200.0, ingest.AvgDurationMS, 0.01)

	output := sum.Modules["output"]
	assert.Equal(t, int64(1), output.Operations)

	// Samples were persisted with the supplied usage values.
	samples, err := c.ModuleMetrics(ctx, "ingest", 1, 100)
	require.NoError(t, err)
	assert.Len(t, samples, 3)
}

func TestTrackStatusVocabulary(t *testing.T) {
	db := &fakeMetricsDB{}
	c := New(db, nil, nil, &stagedSampler{samples: []core.SystemMetricsSample{{}}}, testLogger(), DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		c.Track(ctx, "ocr", "extract", 150, WithStatus("completed"), WithMemoryMB(10), WithCPUPercent(5))
	}
	for i := 0; i < 2; i++ {
		c.Track(ctx, "ocr", "extract", 150, WithStatus("failed"), WithMemoryMB(10), WithCPUPercent(5))
	}

	ocr := c.Summary().Modules["ocr"]
	assert.Equal(t, int64(12), ocr.Operations)
	assert.Equal(t, int64(10), ocr.Success)
	assert.Equal(t, int64(2), ocr.Failure)
}

func TestTrackDefaultsToCompleted(t *testing.T) {
	db := &fakeMetricsDB{}
	c := New(db, nil, nil, &stagedSampler{samples: []core.SystemMetricsSample{{}}}, testLogger(), DefaultConfig())
	ctx := context.Background()

	c.Track(ctx, "ingest", "parse", 100, WithMemoryMB(10), WithCPUPercent(5))

	ingest := c.Summary().Modules["ingest"]
	assert.Equal(t, int64(1), ingest.Success)
	assert.Zero(t, ingest.Failure)

	db.mu.Lock()
	status := db.module[0].Status
	db.mu.Unlock()
	assert.Equal(t, "completed", status)
}

func TestSampleSystemPersistsAndRings(t *testing.T) {
	db := &fakeMetricsDB{}
	sampler := &stagedSampler{samples: []core.SystemMetricsSample{
		{CPUPercent: 10, MemPercent: 20, DiskPercent: 30},
		{CPUPercent: 30, MemPercent: 40, DiskPercent: 50},
	}}
	c := New(db, nil, nil, sampler, testLogger(), DefaultConfig())
	ctx := context.Background()

	c.SampleSystem(ctx)
	c.SampleSystem(ctx)

	sum := c.Summary()
	require.NotNil(t, sum.Current)
	assert.InDelta(t, 30.0, sum.Current.CPUPercent, 0.01)
	assert.InDelta(t, 20.0, sum.AvgCPU, 0.01)
	assert.InDelta(t, 30.0, sum.AvgMem, 0.01)

	persisted, err := c.SystemMetrics(ctx, 1, 100)
	require.NoError(t, err)
	assert.Len(t, persisted, 2)
}

func TestThresholdTiers(t *testing.T) {
	sampler := &stagedSampler{samples: []core.SystemMetricsSample{
		{CPUPercent: 50},  // below warning
		{CPUPercent: 85},  // warning
		{CPUPercent: 86},  // still warning, no re-raise
		{CPUPercent: 95},  // critical
		{CPUPercent: 50},  // recovered
		{CPUPercent: 85},  // warning again after recovery
	}}
	sink := &recordingSink{}
	c := New(&fakeMetricsDB{}, nil, sink, sampler, testLogger(), DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		c.SampleSystem(ctx)
	}

	raised := sink.all()
	require.Len(t, raised, 3)
	assert.Equal(t, core.SeverityWarning, raised[0].severity)
	assert.Equal(t, core.SeverityCritical, raised[1].severity)
	assert.Equal(t, core.SeverityWarning, raised[2].severity)
	assert.Contains(t, raised[0].title, "cpu")

	sum := c.Summary()
	assert.Equal(t, int64(3), sum.Alerts.Raised)
	assert.Equal(t, core.SeverityWarning, sum.Alerts.ByResource["cpu"])
}

func TestThresholdNoDowngradeAlert(t *testing.T) {
	sampler := &stagedSampler{samples: []core.SystemMetricsSample{
		{MemPercent: 96}, // critical immediately
		{MemPercent: 90}, // drops to warning range: no new alert
	}}
	sink := &recordingSink{}
	c := New(&fakeMetricsDB{}, nil, sink, sampler, testLogger(), DefaultConfig())
	ctx := context.Background()

	c.SampleSystem(ctx)
	c.SampleSystem(ctx)

	raised := sink.all()
	require.Len(t, raised, 1)
	assert.Equal(t, core.SeverityCritical, raised[0].severity)
}

func TestCleanupPurgesOldSamples(t *testing.T) {
	db := &fakeMetricsDB{}
	c := New(db, nil, nil, &stagedSampler{samples: []core.SystemMetricsSample{{}}}, testLogger(), DefaultConfig())
	ctx := context.Background()

	old := &core.SystemMetricsSample{Timestamp: time.Now().Add(-48 * time.Hour)}
	require.NoError(t, db.InsertSystemSample(ctx, old))
	c.SampleSystem(ctx)

	require.NoError(t, c.Cleanup(ctx))

	db.mu.Lock()
	remaining := len(db.system)
	db.mu.Unlock()
	assert.Equal(t, 1, remaining)
}

func TestSystemSamplerProducesSample(t *testing.T) {
	s := NewSystemSampler("/")

	first := s.Sample()
	assert.False(t, first.Timestamp.IsZero())
	assert.Zero(t, first.CPUPercent, "first sample has no CPU delta")

	second := s.Sample()
	assert.GreaterOrEqual(t, second.MemPercent, 0.0)
	assert.GreaterOrEqual(t, second.CPUPercent, 0.0)
}
