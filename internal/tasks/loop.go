// Package tasks runs supervised periodic background loops. Every sweep
// and sampler in the process is a Loop, so health checks can report a
// last-run timestamp and status for each instead of trusting bare
// goroutines to stay alive.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Status describes the observable state of one loop.
type Status struct {
	Name     string    `json:"name"`
	LastRun  time.Time `json:"last_run"`
	LastErr  string    `json:"last_error,omitempty"`
	Runs     int64     `json:"runs"`
	Restarts int64     `json:"restarts"`
	Healthy  bool      `json:"healthy"`
}

// Loop invokes fn on a fixed interval until stopped. A panicking fn is
// recovered, counted as a restart, and the loop keeps ticking.
type Loop struct {
	name     string
	interval time.Duration
	fn       func(context.Context) error
	logger   *slog.Logger

	mu       sync.RWMutex
	lastRun  time.Time
	lastErr  string
	runs     atomic.Int64
	restarts atomic.Int64

	stopCh  chan struct{}
	stopped atomic.Bool
}

// NewLoop creates a supervised loop. It does not start ticking until
// Start is called.
func NewLoop(name string, interval time.Duration, fn func(context.Context) error, logger *slog.Logger) *Loop {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic loop. The first run happens after one
// interval; call RunNow for an immediate pass.
func (l *Loop) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			case <-ticker.C:
				l.runOnce(ctx)
			}
		}
	}()
}

// Stop halts the loop. Safe to call more than once.
func (l *Loop) Stop() {
	if l.stopped.CompareAndSwap(false, true) {
		close(l.stopCh)
	}
}

// RunNow executes one pass synchronously, outside the ticker schedule.
func (l *Loop) RunNow(ctx context.Context) error {
	return l.runOnce(ctx)
}

func (l *Loop) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			l.restarts.Add(1)
			l.logger.Error("background loop panicked, restarting",
				"loop", l.name, "panic", fmt.Sprint(r))
			l.record(err)
		}
	}()

	err = l.fn(ctx)
	l.record(err)
	if err != nil {
		l.logger.Warn("background loop run failed", "loop", l.name, "error", err)
	}
	return err
}

func (l *Loop) record(err error) {
	l.runs.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastRun = time.Now()
	if err != nil {
		l.lastErr = err.Error()
	} else {
		l.lastErr = ""
	}
}

// Status returns the loop's observable state. A loop is healthy when its
// last pass succeeded and ran within three intervals.
func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	healthy := l.lastErr == ""
	if !l.lastRun.IsZero() && time.Since(l.lastRun) > 3*l.interval {
		healthy = false
	}
	return Status{
		Name:     l.name,
		LastRun:  l.lastRun,
		LastErr:  l.lastErr,
		Runs:     l.runs.Load(),
		Restarts: l.restarts.Load(),
		Healthy:  healthy,
	}
}
