package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunNow(t *testing.T) {
	runs := 0
	loop := NewLoop("test", time.Hour, func(context.Context) error {
		runs++
		return nil
	}, nil)

	require.NoError(t, loop.RunNow(context.Background()))
	require.NoError(t, loop.RunNow(context.Background()))

	st := loop.Status()
	assert.Equal(t, 2, runs)
	assert.Equal(t, int64(2), st.Runs)
	assert.True(t, st.Healthy)
	assert.Empty(t, st.LastErr)
}

func TestLoopRecordsError(t *testing.T) {
	loop := NewLoop("failing", time.Hour, func(context.Context) error {
		return errors.New("probe failed")
	}, nil)

	err := loop.RunNow(context.Background())
	assert.Error(t, err)

	st := loop.Status()
	assert.Equal(t, "probe failed", st.LastErr)
	assert.False(t, st.Healthy)
}

func TestLoopRecoversFromPanic(t *testing.T) {
	calls := 0
	loop := NewLoop("panicky", time.Hour, func(context.Context) error {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return nil
	}, nil)

	err := loop.RunNow(context.Background())
	assert.Error(t, err, "panic surfaces as an error")

	st := loop.Status()
	assert.Equal(t, int64(1), st.Restarts)

	// The loop keeps working after a panic.
	require.NoError(t, loop.RunNow(context.Background()))
	assert.True(t, loop.Status().Healthy)
}

func TestLoopTicksUntilStopped(t *testing.T) {
	done := make(chan struct{})
	ticks := 0
	loop := NewLoop("ticker", 10*time.Millisecond, func(context.Context) error {
		ticks++
		if ticks == 3 {
			close(done)
		}
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop.Start(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not tick")
	}
	loop.Stop()
	loop.Stop() // idempotent
}

func TestLoopStatusStaleWithoutRuns(t *testing.T) {
	loop := NewLoop("idle", time.Hour, func(context.Context) error { return nil }, nil)

	st := loop.Status()
	assert.True(t, st.Healthy, "a loop that has not run yet is not unhealthy")
	assert.True(t, st.LastRun.IsZero())
}
