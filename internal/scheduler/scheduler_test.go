// ABOUTME: Tests for the cron-backed and manual schedulers
// ABOUTME: Covers cancellation, one-shot execution and cron expression validation

package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCron_RunOnce(t *testing.T) {
	c := NewCron(nil)
	defer c.Close()

	done := make(chan struct{})
	c.RunOnce(func(ctx context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("one-shot job did not run")
	}
}

func TestCron_RunOnceCancelPropagates(t *testing.T) {
	c := NewCron(nil)
	defer c.Close()

	started := make(chan struct{})
	finished := make(chan error, 1)
	h := c.RunOnce(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		finished <- ctx.Err()
	})

	<-started
	h.Cancel()
	h.Cancel() // idempotent

	select {
	case err := <-finished:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("job context was not cancelled")
	}
}

func TestCron_ScheduleRejectsBadSpec(t *testing.T) {
	c := NewCron(nil)
	defer c.Close()

	_, err := c.Schedule("not a cron", func(context.Context) {})
	assert.Error(t, err)
}

func TestCron_ScheduleAndCancel(t *testing.T) {
	c := NewCron(nil)
	defer c.Close()

	var runs atomic.Int32
	h, err := c.Schedule("@every 1h", func(context.Context) { runs.Add(1) })
	require.NoError(t, err)
	assert.Len(t, c.cron.Entries(), 1)

	h.Cancel()
	assert.Empty(t, c.cron.Entries())
	assert.Zero(t, runs.Load())
}

func TestManual_RunPendingOnlyOnce(t *testing.T) {
	m := NewManual()
	var runs int
	m.RunOnce(func(context.Context) { runs++ })

	assert.Equal(t, 1, m.RunPending())
	assert.Equal(t, 0, m.RunPending())
	assert.Equal(t, 1, runs)
}

func TestManual_CancelledJobsDoNotRun(t *testing.T) {
	m := NewManual()
	var onceRuns, cronRuns int

	h1 := m.RunOnce(func(context.Context) { onceRuns++ })
	h2, err := m.Schedule("*/5 * * * *", func(context.Context) { cronRuns++ })
	require.NoError(t, err)
	assert.Equal(t, 2, m.Live())

	h1.Cancel()
	h2.Cancel()

	assert.Equal(t, 0, m.RunPending())
	assert.Equal(t, 0, m.Tick())
	assert.Zero(t, onceRuns)
	assert.Zero(t, cronRuns)
	assert.Equal(t, 0, m.Live())
}

func TestManual_TickRunsCronJobs(t *testing.T) {
	m := NewManual()
	var runs int
	_, err := m.Schedule("@daily", func(context.Context) { runs++ })
	require.NoError(t, err)

	m.Tick()
	m.Tick()
	assert.Equal(t, 2, runs)

	entries := m.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "@daily", entries[0].Spec)
	assert.False(t, entries[0].Once)
}

func TestManual_ScheduleRejectsBadSpec(t *testing.T) {
	m := NewManual()
	_, err := m.Schedule("61 * * * *", func(context.Context) {})
	assert.Error(t, err)
	assert.Empty(t, m.Entries())
}
