// ABOUTME: Deterministic Scheduler for tests; jobs run only when the test fires them
// ABOUTME: Records every registration so tests can assert on cancellation

package scheduler

import (
	"context"
	"fmt"
	"sync"
)

// Entry is one job registered with a Manual scheduler.
type Entry struct {
	Spec string // empty for RunOnce jobs
	Once bool

	job    Job
	ctx    context.Context
	cancel context.CancelFunc
	ran    bool
}

// Cancel implements Handle.
func (e *Entry) Cancel() { e.cancel() }

// Cancelled reports whether the handle was cancelled.
func (e *Entry) Cancelled() bool { return e.ctx.Err() != nil }

// Manual is a Scheduler whose jobs run synchronously on RunPending and Tick.
type Manual struct {
	mu      sync.Mutex
	entries []*Entry
}

// NewManual returns an empty Manual scheduler.
func NewManual() *Manual {
	return &Manual{}
}

// Schedule records a cron job after validating spec with the production parser.
func (m *Manual) Schedule(spec string, job Job) (Handle, error) {
	if _, err := Parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", spec, err)
	}
	return m.add(&Entry{Spec: spec, job: job}), nil
}

// RunOnce records a one-shot job. It runs on the next RunPending.
func (m *Manual) RunOnce(job Job) Handle {
	return m.add(&Entry{Once: true, job: job})
}

func (m *Manual) add(e *Entry) *Entry {
	e.ctx, e.cancel = context.WithCancel(context.Background())
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return e
}

// RunPending runs every one-shot job that has not run and was not cancelled.
// It returns how many jobs ran.
func (m *Manual) RunPending() int {
	m.mu.Lock()
	var due []*Entry
	for _, e := range m.entries {
		if e.Once && !e.ran && !e.Cancelled() {
			e.ran = true
			due = append(due, e)
		}
	}
	m.mu.Unlock()

	for _, e := range due {
		e.job(e.ctx)
	}
	return len(due)
}

// Tick fires every live cron job once, as if its schedule matched.
// It returns how many jobs ran.
func (m *Manual) Tick() int {
	m.mu.Lock()
	var due []*Entry
	for _, e := range m.entries {
		if !e.Once && !e.Cancelled() {
			due = append(due, e)
		}
	}
	m.mu.Unlock()

	for _, e := range due {
		e.job(e.ctx)
	}
	return len(due)
}

// Entries returns every registration in order.
func (m *Manual) Entries() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Entry(nil), m.entries...)
}

// Live returns how many registrations have not been cancelled.
func (m *Manual) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if !e.Cancelled() {
			n++
		}
	}
	return n
}
