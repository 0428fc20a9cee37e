// ABOUTME: Scheduler collaborator for cron-style and one-shot behavior jobs
// ABOUTME: Cron wraps robfig/cron/v3; every job gets a cancellable context and handle

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Job is a unit of scheduled work. ctx is cancelled when the handle is cancelled.
type Job func(ctx context.Context)

// Handle cancels a scheduled or one-shot job. Cancel is idempotent.
type Handle interface {
	Cancel()
}

// Scheduler runs jobs on a cron expression or once, immediately.
type Scheduler interface {
	Schedule(spec string, job Job) (Handle, error)
	RunOnce(job Job) Handle
}

// Parser accepts standard five-field expressions plus descriptors like @hourly.
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Cron is the production Scheduler backed by a single robfig cron runner.
type Cron struct {
	cron   *cron.Cron
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewCron creates and starts a cron runner. Call Close to stop it.
func NewCron(logger *slog.Logger) *Cron {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger: logger}

	base, cancel := context.WithCancel(context.Background())
	c := &Cron{
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		base:   base,
		cancel: cancel,
		logger: logger,
	}
	c.cron.Start()
	return c
}

// cronHandle removes a cron entry and cancels its context.
type cronHandle struct {
	once   sync.Once
	cancel context.CancelFunc
	remove func()
}

func (h *cronHandle) Cancel() {
	h.once.Do(func() {
		h.cancel()
		if h.remove != nil {
			h.remove()
		}
	})
}

// Schedule registers job on spec. The job never runs after its handle is cancelled.
func (c *Cron) Schedule(spec string, job Job) (Handle, error) {
	ctx, cancel := context.WithCancel(c.base)
	id, err := c.cron.AddFunc(spec, func() {
		if ctx.Err() != nil {
			return
		}
		job(ctx)
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("parsing schedule %q: %w", spec, err)
	}

	c.logger.Debug("job scheduled", "spec", spec, "entry_id", id)
	return &cronHandle{
		cancel: cancel,
		remove: func() { c.cron.Remove(id) },
	}, nil
}

// RunOnce starts job in its own goroutine immediately.
func (c *Cron) RunOnce(job Job) Handle {
	ctx, cancel := context.WithCancel(c.base)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("one-shot job panicked", "panic", r)
			}
		}()
		job(ctx)
	}()
	return &cronHandle{cancel: cancel}
}

// Close cancels every job context, stops the cron runner and waits for running jobs.
func (c *Cron) Close() {
	c.cancel()
	<-c.cron.Stop().Done()
	c.wg.Wait()
	c.logger.Debug("scheduler stopped")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
