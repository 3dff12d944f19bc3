package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"clubhouse/internal/types"
)

// Trigger binds a cadence to a job body.
type Trigger struct {
	Job        JobName
	Schedule   string // standard 5-field cron expression or descriptor (@every 5m, @daily)
	Body       Body
	MaxRetries int
}

// Triggers owns the cron instance that fires job bodies through the Registry.
// A trigger never runs a body directly.
type Triggers struct {
	cron     *cron.Cron
	registry *Registry
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[JobName]cron.EntryID
}

// NewTriggers creates a stopped trigger set evaluated in loc (UTC if nil).
func NewTriggers(registry *Registry, loc *time.Location, logger *slog.Logger) *Triggers {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{logger: logger})),
	)
	return &Triggers{
		cron:     c,
		registry: registry,
		logger:   logger,
		entries:  make(map[JobName]cron.EntryID),
	}
}

// Add schedules t. ctx becomes the parent of every triggered run.
func (tr *Triggers) Add(ctx context.Context, t Trigger) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if _, exists := tr.entries[t.Job]; exists {
		return fmt.Errorf("trigger for job %s already added", t.Job)
	}

	id, err := tr.cron.AddFunc(t.Schedule, func() {
		// Failures are logged and retried by the registry, which also
		// applies the job timeout.
		_, _ = tr.registry.Execute(ctx, t.Job, t.Body, t.MaxRetries)
	})
	if err != nil {
		return types.NewAppErrorWithDetails(
			types.ErrCodeConfigInvalidSchedule,
			fmt.Sprintf("invalid schedule for job %s", t.Job),
			err,
			map[string]any{"job": string(t.Job), "schedule": t.Schedule},
		)
	}
	tr.entries[t.Job] = id

	tr.logger.InfoContext(ctx, "trigger added", "job", t.Job, "schedule", t.Schedule)
	return nil
}

// Start begins firing triggers in the background.
func (tr *Triggers) Start() {
	tr.cron.Start()
}

// Stop halts the scheduler and waits until running bodies return or ctx is
// done.
func (tr *Triggers) Stop(ctx context.Context) error {
	done := tr.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}

// Next returns the next fire time for job, or nil if it has no trigger or the
// scheduler is not running.
func (tr *Triggers) Next(job JobName) *time.Time {
	tr.mu.Lock()
	id, ok := tr.entries[job]
	tr.mu.Unlock()
	if !ok {
		return nil
	}
	next := tr.cron.Entry(id).Next
	if next.IsZero() {
		return nil
	}
	return &next
}

// Len returns the number of scheduled triggers.
func (tr *Triggers) Len() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.entries)
}

// ValidateSchedule parses spec with the same parser the trigger set uses.
func ValidateSchedule(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
