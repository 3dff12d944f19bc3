package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"clubhouse/internal/dedup"
	"clubhouse/internal/types"
)

// Default cadences. The reminder cadence is derived from the reminder
// polling interval so the two can never drift apart.
const (
	DefaultCacheSweepSchedule = "@every 1h"
	DefaultCleanupSchedule    = "0 3 * * *"
	DefaultPublishSchedule    = "@every 5m"
	DefaultStatusSchedule     = "@every 5m"
	DefaultMaxRetries         = 3
	DefaultJobTimeout         = 15 * time.Minute
)

// manualMaxRetries disables automatic retries for operator-invoked runs; the
// caller sees the failure directly.
const manualMaxRetries = 1

// Config holds engine settings. Zero values fall back to defaults.
type Config struct {
	Location           *time.Location
	CacheSweepSchedule string
	CleanupSchedule    string
	PublishSchedule    string
	StatusSchedule     string
	MaxRetries         int
	RetryDelay         time.Duration
	JobTimeout         time.Duration
	PublishBatchSize   int
	Cleanup            CleanupOptions
	Reminders          ReminderOptions
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.CacheSweepSchedule == "" {
		c.CacheSweepSchedule = DefaultCacheSweepSchedule
	}
	if c.CleanupSchedule == "" {
		c.CleanupSchedule = DefaultCleanupSchedule
	}
	if c.PublishSchedule == "" {
		c.PublishSchedule = DefaultPublishSchedule
	}
	if c.StatusSchedule == "" {
		c.StatusSchedule = DefaultStatusSchedule
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.JobTimeout < 0 {
		c.JobTimeout = 0
	}
	c.Reminders = c.Reminders.withDefaults()
	return c
}

// ReminderSchedule is the cron descriptor for the reminder trigger.
func (c Config) ReminderSchedule() string {
	return "@every " + c.Reminders.PollingInterval.String()
}

// Deps are the collaborators the jobs run against.
type Deps struct {
	CleanupStore    CleanupStore
	PublishingStore PublishingStore
	StatusStore     StatusStore
	ReminderStore   ReminderStore
	Blobs           BlobDeleter
	Dispatcher      Dispatcher
	Recorder        RunRecorder
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine owns the registry, the dedup cache and the triggers, and exposes the
// lifecycle, monitoring and manual trigger operations.
type Engine struct {
	cfg       Config
	registry  *Registry
	cache     *dedup.Cache
	bodies    map[JobName]Body
	now       func() time.Time
	startedAt time.Time
	logger    *slog.Logger

	mu       sync.Mutex
	triggers *Triggers
}

// NewEngine builds the jobs and registers every job name. Triggers are not
// started until InitializeJobs.
func NewEngine(cfg Config, deps Deps, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	for name, spec := range map[JobName]string{
		JobCacheSweep:       cfg.CacheSweepSchedule,
		JobCleanup:          cfg.CleanupSchedule,
		JobPublishScheduled: cfg.PublishSchedule,
		JobEventStatus:      cfg.StatusSchedule,
		JobEventReminders:   cfg.ReminderSchedule(),
	} {
		if err := ValidateSchedule(spec); err != nil {
			return nil, types.NewAppErrorWithDetails(
				types.ErrCodeConfigInvalidSchedule,
				fmt.Sprintf("invalid schedule for job %s", name),
				err,
				map[string]any{"job": string(name), "schedule": spec},
			)
		}
	}

	regOpts := []RegistryOption{
		WithRetryDelay(cfg.RetryDelay),
		WithJobTimeout(cfg.JobTimeout),
		WithRegistryClock(now),
	}
	if deps.Recorder != nil {
		regOpts = append(regOpts, WithRunRecorder(deps.Recorder))
	}

	e := &Engine{
		cfg:       cfg,
		registry:  NewRegistry(logger, regOpts...),
		cache:     dedup.New(dedup.WithClock(now)),
		now:       now,
		startedAt: now(),
		logger:    logger,
	}

	sweep := NewCacheSweepJob(e.cache, logger)
	cleanup := NewCleanupJob(deps.CleanupStore, deps.Blobs, cfg.Cleanup, logger)
	publishing := NewPublishingJob(deps.PublishingStore, deps.Dispatcher, cfg.PublishBatchSize, logger)
	status := NewStatusJob(deps.StatusStore, logger)
	reminders := NewReminderJob(deps.ReminderStore, deps.Dispatcher, e.cache, cfg.Reminders, logger)

	e.bodies = map[JobName]Body{
		JobCacheSweep: sweep.Run,
		JobCleanup: func(ctx context.Context) (Result, error) {
			return cleanup.Run(ctx, e.now())
		},
		JobPublishScheduled: func(ctx context.Context) (Result, error) {
			return publishing.Run(ctx, e.now())
		},
		JobEventStatus: func(ctx context.Context) (Result, error) {
			return status.Run(ctx, e.now())
		},
		JobEventReminders: func(ctx context.Context) (Result, error) {
			return reminders.Run(ctx, e.now())
		},
	}
	e.registerAll()

	return e, nil
}

func (e *Engine) registerAll() {
	for _, name := range AllJobs {
		e.registry.Register(name)
	}
}

// InitializeJobs registers every job and starts the triggers. ctx is the
// parent of all triggered runs and retries. Calling it twice is a no-op.
func (e *Engine) InitializeJobs(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.triggers != nil {
		return nil
	}

	e.registerAll()
	e.registry.SetBaseContext(ctx)

	tr := NewTriggers(e.registry, e.cfg.Location, e.logger)
	schedules := []struct {
		name JobName
		spec string
	}{
		{JobCacheSweep, e.cfg.CacheSweepSchedule},
		{JobCleanup, e.cfg.CleanupSchedule},
		{JobPublishScheduled, e.cfg.PublishSchedule},
		{JobEventStatus, e.cfg.StatusSchedule},
		{JobEventReminders, e.cfg.ReminderSchedule()},
	}
	for _, s := range schedules {
		err := tr.Add(ctx, Trigger{
			Job:        s.name,
			Schedule:   s.spec,
			Body:       e.bodies[s.name],
			MaxRetries: e.cfg.MaxRetries,
		})
		if err != nil {
			return err
		}
	}
	tr.Start()
	e.triggers = tr

	e.logger.InfoContext(ctx, "background jobs initialized",
		"jobs", len(schedules),
		"max_retries", e.cfg.MaxRetries,
		"retry_delay", e.cfg.RetryDelay.String(),
	)
	return nil
}

// ShutdownJobs stops the triggers, waits for in-flight runs (bounded by ctx),
// cancels pending retries and clears the dedup cache and registry.
func (e *Engine) ShutdownJobs(ctx context.Context) error {
	e.mu.Lock()
	tr := e.triggers
	e.triggers = nil
	e.mu.Unlock()

	var stopErr error
	if tr != nil {
		stopErr = tr.Stop(ctx)
	}
	e.registry.Shutdown()
	e.cache.Clear()

	e.logger.InfoContext(ctx, "background jobs stopped")
	return stopErr
}

// GetJobStatuses returns a snapshot of every job plus cache size and uptime.
func (e *Engine) GetJobStatuses() StatusReport {
	statuses := e.registry.Statuses()

	e.mu.Lock()
	tr := e.triggers
	e.mu.Unlock()
	if tr != nil {
		for i := range statuses {
			statuses[i].NextRun = tr.Next(statuses[i].Name)
		}
	}

	return StatusReport{
		Jobs:      statuses,
		CacheSize: e.cache.Len(),
		Uptime:    e.now().Sub(e.startedAt),
		StartedAt: e.startedAt,
	}
}

// ExecuteJobManually runs name once through the registry, outside its
// trigger. It honours the run guard and the job timeout and does not schedule
// retries. A failed manual run still counts toward the job's consecutive
// failures, so the next triggered run starts with a smaller retry budget.
func (e *Engine) ExecuteJobManually(ctx context.Context, name JobName) (Result, error) {
	body, ok := e.bodies[name]
	if !ok {
		return Result{Job: name}, types.NewAppErrorWithDetails(
			types.ErrCodeConfigJobNotRegistered,
			fmt.Sprintf("job %q is not registered", name),
			nil,
			map[string]any{"job": string(name)},
		)
	}
	e.logger.InfoContext(ctx, "manual job execution requested", "job", name)
	return e.registry.Execute(ctx, name, body, manualMaxRetries)
}

// Cache exposes the reminder dedup cache.
func (e *Engine) Cache() *dedup.Cache {
	return e.cache
}
