package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"clubhouse/internal/types"
)

// DefaultRetryDelay is the fixed pause before a failed run is re-entered.
const DefaultRetryDelay = 30 * time.Second

// Body is the unit of work executed under the run guard.
type Body func(ctx context.Context) (Result, error)

// RunRecorder receives every completed (or skipped) run. Implementations must
// not block; the CloudWatch recorder hands the work to a bounded spawner.
type RunRecorder interface {
	RecordRun(ctx context.Context, res Result, err error)
}

// jobState is the mutable registry entry for one job name. IsRunning is only
// ever flipped by Execute.
type jobState struct {
	name                JobName
	running             bool
	lastRun             *time.Time
	consecutiveFailures int
	lastDuration        time.Duration
	lastError           string
	totalRuns           int
}

// Registry tracks per-job run state and wraps every execution with the run
// guard, timing, logging and bounded retry.
type Registry struct {
	mu      sync.Mutex
	jobs    map[JobName]*jobState
	retries map[uint64]*time.Timer
	nextID  uint64
	closed  bool

	baseCtx    context.Context
	retryDelay time.Duration
	jobTimeout time.Duration
	now        func() time.Time
	recorder   RunRecorder
	logger     *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRetryDelay overrides DefaultRetryDelay.
func WithRetryDelay(d time.Duration) RegistryOption {
	return func(r *Registry) { r.retryDelay = d }
}

// WithJobTimeout bounds every run Execute starts, whether it came from a
// trigger, a retry or a manual request. Zero disables the bound.
func WithJobTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.jobTimeout = d }
}

// WithRegistryClock injects the clock used for LastRun and durations.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithRunRecorder attaches a recorder that observes every run outcome.
func WithRunRecorder(rec RunRecorder) RegistryOption {
	return func(r *Registry) { r.recorder = rec }
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		jobs:       make(map[JobName]*jobState),
		retries:    make(map[uint64]*time.Timer),
		baseCtx:    context.Background(),
		retryDelay: DefaultRetryDelay,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates the entry for name. Registering an existing name is a
// no-op so its counters survive.
func (r *Registry) Register(name JobName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[name]; ok {
		return
	}
	r.jobs[name] = &jobState{name: name}
	r.closed = false
}

// Execute runs body under the run guard for name.
//
// An unknown name returns a configuration error. A name whose previous run is
// still active returns a Skipped result and nil error. A failed run increments
// the consecutive failure count and, while that count stays below maxRetries,
// schedules one re-entry of Execute after the retry delay. The returned error
// is the body's failure wrapped as a transient job error.
func (r *Registry) Execute(ctx context.Context, name JobName, body Body, maxRetries int) (Result, error) {
	r.mu.Lock()
	st, ok := r.jobs[name]
	if !ok {
		r.mu.Unlock()
		return Result{Job: name}, types.NewAppErrorWithDetails(
			types.ErrCodeConfigJobNotRegistered,
			fmt.Sprintf("job %q is not registered", name),
			nil,
			map[string]any{"job": string(name)},
		)
	}
	if st.running {
		r.mu.Unlock()
		res := Result{Job: name, Skipped: true}
		r.logger.InfoContext(ctx, "job already running, skipping", "job", name)
		r.record(ctx, res, nil)
		return res, nil
	}
	st.running = true
	r.mu.Unlock()

	runID := uuid.NewString()
	start := r.now()
	r.logger.InfoContext(ctx, "job run started", "job", name, "run_id", runID)

	runCtx := ctx
	if r.jobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.jobTimeout)
		defer cancel()
	}
	res, err := r.invoke(runCtx, body)
	res.RunID = runID
	res.Job = name
	res.Duration = r.now().Sub(start)
	if err != nil && !types.IsCode(err, types.ErrCodeJobPanicked) {
		err = types.NewAppError(types.ErrCodeJobTransientFailure, fmt.Sprintf("job %s failed", name), err)
	}

	willRetry := r.complete(st, res, err, maxRetries)
	if willRetry {
		r.scheduleRetry(name, body, maxRetries)
	}

	attrs := []any{
		"job", name,
		"run_id", runID,
		"duration_ms", res.Duration.Milliseconds(),
		"processed", res.TotalProcessed,
		"successful", res.Successful,
		"error_count", len(res.Errors),
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "job run failed",
			append(attrs, "error", err, "will_retry", willRetry)...)
	} else {
		r.logger.InfoContext(ctx, "job run complete", attrs...)
	}
	r.record(ctx, res, err)

	return res, err
}

// invoke calls body and converts a panic into a job error so the run guard is
// always released.
func (r *Registry) invoke(ctx context.Context, body Body) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = types.NewAppError(types.ErrCodeJobPanicked, fmt.Sprintf("job panicked: %v", p), nil)
		}
	}()
	return body(ctx)
}

// complete releases the run guard and updates counters in one critical
// section. It reports whether a retry should be scheduled.
func (r *Registry) complete(st *jobState, res Result, err error, maxRetries int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st.running = false
	st.totalRuns++
	st.lastDuration = res.Duration

	if err == nil {
		t := r.now()
		st.lastRun = &t
		st.consecutiveFailures = 0
		st.lastError = ""
		return false
	}

	st.consecutiveFailures++
	st.lastError = err.Error()
	return st.consecutiveFailures < maxRetries && !r.closed
}

func (r *Registry) scheduleRetry(name JobName, body Body, maxRetries int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	id := r.nextID
	r.nextID++
	// The callback takes the lock first, so it cannot observe the map before
	// the timer is stored.
	r.retries[id] = time.AfterFunc(r.retryDelay, func() {
		r.mu.Lock()
		delete(r.retries, id)
		closed := r.closed
		ctx := r.baseCtx
		r.mu.Unlock()
		if closed {
			return
		}
		_, _ = r.Execute(ctx, name, body, maxRetries)
	})
	r.logger.Info("job retry scheduled", "job", name, "delay", r.retryDelay.String())
}

func (r *Registry) record(ctx context.Context, res Result, err error) {
	if r.recorder == nil {
		return
	}
	r.recorder.RecordRun(ctx, res, err)
}

// Status returns a snapshot of one job.
func (r *Registry) Status(name JobName) (JobStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.jobs[name]
	if !ok {
		return JobStatus{}, false
	}
	return st.snapshot(), true
}

// Statuses returns snapshots of every registered job, sorted by name.
func (r *Registry) Statuses() []JobStatus {
	r.mu.Lock()
	out := make([]JobStatus, 0, len(r.jobs))
	for _, st := range r.jobs {
		out = append(out, st.snapshot())
	}
	r.mu.Unlock()
	sortStatuses(out)
	return out
}

// PendingRetries returns the number of retry timers that have not fired.
func (r *Registry) PendingRetries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.retries)
}

// Shutdown stops pending retries and drops every entry. Runs still in flight
// finish normally but cannot schedule new retries.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for id, t := range r.retries {
		t.Stop()
		delete(r.retries, id)
	}
	r.jobs = make(map[JobName]*jobState)
}

func (s *jobState) snapshot() JobStatus {
	out := JobStatus{
		Name:                s.name,
		IsRunning:           s.running,
		ConsecutiveFailures: s.consecutiveFailures,
		LastDuration:        s.lastDuration,
		LastError:           s.lastError,
		TotalRuns:           s.totalRuns,
	}
	if s.lastRun != nil {
		t := *s.lastRun
		out.LastRun = &t
	}
	return out
}

// SetBaseContext sets the context used by retries scheduled from now on.
// Retries fire after the triggering call has returned, so they cannot reuse
// its context.
func (r *Registry) SetBaseContext(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baseCtx = ctx
}
