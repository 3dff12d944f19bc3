package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"clubhouse/internal/types"
)

func newTestEngine(t *testing.T, cfg Config) (*Engine, *mockStatusStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	now := clock.Now()
	status := &mockStatusStore{events: map[string]*statusEvent{
		"open-day": {types.EventStatusUpcoming, now.Add(-time.Minute), now.Add(time.Hour)},
	}}
	e, err := NewEngine(cfg, Deps{
		CleanupStore:    &mockCleanupStore{},
		PublishingStore: &mockPublishingStore{},
		StatusStore:     status,
		ReminderStore:   &mockReminderStore{},
		Dispatcher:      &mockDispatcher{},
		Now:             clock.Now,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, status, clock
}

func TestEngine_ExecuteJobManually(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{})

	res, err := e.ExecuteJobManually(context.Background(), JobEventStatus)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Counts["ongoing"] != 1 {
		t.Errorf("expected 1 ongoing transition, got %v", res.Counts)
	}

	res, err = e.ExecuteJobManually(context.Background(), JobEventStatus)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Counts["ongoing"] != 0 || res.Counts["completed"] != 0 {
		t.Errorf("expected idempotent rerun, got %v", res.Counts)
	}
}

func TestEngine_ExecuteJobManually_UnknownJob(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{})

	_, err := e.ExecuteJobManually(context.Background(), "reindex")
	if !types.IsCode(err, types.ErrCodeConfigJobNotRegistered) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestEngine_ExecuteJobManually_HasDeadline(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{JobTimeout: time.Minute})

	var deadline time.Time
	var hasDeadline bool
	e.bodies[JobCacheSweep] = func(ctx context.Context) (Result, error) {
		deadline, hasDeadline = ctx.Deadline()
		return Result{}, nil
	}

	if _, err := e.ExecuteJobManually(context.Background(), JobCacheSweep); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasDeadline {
		t.Fatal("expected manual run to carry the job timeout")
	}
	if left := time.Until(deadline); left <= 0 || left > time.Minute {
		t.Errorf("expected deadline within 1m, got %s", left)
	}
}

func TestEngine_ExecuteJobManually_FailureCountsTowardRetries(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{MaxRetries: 3})
	e.bodies[JobCacheSweep] = func(context.Context) (Result, error) {
		return Result{}, errors.New("boom")
	}

	if _, err := e.ExecuteJobManually(context.Background(), JobCacheSweep); err == nil {
		t.Fatal("expected manual run to fail")
	}
	if n := e.registry.PendingRetries(); n != 0 {
		t.Errorf("expected no retries for a manual run, got %d", n)
	}
	for _, st := range e.GetJobStatuses().Jobs {
		if st.Name == JobCacheSweep && st.ConsecutiveFailures != 1 {
			t.Errorf("expected 1 consecutive failure, got %d", st.ConsecutiveFailures)
		}
	}
}

func TestEngine_GetJobStatuses(t *testing.T) {
	e, _, clock := newTestEngine(t, Config{})
	e.Cache().Add(ReminderKey("e1", 60), time.Hour)
	clock.Advance(90 * time.Second)

	_, _ = e.ExecuteJobManually(context.Background(), JobCacheSweep)
	report := e.GetJobStatuses()

	if len(report.Jobs) != len(AllJobs) {
		t.Fatalf("expected %d jobs, got %d", len(AllJobs), len(report.Jobs))
	}
	if report.CacheSize != 1 {
		t.Errorf("expected cache size 1, got %d", report.CacheSize)
	}
	if report.Uptime != 90*time.Second {
		t.Errorf("expected uptime 90s, got %s", report.Uptime)
	}
	for _, st := range report.Jobs {
		if st.Name == JobCacheSweep && st.LastRun == nil {
			t.Error("expected cache sweep LastRun to be set")
		}
		if st.NextRun != nil {
			t.Errorf("%s: expected no next run before initialization", st.Name)
		}
	}
}

func TestEngine_Lifecycle(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{})
	ctx := context.Background()

	if err := e.InitializeJobs(ctx); err != nil {
		t.Fatalf("InitializeJobs: %v", err)
	}
	if err := e.InitializeJobs(ctx); err != nil {
		t.Fatalf("second InitializeJobs must be a no-op: %v", err)
	}

	report := e.GetJobStatuses()
	for _, st := range report.Jobs {
		if st.NextRun == nil {
			t.Errorf("%s: expected next run once triggers are started", st.Name)
		}
	}

	e.Cache().Add("k", time.Hour)
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := e.ShutdownJobs(shutdownCtx); err != nil {
		t.Fatalf("ShutdownJobs: %v", err)
	}
	report = e.GetJobStatuses()
	if report.CacheSize != 0 {
		t.Errorf("expected cache cleared, got %d", report.CacheSize)
	}
	if len(report.Jobs) != 0 {
		t.Errorf("expected registry cleared, got %d jobs", len(report.Jobs))
	}

	// Re-initialisation registers the jobs again.
	if err := e.InitializeJobs(ctx); err != nil {
		t.Fatalf("re-InitializeJobs: %v", err)
	}
	if len(e.GetJobStatuses().Jobs) != len(AllJobs) {
		t.Error("expected jobs registered after re-initialisation")
	}
	_ = e.ShutdownJobs(shutdownCtx)
}

func TestEngine_InvalidSchedule(t *testing.T) {
	_, err := NewEngine(Config{CleanupSchedule: "nightly"}, Deps{}, testLogger())
	if !types.IsCode(err, types.ErrCodeConfigInvalidSchedule) {
		t.Fatalf("expected invalid schedule error, got %v", err)
	}
}

func TestConfig_ReminderScheduleFollowsInterval(t *testing.T) {
	cfg := Config{Reminders: ReminderOptions{PollingInterval: 15 * time.Minute}}.withDefaults()
	if got := cfg.ReminderSchedule(); got != "@every 15m0s" {
		t.Errorf("unexpected schedule %q", got)
	}
}
