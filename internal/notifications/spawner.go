package notifications

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultSpawnTimeout bounds each background task.
const DefaultSpawnTimeout = 10 * time.Second

// Spawner runs background tasks with a fixed concurrency ceiling. When the
// ceiling is reached new tasks are dropped rather than queued; drops and
// failures are counted and logged so they stay observable.
type Spawner struct {
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	timeout time.Duration
	logger  *slog.Logger

	dropped atomic.Int64
	failed  atomic.Int64
}

// NewSpawner creates a Spawner allowing limit concurrent tasks.
func NewSpawner(limit int64, timeout time.Duration, logger *slog.Logger) *Spawner {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = 1
	}
	if timeout <= 0 {
		timeout = DefaultSpawnTimeout
	}
	return &Spawner{
		sem:     semaphore.NewWeighted(limit),
		timeout: timeout,
		logger:  logger,
	}
}

// Go starts fn in the background and reports whether it was accepted. fn
// receives a context that keeps ctx's values but not its cancellation, bounded
// by the spawner timeout.
func (s *Spawner) Go(ctx context.Context, name string, fn func(ctx context.Context) error) bool {
	if !s.sem.TryAcquire(1) {
		s.dropped.Add(1)
		s.logger.WarnContext(ctx, "background task dropped, spawner at capacity", "task", name)
		return false
	}

	s.wg.Add(1)
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		defer cancel()

		if err := fn(taskCtx); err != nil {
			s.failed.Add(1)
			s.logger.ErrorContext(taskCtx, "background task failed", "task", name, "error", err)
		}
	}()
	return true
}

// Wait blocks until every accepted task has returned or ctx is done.
func (s *Spawner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns the number of tasks rejected at capacity.
func (s *Spawner) Dropped() int64 { return s.dropped.Load() }

// Failed returns the number of accepted tasks that returned an error.
func (s *Spawner) Failed() int64 { return s.failed.Load() }
