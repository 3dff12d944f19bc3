package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// StatusStore defines the set-based updates used by the status transition
// job. Both return the number of rows changed.
type StatusStore interface {
	// MarkEventsOngoing moves Upcoming events with start_time <= now and
	// end_time > now to Ongoing.
	MarkEventsOngoing(ctx context.Context, now time.Time) (int, error)

	// MarkEventsCompleted moves Upcoming or Ongoing events with
	// end_time <= now to Completed.
	MarkEventsCompleted(ctx context.Context, now time.Time) (int, error)
}

// StatusJob advances event lifecycle status based on wall-clock time.
type StatusJob struct {
	store  StatusStore
	logger *slog.Logger
}

// NewStatusJob creates a StatusJob.
func NewStatusJob(store StatusStore, logger *slog.Logger) *StatusJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusJob{store: store, logger: logger}
}

// Run applies both transitions. Re-running with no intervening time change
// reports zero for both counts.
func (s *StatusJob) Run(ctx context.Context, now time.Time) (Result, error) {
	res := Result{Counts: map[string]int{"ongoing": 0, "completed": 0}}
	var errs []error

	ongoing, err := s.store.MarkEventsOngoing(ctx, now)
	if err != nil {
		res.AddError("ongoing transition: %v", err)
		errs = append(errs, fmt.Errorf("marking events ongoing: %w", err))
	} else {
		res.Counts["ongoing"] = ongoing
	}

	completed, err := s.store.MarkEventsCompleted(ctx, now)
	if err != nil {
		res.AddError("completed transition: %v", err)
		errs = append(errs, fmt.Errorf("marking events completed: %w", err))
	} else {
		res.Counts["completed"] = completed
	}

	res.TotalProcessed = res.Counts["ongoing"] + res.Counts["completed"]
	res.Successful = res.TotalProcessed

	if res.TotalProcessed > 0 {
		s.logger.InfoContext(ctx, "event status transitions applied",
			"ongoing", res.Counts["ongoing"],
			"completed", res.Counts["completed"],
		)
	}

	return res, errors.Join(errs...)
}
