package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"clubhouse/internal/types"
)

// DefaultPublishBatchSize caps the items flipped per kind per run.
const DefaultPublishBatchSize = 500

// PublishingStore defines the record store operations needed by the
// publishing job.
type PublishingStore interface {
	// ListDueScheduled returns items of kind with visibility 'Schedule' and
	// publish_at <= now, oldest first.
	ListDueScheduled(ctx context.Context, kind types.ContentKind, now time.Time, limit int) ([]types.ScheduledItem, error)

	// MarkPublished flips one item's visibility to 'Publish'.
	MarkPublished(ctx context.Context, kind types.ContentKind, id string) error
}

// Dispatcher hands notifications to the delivery pipeline.
type Dispatcher interface {
	Notify(ctx context.Context, n types.Notification) error
}

// PublishingJob publishes scheduled events and announcements whose publish
// time has passed and announces each one.
type PublishingJob struct {
	store      PublishingStore
	dispatcher Dispatcher
	batchSize  int
	logger     *slog.Logger
}

// NewPublishingJob creates a PublishingJob.
func NewPublishingJob(store PublishingStore, dispatcher Dispatcher, batchSize int, logger *slog.Logger) *PublishingJob {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = DefaultPublishBatchSize
	}
	return &PublishingJob{
		store:      store,
		dispatcher: dispatcher,
		batchSize:  batchSize,
		logger:     logger,
	}
}

// Run publishes due items of every kind. A failure on one item is recorded
// and processing continues with the next. A flipped item stays published even
// if its notification fails. Listing failures are returned so the run is
// retried; items already flipped are no longer due and are not repeated.
func (p *PublishingJob) Run(ctx context.Context, now time.Time) (Result, error) {
	var res Result
	var listErrs []error

	for _, kind := range []types.ContentKind{types.ContentEvent, types.ContentAnnouncement} {
		items, err := p.store.ListDueScheduled(ctx, kind, now, p.batchSize)
		if err != nil {
			res.AddError("%s listing: %v", kind, err)
			listErrs = append(listErrs, fmt.Errorf("listing scheduled %ss: %w", kind, err))
			continue
		}

		for _, item := range items {
			res.TotalProcessed++
			if p.publish(ctx, item, now, &res) {
				res.Successful++
			}
		}
	}

	p.logger.InfoContext(ctx, "scheduled publishing complete",
		"processed", res.TotalProcessed,
		"published", res.Counts["published"],
		"errors", len(res.Errors),
	)

	return res, errors.Join(listErrs...)
}

// publish flips one item and notifies about it. It reports whether both steps
// succeeded.
func (p *PublishingJob) publish(ctx context.Context, item types.ScheduledItem, now time.Time, res *Result) bool {
	if err := p.store.MarkPublished(ctx, item.Kind, item.ID); err != nil {
		res.AddError("%s %s: %v", item.Kind, item.ID, err)
		p.logger.ErrorContext(ctx, "failed to publish scheduled item",
			"kind", item.Kind,
			"id", item.ID,
			"error", err,
		)
		return false
	}
	res.AddCount("published", 1)

	n := types.Notification{
		Type:      types.NotificationContentPublished,
		Kind:      item.Kind,
		EntityID:  item.ID,
		Title:     item.Title,
		CreatedAt: now,
	}
	if err := p.dispatcher.Notify(ctx, n); err != nil {
		res.AddError("%s %s: notify: %v", item.Kind, item.ID, err)
		p.logger.ErrorContext(ctx, "failed to notify published item",
			"kind", item.Kind,
			"id", item.ID,
			"error", err,
		)
		return false
	}
	return true
}
