package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"clubhouse/internal/types"
)

// Cleanup defaults.
const (
	DefaultRetentionDays        = 30
	DefaultCleanupBatchSize     = 1000
	DefaultMaxConcurrentDeletes = 10
	DefaultChunkPause           = 100 * time.Millisecond
	DefaultSessionRetention     = 7 * 24 * time.Hour
	DefaultDeviceTokenRetention = 90 * 24 * time.Hour
)

// CleanupStore defines the record store operations needed by the cleanup job.
type CleanupStore interface {
	// ListStaleUploads returns non-pending uploads created before cutoff,
	// ordered by creation time.
	//
	// SQL: SELECT id, blob_url, created_at FROM media_uploads
	//      WHERE status <> 'pending' AND created_at < $1
	//      ORDER BY created_at, id OFFSET $2 LIMIT $3
	ListStaleUploads(ctx context.Context, cutoff time.Time, offset, limit int) ([]types.StaleUpload, error)

	// DeleteUploads removes uploads by ID and returns the deleted row count.
	//
	// SQL: DELETE FROM media_uploads WHERE id = ANY($1)
	DeleteUploads(ctx context.Context, ids []string) (int, error)

	// DeleteEndedSessionsBefore removes ended or cancelled live sessions
	// whose end time is before cutoff.
	DeleteEndedSessionsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// DeleteInactiveDeviceTokensBefore removes inactive device tokens last
	// updated before cutoff.
	DeleteInactiveDeviceTokensBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// BlobDeleter removes an object from blob storage by its URL.
type BlobDeleter interface {
	DeleteBlob(ctx context.Context, url string) error
}

// CleanupOptions tunes a cleanup run. Zero values fall back to defaults.
type CleanupOptions struct {
	RetentionDays        int
	BatchSize            int
	MaxConcurrentDeletes int
	ChunkPause           time.Duration
	SessionRetention     time.Duration
	DeviceTokenRetention time.Duration
}

func (o CleanupOptions) withDefaults() CleanupOptions {
	if o.RetentionDays <= 0 {
		o.RetentionDays = DefaultRetentionDays
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultCleanupBatchSize
	}
	if o.MaxConcurrentDeletes <= 0 {
		o.MaxConcurrentDeletes = DefaultMaxConcurrentDeletes
	}
	if o.ChunkPause < 0 {
		o.ChunkPause = 0
	}
	if o.SessionRetention <= 0 {
		o.SessionRetention = DefaultSessionRetention
	}
	if o.DeviceTokenRetention <= 0 {
		o.DeviceTokenRetention = DefaultDeviceTokenRetention
	}
	return o
}

// CleanupJob purges stale uploads together with their blobs, then ended
// sessions and inactive device tokens.
type CleanupJob struct {
	store  CleanupStore
	blobs  BlobDeleter
	opts   CleanupOptions
	sleep  func(ctx context.Context, d time.Duration)
	logger *slog.Logger
}

// NewCleanupJob creates a CleanupJob. blobs may be nil when blob storage is
// not configured; blob URLs are then left untouched.
func NewCleanupJob(store CleanupStore, blobs BlobDeleter, opts CleanupOptions, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		store:  store,
		blobs:  blobs,
		opts:   opts.withDefaults(),
		sleep:  sleepContext,
		logger: logger,
	}
}

// Run executes one cleanup pass relative to now.
//
// Uploads are read in pages of BatchSize. Each page is bulk deleted and then
// its blobs are removed in chunks of MaxConcurrentDeletes, pausing between
// chunks. The offset only advances past pages whose delete failed, so rows
// removed by a successful page never shift later rows out of reach. Item
// failures are collected in the result and never abort the run.
func (c *CleanupJob) Run(ctx context.Context, now time.Time) (Result, error) {
	var res Result
	cutoff := now.AddDate(0, 0, -c.opts.RetentionDays)

	fetchErr := c.purgeUploads(ctx, cutoff, &res)

	sessionCutoff := now.Add(-c.opts.SessionRetention)
	n, err := c.store.DeleteEndedSessionsBefore(ctx, sessionCutoff)
	if err != nil {
		res.AddError("sessions: %v", err)
	} else {
		res.AddCount("sessions_deleted", n)
		res.TotalProcessed += n
		res.Successful += n
	}

	tokenCutoff := now.Add(-c.opts.DeviceTokenRetention)
	n, err = c.store.DeleteInactiveDeviceTokensBefore(ctx, tokenCutoff)
	if err != nil {
		res.AddError("device_tokens: %v", err)
	} else {
		res.AddCount("device_tokens_deleted", n)
		res.TotalProcessed += n
		res.Successful += n
	}

	c.logger.InfoContext(ctx, "cleanup complete",
		"cutoff", cutoff.Format(time.RFC3339),
		"processed", res.TotalProcessed,
		"successful", res.Successful,
		"errors", len(res.Errors),
	)

	if fetchErr != nil {
		return res, fetchErr
	}
	return res, nil
}

// purgeUploads pages through stale uploads. It returns an error only when a
// page could not be read, since paging cannot continue past that point.
func (c *CleanupJob) purgeUploads(ctx context.Context, cutoff time.Time, res *Result) error {
	offset := 0
	batchSize := c.opts.BatchSize

	for {
		batch, err := c.store.ListStaleUploads(ctx, cutoff, offset, batchSize)
		if err != nil {
			res.AddError("uploads offset %d: %v", offset, err)
			return fmt.Errorf("listing stale uploads at offset %d: %w", offset, err)
		}
		if len(batch) == 0 {
			return nil
		}

		res.TotalProcessed += len(batch)
		res.AddCount("batches", 1)

		ids := make([]string, len(batch))
		urls := make([]string, 0, len(batch))
		for i, u := range batch {
			ids[i] = u.ID
			if u.BlobURL != "" {
				urls = append(urls, u.BlobURL)
			}
		}

		deleted, err := c.store.DeleteUploads(ctx, ids)
		if err != nil {
			// Leave the rows and their blobs for the next run.
			res.AddError("uploads batch at offset %d: %v", offset, err)
			c.logger.ErrorContext(ctx, "failed to delete upload batch",
				"offset", offset,
				"size", len(batch),
				"error", err,
			)
			offset += len(batch)
		} else {
			res.Successful += deleted
			res.AddCount("uploads_deleted", deleted)
			c.deleteBlobs(ctx, urls, res)
		}

		if len(batch) < batchSize {
			return nil
		}
	}
}

// deleteBlobs removes urls in chunks of MaxConcurrentDeletes. Every deletion
// in a chunk finishes before the next chunk starts.
func (c *CleanupJob) deleteBlobs(ctx context.Context, urls []string, res *Result) {
	if c.blobs == nil || len(urls) == 0 {
		return
	}
	chunkSize := c.opts.MaxConcurrentDeletes

	for start := 0; start < len(urls); start += chunkSize {
		end := min(start+chunkSize, len(urls))
		chunk := urls[start:end]
		errs := make([]error, len(chunk))

		var g errgroup.Group
		g.SetLimit(chunkSize)
		for i, url := range chunk {
			g.Go(func() error {
				// Errors are collected per item rather than cancelling the group.
				errs[i] = c.blobs.DeleteBlob(ctx, url)
				return nil
			})
		}
		_ = g.Wait()

		for i, err := range errs {
			if err != nil {
				res.AddError("blob %s: %v", chunk[i], err)
				continue
			}
			res.AddCount("blobs_deleted", 1)
		}

		if end < len(urls) && c.opts.ChunkPause > 0 {
			c.sleep(ctx, c.opts.ChunkPause)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
