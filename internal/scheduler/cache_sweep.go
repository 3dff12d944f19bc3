package scheduler

import (
	"context"
	"log/slog"

	"clubhouse/internal/dedup"
)

// CacheSweepJob proactively purges expired reminder markers so the cache
// stays bounded between reads.
type CacheSweepJob struct {
	cache  *dedup.Cache
	logger *slog.Logger
}

// NewCacheSweepJob creates a CacheSweepJob.
func NewCacheSweepJob(cache *dedup.Cache, logger *slog.Logger) *CacheSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheSweepJob{cache: cache, logger: logger}
}

// Run sweeps the cache once.
func (s *CacheSweepJob) Run(ctx context.Context) (Result, error) {
	purged := s.cache.Sweep()
	remaining := s.cache.Len()

	s.logger.DebugContext(ctx, "dedup cache swept", "purged", purged, "remaining", remaining)

	return Result{
		TotalProcessed: purged,
		Successful:     purged,
		Counts:         map[string]int{"purged": purged, "remaining": remaining},
	}, nil
}
