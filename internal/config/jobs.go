package config

import "clubhouse/internal/scheduler"

// SchedulerConfig maps the environment-facing settings onto the engine's
// configuration. Reminder thresholds keep their defaults.
func (j JobsConfig) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Location:           j.Location(),
		CacheSweepSchedule: j.CacheSweepSchedule,
		CleanupSchedule:    j.CleanupSchedule,
		PublishSchedule:    j.PublishSchedule,
		StatusSchedule:     j.StatusSchedule,
		MaxRetries:         j.MaxRetries,
		RetryDelay:         j.RetryDelay,
		JobTimeout:         j.Timeout,
		PublishBatchSize:   j.PublishBatchSize,
		Cleanup: scheduler.CleanupOptions{
			RetentionDays:        j.RetentionDays,
			BatchSize:            j.BatchSize,
			MaxConcurrentDeletes: j.MaxConcurrentDeletes,
			ChunkPause:           j.ChunkPause,
			SessionRetention:     j.SessionRetention,
			DeviceTokenRetention: j.DeviceTokenRetention,
		},
		Reminders: scheduler.ReminderOptions{
			LookAhead:       j.ReminderLookAhead,
			PollingInterval: j.ReminderInterval,
			TTL:             j.ReminderTTL,
		},
	}
}
