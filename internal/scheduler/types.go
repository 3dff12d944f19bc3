// Package scheduler implements the background job engine for the Clubhouse
// platform.
//
// Recurring jobs keep derived state consistent without a central transaction
// coordinator: scheduled content is published, event lifecycle status is
// advanced, stale records are purged and event reminders are dispatched at
// most once per threshold. Each job is invoked by a cron trigger through the
// Registry, which guarantees a named job never runs two instances at once
// and retries failed runs a bounded number of times.
package scheduler

import (
	"fmt"
	"sort"
	"time"
)

// JobName identifies a registered job. Each name maps to exactly one Registry
// entry and one trigger.
type JobName string

const (
	JobCacheSweep       JobName = "cache_sweep"
	JobCleanup          JobName = "cleanup"
	JobPublishScheduled JobName = "publish_scheduled"
	JobEventStatus      JobName = "event_status"
	JobEventReminders   JobName = "event_reminders"
)

// AllJobs lists every job the engine registers, in a stable order.
var AllJobs = []JobName{
	JobCacheSweep,
	JobCleanup,
	JobPublishScheduled,
	JobEventStatus,
	JobEventReminders,
}

// JobDescriptions is shown by the job-runner CLI and the admin surface.
var JobDescriptions = map[JobName]string{
	JobCacheSweep:       "Purge expired reminder dedup markers",
	JobCleanup:          "Delete stale uploads and their blobs, ended sessions and inactive device tokens",
	JobPublishScheduled: "Publish scheduled events and announcements whose publish time has passed",
	JobEventStatus:      "Advance event status Upcoming -> Ongoing -> Completed",
	JobEventReminders:   "Send event reminders at fixed look-ahead thresholds",
}

// Result is the outcome of one job run. It is not persisted; the registry
// logs it and hands it to the run recorder.
type Result struct {
	RunID          string         `json:"run_id,omitempty"`
	Job            JobName        `json:"job"`
	TotalProcessed int            `json:"total_processed"`
	Successful     int            `json:"successful"`
	Errors         []string       `json:"errors,omitempty"`
	Counts         map[string]int `json:"counts,omitempty"`
	Duration       time.Duration  `json:"duration"`
	// Skipped is set when the run guard rejected the run because a previous
	// run of the same job was still active. It is not an error.
	Skipped bool `json:"skipped,omitempty"`
}

// AddError appends a formatted item-level error.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// AddCount increments a named tally.
func (r *Result) AddCount(key string, n int) {
	if r.Counts == nil {
		r.Counts = make(map[string]int)
	}
	r.Counts[key] += n
}

// JobStatus is a read-only snapshot of one registry entry.
type JobStatus struct {
	Name                JobName       `json:"name"`
	IsRunning           bool          `json:"is_running"`
	LastRun             *time.Time    `json:"last_run"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	TotalRuns           int           `json:"total_runs"`
	NextRun             *time.Time    `json:"next_run,omitempty"`
}

// StatusReport is returned by Engine.GetJobStatuses.
type StatusReport struct {
	Jobs      []JobStatus   `json:"jobs"`
	CacheSize int           `json:"cache_size"`
	Uptime    time.Duration `json:"uptime"`
	StartedAt time.Time     `json:"started_at"`
}

func sortStatuses(statuses []JobStatus) {
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
}
