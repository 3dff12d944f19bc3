package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"clubhouse/internal/dedup"
	"clubhouse/internal/types"
)

// Reminder defaults.
const (
	DefaultReminderInterval  = 10 * time.Minute
	DefaultReminderLookAhead = 24 * time.Hour
	DefaultReminderTTL       = 2 * time.Hour
)

// ReminderThreshold is one fixed look-ahead point at which a reminder is sent.
// MessageTemplate may reference {title} and {label}.
type ReminderThreshold struct {
	MinutesBeforeStart int
	Label              string
	MessageTemplate    string
}

// DefaultReminderThresholds returns the standard ladder, furthest first.
func DefaultReminderThresholds() []ReminderThreshold {
	return []ReminderThreshold{
		{MinutesBeforeStart: 1440, Label: "24 hours", MessageTemplate: "{title} starts in {label}"},
		{MinutesBeforeStart: 720, Label: "12 hours", MessageTemplate: "{title} starts in {label}"},
		{MinutesBeforeStart: 180, Label: "3 hours", MessageTemplate: "{title} starts in {label}"},
		{MinutesBeforeStart: 60, Label: "1 hour", MessageTemplate: "{title} starts in {label}"},
		{MinutesBeforeStart: 15, Label: "15 minutes", MessageTemplate: "{title} starts in {label}. Get ready!"},
		{MinutesBeforeStart: 5, Label: "5 minutes", MessageTemplate: "{title} is about to start"},
	}
}

// Render fills the template for an event title.
func (t ReminderThreshold) Render(title string) string {
	return strings.NewReplacer("{title}", title, "{label}", t.Label).Replace(t.MessageTemplate)
}

// ReminderKey is the dedup key for one (event, threshold) pair.
func ReminderKey(eventID string, minutesBeforeStart int) string {
	return eventID + "_" + strconv.Itoa(minutesBeforeStart)
}

// ReminderStore defines the record store reads needed by the reminder job.
type ReminderStore interface {
	// ListUpcomingEvents returns non-draft Upcoming events starting after
	// from and no later than to.
	ListUpcomingEvents(ctx context.Context, from, to time.Time) ([]types.UpcomingEvent, error)

	// ListRegistrantIDs returns the user IDs registered for an event.
	ListRegistrantIDs(ctx context.Context, eventID string) ([]string, error)
}

// ReminderOptions tunes the reminder job. PollingInterval must equal the
// reminder trigger's cadence: it is the width of each threshold window.
type ReminderOptions struct {
	LookAhead       time.Duration
	PollingInterval time.Duration
	TTL             time.Duration
	Thresholds      []ReminderThreshold
}

func (o ReminderOptions) withDefaults() ReminderOptions {
	if o.LookAhead <= 0 {
		o.LookAhead = DefaultReminderLookAhead
	}
	if o.PollingInterval <= 0 {
		o.PollingInterval = DefaultReminderInterval
	}
	if o.TTL <= 0 {
		o.TTL = DefaultReminderTTL
	}
	if len(o.Thresholds) == 0 {
		o.Thresholds = DefaultReminderThresholds()
	}
	return o
}

// ReminderJob sends event reminders at most once per (event, threshold)
// within the dedup TTL.
type ReminderJob struct {
	store      ReminderStore
	dispatcher Dispatcher
	cache      *dedup.Cache
	opts       ReminderOptions
	logger     *slog.Logger
}

// NewReminderJob creates a ReminderJob sharing cache with the sweep job.
func NewReminderJob(store ReminderStore, dispatcher Dispatcher, cache *dedup.Cache, opts ReminderOptions, logger *slog.Logger) *ReminderJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderJob{
		store:      store,
		dispatcher: dispatcher,
		cache:      cache,
		opts:       opts.withDefaults(),
		logger:     logger,
	}
}

// Run evaluates every upcoming event in the look-ahead window against every
// threshold.
func (j *ReminderJob) Run(ctx context.Context, now time.Time) (Result, error) {
	var res Result

	events, err := j.store.ListUpcomingEvents(ctx, now, now.Add(j.opts.LookAhead))
	if err != nil {
		return res, fmt.Errorf("listing upcoming events: %w", err)
	}

	poll := j.opts.PollingInterval.Minutes()
	for _, ev := range events {
		res.TotalProcessed++
		diff := ev.StartTime.Sub(now).Minutes()

		var recipients []string
		fetched := false
		for _, th := range j.opts.Thresholds {
			t := float64(th.MinutesBeforeStart)
			if diff > t || diff <= t-poll {
				continue
			}

			key := ReminderKey(ev.ID, th.MinutesBeforeStart)
			if j.cache.Has(key) {
				res.AddCount("already_sent", 1)
				continue
			}

			if !fetched {
				recipients, err = j.store.ListRegistrantIDs(ctx, ev.ID)
				if err != nil {
					res.AddError("event %s: registrants: %v", ev.ID, err)
					break
				}
				fetched = true
			}
			if len(recipients) == 0 {
				res.AddCount("no_registrants", 1)
				continue
			}

			// Another run may have claimed the key since the Has check.
			if !j.cache.CheckAndAdd(key, j.opts.TTL) {
				res.AddCount("already_sent", 1)
				continue
			}

			n := types.Notification{
				Type:             types.NotificationEventReminder,
				Kind:             types.ContentEvent,
				EntityID:         ev.ID,
				Title:            ev.Title,
				Body:             th.Render(ev.Title),
				RecipientIDs:     recipients,
				ThresholdMinutes: th.MinutesBeforeStart,
				CreatedAt:        now,
			}
			if err := j.dispatcher.Notify(ctx, n); err != nil {
				res.AddError("event %s reminder %s: %v", ev.ID, th.Label, err)
				j.logger.ErrorContext(ctx, "failed to dispatch reminder",
					"event_id", ev.ID,
					"threshold_minutes", th.MinutesBeforeStart,
					"error", err,
				)
				continue
			}
			res.Successful++
			res.AddCount("dispatched", 1)
		}
	}

	if res.Counts["dispatched"] > 0 || len(res.Errors) > 0 {
		j.logger.InfoContext(ctx, "event reminders processed",
			"events", res.TotalProcessed,
			"dispatched", res.Counts["dispatched"],
			"errors", len(res.Errors),
		)
	}
	return res, nil
}
