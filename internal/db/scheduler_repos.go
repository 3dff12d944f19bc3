package db

import (
	"context"
	"fmt"
	"time"

	"clubhouse/internal/types"
)

// ============================================================
// CleanupRepository
// ============================================================

// CleanupRepository implements scheduler.CleanupStore over media_uploads,
// live_sessions and device_tokens.
type CleanupRepository struct {
	db DBTX
}

// NewCleanupRepository creates a new CleanupRepository backed by the given
// database connection (pool or transaction).
func NewCleanupRepository(db DBTX) *CleanupRepository {
	return &CleanupRepository{db: db}
}

// ListStaleUploads returns one page of processed or failed uploads created
// before cutoff. Ordering by (created_at, id) keeps pages stable while rows
// are deleted behind the cursor.
func (r *CleanupRepository) ListStaleUploads(ctx context.Context, cutoff time.Time, offset, limit int) ([]types.StaleUpload, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, blob_url, created_at
		 FROM media_uploads
		 WHERE status <> $1 AND created_at < $2
		 ORDER BY created_at, id
		 OFFSET $3 LIMIT $4`,
		string(types.UploadPending),
		cutoff,
		offset,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list stale uploads", err)
	}
	defer rows.Close()

	var out []types.StaleUpload
	for rows.Next() {
		var (
			u       types.StaleUpload
			blobURL *string
		)
		if err := rows.Scan(&u.ID, &blobURL, &u.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan upload row", err)
		}
		if blobURL != nil {
			u.BlobURL = *blobURL
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating upload rows", err)
	}
	return out, nil
}

// DeleteUploads removes the given uploads in one statement.
func (r *CleanupRepository) DeleteUploads(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM media_uploads WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete uploads", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteEndedSessionsBefore removes ended or cancelled live sessions whose
// end time is before cutoff.
func (r *CleanupRepository) DeleteEndedSessionsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM live_sessions
		 WHERE status IN ($1, $2) AND ends_at < $3`,
		string(types.SessionEnded),
		string(types.SessionCancelled),
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete ended sessions", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteInactiveDeviceTokensBefore removes deactivated push tokens not
// touched since cutoff.
func (r *CleanupRepository) DeleteInactiveDeviceTokensBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM device_tokens WHERE is_active = false AND updated_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete inactive device tokens", err)
	}
	return int(tag.RowsAffected()), nil
}

// ============================================================
// PublishingRepository
// ============================================================

// contentTables maps a content kind to its table. Table names never come
// from user input.
var contentTables = map[types.ContentKind]string{
	types.ContentEvent:        "events",
	types.ContentAnnouncement: "announcements",
}

func tableFor(kind types.ContentKind) (string, error) {
	table, ok := contentTables[kind]
	if !ok {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, fmt.Sprintf("unknown content kind %q", kind), nil)
	}
	return table, nil
}

// PublishingRepository implements scheduler.PublishingStore.
type PublishingRepository struct {
	db DBTX
}

// NewPublishingRepository creates a new PublishingRepository.
func NewPublishingRepository(db DBTX) *PublishingRepository {
	return &PublishingRepository{db: db}
}

// ListDueScheduled returns scheduled items of kind whose publish time is at
// or before now, oldest first.
func (r *PublishingRepository) ListDueScheduled(ctx context.Context, kind types.ContentKind, now time.Time, limit int) ([]types.ScheduledItem, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, title, publish_at
		 FROM `+table+`
		 WHERE visibility = $1 AND publish_at <= $2
		 ORDER BY publish_at, id
		 LIMIT $3`,
		string(types.VisibilitySchedule),
		now,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list scheduled "+table, err)
	}
	defer rows.Close()

	var out []types.ScheduledItem
	for rows.Next() {
		item := types.ScheduledItem{Kind: kind}
		if err := rows.Scan(&item.ID, &item.Title, &item.PublishAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan scheduled row", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating scheduled rows", err)
	}
	return out, nil
}

// MarkPublished flips one item from Schedule to Publish. The visibility
// guard makes a concurrent flip surface as not found instead of a second
// announcement.
func (r *PublishingRepository) MarkPublished(ctx context.Context, kind types.ContentKind, id string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE `+table+` SET visibility = $1 WHERE id = $2 AND visibility = $3`,
		string(types.VisibilityPublish),
		id,
		string(types.VisibilitySchedule),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to publish "+string(kind), err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundContent, string(kind)+" not found or already published", nil)
	}
	return nil
}

// ============================================================
// EventStatusRepository
// ============================================================

// EventStatusRepository implements scheduler.StatusStore with two set-based
// updates.
type EventStatusRepository struct {
	db DBTX
}

// NewEventStatusRepository creates a new EventStatusRepository.
func NewEventStatusRepository(db DBTX) *EventStatusRepository {
	return &EventStatusRepository{db: db}
}

// MarkEventsOngoing moves started, unfinished Upcoming events to Ongoing.
func (r *EventStatusRepository) MarkEventsOngoing(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE events SET status = $1
		 WHERE status = $2 AND start_time <= $3 AND end_time > $3`,
		string(types.EventStatusOngoing),
		string(types.EventStatusUpcoming),
		now,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to mark events ongoing", err)
	}
	return int(tag.RowsAffected()), nil
}

// MarkEventsCompleted moves finished Upcoming or Ongoing events to Completed.
func (r *EventStatusRepository) MarkEventsCompleted(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE events SET status = $1
		 WHERE status IN ($2, $3) AND end_time <= $4`,
		string(types.EventStatusCompleted),
		string(types.EventStatusUpcoming),
		string(types.EventStatusOngoing),
		now,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to mark events completed", err)
	}
	return int(tag.RowsAffected()), nil
}

// ============================================================
// ReminderRepository
// ============================================================

// ReminderRepository implements scheduler.ReminderStore.
type ReminderRepository struct {
	db DBTX
}

// NewReminderRepository creates a new ReminderRepository.
func NewReminderRepository(db DBTX) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// ListUpcomingEvents returns published, non-draft Upcoming events starting
// in (from, to].
func (r *ReminderRepository) ListUpcomingEvents(ctx context.Context, from, to time.Time) ([]types.UpcomingEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, title, start_time
		 FROM events
		 WHERE status = $1 AND visibility = $2 AND is_draft = false
		   AND start_time > $3 AND start_time <= $4
		 ORDER BY start_time, id`,
		string(types.EventStatusUpcoming),
		string(types.VisibilityPublish),
		from,
		to,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list upcoming events", err)
	}
	defer rows.Close()

	var out []types.UpcomingEvent
	for rows.Next() {
		var e types.UpcomingEvent
		if err := rows.Scan(&e.ID, &e.Title, &e.StartTime); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan event row", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating event rows", err)
	}
	return out, nil
}

// ListRegistrantIDs returns the users registered for eventID.
func (r *ReminderRepository) ListRegistrantIDs(ctx context.Context, eventID string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id FROM event_registrations WHERE event_id = $1 ORDER BY user_id`,
		eventID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list registrants", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan registrant row", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating registrant rows", err)
	}
	return ids, nil
}
