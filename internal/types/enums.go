package types

// EventStatus represents the lifecycle state of an event. Values match the
// stored column values exactly.
type EventStatus string

const (
	EventStatusUpcoming  EventStatus = "Upcoming"
	EventStatusOngoing   EventStatus = "Ongoing"
	EventStatusCompleted EventStatus = "Completed"
	EventStatusCancelled EventStatus = "Cancelled"
)

// Visibility controls whether content is shown to members. Scheduled content
// becomes visible once its publish time has passed.
type Visibility string

const (
	VisibilitySchedule Visibility = "Schedule"
	VisibilityPublish  Visibility = "Publish"
)

// ContentKind identifies the kind of entity a scheduled publish or a
// notification refers to.
type ContentKind string

const (
	ContentEvent        ContentKind = "event"
	ContentAnnouncement ContentKind = "announcement"
)

// UploadStatus is the processing state of a media upload.
type UploadStatus string

const (
	UploadPending   UploadStatus = "pending"
	UploadProcessed UploadStatus = "processed"
	UploadFailed    UploadStatus = "failed"
)

// SessionStatus is the state of a scheduled live session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionLive      SessionStatus = "live"
	SessionEnded     SessionStatus = "ended"
	SessionCancelled SessionStatus = "cancelled"
)

// NotificationType identifies why a notification was dispatched.
type NotificationType string

const (
	NotificationContentPublished NotificationType = "content_published"
	NotificationEventReminder    NotificationType = "event_reminder"
)
