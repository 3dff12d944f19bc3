package types

import "time"

// ScheduledItem is a piece of content (event or announcement) whose
// visibility is "Schedule" and whose publish time has passed.
type ScheduledItem struct {
	Kind      ContentKind
	ID        string
	Title     string
	PublishAt time.Time
}

// UpcomingEvent is the minimal event data needed to compute reminders.
type UpcomingEvent struct {
	ID        string
	Title     string
	StartTime time.Time
}

// StaleUpload is a non-pending media upload created before the retention
// cutoff. BlobURL is empty when the upload never reached blob storage.
type StaleUpload struct {
	ID        string
	BlobURL   string
	CreatedAt time.Time
}

// Notification is the payload handed to the notification dispatcher. An empty
// RecipientIDs slice means "everyone entitled to see the entity"; audience
// resolution is then left to the delivery workers.
type Notification struct {
	Type         NotificationType `json:"type"`
	Kind         ContentKind      `json:"kind"`
	EntityID     string           `json:"entity_id"`
	Title        string           `json:"title"`
	Body         string           `json:"body,omitempty"`
	RecipientIDs []string         `json:"recipient_ids,omitempty"`
	// ThresholdMinutes is set for reminders only.
	ThresholdMinutes int       `json:"threshold_minutes,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
