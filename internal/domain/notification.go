package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Notification struct {
	ID        string                 `json:"id"`
	UserID    uuid.UUID              `json:"user_id"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	Category  NotificationCategory   `json:"category"`
	IsRead    bool                   `json:"is_read"`
	Seq       int64                  `json:"seq"`
	CreatedAt time.Time              `json:"created_at"`
	SourceID  *string                `json:"source_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	DedupKey  string                 `json:"-"`
}

type NotificationCategory string

const (
	CategoryNewMessage    NotificationCategory = "new-message"
	CategoryMealSelection NotificationCategory = "meal-selection"
	CategoryCalendarAdded NotificationCategory = "calendar-added"
	CategoryUserJoined    NotificationCategory = "user-joined"
	CategoryAnnouncement  NotificationCategory = "announcement"
	CategorySupport       NotificationCategory = "support"
)

func (c NotificationCategory) Valid() bool {
	switch c {
	case CategoryNewMessage, CategoryMealSelection, CategoryCalendarAdded,
		CategoryUserJoined, CategoryAnnouncement, CategorySupport:
		return true
	}
	return false
}

// DedupKey identifies the same underlying event for one recipient.
func DedupKey(category NotificationCategory, sourceID string, userID uuid.UUID) string {
	return strings.Join([]string{string(category), sourceID, userID.String()}, "|")
}

// NotificationPage is one page of a feed, newest first.
type NotificationPage struct {
	Notifications []*Notification `json:"notifications"`
	NextCursor    Cursor          `json:"next_cursor,omitempty"`
	HasMore       bool            `json:"has_more"`
	UnreadCount   int64           `json:"unread_count"`
}

type IngestOutcome string

const (
	IngestApplied IngestOutcome = "applied"
	IngestDeduped IngestOutcome = "deduped"
)
