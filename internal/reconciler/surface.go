package reconciler

import (
	"github.com/google/uuid"

	"member_comms/internal/domain"
)

// RoomSurface renders a room view. Calls arrive from session goroutines and
// must not block.
type RoomSurface interface {
	RenderMessages(entries []Entry[domain.Message], change Change)
	RenderTyping(userIDs []uuid.UUID)
}

// FeedSurface renders a notification feed. Notify is the sound, banner or
// toast hook and fires only for new unread entries while not focused.
type FeedSurface interface {
	RenderFeed(entries []Entry[domain.Notification], unread int64, change Change)
	Notify(n domain.Notification)
	Focused() bool
}
