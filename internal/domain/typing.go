package domain

import (
	"time"

	"github.com/google/uuid"
)

// TypingState lives only in memory inside the typing register.
type TypingState struct {
	RoomID    uuid.UUID `json:"room_id"`
	UserID    uuid.UUID `json:"user_id"`
	IsTyping  bool      `json:"is_typing"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}
