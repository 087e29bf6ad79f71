package domain

import (
	"time"

	"github.com/google/uuid"
)

type Message struct {
	ID          string      `json:"id"`
	RoomID      uuid.UUID   `json:"room_id"`
	SenderID    uuid.UUID   `json:"sender_id"`
	Content     string      `json:"content"`
	Kind        MessageKind `json:"kind"`
	Seq         int64       `json:"seq"`
	CreatedAt   time.Time   `json:"created_at"`
	IsRead      bool        `json:"is_read"`
	ClientToken string      `json:"client_token,omitempty"`
}

type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
	MessageKindFile  MessageKind = "file"
)

func (k MessageKind) Valid() bool {
	switch k {
	case MessageKindText, MessageKindImage, MessageKindFile:
		return true
	}
	return false
}

// ReadReceipt is published to a room topic when a message or a whole room is read.
type ReadReceipt struct {
	RoomID    uuid.UUID `json:"room_id"`
	MessageID string    `json:"message_id,omitempty"`
	ReaderID  uuid.UUID `json:"reader_id"`
	UpToSeq   int64     `json:"up_to_seq,omitempty"`
	ReadAt    time.Time `json:"read_at"`
}

// MessagePage is a window of a room's history in chronological order.
type MessagePage struct {
	Messages   []*Message `json:"messages"`
	NextCursor Cursor     `json:"next_cursor,omitempty"`
	HasMore    bool       `json:"has_more"`
}
