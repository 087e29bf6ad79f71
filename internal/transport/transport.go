// Package transport is the publish/subscribe fabric used for realtime
// delivery. Delivery is best effort: at-least-once at most, usually ordered
// within a topic, and lost for subscribers that are not connected.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"member_comms/internal/domain"
)

const (
	EventMessageCreated      = "message.created"
	EventMessageRead         = "message.read"
	EventRoomRead            = "room.read"
	EventTypingStarted       = "typing.started"
	EventTypingStopped       = "typing.stopped"
	EventNotificationCreated = "notification.created"
	EventNotificationRead    = "notification.read"
	EventNotificationReadAll = "notification.read_all"
)

var (
	ErrClosed       = errors.New("transport closed")
	ErrNotConnected = errors.New("transport not connected")
)

type Event struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

func NewEvent(topic, eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:      domain.NewID(),
		Type:    eventType,
		Topic:   topic,
		At:      time.Now().UTC(),
		Payload: raw,
	}, nil
}

func (e Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, ev Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

type Transport interface {
	Publisher
	Subscriber
	Close() error
}

// Subscription delivers events for one topic until Close. The channel is
// closed once the subscription ends.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// TypingPayload is the body of typing.* events.
type TypingPayload struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// ReadAllPayload is the body of notification.read_all events.
type ReadAllPayload struct {
	UserID  string        `json:"user_id"`
	UpTo    domain.Cursor `json:"up_to"`
	Changed int64         `json:"changed"`
	Unread  int64         `json:"unread_count"`
}

// NotificationReadPayload is the body of notification.read events.
type NotificationReadPayload struct {
	UserID string   `json:"user_id"`
	IDs    []string `json:"ids"`
	Unread int64    `json:"unread_count"`
}
