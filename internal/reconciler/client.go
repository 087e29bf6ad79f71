package reconciler

import (
	"context"

	"github.com/google/uuid"

	"member_comms/internal/domain"
	"member_comms/internal/service"
)

type MessageSender interface {
	SendMessage(ctx context.Context, roomID uuid.UUID, content string, kind domain.MessageKind, clientToken string) (*domain.Message, error)
}

type RoomSource interface {
	RoomSince(ctx context.Context, roomID uuid.UUID, after domain.Cursor, limit int) (*domain.Delta[*domain.Message], error)
}

type FeedSource interface {
	FeedSince(ctx context.Context, after domain.Cursor, limit int) (*domain.Delta[*domain.Notification], error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// LocalClient drives sessions against in-process services on behalf of one user.
type LocalClient struct {
	services *service.Services
	userID   uuid.UUID
}

func NewLocalClient(services *service.Services, userID uuid.UUID) *LocalClient {
	return &LocalClient{services: services, userID: userID}
}

func (c *LocalClient) SendMessage(ctx context.Context, roomID uuid.UUID, content string, kind domain.MessageKind, clientToken string) (*domain.Message, error) {
	return c.services.Delivery.SendMessage(ctx, service.SendMessageInput{
		RoomID:      roomID,
		SenderID:    c.userID,
		Content:     content,
		Kind:        kind,
		ClientToken: clientToken,
	})
}

func (c *LocalClient) RoomSince(ctx context.Context, roomID uuid.UUID, after domain.Cursor, limit int) (*domain.Delta[*domain.Message], error) {
	return c.services.Sync.RoomSince(ctx, roomID, c.userID, after, limit)
}

func (c *LocalClient) FeedSince(ctx context.Context, after domain.Cursor, limit int) (*domain.Delta[*domain.Notification], error) {
	return c.services.Sync.FeedSince(ctx, c.userID, after, limit)
}

func (c *LocalClient) MarkNotificationRead(ctx context.Context, id string) error {
	return c.services.Notification.MarkRead(ctx, c.userID, id)
}

func (c *LocalClient) MarkAllNotificationsRead(ctx context.Context) error {
	_, err := c.services.Notification.MarkAllRead(ctx, c.userID)
	return err
}
