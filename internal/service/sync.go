package service

import (
	"context"

	"github.com/google/uuid"

	"member_comms/internal/config"
	"member_comms/internal/domain"
	"member_comms/internal/repository"
	"member_comms/pkg/logger"
)

// SyncService answers the poll fallback: everything strictly after a cursor.
type SyncService interface {
	RoomSince(ctx context.Context, roomID, userID uuid.UUID, after domain.Cursor, limit int) (*domain.Delta[*domain.Message], error)
	FeedSince(ctx context.Context, userID uuid.UUID, after domain.Cursor, limit int) (*domain.Delta[*domain.Notification], error)
}

type syncService struct {
	rooms            RoomService
	messageRepo      repository.MessageRepository
	notificationRepo repository.NotificationRepository
	cfg              config.PollConfig
	log              logger.Logger
}

func NewSyncService(rooms RoomService, messageRepo repository.MessageRepository, notificationRepo repository.NotificationRepository, cfg config.PollConfig, log logger.Logger) SyncService {
	return &syncService{
		rooms:            rooms,
		messageRepo:      messageRepo,
		notificationRepo: notificationRepo,
		cfg:              cfg,
		log:              log,
	}
}

func (s *syncService) pageSize(limit int) int {
	max := s.cfg.PageSize
	if max <= 0 {
		max = 100
	}
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}

func (s *syncService) RoomSince(ctx context.Context, roomID, userID uuid.UUID, after domain.Cursor, limit int) (*domain.Delta[*domain.Message], error) {
	limit = s.pageSize(limit)
	room, err := s.rooms.Authorize(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}

	items, err := s.messageRepo.ListAfter(ctx, room.ID, after, limit+1)
	if err != nil {
		s.log.Error("Failed to sync room", "error", err, "room_id", room.ID)
		return nil, err
	}

	delta := &domain.Delta[*domain.Message]{Items: items, Next: after, PollIntervalMS: s.cfg.Interval.Milliseconds()}
	if len(items) > limit {
		delta.Items = items[:limit]
		delta.HasMore = true
	}
	if n := len(delta.Items); n > 0 {
		delta.Next = domain.Cursor(delta.Items[n-1].Seq)
	}
	if delta.Items == nil {
		delta.Items = []*domain.Message{}
	}
	return delta, nil
}

func (s *syncService) FeedSince(ctx context.Context, userID uuid.UUID, after domain.Cursor, limit int) (*domain.Delta[*domain.Notification], error) {
	limit = s.pageSize(limit)

	items, err := s.notificationRepo.ListAfter(ctx, userID, after, limit+1)
	if err != nil {
		s.log.Error("Failed to sync feed", "error", err, "user_id", userID)
		return nil, err
	}
	unread, err := s.notificationRepo.UnreadCount(ctx, userID)
	if err != nil {
		return nil, err
	}

	delta := &domain.Delta[*domain.Notification]{
		Items:          items,
		Next:           after,
		UnreadCount:    unread,
		PollIntervalMS: s.cfg.Interval.Milliseconds(),
	}
	if len(items) > limit {
		delta.Items = items[:limit]
		delta.HasMore = true
	}
	if n := len(delta.Items); n > 0 {
		delta.Next = domain.Cursor(delta.Items[n-1].Seq)
	}
	if delta.Items == nil {
		delta.Items = []*domain.Notification{}
	}
	return delta, nil
}
