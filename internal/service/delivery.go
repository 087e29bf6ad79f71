package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"member_comms/internal/config"
	"member_comms/internal/domain"
	"member_comms/internal/metrics"
	"member_comms/internal/repository"
	"member_comms/internal/transport"
	apperrors "member_comms/pkg/errors"
	"member_comms/pkg/logger"
)

const previewLength = 120

type SendMessageInput struct {
	RoomID      uuid.UUID          `json:"room_id"`
	SenderID    uuid.UUID          `json:"sender_id"`
	Content     string             `json:"content"`
	Kind        domain.MessageKind `json:"kind"`
	ClientToken string             `json:"client_token,omitempty"`
}

type DeliveryService interface {
	// SendMessage persists the message at the room's sequencing point and
	// fans it out. The client token is echoed back unchanged; resending a
	// token the sender already used returns the stored message.
	SendMessage(ctx context.Context, in SendMessageInput) (*domain.Message, error)
	// MarkRead is idempotent; a receipt is published on every call.
	MarkRead(ctx context.Context, roomID uuid.UUID, messageID string, readerID uuid.UUID) error
	MarkRoomRead(ctx context.Context, roomID, readerID uuid.UUID) (int64, error)
	// ListMessages returns the page ending before the cursor in chronological order.
	ListMessages(ctx context.Context, roomID, userID uuid.UUID, before domain.Cursor, limit int) (*domain.MessagePage, error)
}

type deliveryService struct {
	rooms         RoomService
	messageRepo   repository.MessageRepository
	notifications NotificationService
	rateLimit     RateLimitService
	pub           transport.Publisher
	cfg           config.DeliveryConfig
	log           logger.Logger
}

func NewDeliveryService(
	rooms RoomService,
	messageRepo repository.MessageRepository,
	notifications NotificationService,
	rateLimit RateLimitService,
	pub transport.Publisher,
	cfg config.DeliveryConfig,
	log logger.Logger,
) DeliveryService {
	return &deliveryService{
		rooms:         rooms,
		messageRepo:   messageRepo,
		notifications: notifications,
		rateLimit:     rateLimit,
		pub:           pub,
		cfg:           cfg,
		log:           log,
	}
}

func (s *deliveryService) validate(in *SendMessageInput) error {
	if strings.TrimSpace(in.Content) == "" {
		return fmt.Errorf("%w: content is empty", apperrors.ErrValidation)
	}
	if s.cfg.MaxContentLength > 0 && utf8.RuneCountInString(in.Content) > s.cfg.MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", apperrors.ErrValidation, s.cfg.MaxContentLength)
	}
	if in.Kind == "" {
		in.Kind = domain.MessageKindText
	}
	if !in.Kind.Valid() {
		return fmt.Errorf("%w: unknown message kind %q", apperrors.ErrValidation, in.Kind)
	}
	return nil
}

func (s *deliveryService) SendMessage(ctx context.Context, in SendMessageInput) (*domain.Message, error) {
	if err := s.validate(&in); err != nil {
		return nil, err
	}

	room, err := s.rooms.Authorize(ctx, in.RoomID, in.SenderID)
	if err != nil {
		return nil, err
	}

	if !s.rateLimit.Allow(ctx, "send:"+in.SenderID.String(), s.cfg.RateLimit, s.cfg.RateWindow) {
		metrics.RateLimitHits.WithLabelValues("send_message").Inc()
		return nil, apperrors.ErrRateLimited
	}

	msg := &domain.Message{
		RoomID:      room.ID,
		SenderID:    in.SenderID,
		Content:     in.Content,
		Kind:        in.Kind,
		ClientToken: in.ClientToken,
	}
	created, err := s.messageRepo.Append(ctx, msg)
	if err != nil {
		s.log.Error("Failed to persist message", "error", err, "room_id", room.ID)
		if errors.Is(err, apperrors.ErrRoomNotFound) || errors.Is(err, apperrors.ErrPersistence) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}
	if !created {
		// A resend of a stored message; it was fanned out the first time.
		s.log.Debug("Send replayed by client token", "room_id", room.ID, "message_id", msg.ID)
		return msg, nil
	}

	roomType := "direct"
	if room.IsGroup {
		roomType = "group"
	}
	metrics.MessagesSent.WithLabelValues(roomType).Inc()

	// The write is durable; a caller going away must not cut the fan-out short.
	s.fanOut(context.WithoutCancel(ctx), room, msg)
	return msg, nil
}

func (s *deliveryService) fanOut(ctx context.Context, room *domain.Room, msg *domain.Message) {
	publish(ctx, s.pub, s.log, domain.RoomTopic(room.ID), transport.EventMessageCreated, msg)

	g := new(errgroup.Group)
	if s.cfg.FanoutConcurrency > 0 {
		g.SetLimit(s.cfg.FanoutConcurrency)
	}
	for _, recipient := range room.ParticipantIDs {
		if recipient == msg.SenderID {
			continue
		}
		recipient := recipient
		g.Go(func() error {
			s.deliverTo(ctx, room, msg, recipient)
			return nil
		})
	}
	_ = g.Wait()
}

// deliverTo handles one recipient; its failures stay local to that recipient.
func (s *deliveryService) deliverTo(ctx context.Context, room *domain.Room, msg *domain.Message, recipient uuid.UUID) {
	publish(ctx, s.pub, s.log, domain.UserTopic(recipient), transport.EventMessageCreated, msg)

	source := room.ID.String()
	title := "New message"
	if room.Name != nil {
		title = "New message in " + *room.Name
	}
	_, err := s.notifications.Ingest(ctx, IngestInput{
		UserID:   recipient,
		Category: domain.CategoryNewMessage,
		Title:    title,
		Body:     preview(msg),
		SourceID: &source,
		Metadata: map[string]interface{}{
			"room_id":    room.ID.String(),
			"message_id": msg.ID,
			"sender_id":  msg.SenderID.String(),
		},
	})
	if err != nil {
		s.log.Warn("Failed to notify recipient", "error", err, "room_id", room.ID, "recipient", recipient)
	}
}

func preview(msg *domain.Message) string {
	switch msg.Kind {
	case domain.MessageKindImage:
		return "Sent an image"
	case domain.MessageKindFile:
		return "Sent a file"
	}
	content := strings.TrimSpace(msg.Content)
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	return string([]rune(content)[:previewLength]) + "…"
}

func (s *deliveryService) MarkRead(ctx context.Context, roomID uuid.UUID, messageID string, readerID uuid.UUID) error {
	room, err := s.rooms.Authorize(ctx, roomID, readerID)
	if err != nil {
		return err
	}

	msg, err := s.messageRepo.GetByID(ctx, room.ID, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID == readerID {
		return nil
	}

	if _, err := s.messageRepo.MarkRead(ctx, room.ID, messageID); err != nil {
		s.log.Error("Failed to mark message read", "error", err, "message_id", messageID)
		return err
	}

	publish(ctx, s.pub, s.log, domain.RoomTopic(room.ID), transport.EventMessageRead, domain.ReadReceipt{
		RoomID:    room.ID,
		MessageID: msg.ID,
		ReaderID:  readerID,
		UpToSeq:   msg.Seq,
		ReadAt:    time.Now().UTC(),
	})
	return nil
}

func (s *deliveryService) MarkRoomRead(ctx context.Context, roomID, readerID uuid.UUID) (int64, error) {
	room, err := s.rooms.Authorize(ctx, roomID, readerID)
	if err != nil {
		return 0, err
	}

	count, maxSeq, err := s.messageRepo.MarkRoomRead(ctx, room.ID, readerID)
	if err != nil {
		s.log.Error("Failed to mark room read", "error", err, "room_id", room.ID)
		return 0, err
	}
	if maxSeq == 0 {
		maxSeq = room.LastSeq
	}

	publish(ctx, s.pub, s.log, domain.RoomTopic(room.ID), transport.EventRoomRead, domain.ReadReceipt{
		RoomID:   room.ID,
		ReaderID: readerID,
		UpToSeq:  maxSeq,
		ReadAt:   time.Now().UTC(),
	})

	if _, err := s.notifications.MarkSourceRead(ctx, readerID, domain.CategoryNewMessage, room.ID.String()); err != nil {
		s.log.Warn("Failed to clear room notification", "error", err, "room_id", room.ID, "user_id", readerID)
	}
	return count, nil
}

func (s *deliveryService) ListMessages(ctx context.Context, roomID, userID uuid.UUID, before domain.Cursor, limit int) (*domain.MessagePage, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	room, err := s.rooms.Authorize(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}

	newest, err := s.messageRepo.ListBefore(ctx, room.ID, before, limit+1)
	if err != nil {
		s.log.Error("Failed to list messages", "error", err, "room_id", room.ID)
		return nil, err
	}

	page := &domain.MessagePage{}
	if len(newest) > limit {
		newest = newest[:limit]
		page.HasMore = true
	}
	page.Messages = make([]*domain.Message, len(newest))
	for i, m := range newest {
		page.Messages[len(newest)-1-i] = m
	}
	if page.HasMore {
		page.NextCursor = domain.Cursor(page.Messages[0].Seq)
	}
	return page, nil
}
