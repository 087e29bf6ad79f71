package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"member_comms/internal/config"
	"member_comms/internal/domain"
	"member_comms/internal/metrics"
	"member_comms/internal/repository"
	"member_comms/internal/transport"
	apperrors "member_comms/pkg/errors"
	"member_comms/pkg/logger"
)

type IngestInput struct {
	UserID   uuid.UUID                   `json:"user_id"`
	Category domain.NotificationCategory `json:"category"`
	Title    string                      `json:"title"`
	Body     string                      `json:"body"`
	SourceID *string                     `json:"source_id,omitempty"`
	Metadata map[string]interface{}      `json:"metadata,omitempty"`
}

type BroadcastInput struct {
	Recipients []uuid.UUID                 `json:"recipients"`
	Category   domain.NotificationCategory `json:"category"`
	Title      string                      `json:"title"`
	Body       string                      `json:"body"`
	SourceID   *string                     `json:"source_id,omitempty"`
	Metadata   map[string]interface{}      `json:"metadata,omitempty"`
}

type IngestResult struct {
	Outcome      domain.IngestOutcome `json:"result"`
	Notification *domain.Notification `json:"notification"`
}

type BroadcastResult struct {
	Applied int `json:"applied"`
	Deduped int `json:"deduped"`
	Failed  int `json:"failed"`
}

// NotificationSink receives every newly applied notification, e.g. to drive
// a local banner or sound.
type NotificationSink interface {
	Deliver(ctx context.Context, n *domain.Notification)
}

type NotificationService interface {
	Ingest(ctx context.Context, in IngestInput) (*IngestResult, error)
	IngestBroadcast(ctx context.Context, in BroadcastInput) (*BroadcastResult, error)
	List(ctx context.Context, userID uuid.UUID, before domain.Cursor, limit int) (*domain.NotificationPage, error)
	MarkRead(ctx context.Context, userID uuid.UUID, id string) error
	// MarkAllRead marks everything ingested before the call; later
	// notifications stay unread.
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
	// MarkSourceRead marks the unread notification for (category, source)
	// read and reports whether one existed.
	MarkSourceRead(ctx context.Context, userID uuid.UUID, category domain.NotificationCategory, sourceID string) (bool, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error)
}

type notificationService struct {
	notificationRepo repository.NotificationRepository
	pub              transport.Publisher
	sinks            []NotificationSink
	cfg              config.NotificationConfig
	log              logger.Logger
}

func NewNotificationService(notificationRepo repository.NotificationRepository, pub transport.Publisher, cfg config.NotificationConfig, log logger.Logger, sinks ...NotificationSink) NotificationService {
	return &notificationService{
		notificationRepo: notificationRepo,
		pub:              pub,
		sinks:            sinks,
		cfg:              cfg,
		log:              log,
	}
}

func (s *notificationService) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	if in.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: recipient is required", apperrors.ErrValidation)
	}
	if !in.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", apperrors.ErrValidation, in.Category)
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", apperrors.ErrValidation)
	}

	// Without a source every event is distinct.
	source := domain.NewID()
	if in.SourceID != nil && *in.SourceID != "" {
		source = *in.SourceID
	}

	n := &domain.Notification{
		UserID:   in.UserID,
		Title:    in.Title,
		Body:     in.Body,
		Category: in.Category,
		SourceID: in.SourceID,
		Metadata: in.Metadata,
		DedupKey: domain.DedupKey(in.Category, source, in.UserID),
	}

	outcome, stored, err := s.notificationRepo.Ingest(ctx, n)
	if err != nil {
		metrics.NotificationsIngested.WithLabelValues(string(in.Category), "failed").Inc()
		s.log.Error("Failed to ingest notification", "error", err, "user_id", in.UserID, "category", in.Category)
		return nil, err
	}
	metrics.NotificationsIngested.WithLabelValues(string(in.Category), string(outcome)).Inc()

	if outcome == domain.IngestApplied {
		publish(ctx, s.pub, s.log, domain.UserTopic(in.UserID), transport.EventNotificationCreated, stored)
		for _, sink := range s.sinks {
			sink.Deliver(ctx, stored)
		}
	}

	return &IngestResult{Outcome: outcome, Notification: stored}, nil
}

func (s *notificationService) IngestBroadcast(ctx context.Context, in BroadcastInput) (*BroadcastResult, error) {
	recipients := domain.NormalizeParticipants(in.Recipients)
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", apperrors.ErrValidation)
	}

	result := &BroadcastResult{}
	for _, userID := range recipients {
		res, err := s.Ingest(ctx, IngestInput{
			UserID:   userID,
			Category: in.Category,
			Title:    in.Title,
			Body:     in.Body,
			SourceID: in.SourceID,
			Metadata: in.Metadata,
		})
		if err != nil {
			if apperrors.Is(err, apperrors.ErrValidation) {
				return nil, err
			}
			result.Failed++
			continue
		}
		if res.Outcome == domain.IngestDeduped {
			result.Deduped++
		} else {
			result.Applied++
		}
	}
	return result, nil
}

func (s *notificationService) List(ctx context.Context, userID uuid.UUID, before domain.Cursor, limit int) (*domain.NotificationPage, error) {
	if limit <= 0 {
		limit = s.cfg.PageSize
	}
	if s.cfg.MaxPageSize > 0 && limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}

	items, err := s.notificationRepo.ListBefore(ctx, userID, before, limit+1)
	if err != nil {
		s.log.Error("Failed to list notifications", "error", err, "user_id", userID)
		return nil, err
	}
	unread, err := s.notificationRepo.UnreadCount(ctx, userID)
	if err != nil {
		return nil, err
	}

	page := &domain.NotificationPage{Notifications: items, UnreadCount: unread}
	if len(items) > limit {
		page.Notifications = items[:limit]
		page.HasMore = true
		page.NextCursor = domain.Cursor(page.Notifications[limit-1].Seq)
	}
	if page.Notifications == nil {
		page.Notifications = []*domain.Notification{}
	}
	return page, nil
}

func (s *notificationService) MarkRead(ctx context.Context, userID uuid.UUID, id string) error {
	changed, err := s.notificationRepo.MarkRead(ctx, userID, id)
	if err != nil {
		return err
	}
	if changed {
		s.publishRead(ctx, userID, []string{id})
	}
	return nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	count, upTo, err := s.notificationRepo.MarkAllRead(ctx, userID)
	if err != nil {
		s.log.Error("Failed to mark all notifications read", "error", err, "user_id", userID)
		return 0, err
	}

	unread, err := s.notificationRepo.UnreadCount(ctx, userID)
	if err != nil {
		unread = 0
	}
	publish(ctx, s.pub, s.log, domain.UserTopic(userID), transport.EventNotificationReadAll,
		transport.ReadAllPayload{UserID: userID.String(), UpTo: upTo, Changed: count, Unread: unread})
	return count, nil
}

func (s *notificationService) MarkSourceRead(ctx context.Context, userID uuid.UUID, category domain.NotificationCategory, sourceID string) (bool, error) {
	id, err := s.notificationRepo.MarkDedupRead(ctx, userID, domain.DedupKey(category, sourceID, userID))
	if err != nil {
		return false, err
	}
	if id == "" {
		return false, nil
	}
	s.publishRead(ctx, userID, []string{id})
	return true, nil
}

func (s *notificationService) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.notificationRepo.UnreadCount(ctx, userID)
}

func (s *notificationService) publishRead(ctx context.Context, userID uuid.UUID, ids []string) {
	unread, err := s.notificationRepo.UnreadCount(ctx, userID)
	if err != nil {
		s.log.Warn("Failed to read unread counter", "error", err, "user_id", userID)
	}
	publish(ctx, s.pub, s.log, domain.UserTopic(userID), transport.EventNotificationRead,
		transport.NotificationReadPayload{UserID: userID.String(), IDs: ids, Unread: unread})
}
