package service

import (
	"member_comms/internal/config"
	"member_comms/internal/repository"
	"member_comms/internal/transport"
	"member_comms/pkg/logger"
)

type Services struct {
	Room         RoomService
	Delivery     DeliveryService
	Notification NotificationService
	Typing       TypingRegister
	Sync         SyncService
	RateLimit    RateLimitService
}

func NewServices(repos *repository.Repositories, pub transport.Publisher, cfg *config.Config, log logger.Logger, sinks ...NotificationSink) *Services {
	rooms := NewRoomService(repos.Room, log)
	rateLimit := NewRateLimitService(repos.RateLimit, log)
	notifications := NewNotificationService(repos.Notification, pub, cfg.Notifications, log, sinks...)

	return &Services{
		Room:         rooms,
		Delivery:     NewDeliveryService(rooms, repos.Message, notifications, rateLimit, pub, cfg.Delivery, log),
		Notification: notifications,
		Typing:       NewTypingRegister(pub, cfg.Typing, log),
		Sync:         NewSyncService(rooms, repos.Message, repos.Notification, cfg.Poll, log),
		RateLimit:    rateLimit,
	}
}
