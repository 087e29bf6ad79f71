package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"member_comms/pkg/logger"
)

type Repositories struct {
	Room         RoomRepository
	Message      MessageRepository
	Notification NotificationRepository
	RateLimit    RateLimitRepository
}

// NewRepositories wires the Postgres store. The rate limiter uses Redis when a
// client is supplied and falls back to an in-process limiter otherwise.
func NewRepositories(db *pgxpool.Pool, rdb *redis.Client, log logger.Logger) *Repositories {
	repos := &Repositories{
		Room:         NewRoomRepository(db, log),
		Message:      NewMessageRepository(db, log),
		Notification: NewNotificationRepository(db, log),
		RateLimit:    NewMemoryRateLimitRepository(),
	}

	if rdb != nil {
		repos.RateLimit = NewRateLimitRepository(rdb, log)
		log.Info("RateLimit repository backed by Redis")
	}

	return repos
}

// NewMemoryRepositories wires the in-process store.
func NewMemoryRepositories(log logger.Logger) *Repositories {
	store := NewMemoryStore()
	log.Info("Using in-memory store")
	return &Repositories{
		Room:         store.Rooms(),
		Message:      store.Messages(),
		Notification: store.Notifications(),
		RateLimit:    NewMemoryRateLimitRepository(),
	}
}
