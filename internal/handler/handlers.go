package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"member_comms/internal/config"
	"member_comms/internal/domain"
	"member_comms/internal/middleware"
	"member_comms/internal/service"
	"member_comms/internal/transport"
	"member_comms/pkg/logger"
)

type Handlers struct {
	Health       *HealthHandler
	Room         *RoomHandler
	Message      *MessageHandler
	Typing       *TypingHandler
	Notification *NotificationHandler
	Event        *EventHandler
	WebSocket    *WebSocketHandler
}

func NewHandlers(services *service.Services, sub transport.Subscriber, cfg *config.Config, log logger.Logger, checks ...HealthCheck) *Handlers {
	return &Handlers{
		Health:       NewHealthHandler(checks...),
		Room:         NewRoomHandler(services.Room, log),
		Message:      NewMessageHandler(services.Delivery, services.Sync, log),
		Typing:       NewTypingHandler(services.Room, services.Typing, log),
		Notification: NewNotificationHandler(services.Notification, services.Sync, log),
		Event:        NewEventHandler(services.Notification, log),
		WebSocket:    NewWebSocketHandler(services, sub, cfg.Server, log),
	}
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(middleware.ContextUserID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return uuid.Nil, false
	}
	return id, true
}

func roomParam(c *gin.Context) (uuid.UUID, bool) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room ID"})
		return uuid.Nil, false
	}
	return roomID, true
}

func cursorQuery(c *gin.Context, name string) (domain.Cursor, bool) {
	cursor, err := domain.ParseCursor(c.Query(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, false
	}
	return cursor, true
}

func intQuery(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}
