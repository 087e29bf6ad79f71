package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"member_comms/internal/config"
	"member_comms/internal/middleware"
	"member_comms/pkg/logger"
)

func SetupRouter(
	handlers *Handlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimitMiddleware *middleware.RateLimitMiddleware,
	cfg *config.Config,
	log logger.Logger,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.Metrics())
	router.Use(middleware.ErrorHandler(log))

	// Health check
	router.GET("/health", handlers.Health.Check)
	router.GET("/ready", handlers.Health.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (защищенные endpoints)
	v1 := router.Group("/api/v1")
	v1.Use(authMiddleware.RequireAuth(), rateLimitMiddleware.Limit())
	{
		// Комнаты и сообщения
		rooms := v1.Group("/rooms")
		{
			rooms.POST("", handlers.Room.Create)
			rooms.GET("", handlers.Room.List)
			rooms.GET("/:id", handlers.Room.GetByID)

			rooms.GET("/:id/messages", handlers.Message.List)
			rooms.POST("/:id/messages", handlers.Message.Send)
			rooms.POST("/:id/messages/:messageId/read", handlers.Message.MarkRead)
			rooms.POST("/:id/read", handlers.Message.MarkRoomRead)
			rooms.GET("/:id/sync", handlers.Message.Sync)

			rooms.GET("/:id/typing", handlers.Typing.List)
			rooms.POST("/:id/typing", handlers.Typing.Set)
		}

		// Уведомления
		notifications := v1.Group("/notifications")
		{
			notifications.GET("", handlers.Notification.List)
			notifications.GET("/unread-count", handlers.Notification.UnreadCount)
			notifications.GET("/sync", handlers.Notification.Sync)
			notifications.POST("/read-all", handlers.Notification.MarkAllRead)
			notifications.POST("/:id/read", handlers.Notification.MarkRead)
		}

		// Other member-site services report domain events here.
		v1.POST("/events", authMiddleware.RequireAdmin(), handlers.Event.Ingest)
	}

	// WebSocket
	ws := router.Group("/ws")
	ws.Use(authMiddleware.RequireAuth())
	{
		ws.GET("/rooms/:id", handlers.WebSocket.HandleRoom)
		ws.GET("/feed", handlers.WebSocket.HandleFeed)
	}

	return router
}
