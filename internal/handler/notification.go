package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"member_comms/internal/service"
	"member_comms/pkg/logger"
)

type NotificationHandler struct {
	notificationService service.NotificationService
	syncService         service.SyncService
	log                 logger.Logger
}

func NewNotificationHandler(notificationService service.NotificationService, syncService service.SyncService, log logger.Logger) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
		syncService:         syncService,
		log:                 log,
	}
}

func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	before, ok := cursorQuery(c, "before")
	if !ok {
		return
	}

	page, err := h.notificationService.List(c.Request.Context(), userID, before, intQuery(c, "limit", 0))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, page)
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	count, err := h.notificationService.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.notificationService.MarkRead(c.Request.Context(), userID, c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Notification marked read"})
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	marked, err := h.notificationService.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"marked": marked})
}

// Sync is the poll fallback for the caller's feed.
func (h *NotificationHandler) Sync(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	after, ok := cursorQuery(c, "after")
	if !ok {
		return
	}

	delta, err := h.syncService.FeedSince(c.Request.Context(), userID, after, intQuery(c, "limit", 0))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, delta)
}
