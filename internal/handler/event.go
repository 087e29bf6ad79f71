package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"member_comms/internal/domain"
	"member_comms/internal/service"
	"member_comms/pkg/logger"
)

// EventHandler accepts domain events from other member-site services
// (meal selections, calendar entries, joins, announcements, support).
type EventHandler struct {
	notificationService service.NotificationService
	log                 logger.Logger
}

func NewEventHandler(notificationService service.NotificationService, log logger.Logger) *EventHandler {
	return &EventHandler{
		notificationService: notificationService,
		log:                 log,
	}
}

// EventRequest targets either one user or a list of recipients.
type EventRequest struct {
	UserID     *uuid.UUID                  `json:"user_id,omitempty"`
	Recipients []uuid.UUID                 `json:"recipients,omitempty"`
	Category   domain.NotificationCategory `json:"category"`
	Title      string                      `json:"title"`
	Body       string                      `json:"body"`
	SourceID   *string                     `json:"source_id,omitempty"`
	Metadata   map[string]interface{}      `json:"metadata,omitempty"`
}

func (h *EventHandler) Ingest(c *gin.Context) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if len(req.Recipients) > 0 {
		result, err := h.notificationService.IngestBroadcast(c.Request.Context(), service.BroadcastInput{
			Recipients: req.Recipients,
			Category:   req.Category,
			Title:      req.Title,
			Body:       req.Body,
			SourceID:   req.SourceID,
			Metadata:   req.Metadata,
		})
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}

	if req.UserID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id or recipients required"})
		return
	}

	result, err := h.notificationService.Ingest(c.Request.Context(), service.IngestInput{
		UserID:   *req.UserID,
		Category: req.Category,
		Title:    req.Title,
		Body:     req.Body,
		SourceID: req.SourceID,
		Metadata: req.Metadata,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	status := http.StatusCreated
	if result.Outcome == domain.IngestDeduped {
		status = http.StatusOK
	}
	c.JSON(status, result)
}
