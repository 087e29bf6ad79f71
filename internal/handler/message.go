package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"member_comms/internal/domain"
	"member_comms/internal/service"
	"member_comms/pkg/logger"
)

type MessageHandler struct {
	deliveryService service.DeliveryService
	syncService     service.SyncService
	log             logger.Logger
}

func NewMessageHandler(deliveryService service.DeliveryService, syncService service.SyncService, log logger.Logger) *MessageHandler {
	return &MessageHandler{
		deliveryService: deliveryService,
		syncService:     syncService,
		log:             log,
	}
}

func (h *MessageHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	before, ok := cursorQuery(c, "before")
	if !ok {
		return
	}

	page, err := h.deliveryService.ListMessages(c.Request.Context(), roomID, userID, before, intQuery(c, "limit", 50))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, page)
}

type SendMessageRequest struct {
	Content     string             `json:"content"`
	Kind        domain.MessageKind `json:"kind"`
	ClientToken string             `json:"client_token"`
}

func (h *MessageHandler) Send(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := h.deliveryService.SendMessage(c.Request.Context(), service.SendMessageInput{
		RoomID:      roomID,
		SenderID:    userID,
		Content:     req.Content,
		Kind:        req.Kind,
		ClientToken: req.ClientToken,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, message)
}

func (h *MessageHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	if err := h.deliveryService.MarkRead(c.Request.Context(), roomID, c.Param("messageId"), userID); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Message marked read"})
}

func (h *MessageHandler) MarkRoomRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	marked, err := h.deliveryService.MarkRoomRead(c.Request.Context(), roomID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"marked": marked})
}

// Sync is the poll fallback for one room.
func (h *MessageHandler) Sync(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	after, ok := cursorQuery(c, "after")
	if !ok {
		return
	}

	delta, err := h.syncService.RoomSince(c.Request.Context(), roomID, userID, after, intQuery(c, "limit", 0))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, delta)
}
