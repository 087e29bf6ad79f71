package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"member_comms/internal/service"
	"member_comms/pkg/logger"
)

type TypingHandler struct {
	roomService service.RoomService
	typing      service.TypingRegister
	log         logger.Logger
}

func NewTypingHandler(roomService service.RoomService, typing service.TypingRegister, log logger.Logger) *TypingHandler {
	return &TypingHandler{
		roomService: roomService,
		typing:      typing,
		log:         log,
	}
}

type SetTypingRequest struct {
	IsTyping bool `json:"is_typing"`
}

func (h *TypingHandler) Set(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	var req SetTypingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.roomService.Authorize(c.Request.Context(), roomID, userID); err != nil {
		_ = c.Error(err)
		return
	}
	if err := h.typing.SetTyping(c.Request.Context(), roomID, userID, req.IsTyping); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *TypingHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	if _, err := h.roomService.Authorize(c.Request.Context(), roomID, userID); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, h.typing.Typing(roomID))
}
