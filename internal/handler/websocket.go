package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"member_comms/internal/config"
	"member_comms/internal/domain"
	"member_comms/internal/metrics"
	"member_comms/internal/service"
	"member_comms/internal/transport"
	"member_comms/pkg/logger"
)

// FrameSync carries the catch-up delta sent right after connecting.
const FrameSync = "sync"

const maxFrameSize = 4096

// ClientFrame is what a client may send on a socket. Room sockets accept
// {"type":"typing","is_typing":true}.
type ClientFrame struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	if len(allowedOrigins) == 0 {
		return websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		}
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return allowed[r.Header.Get("Origin")]
		},
	}
}

type WebSocketHandler struct {
	rooms        service.RoomService
	sync         service.SyncService
	typing       service.TypingRegister
	subscriber   transport.Subscriber
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	writeWait    time.Duration
	log          logger.Logger
}

func NewWebSocketHandler(services *service.Services, subscriber transport.Subscriber, cfg config.ServerConfig, log logger.Logger) *WebSocketHandler {
	ping := cfg.PingInterval
	if ping <= 0 {
		ping = 30 * time.Second
	}
	writeWait := cfg.WriteTimeout
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	return &WebSocketHandler{
		rooms:        services.Room,
		sync:         services.Sync,
		typing:       services.Typing,
		subscriber:   subscriber,
		upgrader:     newUpgrader(cfg.AllowedOrigins),
		pingInterval: ping,
		writeWait:    writeWait,
		log:          log,
	}
}

// HandleRoom streams one room's events. With a cursor query parameter the
// messages after it are sent first as a sync frame.
func (h *WebSocketHandler) HandleRoom(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	after, catchUp, ok := h.cursor(c)
	if !ok {
		return
	}

	if _, err := h.rooms.Authorize(c.Request.Context(), roomID, userID); err != nil {
		_ = c.Error(err)
		return
	}

	s := socket{
		name:  "room",
		topic: domain.RoomTopic(roomID),
		onFrame: func(ctx context.Context, f ClientFrame) {
			if f.Type != "typing" {
				return
			}
			if err := h.typing.SetTyping(ctx, roomID, userID, f.IsTyping); err != nil {
				h.log.Warn("Failed to set typing", "error", err, "room_id", roomID, "user_id", userID)
			}
		},
	}
	if catchUp {
		s.catchUp = func(ctx context.Context) (interface{}, error) {
			return h.sync.RoomSince(ctx, roomID, userID, after, 0)
		}
	}
	h.serve(c, s)

	// A dropped socket must not leave a stale indicator behind.
	_ = h.typing.SetTyping(context.WithoutCancel(c.Request.Context()), roomID, userID, false)
}

// HandleFeed streams the caller's personal topic: notifications and
// message pushes for every room they are in.
func (h *WebSocketHandler) HandleFeed(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	after, catchUp, ok := h.cursor(c)
	if !ok {
		return
	}

	s := socket{name: "feed", topic: domain.UserTopic(userID)}
	if catchUp {
		s.catchUp = func(ctx context.Context) (interface{}, error) {
			return h.sync.FeedSince(ctx, userID, after, 0)
		}
	}
	h.serve(c, s)
}

func (h *WebSocketHandler) cursor(c *gin.Context) (domain.Cursor, bool, bool) {
	raw, present := c.GetQuery("cursor")
	if !present {
		return 0, false, true
	}
	after, err := domain.ParseCursor(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, false, false
	}
	return after, true, true
}

type socket struct {
	name    string
	topic   string
	catchUp func(ctx context.Context) (interface{}, error)
	onFrame func(ctx context.Context, f ClientFrame)
}

func (h *WebSocketHandler) serve(c *gin.Context, s socket) {
	// Subscribe before the catch-up read so nothing falls in between.
	sub, err := h.subscriber.Subscribe(c.Request.Context(), s.topic)
	if err != nil {
		h.log.Error("Failed to subscribe", "error", err, "topic", s.topic)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime transport unavailable"})
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	metrics.WebsocketClients.WithLabelValues(s.name).Inc()
	defer metrics.WebsocketClients.WithLabelValues(s.name).Dec()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	done := make(chan struct{})
	go h.read(ctx, conn, s, done)

	if s.catchUp != nil {
		delta, err := s.catchUp(ctx)
		if err != nil {
			h.log.Warn("Catch-up failed", "error", err, "topic", s.topic)
			h.closeWith(conn, websocket.CloseInternalServerErr, "catch-up failed")
			return
		}
		ev, err := transport.NewEvent(s.topic, FrameSync, delta)
		if err != nil || h.write(conn, ev) != nil {
			return
		}
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				// The client reconnects with its cursor and catches up.
				h.closeWith(conn, websocket.CloseGoingAway, "stream interrupted")
				return
			}
			if err := h.write(conn, ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) read(ctx context.Context, conn *websocket.Conn, s socket, done chan<- struct{}) {
	defer close(done)

	pongWait := h.pingInterval + h.pingInterval/2
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f ClientFrame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("Websocket read ended", "error", err, "topic", s.topic)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if s.onFrame != nil {
			s.onFrame(ctx, f)
		}
	}
}

func (h *WebSocketHandler) write(conn *websocket.Conn, ev transport.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
	if err := conn.WriteJSON(ev); err != nil {
		h.log.Debug("Websocket write failed", "error", err, "topic", ev.Topic)
		return err
	}
	return nil
}

func (h *WebSocketHandler) closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.writeWait))
}
