package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"member_comms/internal/config"
	"member_comms/internal/domain"
	"member_comms/internal/repository"
	"member_comms/internal/service"
	"member_comms/internal/transport"
	"member_comms/pkg/logger"
)

type env struct {
	hub     *transport.MemoryTransport
	manager *transport.Manager
	svc     *service.Services
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := &config.Config{
		Delivery: config.DeliveryConfig{
			MaxContentLength:  1000,
			FanoutConcurrency: 4,
			RateLimit:         1000,
			RateWindow:        time.Minute,
		},
		Typing:        config.TypingConfig{TTL: 5 * time.Second, SweepInterval: time.Second},
		Poll:          config.PollConfig{Interval: time.Second, PageSize: 50},
		Notifications: config.NotificationConfig{PageSize: 20, MaxPageSize: 100},
	}
	log := logger.NewNop()
	hub := transport.NewMemoryTransport(256)
	t.Cleanup(func() { hub.Close() })
	return &env{
		hub:     hub,
		manager: transport.NewManager(transport.Shared(hub), log),
		svc:     service.NewServices(repository.NewMemoryRepositories(log), hub, cfg, log),
	}
}

func (e *env) room(t *testing.T, creator uuid.UUID, others ...uuid.UUID) *domain.Room {
	t.Helper()
	room, _, err := e.svc.Room.Create(context.Background(), creator, service.CreateRoomInput{
		ParticipantIDs: others,
		IsGroup:        len(others) > 1,
	})
	require.NoError(t, err)
	return room
}

func (e *env) send(t *testing.T, roomID, senderID uuid.UUID, content string) *domain.Message {
	t.Helper()
	msg, err := e.svc.Delivery.SendMessage(context.Background(), service.SendMessageInput{
		RoomID:   roomID,
		SenderID: senderID,
		Content:  content,
	})
	require.NoError(t, err)
	return msg
}

func (e *env) waitSubscribed(t *testing.T, topic string) {
	t.Helper()
	require.Eventually(t, func() bool { return e.hub.Subscribers(topic) > 0 }, time.Second, 5*time.Millisecond)
}

type roomSurface struct {
	mu      sync.Mutex
	renders int
	tails   int
	last    []Entry[domain.Message]
	typing  []uuid.UUID
}

func (s *roomSurface) RenderMessages(entries []Entry[domain.Message], change Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renders++
	if change.TailChanged {
		s.tails++
	}
	s.last = entries
}

func (s *roomSurface) RenderTyping(userIDs []uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = userIDs
}

func (s *roomSurface) renderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renders
}

func (s *roomSurface) typers() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

type feedSurface struct {
	mu       sync.Mutex
	focused  bool
	renders  int
	last     []Entry[domain.Notification]
	unread   int64
	notified []domain.Notification
}

func (s *feedSurface) RenderFeed(entries []Entry[domain.Notification], unread int64, _ Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renders++
	s.last = entries
	s.unread = unread
}

func (s *feedSurface) Notify(n domain.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notified = append(s.notified, n)
}

func (s *feedSurface) Focused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

func (s *feedSurface) notifications() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Notification(nil), s.notified...)
}

func (s *feedSurface) shownUnread() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

func contents(v *View[domain.Message]) []string {
	var out []string
	for _, e := range v.Snapshot() {
		out = append(out, e.Value.Content)
	}
	return out
}
