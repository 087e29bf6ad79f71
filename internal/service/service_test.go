package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"member_comms/internal/config"
	"member_comms/internal/domain"
	"member_comms/internal/repository"
	"member_comms/internal/transport"
	"member_comms/pkg/logger"
)

type fixture struct {
	store *repository.MemoryStore
	repos *repository.Repositories
	hub   *transport.MemoryTransport
	cfg   *config.Config
	svc   *Services
	sink  *recordingSink
}

func testConfig() *config.Config {
	return &config.Config{
		Delivery: config.DeliveryConfig{
			MaxContentLength:  100,
			FanoutConcurrency: 4,
			RateLimit:         1000,
			RateWindow:        time.Minute,
		},
		Typing:        config.TypingConfig{TTL: 5 * time.Second, SweepInterval: 10 * time.Millisecond},
		Poll:          config.PollConfig{Interval: time.Second, PageSize: 50},
		Notifications: config.NotificationConfig{PageSize: 20, MaxPageSize: 100},
	}
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, testConfig(), nil)
}

func newFixtureWith(t *testing.T, cfg *config.Config, pub transport.Publisher) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	repos := &repository.Repositories{
		Room:         store.Rooms(),
		Message:      store.Messages(),
		Notification: store.Notifications(),
		RateLimit:    repository.NewMemoryRateLimitRepository(),
	}
	hub := transport.NewMemoryTransport(256)
	t.Cleanup(func() { hub.Close() })
	if pub == nil {
		pub = hub
	}
	sink := &recordingSink{}
	return &fixture{
		store: store,
		repos: repos,
		hub:   hub,
		cfg:   cfg,
		svc:   NewServices(repos, pub, cfg, logger.NewNop(), sink),
		sink:  sink,
	}
}

func (f *fixture) room(t *testing.T, creator uuid.UUID, others ...uuid.UUID) *domain.Room {
	t.Helper()
	room, created, err := f.svc.Room.Create(context.Background(), creator, CreateRoomInput{
		ParticipantIDs: others,
		IsGroup:        len(others) > 1,
	})
	require.NoError(t, err)
	require.True(t, created)
	return room
}

func (f *fixture) subscribe(t *testing.T, topic string) transport.Subscription {
	t.Helper()
	sub, err := f.hub.Subscribe(context.Background(), topic)
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })
	return sub
}

// drain collects whatever is already buffered on sub.
func drain(sub transport.Subscription) []transport.Event {
	var out []transport.Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(events []transport.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

type recordingSink struct {
	mu    sync.Mutex
	items []*domain.Notification
}

func (s *recordingSink) Deliver(_ context.Context, n *domain.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, n)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, transport.Event) error {
	return errors.New("transport down")
}

type failingMessages struct {
	repository.MessageRepository
}

func (failingMessages) Append(context.Context, *domain.Message) (bool, error) {
	return false, errors.New("disk full")
}
