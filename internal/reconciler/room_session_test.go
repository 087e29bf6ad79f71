package reconciler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"member_comms/internal/domain"
	"member_comms/pkg/logger"
)

func startRoom(t *testing.T, e *env, roomID, userID uuid.UUID, sender MessageSender, surface RoomSurface, cfg SessionConfig, since domain.Cursor) *RoomSession {
	t.Helper()
	client := NewLocalClient(e.svc, userID)
	if sender == nil {
		sender = client
	}
	s := NewRoomSession(roomID, userID, e.manager, sender, client, surface, cfg, logger.NewNop())
	s.Start(context.Background(), since)
	t.Cleanup(s.Close)
	e.waitSubscribed(t, domain.RoomTopic(roomID))
	return s
}

type flakySender struct {
	fail atomic.Bool
	next MessageSender
}

func (f *flakySender) SendMessage(ctx context.Context, roomID uuid.UUID, content string, kind domain.MessageKind, token string) (*domain.Message, error) {
	if f.fail.Load() {
		return nil, errors.New("network unreachable")
	}
	return f.next.SendMessage(ctx, roomID, content, kind, token)
}

// gatedSender holds every send until the gate opens or the context ends.
type gatedSender struct {
	gate chan struct{}
	next MessageSender
}

func (g *gatedSender) SendMessage(ctx context.Context, roomID uuid.UUID, content string, kind domain.MessageKind, token string) (*domain.Message, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.next.SendMessage(ctx, roomID, content, kind, token)
}

func TestRoomSession_SendShowsImmediatelyAndConfirmsOnce(t *testing.T) {
	e := newEnv(t)
	alice, bob := uuid.New(), uuid.New()
	room := e.room(t, alice, bob)
	surface := &roomSurface{}

	gate := &gatedSender{gate: make(chan struct{}), next: NewLocalClient(e.svc, alice)}
	s := startRoom(t, e, room.ID, alice, gate, surface, SessionConfig{}, 0)

	token := s.Send("hello bob", "")
	entries := s.View().Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, token, entries[0].Token)
	assert.Equal(t, OriginOptimistic, entries[0].Origin)
	assert.Equal(t, StatusPending, entries[0].Status)
	assert.Equal(t, domain.MessageKindText, entries[0].Value.Kind)

	close(gate.gate)
	s.WaitInflight()
	require.NoError(t, s.Reconcile(context.Background()))

	// Send response, room push and poll all carry the same message.
	assert.Eventually(t, func() bool {
		entries := s.View().Snapshot()
		return len(entries) == 1 && entries[0].Status == StatusConfirmed
	}, time.Second, 5*time.Millisecond)

	entries = s.View().Snapshot()
	assert.NotEmpty(t, entries[0].ID)
	assert.Equal(t, int64(1), entries[0].Order)
	assert.Equal(t, "hello bob", entries[0].Value.Content)
	assert.Equal(t, domain.Cursor(1), s.Cursor())
	assert.GreaterOrEqual(t, surface.renderCount(), 2)
}

func TestRoomSession_PushFromOtherParticipant(t *testing.T) {
	e := newEnv(t)
	alice, bob := uuid.New(), uuid.New()
	room := e.room(t, alice, bob)
	surface := &roomSurface{}
	s := startRoom(t, e, room.ID, alice, nil, surface, SessionConfig{}, 0)

	e.send(t, room.ID, bob, "hi alice")
	e.send(t, room.ID, bob, "are you there?")

	assert.Eventually(t, func() bool { return s.View().Len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"hi alice", "are you there?"}, contents(s.View()))

	surface.mu.Lock()
	defer surface.mu.Unlock()
	assert.GreaterOrEqual(t, surface.tails, 2)
}

func TestRoomSession_PollingRecoversMissedMessages(t *testing.T) {
	e := newEnv(t)
	alice, bob := uuid.New(), uuid.New()
	room := e.room(t, alice, bob)

	// Sent while alice had no subscription.
	e.send(t, room.ID, bob, "one")
	e.send(t, room.ID, alice, "two")
	e.send(t, room.ID, bob, "three")

	s := startRoom(t, e, room.ID, alice, nil, nil, SessionConfig{}, 0)
	assert.Eventually(t, func() bool { return s.Cursor() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"one", "two", "three"}, contents(s.View()))
}

func TestRoomSession_StartsFromCursor(t *testing.T) {
	e := newEnv(t)
	alice, bob := uuid.New(), uuid.New()
	room := e.room(t, alice, bob)
	e.send(t, room.ID, bob, "one")
	e.send(t, room.ID, bob, "two")
	e.send(t, room.ID, bob, "three")

	s := startRoom(t, e, room.ID, alice, nil, nil, SessionConfig{}, 2)
	require.NoError(t, s.Reconcile(context.Background()))
	assert.Equal(t, []string{"three"}, contents(s.View()))
}

func TestRoomSession_FailedSendCanBeRetried(t *testing.T) {
	e := newEnv(t)
	alice, bob := uuid.New(), uuid.New()
	room := e.room(t, alice, bob)

	sender := &flakySender{next: NewLocalClient(e.svc, alice)}
	sender.fail.Store(true)
	s := startRoom(t, e, room.ID, alice, sender, nil, SessionConfig{}, 0)

	token := s.Send("lost", "")
	s.WaitInflight()
	entries := s.View().Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, StatusFailed, entries[0].Status)

	sender.fail.Store(false)
	require.True(t, s.Retry(token))
	s.WaitInflight()

	entries = s.View().Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, StatusConfirmed, entries[0].Status)
	assert.Equal(t, token, entries[0].Value.ClientToken)
	assert.False(t, s.Retry(token), "confirmed entries are not retried")
}

func TestRoomSession_PendingTimesOut(t *testing.T) {
	e := newEnv(t)
	alice, bob := uuid.New(), uuid.New()
	room := e.room(t, alice, bob)

	stuck := &gatedSender{gate: make(chan struct{}), next: NewLocalClient(e.svc, alice)}
	cfg := SessionConfig{PendingTimeout: 50 * time.Millisecond, TickInterval: 10 * time.Millisecond}
	s := startRoom(t, e, room.ID, alice, stuck, nil, cfg, 0)

	s.Send("slow", "")
	assert.Eventually(t, func() bool {
		entries := s.View().Snapshot()
		return len(entries) == 1 && entries[0].Status == StatusFailed
	}, time.Second, 5*time.Millisecond)
	s.WaitInflight()
	assert.Equal(t, 0, s.View().Pending())
}

func TestRoomSession_OwnMessageStaysAfterOthers(t *testing.T) {
	e := newEnv(t)
	alice, bob := uuid.New(), uuid.New()
	room := e.room(t, alice, bob)

	gate := &gatedSender{gate: make(chan struct{}), next: NewLocalClient(e.svc, alice)}
	s := startRoom(t, e, room.ID, alice, gate, nil, SessionConfig{}, 0)

	s.Send("mine", "")
	e.send(t, room.ID, bob, "theirs")
	assert.Eventually(t, func() bool { return s.View().Len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"theirs", "mine"}, contents(s.View()))

	close(gate.gate)
	s.WaitInflight()
	entries := s.View().Snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].Order)
	assert.Equal(t, int64(2), entries[1].Order)
	assert.Equal(t, "mine", entries[1].Value.Content)
}

func TestRoomSession_ReadReceipts(t *testing.T) {
	e := newEnv(t)
	alice, bob := uuid.New(), uuid.New()
	room := e.room(t, alice, bob)
	s := startRoom(t, e, room.ID, alice, nil, nil, SessionConfig{}, 0)

	first := e.send(t, room.ID, alice, "one")
	e.send(t, room.ID, alice, "two")
	e.send(t, room.ID, bob, "three")
	assert.Eventually(t, func() bool { return s.View().Len() == 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, e.svc.Delivery.MarkRead(context.Background(), room.ID, first.ID, bob))
	assert.Eventually(t, func() bool { return s.View().Snapshot()[0].Value.IsRead }, time.Second, 5*time.Millisecond)

	_, err := e.svc.Delivery.MarkRoomRead(context.Background(), room.ID, bob)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return s.View().Snapshot()[1].Value.IsRead }, time.Second, 5*time.Millisecond)

	// Bob reading the room does not mark bob's own message read.
	assert.False(t, s.View().Snapshot()[2].Value.IsRead)
}

func TestRoomSession_TypingIndicators(t *testing.T) {
	e := newEnv(t)
	alice, bob := uuid.New(), uuid.New()
	room := e.room(t, alice, bob)
	surface := &roomSurface{}
	s := startRoom(t, e, room.ID, alice, nil, surface, SessionConfig{}, 0)
	ctx := context.Background()

	require.NoError(t, e.svc.Typing.SetTyping(ctx, room.ID, alice, true))
	require.NoError(t, e.svc.Typing.SetTyping(ctx, room.ID, bob, true))
	assert.Eventually(t, func() bool { return len(surface.typers()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uuid.UUID{bob}, s.Typing(), "own typing is not shown")

	require.NoError(t, e.svc.Typing.SetTyping(ctx, room.ID, bob, false))
	assert.Eventually(t, func() bool { return len(surface.typers()) == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, s.Typing())
}

func TestRoomSession_TypingExpiresLocally(t *testing.T) {
	e := newEnv(t)
	alice, bob := uuid.New(), uuid.New()
	room := e.room(t, alice, bob)
	surface := &roomSurface{}
	cfg := SessionConfig{TypingTTL: 30 * time.Millisecond, TickInterval: 10 * time.Millisecond}
	startRoom(t, e, room.ID, alice, nil, surface, cfg, 0)

	// A start with no matching stop, as when the stop event is lost.
	require.NoError(t, e.svc.Typing.SetTyping(context.Background(), room.ID, bob, true))
	assert.Eventually(t, func() bool { return len(surface.typers()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(surface.typers()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestRoomSession_CloseLetsInflightSendFinish(t *testing.T) {
	e := newEnv(t)
	alice, bob := uuid.New(), uuid.New()
	room := e.room(t, alice, bob)
	surface := &roomSurface{}

	gate := &gatedSender{gate: make(chan struct{}), next: NewLocalClient(e.svc, alice)}
	s := startRoom(t, e, room.ID, alice, gate, surface, SessionConfig{}, 0)

	s.Send("last words", "")
	s.Close()
	assert.Eventually(t, func() bool { return e.hub.Subscribers(domain.RoomTopic(room.ID)) == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, e.manager.State().Refs)
	renders := surface.renderCount()

	close(gate.gate)
	s.WaitInflight()

	entries := s.View().Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, StatusConfirmed, entries[0].Status)
	assert.Equal(t, renders, surface.renderCount(), "closed sessions do not render")

	page, err := e.svc.Delivery.ListMessages(context.Background(), room.ID, bob, 0, 10)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 1)
}

// lostReplySender persists the send but loses the response on the way back.
type lostReplySender struct {
	next MessageSender
}

func (l lostReplySender) SendMessage(ctx context.Context, roomID uuid.UUID, content string, kind domain.MessageKind, token string) (*domain.Message, error) {
	if _, err := l.next.SendMessage(ctx, roomID, content, kind, token); err != nil {
		return nil, err
	}
	return nil, errors.New("connection reset")
}

func TestRoomSession_ReconcileConvergesOptimisticEntries(t *testing.T) {
	e := newEnv(t)
	alice, bob := uuid.New(), uuid.New()
	room := e.room(t, alice, bob)

	// No subscription: the poll is the only way back.
	s := NewRoomSession(room.ID, alice, e.manager, lostReplySender{next: NewLocalClient(e.svc, alice)}, NewLocalClient(e.svc, alice), nil, SessionConfig{}, logger.NewNop())
	s.poller = NewPoller(time.Hour, 0, s.fetch, s.applyDelta, s.log)

	s.Send("one", "")
	s.WaitInflight()
	s.Send("two", "")
	s.WaitInflight()
	assert.Equal(t, 2, s.View().Len())

	require.NoError(t, s.Reconcile(context.Background()))

	entries := s.View().Snapshot()
	require.Len(t, entries, 2)
	for i, want := range []string{"one", "two"} {
		assert.Equal(t, want, entries[i].Value.Content)
		assert.Equal(t, OriginConfirmed, entries[i].Origin)
		assert.Equal(t, StatusConfirmed, entries[i].Status)
		assert.NotEmpty(t, entries[i].ID)
	}
	assert.Equal(t, domain.Cursor(2), s.Cursor())
}

// firstReplyLostSender persists every send but loses the first response.
type firstReplyLostSender struct {
	calls atomic.Int32
	next  MessageSender
}

func (f *firstReplyLostSender) SendMessage(ctx context.Context, roomID uuid.UUID, content string, kind domain.MessageKind, token string) (*domain.Message, error) {
	msg, err := f.next.SendMessage(ctx, roomID, content, kind, token)
	if err != nil {
		return nil, err
	}
	if f.calls.Add(1) == 1 {
		return nil, errors.New("response lost")
	}
	return msg, nil
}

func TestRoomSession_RetryAfterLostResponseStoresOnce(t *testing.T) {
	e := newEnv(t)
	alice, bob := uuid.New(), uuid.New()
	room := e.room(t, alice, bob)

	sender := &firstReplyLostSender{next: NewLocalClient(e.svc, alice)}
	s := NewRoomSession(room.ID, alice, e.manager, sender, NewLocalClient(e.svc, alice), nil, SessionConfig{}, logger.NewNop())
	s.poller = NewPoller(time.Hour, 0, s.fetch, s.applyDelta, s.log)

	token := s.Send("hi", "")
	s.WaitInflight()
	entries := s.View().Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, StatusFailed, entries[0].Status)

	require.True(t, s.Retry(token))
	s.WaitInflight()
	require.NoError(t, s.Reconcile(context.Background()))

	page, err := e.svc.Delivery.ListMessages(context.Background(), room.ID, bob, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)

	entries = s.View().Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, page.Messages[0].ID, entries[0].ID)
	assert.Equal(t, token, entries[0].Token)
	assert.Equal(t, StatusConfirmed, entries[0].Status)
	assert.Equal(t, domain.Cursor(1), s.Cursor())
}
