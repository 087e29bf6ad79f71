package reconciler

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"member_comms/internal/domain"
	"member_comms/internal/transport"
	"member_comms/pkg/logger"
)

// RoomSession is one open room view: it owns the merged message list and the
// typing indicators, fed by sends, pushes and polling.
type RoomSession struct {
	roomID     uuid.UUID
	userID     uuid.UUID
	subscriber transport.Subscriber
	sender     MessageSender
	source     RoomSource
	surface    RoomSurface
	cfg        SessionConfig
	log        logger.Logger
	now        func() time.Time

	view   *View[domain.Message]
	poller *Poller[*domain.Message]

	typingMu sync.Mutex
	typing   map[uuid.UUID]time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	inflight  sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewRoomSession(
	roomID, userID uuid.UUID,
	subscriber transport.Subscriber,
	sender MessageSender,
	source RoomSource,
	surface RoomSurface,
	cfg SessionConfig,
	log logger.Logger,
) *RoomSession {
	return &RoomSession{
		roomID:     roomID,
		userID:     userID,
		subscriber: subscriber,
		sender:     sender,
		source:     source,
		surface:    surface,
		cfg:        cfg.withDefaults(),
		log:        log.With("room_id", roomID, "user_id", userID),
		now:        time.Now,
		view:       NewView[domain.Message](),
		typing:     make(map[uuid.UUID]time.Time),
	}
}

// Start subscribes to the room topic and begins reconciling from since.
func (s *RoomSession) Start(ctx context.Context, since domain.Cursor) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.poller = NewPoller(s.cfg.PollInterval, since, s.fetch, s.applyDelta, s.log)
	st := &stream{
		topic:        domain.RoomTopic(s.roomID),
		subscriber:   s.subscriber,
		delay:        s.cfg.ResubscribeDelay,
		log:          s.log,
		onEvent:      s.handle,
		onSubscribed: s.poller.Kick,
	}

	s.wg.Add(3)
	go func() { defer s.wg.Done(); s.poller.Run(ctx) }()
	go func() { defer s.wg.Done(); st.run(ctx) }()
	go func() { defer s.wg.Done(); s.housekeep(ctx) }()

	// Reconcile even if the transport never comes up.
	s.poller.Kick()
}

// Close unsubscribes and stops polling. Sends already in flight still
// complete and update the view.
func (s *RoomSession) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

func (s *RoomSession) View() *View[domain.Message] { return s.view }

// Cursor is the poller's position in the room.
func (s *RoomSession) Cursor() domain.Cursor { return s.poller.Cursor() }

// Reconcile runs one synchronous poll, as after a reconnect.
func (s *RoomSession) Reconcile(ctx context.Context) error {
	return s.poller.Sync(ctx)
}

// Send adds an optimistic entry and dispatches the send in the background.
// It returns the client token that will correlate the confirmation.
func (s *RoomSession) Send(content string, kind domain.MessageKind) string {
	if kind == "" {
		kind = domain.MessageKindText
	}
	token := domain.NewID()
	now := s.now()
	msg := domain.Message{
		RoomID:      s.roomID,
		SenderID:    s.userID,
		Content:     content,
		Kind:        kind,
		CreatedAt:   now,
		ClientToken: token,
	}
	s.render(s.view.AddOptimistic(token, msg, now))
	s.dispatch(token, msg)
	return token
}

// Retry resends a failed entry under the same token.
func (s *RoomSession) Retry(token string) bool {
	msg, ch := s.view.Retry(token, s.now())
	if !ch.Changed() {
		return false
	}
	s.render(ch)
	s.dispatch(token, msg)
	return true
}

// WaitInflight blocks until every dispatched send has settled.
func (s *RoomSession) WaitInflight() {
	s.inflight.Wait()
}

func (s *RoomSession) dispatch(token string, msg domain.Message) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PendingTimeout)
		defer cancel()

		confirmed, err := s.sender.SendMessage(ctx, s.roomID, msg.Content, msg.Kind, token)
		if err != nil {
			s.log.Warn("Send failed", "error", err, "client_token", token)
			s.render(s.view.MarkFailed(token))
			return
		}
		s.render(s.apply(*confirmed))
	}()
}

func (s *RoomSession) apply(m domain.Message) Change {
	if m.RoomID != s.roomID {
		return Change{}
	}
	ch := s.view.ApplyConfirmed(m.ID, m.ClientToken, m.Seq, m)
	if ch.Dropped && m.IsRead {
		ch = mergeChange(ch, s.view.Update(m.ID, markMessageRead))
	}
	return ch
}

func markMessageRead(m *domain.Message) bool {
	if m.IsRead {
		return false
	}
	m.IsRead = true
	return true
}

func (s *RoomSession) fetch(ctx context.Context, after domain.Cursor) (*domain.Delta[*domain.Message], error) {
	return s.source.RoomSince(ctx, s.roomID, after, s.cfg.PageSize)
}

func (s *RoomSession) applyDelta(delta *domain.Delta[*domain.Message]) {
	var ch Change
	for _, m := range delta.Items {
		ch = mergeChange(ch, s.apply(*m))
	}
	s.render(ch)
}

func (s *RoomSession) handle(ev transport.Event) {
	switch ev.Type {
	case transport.EventMessageCreated:
		var m domain.Message
		if err := ev.Decode(&m); err != nil {
			s.log.Warn("Malformed message event", "error", err)
			return
		}
		s.render(s.apply(m))

	case transport.EventMessageRead:
		var r domain.ReadReceipt
		if err := ev.Decode(&r); err != nil {
			return
		}
		s.render(s.view.Update(r.MessageID, markMessageRead))

	case transport.EventRoomRead:
		var r domain.ReadReceipt
		if err := ev.Decode(&r); err != nil {
			return
		}
		s.render(s.view.UpdateWhere(r.UpToSeq, func(m *domain.Message) bool {
			return m.SenderID != r.ReaderID && markMessageRead(m)
		}))

	case transport.EventTypingStarted, transport.EventTypingStopped:
		var p transport.TypingPayload
		if err := ev.Decode(&p); err != nil {
			return
		}
		userID, err := uuid.Parse(p.UserID)
		if err != nil || userID == s.userID {
			return
		}
		s.setTyping(userID, ev.Type == transport.EventTypingStarted)
	}
}

func (s *RoomSession) setTyping(userID uuid.UUID, typing bool) {
	s.typingMu.Lock()
	_, was := s.typing[userID]
	if typing {
		s.typing[userID] = s.now().Add(s.cfg.TypingTTL)
	} else {
		delete(s.typing, userID)
	}
	s.typingMu.Unlock()

	if typing != was {
		s.renderTyping()
	}
}

// Typing lists the other participants currently typing.
func (s *RoomSession) Typing() []uuid.UUID {
	now := s.now()
	s.typingMu.Lock()
	defer s.typingMu.Unlock()

	out := make([]uuid.UUID, 0, len(s.typing))
	for id, expiresAt := range s.typing {
		if expiresAt.After(now) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func (s *RoomSession) housekeep(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := s.now()
		if expired := s.view.ExpirePending(now, s.cfg.PendingTimeout); len(expired) > 0 {
			s.log.Warn("Sends timed out", "count", len(expired))
			s.render(Change{Updated: true})
		}

		s.typingMu.Lock()
		stale := false
		for id, expiresAt := range s.typing {
			if !expiresAt.After(now) {
				delete(s.typing, id)
				stale = true
			}
		}
		s.typingMu.Unlock()
		if stale {
			s.renderTyping()
		}
	}
}

func (s *RoomSession) render(ch Change) {
	if !ch.Changed() || s.closed.Load() || s.surface == nil {
		return
	}
	s.surface.RenderMessages(s.view.Snapshot(), ch)
}

func (s *RoomSession) renderTyping() {
	if s.closed.Load() || s.surface == nil {
		return
	}
	s.surface.RenderTyping(s.Typing())
}
