package reconciler

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"member_comms/internal/domain"
	"member_comms/internal/transport"
	"member_comms/pkg/logger"
)

// FeedSession is one open notification feed, newest first.
type FeedSession struct {
	userID     uuid.UUID
	subscriber transport.Subscriber
	source     FeedSource
	surface    FeedSurface
	cfg        SessionConfig
	log        logger.Logger

	view   *View[domain.Notification]
	poller *Poller[*domain.Notification]
	unread atomic.Int64
	// events counts local changes to unread; a poll page fetched before the
	// latest one carries a stale count.
	events   atomic.Int64
	fetchGen atomic.Int64

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewFeedSession(userID uuid.UUID, subscriber transport.Subscriber, source FeedSource, surface FeedSurface, cfg SessionConfig, log logger.Logger) *FeedSession {
	return &FeedSession{
		userID:     userID,
		subscriber: subscriber,
		source:     source,
		surface:    surface,
		cfg:        cfg.withDefaults(),
		log:        log.With("user_id", userID),
		view:       NewView[domain.Notification](),
	}
}

func (s *FeedSession) Start(ctx context.Context, since domain.Cursor) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.poller = NewPoller(s.cfg.PollInterval, since, s.fetch, s.applyDelta, s.log)
	st := &stream{
		topic:        domain.UserTopic(s.userID),
		subscriber:   s.subscriber,
		delay:        s.cfg.ResubscribeDelay,
		log:          s.log,
		onEvent:      s.handle,
		onSubscribed: s.poller.Kick,
	}

	s.wg.Add(2)
	go func() { defer s.wg.Done(); s.poller.Run(ctx) }()
	go func() { defer s.wg.Done(); st.run(ctx) }()
	s.poller.Kick()
}

func (s *FeedSession) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

func (s *FeedSession) View() *View[domain.Notification] { return s.view }

func (s *FeedSession) Cursor() domain.Cursor { return s.poller.Cursor() }

func (s *FeedSession) Unread() int64 { return s.unread.Load() }

func (s *FeedSession) Reconcile(ctx context.Context) error {
	return s.poller.Sync(ctx)
}

// Entries returns the feed newest first.
func (s *FeedSession) Entries() []Entry[domain.Notification] {
	entries := s.view.Snapshot()
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}

func markNotificationRead(n *domain.Notification) bool {
	if n.IsRead {
		return false
	}
	n.IsRead = true
	return true
}

// MarkRead flips the entry locally first, then tells the server.
func (s *FeedSession) MarkRead(ctx context.Context, id string) error {
	s.events.Add(1)
	ch := s.view.Update(id, markNotificationRead)
	if ch.Updated && s.unread.Add(-1) < 0 {
		s.unread.Store(0)
	}
	s.render(ch)

	if err := s.source.MarkNotificationRead(ctx, id); err != nil {
		s.log.Warn("Failed to mark notification read", "error", err, "id", id)
		s.poller.Kick()
		return err
	}
	return nil
}

func (s *FeedSession) MarkAllRead(ctx context.Context) error {
	s.events.Add(1)
	ch := s.view.UpdateWhere(math.MaxInt64, markNotificationRead)
	s.unread.Store(0)
	s.render(mergeChange(ch, Change{Updated: true}))

	if err := s.source.MarkAllNotificationsRead(ctx); err != nil {
		s.log.Warn("Failed to mark all notifications read", "error", err)
		s.poller.Kick()
		return err
	}
	return nil
}

func (s *FeedSession) fetch(ctx context.Context, after domain.Cursor) (*domain.Delta[*domain.Notification], error) {
	s.fetchGen.Store(s.events.Load())
	return s.source.FeedSince(ctx, after, s.cfg.PageSize)
}

// apply merges n and reports whether it is new and unread.
func (s *FeedSession) apply(n domain.Notification) (Change, bool) {
	ch := s.view.ApplyConfirmed(n.ID, "", n.Seq, n)
	if ch.Dropped && n.IsRead {
		ch = mergeChange(ch, s.view.Update(n.ID, markNotificationRead))
	}
	return ch, ch.Inserted && !n.IsRead
}

func (s *FeedSession) applyDelta(delta *domain.Delta[*domain.Notification]) {
	// The first sync loads history; only later discoveries are announced.
	announce := s.poller.Synced()

	var (
		ch    Change
		added int64
	)
	for _, n := range delta.Items {
		c, fresh := s.apply(*n)
		ch = mergeChange(ch, c)
		if !fresh {
			continue
		}
		added++
		if announce {
			s.notify(*n)
		}
	}
	if s.events.Load() == s.fetchGen.Load() {
		s.unread.Store(delta.UnreadCount)
	} else {
		s.unread.Add(added)
	}
	s.render(mergeChange(ch, Change{Updated: true}))
}

func (s *FeedSession) handle(ev transport.Event) {
	s.events.Add(1)
	switch ev.Type {
	case transport.EventNotificationCreated:
		var n domain.Notification
		if err := ev.Decode(&n); err != nil {
			s.log.Warn("Malformed notification event", "error", err)
			return
		}
		if n.UserID != s.userID {
			return
		}
		ch, fresh := s.apply(n)
		if fresh {
			s.unread.Add(1)
			s.notify(n)
		}
		s.render(ch)

	case transport.EventNotificationRead:
		var p transport.NotificationReadPayload
		if err := ev.Decode(&p); err != nil {
			return
		}
		var ch Change
		for _, id := range p.IDs {
			ch = mergeChange(ch, s.view.Update(id, markNotificationRead))
		}
		s.unread.Store(p.Unread)
		s.render(mergeChange(ch, Change{Updated: true}))

	case transport.EventNotificationReadAll:
		var p transport.ReadAllPayload
		if err := ev.Decode(&p); err != nil {
			return
		}
		ch := s.view.UpdateWhere(p.UpTo.Seq(), markNotificationRead)
		s.unread.Store(p.Unread)
		s.render(mergeChange(ch, Change{Updated: true}))
	}
}

func (s *FeedSession) notify(n domain.Notification) {
	if s.closed.Load() || s.surface == nil || s.surface.Focused() {
		return
	}
	s.surface.Notify(n)
}

func (s *FeedSession) render(ch Change) {
	if !ch.Changed() || s.closed.Load() || s.surface == nil {
		return
	}
	s.surface.RenderFeed(s.Entries(), s.unread.Load(), ch)
}
