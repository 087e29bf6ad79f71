package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"member_comms/internal/domain"
	apperrors "member_comms/pkg/errors"
)

// MemoryStore is an in-process Store used for development and tests. Each
// room and each user feed has its own mutex: work on one key is serialized,
// work on different keys is independent.
type MemoryStore struct {
	mu     sync.RWMutex
	rooms  map[uuid.UUID]*memRoom
	direct map[string]uuid.UUID

	feedsMu sync.Mutex
	feeds   map[uuid.UUID]*memFeed

	now func() time.Time
}

type memRoom struct {
	mu       sync.Mutex
	room     domain.Room
	messages []*domain.Message
	byID     map[string]*domain.Message
	byToken  map[string]*domain.Message
}

func tokenKey(sender uuid.UUID, token string) string {
	return sender.String() + "/" + token
}

type memFeed struct {
	mu          sync.Mutex
	items       []*domain.Notification
	byID        map[string]*domain.Notification
	unreadByKey map[string]*domain.Notification
	lastSeq     int64
	unread      int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:  make(map[uuid.UUID]*memRoom),
		direct: make(map[string]uuid.UUID),
		feeds:  make(map[uuid.UUID]*memFeed),
		now:    time.Now,
	}
}

// WithClock overrides the time source; tests use it to force timestamp ties.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Rooms() RoomRepository                 { return memoryRoomRepository{s} }
func (s *MemoryStore) Messages() MessageRepository           { return memoryMessageRepository{s} }
func (s *MemoryStore) Notifications() NotificationRepository { return memoryNotificationRepository{s} }

func (s *MemoryStore) room(id uuid.UUID) (*memRoom, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	return r, ok
}

func (s *MemoryStore) feed(userID uuid.UUID) *memFeed {
	s.feedsMu.Lock()
	defer s.feedsMu.Unlock()
	f, ok := s.feeds[userID]
	if !ok {
		f = &memFeed{
			byID:        make(map[string]*domain.Notification),
			unreadByKey: make(map[string]*domain.Notification),
		}
		s.feeds[userID] = f
	}
	return f
}

func copyRoom(r *domain.Room) *domain.Room {
	c := *r
	c.ParticipantIDs = append([]uuid.UUID(nil), r.ParticipantIDs...)
	return &c
}

func copyMessage(m *domain.Message) *domain.Message {
	c := *m
	return &c
}

func copyNotification(n *domain.Notification) *domain.Notification {
	c := *n
	return &c
}

type memoryRoomRepository struct{ s *MemoryStore }

func (r memoryRoomRepository) Create(_ context.Context, room *domain.Room) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.rooms[room.ID]; ok {
		return apperrors.New("room already exists")
	}
	if !room.IsGroup && len(room.ParticipantIDs) == 2 {
		key := DirectKey(room.ParticipantIDs[0], room.ParticipantIDs[1])
		if _, ok := r.s.direct[key]; ok {
			return ErrDirectRoomExists
		}
		r.s.direct[key] = room.ID
	}
	r.s.rooms[room.ID] = &memRoom{room: *copyRoom(room), byID: make(map[string]*domain.Message), byToken: make(map[string]*domain.Message)}
	return nil
}

func (r memoryRoomRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.Room, error) {
	mr, ok := r.s.room(id)
	if !ok {
		return nil, apperrors.ErrRoomNotFound
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	return copyRoom(&mr.room), nil
}

func (r memoryRoomRepository) FindDirect(ctx context.Context, a, b uuid.UUID) (*domain.Room, error) {
	r.s.mu.RLock()
	id, ok := r.s.direct[DirectKey(a, b)]
	r.s.mu.RUnlock()
	if !ok {
		return nil, apperrors.ErrRoomNotFound
	}
	return r.GetByID(ctx, id)
}

func (r memoryRoomRepository) ListForUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*domain.RoomSummary, error) {
	r.s.mu.RLock()
	candidates := make([]*memRoom, 0, len(r.s.rooms))
	for _, mr := range r.s.rooms {
		candidates = append(candidates, mr)
	}
	r.s.mu.RUnlock()

	var out []*domain.RoomSummary
	for _, mr := range candidates {
		mr.mu.Lock()
		if mr.room.HasParticipant(userID) {
			summary := &domain.RoomSummary{Room: *copyRoom(&mr.room)}
			for _, m := range mr.messages {
				if m.SenderID != userID && !m.IsRead {
					summary.UnreadCount++
				}
			}
			out = append(out, summary)
		}
		mr.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryMessageRepository struct{ s *MemoryStore }

func (r memoryMessageRepository) Append(_ context.Context, msg *domain.Message) (bool, error) {
	mr, ok := r.s.room(msg.RoomID)
	if !ok {
		return false, apperrors.ErrRoomNotFound
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()

	if msg.ClientToken != "" {
		if existing, ok := mr.byToken[tokenKey(msg.SenderID, msg.ClientToken)]; ok {
			*msg = *copyMessage(existing)
			return false, nil
		}
	}

	msg.ID = domain.NewID()
	msg.Seq = mr.room.LastSeq + 1
	msg.CreatedAt = nextTimestamp(r.s.now(), mr.room.UpdatedAt)
	msg.IsRead = false

	stored := copyMessage(msg)
	mr.messages = append(mr.messages, stored)
	mr.byID[stored.ID] = stored
	if stored.ClientToken != "" {
		mr.byToken[tokenKey(stored.SenderID, stored.ClientToken)] = stored
	}

	mr.room.LastSeq = msg.Seq
	mr.room.LastMessageID = &stored.ID
	mr.room.UpdatedAt = msg.CreatedAt
	return true, nil
}

func (r memoryMessageRepository) GetByID(_ context.Context, roomID uuid.UUID, messageID string) (*domain.Message, error) {
	mr, ok := r.s.room(roomID)
	if !ok {
		return nil, apperrors.ErrMessageNotFound
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	m, ok := mr.byID[messageID]
	if !ok {
		return nil, apperrors.ErrMessageNotFound
	}
	return copyMessage(m), nil
}

func (r memoryMessageRepository) ListBefore(_ context.Context, roomID uuid.UUID, before domain.Cursor, limit int) ([]*domain.Message, error) {
	mr, ok := r.s.room(roomID)
	if !ok {
		return nil, nil
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()

	var out []*domain.Message
	for i := len(mr.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := mr.messages[i]
		if before > 0 && m.Seq >= before.Seq() {
			continue
		}
		out = append(out, copyMessage(m))
	}
	return out, nil
}

func (r memoryMessageRepository) ListAfter(_ context.Context, roomID uuid.UUID, after domain.Cursor, limit int) ([]*domain.Message, error) {
	mr, ok := r.s.room(roomID)
	if !ok {
		return nil, nil
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()

	// seq is dense from 1, so the first candidate sits at index after.
	var out []*domain.Message
	for i := int(after.Seq()); i >= 0 && i < len(mr.messages) && len(out) < limit; i++ {
		out = append(out, copyMessage(mr.messages[i]))
	}
	return out, nil
}

func (r memoryMessageRepository) MarkRead(_ context.Context, roomID uuid.UUID, messageID string) (bool, error) {
	mr, ok := r.s.room(roomID)
	if !ok {
		return false, apperrors.ErrMessageNotFound
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	m, ok := mr.byID[messageID]
	if !ok {
		return false, apperrors.ErrMessageNotFound
	}
	if m.IsRead {
		return false, nil
	}
	m.IsRead = true
	return true, nil
}

func (r memoryMessageRepository) MarkRoomRead(_ context.Context, roomID, readerID uuid.UUID) (int64, int64, error) {
	mr, ok := r.s.room(roomID)
	if !ok {
		return 0, 0, apperrors.ErrRoomNotFound
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()

	var count, maxSeq int64
	for _, m := range mr.messages {
		if m.SenderID != readerID && !m.IsRead {
			m.IsRead = true
			count++
			maxSeq = m.Seq
		}
	}
	return count, maxSeq, nil
}

type memoryNotificationRepository struct{ s *MemoryStore }

func (r memoryNotificationRepository) Ingest(_ context.Context, n *domain.Notification) (domain.IngestOutcome, *domain.Notification, error) {
	f := r.s.feed(n.UserID)
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.unreadByKey[n.DedupKey]; ok {
		return domain.IngestDeduped, copyNotification(existing), nil
	}

	f.lastSeq++
	n.ID = domain.NewID()
	n.Seq = f.lastSeq
	n.IsRead = false
	n.CreatedAt = r.s.now().UTC()

	stored := copyNotification(n)
	f.items = append(f.items, stored)
	f.byID[stored.ID] = stored
	f.unreadByKey[stored.DedupKey] = stored
	f.unread++
	return domain.IngestApplied, n, nil
}

func (r memoryNotificationRepository) GetByID(_ context.Context, userID uuid.UUID, id string) (*domain.Notification, error) {
	f := r.s.feed(userID)
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.byID[id]
	if !ok {
		return nil, apperrors.ErrNotificationNotFound
	}
	return copyNotification(n), nil
}

func (r memoryNotificationRepository) ListBefore(_ context.Context, userID uuid.UUID, before domain.Cursor, limit int) ([]*domain.Notification, error) {
	f := r.s.feed(userID)
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*domain.Notification
	for i := len(f.items) - 1; i >= 0 && len(out) < limit; i-- {
		n := f.items[i]
		if before > 0 && n.Seq >= before.Seq() {
			continue
		}
		out = append(out, copyNotification(n))
	}
	return out, nil
}

func (r memoryNotificationRepository) ListAfter(_ context.Context, userID uuid.UUID, after domain.Cursor, limit int) ([]*domain.Notification, error) {
	f := r.s.feed(userID)
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*domain.Notification
	for i := int(after.Seq()); i >= 0 && i < len(f.items) && len(out) < limit; i++ {
		out = append(out, copyNotification(f.items[i]))
	}
	return out, nil
}

func (r memoryNotificationRepository) markLocked(f *memFeed, n *domain.Notification) bool {
	if n.IsRead {
		return false
	}
	n.IsRead = true
	if f.unreadByKey[n.DedupKey] == n {
		delete(f.unreadByKey, n.DedupKey)
	}
	if f.unread > 0 {
		f.unread--
	}
	return true
}

func (r memoryNotificationRepository) MarkRead(_ context.Context, userID uuid.UUID, id string) (bool, error) {
	f := r.s.feed(userID)
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.byID[id]
	if !ok {
		return false, apperrors.ErrNotificationNotFound
	}
	return r.markLocked(f, n), nil
}

func (r memoryNotificationRepository) MarkAllRead(_ context.Context, userID uuid.UUID) (int64, domain.Cursor, error) {
	f := r.s.feed(userID)
	f.mu.Lock()
	defer f.mu.Unlock()

	var count int64
	for _, n := range f.items {
		if r.markLocked(f, n) {
			count++
		}
	}
	f.unread = 0
	return count, domain.Cursor(f.lastSeq), nil
}

func (r memoryNotificationRepository) MarkDedupRead(_ context.Context, userID uuid.UUID, dedupKey string) (string, error) {
	f := r.s.feed(userID)
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.unreadByKey[dedupKey]
	if !ok {
		return "", nil
	}
	r.markLocked(f, n)
	return n.ID, nil
}

func (r memoryNotificationRepository) UnreadCount(_ context.Context, userID uuid.UUID) (int64, error) {
	f := r.s.feed(userID)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread, nil
}
