package service

import (
	"bytes"
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"member_comms/internal/config"
	"member_comms/internal/domain"
	"member_comms/internal/metrics"
	"member_comms/internal/transport"
	"member_comms/pkg/keylock"
	"member_comms/pkg/logger"
)

// TypingRegister holds short-lived typing indicators. Nothing is persisted.
type TypingRegister interface {
	// SetTyping records or refreshes (true) or clears (false) the indicator
	// for userID in roomID. The caller must have checked membership.
	SetTyping(ctx context.Context, roomID, userID uuid.UUID, isTyping bool) error
	// Typing lists the users currently typing in roomID.
	Typing(roomID uuid.UUID) []domain.TypingState
	// Run sweeps expired entries until ctx is done.
	Run(ctx context.Context)
}

type TypingOption func(*typingRegister)

// WithTypingClock overrides the time source.
func WithTypingClock(now func() time.Time) TypingOption {
	return func(r *typingRegister) { r.now = now }
}

type typingKey struct {
	room uuid.UUID
	user uuid.UUID
}

func (k typingKey) String() string {
	return k.room.String() + "/" + k.user.String()
}

type typingRegister struct {
	pub   transport.Publisher
	locks *keylock.Striped
	cfg   config.TypingConfig
	now   func() time.Time
	log   logger.Logger

	// shards[i] is guarded by stripe i of locks.
	shards []map[typingKey]time.Time
	active atomic.Int64
}

func NewTypingRegister(pub transport.Publisher, cfg config.TypingConfig, log logger.Logger, opts ...TypingOption) TypingRegister {
	r := &typingRegister{
		pub:   pub,
		locks: keylock.New(0),
		cfg:   cfg,
		now:   time.Now,
		log:   log,
	}
	r.shards = make([]map[typingKey]time.Time, r.locks.Stripes())
	for i := range r.shards {
		r.shards[i] = make(map[typingKey]time.Time)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// lock acquires the stripe owning key and returns its shard.
func (r *typingRegister) lock(key typingKey) (map[typingKey]time.Time, func()) {
	i := r.locks.Index(key.String())
	return r.shards[i], r.locks.LockIndex(i)
}

func (r *typingRegister) track(delta int64) {
	metrics.TypingActive.Set(float64(r.active.Add(delta)))
}

func (r *typingRegister) SetTyping(ctx context.Context, roomID, userID uuid.UUID, isTyping bool) error {
	key := typingKey{room: roomID, user: userID}
	shard, unlock := r.lock(key)
	defer unlock()

	payload := transport.TypingPayload{RoomID: roomID.String(), UserID: userID.String(), IsTyping: isTyping}

	_, existed := shard[key]
	if isTyping {
		shard[key] = r.now().Add(r.cfg.TTL)
		if !existed {
			r.track(1)
		}
		publish(ctx, r.pub, r.log, domain.RoomTopic(roomID), transport.EventTypingStarted, payload)
		return nil
	}

	if existed {
		delete(shard, key)
		r.track(-1)
		publish(ctx, r.pub, r.log, domain.RoomTopic(roomID), transport.EventTypingStopped, payload)
	}
	return nil
}

// scan visits every entry, one stripe at a time.
func (r *typingRegister) scan(fn func(key typingKey, expiresAt time.Time)) {
	for i, shard := range r.shards {
		unlock := r.locks.LockIndex(i)
		for key, expiresAt := range shard {
			fn(key, expiresAt)
		}
		unlock()
	}
}

func (r *typingRegister) Typing(roomID uuid.UUID) []domain.TypingState {
	now := r.now()

	var out []domain.TypingState
	r.scan(func(key typingKey, expiresAt time.Time) {
		if key.room != roomID || !expiresAt.After(now) {
			return
		}
		out = append(out, domain.TypingState{RoomID: key.room, UserID: key.user, IsTyping: true, ExpiresAt: expiresAt})
	})

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].UserID[:], out[j].UserID[:]) < 0
	})
	return out
}

func (r *typingRegister) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *typingRegister) sweep(ctx context.Context) {
	now := r.now()

	var stale []typingKey
	r.scan(func(key typingKey, expiresAt time.Time) {
		if !expiresAt.After(now) {
			stale = append(stale, key)
		}
	})

	for _, key := range stale {
		r.expire(ctx, key)
	}
}

// expire clears key only if it is still stale under its lock; a refresh that
// landed after the scan wins.
func (r *typingRegister) expire(ctx context.Context, key typingKey) {
	shard, unlock := r.lock(key)
	defer unlock()

	expiresAt, ok := shard[key]
	if !ok || expiresAt.After(r.now()) {
		return
	}
	delete(shard, key)
	r.track(-1)

	publish(ctx, r.pub, r.log, domain.RoomTopic(key.room), transport.EventTypingStopped,
		transport.TypingPayload{RoomID: key.room.String(), UserID: key.user.String(), IsTyping: false})
}
