package reconciler

import (
	"context"
	"time"

	"member_comms/internal/transport"
	"member_comms/pkg/logger"
)

type SessionConfig struct {
	// PendingTimeout bounds how long an optimistic send stays pending
	// before it is flagged failed.
	PendingTimeout   time.Duration
	PollInterval     time.Duration
	PageSize         int
	TypingTTL        time.Duration
	TickInterval     time.Duration
	ResubscribeDelay time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.PendingTimeout <= 0 {
		c.PendingTimeout = 15 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.TypingTTL <= 0 {
		c.TypingTTL = 5 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.ResubscribeDelay <= 0 {
		c.ResubscribeDelay = time.Second
	}
	return c
}

func mergeChange(a, b Change) Change {
	return Change{
		Inserted:    a.Inserted || b.Inserted,
		Replaced:    a.Replaced || b.Replaced,
		Updated:     a.Updated || b.Updated,
		Dropped:     a.Dropped || b.Dropped,
		TailChanged: a.TailChanged || b.TailChanged,
	}
}

// stream keeps one topic subscribed for the life of ctx, resubscribing when
// the transport drops it. onSubscribed runs after every (re)subscribe so the
// caller can reconcile whatever was missed meanwhile.
type stream struct {
	topic        string
	subscriber   transport.Subscriber
	delay        time.Duration
	log          logger.Logger
	onEvent      func(transport.Event)
	onSubscribed func()
}

func (s *stream) run(ctx context.Context) {
	for {
		sub, err := s.subscribe(ctx)
		if err != nil {
			return
		}
		s.onSubscribed()
		s.consume(ctx, sub)
		sub.Close()
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("Subscription dropped, resubscribing", "topic", s.topic)
	}
}

func (s *stream) subscribe(ctx context.Context) (transport.Subscription, error) {
	for {
		sub, err := s.subscriber.Subscribe(ctx, s.topic)
		if err == nil {
			return sub, nil
		}
		s.log.Warn("Failed to subscribe", "error", err, "topic", s.topic)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
}

func (s *stream) consume(ctx context.Context, sub transport.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			s.onEvent(ev)
		}
	}
}
