package transport

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultBuffer = 64

// MemoryTransport is an in-process hub. A subscriber whose buffer is full
// misses the event, the same way a disconnected remote subscriber would.
type MemoryTransport struct {
	mu      sync.RWMutex
	subs    map[string]map[*memorySub]struct{}
	buffer  int
	closed  bool
	dropped atomic.Int64
}

type memorySub struct {
	t     *MemoryTransport
	topic string
	ch    chan Event
	once  sync.Once
}

func NewMemoryTransport(buffer int) *MemoryTransport {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &MemoryTransport{
		subs:   make(map[string]map[*memorySub]struct{}),
		buffer: buffer,
	}
}

func (t *MemoryTransport) Publish(_ context.Context, topic string, ev Event) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrClosed
	}

	ev.Topic = topic
	for sub := range t.subs[topic] {
		select {
		case sub.ch <- ev:
		default:
			t.dropped.Add(1)
		}
	}
	return nil
}

func (t *MemoryTransport) Subscribe(_ context.Context, topic string) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}

	sub := &memorySub{t: t, topic: topic, ch: make(chan Event, t.buffer)}
	if t.subs[topic] == nil {
		t.subs[topic] = make(map[*memorySub]struct{})
	}
	t.subs[topic][sub] = struct{}{}
	return sub, nil
}

// Dropped reports how many events were lost to full subscriber buffers.
func (t *MemoryTransport) Dropped() int64 {
	return t.dropped.Load()
}

// Subscribers reports the live subscriber count for topic.
func (t *MemoryTransport) Subscribers(topic string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs[topic])
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, subs := range t.subs {
		for sub := range subs {
			sub.once.Do(func() { close(sub.ch) })
		}
	}
	t.subs = make(map[string]map[*memorySub]struct{})
	return nil
}

func (s *memorySub) Events() <-chan Event {
	return s.ch
}

func (s *memorySub) Close() error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	if subs, ok := s.t.subs[s.topic]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.t.subs, s.topic)
		}
	}
	s.once.Do(func() { close(s.ch) })
	return nil
}
