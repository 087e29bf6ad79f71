package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"member_comms/pkg/logger"
)

// RedisTransport fans events out over Redis pub/sub. Redis keeps nothing for
// absent subscribers, which matches the delivery contract.
type RedisTransport struct {
	rdb    *redis.Client
	owned  bool
	buffer int
	log    logger.Logger
}

// NewRedisTransport wraps a client owned by the caller; Close leaves it open.
func NewRedisTransport(rdb *redis.Client, log logger.Logger) *RedisTransport {
	return &RedisTransport{rdb: rdb, buffer: defaultBuffer, log: log}
}

// RedisConnector dials a dedicated client per connection, for use with Manager.
func RedisConnector(opts *redis.Options, log logger.Logger) Connector {
	return func(ctx context.Context) (Transport, error) {
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return &RedisTransport{rdb: rdb, owned: true, buffer: defaultBuffer, log: log}, nil
	}
}

func (t *RedisTransport) Publish(ctx context.Context, topic string, ev Event) error {
	ev.Topic = topic
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := t.rdb.Publish(ctx, topic, data).Err(); err != nil {
		t.log.Warn("Failed to publish event", "error", err, "topic", topic, "type", ev.Type)
		return fmt.Errorf("failed to publish: %w", err)
	}
	return nil
}

func (t *RedisTransport) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := t.rdb.Subscribe(ctx, topic)
	// Wait for the subscription confirmation so no event published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &redisSub{
		ps:   ps,
		out:  make(chan Event, t.buffer),
		done: make(chan struct{}),
	}
	go sub.pump(t.log)
	return sub, nil
}

func (t *RedisTransport) Close() error {
	if t.owned {
		return t.rdb.Close()
	}
	return nil
}

type redisSub struct {
	ps   *redis.PubSub
	out  chan Event
	done chan struct{}
	once sync.Once
}

func (s *redisSub) pump(log logger.Logger) {
	defer close(s.out)
	in := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn("Dropping malformed event", "error", err, "channel", msg.Channel)
				continue
			}
			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSub) Events() <-chan Event {
	return s.out
}

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
