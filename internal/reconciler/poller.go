package reconciler

import (
	"context"
	"sync"
	"time"

	"member_comms/internal/domain"
	"member_comms/pkg/logger"
)

// FetchFunc returns the entries strictly after a cursor.
type FetchFunc[T any] func(ctx context.Context, after domain.Cursor) (*domain.Delta[T], error)

// Poller is the consistency backstop next to realtime delivery. It keeps its
// own cursor and runs on an interval and whenever it is kicked. A delta that
// carries a poll interval replaces the configured one.
type Poller[T any] struct {
	fetch    FetchFunc[T]
	apply    func(*domain.Delta[T])
	log      logger.Logger

	kick chan struct{}

	mu       sync.Mutex
	interval time.Duration
	cursor   domain.Cursor
	synced   bool
}

func NewPoller[T any](interval time.Duration, since domain.Cursor, fetch FetchFunc[T], apply func(*domain.Delta[T]), log logger.Logger) *Poller[T] {
	return &Poller[T]{
		interval: interval,
		fetch:    fetch,
		apply:    apply,
		log:      log,
		kick:     make(chan struct{}, 1),
		cursor:   since,
	}
}

// Kick requests a reconcile as soon as possible. Kicks coalesce.
func (p *Poller[T]) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *Poller[T]) Cursor() domain.Cursor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Synced reports whether at least one reconcile has completed.
func (p *Poller[T]) Synced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.synced
}

func (p *Poller[T]) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// Run reconciles until ctx is done.
func (p *Poller[T]) Run(ctx context.Context) {
	current := p.Interval()
	ticker := time.NewTicker(current)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.kick:
		}
		if err := p.Sync(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn("Reconcile failed", "error", err, "cursor", p.Cursor().String())
		}
		if iv := p.Interval(); iv != current {
			current = iv
			ticker.Reset(current)
		}
	}
}

// Sync drains every page after the cursor. Overlapping calls only repeat
// work: the view drops known ids and the cursor never moves back.
func (p *Poller[T]) Sync(ctx context.Context) error {
	for {
		after := p.Cursor()
		delta, err := p.fetch(ctx, after)
		if err != nil {
			return err
		}
		p.apply(delta)

		p.mu.Lock()
		if delta.Next > p.cursor {
			p.cursor = delta.Next
		}
		p.synced = true
		if iv := delta.PollInterval(); iv > 0 {
			p.interval = iv
		}
		p.mu.Unlock()

		if !delta.HasMore || delta.Next <= after {
			return nil
		}
	}
}
