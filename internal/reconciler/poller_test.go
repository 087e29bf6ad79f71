package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"member_comms/internal/domain"
	"member_comms/pkg/logger"
)

// seqSource serves a fixed series of sequence numbers in pages.
type seqSource struct {
	mu    sync.Mutex
	items []int64
	page  int
	calls int
	err   error
	every time.Duration
}

func (s *seqSource) add(seqs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, seqs...)
}

func (s *seqSource) fetch(_ context.Context, after domain.Cursor) (*domain.Delta[int64], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	delta := &domain.Delta[int64]{Next: after, PollIntervalMS: s.every.Milliseconds()}
	for _, seq := range s.items {
		if seq <= after.Seq() {
			continue
		}
		if len(delta.Items) == s.page {
			delta.HasMore = true
			break
		}
		delta.Items = append(delta.Items, seq)
		delta.Next = domain.Cursor(seq)
	}
	return delta, nil
}

type collector struct {
	mu   sync.Mutex
	seen []int64
}

func (c *collector) apply(d *domain.Delta[int64]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, d.Items...)
}

func (c *collector) values() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.seen...)
}

func TestPoller_SyncDrainsPages(t *testing.T) {
	src := &seqSource{page: 2}
	src.add(1, 2, 3, 4, 5)
	col := &collector{}
	p := NewPoller[int64](time.Hour, 0, src.fetch, col.apply, logger.NewNop())

	assert.False(t, p.Synced())
	require.NoError(t, p.Sync(context.Background()))

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, col.values())
	assert.Equal(t, domain.Cursor(5), p.Cursor())
	assert.True(t, p.Synced())
}

func TestPoller_StartsFromCursor(t *testing.T) {
	src := &seqSource{page: 10}
	src.add(1, 2, 3)
	col := &collector{}
	p := NewPoller[int64](time.Hour, 2, src.fetch, col.apply, logger.NewNop())

	require.NoError(t, p.Sync(context.Background()))
	assert.Equal(t, []int64{3}, col.values())

	// Nothing new: the cursor stays put.
	require.NoError(t, p.Sync(context.Background()))
	assert.Equal(t, domain.Cursor(3), p.Cursor())
}

func TestPoller_ErrorKeepsCursor(t *testing.T) {
	src := &seqSource{page: 10, err: errors.New("offline")}
	col := &collector{}
	p := NewPoller[int64](time.Hour, 7, src.fetch, col.apply, logger.NewNop())

	assert.Error(t, p.Sync(context.Background()))
	assert.Equal(t, domain.Cursor(7), p.Cursor())
	assert.False(t, p.Synced())
}

func TestPoller_RunReactsToKick(t *testing.T) {
	src := &seqSource{page: 10}
	col := &collector{}
	p := NewPoller[int64](time.Hour, 0, src.fetch, col.apply, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	src.add(1)
	p.Kick()
	assert.Eventually(t, func() bool { return len(col.values()) == 1 }, time.Second, 5*time.Millisecond)

	src.add(2)
	p.Kick()
	p.Kick()
	assert.Eventually(t, func() bool { return p.Cursor() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPoller_RunOnInterval(t *testing.T) {
	src := &seqSource{page: 10}
	src.add(1, 2)
	col := &collector{}
	p := NewPoller[int64](10*time.Millisecond, 0, src.fetch, col.apply, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	assert.Eventually(t, func() bool { return p.Cursor() == 2 }, time.Second, 5*time.Millisecond)
}

func TestPoller_FollowsAdvertisedInterval(t *testing.T) {
	src := &seqSource{page: 10, every: 10 * time.Millisecond}
	col := &collector{}
	p := NewPoller[int64](time.Hour, 0, src.fetch, col.apply, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// One kick picks up the advertised cadence; the rest come from the ticker.
	p.Kick()
	assert.Eventually(t, func() bool { return p.Interval() == 10*time.Millisecond }, time.Second, 5*time.Millisecond)

	src.add(1)
	assert.Eventually(t, func() bool { return p.Cursor() == 1 }, time.Second, 5*time.Millisecond)
}
