package keylock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStriped_SerializesSameKey(t *testing.T) {
	s := New(8)
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Do("room-1", func() { counter++ })
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5000, counter)
}

func TestStriped_IndexStable(t *testing.T) {
	s := New(0)
	assert.Len(t, s.locks, defaultStripes)
	assert.Equal(t, s.Index("user:42"), s.Index("user:42"))
	assert.Equal(t, defaultStripes, s.Stripes())
}

func TestStriped_OtherStripesStayFree(t *testing.T) {
	s := New(4)
	held := s.Index("a")
	other := (held + 1) % s.Stripes()

	unlock := s.LockIndex(held)
	defer unlock()

	done := make(chan struct{})
	go func() {
		s.LockIndex(other)()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another stripe blocked")
	}
}

func TestStriped_LockReturnsUnlock(t *testing.T) {
	s := New(4)
	unlock := s.Lock("a")
	unlock()
	// a second acquire must not deadlock
	unlock = s.Lock("a")
	unlock()
}
