// Package keylock provides striped mutexes so that work on one key is
// serialized while work on different keys proceeds in parallel.
package keylock

import (
	"hash/fnv"
	"sync"
)

const defaultStripes = 256

type Striped struct {
	locks []sync.Mutex
}

func New(stripes int) *Striped {
	if stripes <= 0 {
		stripes = defaultStripes
	}
	return &Striped{locks: make([]sync.Mutex, stripes)}
}

// Stripes is the number of stripes; Index values fall in [0, Stripes()).
func (s *Striped) Stripes() int { return len(s.locks) }

// Index maps key to its stripe. Callers may keep per-stripe state guarded
// by LockIndex.
func (s *Striped) Index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(s.locks)))
}

// LockIndex acquires stripe i and returns its unlock func.
func (s *Striped) LockIndex(i int) func() {
	m := &s.locks[i]
	m.Lock()
	return m.Unlock
}

// Lock acquires the stripe for key and returns its unlock func.
func (s *Striped) Lock(key string) func() {
	return s.LockIndex(s.Index(key))
}

// Do runs fn while holding the stripe for key.
func (s *Striped) Do(key string, fn func()) {
	unlock := s.Lock(key)
	defer unlock()
	fn()
}
