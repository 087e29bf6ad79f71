// Package reconciler merges a client's optimistic entries, realtime pushes
// and polled deltas into one de-duplicated, ordered view.
package reconciler

import (
	"math"
	"sync"
	"time"
)

type Origin int

const (
	OriginOptimistic Origin = iota
	OriginConfirmed
)

func (o Origin) String() string {
	if o == OriginOptimistic {
		return "optimistic"
	}
	return "confirmed"
}

type Status int

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFailed:
		return "failed"
	}
	return "confirmed"
}

// Entry is one row of a view. Optimistic entries have no ID yet and are
// addressed by their client token.
type Entry[T any] struct {
	ID      string
	Token   string
	Order   int64
	Origin  Origin
	Status  Status
	AddedAt time.Time
	Value   T
}

// Change describes what a mutation did to the view. A surface scrolls to the
// latest entry only when TailChanged is set.
type Change struct {
	Inserted    bool
	Replaced    bool
	Updated     bool
	Dropped     bool
	TailChanged bool
}

func (c Change) Changed() bool {
	return c.Inserted || c.Replaced || c.Updated
}

// View keeps entries sorted ascending by order key; optimistic entries sit
// after every confirmed one until they are confirmed.
type View[T any] struct {
	mu      sync.Mutex
	entries []*Entry[T]
	byID    map[string]*Entry[T]
	byToken map[string]*Entry[T]
}

func NewView[T any]() *View[T] {
	return &View[T]{
		byID:    make(map[string]*Entry[T]),
		byToken: make(map[string]*Entry[T]),
	}
}

func (v *View[T]) tail() *Entry[T] {
	if len(v.entries) == 0 {
		return nil
	}
	return v.entries[len(v.entries)-1]
}

// AddOptimistic appends a pending entry for a send that has not been confirmed.
func (v *View[T]) AddOptimistic(token string, value T, now time.Time) Change {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.byToken[token]; ok {
		return Change{Dropped: true}
	}
	e := &Entry[T]{
		Token:   token,
		Order:   math.MaxInt64,
		Origin:  OriginOptimistic,
		Status:  StatusPending,
		AddedAt: now,
		Value:   value,
	}
	v.entries = append(v.entries, e)
	v.byToken[token] = e
	return Change{Inserted: true, TailChanged: true}
}

// ApplyConfirmed merges an authoritative entry. A known id is dropped, a
// matching token replaces its optimistic entry in place, anything else is
// inserted at the position its order key implies.
func (v *View[T]) ApplyConfirmed(id, token string, order int64, value T) Change {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.byID[id]; ok {
		return Change{Dropped: true}
	}
	prevTail := v.tail()

	if token != "" {
		if e, ok := v.byToken[token]; ok {
			delete(v.byToken, token)
			e.ID = id
			e.Order = order
			e.Origin = OriginConfirmed
			e.Status = StatusConfirmed
			e.Value = value
			v.byID[id] = e
			v.settle(e)
			return Change{Replaced: true, TailChanged: v.tail() != prevTail}
		}
	}

	e := &Entry[T]{
		ID:     id,
		Token:  token,
		Order:  order,
		Origin: OriginConfirmed,
		Status: StatusConfirmed,
		Value:  value,
	}
	v.insert(e)
	v.byID[id] = e
	return Change{Inserted: true, TailChanged: v.tail() != prevTail}
}

// insert places e after the last confirmed entry with a smaller order key.
func (v *View[T]) insert(e *Entry[T]) {
	i := len(v.entries)
	for i > 0 {
		prev := v.entries[i-1]
		if prev.Origin == OriginConfirmed && prev.Order < e.Order {
			break
		}
		i--
	}
	v.entries = append(v.entries, nil)
	copy(v.entries[i+1:], v.entries[i:])
	v.entries[i] = e
}

// settle keeps a just-confirmed entry where it is unless a confirmed
// neighbour proves that position wrong.
func (v *View[T]) settle(e *Entry[T]) {
	idx := v.indexOf(e)
	inOrder := true
	for j := idx - 1; j >= 0; j-- {
		if v.entries[j].Origin == OriginConfirmed {
			inOrder = v.entries[j].Order < e.Order
			break
		}
	}
	if inOrder {
		for j := idx + 1; j < len(v.entries); j++ {
			if v.entries[j].Origin == OriginConfirmed {
				inOrder = v.entries[j].Order > e.Order
				break
			}
		}
	}
	if inOrder {
		return
	}
	v.entries = append(v.entries[:idx], v.entries[idx+1:]...)
	v.insert(e)
}

func (v *View[T]) indexOf(e *Entry[T]) int {
	for i, cur := range v.entries {
		if cur == e {
			return i
		}
	}
	return -1
}

// MarkFailed flags a pending optimistic entry as failed.
func (v *View[T]) MarkFailed(token string) Change {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, ok := v.byToken[token]
	if !ok || e.Status != StatusPending {
		return Change{}
	}
	e.Status = StatusFailed
	return Change{Updated: true}
}

// Retry moves a failed entry back to pending and to the tail.
func (v *View[T]) Retry(token string, now time.Time) (T, Change) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var zero T
	e, ok := v.byToken[token]
	if !ok || e.Status != StatusFailed {
		return zero, Change{}
	}
	prevTail := v.tail()
	e.Status = StatusPending
	e.AddedAt = now
	idx := v.indexOf(e)
	v.entries = append(append(v.entries[:idx], v.entries[idx+1:]...), e)
	return e.Value, Change{Updated: true, TailChanged: v.tail() != prevTail}
}

// ExpirePending fails every entry pending for longer than timeout and
// returns their tokens.
func (v *View[T]) ExpirePending(now time.Time, timeout time.Duration) []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	var expired []string
	for _, e := range v.entries {
		if e.Status == StatusPending && now.Sub(e.AddedAt) >= timeout {
			e.Status = StatusFailed
			expired = append(expired, e.Token)
		}
	}
	return expired
}

// Update applies fn to the confirmed entry with id.
func (v *View[T]) Update(id string, fn func(*T) bool) Change {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, ok := v.byID[id]
	if !ok || !fn(&e.Value) {
		return Change{}
	}
	return Change{Updated: true}
}

// UpdateWhere applies fn to every confirmed entry with order <= upTo.
func (v *View[T]) UpdateWhere(upTo int64, fn func(*T) bool) Change {
	v.mu.Lock()
	defer v.mu.Unlock()

	var ch Change
	for _, e := range v.entries {
		if e.Origin != OriginConfirmed || e.Order > upTo {
			continue
		}
		if fn(&e.Value) {
			ch.Updated = true
		}
	}
	return ch
}

// Snapshot copies the entries in ascending order.
func (v *View[T]) Snapshot() []Entry[T] {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]Entry[T], len(v.entries))
	for i, e := range v.entries {
		out[i] = *e
	}
	return out
}

func (v *View[T]) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.entries)
}

// Pending counts optimistic entries not yet confirmed or failed.
func (v *View[T]) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, e := range v.entries {
		if e.Status == StatusPending {
			n++
		}
	}
	return n
}
