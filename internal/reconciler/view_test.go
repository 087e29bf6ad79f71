package reconciler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(v *View[string]) []string {
	var out []string
	for _, e := range v.Snapshot() {
		out = append(out, e.Value)
	}
	return out
}

func TestView_OptimisticReplacedInPlace(t *testing.T) {
	v := NewView[string]()
	now := time.Now()

	ch := v.AddOptimistic("t1", "hello", now)
	assert.True(t, ch.Inserted)
	assert.True(t, ch.TailChanged)
	assert.Equal(t, 1, v.Pending())

	ch = v.ApplyConfirmed("m1", "t1", 1, "hello!")
	assert.True(t, ch.Replaced)
	assert.False(t, ch.TailChanged, "replacing the tail entry keeps its identity")

	entries := v.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].ID)
	assert.Equal(t, OriginConfirmed, entries[0].Origin)
	assert.Equal(t, StatusConfirmed, entries[0].Status)
	assert.Equal(t, "hello!", entries[0].Value)
	assert.Equal(t, 0, v.Pending())
}

func TestView_DuplicateIDDropped(t *testing.T) {
	v := NewView[string]()
	v.ApplyConfirmed("m1", "", 1, "a")

	ch := v.ApplyConfirmed("m1", "", 1, "a")
	assert.True(t, ch.Dropped)
	assert.False(t, ch.Changed())
	assert.Equal(t, 1, v.Len())
}

func TestView_PushAfterSendConfirmationDropped(t *testing.T) {
	v := NewView[string]()
	v.AddOptimistic("t1", "a", time.Now())
	v.ApplyConfirmed("m1", "t1", 1, "a")

	// The realtime echo of the same message carries the same token and id.
	ch := v.ApplyConfirmed("m1", "t1", 1, "a")
	assert.True(t, ch.Dropped)
	assert.Equal(t, 1, v.Len())
}

func TestView_ConfirmedInsertedByOrder(t *testing.T) {
	v := NewView[string]()
	v.ApplyConfirmed("m1", "", 1, "one")
	v.ApplyConfirmed("m3", "", 3, "three")

	ch := v.ApplyConfirmed("m2", "", 2, "two")
	assert.True(t, ch.Inserted)
	assert.False(t, ch.TailChanged)
	assert.Equal(t, []string{"one", "two", "three"}, ids(v))

	ch = v.ApplyConfirmed("m4", "", 4, "four")
	assert.True(t, ch.TailChanged)
	assert.Equal(t, []string{"one", "two", "three", "four"}, ids(v))
}

func TestView_ConfirmedStaysAheadOfOptimistic(t *testing.T) {
	v := NewView[string]()
	v.ApplyConfirmed("m1", "", 1, "one")
	v.AddOptimistic("t1", "mine", time.Now())

	ch := v.ApplyConfirmed("m2", "", 2, "theirs")
	assert.True(t, ch.Inserted)
	assert.False(t, ch.TailChanged, "pending send stays the tail")
	assert.Equal(t, []string{"one", "theirs", "mine"}, ids(v))
}

func TestView_OutOfOrderConfirmationsResolveByToken(t *testing.T) {
	v := NewView[string]()
	now := time.Now()
	v.AddOptimistic("t1", "first", now)
	v.AddOptimistic("t2", "second", now)

	// Second send is confirmed before the first.
	v.ApplyConfirmed("m2", "t2", 2, "second")
	v.ApplyConfirmed("m1", "t1", 1, "first")

	entries := v.Snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, "m1", entries[0].ID)
	assert.Equal(t, "m2", entries[1].ID)
	assert.Equal(t, 0, v.Pending())
}

func TestView_ConfirmationMovesWhenNeighbourDisagrees(t *testing.T) {
	v := NewView[string]()
	v.AddOptimistic("t1", "mine", time.Now())
	v.ApplyConfirmed("m5", "", 5, "later")

	// The server ordered our send before m5.
	ch := v.ApplyConfirmed("m4", "t1", 4, "mine")
	assert.True(t, ch.Replaced)
	assert.Equal(t, []string{"mine", "later"}, ids(v))
}

func TestView_FailureAndRetry(t *testing.T) {
	v := NewView[string]()
	start := time.Now()
	v.AddOptimistic("t1", "a", start)
	v.AddOptimistic("t2", "b", start.Add(10*time.Second))

	expired := v.ExpirePending(start.Add(15*time.Second), 15*time.Second)
	assert.Equal(t, []string{"t1"}, expired)

	entries := v.Snapshot()
	assert.Equal(t, StatusFailed, entries[0].Status)
	assert.Equal(t, StatusPending, entries[1].Status)

	// Only failed entries can be retried.
	_, ch := v.Retry("t2", start)
	assert.False(t, ch.Changed())

	value, ch := v.Retry("t1", start.Add(20*time.Second))
	assert.Equal(t, "a", value)
	assert.True(t, ch.Updated)
	assert.True(t, ch.TailChanged)
	assert.Equal(t, []string{"b", "a"}, ids(v))
	assert.Equal(t, 2, v.Pending())
}

func TestView_MarkFailedOnlyPending(t *testing.T) {
	v := NewView[string]()
	v.AddOptimistic("t1", "a", time.Now())

	assert.True(t, v.MarkFailed("t1").Updated)
	assert.False(t, v.MarkFailed("t1").Changed())
	assert.False(t, v.MarkFailed("unknown").Changed())

	// A late confirmation still wins over the failed state.
	ch := v.ApplyConfirmed("m1", "t1", 1, "a")
	assert.True(t, ch.Replaced)
	assert.Equal(t, StatusConfirmed, v.Snapshot()[0].Status)
}

func TestView_UpdateWhere(t *testing.T) {
	v := NewView[string]()
	v.ApplyConfirmed("m1", "", 1, "a")
	v.ApplyConfirmed("m2", "", 2, "b")
	v.ApplyConfirmed("m3", "", 3, "c")
	v.AddOptimistic("t1", "d", time.Now())

	upper := func(s *string) bool {
		if *s == "A" || *s == "B" || *s == "C" || *s == "D" {
			return false
		}
		*s = string((*s)[0] - 32)
		return true
	}

	ch := v.UpdateWhere(2, upper)
	assert.True(t, ch.Updated)
	assert.Equal(t, []string{"A", "B", "c", "d"}, ids(v))

	assert.False(t, v.UpdateWhere(2, upper).Changed())
	assert.True(t, v.Update("m3", upper).Updated)
	assert.False(t, v.Update("missing", upper).Changed())
	assert.Equal(t, []string{"A", "B", "C", "d"}, ids(v))
}

func TestView_SnapshotIsCopy(t *testing.T) {
	v := NewView[string]()
	v.ApplyConfirmed("m1", "", 1, "a")

	snap := v.Snapshot()
	snap[0].Value = "changed"
	assert.Equal(t, []string{"a"}, ids(v))
}
