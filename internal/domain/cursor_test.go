package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_RoundTrip(t *testing.T) {
	for _, seq := range []int64{1, 35, 36, 1 << 40} {
		c := Cursor(seq)
		parsed, err := ParseCursor(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}
}

func TestCursor_Zero(t *testing.T) {
	assert.Equal(t, "", Cursor(0).String())
	c, err := ParseCursor("")
	require.NoError(t, err)
	assert.Equal(t, Cursor(0), c)
}

func TestCursor_Invalid(t *testing.T) {
	for _, s := range []string{"42", "c!!", "x10"} {
		_, err := ParseCursor(s)
		assert.Error(t, err, s)
	}
}

func TestCursor_JSON(t *testing.T) {
	page := MessagePage{NextCursor: Cursor(100)}
	b, err := json.Marshal(page)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"next_cursor":"c2s"`)

	var back MessagePage
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, Cursor(100), back.NextCursor)
}

func TestNewID_Sortable(t *testing.T) {
	prev := NewID()
	for i := 0; i < 100; i++ {
		next := NewID()
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestNormalizeParticipants(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	out := NormalizeParticipants([]uuid.UUID{b, a, uuid.Nil, b})
	assert.Len(t, out, 2)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, out)
	assert.Equal(t, out, NormalizeParticipants([]uuid.UUID{a, b}))
}

func TestDedupKey(t *testing.T) {
	u := uuid.New()
	assert.Equal(t, DedupKey(CategoryNewMessage, "r1", u), DedupKey(CategoryNewMessage, "r1", u))
	assert.NotEqual(t, DedupKey(CategoryNewMessage, "r1", u), DedupKey(CategoryAnnouncement, "r1", u))
}
