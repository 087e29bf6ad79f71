package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEvent(t *testing.T, topic, typ string, payload interface{}) Event {
	t.Helper()
	ev, err := NewEvent(topic, typ, payload)
	require.NoError(t, err)
	return ev
}

func receive(t *testing.T, sub Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestMemoryTransport_PublishSubscribe(t *testing.T) {
	tr := NewMemoryTransport(4)
	defer tr.Close()
	ctx := context.Background()

	sub, err := tr.Subscribe(ctx, "room:1")
	require.NoError(t, err)
	other, err := tr.Subscribe(ctx, "room:2")
	require.NoError(t, err)

	ev := mustEvent(t, "room:1", EventTypingStarted, TypingPayload{RoomID: "1", UserID: "u", IsTyping: true})
	require.NoError(t, tr.Publish(ctx, "room:1", ev))

	got := receive(t, sub)
	assert.Equal(t, EventTypingStarted, got.Type)
	var payload TypingPayload
	require.NoError(t, got.Decode(&payload))
	assert.True(t, payload.IsTyping)

	select {
	case <-other.Events():
		t.Fatal("event leaked to another topic")
	default:
	}
}

func TestMemoryTransport_FullBufferDrops(t *testing.T) {
	tr := NewMemoryTransport(2)
	defer tr.Close()
	ctx := context.Background()

	sub, err := tr.Subscribe(ctx, "user:1")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, tr.Publish(ctx, "user:1", mustEvent(t, "user:1", EventNotificationCreated, i)))
	}
	assert.Equal(t, int64(3), tr.Dropped())
	receive(t, sub)
	receive(t, sub)
}

func TestMemoryTransport_CloseSubscription(t *testing.T) {
	tr := NewMemoryTransport(1)
	ctx := context.Background()

	sub, err := tr.Subscribe(ctx, "room:1")
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Subscribers("room:1"))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, tr.Subscribers("room:1"))
	_, ok := <-sub.Events()
	assert.False(t, ok)

	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Publish(ctx, "room:1", Event{}), ErrClosed)
	_, err = tr.Subscribe(ctx, "room:1")
	assert.ErrorIs(t, err, ErrClosed)
}
