package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"member_comms/internal/domain"
	apperrors "member_comms/pkg/errors"
)

func TestRoomSince_DrainsInPages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	room := f.room(t, a, b)

	for i := 0; i < 5; i++ {
		_, err := f.svc.Delivery.SendMessage(ctx, SendMessageInput{RoomID: room.ID, SenderID: a, Content: "m"})
		require.NoError(t, err)
	}

	var cursor domain.Cursor
	var seqs []int64
	for {
		delta, err := f.svc.Sync.RoomSince(ctx, room.ID, b, cursor, 2)
		require.NoError(t, err)
		for _, m := range delta.Items {
			seqs = append(seqs, m.Seq)
		}
		cursor = delta.Next
		if !delta.HasMore {
			break
		}
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seqs)
	assert.Equal(t, domain.Cursor(5), cursor)

	delta, err := f.svc.Sync.RoomSince(ctx, room.ID, b, cursor, 2)
	require.NoError(t, err)
	assert.Empty(t, delta.Items)
	assert.Equal(t, cursor, delta.Next)
	assert.False(t, delta.HasMore)
	assert.Equal(t, int64(1000), delta.PollIntervalMS)

	_, err = f.svc.Sync.RoomSince(ctx, room.ID, uuid.New(), 0, 2)
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant)
}

func TestFeedSince_IncludesUnreadCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	for _, src := range []string{"a", "b", "c"} {
		_, err := f.svc.Notification.Ingest(ctx, announcement(user, src))
		require.NoError(t, err)
	}

	delta, err := f.svc.Sync.FeedSince(ctx, user, domain.Cursor(1), 0)
	require.NoError(t, err)
	require.Len(t, delta.Items, 2)
	assert.Equal(t, int64(2), delta.Items[0].Seq)
	assert.Equal(t, domain.Cursor(3), delta.Next)
	assert.Equal(t, int64(3), delta.UnreadCount)
	assert.False(t, delta.HasMore)
}
