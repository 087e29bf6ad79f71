package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "member_comms/pkg/errors"
)

func TestRoomCreate_ReusesDirectRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	room, created, err := f.svc.Room.Create(ctx, a, CreateRoomInput{ParticipantIDs: []uuid.UUID{b}})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, room.ParticipantIDs, 2)

	again, created, err := f.svc.Room.Create(ctx, b, CreateRoomInput{ParticipantIDs: []uuid.UUID{a, b}})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, room.ID, again.ID)
}

func TestRoomCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := uuid.New()

	_, _, err := f.svc.Room.Create(ctx, a, CreateRoomInput{ParticipantIDs: []uuid.UUID{a}})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, _, err = f.svc.Room.Create(ctx, a, CreateRoomInput{ParticipantIDs: []uuid.UUID{uuid.New(), uuid.New()}})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestRoomCreate_GroupAndAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	name := "  Board  "

	room, created, err := f.svc.Room.Create(ctx, a, CreateRoomInput{ParticipantIDs: []uuid.UUID{b, c}, IsGroup: true, Name: &name})
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, room.Name)
	assert.Equal(t, "Board", *room.Name)

	got, err := f.svc.Room.GetByID(ctx, room.ID, c)
	require.NoError(t, err)
	assert.Equal(t, room.ID, got.ID)

	_, err = f.svc.Room.GetByID(ctx, room.ID, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotParticipant)

	_, err = f.svc.Room.GetByID(ctx, uuid.New(), a)
	assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)

	list, err := f.svc.Room.List(ctx, b, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
