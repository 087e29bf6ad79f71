package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"member_comms/internal/domain"
	"member_comms/internal/repository"
	apperrors "member_comms/pkg/errors"
	"member_comms/pkg/logger"
)

type CreateRoomInput struct {
	ParticipantIDs []uuid.UUID `json:"participant_ids"`
	Name           *string     `json:"name,omitempty"`
	IsGroup        bool        `json:"is_group"`
}

type RoomService interface {
	// Create returns the room and whether it was newly created; an existing
	// 1:1 room between the same two users is reused.
	Create(ctx context.Context, creatorID uuid.UUID, in CreateRoomInput) (*domain.Room, bool, error)
	GetByID(ctx context.Context, roomID, userID uuid.UUID) (*domain.Room, error)
	List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.RoomSummary, error)
	// Authorize loads the room and checks userID is one of its participants.
	Authorize(ctx context.Context, roomID, userID uuid.UUID) (*domain.Room, error)
}

type roomService struct {
	roomRepo repository.RoomRepository
	log      logger.Logger
}

func NewRoomService(roomRepo repository.RoomRepository, log logger.Logger) RoomService {
	return &roomService{
		roomRepo: roomRepo,
		log:      log,
	}
}

func (s *roomService) Create(ctx context.Context, creatorID uuid.UUID, in CreateRoomInput) (*domain.Room, bool, error) {
	participants := domain.NormalizeParticipants(append(append([]uuid.UUID(nil), in.ParticipantIDs...), creatorID))
	if len(participants) < 2 {
		return nil, false, fmt.Errorf("%w: a room needs at least two participants", apperrors.ErrValidation)
	}
	if !in.IsGroup && len(participants) != 2 {
		return nil, false, fmt.Errorf("%w: a direct room has exactly two participants", apperrors.ErrValidation)
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			in.Name = nil
		} else {
			in.Name = &name
		}
	}

	if !in.IsGroup {
		existing, err := s.roomRepo.FindDirect(ctx, participants[0], participants[1])
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, apperrors.ErrRoomNotFound) {
			return nil, false, err
		}
	}

	now := time.Now().UTC()
	room := &domain.Room{
		ID:             uuid.New(),
		IsGroup:        in.IsGroup,
		Name:           in.Name,
		ParticipantIDs: participants,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.roomRepo.Create(ctx, room); err != nil {
		if errors.Is(err, repository.ErrDirectRoomExists) {
			// Lost a race with a concurrent create of the same pair.
			existing, findErr := s.roomRepo.FindDirect(ctx, participants[0], participants[1])
			if findErr == nil {
				return existing, false, nil
			}
		}
		s.log.Error("Failed to create room", "error", err)
		return nil, false, err
	}

	s.log.Info("Room created", "room_id", room.ID, "participants", len(participants), "group", room.IsGroup)
	return room, true, nil
}

func (s *roomService) GetByID(ctx context.Context, roomID, userID uuid.UUID) (*domain.Room, error) {
	return s.Authorize(ctx, roomID, userID)
}

func (s *roomService) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.RoomSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.roomRepo.ListForUser(ctx, userID, limit, offset)
}

func (s *roomService) Authorize(ctx context.Context, roomID, userID uuid.UUID) (*domain.Room, error) {
	room, err := s.roomRepo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(userID) {
		return nil, apperrors.ErrNotParticipant
	}
	return room, nil
}
