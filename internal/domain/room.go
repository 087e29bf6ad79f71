package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

type Room struct {
	ID             uuid.UUID   `json:"id"`
	IsGroup        bool        `json:"is_group"`
	Name           *string     `json:"name,omitempty"`
	ParticipantIDs []uuid.UUID `json:"participant_ids"`
	LastSeq        int64       `json:"last_seq"`
	LastMessageID  *string     `json:"last_message_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// RoomSummary is a room as seen by one participant.
type RoomSummary struct {
	Room
	UnreadCount int64 `json:"unread_count"`
}

func (r *Room) HasParticipant(userID uuid.UUID) bool {
	for _, id := range r.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// NormalizeParticipants returns a sorted copy of ids without duplicates or nil ids.
func NormalizeParticipants(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func RoomTopic(roomID uuid.UUID) string {
	return "room:" + roomID.String()
}

func UserTopic(userID uuid.UUID) string {
	return "user:" + userID.String()
}
