package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"member_comms/internal/domain"
	apperrors "member_comms/pkg/errors"
	"member_comms/pkg/logger"
)

// ErrDirectRoomExists is returned by Create when a 1:1 room for the same pair
// was created concurrently.
var ErrDirectRoomExists = errors.New("direct room already exists")

type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Room, error)
	FindDirect(ctx context.Context, a, b uuid.UUID) (*domain.Room, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.RoomSummary, error)
}

// DirectKey identifies the single 1:1 room between two users.
func DirectKey(a, b uuid.UUID) string {
	ids := domain.NormalizeParticipants([]uuid.UUID{a, b})
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ":")
}

type roomRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewRoomRepository(db *pgxpool.Pool, log logger.Logger) RoomRepository {
	return &roomRepository{db: db, log: log}
}

const roomColumns = `
	r.id, r.is_group, r.name, r.last_seq, r.last_message_id, r.created_at, r.updated_at,
	ARRAY(SELECT p2.user_id::text FROM room_participants p2 WHERE p2.room_id = r.id ORDER BY p2.user_id::text)
`

func (r *roomRepository) Create(ctx context.Context, room *domain.Room) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", apperrors.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	var directKey *string
	if !room.IsGroup && len(room.ParticipantIDs) == 2 {
		key := DirectKey(room.ParticipantIDs[0], room.ParticipantIDs[1])
		directKey = &key
	}

	query := `
		INSERT INTO rooms (id, is_group, name, direct_key, last_seq, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
	`
	if _, err := tx.Exec(ctx, query, room.ID, room.IsGroup, room.Name, directKey, room.CreatedAt, room.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			r.log.Warn("Direct room already exists", "constraint", pgErr.ConstraintName)
			return ErrDirectRoomExists
		}
		r.log.Error("Failed to create room", "error", err)
		return fmt.Errorf("%w: insert room: %v", apperrors.ErrPersistence, err)
	}

	for _, userID := range room.ParticipantIDs {
		if _, err := tx.Exec(ctx, `INSERT INTO room_participants (room_id, user_id) VALUES ($1, $2)`, room.ID, userID); err != nil {
			r.log.Error("Failed to add room participant", "error", err, "room_id", room.ID)
			return fmt.Errorf("%w: insert participant: %v", apperrors.ErrPersistence, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		r.log.Error("Failed to commit room", "error", err)
		return fmt.Errorf("%w: commit: %v", apperrors.ErrPersistence, err)
	}
	return nil
}

func (r *roomRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms r WHERE r.id = $1`
	room, err := scanRoom(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrRoomNotFound
		}
		r.log.Error("Failed to get room by ID", "error", err)
		return nil, err
	}
	return room, nil
}

func (r *roomRepository) FindDirect(ctx context.Context, a, b uuid.UUID) (*domain.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms r WHERE r.direct_key = $1`
	room, err := scanRoom(r.db.QueryRow(ctx, query, DirectKey(a, b)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrRoomNotFound
		}
		r.log.Error("Failed to find direct room", "error", err)
		return nil, err
	}
	return room, nil
}

func (r *roomRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.RoomSummary, error) {
	query := `
		SELECT ` + roomColumns + `,
		       (SELECT COUNT(*) FROM messages m
		         WHERE m.room_id = r.id AND m.sender_id <> $1 AND NOT m.is_read)
		FROM rooms r
		JOIN room_participants p ON p.room_id = r.id
		WHERE p.user_id = $1
		ORDER BY r.updated_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		r.log.Error("Failed to list rooms", "error", err)
		return nil, err
	}
	defer rows.Close()

	var rooms []*domain.RoomSummary
	for rows.Next() {
		summary := &domain.RoomSummary{}
		var participants []string
		err := rows.Scan(
			&summary.ID, &summary.IsGroup, &summary.Name, &summary.LastSeq, &summary.LastMessageID,
			&summary.CreatedAt, &summary.UpdatedAt, &participants, &summary.UnreadCount,
		)
		if err != nil {
			r.log.Error("Failed to scan room", "error", err)
			return nil, err
		}
		if summary.ParticipantIDs, err = parseUUIDs(participants); err != nil {
			return nil, err
		}
		rooms = append(rooms, summary)
	}
	return rooms, rows.Err()
}

func scanRoom(row pgx.Row) (*domain.Room, error) {
	room := &domain.Room{}
	var participants []string
	err := row.Scan(
		&room.ID, &room.IsGroup, &room.Name, &room.LastSeq, &room.LastMessageID,
		&room.CreatedAt, &room.UpdatedAt, &participants,
	)
	if err != nil {
		return nil, err
	}
	if room.ParticipantIDs, err = parseUUIDs(participants); err != nil {
		return nil, err
	}
	return room, nil
}

func parseUUIDs(values []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("invalid participant id %q: %w", v, err)
		}
		out = append(out, id)
	}
	return out, nil
}
