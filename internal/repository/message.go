package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"member_comms/internal/domain"
	apperrors "member_comms/pkg/errors"
	"member_comms/pkg/logger"
)

type MessageRepository interface {
	// Append persists msg, assigning ID, Seq and CreatedAt at the room's
	// sequencing point, and advances the room's last-message pointer. If the
	// sender already stored a message under the same client token, msg is
	// overwritten with that message and created is false.
	Append(ctx context.Context, msg *domain.Message) (created bool, err error)
	GetByID(ctx context.Context, roomID uuid.UUID, messageID string) (*domain.Message, error)
	// ListBefore returns up to limit messages with seq < before (all when before
	// is zero), newest first.
	ListBefore(ctx context.Context, roomID uuid.UUID, before domain.Cursor, limit int) ([]*domain.Message, error)
	// ListAfter returns up to limit messages with seq > after, oldest first.
	ListAfter(ctx context.Context, roomID uuid.UUID, after domain.Cursor, limit int) ([]*domain.Message, error)
	MarkRead(ctx context.Context, roomID uuid.UUID, messageID string) (bool, error)
	// MarkRoomRead marks every unread message not sent by readerID and returns
	// the number changed and the highest seq touched.
	MarkRoomRead(ctx context.Context, roomID, readerID uuid.UUID) (int64, int64, error)
}

type messageRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewMessageRepository(db *pgxpool.Pool, log logger.Logger) MessageRepository {
	return &messageRepository{db: db, log: log}
}

// nextTimestamp keeps created_at non-decreasing in seq even if the wall clock steps back.
func nextTimestamp(now, last time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if !now.After(last) {
		return last.Add(time.Microsecond)
	}
	return now
}

func (r *messageRepository) Append(ctx context.Context, msg *domain.Message) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: begin: %v", apperrors.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	// The row lock is the per-room sequencing point.
	var lastSeq int64
	var updatedAt time.Time
	err = tx.QueryRow(ctx, `SELECT last_seq, updated_at FROM rooms WHERE id = $1 FOR UPDATE`, msg.RoomID).
		Scan(&lastSeq, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, apperrors.ErrRoomNotFound
		}
		r.log.Error("Failed to lock room", "error", err, "room_id", msg.RoomID)
		return false, fmt.Errorf("%w: lock room: %v", apperrors.ErrPersistence, err)
	}

	if msg.ClientToken != "" {
		query := `SELECT ` + messageColumns + ` FROM messages WHERE room_id = $1 AND sender_id = $2 AND client_token = $3`
		existing, err := scanMessage(tx.QueryRow(ctx, query, msg.RoomID, msg.SenderID, msg.ClientToken))
		if err == nil {
			*msg = *existing
			return false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			r.log.Error("Failed to look up client token", "error", err, "room_id", msg.RoomID)
			return false, fmt.Errorf("%w: lookup token: %v", apperrors.ErrPersistence, err)
		}
	}

	msg.ID = domain.NewID()
	msg.Seq = lastSeq + 1
	msg.CreatedAt = nextTimestamp(time.Now(), updatedAt)
	msg.IsRead = false

	var clientToken *string
	if msg.ClientToken != "" {
		clientToken = &msg.ClientToken
	}

	query := `
		INSERT INTO messages (id, room_id, seq, sender_id, content, kind, client_token, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
	`
	if _, err := tx.Exec(ctx, query, msg.ID, msg.RoomID, msg.Seq, msg.SenderID, msg.Content,
		string(msg.Kind), clientToken, msg.CreatedAt); err != nil {
		r.log.Error("Failed to create message", "error", err, "room_id", msg.RoomID)
		return false, fmt.Errorf("%w: insert message: %v", apperrors.ErrPersistence, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE rooms SET last_seq = $2, last_message_id = $3, updated_at = $4 WHERE id = $1`,
		msg.RoomID, msg.Seq, msg.ID, msg.CreatedAt,
	); err != nil {
		r.log.Error("Failed to advance room", "error", err, "room_id", msg.RoomID)
		return false, fmt.Errorf("%w: update room: %v", apperrors.ErrPersistence, err)
	}

	if err := tx.Commit(ctx); err != nil {
		r.log.Error("Failed to commit message", "error", err, "room_id", msg.RoomID)
		return false, fmt.Errorf("%w: commit: %v", apperrors.ErrPersistence, err)
	}
	return true, nil
}

const messageColumns = `id, room_id, seq, sender_id, content, kind, COALESCE(client_token, ''), is_read, created_at`

func scanMessage(row pgx.Row) (*domain.Message, error) {
	m := &domain.Message{}
	var kind string
	if err := row.Scan(&m.ID, &m.RoomID, &m.Seq, &m.SenderID, &m.Content, &kind, &m.ClientToken, &m.IsRead, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Kind = domain.MessageKind(kind)
	return m, nil
}

func (r *messageRepository) GetByID(ctx context.Context, roomID uuid.UUID, messageID string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1 AND room_id = $2`
	m, err := scanMessage(r.db.QueryRow(ctx, query, messageID, roomID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrMessageNotFound
		}
		r.log.Error("Failed to get message", "error", err)
		return nil, err
	}
	return m, nil
}

func (r *messageRepository) ListBefore(ctx context.Context, roomID uuid.UUID, before domain.Cursor, limit int) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE room_id = $1 AND ($2::bigint = 0 OR seq < $2::bigint)
		ORDER BY seq DESC
		LIMIT $3
	`
	return r.list(ctx, query, roomID, before.Seq(), limit)
}

func (r *messageRepository) ListAfter(ctx context.Context, roomID uuid.UUID, after domain.Cursor, limit int) ([]*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE room_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3
	`
	return r.list(ctx, query, roomID, after.Seq(), limit)
}

func (r *messageRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.Message, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.log.Error("Failed to get messages", "error", err)
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			r.log.Error("Failed to scan message", "error", err)
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *messageRepository) MarkRead(ctx context.Context, roomID uuid.UUID, messageID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE messages SET is_read = TRUE WHERE id = $1 AND room_id = $2 AND NOT is_read`,
		messageID, roomID,
	)
	if err != nil {
		r.log.Error("Failed to mark message read", "error", err)
		return false, fmt.Errorf("%w: mark read: %v", apperrors.ErrPersistence, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1 AND room_id = $2)`, messageID, roomID,
	).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, apperrors.ErrMessageNotFound
	}
	return false, nil
}

func (r *messageRepository) MarkRoomRead(ctx context.Context, roomID, readerID uuid.UUID) (int64, int64, error) {
	var count, maxSeq int64
	err := r.db.QueryRow(ctx, `
		WITH updated AS (
			UPDATE messages SET is_read = TRUE
			WHERE room_id = $1 AND sender_id <> $2 AND NOT is_read
			RETURNING seq
		)
		SELECT COUNT(*), COALESCE(MAX(seq), 0) FROM updated
	`, roomID, readerID).Scan(&count, &maxSeq)
	if err != nil {
		r.log.Error("Failed to mark room read", "error", err, "room_id", roomID)
		return 0, 0, fmt.Errorf("%w: mark room read: %v", apperrors.ErrPersistence, err)
	}
	return count, maxSeq, nil
}
