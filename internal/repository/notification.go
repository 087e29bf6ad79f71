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

type NotificationRepository interface {
	// Ingest stores n unless an unread notification with the same dedup key
	// exists, in which case that one is returned with IngestDeduped.
	Ingest(ctx context.Context, n *domain.Notification) (domain.IngestOutcome, *domain.Notification, error)
	GetByID(ctx context.Context, userID uuid.UUID, id string) (*domain.Notification, error)
	// ListBefore returns up to limit notifications with seq < before (all when
	// before is zero), newest first.
	ListBefore(ctx context.Context, userID uuid.UUID, before domain.Cursor, limit int) ([]*domain.Notification, error)
	// ListAfter returns up to limit notifications with seq > after, oldest first.
	ListAfter(ctx context.Context, userID uuid.UUID, after domain.Cursor, limit int) ([]*domain.Notification, error)
	MarkRead(ctx context.Context, userID uuid.UUID, id string) (bool, error)
	// MarkAllRead marks every notification ingested before the call; the
	// returned cursor is the last seq covered.
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, domain.Cursor, error)
	// MarkDedupRead marks the unread notification holding dedupKey read and
	// returns its id, or "" when there is none.
	MarkDedupRead(ctx context.Context, userID uuid.UUID, dedupKey string) (string, error)
	UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error)
}

type notificationRepository struct {
	db  *pgxpool.Pool
	log logger.Logger
}

func NewNotificationRepository(db *pgxpool.Pool, log logger.Logger) NotificationRepository {
	return &notificationRepository{db: db, log: log}
}

const notificationColumns = `id, user_id, seq, title, body, category, source_id, COALESCE(metadata, '{}'::jsonb), dedup_key, is_read, created_at`

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	n := &domain.Notification{}
	var category string
	err := row.Scan(&n.ID, &n.UserID, &n.Seq, &n.Title, &n.Body, &category, &n.SourceID,
		&n.Metadata, &n.DedupKey, &n.IsRead, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	n.Category = domain.NotificationCategory(category)
	return n, nil
}

// lockCounter takes the per-user row lock that serializes ingest with the
// read transitions and returns the last assigned seq.
func lockCounter(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int64, error) {
	if _, err := tx.Exec(ctx,
		`INSERT INTO notification_counters (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID,
	); err != nil {
		return 0, err
	}
	var lastSeq int64
	err := tx.QueryRow(ctx,
		`SELECT last_seq FROM notification_counters WHERE user_id = $1 FOR UPDATE`, userID,
	).Scan(&lastSeq)
	return lastSeq, err
}

func (r *notificationRepository) Ingest(ctx context.Context, n *domain.Notification) (domain.IngestOutcome, *domain.Notification, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("%w: begin: %v", apperrors.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	lastSeq, err := lockCounter(ctx, tx, n.UserID)
	if err != nil {
		r.log.Error("Failed to lock notification counter", "error", err, "user_id", n.UserID)
		return "", nil, fmt.Errorf("%w: lock counter: %v", apperrors.ErrPersistence, err)
	}

	existing, err := scanNotification(tx.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE dedup_key = $1 AND NOT is_read`, n.DedupKey))
	switch {
	case err == nil:
		if err := tx.Commit(ctx); err != nil {
			return "", nil, fmt.Errorf("%w: commit: %v", apperrors.ErrPersistence, err)
		}
		return domain.IngestDeduped, existing, nil
	case !errors.Is(err, pgx.ErrNoRows):
		r.log.Error("Failed to look up dedup key", "error", err)
		return "", nil, fmt.Errorf("%w: dedup lookup: %v", apperrors.ErrPersistence, err)
	}

	n.ID = domain.NewID()
	n.Seq = lastSeq + 1
	n.IsRead = false
	n.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)

	query := `
		INSERT INTO notifications (id, user_id, seq, title, body, category, source_id, metadata, dedup_key, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10)
	`
	if _, err := tx.Exec(ctx, query, n.ID, n.UserID, n.Seq, n.Title, n.Body, string(n.Category),
		n.SourceID, n.Metadata, n.DedupKey, n.CreatedAt); err != nil {
		r.log.Error("Failed to create notification", "error", err, "user_id", n.UserID)
		return "", nil, fmt.Errorf("%w: insert notification: %v", apperrors.ErrPersistence, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE notification_counters SET last_seq = $2, unread = unread + 1 WHERE user_id = $1`, n.UserID, n.Seq,
	); err != nil {
		r.log.Error("Failed to increment unread counter", "error", err, "user_id", n.UserID)
		return "", nil, fmt.Errorf("%w: counter: %v", apperrors.ErrPersistence, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", nil, fmt.Errorf("%w: commit: %v", apperrors.ErrPersistence, err)
	}
	return domain.IngestApplied, n, nil
}

func (r *notificationRepository) GetByID(ctx context.Context, userID uuid.UUID, id string) (*domain.Notification, error) {
	n, err := scanNotification(r.db.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1 AND user_id = $2`, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotificationNotFound
		}
		r.log.Error("Failed to get notification", "error", err)
		return nil, err
	}
	return n, nil
}

func (r *notificationRepository) ListBefore(ctx context.Context, userID uuid.UUID, before domain.Cursor, limit int) ([]*domain.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1 AND ($2::bigint = 0 OR seq < $2::bigint)
		ORDER BY seq DESC
		LIMIT $3
	`
	return r.list(ctx, query, userID, before.Seq(), limit)
}

func (r *notificationRepository) ListAfter(ctx context.Context, userID uuid.UUID, after domain.Cursor, limit int) ([]*domain.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3
	`
	return r.list(ctx, query, userID, after.Seq(), limit)
}

func (r *notificationRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.Notification, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.log.Error("Failed to list notifications", "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			r.log.Error("Failed to scan notification", "error", err)
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *notificationRepository) MarkRead(ctx context.Context, userID uuid.UUID, id string) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: begin: %v", apperrors.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	if _, err := lockCounter(ctx, tx, userID); err != nil {
		return false, fmt.Errorf("%w: lock counter: %v", apperrors.ErrPersistence, err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2 AND NOT is_read`, id, userID)
	if err != nil {
		r.log.Error("Failed to mark notification read", "error", err)
		return false, fmt.Errorf("%w: mark read: %v", apperrors.ErrPersistence, err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1 AND user_id = $2)`, id, userID,
		).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, apperrors.ErrNotificationNotFound
		}
		return false, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE notification_counters SET unread = GREATEST(unread - 1, 0) WHERE user_id = $1`, userID,
	); err != nil {
		return false, fmt.Errorf("%w: counter: %v", apperrors.ErrPersistence, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("%w: commit: %v", apperrors.ErrPersistence, err)
	}
	return true, nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, domain.Cursor, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: begin: %v", apperrors.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	lastSeq, err := lockCounter(ctx, tx, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: lock counter: %v", apperrors.ErrPersistence, err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read AND seq <= $2`, userID, lastSeq)
	if err != nil {
		r.log.Error("Failed to mark all notifications read", "error", err, "user_id", userID)
		return 0, 0, fmt.Errorf("%w: mark all read: %v", apperrors.ErrPersistence, err)
	}
	if _, err := tx.Exec(ctx, `UPDATE notification_counters SET unread = 0 WHERE user_id = $1`, userID); err != nil {
		return 0, 0, fmt.Errorf("%w: counter: %v", apperrors.ErrPersistence, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("%w: commit: %v", apperrors.ErrPersistence, err)
	}
	return tag.RowsAffected(), domain.Cursor(lastSeq), nil
}

func (r *notificationRepository) MarkDedupRead(ctx context.Context, userID uuid.UUID, dedupKey string) (string, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: begin: %v", apperrors.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	if _, err := lockCounter(ctx, tx, userID); err != nil {
		return "", fmt.Errorf("%w: lock counter: %v", apperrors.ErrPersistence, err)
	}

	// The partial unique index leaves at most one unread row per key.
	var id string
	err = tx.QueryRow(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND dedup_key = $2 AND NOT is_read RETURNING id`,
		userID, dedupKey,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", tx.Commit(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("%w: mark read: %v", apperrors.ErrPersistence, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE notification_counters SET unread = GREATEST(unread - 1, 0) WHERE user_id = $1`, userID,
	); err != nil {
		return "", fmt.Errorf("%w: counter: %v", apperrors.ErrPersistence, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("%w: commit: %v", apperrors.ErrPersistence, err)
	}
	return id, nil
}

func (r *notificationRepository) UnreadCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	var unread int64
	err := r.db.QueryRow(ctx, `SELECT unread FROM notification_counters WHERE user_id = $1`, userID).Scan(&unread)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		r.log.Error("Failed to read unread counter", "error", err)
		return 0, err
	}
	return unread, nil
}
