package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/models"
)

// NotificationStore persists user notifications
type NotificationStore struct {
	db *DB
}

// NewNotificationStore creates a notification store
func NewNotificationStore(db *DB) *NotificationStore {
	return &NotificationStore{db: db}
}

const notificationColumns = `id, recipient_id, title, message, event_id, event_type, is_read, is_archived, created_at`

func scanNotification(s scanner) (*models.Notification, error) {
	var (
		n         models.Notification
		eventType string
	)
	if err := s.Scan(&n.ID, &n.RecipientID, &n.Title, &n.Message, &n.EventID, &eventType,
		&n.IsRead, &n.IsArchived, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.EventType = models.NotificationType(eventType)
	return &n, nil
}

// BulkCreate inserts every notification in a single statement and fills in
// ids and timestamps in input order
func (s *NotificationStore) BulkCreate(ctx context.Context, items []*models.Notification) error {
	if len(items) == 0 {
		return nil
	}
	const cols = 5
	values := make([]string, 0, len(items))
	args := make([]interface{}, 0, len(items)*cols)
	for i, n := range items {
		base := i * cols
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5))
		args = append(args, n.RecipientID, n.Title, n.Message, n.EventID, string(n.EventType))
	}

	rows, err := s.db.q(ctx).QueryContext(ctx, `
		INSERT INTO notifications (recipient_id, title, message, event_id, event_type)
		VALUES `+strings.Join(values, ", ")+`
		RETURNING id, created_at`, args...)
	if err != nil {
		return mapError(err, "notifications")
	}
	defer rows.Close()

	i := 0
	for rows.Next() && i < len(items) {
		if err := rows.Scan(&items[i].ID, &items[i].CreatedAt); err != nil {
			return fmt.Errorf("failed to scan notification: %w", err)
		}
		i++
	}
	return rows.Err()
}

// List returns a page of the recipient's notifications, newest first
func (s *NotificationStore) List(ctx context.Context, recipientID int64, includeArchived bool, limit, offset int) ([]*models.Notification, int, error) {
	where := "recipient_id = $1"
	if !includeArchived {
		where += " AND NOT is_archived"
	}

	var total int
	if err := s.db.q(ctx).QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE "+where, recipientID).Scan(&total); err != nil {
		return nil, 0, mapError(err, "notifications")
	}

	rows, err := s.db.q(ctx).QueryContext(ctx, `SELECT `+notificationColumns+` FROM notifications
		WHERE `+where+` ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, recipientID, limit, offset)
	if err != nil {
		return nil, 0, mapError(err, "notifications")
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

// UnreadCount counts unread, unarchived notifications
func (s *NotificationStore) UnreadCount(ctx context.Context, recipientID int64) (int, error) {
	var n int
	err := s.db.q(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_id = $1 AND NOT is_read AND NOT is_archived`, recipientID).Scan(&n)
	if err != nil {
		return 0, mapError(err, "notifications")
	}
	return n, nil
}

// MarkRead marks one of the recipient's notifications read
func (s *NotificationStore) MarkRead(ctx context.Context, recipientID, id int64) error {
	res, err := s.db.q(ctx).ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND recipient_id = $2`, id, recipientID)
	if err != nil {
		return mapError(err, "notification")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("notification", id)
	}
	return nil
}

// MarkAllRead marks every unread notification of the recipient read
func (s *NotificationStore) MarkAllRead(ctx context.Context, recipientID int64) (int64, error) {
	res, err := s.db.q(ctx).ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE recipient_id = $1 AND NOT is_read`, recipientID)
	if err != nil {
		return 0, mapError(err, "notifications")
	}
	return res.RowsAffected()
}
