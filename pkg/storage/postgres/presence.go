package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/ptbhub/pkg/models"
)

// PresenceStore persists board presence rows, one per user
type PresenceStore struct {
	db *DB
}

// NewPresenceStore creates a presence store
func NewPresenceStore(db *DB) *PresenceStore {
	return &PresenceStore{db: db}
}

// Upsert records that the user was seen, optionally editing a task
func (s *PresenceStore) Upsert(ctx context.Context, p *models.BoardPresence) error {
	_, err := s.db.q(ctx).ExecContext(ctx, `
		INSERT INTO board_presence (user_id, display_name, editing_task_id, last_seen, channel)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			editing_task_id = EXCLUDED.editing_task_id,
			last_seen = EXCLUDED.last_seen,
			channel = EXCLUDED.channel`,
		p.UserID, p.DisplayName, p.EditingTaskID, p.LastSeen, p.Channel)
	return mapError(err, "presence")
}

// Remove deletes the user's row when it still belongs to channel
func (s *PresenceStore) Remove(ctx context.Context, userID int64, channel string) error {
	_, err := s.db.q(ctx).ExecContext(ctx,
		`DELETE FROM board_presence WHERE user_id = $1 AND channel = $2`, userID, channel)
	return mapError(err, "presence")
}

// ListLive returns rows seen strictly after cutoff
func (s *PresenceStore) ListLive(ctx context.Context, cutoff time.Time) ([]*models.BoardPresence, error) {
	rows, err := s.db.q(ctx).QueryContext(ctx, `
		SELECT user_id, display_name, editing_task_id, last_seen, channel
		FROM board_presence WHERE last_seen > $1 ORDER BY display_name, user_id`, cutoff)
	if err != nil {
		return nil, mapError(err, "presence")
	}
	defer rows.Close()

	var out []*models.BoardPresence
	for rows.Next() {
		var p models.BoardPresence
		if err := rows.Scan(&p.UserID, &p.DisplayName, &p.EditingTaskID, &p.LastSeen, &p.Channel); err != nil {
			return nil, fmt.Errorf("failed to scan presence: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// Sweep deletes rows last seen at or before cutoff
func (s *PresenceStore) Sweep(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.q(ctx).ExecContext(ctx, `DELETE FROM board_presence WHERE last_seen <= $1`, cutoff)
	if err != nil {
		return 0, mapError(err, "presence")
	}
	return res.RowsAffected()
}
