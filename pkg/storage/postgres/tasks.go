package postgres

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/models"
)

// TaskStore persists the children of a board task: comments, time logs,
// reminders and activity lines
type TaskStore struct {
	db *DB
}

// NewTaskStore creates a task store
func NewTaskStore(db *DB) *TaskStore {
	return &TaskStore{db: db}
}

const commentSelect = `
	SELECT c.id, c.task_id, c.author_id,
		COALESCE(NULLIF(TRIM(u.first_name || ' ' || u.last_name), ''), u.username),
		c.content, c.parent_id, c.mentions, c.is_edited, c.edited_at, c.created_at
	FROM task_comments c
	JOIN users u ON u.id = c.author_id`

func scanComment(s scanner) (*models.TaskComment, error) {
	var (
		c        models.TaskComment
		mentions pq.Int64Array
	)
	if err := s.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Author, &c.Content, &c.ParentID,
		&mentions, &c.IsEdited, &c.EditedAt, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Mentions = []int64(mentions)
	return &c, nil
}

// GetComment loads a comment by id
func (s *TaskStore) GetComment(ctx context.Context, id int64) (*models.TaskComment, error) {
	c, err := scanComment(s.db.q(ctx).QueryRowContext(ctx, commentSelect+" WHERE c.id = $1", id))
	if err != nil {
		return nil, mapError(err, "comment")
	}
	return c, nil
}

// ListComments returns a task's comments oldest first
func (s *TaskStore) ListComments(ctx context.Context, taskID int64) ([]*models.TaskComment, error) {
	rows, err := s.db.q(ctx).QueryContext(ctx, commentSelect+" WHERE c.task_id = $1 ORDER BY c.created_at, c.id", taskID)
	if err != nil {
		return nil, mapError(err, "comments")
	}
	defer rows.Close()

	var out []*models.TaskComment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateComment inserts c
func (s *TaskStore) CreateComment(ctx context.Context, c *models.TaskComment) error {
	mentions := c.Mentions
	if mentions == nil {
		mentions = []int64{}
	}
	err := s.db.q(ctx).QueryRowContext(ctx, `
		INSERT INTO task_comments (task_id, author_id, content, parent_id, mentions)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		c.TaskID, c.AuthorID, c.Content, c.ParentID, pq.Array(mentions)).Scan(&c.ID, &c.CreatedAt)
	return mapError(err, "comment")
}

// UpdateCommentContent rewrites the text and marks the comment edited
func (s *TaskStore) UpdateCommentContent(ctx context.Context, id int64, content string, now time.Time) error {
	res, err := s.db.q(ctx).ExecContext(ctx, `
		UPDATE task_comments SET content = $2, is_edited = TRUE, edited_at = $3 WHERE id = $1`,
		id, content, now)
	if err != nil {
		return mapError(err, "comment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("comment", id)
	}
	return nil
}

// DeleteComment removes a comment and its replies
func (s *TaskStore) DeleteComment(ctx context.Context, id int64) error {
	res, err := s.db.q(ctx).ExecContext(ctx, `DELETE FROM task_comments WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "comment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("comment", id)
	}
	return nil
}

// RunningTimeLog returns the user's open time log, locking it
func (s *TaskStore) RunningTimeLog(ctx context.Context, userID int64) (*models.TaskTimeLog, error) {
	var l models.TaskTimeLog
	err := s.db.q(ctx).QueryRowContext(ctx, `
		SELECT id, task_id, user_id, started_at, ended_at, duration_minutes
		FROM task_time_logs WHERE user_id = $1 AND ended_at IS NULL
		FOR UPDATE`, userID).Scan(&l.ID, &l.TaskID, &l.UserID, &l.StartedAt, &l.EndedAt, &l.DurationMinutes)
	if err != nil {
		return nil, mapError(err, "time log")
	}
	return &l, nil
}

// StartTimeLog opens a log. The partial unique index rejects a second
// running log for the same user with a conflict.
func (s *TaskStore) StartTimeLog(ctx context.Context, taskID, userID int64, now time.Time) (*models.TaskTimeLog, error) {
	l := &models.TaskTimeLog{TaskID: taskID, UserID: userID, StartedAt: now}
	err := s.db.q(ctx).QueryRowContext(ctx, `
		INSERT INTO task_time_logs (task_id, user_id, started_at) VALUES ($1, $2, $3)
		RETURNING id`, taskID, userID, now).Scan(&l.ID)
	if err != nil {
		return nil, mapError(err, "running time log")
	}
	return l, nil
}

// StopTimeLog closes a log and recomputes the task's actual hours as the sum
// of closed durations divided by 60
func (s *TaskStore) StopTimeLog(ctx context.Context, logID int64, now time.Time) (*models.TaskTimeLog, float64, error) {
	var (
		l     models.TaskTimeLog
		hours float64
	)
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		err := s.db.q(ctx).QueryRowContext(ctx, `
			SELECT id, task_id, user_id, started_at, ended_at, duration_minutes
			FROM task_time_logs WHERE id = $1 FOR UPDATE`, logID).
			Scan(&l.ID, &l.TaskID, &l.UserID, &l.StartedAt, &l.EndedAt, &l.DurationMinutes)
		if err != nil {
			return mapError(err, "time log")
		}
		if !l.Running() {
			return apperrors.Conflict("time log already stopped")
		}

		minutes := int(math.Round(now.Sub(l.StartedAt).Minutes()))
		if minutes < 0 {
			minutes = 0
		}
		l.EndedAt = &now
		l.DurationMinutes = minutes
		if _, err := s.db.q(ctx).ExecContext(ctx,
			`UPDATE task_time_logs SET ended_at = $2, duration_minutes = $3 WHERE id = $1`,
			l.ID, now, minutes); err != nil {
			return mapError(err, "time log")
		}

		var total int64
		if err := s.db.q(ctx).QueryRowContext(ctx, `
			SELECT COALESCE(SUM(duration_minutes), 0) FROM task_time_logs
			WHERE task_id = $1 AND ended_at IS NOT NULL`, l.TaskID).Scan(&total); err != nil {
			return mapError(err, "time log")
		}
		hours = math.Round(float64(total)/60*100) / 100
		_, err = s.db.q(ctx).ExecContext(ctx,
			`UPDATE calendar_events SET actual_hours = $2, updated_at = NOW() WHERE id = $1`, l.TaskID, hours)
		return mapError(err, "calendar event")
	})
	if err != nil {
		return nil, 0, err
	}
	return &l, hours, nil
}

// RecordActivity appends an activity line to a task
func (s *TaskStore) RecordActivity(ctx context.Context, a *models.TaskActivity) error {
	err := s.db.q(ctx).QueryRowContext(ctx, `
		INSERT INTO task_activities (task_id, actor_id, verb, detail) VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`, a.TaskID, a.ActorID, a.Verb, a.Detail).Scan(&a.ID, &a.CreatedAt)
	return mapError(err, "task activity")
}

// CreateReminder schedules a reminder of a task for a user
func (s *TaskStore) CreateReminder(ctx context.Context, r *models.TaskReminder) error {
	err := s.db.q(ctx).QueryRowContext(ctx, `
		INSERT INTO task_reminders (task_id, user_id, remind_at) VALUES ($1, $2, $3)
		RETURNING id`, r.TaskID, r.UserID, r.RemindAt).Scan(&r.ID)
	return mapError(err, "task reminder")
}

// ClaimDueReminders marks every unsent reminder due at or before now as sent
// and returns them. Concurrent sweeps never claim the same row.
func (s *TaskStore) ClaimDueReminders(ctx context.Context, now time.Time, limit int) ([]*models.TaskReminder, error) {
	rows, err := s.db.q(ctx).QueryContext(ctx, `
		UPDATE task_reminders SET sent = TRUE
		WHERE id IN (
			SELECT id FROM task_reminders
			WHERE NOT sent AND remind_at <= $1
			ORDER BY remind_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, task_id, user_id, remind_at, sent`, now, limit)
	if err != nil {
		return nil, mapError(err, "task reminder")
	}
	defer rows.Close()

	var out []*models.TaskReminder
	for rows.Next() {
		var r models.TaskReminder
		if err := rows.Scan(&r.ID, &r.TaskID, &r.UserID, &r.RemindAt, &r.Sent); err != nil {
			return nil, fmt.Errorf("failed to scan task reminder: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
