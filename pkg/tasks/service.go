// Package tasks holds the board task rules that sit outside the calendar
// event lifecycle: threaded comments with mentions, time tracking and
// reminders.
package tasks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/auth"
	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/observability"
)

// MaxCommentLength bounds stored comment text
const MaxCommentLength = 5000

// EventLookup loads board tasks
type EventLookup interface {
	Get(ctx context.Context, id int64) (*models.CalendarEvent, error)
}

// Store persists comments, activity and time logs
type Store interface {
	GetComment(ctx context.Context, id int64) (*models.TaskComment, error)
	ListComments(ctx context.Context, taskID int64) ([]*models.TaskComment, error)
	CreateComment(ctx context.Context, c *models.TaskComment) error
	UpdateCommentContent(ctx context.Context, id int64, content string, now time.Time) error
	DeleteComment(ctx context.Context, id int64) error
	RecordActivity(ctx context.Context, a *models.TaskActivity) error
	RunningTimeLog(ctx context.Context, userID int64) (*models.TaskTimeLog, error)
	StartTimeLog(ctx context.Context, taskID, userID int64, now time.Time) (*models.TaskTimeLog, error)
	StopTimeLog(ctx context.Context, logID int64, now time.Time) (*models.TaskTimeLog, float64, error)
	CreateReminder(ctx context.Context, r *models.TaskReminder) error
}

// Notifier validates and notifies mentions
type Notifier interface {
	MentionTargets(ctx context.Context, task *models.CalendarEvent) (map[int64]bool, error)
	Mentioned(ctx context.Context, task *models.CalendarEvent, comment *models.TaskComment, actorName string) ([]*models.Notification, error)
}

// TxRunner runs fn in a transaction
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CommentInput is the body of a new comment
type CommentInput struct {
	Content  string  `json:"content" validate:"required"`
	ParentID *int64  `json:"parent"`
	Mentions []int64 `json:"mentions"`
}

// ReminderInput schedules a reminder for the caller
type ReminderInput struct {
	RemindAt time.Time `json:"remind_at"`
}

// Deps wires the service; Notifier may be nil to skip mentions
type Deps struct {
	Tx       TxRunner
	Events   EventLookup
	Store    Store
	Notifier Notifier
	Clock    clock.Clock
	Logger   *observability.Logger
}

// Service applies the task rules
type Service struct {
	tx       TxRunner
	events   EventLookup
	store    Store
	notifier Notifier
	clock    clock.Clock
	logger   *observability.Logger
}

// NewService creates the service
func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Logger == nil {
		d.Logger = observability.NopLogger()
	}
	return &Service{tx: d.Tx, events: d.Events, store: d.Store, notifier: d.Notifier, clock: d.Clock, logger: d.Logger}
}

func (s *Service) task(ctx context.Context, id int64) (*models.CalendarEvent, error) {
	e, err := s.events.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Type != models.EventTask {
		return nil, apperrors.NotFound("task", id)
	}
	return e, nil
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Comments lists the comments of a task
func (s *Service) Comments(ctx context.Context, taskID int64) ([]*models.TaskComment, error) {
	if _, err := s.task(ctx, taskID); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, taskID)
}

// AddComment stores a comment. Replies may only target top-level comments
// of the same task and mentions must be group members or assignees.
func (s *Service) AddComment(ctx context.Context, taskID int64, in CommentInput, p auth.Principal) (*models.TaskComment, error) {
	content := clip(strings.TrimSpace(in.Content), MaxCommentLength)
	if content == "" {
		return nil, apperrors.FieldError("content", "This field may not be blank.")
	}

	var c *models.TaskComment
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		task, err := s.task(ctx, taskID)
		if err != nil {
			return err
		}

		var v apperrors.Validation
		if in.ParentID != nil {
			parent, err := s.store.GetComment(ctx, *in.ParentID)
			switch {
			case apperrors.KindOf(err) == apperrors.KindNotFound:
				v.Add("parent", "Parent comment does not exist.")
			case err != nil:
				return err
			case parent.TaskID != taskID:
				v.Add("parent", "Parent comment belongs to another task.")
			case parent.ParentID != nil:
				v.Add("parent", "Replies cannot be nested.")
			}
		}

		mentions := dedupe(in.Mentions)
		if len(mentions) > 0 && s.notifier != nil {
			valid, err := s.notifier.MentionTargets(ctx, task)
			if err != nil {
				return err
			}
			for _, id := range mentions {
				if !valid[id] {
					v.Add("mentions", fmt.Sprintf("User %d cannot be mentioned on this task.", id))
				}
			}
		}
		if v.HasErrors() {
			return v.Err()
		}

		c = &models.TaskComment{
			TaskID:   taskID,
			AuthorID: p.ID(),
			Author:   p.DisplayName(),
			Content:  content,
			ParentID: in.ParentID,
			Mentions: mentions,
		}
		if err := s.store.CreateComment(ctx, c); err != nil {
			return err
		}
		if err := s.store.RecordActivity(ctx, &models.TaskActivity{
			TaskID: taskID, ActorID: p.ID(), Verb: "commented", Detail: clip(content, 200),
		}); err != nil {
			return err
		}
		if len(mentions) > 0 && s.notifier != nil {
			if _, err := s.notifier.Mentioned(ctx, task, c, p.DisplayName()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// EditComment rewrites a comment; only its author may do so
func (s *Service) EditComment(ctx context.Context, id int64, content string, p auth.Principal) (*models.TaskComment, error) {
	content = clip(strings.TrimSpace(content), MaxCommentLength)
	if content == "" {
		return nil, apperrors.FieldError("content", "This field may not be blank.")
	}
	c, err := s.store.GetComment(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.AuthorID != p.ID() {
		return nil, apperrors.PermissionDenied("Only the author can edit a comment.")
	}
	now := s.clock.Now()
	if err := s.store.UpdateCommentContent(ctx, id, content, now); err != nil {
		return nil, err
	}
	c.Content = content
	c.IsEdited = true
	c.EditedAt = &now
	return c, nil
}

// DeleteComment removes a comment and its replies; authors and admins only
func (s *Service) DeleteComment(ctx context.Context, id int64, p auth.Principal) error {
	c, err := s.store.GetComment(ctx, id)
	if err != nil {
		return err
	}
	if c.AuthorID != p.ID() && !auth.IsAdmin(p) {
		return apperrors.PermissionDenied("Only the author can delete a comment.")
	}
	return s.store.DeleteComment(ctx, id)
}

// StartTimer opens a time log on a task for the caller
func (s *Service) StartTimer(ctx context.Context, taskID int64, p auth.Principal) (*models.TaskTimeLog, error) {
	var l *models.TaskTimeLog
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.task(ctx, taskID); err != nil {
			return err
		}
		running, err := s.store.RunningTimeLog(ctx, p.ID())
		switch {
		case err == nil:
			return apperrors.Conflict(fmt.Sprintf("A timer is already running on task %d.", running.TaskID))
		case apperrors.KindOf(err) != apperrors.KindNotFound:
			return err
		}
		l, err = s.store.StartTimeLog(ctx, taskID, p.ID(), s.clock.Now())
		return err
	})
	return l, err
}

// StopResult is a closed log with the task's recomputed actual hours
type StopResult struct {
	Log         *models.TaskTimeLog `json:"time_log"`
	ActualHours float64             `json:"actual_hours"`
}

// StopTimer closes the caller's running log
func (s *Service) StopTimer(ctx context.Context, p auth.Principal) (*StopResult, error) {
	running, err := s.store.RunningTimeLog(ctx, p.ID())
	if apperrors.KindOf(err) == apperrors.KindNotFound {
		return nil, apperrors.New(apperrors.KindNotFound, apperrors.CodeNotFound, "No timer is running.")
	}
	if err != nil {
		return nil, err
	}
	l, hours, err := s.store.StopTimeLog(ctx, running.ID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(map[string]interface{}{
		"task_id": l.TaskID, "user_id": p.ID(), "minutes": l.DurationMinutes,
	}).Debug("time log stopped")
	return &StopResult{Log: l, ActualHours: hours}, nil
}

// AddReminder schedules a reminder on a task for the caller; the scheduler
// delivers it once remind_at has passed
func (s *Service) AddReminder(ctx context.Context, taskID int64, in ReminderInput, p auth.Principal) (*models.TaskReminder, error) {
	if in.RemindAt.IsZero() {
		return nil, apperrors.FieldError("remind_at", "This field is required.")
	}
	if !in.RemindAt.After(s.clock.Now()) {
		return nil, apperrors.FieldError("remind_at", "Reminder must be in the future.")
	}
	if _, err := s.task(ctx, taskID); err != nil {
		return nil, err
	}
	r := &models.TaskReminder{TaskID: taskID, UserID: p.ID(), RemindAt: in.RemindAt.UTC()}
	if err := s.store.CreateReminder(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id > 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
