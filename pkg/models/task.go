package models

import "time"

// TaskGroup is a named set of users a task can be shared with
type TaskGroup struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	MemberIDs []int64 `json:"members"`
}

// TaskComment is a comment on a board task. Replies are one level deep.
type TaskComment struct {
	ID        int64      `json:"id"`
	TaskID    int64      `json:"task"`
	AuthorID  int64      `json:"author"`
	Author    string     `json:"author_name"`
	Content   string     `json:"content"`
	ParentID  *int64     `json:"parent"`
	Mentions  []int64    `json:"mentions"`
	IsEdited  bool       `json:"is_edited"`
	EditedAt  *time.Time `json:"edited_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// TaskSubtask is an ordered checklist entry; Order is unique per task
type TaskSubtask struct {
	ID     int64  `json:"id"`
	TaskID int64  `json:"task"`
	Title  string `json:"title"`
	Order  int    `json:"order"`
	IsDone bool   `json:"is_done"`
}

// TaskTimeLog records work on a task. At most one log per user is running.
type TaskTimeLog struct {
	ID              int64      `json:"id"`
	TaskID          int64      `json:"task"`
	UserID          int64      `json:"user"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at"`
	DurationMinutes int        `json:"duration_minutes"`
}

// Running reports whether the log has not been closed
func (l *TaskTimeLog) Running() bool {
	return l.EndedAt == nil
}

// TaskActivity is an audit line shown in the task drawer
type TaskActivity struct {
	ID        int64     `json:"id"`
	TaskID    int64     `json:"task"`
	ActorID   int64     `json:"actor"`
	Verb      string    `json:"verb"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskReminder schedules a reminder notification for a user
type TaskReminder struct {
	ID       int64     `json:"id"`
	TaskID   int64     `json:"task"`
	UserID   int64     `json:"user"`
	RemindAt time.Time `json:"remind_at"`
	Sent     bool      `json:"sent"`
}
