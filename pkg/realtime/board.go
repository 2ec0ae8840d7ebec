package realtime

import (
	"context"
	"encoding/json"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/observability"
)

const (
	maxStatusLen = 50
	editingKey   = "editing_task_id"
)

// TaskLookup checks task existence
type TaskLookup interface {
	Exists(ctx context.Context, id int64, t models.EventType) (bool, error)
}

// BoardConsumer serves the shared kanban board channel
type BoardConsumer struct {
	presence *Presence
	tasks    TaskLookup
	clock    clock.Clock
	logger   *observability.Logger
}

// NewBoardConsumer creates the board consumer
func NewBoardConsumer(presence *Presence, tasks TaskLookup, clk clock.Clock, logger *observability.Logger) *BoardConsumer {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &BoardConsumer{presence: presence, tasks: tasks, clock: clk, logger: logger}
}

func (b *BoardConsumer) Name() string { return "board" }

func (b *BoardConsumer) Connect(ctx context.Context, s *Session) error {
	s.Join(models.BoardGroup)
	if err := b.presence.Join(ctx, s.Principal, models.BoardGroup); err != nil {
		return err
	}
	_ = s.Broadcast(ctx, models.BoardGroup, actorFrame("user_joined", s.Principal, b.clock.Now()))

	viewers, err := b.presence.Viewers(ctx, models.BoardGroup)
	if err != nil {
		b.Disconnect(ctx, s)
		return err
	}
	list := make([]Frame, 0, len(viewers))
	for _, v := range viewers {
		list = append(list, Frame{
			"user_id":         v.UserID,
			"user_name":       v.DisplayName,
			"editing_task_id": v.EditingTaskID,
		})
	}
	return s.Send(Frame{"type": "current_viewers", "viewers": list})
}

func (b *BoardConsumer) Disconnect(ctx context.Context, s *Session) {
	last, err := b.presence.Leave(ctx, s.Principal, models.BoardGroup)
	if err != nil {
		b.logger.WithError(err).Warn("failed to remove board presence")
	}
	if last {
		_ = s.Broadcast(ctx, models.BoardGroup, actorFrame("user_left", s.Principal, b.clock.Now()))
	}
}

func (b *BoardConsumer) Receive(ctx context.Context, s *Session, msg Message) error {
	switch msg.Type {
	case "heartbeat":
		return b.heartbeat(ctx, s, msg)
	case "stop_editing":
		return b.setEditing(ctx, s, nil)
	case "task_updated":
		return b.taskUpdated(ctx, s, msg)
	case "task_created":
		return b.taskCreated(ctx, s, msg)
	case "task_deleted":
		return b.taskDeleted(ctx, s, msg)
	case "task_moved":
		return b.taskMoved(ctx, s, msg)
	default:
		return unknownType(msg.Type)
	}
}

func (b *BoardConsumer) heartbeat(ctx context.Context, s *Session, msg Message) error {
	var body struct {
		EditingTaskID *int64 `json:"editing_task_id"`
	}
	if err := msg.Decode(&body); err != nil {
		return err
	}
	if body.EditingTaskID != nil {
		if _, err := b.existingTask(ctx, body.EditingTaskID, "editing_task_id"); err != nil {
			return err
		}
	}
	return b.setEditing(ctx, s, body.EditingTaskID)
}

// setEditing refreshes presence and announces editing transitions
func (b *BoardConsumer) setEditing(ctx context.Context, s *Session, editing *int64) error {
	if err := b.presence.Touch(ctx, s.Principal, models.BoardGroup, editing); err != nil {
		return err
	}

	prev, _ := s.Get(editingKey).(*int64)
	if sameTask(prev, editing) {
		return nil
	}
	s.Set(editingKey, editing)

	now := b.clock.Now()
	if editing != nil {
		frame := actorFrame("user_editing", s.Principal, now)
		frame["task_id"] = *editing
		return s.Broadcast(ctx, models.BoardGroup, frame)
	}
	frame := actorFrame("user_stopped_editing", s.Principal, now)
	frame["task_id"] = *prev
	return s.Broadcast(ctx, models.BoardGroup, frame)
}

func sameTask(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (b *BoardConsumer) existingTask(ctx context.Context, id *int64, field string) (int64, error) {
	taskID, err := requireID(field, id)
	if err != nil {
		return 0, err
	}
	ok, err := b.tasks.Exists(ctx, taskID, models.EventTask)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, apperrors.NotFound("task", taskID)
	}
	return taskID, nil
}

func (b *BoardConsumer) taskUpdated(ctx context.Context, s *Session, msg Message) error {
	var body struct {
		TaskID   *int64          `json:"task_id"`
		TaskData json.RawMessage `json:"task_data"`
	}
	if err := msg.Decode(&body); err != nil {
		return err
	}
	taskID, err := b.existingTask(ctx, body.TaskID, "task_id")
	if err != nil {
		return err
	}
	frame := actorFrame("task_updated", s.Principal, b.clock.Now())
	frame["task_id"] = taskID
	if len(body.TaskData) > 0 {
		frame["task_data"] = body.TaskData
	}
	return s.Broadcast(ctx, models.BoardGroup, frame)
}

func (b *BoardConsumer) taskCreated(ctx context.Context, s *Session, msg Message) error {
	var body struct {
		TaskData json.RawMessage `json:"task_data"`
	}
	if err := msg.Decode(&body); err != nil {
		return err
	}
	if len(body.TaskData) == 0 || string(body.TaskData) == "null" {
		return apperrors.FieldError("task_data", "This field is required.")
	}
	frame := actorFrame("task_created", s.Principal, b.clock.Now())
	frame["task_data"] = body.TaskData
	return s.Broadcast(ctx, models.BoardGroup, frame)
}

// taskDeleted only type-checks the id: the row is already gone by the time
// clients announce the delete.
func (b *BoardConsumer) taskDeleted(ctx context.Context, s *Session, msg Message) error {
	var body struct {
		TaskID *int64 `json:"task_id"`
	}
	if err := msg.Decode(&body); err != nil {
		return err
	}
	taskID, err := requireID("task_id", body.TaskID)
	if err != nil {
		return err
	}
	frame := actorFrame("task_deleted", s.Principal, b.clock.Now())
	frame["task_id"] = taskID
	return s.Broadcast(ctx, models.BoardGroup, frame)
}

func (b *BoardConsumer) taskMoved(ctx context.Context, s *Session, msg Message) error {
	var body struct {
		TaskID     *int64 `json:"task_id"`
		FromStatus string `json:"from_status"`
		ToStatus   string `json:"to_status"`
	}
	if err := msg.Decode(&body); err != nil {
		return err
	}
	if body.ToStatus == "" {
		return apperrors.FieldError("to_status", "This field is required.")
	}
	taskID, err := b.existingTask(ctx, body.TaskID, "task_id")
	if err != nil {
		return err
	}
	frame := actorFrame("task_moved", s.Principal, b.clock.Now())
	frame["task_id"] = taskID
	frame["from_status"] = truncate(body.FromStatus, maxStatusLen)
	frame["to_status"] = truncate(body.ToStatus, maxStatusLen)
	return s.Broadcast(ctx, models.BoardGroup, frame)
}
