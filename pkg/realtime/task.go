package realtime

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/models"
)

const (
	maxCommentLen = 5000
	taskIDKey     = "task_id"
)

// CommentLookup loads comments
type CommentLookup interface {
	GetComment(ctx context.Context, id int64) (*models.TaskComment, error)
}

// TaskConsumer serves one task detail drawer, addressed by the task_id
// route variable
type TaskConsumer struct {
	tasks    TaskLookup
	comments CommentLookup
	clock    clock.Clock
}

// NewTaskConsumer creates the task detail consumer
func NewTaskConsumer(tasks TaskLookup, comments CommentLookup, clk clock.Clock) *TaskConsumer {
	if clk == nil {
		clk = clock.New()
	}
	return &TaskConsumer{tasks: tasks, comments: comments, clock: clk}
}

func (t *TaskConsumer) Name() string { return "task" }

func (t *TaskConsumer) Connect(ctx context.Context, s *Session) error {
	id, err := strconv.ParseInt(s.Vars["task_id"], 10, 64)
	if err != nil || id <= 0 {
		return apperrors.FieldError("task_id", "must be a positive integer")
	}
	ok, err := t.tasks.Exists(ctx, id, models.EventTask)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NotFound("task", id)
	}
	s.Set(taskIDKey, id)
	s.Join(models.TaskGroupName(id))
	return nil
}

func (t *TaskConsumer) Disconnect(ctx context.Context, s *Session) {}

func (t *TaskConsumer) Receive(ctx context.Context, s *Session, msg Message) error {
	taskID, _ := s.Get(taskIDKey).(int64)
	group := models.TaskGroupName(taskID)

	var frame Frame
	var err error
	switch msg.Type {
	case "comment_added":
		frame, err = t.commentAdded(ctx, s, taskID, msg)
	case "comment_updated":
		frame, err = t.commentUpdated(ctx, s, taskID, msg)
	case "comment_deleted":
		frame, err = t.commentDeleted(s, msg)
	case "typing":
		frame, err = t.typing(s, msg)
	default:
		return unknownType(msg.Type)
	}
	if err != nil {
		return err
	}
	return s.Broadcast(ctx, group, frame)
}

// comment verifies the comment exists and belongs to taskID
func (t *TaskConsumer) comment(ctx context.Context, taskID int64, id *int64, field string) (*models.TaskComment, error) {
	commentID, err := requireID(field, id)
	if err != nil {
		return nil, err
	}
	c, err := t.comments.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if c.TaskID != taskID {
		return nil, apperrors.NotFound("comment", commentID)
	}
	return c, nil
}

func (t *TaskConsumer) commentAdded(ctx context.Context, s *Session, taskID int64, msg Message) (Frame, error) {
	var body struct {
		Comment json.RawMessage `json:"comment"`
	}
	if err := msg.Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Comment) == 0 || string(body.Comment) == "null" {
		return nil, apperrors.FieldError("comment", "This field is required.")
	}

	var ref struct {
		ID      *int64 `json:"id"`
		Content string `json:"content"`
	}
	if err := (Message{Raw: body.Comment}).Decode(&ref); err != nil {
		return nil, err
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(body.Comment, &payload); err != nil {
		return nil, apperrors.FieldError("comment", "must be an object")
	}
	if _, err := t.comment(ctx, taskID, ref.ID, "comment.id"); err != nil {
		return nil, err
	}
	payload["content"] = truncate(ref.Content, maxCommentLen)

	frame := actorFrame("comment_added", s.Principal, t.clock.Now())
	frame["comment"] = payload
	return frame, nil
}

func (t *TaskConsumer) commentUpdated(ctx context.Context, s *Session, taskID int64, msg Message) (Frame, error) {
	var body struct {
		CommentID  *int64 `json:"comment_id"`
		NewContent string `json:"new_content"`
	}
	if err := msg.Decode(&body); err != nil {
		return nil, err
	}
	c, err := t.comment(ctx, taskID, body.CommentID, "comment_id")
	if err != nil {
		return nil, err
	}
	frame := actorFrame("comment_updated", s.Principal, t.clock.Now())
	frame["comment_id"] = c.ID
	frame["new_content"] = truncate(body.NewContent, maxCommentLen)
	return frame, nil
}

// commentDeleted only type-checks the id; the comment is already gone
func (t *TaskConsumer) commentDeleted(s *Session, msg Message) (Frame, error) {
	var body struct {
		CommentID *int64 `json:"comment_id"`
	}
	if err := msg.Decode(&body); err != nil {
		return nil, err
	}
	id, err := requireID("comment_id", body.CommentID)
	if err != nil {
		return nil, err
	}
	frame := actorFrame("comment_deleted", s.Principal, t.clock.Now())
	frame["comment_id"] = id
	return frame, nil
}

func (t *TaskConsumer) typing(s *Session, msg Message) (Frame, error) {
	var body struct {
		IsTyping bool `json:"is_typing"`
	}
	if err := msg.Decode(&body); err != nil {
		return nil, err
	}
	frame := actorFrame("typing", s.Principal, t.clock.Now())
	frame["is_typing"] = body.IsTyping
	return frame, nil
}
