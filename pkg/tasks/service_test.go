package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/auth"
	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/models"
)

var taskNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fakeEvents map[int64]*models.CalendarEvent

func (f fakeEvents) Get(ctx context.Context, id int64) (*models.CalendarEvent, error) {
	e, ok := f[id]
	if !ok {
		return nil, apperrors.NotFound("event", id)
	}
	return e, nil
}

type memoryStore struct {
	nextID     int64
	comments   map[int64]*models.TaskComment
	activities []*models.TaskActivity
	logs       []*models.TaskTimeLog
	reminders  []*models.TaskReminder
}

func newMemoryStore() *memoryStore {
	return &memoryStore{nextID: 1, comments: make(map[int64]*models.TaskComment)}
}

func (m *memoryStore) GetComment(ctx context.Context, id int64) (*models.TaskComment, error) {
	c, ok := m.comments[id]
	if !ok {
		return nil, apperrors.NotFound("comment", id)
	}
	cp := *c
	return &cp, nil
}

func (m *memoryStore) ListComments(ctx context.Context, taskID int64) ([]*models.TaskComment, error) {
	var out []*models.TaskComment
	for id := int64(1); id < m.nextID; id++ {
		if c, ok := m.comments[id]; ok && c.TaskID == taskID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memoryStore) CreateComment(ctx context.Context, c *models.TaskComment) error {
	c.ID = m.nextID
	c.CreatedAt = taskNow
	m.nextID++
	cp := *c
	m.comments[c.ID] = &cp
	return nil
}

func (m *memoryStore) UpdateCommentContent(ctx context.Context, id int64, content string, now time.Time) error {
	c, ok := m.comments[id]
	if !ok {
		return apperrors.NotFound("comment", id)
	}
	c.Content = content
	c.IsEdited = true
	c.EditedAt = &now
	return nil
}

func (m *memoryStore) DeleteComment(ctx context.Context, id int64) error {
	delete(m.comments, id)
	for cid, c := range m.comments {
		if c.ParentID != nil && *c.ParentID == id {
			delete(m.comments, cid)
		}
	}
	return nil
}

func (m *memoryStore) RecordActivity(ctx context.Context, a *models.TaskActivity) error {
	m.activities = append(m.activities, a)
	return nil
}

func (m *memoryStore) RunningTimeLog(ctx context.Context, userID int64) (*models.TaskTimeLog, error) {
	for _, l := range m.logs {
		if l.UserID == userID && l.Running() {
			return l, nil
		}
	}
	return nil, apperrors.NotFound("time log", userID)
}

func (m *memoryStore) StartTimeLog(ctx context.Context, taskID, userID int64, now time.Time) (*models.TaskTimeLog, error) {
	l := &models.TaskTimeLog{ID: int64(len(m.logs) + 1), TaskID: taskID, UserID: userID, StartedAt: now}
	m.logs = append(m.logs, l)
	return l, nil
}

func (m *memoryStore) StopTimeLog(ctx context.Context, logID int64, now time.Time) (*models.TaskTimeLog, float64, error) {
	l := m.logs[logID-1]
	if !l.Running() {
		return nil, 0, apperrors.Conflict("already stopped")
	}
	l.EndedAt = &now
	l.DurationMinutes = int(now.Sub(l.StartedAt).Minutes())
	var total int
	for _, x := range m.logs {
		if x.TaskID == l.TaskID && !x.Running() {
			total += x.DurationMinutes
		}
	}
	return l, float64(total) / 60, nil
}

func (m *memoryStore) CreateReminder(ctx context.Context, r *models.TaskReminder) error {
	r.ID = int64(len(m.reminders) + 1)
	m.reminders = append(m.reminders, r)
	return nil
}

type fakeNotifier struct {
	targets   map[int64]bool
	mentioned []*models.TaskComment
}

func (f *fakeNotifier) MentionTargets(ctx context.Context, task *models.CalendarEvent) (map[int64]bool, error) {
	return f.targets, nil
}

func (f *fakeNotifier) Mentioned(ctx context.Context, task *models.CalendarEvent, comment *models.TaskComment, actorName string) ([]*models.Notification, error) {
	f.mentioned = append(f.mentioned, comment)
	return nil, nil
}

type directTx struct{}

func (directTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	store    *memoryStore
	notifier *fakeNotifier
	clock    *clock.Fake
	svc      *Service
}

func newFixture() *fixture {
	f := &fixture{
		store:    newMemoryStore(),
		notifier: &fakeNotifier{targets: map[int64]bool{7: true, 8: true}},
		clock:    clock.NewFake(taskNow),
	}
	f.svc = NewService(Deps{
		Tx: directTx{},
		Events: fakeEvents{
			1: {ID: 1, Type: models.EventTask, Title: "Ship"},
			2: {ID: 2, Type: models.EventTask, Title: "Other"},
			3: {ID: 3, Type: models.EventMeeting, Title: "Standup"},
		},
		Store:    f.store,
		Notifier: f.notifier,
		Clock:    f.clock,
	})
	return f
}

func user(id int64, admin bool) auth.Principal {
	return auth.NewPrincipal(&models.User{ID: id, Username: "u", FirstName: "Kim", Role: models.RoleUser, IsPTBAdmin: admin, IsActive: true}, auth.SourceLocal)
}

func ptr(v int64) *int64 { return &v }

func TestAddComment_MentionsNotified(t *testing.T) {
	f := newFixture()

	c, err := f.svc.AddComment(context.Background(), 1, CommentInput{Content: "  ping @a  ", Mentions: []int64{8, 7, 8}}, user(5, false))
	require.NoError(t, err)
	assert.Equal(t, "ping @a", c.Content)
	assert.Equal(t, []int64{7, 8}, c.Mentions)
	assert.Equal(t, int64(5), c.AuthorID)
	require.Len(t, f.notifier.mentioned, 1)
	require.Len(t, f.store.activities, 1)
	assert.Equal(t, "commented", f.store.activities[0].Verb)
}

func TestAddComment_RejectsMentionOutsideTask(t *testing.T) {
	f := newFixture()

	_, err := f.svc.AddComment(context.Background(), 1, CommentInput{Content: "hi", Mentions: []int64{7, 99}}, user(5, false))
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Empty(t, f.store.comments)
	assert.Empty(t, f.notifier.mentioned)
}

func TestAddComment_ReplyDepth(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	root, err := f.svc.AddComment(ctx, 1, CommentInput{Content: "root"}, user(5, false))
	require.NoError(t, err)

	reply, err := f.svc.AddComment(ctx, 1, CommentInput{Content: "reply", ParentID: ptr(root.ID)}, user(6, false))
	require.NoError(t, err)
	assert.Equal(t, root.ID, *reply.ParentID)

	_, err = f.svc.AddComment(ctx, 1, CommentInput{Content: "nested", ParentID: ptr(reply.ID)}, user(5, false))
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = f.svc.AddComment(ctx, 2, CommentInput{Content: "elsewhere", ParentID: ptr(root.ID)}, user(5, false))
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = f.svc.AddComment(ctx, 1, CommentInput{Content: "ghost", ParentID: ptr(404)}, user(5, false))
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestAddComment_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.AddComment(ctx, 1, CommentInput{Content: "   "}, user(5, false))
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = f.svc.AddComment(ctx, 3, CommentInput{Content: "not a task"}, user(5, false))
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	long := make([]rune, MaxCommentLength+10)
	for i := range long {
		long[i] = 'é'
	}
	c, err := f.svc.AddComment(ctx, 1, CommentInput{Content: string(long)}, user(5, false))
	require.NoError(t, err)
	assert.Len(t, []rune(c.Content), MaxCommentLength)
}

func TestEditAndDeleteComment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	c, err := f.svc.AddComment(ctx, 1, CommentInput{Content: "draft"}, user(5, false))
	require.NoError(t, err)

	_, err = f.svc.EditComment(ctx, c.ID, "hijack", user(6, true))
	assert.Equal(t, apperrors.KindAuthorization, apperrors.KindOf(err))

	f.clock.Advance(time.Minute)
	edited, err := f.svc.EditComment(ctx, c.ID, "final", user(5, false))
	require.NoError(t, err)
	assert.True(t, edited.IsEdited)
	assert.Equal(t, taskNow.Add(time.Minute), *edited.EditedAt)

	err = f.svc.DeleteComment(ctx, c.ID, user(6, false))
	assert.Equal(t, apperrors.KindAuthorization, apperrors.KindOf(err))

	require.NoError(t, f.svc.DeleteComment(ctx, c.ID, user(6, true)))
	assert.Empty(t, f.store.comments)
}

func TestTimer_StartStop(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.StopTimer(ctx, user(5, false))
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	l, err := f.svc.StartTimer(ctx, 1, user(5, false))
	require.NoError(t, err)
	assert.True(t, l.Running())

	_, err = f.svc.StartTimer(ctx, 2, user(5, false))
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	f.clock.Advance(90 * time.Minute)
	res, err := f.svc.StopTimer(ctx, user(5, false))
	require.NoError(t, err)
	assert.Equal(t, 90, res.Log.DurationMinutes)
	assert.InDelta(t, 1.5, res.ActualHours, 0.001)

	_, err = f.svc.StartTimer(ctx, 2, user(5, false))
	assert.NoError(t, err)
}

func TestAddReminder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	r, err := f.svc.AddReminder(ctx, 1, ReminderInput{RemindAt: taskNow.Add(time.Hour)}, user(5, false))
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.TaskID)
	assert.Equal(t, int64(5), r.UserID)
	assert.Equal(t, taskNow.Add(time.Hour), r.RemindAt)
	require.Len(t, f.store.reminders, 1)

	_, err = f.svc.AddReminder(ctx, 1, ReminderInput{}, user(5, false))
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = f.svc.AddReminder(ctx, 1, ReminderInput{RemindAt: taskNow}, user(5, false))
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = f.svc.AddReminder(ctx, 3, ReminderInput{RemindAt: taskNow.Add(time.Hour)}, user(5, false))
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
	assert.Len(t, f.store.reminders, 1)
}
