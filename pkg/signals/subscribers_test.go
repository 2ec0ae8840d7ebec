package signals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ptbhub/pkg/cache"
	"github.com/platinummonkey/ptbhub/pkg/models"
)

type fakeCache struct{ views []string }

func (f *fakeCache) InvalidateViews(ctx context.Context, views ...string) {
	f.views = append(f.views, views...)
}

type fakeRegen struct {
	dates []string
	err   error
}

func (f *fakeRegen) EnqueueRegeneration(ctx context.Context, date time.Time) error {
	f.dates = append(f.dates, date.Format("2006-01-02"))
	return f.err
}

type fakeNotifier struct {
	assigned  [][]int64
	updated   []int64
	leaves    []string
	groups    [][]int64
	purchases []int64
	overtime  []models.OvertimeStatus
}

func (f *fakeNotifier) TaskAssigned(ctx context.Context, task *models.CalendarEvent, added []int64, actorID int64) ([]*models.Notification, error) {
	f.assigned = append(f.assigned, added)
	return nil, nil
}

func (f *fakeNotifier) TaskUpdated(ctx context.Context, task *models.CalendarEvent, actorID int64, actorName string) ([]*models.Notification, error) {
	f.updated = append(f.updated, task.ID)
	return nil, nil
}

func (f *fakeNotifier) LeaveCreated(ctx context.Context, leave *models.CalendarEvent, applicant string, actorID int64) ([]*models.Notification, error) {
	f.leaves = append(f.leaves, applicant)
	return nil, nil
}

func (f *fakeNotifier) GroupMembersAdded(ctx context.Context, group *models.TaskGroup, added []int64, actorID int64) ([]*models.Notification, error) {
	f.groups = append(f.groups, added)
	return nil, nil
}

func (f *fakeNotifier) PurchaseCreated(ctx context.Context, pr *models.PurchaseRequest) ([]*models.Notification, error) {
	f.purchases = append(f.purchases, pr.ID)
	return nil, nil
}

func (f *fakeNotifier) OvertimeStatusChanged(ctx context.Context, reqs []*models.OvertimeRequest, status models.OvertimeStatus) ([]*models.Notification, error) {
	f.overtime = append(f.overtime, status)
	return nil, nil
}

type fakeInvalidator struct{ calls int }

func (f *fakeInvalidator) Invalidate() { f.calls++ }

type sentFrame struct {
	group string
	frame interface{}
}

type fakeSender struct {
	sent []sentFrame
	err  error
}

func (f *fakeSender) SendGroup(ctx context.Context, group string, frame interface{}) error {
	f.sent = append(f.sent, sentFrame{group, frame})
	return f.err
}

type subscriberFixture struct {
	bus      *Bus
	cache    *fakeCache
	regen    *fakeRegen
	notifier *fakeNotifier
	smb      *fakeInvalidator
	sender   *fakeSender
}

func newSubscriberFixture() *subscriberFixture {
	f := &subscriberFixture{
		bus:      NewBus(nil),
		cache:    &fakeCache{},
		regen:    &fakeRegen{},
		notifier: &fakeNotifier{},
		smb:      &fakeInvalidator{},
		sender:   &fakeSender{},
	}
	Subscribers{
		Cache:     f.cache,
		Regen:     f.regen,
		Notifier:  f.notifier,
		SMBConfig: f.smb,
		Sender:    f.sender,
	}.Register(f.bus)
	return f
}

func date(s string) time.Time {
	d, _ := time.Parse("2006-01-02", s)
	return d
}

func TestSubscribers_InvalidateViews(t *testing.T) {
	tests := []struct {
		name string
		sig  Signal
		want []string
	}{
		{"employee", EmployeeChanged{EmployeeID: 1}, []string{cache.ViewEmployees, cache.ViewDepartments}},
		{"overtime deleted", OvertimeDeleted{RequestID: 1, RequestDate: date("2026-03-02")}, []string{cache.ViewOvertimeRequests}},
		{"event deleted", EventDeleted{Event: &models.CalendarEvent{ID: 1}}, []string{cache.ViewCalendarEvents}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSubscriberFixture()
			f.bus.Publish(context.Background(), tt.sig)
			assert.Equal(t, tt.want, f.cache.views)
		})
	}
}

func TestSubscribers_OvertimeSavedRegeneratesBothDates(t *testing.T) {
	f := newSubscriberFixture()
	prev := date("2026-03-01")

	f.bus.Publish(context.Background(), OvertimeSaved{
		Request:      &models.OvertimeRequest{ID: 1, RequestDate: date("2026-03-02")},
		PreviousDate: &prev,
	})

	assert.Equal(t, []string{"2026-03-02", "2026-03-01"}, f.regen.dates)
	assert.Equal(t, []string{cache.ViewOvertimeRequests}, f.cache.views)
}

func TestSubscribers_StatusChangeRegeneratesDistinctDates(t *testing.T) {
	f := newSubscriberFixture()

	f.bus.Publish(context.Background(), OvertimeStatusChanged{
		Status: models.OvertimeApproved,
		Requests: []*models.OvertimeRequest{
			{ID: 10, RequestDate: date("2026-03-02")},
			{ID: 11, RequestDate: date("2026-03-02")},
			{ID: 12, RequestDate: date("2026-03-03")},
		},
	})

	assert.Equal(t, []string{"2026-03-02", "2026-03-03"}, f.regen.dates)
	assert.Equal(t, []models.OvertimeStatus{models.OvertimeApproved}, f.notifier.overtime)
}

func TestSubscribers_RegenerationFailureDoesNotPanic(t *testing.T) {
	f := newSubscriberFixture()
	f.regen.err = errors.New("queue down")

	f.bus.Publish(context.Background(), OvertimeDeleted{RequestID: 3, RequestDate: date("2026-03-05")})

	assert.Equal(t, []string{"2026-03-05"}, f.regen.dates)
	assert.Equal(t, []string{cache.ViewOvertimeRequests}, f.cache.views)
}

func TestSubscribers_Notifications(t *testing.T) {
	f := newSubscriberFixture()
	ctx := context.Background()
	task := &models.CalendarEvent{ID: 5, Type: models.EventTask}
	meeting := &models.CalendarEvent{ID: 6, Type: models.EventMeeting}

	f.bus.Publish(ctx, AssigneesAdded{Event: task, Added: []int64{2, 3}, Actor: Actor{ID: 1}})
	f.bus.Publish(ctx, AssigneesAdded{Event: meeting, Added: []int64{2}})
	f.bus.Publish(ctx, AssigneesAdded{Event: task})
	require.Equal(t, [][]int64{{2, 3}}, f.notifier.assigned)

	parent := int64(9)
	f.bus.Publish(ctx, EventSaved{Event: &models.CalendarEvent{ID: 7, Type: models.EventLeave}, Created: true, Actor: Actor{ID: 2, Name: "Budi"}})
	f.bus.Publish(ctx, EventSaved{Event: &models.CalendarEvent{ID: 8, Type: models.EventLeave}, Actor: Actor{ID: 2}})
	f.bus.Publish(ctx, EventSaved{Event: &models.CalendarEvent{ID: 10, Type: models.EventLeave, ParentEventID: &parent}, Created: true})
	assert.Equal(t, []string{"Budi"}, f.notifier.leaves)

	f.bus.Publish(ctx, EventSaved{Event: &models.CalendarEvent{ID: 13, Type: models.EventTask}, Actor: Actor{ID: 2, Name: "Budi"}})
	f.bus.Publish(ctx, EventSaved{Event: &models.CalendarEvent{ID: 14, Type: models.EventTask}, Created: true})
	f.bus.Publish(ctx, EventSaved{Event: &models.CalendarEvent{ID: 15, Type: models.EventTask, ParentEventID: &parent}})
	assert.Equal(t, []int64{13}, f.notifier.updated)

	f.bus.Publish(ctx, GroupMembersAdded{Group: &models.TaskGroup{ID: 1}, Added: []int64{4}})
	assert.Equal(t, [][]int64{{4}}, f.notifier.groups)

	f.bus.Publish(ctx, PurchaseSaved{Request: &models.PurchaseRequest{ID: 11}, Created: true})
	f.bus.Publish(ctx, PurchaseSaved{Request: &models.PurchaseRequest{ID: 12}})
	assert.Equal(t, []int64{11}, f.notifier.purchases)
}

func TestSubscribers_CalendarPushAndSMB(t *testing.T) {
	f := newSubscriberFixture()
	f.sender.err = errors.New("hub down")
	ctx := context.Background()

	f.bus.Publish(ctx, EventSaved{Event: &models.CalendarEvent{ID: 3}, Created: true, Actor: Actor{ID: 1}})
	f.bus.Publish(ctx, EventDeleted{Event: &models.CalendarEvent{ID: 3}})
	f.bus.Publish(ctx, SMBConfigChanged{ConfigID: 1})

	require.Len(t, f.sender.sent, 2)
	assert.Equal(t, models.CalendarGroup, f.sender.sent[0].group)
	assert.Equal(t, "event_created", f.sender.sent[0].frame.(CalendarFrame).Type)
	assert.Equal(t, "event_deleted", f.sender.sent[1].frame.(CalendarFrame).Type)
	assert.Equal(t, 1, f.smb.calls)
}

func TestSubscribers_NilCollaboratorsSkipped(t *testing.T) {
	bus := NewBus(nil)
	Subscribers{}.Register(bus)

	assert.Empty(t, bus.Subscribers(TopicOvertimeSaved))
	bus.Publish(context.Background(), OvertimeSaved{Request: &models.OvertimeRequest{}})
}
