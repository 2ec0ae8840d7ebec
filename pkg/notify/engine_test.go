package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/observability"
	"github.com/platinummonkey/ptbhub/pkg/storage/postgres"
)

type engineFixture struct {
	store   *fakeStore
	users   *fakeUsers
	emps    *fakeEmployees
	sender  *recordingSender
	metrics *observability.Metrics
	engine  *Engine
}

func newEngineFixture(users *fakeUsers, emps *fakeEmployees, groups fakeGroups, system *models.SystemConfiguration) *engineFixture {
	f := &engineFixture{
		store:   &fakeStore{},
		users:   users,
		emps:    emps,
		sender:  &recordingSender{},
		metrics: observability.NewNopMetrics(),
	}
	f.engine = New(Deps{
		Store:     f.store,
		Users:     users,
		Employees: emps,
		Groups:    groups,
		System:    fakeSystem{cfg: system},
		Sender:    f.sender,
		Clock:     clock.NewFake(notifyNow),
		Metrics:   f.metrics,
	})
	return f
}

func defaultUsers() *fakeUsers {
	return newFakeUsers(
		user(1, "ada_smith", "Ada", "Smith"),
		user(2, "bob_jones", "Bob", "Jones"),
		user(3, "cy_young", "Cy", "Young"),
		user(4, "di_prince", "Di", "Prince"),
		admin(9, "root_admin"),
	)
}

func TestTaskAssignedAudience(t *testing.T) {
	groupID := int64(5)
	f := newEngineFixture(defaultUsers(), newFakeEmployees(), fakeGroups{5: {ID: 5, MemberIDs: []int64{4, 2}}}, nil)
	task := &models.CalendarEvent{ID: 42, Title: "Replace valve", Type: models.EventTask, GroupID: &groupID}

	created, err := f.engine.TaskAssigned(context.Background(), task, []int64{2, 3, 1, 9}, 1)
	require.NoError(t, err)
	require.Len(t, created, 3)

	assert.Equal(t, []int64{2, 3, 4}, f.store.recipients())
	assert.Equal(t, []string{"notifications_2", "notifications_3", "notifications_4"}, f.sender.groups())

	frame := f.sender.sent[0].frame
	assert.Equal(t, "notification", frame.Type)
	assert.Equal(t, "New Task Assigned", frame.Title)
	assert.Equal(t, models.NotifyTaskAssigned, frame.EventType)
	require.NotNil(t, frame.EventID)
	assert.Equal(t, int64(42), *frame.EventID)
	assert.False(t, frame.IsRead)
	assert.Equal(t, notifyNow, frame.CreatedAt)

	assert.Equal(t, float64(3), testutil.ToFloat64(f.metrics.NotificationsCreatedTotal.WithLabelValues("task_assigned")))
	assert.Equal(t, float64(3), testutil.ToFloat64(f.metrics.NotificationsPushedTotal.WithLabelValues("sent")))
}

func TestSendDeduplicatesWithinWindow(t *testing.T) {
	f := newEngineFixture(defaultUsers(), newFakeEmployees(), nil, nil)
	task := &models.CalendarEvent{ID: 42, Title: "Replace valve", AssignedTo: []int64{2, 3}}

	_, err := f.engine.TaskAssigned(context.Background(), task, nil, 1)
	require.NoError(t, err)
	again, err := f.engine.TaskAssigned(context.Background(), task, nil, 1)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Len(t, f.store.created, 2)

	// a different type for the same event is not a duplicate
	_, err = f.engine.TaskUpdated(context.Background(), task, 1, "Ada Smith")
	require.NoError(t, err)
	assert.Len(t, f.store.created, 4)
}

func TestSendCollapsesDuplicateDraftsInOneBatch(t *testing.T) {
	f := newEngineFixture(defaultUsers(), newFakeEmployees(), nil, nil)
	d := Draft{Recipient: 2, Title: "x", Type: models.NotifyReportStatus, Ref: "report:1"}

	created, err := f.engine.Send(context.Background(), []Draft{d, d})
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestSendFailureIsNotRecordedForDedup(t *testing.T) {
	f := newEngineFixture(defaultUsers(), newFakeEmployees(), nil, nil)
	f.store.fail = errors.New("db down")
	d := []Draft{{Recipient: 2, Title: "x", Type: models.NotifyReportStatus, Ref: "report:1"}}

	_, err := f.engine.Send(context.Background(), d)
	require.Error(t, err)
	assert.Empty(t, f.sender.sent)

	f.store.fail = nil
	created, err := f.engine.Send(context.Background(), d)
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestPushFailureDoesNotFailSend(t *testing.T) {
	f := newEngineFixture(defaultUsers(), newFakeEmployees(), nil, nil)
	f.sender.fail = true

	created, err := f.engine.Send(context.Background(), []Draft{{Recipient: 2, Title: "x", Type: models.NotifyReportStatus, Ref: "r"}})
	require.NoError(t, err)
	assert.Len(t, created, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.NotificationsPushedTotal.WithLabelValues("failed")))
}

func TestPushWaitsForCommit(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	db := postgres.New(sqlDB, nil)
	f := newEngineFixture(defaultUsers(), newFakeEmployees(), nil, nil)

	mock.ExpectBegin()
	mock.ExpectCommit()
	err = db.WithTx(context.Background(), func(ctx context.Context) error {
		_, err := f.engine.Send(ctx, []Draft{{Recipient: 2, Title: "x", Type: models.NotifyReportStatus, Ref: "a"}})
		require.NoError(t, err)
		assert.Empty(t, f.sender.sent, "push must wait for commit")
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, f.sender.sent, 1)

	mock.ExpectBegin()
	mock.ExpectRollback()
	err = db.WithTx(context.Background(), func(ctx context.Context) error {
		_, err := f.engine.Send(ctx, []Draft{{Recipient: 3, Title: "x", Type: models.NotifyReportStatus, Ref: "b"}})
		require.NoError(t, err)
		return errors.New("write failed")
	})
	require.Error(t, err)
	assert.Len(t, f.sender.sent, 1, "rolled back writes are never pushed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRolledBackSendIsNotRecordedForDedup(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	db := postgres.New(sqlDB, nil)
	f := newEngineFixture(defaultUsers(), newFakeEmployees(), nil, nil)
	d := []Draft{{Recipient: 2, Title: "x", Type: models.NotifyReportStatus, Ref: "report:9"}}

	mock.ExpectBegin()
	mock.ExpectRollback()
	err = db.WithTx(context.Background(), func(ctx context.Context) error {
		created, err := f.engine.Send(ctx, d)
		require.NoError(t, err)
		require.Len(t, created, 1)
		return errors.New("write failed")
	})
	require.Error(t, err)

	mock.ExpectBegin()
	mock.ExpectCommit()
	err = db.WithTx(context.Background(), func(ctx context.Context) error {
		created, err := f.engine.Send(ctx, d)
		require.NoError(t, err)
		assert.Len(t, created, 1, "retry after rollback must not be suppressed")
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, f.sender.sent, 1)

	again, err := f.engine.Send(context.Background(), d)
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaveCreatedNotifiesAgentAndAdmins(t *testing.T) {
	users := defaultUsers()
	users.byID[8] = admin(8, "second_admin")
	f := newEngineFixture(users, newFakeEmployees(), nil, nil)
	agent := int64(3)
	leave := &models.CalendarEvent{
		ID: 77, Type: models.EventLeave, LeaveType: "annual", AgentID: &agent,
		Start: notifyNow, End: notifyNow.AddDate(0, 0, 2),
	}

	created, err := f.engine.LeaveCreated(context.Background(), leave, "Bob Jones", 8)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 9}, f.store.recipients())
	assert.Contains(t, created[0].Message, "named you as agent")
	assert.Equal(t, "Bob Jones requested annual leave (2026-03-02 to 2026-03-04)", created[1].Message)
}

func TestPurchaseNotifications(t *testing.T) {
	emps := newFakeEmployees(&models.Employee{ID: 50, EmpID: "E-50", Name: "Cy Young"})
	f := newEngineFixture(defaultUsers(), emps, nil, nil)
	ctx := context.Background()

	pr := &models.PurchaseRequest{ID: 7, Title: "Torque wrench", Status: models.PurchasePending}
	_, err := f.engine.PurchaseCreated(ctx, pr)
	require.NoError(t, err)
	assert.Equal(t, []int64{9}, f.store.recipients())

	pr.Status = models.PurchaseOrdered
	created, err := f.engine.PurchaseStatusChanged(ctx, pr, models.PurchasePending)
	require.NoError(t, err)
	assert.Empty(t, created)

	tests := []struct {
		name  string
		pr    *models.PurchaseRequest
		want  int64
		title string
	}{
		{"owner employee by name", &models.PurchaseRequest{ID: 8, OwnerEmployeeID: ptr(50), Status: models.PurchaseDone}, 3, "Purchase Request Completed"},
		{"username", &models.PurchaseRequest{ID: 9, OwnerUsername: "bob_jones", Status: models.PurchaseCanceled}, 2, "Purchase Request Canceled"},
		{"full name", &models.PurchaseRequest{ID: 10, OwnerName: "di prince", Status: models.PurchaseDone}, 4, "Purchase Request Completed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			created, err := f.engine.PurchaseStatusChanged(ctx, tt.pr, models.PurchaseOrdered)
			require.NoError(t, err)
			require.Len(t, created, 1)
			assert.Equal(t, tt.want, created[0].RecipientID)
			assert.Equal(t, tt.title, created[0].Title)
		})
	}

	created, err = f.engine.PurchaseStatusChanged(ctx, &models.PurchaseRequest{ID: 11, OwnerName: "Nobody", Status: models.PurchaseDone}, models.PurchaseOrdered)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestOvertimeApprovalNotifiesEachOwner(t *testing.T) {
	users := defaultUsers()
	users.byID[2].WorkerID = "E-10"
	f := newEngineFixture(users, newFakeEmployees(), nil, nil)

	reqs := []*models.OvertimeRequest{
		{ID: 10, EmployeeEmpID: "E-10", EmployeeName: "Robert J", RequestDate: notifyNow},
		{ID: 11, EmployeeEmpID: "E-11", EmployeeName: "Cy Young", RequestDate: notifyNow},
		{ID: 12, EmployeeEmpID: "E-12", EmployeeName: "Di Prince", RequestDate: notifyNow.AddDate(0, 0, 1)},
		{ID: 13, EmployeeEmpID: "E-13", EmployeeName: "Ghost Worker", RequestDate: notifyNow},
	}
	created, err := f.engine.OvertimeStatusChanged(context.Background(), reqs, models.OvertimeApproved)
	require.NoError(t, err)
	require.Len(t, created, 3)
	assert.Equal(t, []int64{2, 3, 4}, f.store.recipients())
	for _, n := range created {
		assert.Equal(t, "Overtime Request Approved", n.Title)
		assert.Equal(t, models.NotifyOvertimeStatus, n.EventType)
	}

	none, err := f.engine.OvertimeStatusChanged(context.Background(), reqs, models.OvertimePending)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMentionedOnlyValidTargets(t *testing.T) {
	groupID := int64(5)
	f := newEngineFixture(defaultUsers(), newFakeEmployees(), fakeGroups{5: {ID: 5, MemberIDs: []int64{4}}}, nil)
	task := &models.CalendarEvent{ID: 42, Title: "Replace valve", AssignedTo: []int64{2}, GroupID: &groupID}
	comment := &models.TaskComment{ID: 1, TaskID: 42, AuthorID: 2, Mentions: []int64{2, 3, 4, 9}}

	created, err := f.engine.Mentioned(context.Background(), task, comment, "Bob Jones")
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, int64(4), created[0].RecipientID)
	assert.Equal(t, "Bob Jones mentioned you on task \"Replace valve\"", created[0].Message)
}

func TestReportAndGroupAndPermissionNotifications(t *testing.T) {
	f := newEngineFixture(defaultUsers(), newFakeEmployees(), nil, nil)
	ctx := context.Background()

	report := &models.UserReport{ID: 3, ReporterID: 2, Title: "Login loop", Status: models.ReportInProgress}
	created, err := f.engine.ReportStatusChanged(ctx, report, models.ReportOpen, 9)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "Your report \"Login loop\" is now in progress", created[0].Message)

	created, err = f.engine.ReportStatusChanged(ctx, report, models.ReportInProgress, 9)
	require.NoError(t, err)
	assert.Empty(t, created)

	created, err = f.engine.GroupMembersAdded(ctx, &models.TaskGroup{ID: 5, Name: "Pumps"}, []int64{1, 3, 3}, 1)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, int64(3), created[0].RecipientID)

	target := user(4, "di_prince", "Di", "Prince")
	target.PermissionUpdatedAt = notifyNow
	created, err = f.engine.PermissionChanged(ctx, target, 9)
	require.NoError(t, err)
	assert.Len(t, created, 1)
	created, err = f.engine.PermissionChanged(ctx, target, 4)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestEventReminderPolicy(t *testing.T) {
	users := defaultUsers()
	users.byID[3].Role = models.RoleSuperAdmin
	event := &models.CalendarEvent{ID: 60, Title: "Safety briefing", Start: notifyNow}

	policy := &models.SystemConfiguration{
		ReminderBlockedRoles:   []models.UserRole{models.RoleSuperAdmin},
		ReminderBlockedUserIDs: []int64{4},
	}
	f := newEngineFixture(users, newFakeEmployees(), nil, policy)
	created, err := f.engine.EventReminder(context.Background(), event, []int64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, f.store.recipients())
	assert.Len(t, created, 2)

	disabled := newEngineFixture(users, newFakeEmployees(), nil, &models.SystemConfiguration{RemindersDisabled: true})
	created, err = disabled.engine.EventReminder(context.Background(), event, []int64{1, 2})
	require.NoError(t, err)
	assert.Empty(t, created)
}

func ptr(v int64) *int64 { return &v }
