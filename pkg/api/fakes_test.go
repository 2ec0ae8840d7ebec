package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/auth"
	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/config"
	"github.com/platinummonkey/ptbhub/pkg/jobs"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/overtime"
	"github.com/platinummonkey/ptbhub/pkg/rbac"
	"github.com/platinummonkey/ptbhub/pkg/recurrence"
	"github.com/platinummonkey/ptbhub/pkg/signals"
	"github.com/platinummonkey/ptbhub/pkg/smb"
	"github.com/platinummonkey/ptbhub/pkg/storage/postgres"
	"github.com/platinummonkey/ptbhub/pkg/tasks"
	"github.com/platinummonkey/ptbhub/pkg/workflow"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

var testCookies = auth.CookieConfig{
	AccessName:  "access_token",
	RefreshName: "refresh_token",
	AccessTTL:   time.Hour,
	RefreshTTL:  24 * time.Hour,
}

var (
	adminUser = &models.User{ID: 1, Username: "boss", Role: models.RoleSuperAdmin, IsActive: true}
	plainUser = &models.User{ID: 7, Username: "rina", Role: models.RoleUser, IsActive: true}
)

// stubAuthenticator resolves fixed bearer tokens
type stubAuthenticator struct {
	results map[string]*auth.Result
}

func (s *stubAuthenticator) Authenticate(_ *http.Request, cred auth.Credentials) (*auth.Result, error) {
	if res, ok := s.results[cred.Token]; ok {
		return res, nil
	}
	return nil, apperrors.Authentication(apperrors.CodeAuthFailed, "Invalid token.")
}

func defaultAuthenticator() *stubAuthenticator {
	return &stubAuthenticator{results: map[string]*auth.Result{
		"admin-token": {Principal: auth.NewPrincipal(adminUser, auth.SourceLocal), Token: "admin-token"},
		"user-token":  {Principal: auth.NewPrincipal(plainUser, auth.SourceLocal), Token: "user-token"},
		"expired": {
			Principal: auth.NewPrincipal(plainUser, auth.SourceExternal),
			Token:     "renewed",
			Refreshed: &auth.TokenPair{Access: "renewed", Refresh: "refresh-2", AccessExpiresAt: testNow.Add(time.Hour)},
		},
	}}
}

// newTestServer fills in the auth plumbing every test needs
func newTestServer(t *testing.T, d Deps) *Server {
	t.Helper()
	if d.Config == nil {
		d.Config = &config.Config{}
	}
	if d.Authenticator == nil {
		d.Authenticator = defaultAuthenticator()
	}
	if d.RBAC == nil {
		d.RBAC = rbac.NewEngine()
	}
	if d.Cookies.AccessName == "" {
		d.Cookies = testCookies
	}
	if d.Clock == nil {
		d.Clock = clock.NewFake(testNow)
	}
	return NewServer(d)
}

func do(t *testing.T, h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// fakeAuthService is a scripted AuthService
type fakeAuthService struct {
	loggedOut []string
}

func (f *fakeAuthService) LocalLogin(_ context.Context, username, password string) (*auth.LoginResult, error) {
	if username != "boss" || password != "secret" {
		return nil, apperrors.Authentication(apperrors.CodeAuthFailed, "Invalid username or password.")
	}
	return &auth.LoginResult{User: adminUser, Tokens: &auth.TokenPair{
		Access: "access-1", Refresh: "refresh-1",
		AccessExpiresAt: testNow.Add(time.Hour), RefreshExpiresAt: testNow.Add(24 * time.Hour),
	}}, nil
}

func (f *fakeAuthService) ExternalLogin(ctx context.Context, username, password string, _ auth.Credentials) (*auth.LoginResult, error) {
	return f.LocalLogin(ctx, username, password)
}

func (f *fakeAuthService) Refresh(_ context.Context, token string) (*auth.TokenPair, error) {
	if token != "refresh-1" {
		return nil, apperrors.Authentication(apperrors.CodeInvalidRefreshToken, "Invalid refresh token.")
	}
	return &auth.TokenPair{Access: "access-2", Refresh: "refresh-2", AccessExpiresAt: testNow.Add(time.Hour)}, nil
}

func (f *fakeAuthService) Verify(_ context.Context, cred auth.Credentials) (*auth.Result, error) {
	res, ok := defaultAuthenticator().results[cred.Token]
	if !ok {
		return nil, apperrors.Authentication(apperrors.CodeAuthFailed, "Invalid token.")
	}
	return res, nil
}

func (f *fakeAuthService) Logout(_ context.Context, token string) error {
	f.loggedOut = append(f.loggedOut, token)
	return nil
}

func (f *fakeAuthService) Exchange(ctx context.Context, token string) (*auth.LoginResult, error) {
	return nil, apperrors.Authentication(apperrors.CodeAuthFailed, "Invalid external token.")
}

// fakeDirectory serves a fixed employee list and counts reads
type fakeDirectory struct {
	mu        sync.Mutex
	employees []*models.Employee
	lists     int
}

func (f *fakeDirectory) GetEmployee(_ context.Context, id int64) (*models.Employee, error) {
	for _, e := range f.employees {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, apperrors.NotFound("employee", id)
}

func (f *fakeDirectory) ListEmployees(_ context.Context, _ postgres.EmployeeFilter) ([]*models.Employee, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	return f.employees, len(f.employees), nil
}

func (f *fakeDirectory) ListDepartments(context.Context) ([]*models.Department, error) {
	return nil, nil
}

func (f *fakeDirectory) GetProject(_ context.Context, id int64) (*models.Project, error) {
	return nil, apperrors.NotFound("project", id)
}

func (f *fakeDirectory) ListProjects(context.Context) ([]*models.Project, error) {
	return []*models.Project{{ID: 1, Code: "P-100", Name: "Alpha"}, {ID: 2, Code: "P-200", Name: "Beta"}}, nil
}

// fakeResolver provisions an employee per username
type fakeResolver struct {
	provisioned []string
}

func (f *fakeResolver) EmployeeForUser(_ context.Context, u *models.User) (*models.Employee, error) {
	f.provisioned = append(f.provisioned, u.Username)
	return &models.Employee{ID: 40, EmpID: u.Username, Name: u.DisplayName(), IsEnabled: true}, nil
}

// fakeOvertime records bulk calls and serves stored rows
type fakeOvertime struct {
	rows       map[int64]*models.OvertimeRequest
	bulkIDs    []int64
	bulkStatus models.OvertimeStatus
	updated    *overtime.Input
	patched    *overtime.Patch
}

func (f *fakeOvertime) Create(_ context.Context, in overtime.Input, _ auth.Principal) (*models.OvertimeRequest, error) {
	return &models.OvertimeRequest{ID: 99, EmployeeID: in.EmployeeID, ProjectID: in.ProjectID}, nil
}

func (f *fakeOvertime) Update(_ context.Context, id int64, in overtime.Input, _ auth.Principal) (*models.OvertimeRequest, error) {
	f.updated = &in
	return &models.OvertimeRequest{ID: id, EmployeeID: in.EmployeeID, Reason: in.Reason}, nil
}

func (f *fakeOvertime) Patch(_ context.Context, id int64, pt overtime.Patch, _ auth.Principal) (*models.OvertimeRequest, error) {
	f.patched = &pt
	o := &models.OvertimeRequest{ID: id}
	if pt.Reason != nil {
		o.Reason = *pt.Reason
	}
	return o, nil
}

func (f *fakeOvertime) Delete(context.Context, int64, auth.Principal) error { return nil }

func (f *fakeOvertime) BulkUpdateStatus(_ context.Context, ids []int64, status models.OvertimeStatus, p auth.Principal) ([]*models.OvertimeRequest, error) {
	if !auth.IsAdmin(p) {
		return nil, apperrors.PermissionDenied("Only administrators can change the status.")
	}
	f.bulkIDs, f.bulkStatus = ids, status
	out := make([]*models.OvertimeRequest, 0, len(ids))
	for _, id := range ids {
		out = append(out, &models.OvertimeRequest{ID: id, Status: status})
	}
	return out, nil
}

func (f *fakeOvertime) Summary(_ context.Context, date time.Time) (*overtime.Summary, error) {
	p := overtime.PeriodFor(date)
	return &overtime.Summary{PeriodStart: p.Start.Format("2006-01-02"), PeriodEnd: p.End.Format("2006-01-02"), TotalHours: 12.5}, nil
}

func (f *fakeOvertime) Get(_ context.Context, id int64) (*models.OvertimeRequest, error) {
	if o, ok := f.rows[id]; ok {
		return o, nil
	}
	return nil, apperrors.NotFound("overtime request", id)
}

func (f *fakeOvertime) List(context.Context, postgres.OvertimeFilter) ([]*models.OvertimeRequest, int, error) {
	return nil, 0, nil
}

type fakeQueue struct {
	jobs []*jobs.Job
}

func (f *fakeQueue) Enqueue(_ context.Context, j *jobs.Job) error {
	f.jobs = append(f.jobs, j)
	return nil
}

// fakeCalendar records the filters of range reads
type fakeCalendar struct {
	from, to time.Time
	types    []models.EventType
	assigned []int64
}

func (f *fakeCalendar) Create(_ context.Context, e *models.CalendarEvent, _ signals.Actor) error {
	e.ID = 40
	return nil
}

func (f *fakeCalendar) Update(_ context.Context, id int64, _ *recurrence.Patch, _ signals.Actor) (*models.CalendarEvent, error) {
	return &models.CalendarEvent{ID: id}, nil
}

func (f *fakeCalendar) Assign(_ context.Context, _ int64, ids []int64, _ signals.Actor) ([]int64, error) {
	f.assigned = ids
	return ids, nil
}

func (f *fakeCalendar) Delete(context.Context, int64, signals.Actor) error { return nil }

func (f *fakeCalendar) Get(_ context.Context, id int64) (*models.CalendarEvent, error) {
	return &models.CalendarEvent{ID: id, Type: models.EventMeeting}, nil
}

func (f *fakeCalendar) ListRange(_ context.Context, from, to time.Time, types []models.EventType) ([]*models.CalendarEvent, error) {
	f.from, f.to, f.types = from, to, types
	return nil, nil
}

type fakeNotifications struct {
	unread   int
	markedID int64
}

func (f *fakeNotifications) List(_ context.Context, recipientID int64, _ bool, _, _ int) ([]*models.Notification, int, error) {
	return []*models.Notification{{ID: 3, RecipientID: recipientID, Title: "hi"}}, 1, nil
}

func (f *fakeNotifications) UnreadCount(context.Context, int64) (int, error) { return f.unread, nil }

func (f *fakeNotifications) MarkRead(_ context.Context, _, id int64) error {
	f.markedID = id
	return nil
}

func (f *fakeNotifications) MarkAllRead(context.Context, int64) (int64, error) {
	return int64(f.unread), nil
}

// fakeSMBStore keeps configurations in memory
type fakeSMBStore struct {
	rows   map[int64]*models.SMBConfiguration
	nextID int64
}

func newFakeSMBStore() *fakeSMBStore {
	return &fakeSMBStore{rows: map[int64]*models.SMBConfiguration{}, nextID: 1}
}

func (f *fakeSMBStore) ListSMB(context.Context) ([]*models.SMBConfiguration, error) {
	out := make([]*models.SMBConfiguration, 0, len(f.rows))
	for _, c := range f.rows {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeSMBStore) GetSMB(_ context.Context, id int64) (*models.SMBConfiguration, error) {
	c, ok := f.rows[id]
	if !ok {
		return nil, apperrors.NotFound("smb configuration", id)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeSMBStore) SaveSMB(_ context.Context, c *models.SMBConfiguration) error {
	if c.ID == 0 {
		c.ID = f.nextID
		f.nextID++
	}
	if c.IsActive {
		for _, other := range f.rows {
			other.IsActive = false
		}
	}
	cp := *c
	f.rows[c.ID] = &cp
	return nil
}

func (f *fakeSMBStore) ActivateSMB(_ context.Context, id int64) error {
	if _, ok := f.rows[id]; !ok {
		return apperrors.NotFound("smb configuration", id)
	}
	for rid, c := range f.rows {
		c.IsActive = rid == id
	}
	return nil
}

func (f *fakeSMBStore) DeleteSMB(_ context.Context, id int64) error {
	delete(f.rows, id)
	return nil
}

type prefixSealer struct{}

func (prefixSealer) Encrypt(plain string) (string, error) { return "sealed:" + plain, nil }

func (prefixSealer) Decrypt(_ context.Context, row *models.SMBConfiguration) (string, error) {
	if len(row.EncryptedPassword) < 7 {
		return "", nil
	}
	return row.EncryptedPassword[7:], nil
}

type fakeTester struct {
	seen *smb.Settings
	err  error
}

func (f *fakeTester) TestConnection(_ context.Context, s *smb.Settings) error {
	f.seen = s
	return f.err
}

type recordingBus struct {
	published []signals.Signal
}

func (b *recordingBus) Publish(_ context.Context, sig signals.Signal) {
	b.published = append(b.published, sig)
}

// fakeAccess applies changes to a copy of the target
type fakeAccess struct {
	actorID int64
	change  auth.AccessChange
}

func (f *fakeAccess) Update(_ context.Context, actor auth.Principal, targetID int64, change auth.AccessChange) (*models.User, error) {
	f.actorID, f.change = actor.ID(), change
	u := &models.User{ID: targetID, Username: "target", Role: models.RoleUser, IsActive: true, PermissionUpdatedAt: testNow}
	if change.MenuPermissions != nil {
		u.MenuPermissions = *change.MenuPermissions
	}
	return u, nil
}

type fakePermissionNotifier struct {
	notified []int64
}

func (f *fakePermissionNotifier) PermissionChanged(_ context.Context, u *models.User, actorID int64) ([]*models.Notification, error) {
	f.notified = append(f.notified, u.ID)
	return []*models.Notification{{RecipientID: u.ID}}, nil
}

// fakeTasks records the principal of each call
type fakeTasks struct {
	running bool
}

func (f *fakeTasks) Comments(_ context.Context, taskID int64) ([]*models.TaskComment, error) {
	return []*models.TaskComment{{ID: 1, TaskID: taskID, Content: "first"}}, nil
}

func (f *fakeTasks) AddComment(_ context.Context, taskID int64, in tasks.CommentInput, p auth.Principal) (*models.TaskComment, error) {
	return &models.TaskComment{ID: 2, TaskID: taskID, AuthorID: p.ID(), Content: in.Content, Mentions: in.Mentions}, nil
}

func (f *fakeTasks) EditComment(_ context.Context, id int64, content string, p auth.Principal) (*models.TaskComment, error) {
	if p.ID() != plainUser.ID {
		return nil, apperrors.PermissionDenied("Only the author can edit a comment.")
	}
	return &models.TaskComment{ID: id, Content: content, IsEdited: true}, nil
}

func (f *fakeTasks) DeleteComment(context.Context, int64, auth.Principal) error { return nil }

func (f *fakeTasks) StartTimer(_ context.Context, taskID int64, p auth.Principal) (*models.TaskTimeLog, error) {
	if f.running {
		return nil, apperrors.Conflict("A timer is already running.")
	}
	f.running = true
	return &models.TaskTimeLog{ID: 5, TaskID: taskID, UserID: p.ID(), StartedAt: testNow}, nil
}

func (f *fakeTasks) AddReminder(_ context.Context, taskID int64, in tasks.ReminderInput, p auth.Principal) (*models.TaskReminder, error) {
	if !in.RemindAt.After(testNow) {
		return nil, apperrors.FieldError("remind_at", "Reminder must be in the future.")
	}
	return &models.TaskReminder{ID: 3, TaskID: taskID, UserID: p.ID(), RemindAt: in.RemindAt}, nil
}

func (f *fakeTasks) StopTimer(context.Context, auth.Principal) (*tasks.StopResult, error) {
	if !f.running {
		return nil, apperrors.New(apperrors.KindNotFound, apperrors.CodeNotFound, "No timer is running.")
	}
	f.running = false
	end := testNow.Add(90 * time.Minute)
	return &tasks.StopResult{Log: &models.TaskTimeLog{ID: 5, EndedAt: &end, DurationMinutes: 90}, ActualHours: 1.5}, nil
}

// fakeWorkflow records status changes and membership additions
type fakeWorkflow struct {
	purchaseStatus models.PurchaseStatus
	reportStatus   models.ReportStatus
	members        []int64
}

func (f *fakeWorkflow) CreatePurchase(_ context.Context, in workflow.PurchaseInput, p auth.Principal) (*models.PurchaseRequest, error) {
	creator := p.ID()
	return &models.PurchaseRequest{ID: 21, Title: in.Title, Status: models.PurchasePending, CreatedByID: &creator}, nil
}

func (f *fakeWorkflow) SetPurchaseStatus(_ context.Context, id int64, status models.PurchaseStatus, p auth.Principal) (*models.PurchaseRequest, error) {
	if !auth.IsAdmin(p) {
		return nil, apperrors.PermissionDenied("Only administrators can change the status.")
	}
	f.purchaseStatus = status
	return &models.PurchaseRequest{ID: id, Status: status}, nil
}

func (f *fakeWorkflow) SetReportStatus(_ context.Context, id int64, status models.ReportStatus, _ auth.Principal) (*models.UserReport, error) {
	f.reportStatus = status
	return &models.UserReport{ID: id, Status: status}, nil
}

func (f *fakeWorkflow) AddGroupMembers(_ context.Context, groupID int64, userIDs []int64, _ auth.Principal) (*models.TaskGroup, error) {
	f.members = userIDs
	return &models.TaskGroup{ID: groupID, MemberIDs: userIDs}, nil
}
