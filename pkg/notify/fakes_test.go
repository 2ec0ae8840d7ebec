package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/signals"
)

var notifyNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	created []*models.Notification
	fail    error
}

func (f *fakeStore) BulkCreate(ctx context.Context, items []*models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	for _, n := range items {
		f.nextID++
		n.ID = f.nextID
		f.created = append(f.created, n)
	}
	return nil
}

func (f *fakeStore) recipients() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, 0, len(f.created))
	for _, n := range f.created {
		out = append(out, n.RecipientID)
	}
	return out
}

type fakeUsers struct {
	byID map[int64]*models.User
}

func newFakeUsers(users ...*models.User) *fakeUsers {
	f := &fakeUsers{byID: map[int64]*models.User{}}
	for _, u := range users {
		f.byID[u.ID] = u
	}
	return f
}

func (f *fakeUsers) sorted(match func(u *models.User) bool) []*models.User {
	var out []*models.User
	for id := int64(1); id <= 100; id++ {
		if u, ok := f.byID[id]; ok && match(u) {
			out = append(out, u)
		}
	}
	return out
}

func (f *fakeUsers) ListByIDs(ctx context.Context, ids []int64) ([]*models.User, error) {
	var out []*models.User
	for _, id := range ids {
		if u, ok := f.byID[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeUsers) ListPTBAdmins(ctx context.Context) ([]*models.User, error) {
	return f.sorted(func(u *models.User) bool { return u.IsPTBAdmin && u.IsActive }), nil
}

func (f *fakeUsers) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	for _, u := range f.byID {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, apperrors.NotFound("user", username)
}

func (f *fakeUsers) FindByWorkerID(ctx context.Context, empID string) ([]*models.User, error) {
	return f.sorted(func(u *models.User) bool { return empID != "" && u.WorkerID == empID && u.IsActive }), nil
}

func (f *fakeUsers) FindByFullName(ctx context.Context, name string) ([]*models.User, error) {
	return f.sorted(func(u *models.User) bool {
		return u.IsActive && strings.EqualFold(u.FullName(), strings.TrimSpace(name))
	}), nil
}

type fakeEmployees struct {
	byID        map[int64]*models.Employee
	provisioned []string
}

func newFakeEmployees(emps ...*models.Employee) *fakeEmployees {
	f := &fakeEmployees{byID: map[int64]*models.Employee{}}
	for _, e := range emps {
		f.byID[e.ID] = e
	}
	return f
}

func (f *fakeEmployees) GetEmployee(ctx context.Context, id int64) (*models.Employee, error) {
	if e, ok := f.byID[id]; ok {
		return e, nil
	}
	return nil, apperrors.NotFound("employee", id)
}

func (f *fakeEmployees) GetEmployeeByEmpID(ctx context.Context, empID string) (*models.Employee, error) {
	for _, e := range f.byID {
		if e.EmpID == empID {
			return e, nil
		}
	}
	return nil, apperrors.NotFound("employee", empID)
}

func (f *fakeEmployees) FindEmployeesByName(ctx context.Context, name string) ([]*models.Employee, error) {
	var out []*models.Employee
	for _, e := range f.byID {
		if strings.EqualFold(e.Name, strings.TrimSpace(name)) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEmployees) FindEmployeesNameContains(ctx context.Context, fragment string) ([]*models.Employee, error) {
	var out []*models.Employee
	for _, e := range f.byID {
		if fragment != "" && strings.Contains(strings.ToLower(e.Name), strings.ToLower(fragment)) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEmployees) GetOrCreateEmployee(ctx context.Context, empID, name string) (*models.Employee, bool, error) {
	if e, err := f.GetEmployeeByEmpID(ctx, empID); err == nil {
		return e, false, nil
	}
	e := &models.Employee{ID: int64(1000 + len(f.byID)), EmpID: empID, Name: name, IsEnabled: true}
	f.byID[e.ID] = e
	f.provisioned = append(f.provisioned, empID)
	return e, true, nil
}

type fakeGroups map[int64]*models.TaskGroup

func (f fakeGroups) GetGroup(ctx context.Context, id int64) (*models.TaskGroup, error) {
	if g, ok := f[id]; ok {
		return g, nil
	}
	return nil, apperrors.NotFound("task group", id)
}

type fakeSystem struct {
	cfg *models.SystemConfiguration
}

func (f fakeSystem) GetSystem(ctx context.Context) (*models.SystemConfiguration, error) {
	return f.cfg, nil
}

type sent struct {
	group string
	frame Frame
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sent
	fail bool
}

func (s *recordingSender) SendGroup(ctx context.Context, group string, frame interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("hub unavailable")
	}
	s.sent = append(s.sent, sent{group: group, frame: frame.(Frame)})
	return nil
}

func (s *recordingSender) groups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, x := range s.sent {
		out = append(out, x.group)
	}
	return out
}

func user(id int64, username, first, last string) *models.User {
	return &models.User{ID: id, Username: username, FirstName: first, LastName: last, Role: models.RoleUser, IsActive: true}
}

func admin(id int64, username string) *models.User {
	u := user(id, username, "", "")
	u.IsPTBAdmin = true
	return u
}

type recordingBus struct {
	published []signals.Signal
}

func (b *recordingBus) Publish(ctx context.Context, sig signals.Signal) {
	b.published = append(b.published, sig)
}
