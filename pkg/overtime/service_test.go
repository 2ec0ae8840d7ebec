package overtime

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/auth"
	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/signals"
)

var otNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

type memoryStore struct {
	nextID int64
	rows   map[int64]*models.OvertimeRequest
}

func newMemoryStore() *memoryStore {
	return &memoryStore{nextID: 10, rows: make(map[int64]*models.OvertimeRequest)}
}

func (m *memoryStore) Get(ctx context.Context, id int64) (*models.OvertimeRequest, error) {
	o, ok := m.rows[id]
	if !ok {
		return nil, apperrors.NotFound("overtime request", id)
	}
	c := *o
	return &c, nil
}

func (m *memoryStore) GetForUpdate(ctx context.Context, id int64) (*models.OvertimeRequest, error) {
	return m.Get(ctx, id)
}

func (m *memoryStore) HasConflict(ctx context.Context, employeeID, projectID int64, date time.Time, excludeID int64) (bool, error) {
	for _, o := range m.rows {
		if o.ID != excludeID && o.EmployeeID == employeeID && o.ProjectID == projectID && sameDay(o.RequestDate, date) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) Create(ctx context.Context, o *models.OvertimeRequest) error {
	o.ID = m.nextID
	m.nextID++
	c := *o
	m.rows[o.ID] = &c
	return nil
}

func (m *memoryStore) Update(ctx context.Context, o *models.OvertimeRequest) error {
	c := *o
	m.rows[o.ID] = &c
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, id int64) (time.Time, error) {
	o, ok := m.rows[id]
	if !ok {
		return time.Time{}, apperrors.NotFound("overtime request", id)
	}
	delete(m.rows, id)
	return o.RequestDate, nil
}

func (m *memoryStore) ListReportable(ctx context.Context, from, to time.Time) ([]*models.OvertimeRequest, error) {
	var out []*models.OvertimeRequest
	for id := int64(0); id < m.nextID; id++ {
		o, ok := m.rows[id]
		if !ok || o.Status == models.OvertimeRejected || o.RequestDate.Before(from) || o.RequestDate.After(to) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *memoryStore) BulkUpdateStatus(ctx context.Context, ids []int64, status models.OvertimeStatus, actorID int64, now time.Time) ([]*models.OvertimeRequest, error) {
	var out []*models.OvertimeRequest
	for _, id := range ids {
		o, ok := m.rows[id]
		if !ok {
			continue
		}
		o.Status = status
		o.StatusChangedByID = &actorID
		o.ApprovedAt, o.RejectedAt = nil, nil
		if status == models.OvertimeApproved {
			o.ApprovedAt = &now
		}
		if status == models.OvertimeRejected {
			o.RejectedAt = &now
		}
		c := *o
		out = append(out, &c)
	}
	return out, nil
}

type fakeDirectory struct{}

func (fakeDirectory) GetEmployee(ctx context.Context, id int64) (*models.Employee, error) {
	if id > 100 {
		return nil, apperrors.NotFound("employee", id)
	}
	return &models.Employee{ID: id, EmpID: fmt.Sprintf("E%03d", id), Name: "Employee", DepartmentCode: "ENG", DepartmentName: "Engineering"}, nil
}

func (fakeDirectory) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	return &models.Project{ID: id, Name: "Apollo"}, nil
}

type fakeHolidays map[string]bool

func (f fakeHolidays) IsHoliday(ctx context.Context, date time.Time) (bool, error) {
	return f[date.Format(dateLayout)], nil
}

type directTx struct{}

func (directTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordingBus struct{ published []signals.Signal }

func (b *recordingBus) Publish(ctx context.Context, sig signals.Signal) {
	b.published = append(b.published, sig)
}

type failingLocker struct{}

func (failingLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	return func() {}, false, errors.New("redis down")
}

type heldLocker struct{}

func (heldLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	return func() {}, false, nil
}

type serviceFixture struct {
	store *memoryStore
	bus   *recordingBus
	svc   *Service
}

func newServiceFixture(locker Locker) *serviceFixture {
	f := &serviceFixture{store: newMemoryStore(), bus: &recordingBus{}}
	f.svc = NewService(Deps{
		Tx:        directTx{},
		Store:     f.store,
		Directory: fakeDirectory{},
		Holidays:  fakeHolidays{"2026-03-20": true},
		Locker:    locker,
		Bus:       f.bus,
		Clock:     clock.NewFake(otNow),
	})
	return f
}

func principal(id int64, admin bool) auth.Principal {
	return auth.NewPrincipal(&models.User{ID: id, Username: "u", Role: models.RoleUser, IsPTBAdmin: admin, IsActive: true}, auth.SourceLocal)
}

func input(date string) Input {
	return Input{
		EmployeeID:  1,
		ProjectID:   2,
		RequestDate: date,
		TimeStart:   "18:00",
		TimeEnd:     "21:30",
		Breaks:      []models.Break{{Start: "19:00", End: "19:30"}},
		Reason:      "release",
	}
}

func TestService_CreateDerivesFields(t *testing.T) {
	f := newServiceFixture(nil)
	ctx := context.Background()

	o, err := f.svc.Create(ctx, input("2026-03-07"), principal(5, false))
	require.NoError(t, err)
	assert.Equal(t, 3.0, o.TotalHours)
	assert.True(t, o.IsWeekend)
	assert.False(t, o.IsHoliday)
	assert.Equal(t, models.OvertimePending, o.Status)
	assert.Equal(t, "ENG", o.DepartmentCode)
	assert.Equal(t, "Apollo", o.ProjectName)

	holiday, err := f.svc.Create(ctx, input("2026-03-20"), principal(5, false))
	require.NoError(t, err)
	assert.True(t, holiday.IsHoliday)
	assert.Equal(t, models.OvertimeHoliday, holiday.Type())

	require.Len(t, f.bus.published, 2)
	saved := f.bus.published[0].(signals.OvertimeSaved)
	assert.True(t, saved.Created)
}

func TestService_CreateConflicts(t *testing.T) {
	f := newServiceFixture(nil)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, input("2026-03-02"), principal(5, false))
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, input("2026-03-02"), principal(5, false))
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
	assert.Len(t, f.store.rows, 1)

	_, err = newServiceFixture(heldLocker{}).svc.Create(ctx, input("2026-03-02"), principal(5, false))
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
}

func TestService_CreateProceedsWhenLockerDown(t *testing.T) {
	f := newServiceFixture(failingLocker{})
	_, err := f.svc.Create(context.Background(), input("2026-03-02"), principal(5, false))
	require.NoError(t, err)
}

func TestService_CreateValidation(t *testing.T) {
	f := newServiceFixture(nil)
	ctx := context.Background()

	in := input("03/02/2026")
	in.TimeEnd = "9pm"
	_, err := f.svc.Create(ctx, in, principal(5, false))
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Contains(t, appErr.Fields, "request_date")
	assert.Contains(t, appErr.Fields, "time_end")

	in = input("2026-03-02")
	in.EmployeeID = 500
	_, err = f.svc.Create(ctx, in, principal(5, false))
	appErr, ok = apperrors.As(err)
	require.True(t, ok)
	assert.Contains(t, appErr.Fields, "employee")

	in = input("2026-03-02")
	in.Status = models.OvertimeApproved
	_, err = f.svc.Create(ctx, in, principal(5, false))
	assert.Equal(t, apperrors.KindAuthorization, apperrors.KindOf(err))
}

func TestService_UpdateFinalRequiresAdmin(t *testing.T) {
	f := newServiceFixture(nil)
	ctx := context.Background()
	o, err := f.svc.Create(ctx, input("2026-03-02"), principal(5, false))
	require.NoError(t, err)
	_, err = f.svc.BulkUpdateStatus(ctx, []int64{o.ID}, models.OvertimeApproved, principal(1, true))
	require.NoError(t, err)

	in := input("2026-03-02")
	in.Reason = "changed"
	_, err = f.svc.Update(ctx, o.ID, in, principal(5, false))
	assert.Equal(t, apperrors.KindAuthorization, apperrors.KindOf(err))
	assert.Equal(t, apperrors.KindAuthorization, apperrors.KindOf(f.svc.Delete(ctx, o.ID, principal(5, false))))

	updated, err := f.svc.Update(ctx, o.ID, in, principal(1, true))
	require.NoError(t, err)
	assert.Equal(t, "changed", updated.Reason)
	assert.Equal(t, models.OvertimeApproved, updated.Status)
}

func TestService_UpdateMovesDate(t *testing.T) {
	f := newServiceFixture(nil)
	ctx := context.Background()
	o, err := f.svc.Create(ctx, input("2026-03-02"), principal(5, false))
	require.NoError(t, err)
	f.bus.published = nil

	in := input("2026-03-03")
	in.Status = models.OvertimeRejected
	updated, err := f.svc.Update(ctx, o.ID, in, principal(1, true))
	require.NoError(t, err)
	assert.NotNil(t, updated.RejectedAt)
	assert.Nil(t, updated.ApprovedAt)

	require.Len(t, f.bus.published, 2)
	saved := f.bus.published[0].(signals.OvertimeSaved)
	require.NotNil(t, saved.PreviousDate)
	assert.Equal(t, "2026-03-02", saved.PreviousDate.Format(dateLayout))
	changed := f.bus.published[1].(signals.OvertimeStatusChanged)
	assert.Equal(t, models.OvertimeRejected, changed.Status)
}

func TestService_PatchMergesStoredRow(t *testing.T) {
	f := newServiceFixture(nil)
	ctx := context.Background()
	o, err := f.svc.Create(ctx, input("2026-03-02"), principal(5, false))
	require.NoError(t, err)

	reason := "hotfix"
	updated, err := f.svc.Patch(ctx, o.ID, Patch{Reason: &reason}, principal(5, false))
	require.NoError(t, err)
	assert.Equal(t, "hotfix", updated.Reason)
	assert.Equal(t, "2026-03-02", updated.RequestDate.Format(dateLayout))
	assert.Equal(t, "21:30", updated.TimeEnd)
	assert.Equal(t, 3.0, updated.TotalHours)

	end := "22:30"
	updated, err = f.svc.Patch(ctx, o.ID, Patch{TimeEnd: &end}, principal(5, false))
	require.NoError(t, err)
	assert.Equal(t, 4.0, updated.TotalHours)
	assert.Equal(t, "hotfix", updated.Reason)

	approved := models.OvertimeApproved
	_, err = f.svc.Patch(ctx, o.ID, Patch{Status: &approved}, principal(5, false))
	assert.Equal(t, apperrors.KindAuthorization, apperrors.KindOf(err))
}

func TestService_BulkApprove(t *testing.T) {
	f := newServiceFixture(nil)
	ctx := context.Background()
	var ids []int64
	for i, d := range []string{"2026-03-02", "2026-03-02", "2026-03-03"} {
		in := input(d)
		in.EmployeeID = int64(i + 1)
		o, err := f.svc.Create(ctx, in, principal(5, false))
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}
	f.bus.published = nil

	_, err := f.svc.BulkUpdateStatus(ctx, ids, models.OvertimeApproved, principal(5, false))
	assert.Equal(t, apperrors.KindAuthorization, apperrors.KindOf(err))

	updated, err := f.svc.BulkUpdateStatus(ctx, ids, models.OvertimeApproved, principal(1, true))
	require.NoError(t, err)
	require.Len(t, updated, 3)
	for _, o := range updated {
		require.NotNil(t, o.ApprovedAt)
		assert.Equal(t, otNow, *o.ApprovedAt)
		assert.Nil(t, o.RejectedAt)
	}
	require.Len(t, f.bus.published, 1)
	assert.Equal(t, models.OvertimeApproved, f.bus.published[0].(signals.OvertimeStatusChanged).Status)

	_, err = f.svc.BulkUpdateStatus(ctx, nil, "archived", principal(1, true))
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Contains(t, appErr.Fields, "ids")
	assert.Contains(t, appErr.Fields, "status")
}

func TestService_DeletePublishesStoredDate(t *testing.T) {
	f := newServiceFixture(nil)
	ctx := context.Background()
	o, err := f.svc.Create(ctx, input("2026-03-04"), principal(5, false))
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, o.ID, principal(5, false)))
	deleted := f.bus.published[len(f.bus.published)-1].(signals.OvertimeDeleted)
	assert.Equal(t, "2026-03-04", deleted.RequestDate.Format(dateLayout))
	assert.Empty(t, f.store.rows)
}

func TestService_SummaryExcludesRejected(t *testing.T) {
	f := newServiceFixture(nil)
	ctx := context.Background()
	a, err := f.svc.Create(ctx, input("2026-03-02"), principal(5, false))
	require.NoError(t, err)
	in := input("2026-03-03")
	in.EmployeeID = 2
	b, err := f.svc.Create(ctx, in, principal(5, false))
	require.NoError(t, err)
	_, err = f.svc.BulkUpdateStatus(ctx, []int64{b.ID}, models.OvertimeRejected, principal(1, true))
	require.NoError(t, err)

	s, err := f.svc.Summary(ctx, day("2026-03-10"))
	require.NoError(t, err)
	require.Len(t, s.Departments, 1)
	require.Len(t, s.Departments[0].Requests, 1)
	assert.Equal(t, a.ID, s.Departments[0].Requests[0].ID)
	assert.Equal(t, 3.0, s.TotalHours)
}
