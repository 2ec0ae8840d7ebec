package overtime

import (
	"context"
	"strings"
	"time"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/auth"
	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/observability"
	"github.com/platinummonkey/ptbhub/pkg/signals"
)

// Store is the overtime persistence the service needs
type Store interface {
	Get(ctx context.Context, id int64) (*models.OvertimeRequest, error)
	GetForUpdate(ctx context.Context, id int64) (*models.OvertimeRequest, error)
	HasConflict(ctx context.Context, employeeID, projectID int64, date time.Time, excludeID int64) (bool, error)
	Create(ctx context.Context, o *models.OvertimeRequest) error
	Update(ctx context.Context, o *models.OvertimeRequest) error
	Delete(ctx context.Context, id int64) (time.Time, error)
	ListReportable(ctx context.Context, from, to time.Time) ([]*models.OvertimeRequest, error)
	BulkUpdateStatus(ctx context.Context, ids []int64, status models.OvertimeStatus, actorID int64, now time.Time) ([]*models.OvertimeRequest, error)
}

// Directory resolves the names denormalized onto a request
type Directory interface {
	GetEmployee(ctx context.Context, id int64) (*models.Employee, error)
	GetProject(ctx context.Context, id int64) (*models.Project, error)
}

// HolidayCalendar reports company holidays
type HolidayCalendar interface {
	IsHoliday(ctx context.Context, date time.Time) (bool, error)
}

// TxRunner scopes a unit of work to one transaction
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Publisher publishes signals after commit
type Publisher interface {
	Publish(ctx context.Context, sig signals.Signal)
}

// Input is the writable shape of a request
type Input struct {
	EmployeeID  int64                 `json:"employee" validate:"required,gt=0"`
	ProjectID   int64                 `json:"project" validate:"required,gt=0"`
	RequestDate string                `json:"request_date" validate:"required"`
	TimeStart   string                `json:"time_start" validate:"required"`
	TimeEnd     string                `json:"time_end" validate:"required"`
	TotalHours  *float64              `json:"total_hours" validate:"omitempty,gt=0,lte=24"`
	Breaks      []models.Break        `json:"breaks" validate:"omitempty,dive"`
	Reason      string                `json:"reason" validate:"required,max=500"`
	Detail      string                `json:"detail" validate:"max=2000"`
	Status      models.OvertimeStatus `json:"status" validate:"omitempty,oneof=pending approved rejected"`
}

// Deps are the collaborators of a Service
type Deps struct {
	Tx        TxRunner
	Store     Store
	Directory Directory
	Holidays  HolidayCalendar
	Locker    Locker
	Bus       Publisher
	Clock     clock.Clock
	Logger    *observability.Logger
}

// Service runs the overtime request workflow
type Service struct {
	Deps
}

// NewService creates an overtime service
func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Logger == nil {
		d.Logger = observability.NopLogger()
	}
	if d.Locker == nil {
		d.Locker = NewMemoryLocker(d.Clock)
	}
	return &Service{Deps: d}
}

var errFinalLocked = apperrors.PermissionDenied("Approved or rejected requests can only be changed by an administrator.")

// Create files a new pending request
func (s *Service) Create(ctx context.Context, in Input, p auth.Principal) (*models.OvertimeRequest, error) {
	o := &models.OvertimeRequest{Status: models.OvertimePending}
	if err := s.fill(ctx, o, in); err != nil {
		return nil, err
	}
	if in.Status != "" && in.Status != models.OvertimePending {
		if !auth.IsAdmin(p) {
			return nil, apperrors.PermissionDenied("Only administrators can set the status of a request.")
		}
		s.stamp(o, in.Status, p.ID())
	}

	release, err := s.lock(ctx, lockKey(0, o.EmployeeID, o.ProjectID, o.RequestDate))
	if err != nil {
		return nil, err
	}
	defer release()

	err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.ensureUnique(ctx, o, 0); err != nil {
			return err
		}
		if err := s.Store.Create(ctx, o); err != nil {
			return err
		}
		s.Bus.Publish(ctx, signals.OvertimeSaved{Request: o, Created: true})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Update replaces the editable fields of request id
func (s *Service) Update(ctx context.Context, id int64, in Input, p auth.Principal) (*models.OvertimeRequest, error) {
	return s.update(ctx, id, p, func(*models.OvertimeRequest) Input { return in })
}

func (s *Service) update(ctx context.Context, id int64, p auth.Principal, build func(old *models.OvertimeRequest) Input) (*models.OvertimeRequest, error) {
	release, err := s.lock(ctx, lockKey(id, 0, 0, time.Time{}))
	if err != nil {
		return nil, err
	}
	defer release()

	var o *models.OvertimeRequest
	err = s.Tx.WithTx(ctx, func(ctx context.Context) error {
		old, err := s.Store.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		admin := auth.IsAdmin(p)
		if old.Status.Final() && !admin {
			return errFinalLocked
		}

		in := build(old)
		next := *old
		if err := s.fill(ctx, &next, in); err != nil {
			return err
		}
		statusChanged := in.Status != "" && in.Status != old.Status
		if statusChanged {
			if !admin {
				return apperrors.PermissionDenied("Only administrators can set the status of a request.")
			}
			s.stamp(&next, in.Status, p.ID())
		}

		if err := s.ensureUnique(ctx, &next, id); err != nil {
			return err
		}
		if err := s.Store.Update(ctx, &next); err != nil {
			return err
		}

		saved := signals.OvertimeSaved{Request: &next}
		if !sameDay(old.RequestDate, next.RequestDate) {
			prev := old.RequestDate
			saved.PreviousDate = &prev
		}
		s.Bus.Publish(ctx, saved)
		if statusChanged {
			s.Bus.Publish(ctx, signals.OvertimeStatusChanged{Requests: []*models.OvertimeRequest{&next}, Status: next.Status})
		}
		o = &next
		return nil
	})
	return o, err
}

// Delete removes request id. Regeneration for its date runs after commit so
// it no longer sees the row.
func (s *Service) Delete(ctx context.Context, id int64, p auth.Principal) error {
	return s.Tx.WithTx(ctx, func(ctx context.Context) error {
		old, err := s.Store.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if old.Status.Final() && !auth.IsAdmin(p) {
			return errFinalLocked
		}
		date, err := s.Store.Delete(ctx, id)
		if err != nil {
			return err
		}
		s.Bus.Publish(ctx, signals.OvertimeDeleted{RequestID: id, RequestDate: date})
		return nil
	})
}

// BulkUpdateStatus moves every request in ids to status. Only
// administrators may call it.
func (s *Service) BulkUpdateStatus(ctx context.Context, ids []int64, status models.OvertimeStatus, p auth.Principal) ([]*models.OvertimeRequest, error) {
	if !auth.IsAdmin(p) {
		return nil, apperrors.PermissionDenied("Only administrators can change request status.")
	}
	var v apperrors.Validation
	if len(ids) == 0 {
		v.Add("ids", "This list may not be empty.")
	}
	if !status.Valid() {
		v.Add("status", "\""+string(status)+"\" is not a valid choice.")
	}
	if v.HasErrors() {
		return nil, v.Err()
	}

	var updated []*models.OvertimeRequest
	err := s.Tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.Store.BulkUpdateStatus(ctx, ids, status, p.ID(), s.Clock.Now())
		if err != nil {
			return err
		}
		if len(updated) > 0 {
			s.Bus.Publish(ctx, signals.OvertimeStatusChanged{Requests: updated, Status: status})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Logger.WithFields(map[string]interface{}{
		"status":    string(status),
		"requested": len(ids),
		"updated":   len(updated),
		"actor_id":  p.ID(),
	}).Info("bulk overtime status update")
	return updated, nil
}

// Summary aggregates the reportable requests of the period enclosing date
func (s *Service) Summary(ctx context.Context, date time.Time) (*Summary, error) {
	period := PeriodFor(date)
	reqs, err := s.Store.ListReportable(ctx, period.Start, period.End)
	if err != nil {
		return nil, err
	}
	return Summarize(period, reqs), nil
}

func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	release, ok, err := s.Locker.TryLock(ctx, key, LockTTL)
	if err != nil {
		s.Logger.WithError(err).WithField("key", key).Warn("overtime lock unavailable, continuing unlocked")
		return func() {}, nil
	}
	if !ok {
		return nil, apperrors.Conflict("This overtime request is already being processed. Please retry.")
	}
	return release, nil
}

func (s *Service) ensureUnique(ctx context.Context, o *models.OvertimeRequest, excludeID int64) error {
	conflict, err := s.Store.HasConflict(ctx, o.EmployeeID, o.ProjectID, o.RequestDate, excludeID)
	if err != nil {
		return err
	}
	if conflict {
		return apperrors.Conflict("An overtime request for this employee, project and date already exists.")
	}
	return nil
}

// fill validates in and copies it onto o with the derived fields
func (s *Service) fill(ctx context.Context, o *models.OvertimeRequest, in Input) error {
	var v apperrors.Validation

	date, err := ParseDate(in.RequestDate)
	if err != nil {
		v.Add("request_date", "Date has wrong format. Use YYYY-MM-DD.")
	}
	if _, err := ParseClock(in.TimeStart); err != nil {
		v.Add("time_start", "Time has wrong format. Use HH:MM.")
	}
	if _, err := ParseClock(in.TimeEnd); err != nil {
		v.Add("time_end", "Time has wrong format. Use HH:MM.")
	}
	if strings.TrimSpace(in.Reason) == "" {
		v.Add("reason", "This field may not be blank.")
	}
	if v.HasErrors() {
		return v.Err()
	}

	hours := 0.0
	if in.TotalHours != nil {
		hours = *in.TotalHours
	} else if hours, err = ComputeHours(in.TimeStart, in.TimeEnd, in.Breaks); err != nil {
		return apperrors.FieldError("breaks", "Break times have wrong format. Use HH:MM.")
	}
	if hours <= 0 {
		return apperrors.FieldError("total_hours", "Overtime must be longer than zero hours.")
	}

	emp, err := s.Directory.GetEmployee(ctx, in.EmployeeID)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindNotFound {
			return apperrors.FieldError("employee", "Invalid pk - object does not exist.")
		}
		return err
	}
	project, err := s.Directory.GetProject(ctx, in.ProjectID)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindNotFound {
			return apperrors.FieldError("project", "Invalid pk - object does not exist.")
		}
		return err
	}
	holiday := false
	if s.Holidays != nil {
		if holiday, err = s.Holidays.IsHoliday(ctx, date); err != nil {
			return err
		}
	}

	o.EmployeeID = emp.ID
	o.ProjectID = project.ID
	o.RequestDate = date
	o.TimeStart = strings.TrimSpace(in.TimeStart)
	o.TimeEnd = strings.TrimSpace(in.TimeEnd)
	o.TotalHours = hours
	o.Breaks = in.Breaks
	o.Reason = in.Reason
	o.Detail = in.Detail
	o.IsWeekend = models.WeekendDate(date)
	o.IsHoliday = holiday
	o.EmployeeEmpID = emp.EmpID
	o.EmployeeName = emp.Name
	o.DepartmentCode = emp.DepartmentCode
	o.DepartmentName = emp.DepartmentName
	o.ProjectName = project.Name
	return nil
}

func (s *Service) stamp(o *models.OvertimeRequest, status models.OvertimeStatus, actorID int64) {
	now := s.Clock.Now()
	o.Status = status
	o.StatusChangedByID = &actorID
	o.ApprovedAt, o.RejectedAt = nil, nil
	switch status {
	case models.OvertimeApproved:
		o.ApprovedAt = &now
	case models.OvertimeRejected:
		o.RejectedAt = &now
	}
}

func sameDay(a, b time.Time) bool {
	return a.Format(dateLayout) == b.Format(dateLayout)
}
