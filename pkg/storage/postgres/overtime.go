package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/models"
)

// OvertimeStore persists overtime requests
type OvertimeStore struct {
	db *DB
}

// NewOvertimeStore creates an overtime store
func NewOvertimeStore(db *DB) *OvertimeStore {
	return &OvertimeStore{db: db}
}

const overtimeSelect = `
	SELECT o.id, o.employee_id, o.project_id, o.request_date, o.time_start, o.time_end,
		o.total_hours, o.breaks, o.reason, o.detail, o.is_weekend, o.is_holiday,
		o.status, o.status_changed_by, o.approved_at, o.rejected_at,
		e.emp_id, COALESCE(NULLIF(o.employee_name, ''), e.name),
		COALESCE(NULLIF(o.department_code, ''), d.code, ''), COALESCE(d.name, ''),
		COALESCE(NULLIF(o.project_name, ''), p.name, ''),
		o.created_at, o.updated_at
	FROM overtime_requests o
	JOIN employees e ON e.id = o.employee_id
	LEFT JOIN departments d ON d.id = e.department_id
	LEFT JOIN projects p ON p.id = o.project_id`

func scanOvertime(s scanner) (*models.OvertimeRequest, error) {
	var (
		o      models.OvertimeRequest
		breaks []byte
		status string
	)
	err := s.Scan(&o.ID, &o.EmployeeID, &o.ProjectID, &o.RequestDate, &o.TimeStart, &o.TimeEnd,
		&o.TotalHours, &breaks, &o.Reason, &o.Detail, &o.IsWeekend, &o.IsHoliday,
		&status, &o.StatusChangedByID, &o.ApprovedAt, &o.RejectedAt,
		&o.EmployeeEmpID, &o.EmployeeName, &o.DepartmentCode, &o.DepartmentName, &o.ProjectName,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = models.OvertimeStatus(status)
	if len(breaks) > 0 {
		if err := json.Unmarshal(breaks, &o.Breaks); err != nil {
			return nil, fmt.Errorf("decode breaks: %w", err)
		}
	}
	return &o, nil
}

func (s *OvertimeStore) list(ctx context.Context, where, order string, args ...interface{}) ([]*models.OvertimeRequest, error) {
	rows, err := s.db.q(ctx).QueryContext(ctx, overtimeSelect+" WHERE "+where+" ORDER BY "+order, args...)
	if err != nil {
		return nil, mapError(err, "overtime requests")
	}
	defer rows.Close()

	var out []*models.OvertimeRequest
	for rows.Next() {
		o, err := scanOvertime(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan overtime request: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Get loads a request by id
func (s *OvertimeStore) Get(ctx context.Context, id int64) (*models.OvertimeRequest, error) {
	o, err := scanOvertime(s.db.q(ctx).QueryRowContext(ctx, overtimeSelect+" WHERE o.id = $1", id))
	if err != nil {
		return nil, mapError(err, "overtime request")
	}
	return o, nil
}

// GetForUpdate loads and row-locks a request
func (s *OvertimeStore) GetForUpdate(ctx context.Context, id int64) (*models.OvertimeRequest, error) {
	o, err := scanOvertime(s.db.q(ctx).QueryRowContext(ctx, overtimeSelect+" WHERE o.id = $1 FOR UPDATE OF o", id))
	if err != nil {
		return nil, mapError(err, "overtime request")
	}
	return o, nil
}

// HasConflict locks and reports any other request for the same employee,
// project and date
func (s *OvertimeStore) HasConflict(ctx context.Context, employeeID, projectID int64, date time.Time, excludeID int64) (bool, error) {
	rows, err := s.db.q(ctx).QueryContext(ctx, `
		SELECT id FROM overtime_requests
		WHERE employee_id = $1 AND project_id = $2 AND request_date = $3 AND id <> $4
		FOR UPDATE`, employeeID, projectID, date.Format("2006-01-02"), excludeID)
	if err != nil {
		return false, mapError(err, "overtime request")
	}
	defer rows.Close()
	found := rows.Next()
	return found, rows.Err()
}

// Create inserts o
func (s *OvertimeStore) Create(ctx context.Context, o *models.OvertimeRequest) error {
	breaks, err := json.Marshal(nonNilBreaks(o.Breaks))
	if err != nil {
		return fmt.Errorf("encode breaks: %w", err)
	}
	err = s.db.q(ctx).QueryRowContext(ctx, `
		INSERT INTO overtime_requests (employee_id, project_id, request_date, time_start, time_end,
			total_hours, breaks, reason, detail, is_weekend, is_holiday, status,
			employee_name, department_code, project_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at`,
		o.EmployeeID, o.ProjectID, o.RequestDate.Format("2006-01-02"), o.TimeStart, o.TimeEnd,
		o.TotalHours, breaks, o.Reason, o.Detail, o.IsWeekend, o.IsHoliday, string(o.Status),
		o.EmployeeName, o.DepartmentCode, o.ProjectName,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	return mapError(err, "overtime request")
}

// Update writes the editable fields of o
func (s *OvertimeStore) Update(ctx context.Context, o *models.OvertimeRequest) error {
	breaks, err := json.Marshal(nonNilBreaks(o.Breaks))
	if err != nil {
		return fmt.Errorf("encode breaks: %w", err)
	}
	err = s.db.q(ctx).QueryRowContext(ctx, `
		UPDATE overtime_requests SET employee_id = $2, project_id = $3, request_date = $4,
			time_start = $5, time_end = $6, total_hours = $7, breaks = $8, reason = $9, detail = $10,
			is_weekend = $11, is_holiday = $12, status = $13, status_changed_by = $14,
			approved_at = $15, rejected_at = $16, employee_name = $17, department_code = $18,
			project_name = $19, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		o.ID, o.EmployeeID, o.ProjectID, o.RequestDate.Format("2006-01-02"), o.TimeStart, o.TimeEnd,
		o.TotalHours, breaks, o.Reason, o.Detail, o.IsWeekend, o.IsHoliday, string(o.Status),
		o.StatusChangedByID, o.ApprovedAt, o.RejectedAt, o.EmployeeName, o.DepartmentCode, o.ProjectName,
	).Scan(&o.UpdatedAt)
	return mapError(err, "overtime request")
}

// Delete removes a request and returns its request date
func (s *OvertimeStore) Delete(ctx context.Context, id int64) (time.Time, error) {
	var date time.Time
	err := s.db.q(ctx).QueryRowContext(ctx,
		`DELETE FROM overtime_requests WHERE id = $1 RETURNING request_date`, id).Scan(&date)
	if err != nil {
		return time.Time{}, mapError(err, "overtime request")
	}
	return date, nil
}

// ListReportable returns requests dated within [from, to] that belong in
// aggregates and exports: rejected requests and excluded employees are
// filtered out. Rows are ordered deterministically.
func (s *OvertimeStore) ListReportable(ctx context.Context, from, to time.Time) ([]*models.OvertimeRequest, error) {
	return s.list(ctx,
		"o.request_date BETWEEN $1 AND $2 AND o.status <> 'rejected' AND NOT e.exclude_from_reports",
		"o.request_date, e.emp_id, o.time_start, o.id",
		from.Format("2006-01-02"), to.Format("2006-01-02"))
}

// ListByIDs loads the requests among ids
func (s *OvertimeStore) ListByIDs(ctx context.Context, ids []int64) ([]*models.OvertimeRequest, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.list(ctx, "o.id = ANY($1)", "o.id", pq.Array(ids))
}

// OvertimeFilter narrows List
type OvertimeFilter struct {
	EmployeeID int64
	Status     models.OvertimeStatus
	From, To   *time.Time
	Limit      int
	Offset     int
}

// List returns a page of requests, newest date first, and the total count
func (s *OvertimeStore) List(ctx context.Context, f OvertimeFilter) ([]*models.OvertimeRequest, int, error) {
	where := "TRUE"
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where += fmt.Sprintf(" AND "+clause, len(args))
	}
	if f.EmployeeID != 0 {
		add("o.employee_id = $%d", f.EmployeeID)
	}
	if f.Status != "" {
		add("o.status = $%d", string(f.Status))
	}
	if f.From != nil {
		add("o.request_date >= $%d", f.From.Format("2006-01-02"))
	}
	if f.To != nil {
		add("o.request_date <= $%d", f.To.Format("2006-01-02"))
	}

	var total int
	if err := s.db.q(ctx).QueryRowContext(ctx,
		"SELECT COUNT(*) FROM overtime_requests o WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err, "overtime requests")
	}

	args = append(args, f.Limit, f.Offset)
	order := fmt.Sprintf("o.request_date DESC, o.id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	out, err := s.list(ctx, where, order, args...)
	return out, total, err
}

// BulkUpdateStatus moves every request in ids to status and stamps the
// matching timestamp. The updated rows are returned.
func (s *OvertimeStore) BulkUpdateStatus(ctx context.Context, ids []int64, status models.OvertimeStatus, actorID int64, now time.Time) ([]*models.OvertimeRequest, error) {
	if !status.Valid() {
		return nil, apperrors.FieldError("status", fmt.Sprintf("%q is not a valid choice.", status))
	}
	var updated []*models.OvertimeRequest
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		rows, err := s.db.q(ctx).QueryContext(ctx, `
			UPDATE overtime_requests SET status = $2, status_changed_by = $3,
				approved_at = CASE WHEN $2 = 'approved' THEN $4::timestamptz ELSE NULL END,
				rejected_at = CASE WHEN $2 = 'rejected' THEN $4::timestamptz ELSE NULL END,
				updated_at = $4
			WHERE id = ANY($1)
			RETURNING id`, pq.Array(ids), string(status), actorID, now)
		if err != nil {
			return mapError(err, "overtime requests")
		}
		var changed []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan overtime id: %w", err)
			}
			changed = append(changed, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return mapError(err, "overtime requests")
		}
		updated, err = s.ListByIDs(ctx, changed)
		return err
	})
	return updated, err
}

func nonNilBreaks(b []models.Break) []models.Break {
	if b == nil {
		return []models.Break{}
	}
	return b
}
