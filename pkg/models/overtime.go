package models

import "time"

// OvertimeStatus is the approval state of an overtime request
type OvertimeStatus string

const (
	OvertimePending  OvertimeStatus = "pending"
	OvertimeApproved OvertimeStatus = "approved"
	OvertimeRejected OvertimeStatus = "rejected"
)

// Valid reports whether s is a known status
func (s OvertimeStatus) Valid() bool {
	switch s {
	case OvertimePending, OvertimeApproved, OvertimeRejected:
		return true
	}
	return false
}

// Final reports whether non-admins may no longer edit the request
func (s OvertimeStatus) Final() bool {
	return s == OvertimeApproved || s == OvertimeRejected
}

// OvertimeType is the Summary workbook column code
type OvertimeType int

const (
	OvertimeWeekday OvertimeType = 1
	OvertimeWeekend OvertimeType = 2
	OvertimeHoliday OvertimeType = 3
)

// Break is a rest interval inside an overtime window, HH:MM bounds
type Break struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// OvertimeRequest is unique per (employee, project, request date)
type OvertimeRequest struct {
	ID          int64     `json:"id"`
	EmployeeID  int64     `json:"employee"`
	ProjectID   int64     `json:"project"`
	RequestDate time.Time `json:"request_date"`
	// TimeStart and TimeEnd are HH:MM
	TimeStart  string  `json:"time_start"`
	TimeEnd    string  `json:"time_end"`
	TotalHours float64 `json:"total_hours"`
	Breaks     []Break `json:"breaks"`
	Reason     string  `json:"reason"`
	Detail     string  `json:"detail"`
	IsWeekend  bool    `json:"is_weekend"`
	IsHoliday  bool    `json:"is_holiday"`

	Status            OvertimeStatus `json:"status"`
	StatusChangedByID *int64         `json:"status_changed_by"`
	ApprovedAt        *time.Time     `json:"approved_at"`
	RejectedAt        *time.Time     `json:"rejected_at"`

	// Denormalized for reporting
	EmployeeEmpID  string `json:"employee_emp_id"`
	EmployeeName   string `json:"employee_name"`
	DepartmentCode string `json:"department_code"`
	DepartmentName string `json:"department_name"`
	ProjectName    string `json:"project_name"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WeekendDate reports whether d falls on Saturday or Sunday
func WeekendDate(d time.Time) bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// Type derives the Summary overtime type; holiday wins over weekend
func (o *OvertimeRequest) Type() OvertimeType {
	switch {
	case o.IsHoliday:
		return OvertimeHoliday
	case o.IsWeekend:
		return OvertimeWeekend
	default:
		return OvertimeWeekday
	}
}

// HasBreak reports whether any rest interval was recorded
func (o *OvertimeRequest) HasBreak() bool {
	return len(o.Breaks) > 0
}
