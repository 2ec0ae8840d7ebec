package models

import "time"

// Default department used when an employee has none
const (
	DefaultDepartmentCode = "NODEPT"
	DefaultDepartmentName = "Unassigned"
)

// Department groups employees for reporting
type Department struct {
	ID        int64  `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	IsEnabled bool   `json:"is_enabled"`
}

// Employee is a directory record keyed by EmpID (the worker id)
type Employee struct {
	ID                 int64     `json:"id"`
	EmpID              string    `json:"emp_id"`
	Name               string    `json:"name"`
	DepartmentID       *int64    `json:"department_id"`
	DepartmentCode     string    `json:"department_code"`
	DepartmentName     string    `json:"department_name"`
	IsEnabled          bool      `json:"is_enabled"`
	ExcludeFromReports bool      `json:"exclude_from_reports"`
	CreatedAt          time.Time `json:"created_at"`
}

// Project is the minimal project record referenced by overtime and tasks
type Project struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}
