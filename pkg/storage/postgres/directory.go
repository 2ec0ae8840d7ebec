package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/platinummonkey/ptbhub/pkg/models"
)

// DirectoryStore reads employees, departments and projects
type DirectoryStore struct {
	db *DB
}

// NewDirectoryStore creates a directory store
func NewDirectoryStore(db *DB) *DirectoryStore {
	return &DirectoryStore{db: db}
}

const employeeSelect = `
	SELECT e.id, e.emp_id, e.name, e.department_id,
		COALESCE(d.code, ''), COALESCE(d.name, ''),
		e.is_enabled, e.exclude_from_reports, e.created_at
	FROM employees e
	LEFT JOIN departments d ON d.id = e.department_id`

func scanEmployee(s scanner) (*models.Employee, error) {
	var e models.Employee
	if err := s.Scan(&e.ID, &e.EmpID, &e.Name, &e.DepartmentID, &e.DepartmentCode,
		&e.DepartmentName, &e.IsEnabled, &e.ExcludeFromReports, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *DirectoryStore) employees(ctx context.Context, where string, args ...interface{}) ([]*models.Employee, error) {
	rows, err := s.db.q(ctx).QueryContext(ctx, employeeSelect+" WHERE "+where+" ORDER BY e.id", args...)
	if err != nil {
		return nil, mapError(err, "employees")
	}
	defer rows.Close()

	var out []*models.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEmployee loads an employee by primary key
func (s *DirectoryStore) GetEmployee(ctx context.Context, id int64) (*models.Employee, error) {
	e, err := scanEmployee(s.db.q(ctx).QueryRowContext(ctx, employeeSelect+" WHERE e.id = $1", id))
	if err != nil {
		return nil, mapError(err, "employee")
	}
	return e, nil
}

// GetEmployeeByEmpID loads an employee by worker id
func (s *DirectoryStore) GetEmployeeByEmpID(ctx context.Context, empID string) (*models.Employee, error) {
	e, err := scanEmployee(s.db.q(ctx).QueryRowContext(ctx, employeeSelect+" WHERE e.emp_id = $1", empID))
	if err != nil {
		return nil, mapError(err, "employee")
	}
	return e, nil
}

// ListEmployeesByIDs loads the employees among ids
func (s *DirectoryStore) ListEmployeesByIDs(ctx context.Context, ids []int64) ([]*models.Employee, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.employees(ctx, "e.id = ANY($1)", pq.Array(ids))
}

// FindEmployeesByName matches the name case-insensitively
func (s *DirectoryStore) FindEmployeesByName(ctx context.Context, name string) ([]*models.Employee, error) {
	return s.employees(ctx, "LOWER(e.name) = LOWER($1)", strings.TrimSpace(name))
}

// FindEmployeesNameContains matches employees whose name contains fragment
func (s *DirectoryStore) FindEmployeesNameContains(ctx context.Context, fragment string) ([]*models.Employee, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil, nil
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(fragment)
	return s.employees(ctx, "e.name ILIKE $1", "%"+escaped+"%")
}

// GetOrCreateEmployee returns the employee with empID, provisioning an
// enabled record named name when none exists
func (s *DirectoryStore) GetOrCreateEmployee(ctx context.Context, empID, name string) (*models.Employee, bool, error) {
	var id int64
	err := s.db.q(ctx).QueryRowContext(ctx, `
		INSERT INTO employees (emp_id, name, is_enabled) VALUES ($1, $2, TRUE)
		ON CONFLICT (emp_id) DO NOTHING
		RETURNING id`, empID, name).Scan(&id)
	created := err == nil
	if err != nil && !isNoRows(err) {
		return nil, false, mapError(err, "employee")
	}
	e, err := s.GetEmployeeByEmpID(ctx, empID)
	if err != nil {
		return nil, false, err
	}
	return e, created, nil
}

// EmployeeFilter narrows ListEmployees
type EmployeeFilter struct {
	Search   string
	Ordering string
	Limit    int
	Offset   int
}

var employeeOrderings = map[string]string{
	"name":     "e.name ASC",
	"-name":    "e.name DESC",
	"emp_id":   "e.emp_id ASC",
	"-emp_id":  "e.emp_id DESC",
	"id":       "e.id ASC",
	"-id":      "e.id DESC",
	"":         "e.name ASC",
	"created":  "e.created_at ASC",
	"-created": "e.created_at DESC",
}

// ListEmployees returns a page of enabled employees and the total count
func (s *DirectoryStore) ListEmployees(ctx context.Context, f EmployeeFilter) ([]*models.Employee, int, error) {
	order, ok := employeeOrderings[f.Ordering]
	if !ok {
		order = employeeOrderings[""]
	}
	where := "e.is_enabled"
	args := []interface{}{}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where += " AND (e.name ILIKE $1 OR e.emp_id ILIKE $1)"
	}

	var total int
	if err := s.db.q(ctx).QueryRowContext(ctx,
		"SELECT COUNT(*) FROM employees e WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err, "employees")
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf("%s WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d",
		employeeSelect, where, order, len(args)-1, len(args))
	rows, err := s.db.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, mapError(err, "employees")
	}
	defer rows.Close()

	var out []*models.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan employee: %w", err)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// ListDepartments returns every enabled department ordered by code
func (s *DirectoryStore) ListDepartments(ctx context.Context) ([]*models.Department, error) {
	rows, err := s.db.q(ctx).QueryContext(ctx,
		`SELECT id, code, name, is_enabled FROM departments WHERE is_enabled ORDER BY code`)
	if err != nil {
		return nil, mapError(err, "departments")
	}
	defer rows.Close()

	var out []*models.Department
	for rows.Next() {
		var d models.Department
		if err := rows.Scan(&d.ID, &d.Code, &d.Name, &d.IsEnabled); err != nil {
			return nil, fmt.Errorf("failed to scan department: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// GetProject loads a project by primary key
func (s *DirectoryStore) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	var p models.Project
	err := s.db.q(ctx).QueryRowContext(ctx,
		`SELECT id, code, name FROM projects WHERE id = $1`, id).Scan(&p.ID, &p.Code, &p.Name)
	if err != nil {
		return nil, mapError(err, "project")
	}
	return &p, nil
}

// ListProjects returns every project ordered by name
func (s *DirectoryStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.db.q(ctx).QueryContext(ctx, `SELECT id, code, name FROM projects ORDER BY name`)
	if err != nil {
		return nil, mapError(err, "projects")
	}
	defer rows.Close()

	var out []*models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Code, &p.Name); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
