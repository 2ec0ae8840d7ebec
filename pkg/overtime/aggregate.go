package overtime

import (
	"sort"

	"github.com/platinummonkey/ptbhub/pkg/models"
)

// DepartmentGroup is the reportable overtime of one department
type DepartmentGroup struct {
	Code       string                    `json:"department_code"`
	Name       string                    `json:"department_name"`
	TotalHours float64                   `json:"total_hours"`
	Employees  int                       `json:"employee_count"`
	Requests   []*models.OvertimeRequest `json:"requests"`
}

// Summary is the aggregate of one period
type Summary struct {
	PeriodStart string             `json:"period_start"`
	PeriodEnd   string             `json:"period_end"`
	TotalHours  float64            `json:"total_hours"`
	Departments []*DepartmentGroup `json:"departments"`
}

// GroupByDepartment groups reportable requests by department code, sorted
// by code. Rejected requests are dropped and requests without a department
// fall into the default group. Input order is kept inside each group.
func GroupByDepartment(reqs []*models.OvertimeRequest) []*DepartmentGroup {
	byCode := make(map[string]*DepartmentGroup)
	employees := make(map[string]map[int64]bool)

	for _, r := range reqs {
		if r.Status == models.OvertimeRejected {
			continue
		}
		code, name := r.DepartmentCode, r.DepartmentName
		if code == "" {
			code, name = models.DefaultDepartmentCode, models.DefaultDepartmentName
		}
		g, ok := byCode[code]
		if !ok {
			g = &DepartmentGroup{Code: code, Name: name}
			byCode[code] = g
			employees[code] = make(map[int64]bool)
		}
		if g.Name == "" {
			g.Name = name
		}
		g.Requests = append(g.Requests, r)
		g.TotalHours += r.TotalHours
		employees[code][r.EmployeeID] = true
	}

	out := make([]*DepartmentGroup, 0, len(byCode))
	for code, g := range byCode {
		g.Employees = len(employees[code])
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Summarize aggregates the requests of period p
func Summarize(p Period, reqs []*models.OvertimeRequest) *Summary {
	s := &Summary{
		PeriodStart: p.Start.Format(dateLayout),
		PeriodEnd:   p.End.Format(dateLayout),
		Departments: GroupByDepartment(reqs),
	}
	for _, g := range s.Departments {
		s.TotalHours += g.TotalHours
	}
	return s
}
