package excel

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/overtime"
)

// MinFormRows is the number of table rows a Form sheet always shows
const MinFormRows = 30

// FormNumber is printed in the footer of every Form sheet
const FormNumber = "Form No. PTB/HRD/OT-01 Rev.02"

var (
	dailyFormHeader = []string{
		"No", "Employee ID", "Name", "Reason",
		"Planned Time", "Planned Duration", "Break (V)", "Employee Signature", "Supervisor Signature",
		"Actual Time", "Actual Duration", "Actual Break (V)", "Actual Signature",
	}
	monthlyFormHeader = append([]string{"No", "Date"}, dailyFormHeader[1:]...)

	dailySummaryHeader   = []string{"Work ID", "Overtime Type", "Date", "Start", "End", "Meal/Rest", "Hours", "Reason"}
	monthlySummaryHeader = append(append([]string(nil), dailySummaryHeader...), "Detail")

	formNotes = []string{
		"Notes:",
		"1. Overtime must be approved by the direct supervisor before it starts.",
		"2. Fill in the actual columns after the overtime is finished.",
		"3. Overtime type: weekday, weekend or public holiday.",
	}
)

// Workbook is a rendered workbook with its file name
type Workbook struct {
	Name string
	File *excelize.File
}

// Renderer builds workbooks from department groups
type Renderer struct {
	// Stamp fixes document timestamps so repeated renders match
	Stamp time.Time
}

func (r Renderer) newFile() (*excelize.File, error) {
	f := excelize.NewFile()
	stamp := r.Stamp.UTC().Format(time.RFC3339)
	if err := f.SetDocProps(&excelize.DocProperties{
		Creator:        "ptbhub",
		LastModifiedBy: "ptbhub",
		Created:        stamp,
		Modified:       stamp,
		Title:          "Overtime",
	}); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// groupsOrDefault keeps a workbook non-empty when nothing is reportable
func groupsOrDefault(groups []*overtime.DepartmentGroup) []*overtime.DepartmentGroup {
	if len(groups) > 0 {
		return groups
	}
	return []*overtime.DepartmentGroup{{Code: models.DefaultDepartmentCode, Name: models.DefaultDepartmentName}}
}

// eachSheet creates one sheet per group, reusing the default first sheet
func (r Renderer) eachSheet(groups []*overtime.DepartmentGroup, fill func(f *excelize.File, sheet string, g *overtime.DepartmentGroup) error) (*excelize.File, error) {
	f, err := r.newFile()
	if err != nil {
		return nil, err
	}
	for i, g := range groupsOrDefault(groups) {
		sheet := sheetName(g.Code)
		if i == 0 {
			err = f.SetSheetName(f.GetSheetName(0), sheet)
		} else {
			_, err = f.NewSheet(sheet)
		}
		if err == nil {
			err = fill(f, sheet, g)
		}
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("render sheet %s: %w", sheet, err)
		}
	}
	f.SetActiveSheet(0)
	return f, nil
}

// DailyForm renders the printable Form workbook for one date
func (r Renderer) DailyForm(date time.Time, groups []*overtime.DepartmentGroup) (*Workbook, error) {
	f, err := r.eachSheet(groups, func(f *excelize.File, sheet string, g *overtime.DepartmentGroup) error {
		return r.formSheet(f, sheet, g, formLayout{
			header:   dailyFormHeader,
			subtitle: "Date: " + LongDate(date),
			checkbox: true,
		})
	})
	if err != nil {
		return nil, err
	}
	return &Workbook{Name: DailyFormName(date), File: f}, nil
}

// MonthlyForm renders the Form workbook of a whole period
func (r Renderer) MonthlyForm(p overtime.Period, groups []*overtime.DepartmentGroup) (*Workbook, error) {
	f, err := r.eachSheet(groups, func(f *excelize.File, sheet string, g *overtime.DepartmentGroup) error {
		return r.formSheet(f, sheet, g, formLayout{
			header:   monthlyFormHeader,
			subtitle: "Period: " + LongDate(p.Start) + " - " + LongDate(p.End),
			withDate: true,
		})
	})
	if err != nil {
		return nil, err
	}
	return &Workbook{Name: MonthlyFormName(p), File: f}, nil
}

// DailySummary renders the machine-readable Summary workbook for one date
func (r Renderer) DailySummary(date time.Time, groups []*overtime.DepartmentGroup) (*Workbook, error) {
	f, err := r.eachSheet(groups, func(f *excelize.File, sheet string, g *overtime.DepartmentGroup) error {
		return summarySheet(f, sheet, g, dailySummaryHeader, false)
	})
	if err != nil {
		return nil, err
	}
	return &Workbook{Name: DailySummaryName(date), File: f}, nil
}

// MonthlySummary renders the Summary workbook of a whole period
func (r Renderer) MonthlySummary(p overtime.Period, groups []*overtime.DepartmentGroup) (*Workbook, error) {
	f, err := r.eachSheet(groups, func(f *excelize.File, sheet string, g *overtime.DepartmentGroup) error {
		return summarySheet(f, sheet, g, monthlySummaryHeader, true)
	})
	if err != nil {
		return nil, err
	}
	return &Workbook{Name: MonthlySummaryName(p), File: f}, nil
}

// SummaryRow is one Summary line in column order
func SummaryRow(o *models.OvertimeRequest, withDetail bool) []interface{} {
	meal := "N"
	if o.HasBreak() {
		meal = "Y"
	}
	row := []interface{}{
		o.EmployeeEmpID,
		int(o.Type()),
		o.RequestDate.Format("2006-01-02"),
		o.TimeStart,
		o.TimeEnd,
		meal,
		overtime.FormatHours(o.TotalHours),
		o.Reason,
	}
	if withDetail {
		row = append(row, o.Detail)
	}
	return row
}

func summarySheet(f *excelize.File, sheet string, g *overtime.DepartmentGroup, header []string, withDetail bool) error {
	if err := writeRow(f, sheet, 1, toCells(header)); err != nil {
		return err
	}
	for i, o := range g.Requests {
		if err := writeRow(f, sheet, i+2, SummaryRow(o, withDetail)); err != nil {
			return err
		}
	}
	last, _ := excelize.ColumnNumberToName(len(header))
	if err := f.SetColWidth(sheet, "A", last, 14); err != nil {
		return err
	}
	return f.SetColWidth(sheet, "H", "H", 40)
}

type formLayout struct {
	header   []string
	subtitle string
	checkbox bool
	withDate bool
}

func (r Renderer) formSheet(f *excelize.File, sheet string, g *overtime.DepartmentGroup, l formLayout) error {
	styles, err := newFormStyles(f)
	if err != nil {
		return err
	}
	lastCol, _ := excelize.ColumnNumberToName(len(l.header))

	set := func(cell string, v interface{}) {
		if err == nil {
			err = f.SetCellValue(sheet, cell, v)
		}
	}
	merge := func(from, to string) {
		if err == nil {
			err = f.MergeCell(sheet, from, to)
		}
	}
	style := func(from, to string, id int) {
		if err == nil {
			err = f.SetCellStyle(sheet, from, to, id)
		}
	}

	set("A1", "OVERTIME WORK ORDER")
	merge("A1", lastCol+"1")
	style("A1", lastCol+"1", styles.title)
	set("A2", fmt.Sprintf("Department: %s - %s", g.Code, g.Name))
	merge("A2", lastCol+"2")
	set("A3", l.subtitle)
	merge("A3", lastCol+"3")
	if l.checkbox {
		set("A4", checkboxLine(firstType(g)))
		merge("A4", lastCol+"4")
	}

	const headerRow = 6
	if err != nil {
		return err
	}
	if err := writeRow(f, sheet, headerRow, toCells(l.header)); err != nil {
		return err
	}
	style("A6", lastCol+"6", styles.header)

	rows := len(g.Requests)
	if rows < MinFormRows {
		rows = MinFormRows
	}
	for i := 0; i < rows && err == nil; i++ {
		cells := make([]interface{}, len(l.header))
		cells[0] = i + 1
		if i < len(g.Requests) {
			copy(cells[1:], formCells(g.Requests[i], l.withDate))
		}
		err = writeRow(f, sheet, headerRow+1+i, cells)
	}
	lastRow := headerRow + rows
	style("A7", fmt.Sprintf("%s%d", lastCol, lastRow), styles.cell)

	for i, note := range formNotes {
		set(fmt.Sprintf("A%d", lastRow+2+i), note)
	}
	footer := lastRow + len(formNotes) + 3
	set(fmt.Sprintf("A%d", footer), FormNumber)
	style(fmt.Sprintf("A%d", footer), fmt.Sprintf("A%d", footer), styles.footer)
	if err != nil {
		return err
	}

	if err := f.SetColWidth(sheet, "A", "A", 5); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "B", lastCol, 16); err != nil {
		return err
	}
	return f.SetRowHeight(sheet, 1, 24)
}

// formCells are the Form columns after No
func formCells(o *models.OvertimeRequest, withDate bool) []interface{} {
	brk := ""
	if o.HasBreak() {
		brk = "V"
	}
	cells := []interface{}{
		o.EmployeeEmpID,
		o.EmployeeName,
		o.Reason,
		o.TimeStart + " - " + o.TimeEnd,
		overtime.HoursPhrase(o.TotalHours),
		brk,
		"", "", "", "", "", "",
	}
	if withDate {
		cells = append([]interface{}{o.RequestDate.Format("02/01/2006")}, cells...)
	}
	return cells
}

func firstType(g *overtime.DepartmentGroup) models.OvertimeType {
	if len(g.Requests) == 0 {
		return models.OvertimeWeekday
	}
	return g.Requests[0].Type()
}

func checkboxLine(t models.OvertimeType) string {
	box := func(on bool) string {
		if on {
			return "[X]"
		}
		return "[  ]"
	}
	return fmt.Sprintf("%s Weekday    %s Weekend    %s Public holiday",
		box(t == models.OvertimeWeekday), box(t == models.OvertimeWeekend), box(t == models.OvertimeHoliday))
}

// LongDate renders a date the way the printed forms show it
func LongDate(d time.Time) string {
	return d.Format("Monday, 02 January 2006")
}

func toCells(labels []string) []interface{} {
	out := make([]interface{}, len(labels))
	for i, l := range labels {
		out[i] = l
	}
	return out
}

func writeRow(f *excelize.File, sheet string, row int, cells []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &cells)
}

type formStyles struct {
	title, header, cell, footer int
}

func newFormStyles(f *excelize.File) (formStyles, error) {
	border := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
	var s formStyles
	var err error
	if s.title, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	}); err != nil {
		return s, err
	}
	if s.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Border:    border,
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"D9D9D9"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	}); err != nil {
		return s, err
	}
	if s.cell, err = f.NewStyle(&excelize.Style{
		Border:    border,
		Alignment: &excelize.Alignment{Vertical: "center", WrapText: true},
	}); err != nil {
		return s, err
	}
	s.footer, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Italic: true, Size: 9}})
	return s, err
}
