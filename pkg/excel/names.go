// Package excel renders the overtime Form and Summary workbooks and runs the
// export pipeline that writes them locally and uploads them to the share.
package excel

import (
	"strings"
	"time"

	"github.com/platinummonkey/ptbhub/pkg/overtime"
)

// Kind distinguishes daily from monthly exports
type Kind string

const (
	KindDaily   Kind = "daily"
	KindMonthly Kind = "monthly"
)

// DailyFormName is YYYYMMDDOT.xlsx
func DailyFormName(d time.Time) string {
	return d.Format("20060102") + "OT.xlsx"
}

// DailySummaryName is YYYYMMDDOTSummary.xlsx
func DailySummaryName(d time.Time) string {
	return d.Format("20060102") + "OTSummary.xlsx"
}

func monthlyStem(p overtime.Period) string {
	return "~" + p.Start.Format("2006_01_02") + "-" + p.End.Format("2006_01_02")
}

// MonthlyFormName is ~YYYY_MM_DD-YYYY_MM_DDOT.xlsx
func MonthlyFormName(p overtime.Period) string {
	return monthlyStem(p) + "OT.xlsx"
}

// MonthlySummaryName is ~YYYY_MM_DD-YYYY_MM_DDOTSummary.xlsx
func MonthlySummaryName(p overtime.Period) string {
	return monthlyStem(p) + "OTSummary.xlsx"
}

// sheetName makes a department code usable as a worksheet name
func sheetName(code string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, strings.TrimSpace(code))
	name = strings.Trim(name, "'")
	if name == "" {
		name = "Sheet"
	}
	if r := []rune(name); len(r) > 31 {
		name = string(r[:31])
	}
	return name
}
