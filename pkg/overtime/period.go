// Package overtime holds the overtime request workflow: period arithmetic,
// hours formatting, department aggregation and the locked create, update
// and bulk status paths.
package overtime

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/ptbhub/pkg/models"
)

// PeriodStartDay is the day of month every reporting period starts on
const PeriodStartDay = 26

const dateLayout = "2006-01-02"

// Period is a closed range of dates, [26th of month M, 25th of month M+1]
type Period struct {
	Start time.Time
	End   time.Time
}

// PeriodFor returns the period enclosing d
func PeriodFor(d time.Time) Period {
	y, m, day := d.Date()
	if day < PeriodStartDay {
		m--
	}
	start := time.Date(y, m, PeriodStartDay, 0, 0, 0, 0, d.Location())
	end := time.Date(start.Year(), start.Month()+1, PeriodStartDay-1, 0, 0, 0, 0, d.Location())
	return Period{Start: start, End: end}
}

// Contains reports whether d falls inside the period
func (p Period) Contains(d time.Time) bool {
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, p.Start.Location())
	return !day.Before(p.Start) && !day.After(p.End)
}

// Dir is the folder name of the period, YYYY-MM-DD_YYYY-MM-DD
func (p Period) Dir() string {
	return p.Start.Format(dateLayout) + "_" + p.End.Format(dateLayout)
}

// Days lists every date in the period
func (p Period) Days() []time.Time {
	var out []time.Time
	for d := p.Start; !d.After(p.End); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// DateOnly truncates t to midnight in its own location
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseDate parses a YYYY-MM-DD query value
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	return d, nil
}

// FormatHours canonicalizes an hours value: whole numbers render as "N",
// half hours as "N.5" and anything else keeps its decimals
func FormatHours(h float64) string {
	if h == math.Trunc(h) {
		return strconv.FormatFloat(h, 'f', 0, 64)
	}
	if h*2 == math.Trunc(h*2) {
		return strconv.FormatFloat(h, 'f', 1, 64)
	}
	return strconv.FormatFloat(h, 'f', -1, 64)
}

// HoursPhrase renders an hours value for the Form workbook
func HoursPhrase(h float64) string {
	unit := "hours"
	if h == 1 {
		unit = "hour"
	}
	return FormatHours(h) + " " + unit
}

// ParseClock parses an HH:MM value into minutes after midnight
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("time must be HH:MM: %w", err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ComputeHours returns the worked hours between start and end minus breaks.
// An end before start is taken to cross midnight.
func ComputeHours(start, end string, breaks []models.Break) (float64, error) {
	span, err := spanMinutes(start, end)
	if err != nil {
		return 0, err
	}
	for _, b := range breaks {
		bs, err := spanMinutes(b.Start, b.End)
		if err != nil {
			return 0, fmt.Errorf("break: %w", err)
		}
		span -= bs
	}
	if span < 0 {
		span = 0
	}
	return math.Round(float64(span)/60*100) / 100, nil
}

func spanMinutes(start, end string) (int, error) {
	s, err := ParseClock(start)
	if err != nil {
		return 0, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return 0, err
	}
	if e < s {
		e += 24 * 60
	}
	return e - s, nil
}
