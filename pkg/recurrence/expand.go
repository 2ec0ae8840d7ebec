// Package recurrence materializes the children of repeating calendar events
// and keeps them in step with later edits of their parent.
package recurrence

import (
	"fmt"
	"time"

	"github.com/platinummonkey/ptbhub/pkg/models"
)

// rule is the materialization window and stride of one frequency
type rule struct {
	horizon func(start time.Time) time.Time
	// step returns the start of the k-th child, k >= 1
	step func(start time.Time, k int) time.Time
}

var rules = map[models.RepeatFrequency]rule{
	models.RepeatHourly: {
		horizon: func(s time.Time) time.Time { return s.Add(24 * time.Hour) },
		step:    func(s time.Time, k int) time.Time { return s.Add(time.Duration(k) * time.Hour) },
	},
	models.RepeatDaily: {
		horizon: oneYear,
		step:    func(s time.Time, k int) time.Time { return s.AddDate(0, 0, k) },
	},
	models.RepeatWeekly: {
		horizon: oneYear,
		step:    func(s time.Time, k int) time.Time { return s.AddDate(0, 0, 7*k) },
	},
	models.RepeatMonthly: {
		horizon: oneYear,
		step:    func(s time.Time, k int) time.Time { return addMonthsClamped(s, k) },
	},
	models.RepeatYearly: {
		horizon: func(s time.Time) time.Time { return addMonthsClamped(s, 60) },
		step:    func(s time.Time, k int) time.Time { return addMonthsClamped(s, 12*k) },
	},
}

func oneYear(s time.Time) time.Time {
	return addMonthsClamped(s, 12)
}

// addMonthsClamped moves start by n calendar months, clamping the day to the
// last day of the target month. The day is always taken from start, so a
// series anchored on the 31st returns to the 31st after a short month.
func addMonthsClamped(start time.Time, n int) time.Time {
	y, m, d := start.Date()
	target := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, start.Location())
	if last := daysIn(target.Year(), target.Month(), start.Location()); d > last {
		d = last
	}
	hh, mm, ss := start.Clock()
	return time.Date(target.Year(), target.Month(), d, hh, mm, ss, start.Nanosecond(), start.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// Horizon returns the last instant a child of a series starting at start may
// begin at
func Horizon(freq models.RepeatFrequency, start time.Time) (time.Time, error) {
	r, ok := rules[freq]
	if !ok {
		return time.Time{}, fmt.Errorf("recurrence: unsupported frequency %q", freq)
	}
	return r.horizon(start), nil
}

// Occurrences returns the child start times of a series. Children start one
// stride after start and continue while they do not pass the horizon.
func Occurrences(freq models.RepeatFrequency, start time.Time) ([]time.Time, error) {
	r, ok := rules[freq]
	if !ok {
		return nil, fmt.Errorf("recurrence: unsupported frequency %q", freq)
	}
	horizon := r.horizon(start)
	var out []time.Time
	for k := 1; ; k++ {
		next := r.step(start, k)
		if next.After(horizon) {
			return out, nil
		}
		out = append(out, next)
	}
}

// Expand builds the unsaved children of parent. Every child keeps the
// parent's duration.
func Expand(parent *models.CalendarEvent) ([]*models.CalendarEvent, error) {
	if !parent.IsRepeating || parent.RepeatFrequency == models.RepeatNone {
		return nil, nil
	}
	if parent.ID == 0 {
		return nil, fmt.Errorf("recurrence: parent must be saved before expansion")
	}
	starts, err := Occurrences(parent.RepeatFrequency, parent.Start)
	if err != nil {
		return nil, err
	}

	duration := parent.End.Sub(parent.Start)
	children := make([]*models.CalendarEvent, 0, len(starts))
	for _, start := range starts {
		children = append(children, child(parent, start, duration))
	}
	return children, nil
}

func child(parent *models.CalendarEvent, start time.Time, duration time.Duration) *models.CalendarEvent {
	parentID := parent.ID
	return &models.CalendarEvent{
		Title:       parent.Title,
		Description: parent.Description,
		Type:        parent.Type,
		Status:      parent.Status,
		Start:       start,
		End:         start.Add(duration),
		AllDay:      parent.AllDay,
		Location:    parent.Location,
		Color:       parent.Color,
		CreatedByID: parent.CreatedByID,
		AssignedTo:  append([]int64(nil), parent.AssignedTo...),
		MeetingURL:  parent.MeetingURL,
		ProjectID:   parent.ProjectID,
		LeaveType:   parent.LeaveType,
		AppliedByID: parent.AppliedByID,
		AgentID:     parent.AgentID,
		Priority:    parent.Priority,
		Labels:      append([]string(nil), parent.Labels...),
		GroupID:     parent.GroupID,

		IsRepeating:     false,
		RepeatFrequency: models.RepeatNone,
		ParentEventID:   &parentID,
	}
}
