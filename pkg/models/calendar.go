package models

import (
	"fmt"
	"time"
)

// EventType discriminates calendar events
type EventType string

const (
	EventHoliday EventType = "holiday"
	EventLeave   EventType = "leave"
	EventMeeting EventType = "meeting"
	EventTask    EventType = "task"
)

// Valid reports whether t is a known event type
func (t EventType) Valid() bool {
	switch t {
	case EventHoliday, EventLeave, EventMeeting, EventTask:
		return true
	}
	return false
}

// RepeatFrequency is the recurrence stride of a repeating event
type RepeatFrequency string

const (
	RepeatNone    RepeatFrequency = ""
	RepeatHourly  RepeatFrequency = "hourly"
	RepeatDaily   RepeatFrequency = "daily"
	RepeatWeekly  RepeatFrequency = "weekly"
	RepeatMonthly RepeatFrequency = "monthly"
	RepeatYearly  RepeatFrequency = "yearly"
)

// ParseRepeatFrequency validates a frequency string
func ParseRepeatFrequency(s string) (RepeatFrequency, error) {
	switch f := RepeatFrequency(s); f {
	case RepeatNone, RepeatHourly, RepeatDaily, RepeatWeekly, RepeatMonthly, RepeatYearly:
		return f, nil
	}
	return RepeatNone, fmt.Errorf("unknown repeat frequency %q", s)
}

// CalendarEvent covers holidays, leaves, meetings and board tasks. Board
// tasks are events of type task whose Status is the board column.
type CalendarEvent struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Type        EventType `json:"event_type"`
	Status      string    `json:"status"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day"`
	Location    string    `json:"location"`
	Color       string    `json:"color"`
	CreatedByID *int64    `json:"created_by"`
	// AssignedTo holds user ids
	AssignedTo []int64 `json:"assigned_to"`

	MeetingURL     string   `json:"meeting_url"`
	ProjectID      *int64   `json:"project"`
	LeaveType      string   `json:"leave_type"`
	AppliedByID    *int64   `json:"applied_by"`
	AgentID        *int64   `json:"agent"`
	Priority       string   `json:"priority"`
	Labels         []string `json:"labels"`
	GroupID        *int64   `json:"group"`
	EstimatedHours *float64 `json:"estimated_hours"`
	ActualHours    *float64 `json:"actual_hours"`

	IsRepeating     bool            `json:"is_repeating"`
	RepeatFrequency RepeatFrequency `json:"repeat_frequency"`
	ParentEventID   *int64          `json:"parent_event"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsChild reports whether the event was materialized from a recurring parent
func (e *CalendarEvent) IsChild() bool {
	return e.ParentEventID != nil
}

// Holiday is a company-wide day off
type Holiday struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Date       time.Time `json:"date"`
	IsNational bool      `json:"is_national"`
}

// EmployeeLeave is a leave request with an optional covering agent
type EmployeeLeave struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	AgentID   *int64    `json:"agent"`
	LeaveType string    `json:"leave_type"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Reason    string    `json:"reason"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// BoardPresence is a short-lived "who is here" record
type BoardPresence struct {
	UserID        int64     `json:"user_id"`
	DisplayName   string    `json:"display_name"`
	EditingTaskID *int64    `json:"editing_task_id"`
	LastSeen      time.Time `json:"last_seen"`
	Channel       string    `json:"channel"`
}

// PresenceTTL is how long a presence record stays live after last_seen
const PresenceTTL = 5 * time.Minute

// Live reports whether the record was seen within PresenceTTL of now
func (p *BoardPresence) Live(now time.Time) bool {
	return now.Sub(p.LastSeen) < PresenceTTL
}
