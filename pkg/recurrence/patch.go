package recurrence

import (
	"encoding/json"
	"time"

	"github.com/platinummonkey/ptbhub/pkg/models"
)

// Field is an optional update value. Set is true whenever the key was
// present in the request body, including an explicit null.
type Field[T any] struct {
	Set   bool
	Value T
}

// Some returns a set field
func Some[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: v}
}

// UnmarshalJSON marks the field as present
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if string(data) == "null" {
		var zero T
		f.Value = zero
		return nil
	}
	return json.Unmarshal(data, &f.Value)
}

// Patch is a partial calendar event update
type Patch struct {
	Title           Field[string]                 `json:"title"`
	Description     Field[string]                 `json:"description"`
	Type            Field[models.EventType]       `json:"event_type"`
	Status          Field[string]                 `json:"status"`
	Start           Field[time.Time]              `json:"start"`
	End             Field[time.Time]              `json:"end"`
	AllDay          Field[bool]                   `json:"all_day"`
	Location        Field[string]                 `json:"location"`
	Color           Field[string]                 `json:"color"`
	MeetingURL      Field[string]                 `json:"meeting_url"`
	ProjectID       Field[*int64]                 `json:"project"`
	LeaveType       Field[string]                 `json:"leave_type"`
	AppliedByID     Field[*int64]                 `json:"applied_by"`
	AgentID         Field[*int64]                 `json:"agent"`
	Priority        Field[string]                 `json:"priority"`
	Labels          Field[[]string]               `json:"labels"`
	GroupID         Field[*int64]                 `json:"group"`
	EstimatedHours  Field[*float64]               `json:"estimated_hours"`
	AssignedTo      Field[[]int64]                `json:"assigned_to"`
	IsRepeating     Field[bool]                   `json:"is_repeating"`
	RepeatFrequency Field[models.RepeatFrequency] `json:"repeat_frequency"`
}

// Apply copies every set field onto e
func (p *Patch) Apply(e *models.CalendarEvent) {
	apply(&e.Title, p.Title)
	apply(&e.Description, p.Description)
	apply(&e.Type, p.Type)
	apply(&e.Status, p.Status)
	apply(&e.Start, p.Start)
	apply(&e.End, p.End)
	apply(&e.AllDay, p.AllDay)
	apply(&e.Location, p.Location)
	apply(&e.Color, p.Color)
	apply(&e.MeetingURL, p.MeetingURL)
	apply(&e.ProjectID, p.ProjectID)
	apply(&e.LeaveType, p.LeaveType)
	apply(&e.AppliedByID, p.AppliedByID)
	apply(&e.AgentID, p.AgentID)
	apply(&e.Priority, p.Priority)
	apply(&e.Labels, p.Labels)
	apply(&e.GroupID, p.GroupID)
	apply(&e.EstimatedHours, p.EstimatedHours)
	apply(&e.AssignedTo, p.AssignedTo)
	apply(&e.IsRepeating, p.IsRepeating)
	apply(&e.RepeatFrequency, p.RepeatFrequency)
}

func apply[T any](dst *T, f Field[T]) {
	if f.Set {
		*dst = f.Value
	}
}

// Propagated returns the set fields that children copy from their parent,
// keyed by update field name
func (p *Patch) Propagated() map[string]interface{} {
	out := make(map[string]interface{})
	put := func(name string, set bool, v interface{}) {
		if set {
			out[name] = v
		}
	}
	put("title", p.Title.Set, p.Title.Value)
	put("event_type", p.Type.Set, p.Type.Value)
	put("status", p.Status.Set, p.Status.Value)
	put("description", p.Description.Set, p.Description.Value)
	put("all_day", p.AllDay.Set, p.AllDay.Value)
	put("location", p.Location.Set, p.Location.Value)
	put("color", p.Color.Set, p.Color.Value)
	put("meeting_url", p.MeetingURL.Set, p.MeetingURL.Value)
	put("project", p.ProjectID.Set, p.ProjectID.Value)
	put("leave_type", p.LeaveType.Set, p.LeaveType.Value)
	put("applied_by", p.AppliedByID.Set, p.AppliedByID.Value)
	put("agent", p.AgentID.Set, p.AgentID.Value)
	return out
}
