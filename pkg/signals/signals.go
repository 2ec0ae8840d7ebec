// Package signals is the in-process event bus that carries domain side
// effects (cache invalidation, report regeneration, notification fan-out)
// out of the write paths. Handlers run only after the publishing
// transaction commits.
package signals

import (
	"time"

	"github.com/platinummonkey/ptbhub/pkg/models"
)

// Topic names a signal type
type Topic string

const (
	TopicEmployeeChanged       Topic = "employee.changed"
	TopicOvertimeSaved         Topic = "overtime.saved"
	TopicOvertimeDeleted       Topic = "overtime.deleted"
	TopicOvertimeStatusChanged Topic = "overtime.status_changed"
	TopicEventSaved            Topic = "calendar_event.saved"
	TopicEventDeleted          Topic = "calendar_event.deleted"
	TopicAssigneesAdded        Topic = "calendar_event.assignees_added"
	TopicGroupMembersAdded     Topic = "task_group.members_added"
	TopicPurchaseSaved         Topic = "purchase_request.saved"
	TopicSMBConfigChanged      Topic = "smb_config.changed"
)

// Signal is a typed event published on the bus
type Signal interface {
	Topic() Topic
}

// Actor identifies who caused a signal
type Actor struct {
	ID   int64
	Name string
}

// EmployeeChanged fires on employee save or delete
type EmployeeChanged struct {
	EmployeeID int64
	Deleted    bool
}

// OvertimeSaved fires on overtime create or update. PreviousDate is set when
// an update moved the request to another day.
type OvertimeSaved struct {
	Request      *models.OvertimeRequest
	Created      bool
	PreviousDate *time.Time
}

// OvertimeDeleted carries the stored request date of a deleted request
type OvertimeDeleted struct {
	RequestID   int64
	RequestDate time.Time
}

// OvertimeStatusChanged fires once per bulk status update
type OvertimeStatusChanged struct {
	Requests []*models.OvertimeRequest
	Status   models.OvertimeStatus
}

// EventSaved fires on calendar event create or update
type EventSaved struct {
	Event   *models.CalendarEvent
	Created bool
	Actor   Actor
}

// EventDeleted fires after a calendar event and its children are removed
type EventDeleted struct {
	Event *models.CalendarEvent
	Actor Actor
}

// AssigneesAdded fires when users are added to an event's assigned-to set.
// Added holds only users that were not assigned before.
type AssigneesAdded struct {
	Event *models.CalendarEvent
	Added []int64
	Actor Actor
}

// GroupMembersAdded fires when users join a task group
type GroupMembersAdded struct {
	Group *models.TaskGroup
	Added []int64
	Actor Actor
}

// PurchaseSaved fires on purchase request create or update
type PurchaseSaved struct {
	Request *models.PurchaseRequest
	Created bool
}

// SMBConfigChanged fires after any SMB configuration mutation
type SMBConfigChanged struct {
	ConfigID int64
}

func (EmployeeChanged) Topic() Topic       { return TopicEmployeeChanged }
func (OvertimeSaved) Topic() Topic         { return TopicOvertimeSaved }
func (OvertimeDeleted) Topic() Topic       { return TopicOvertimeDeleted }
func (OvertimeStatusChanged) Topic() Topic { return TopicOvertimeStatusChanged }
func (EventSaved) Topic() Topic            { return TopicEventSaved }
func (EventDeleted) Topic() Topic          { return TopicEventDeleted }
func (AssigneesAdded) Topic() Topic        { return TopicAssigneesAdded }
func (GroupMembersAdded) Topic() Topic     { return TopicGroupMembersAdded }
func (PurchaseSaved) Topic() Topic         { return TopicPurchaseSaved }
func (SMBConfigChanged) Topic() Topic      { return TopicSMBConfigChanged }
