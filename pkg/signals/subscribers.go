package signals

import (
	"context"
	"time"

	"github.com/platinummonkey/ptbhub/pkg/cache"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/observability"
)

// ViewInvalidator drops cached responses of whole views
type ViewInvalidator interface {
	InvalidateViews(ctx context.Context, views ...string)
}

// Regenerator queues Excel regeneration for a request date
type Regenerator interface {
	EnqueueRegeneration(ctx context.Context, date time.Time) error
}

// Notifier is the notification fan-out used by subscribers
type Notifier interface {
	TaskAssigned(ctx context.Context, task *models.CalendarEvent, added []int64, actorID int64) ([]*models.Notification, error)
	TaskUpdated(ctx context.Context, task *models.CalendarEvent, actorID int64, actorName string) ([]*models.Notification, error)
	LeaveCreated(ctx context.Context, leave *models.CalendarEvent, applicant string, actorID int64) ([]*models.Notification, error)
	GroupMembersAdded(ctx context.Context, group *models.TaskGroup, added []int64, actorID int64) ([]*models.Notification, error)
	PurchaseCreated(ctx context.Context, pr *models.PurchaseRequest) ([]*models.Notification, error)
	OvertimeStatusChanged(ctx context.Context, reqs []*models.OvertimeRequest, status models.OvertimeStatus) ([]*models.Notification, error)
}

// ConfigInvalidator drops a cached configuration
type ConfigInvalidator interface {
	Invalidate()
}

// GroupSender pushes a frame to a WebSocket group
type GroupSender interface {
	SendGroup(ctx context.Context, group string, frame interface{}) error
}

// Subscribers holds the collaborators of the standard subscriber set. Nil
// collaborators disable the subscribers that need them.
type Subscribers struct {
	Cache     ViewInvalidator
	Regen     Regenerator
	Notifier  Notifier
	SMBConfig ConfigInvalidator
	Sender    GroupSender
	Logger    *observability.Logger
}

// Register subscribes the standard handlers on bus
func (s Subscribers) Register(bus *Bus) {
	if s.Logger == nil {
		s.Logger = observability.NopLogger()
	}

	if s.Cache != nil {
		bus.Subscribe(TopicEmployeeChanged, "invalidate-employees", s.invalidate(cache.ViewEmployees, cache.ViewDepartments))
		bus.Subscribe(TopicOvertimeSaved, "invalidate-overtime", s.invalidate(cache.ViewOvertimeRequests))
		bus.Subscribe(TopicOvertimeDeleted, "invalidate-overtime", s.invalidate(cache.ViewOvertimeRequests))
		bus.Subscribe(TopicOvertimeStatusChanged, "invalidate-overtime", s.invalidate(cache.ViewOvertimeRequests))
		bus.Subscribe(TopicEventSaved, "invalidate-events", s.invalidate(cache.ViewCalendarEvents))
		bus.Subscribe(TopicEventDeleted, "invalidate-events", s.invalidate(cache.ViewCalendarEvents))
		bus.Subscribe(TopicAssigneesAdded, "invalidate-events", s.invalidate(cache.ViewCalendarEvents))
	}

	if s.Regen != nil {
		bus.Subscribe(TopicOvertimeSaved, "regenerate-excel", s.regenerateSaved)
		bus.Subscribe(TopicOvertimeDeleted, "regenerate-excel", s.regenerateDeleted)
		bus.Subscribe(TopicOvertimeStatusChanged, "regenerate-excel", s.regenerateStatus)
	}

	if s.Notifier != nil {
		bus.Subscribe(TopicAssigneesAdded, "notify-assignees", s.notifyAssignees)
		bus.Subscribe(TopicEventSaved, "notify-leave", s.notifyLeave)
		bus.Subscribe(TopicEventSaved, "notify-task-updated", s.notifyTaskUpdated)
		bus.Subscribe(TopicGroupMembersAdded, "notify-group-members", s.notifyGroupMembers)
		bus.Subscribe(TopicPurchaseSaved, "notify-purchase-created", s.notifyPurchase)
		bus.Subscribe(TopicOvertimeStatusChanged, "notify-overtime-status", s.notifyOvertimeStatus)
	}

	if s.SMBConfig != nil {
		bus.Subscribe(TopicSMBConfigChanged, "invalidate-smb-config", func(ctx context.Context, _ Signal) error {
			s.SMBConfig.Invalidate()
			return nil
		})
	}

	if s.Sender != nil {
		bus.Subscribe(TopicEventSaved, "push-calendar", s.pushCalendar)
		bus.Subscribe(TopicEventDeleted, "push-calendar", s.pushCalendar)
	}
}

func (s Subscribers) invalidate(views ...string) Handler {
	return func(ctx context.Context, _ Signal) error {
		s.Cache.InvalidateViews(ctx, views...)
		return nil
	}
}

func (s Subscribers) regenerate(ctx context.Context, dates ...time.Time) error {
	seen := make(map[string]bool, len(dates))
	for _, d := range dates {
		key := d.Format("2006-01-02")
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := s.Regen.EnqueueRegeneration(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (s Subscribers) regenerateSaved(ctx context.Context, sig Signal) error {
	ev := sig.(OvertimeSaved)
	dates := []time.Time{ev.Request.RequestDate}
	if ev.PreviousDate != nil {
		dates = append(dates, *ev.PreviousDate)
	}
	return s.regenerate(ctx, dates...)
}

func (s Subscribers) regenerateDeleted(ctx context.Context, sig Signal) error {
	return s.regenerate(ctx, sig.(OvertimeDeleted).RequestDate)
}

func (s Subscribers) regenerateStatus(ctx context.Context, sig Signal) error {
	ev := sig.(OvertimeStatusChanged)
	dates := make([]time.Time, 0, len(ev.Requests))
	for _, r := range ev.Requests {
		dates = append(dates, r.RequestDate)
	}
	return s.regenerate(ctx, dates...)
}

func (s Subscribers) notifyAssignees(ctx context.Context, sig Signal) error {
	ev := sig.(AssigneesAdded)
	if ev.Event.Type != models.EventTask || len(ev.Added) == 0 {
		return nil
	}
	_, err := s.Notifier.TaskAssigned(ctx, ev.Event, ev.Added, ev.Actor.ID)
	return err
}

func (s Subscribers) notifyLeave(ctx context.Context, sig Signal) error {
	ev := sig.(EventSaved)
	if !ev.Created || ev.Event.Type != models.EventLeave || ev.Event.IsChild() {
		return nil
	}
	_, err := s.Notifier.LeaveCreated(ctx, ev.Event, ev.Actor.Name, ev.Actor.ID)
	return err
}

func (s Subscribers) notifyTaskUpdated(ctx context.Context, sig Signal) error {
	ev := sig.(EventSaved)
	if ev.Created || ev.Event.Type != models.EventTask || ev.Event.IsChild() {
		return nil
	}
	_, err := s.Notifier.TaskUpdated(ctx, ev.Event, ev.Actor.ID, ev.Actor.Name)
	return err
}

func (s Subscribers) notifyGroupMembers(ctx context.Context, sig Signal) error {
	ev := sig.(GroupMembersAdded)
	if len(ev.Added) == 0 {
		return nil
	}
	_, err := s.Notifier.GroupMembersAdded(ctx, ev.Group, ev.Added, ev.Actor.ID)
	return err
}

func (s Subscribers) notifyPurchase(ctx context.Context, sig Signal) error {
	ev := sig.(PurchaseSaved)
	if !ev.Created {
		return nil
	}
	_, err := s.Notifier.PurchaseCreated(ctx, ev.Request)
	return err
}

func (s Subscribers) notifyOvertimeStatus(ctx context.Context, sig Signal) error {
	ev := sig.(OvertimeStatusChanged)
	_, err := s.Notifier.OvertimeStatusChanged(ctx, ev.Requests, ev.Status)
	return err
}

// CalendarFrame is pushed to the calendar group when events change
type CalendarFrame struct {
	Type    string                `json:"type"`
	EventID int64                 `json:"event_id"`
	Event   *models.CalendarEvent `json:"event,omitempty"`
	UserID  int64                 `json:"user_id,omitempty"`
}

func (s Subscribers) pushCalendar(ctx context.Context, sig Signal) error {
	var frame CalendarFrame
	switch ev := sig.(type) {
	case EventSaved:
		frame = CalendarFrame{Type: "event_updated", EventID: ev.Event.ID, Event: ev.Event, UserID: ev.Actor.ID}
		if ev.Created {
			frame.Type = "event_created"
		}
	case EventDeleted:
		frame = CalendarFrame{Type: "event_deleted", EventID: ev.Event.ID, UserID: ev.Actor.ID}
	default:
		return nil
	}
	if err := s.Sender.SendGroup(ctx, models.CalendarGroup, frame); err != nil {
		s.Logger.WithError(err).Debug("calendar push failed")
	}
	return nil
}
