package recurrence

import (
	"context"
	"sort"
	"time"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/signals"
)

type memoryEvents struct {
	nextID int64
	rows   map[int64]*models.CalendarEvent
	shifts []time.Duration
}

func newMemoryEvents() *memoryEvents {
	return &memoryEvents{nextID: 1, rows: make(map[int64]*models.CalendarEvent)}
}

func (m *memoryEvents) copyOf(e *models.CalendarEvent) *models.CalendarEvent {
	c := *e
	c.AssignedTo = append([]int64(nil), e.AssignedTo...)
	return &c
}

func (m *memoryEvents) Get(ctx context.Context, id int64) (*models.CalendarEvent, error) {
	e, ok := m.rows[id]
	if !ok {
		return nil, apperrors.NotFound("calendar event", id)
	}
	return m.copyOf(e), nil
}

func (m *memoryEvents) GetForUpdate(ctx context.Context, id int64) (*models.CalendarEvent, error) {
	return m.Get(ctx, id)
}

func (m *memoryEvents) Create(ctx context.Context, e *models.CalendarEvent) error {
	e.ID = m.nextID
	m.nextID++
	m.rows[e.ID] = m.copyOf(e)
	return nil
}

func (m *memoryEvents) BulkCreate(ctx context.Context, events []*models.CalendarEvent) error {
	for _, e := range events {
		if err := m.Create(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (m *memoryEvents) Update(ctx context.Context, e *models.CalendarEvent) error {
	if _, ok := m.rows[e.ID]; !ok {
		return apperrors.NotFound("calendar event", e.ID)
	}
	m.rows[e.ID] = m.copyOf(e)
	return nil
}

func (m *memoryEvents) children(parentID int64) []*models.CalendarEvent {
	var out []*models.CalendarEvent
	for _, e := range m.rows {
		if e.ParentEventID != nil && *e.ParentEventID == parentID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func (m *memoryEvents) ShiftChildren(ctx context.Context, parentID int64, shift time.Duration, fields map[string]interface{}) (int64, error) {
	m.shifts = append(m.shifts, shift)
	kids := m.children(parentID)
	for _, c := range kids {
		c.Start = c.Start.Add(shift)
		c.End = c.End.Add(shift)
		if v, ok := fields["title"]; ok {
			c.Title = v.(string)
		}
		if v, ok := fields["location"]; ok {
			c.Location = v.(string)
		}
		if v, ok := fields["agent"]; ok {
			c.AgentID = v.(*int64)
		}
	}
	return int64(len(kids)), nil
}

func (m *memoryEvents) SetChildrenAssignees(ctx context.Context, parentID int64, userIDs []int64) error {
	for _, c := range m.children(parentID) {
		c.AssignedTo = append([]int64(nil), userIDs...)
	}
	return nil
}

func (m *memoryEvents) SetAssignees(ctx context.Context, eventID int64, userIDs []int64) ([]int64, error) {
	e, ok := m.rows[eventID]
	if !ok {
		return nil, apperrors.NotFound("calendar event", eventID)
	}
	have := make(map[int64]bool)
	for _, id := range e.AssignedTo {
		have[id] = true
	}
	var added []int64
	for _, id := range userIDs {
		if !have[id] {
			added = append(added, id)
		}
	}
	e.AssignedTo = append([]int64(nil), userIDs...)
	return added, nil
}

func (m *memoryEvents) AddAssignees(ctx context.Context, eventID int64, userIDs []int64) ([]int64, error) {
	e, ok := m.rows[eventID]
	if !ok {
		return nil, apperrors.NotFound("calendar event", eventID)
	}
	have := make(map[int64]bool)
	for _, id := range e.AssignedTo {
		have[id] = true
	}
	var added []int64
	for _, id := range userIDs {
		if !have[id] {
			have[id] = true
			added = append(added, id)
			e.AssignedTo = append(e.AssignedTo, id)
		}
	}
	return added, nil
}

func (m *memoryEvents) Delete(ctx context.Context, id int64) error {
	if _, ok := m.rows[id]; !ok {
		return apperrors.NotFound("calendar event", id)
	}
	delete(m.rows, id)
	for _, c := range m.children(id) {
		delete(m.rows, c.ID)
	}
	return nil
}

type directTx struct{ calls int }

func (d *directTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	d.calls++
	return fn(ctx)
}

type recordingBus struct{ published []signals.Signal }

func (b *recordingBus) Publish(ctx context.Context, sig signals.Signal) {
	b.published = append(b.published, sig)
}

func (b *recordingBus) topics() []signals.Topic {
	out := make([]signals.Topic, 0, len(b.published))
	for _, s := range b.published {
		out = append(out, s.Topic())
	}
	return out
}
