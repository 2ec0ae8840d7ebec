package recurrence

import (
	"context"
	"time"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/observability"
	"github.com/platinummonkey/ptbhub/pkg/signals"
)

// EventStore is the persistence the service needs
type EventStore interface {
	Get(ctx context.Context, id int64) (*models.CalendarEvent, error)
	GetForUpdate(ctx context.Context, id int64) (*models.CalendarEvent, error)
	Create(ctx context.Context, e *models.CalendarEvent) error
	BulkCreate(ctx context.Context, events []*models.CalendarEvent) error
	Update(ctx context.Context, e *models.CalendarEvent) error
	ShiftChildren(ctx context.Context, parentID int64, shift time.Duration, fields map[string]interface{}) (int64, error)
	SetChildrenAssignees(ctx context.Context, parentID int64, userIDs []int64) error
	SetAssignees(ctx context.Context, eventID int64, userIDs []int64) ([]int64, error)
	AddAssignees(ctx context.Context, eventID int64, userIDs []int64) ([]int64, error)
	Delete(ctx context.Context, id int64) error
}

// TxRunner scopes a unit of work to one transaction
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Publisher publishes signals after commit
type Publisher interface {
	Publish(ctx context.Context, sig signals.Signal)
}

// Service creates, edits and deletes calendar events, keeping recurring
// children in step with their parent
type Service struct {
	tx     TxRunner
	events EventStore
	bus    Publisher
	logger *observability.Logger
}

// NewService creates a calendar event service
func NewService(tx TxRunner, events EventStore, bus Publisher, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{tx: tx, events: events, bus: bus, logger: logger}
}

// Create saves e and, for a repeating event, materializes its children
func (s *Service) Create(ctx context.Context, e *models.CalendarEvent, actor signals.Actor) error {
	if err := Validate(e); err != nil {
		return err
	}

	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.events.Create(ctx, e); err != nil {
			return err
		}
		n, err := s.materialize(ctx, e)
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.WithFields(map[string]interface{}{
				"event_id":  e.ID,
				"frequency": string(e.RepeatFrequency),
				"children":  n,
			}).Info("materialized recurring event")
		}

		s.bus.Publish(ctx, signals.EventSaved{Event: e, Created: true, Actor: actor})
		if len(e.AssignedTo) > 0 {
			s.bus.Publish(ctx, signals.AssigneesAdded{Event: e, Added: e.AssignedTo, Actor: actor})
		}
		return nil
	})
}

func (s *Service) materialize(ctx context.Context, parent *models.CalendarEvent) (int, error) {
	children, err := Expand(parent)
	if err != nil || len(children) == 0 {
		return 0, err
	}
	if err := s.events.BulkCreate(ctx, children); err != nil {
		return 0, err
	}
	return len(children), nil
}

// Update applies patch to event id. Edits of a recurring parent shift every
// child by the parent's start delta and copy the propagated fields.
func (s *Service) Update(ctx context.Context, id int64, patch *Patch, actor signals.Actor) (*models.CalendarEvent, error) {
	var updated *models.CalendarEvent
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		old, err := s.events.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		next := *old
		patch.Apply(&next)
		if err := Validate(&next); err != nil {
			return err
		}
		if old.IsRepeating && next.RepeatFrequency != old.RepeatFrequency {
			return apperrors.FieldError("repeat_frequency", "The frequency of an existing series cannot change.")
		}
		if old.IsRepeating && !next.IsRepeating {
			return apperrors.FieldError("is_repeating", "Delete the series instead of turning off repetition.")
		}

		if err := s.events.Update(ctx, &next); err != nil {
			return err
		}

		var added []int64
		if patch.AssignedTo.Set {
			if added, err = s.events.SetAssignees(ctx, id, next.AssignedTo); err != nil {
				return err
			}
		}

		switch {
		case old.IsRepeating && !old.IsChild():
			if err := s.propagate(ctx, old, &next, patch); err != nil {
				return err
			}
		case next.IsRepeating && !next.IsChild():
			if _, err := s.materialize(ctx, &next); err != nil {
				return err
			}
		}

		s.bus.Publish(ctx, signals.EventSaved{Event: &next, Actor: actor})
		if len(added) > 0 {
			s.bus.Publish(ctx, signals.AssigneesAdded{Event: &next, Added: added, Actor: actor})
		}
		updated = &next
		return nil
	})
	return updated, err
}

func (s *Service) propagate(ctx context.Context, old, next *models.CalendarEvent, patch *Patch) error {
	shift := next.Start.Sub(old.Start)
	fields := patch.Propagated()
	if shift != 0 || len(fields) > 0 {
		n, err := s.events.ShiftChildren(ctx, old.ID, shift, fields)
		if err != nil {
			return err
		}
		s.logger.WithFields(map[string]interface{}{
			"event_id": old.ID,
			"shift":    shift.String(),
			"children": n,
		}).Debug("propagated parent edit")
	}
	if patch.AssignedTo.Set {
		return s.events.SetChildrenAssignees(ctx, old.ID, next.AssignedTo)
	}
	return nil
}

// Assign adds users to an event's assigned-to set and returns those that
// were not assigned before
func (s *Service) Assign(ctx context.Context, id int64, userIDs []int64, actor signals.Actor) ([]int64, error) {
	var added []int64
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		e, err := s.events.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if added, err = s.events.AddAssignees(ctx, id, userIDs); err != nil {
			return err
		}
		if len(added) == 0 {
			return nil
		}
		e.AssignedTo = append(e.AssignedTo, added...)
		s.bus.Publish(ctx, signals.AssigneesAdded{Event: e, Added: added, Actor: actor})
		return nil
	})
	return added, err
}

// Delete removes an event. Deleting a parent removes its children.
func (s *Service) Delete(ctx context.Context, id int64, actor signals.Actor) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		e, err := s.events.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := s.events.Delete(ctx, id); err != nil {
			return err
		}
		s.bus.Publish(ctx, signals.EventDeleted{Event: e, Actor: actor})
		return nil
	})
}
