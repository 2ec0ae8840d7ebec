package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ptbhub/pkg/models"
)

const reminderBatch = 200

// ReminderStore claims reminders that are due
type ReminderStore interface {
	ClaimDueReminders(ctx context.Context, now time.Time, limit int) ([]*models.TaskReminder, error)
}

// EventLookup loads the event a reminder points at
type EventLookup interface {
	Get(ctx context.Context, id int64) (*models.CalendarEvent, error)
}

// ReminderNotifier sends reminder notifications under the reminder policy
type ReminderNotifier interface {
	EventReminder(ctx context.Context, event *models.CalendarEvent, userIDs []int64) ([]*models.Notification, error)
}

// TxRunner runs fn in one transaction
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Reminders are the collaborators of the reminder sweep
type Reminders struct {
	Tx       TxRunner
	Store    ReminderStore
	Events   EventLookup
	Notifier ReminderNotifier
}

// SchedulerOption configures a Scheduler
type SchedulerOption func(*Scheduler)

// WithReminders enables the reminder sweep
func WithReminders(r *Reminders) SchedulerOption {
	return func(s *Scheduler) { s.reminders = r }
}

// SweepReminders claims due reminders and notifies their users, one
// notification batch per event. Claims roll back when any send fails so the
// next sweep retries them.
func (s *Scheduler) SweepReminders(ctx context.Context) error {
	if s.reminders == nil {
		return nil
	}
	r := s.reminders
	var sent int
	err := r.Tx.WithTx(ctx, func(ctx context.Context) error {
		due, err := r.Store.ClaimDueReminders(ctx, s.clock.Now(), reminderBatch)
		if err != nil {
			return err
		}

		var order []int64
		users := map[int64][]int64{}
		for _, rem := range due {
			if _, ok := users[rem.TaskID]; !ok {
				order = append(order, rem.TaskID)
			}
			users[rem.TaskID] = append(users[rem.TaskID], rem.UserID)
		}

		for _, taskID := range order {
			event, err := r.Events.Get(ctx, taskID)
			if err != nil {
				return err
			}
			created, err := r.Notifier.EventReminder(ctx, event, users[taskID])
			if err != nil {
				return err
			}
			sent += len(created)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if sent > 0 {
		s.logger.WithFields(logrus.Fields{"notifications": sent}).Info("sent event reminders")
	}
	return nil
}
