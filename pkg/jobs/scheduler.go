package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/config"
	"github.com/platinummonkey/ptbhub/pkg/models"
)

// SessionSweeper deactivates sessions whose tokens can no longer refresh
type SessionSweeper interface {
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// PresenceSweeper deletes presence rows last seen before cutoff
type PresenceSweeper interface {
	Sweep(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler registers the periodic maintenance entries
type Scheduler struct {
	cron     *cron.Cron
	cfg      config.JobsConfig
	runner   *Runner
	sessions SessionSweeper
	presence PresenceSweeper
	clock    clock.Clock
	location *time.Location
	logger   *logrus.Entry

	reminders *Reminders
}

// NewScheduler creates a scheduler evaluating cron specs in loc
func NewScheduler(cfg config.JobsConfig, runner *Runner, sessions SessionSweeper, presence PresenceSweeper, clk clock.Clock, loc *time.Location, logger *logrus.Entry, opts ...SchedulerOption) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		cfg:      cfg,
		runner:   runner,
		sessions: sessions,
		presence: presence,
		clock:    clk,
		location: loc,
		logger:   logger.WithField("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds every entry whose spec is non-empty
func (s *Scheduler) Register() error {
	entries := []struct {
		name string
		spec string
		fn   func(context.Context) error
	}{
		{"daily-excel", s.cfg.DailySchedule, func(ctx context.Context) error { return s.RunExport(ctx, KindDaily, s.yesterday()) }},
		{"monthly-excel", s.cfg.MonthlySchedule, func(ctx context.Context) error { return s.RunExport(ctx, KindMonthly, s.yesterday()) }},
		{"session-sweep", s.cfg.SessionSweepSchedule, s.SweepSessions},
		{"presence-sweep", s.cfg.PresenceSweepSchedule, s.SweepPresence},
	}
	if s.reminders != nil {
		entries = append(entries, struct {
			name string
			spec string
			fn   func(context.Context) error
		}{"reminder-sweep", s.cfg.ReminderSweepSchedule, s.SweepReminders})
	}
	for _, e := range entries {
		if e.spec == "" {
			continue
		}
		e := e
		if _, err := s.cron.AddFunc(e.spec, func() { s.run(e.name, e.fn) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", e.name, e.spec, err)
		}
		s.logger.WithFields(logrus.Fields{"entry": e.name, "spec": e.spec}).Info("scheduled")
	}
	return nil
}

// Start runs the cron loop in the background
func (s *Scheduler) Start() { s.cron.Start() }

// Stop waits for running entries to finish
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

func (s *Scheduler) run(name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout())
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{"entry": name, "panic": r}).Error("scheduled entry panicked")
		}
	}()
	if err := fn(ctx); err != nil {
		s.logger.WithError(err).WithField("entry", name).Error("scheduled entry failed")
	}
}

func (s *Scheduler) jobTimeout() time.Duration {
	if s.cfg.JobTimeout > 0 {
		return s.cfg.JobTimeout
	}
	return 10 * time.Minute
}

func (s *Scheduler) yesterday() time.Time {
	return s.clock.Now().In(s.location).AddDate(0, 0, -1)
}

// RunExport renders the workbooks of kind for date synchronously
func (s *Scheduler) RunExport(ctx context.Context, kind Kind, date time.Time) error {
	return s.runner.Run(ctx, NewJob(kind, date, s.clock.Now()))
}

// SweepSessions deactivates expired sessions
func (s *Scheduler) SweepSessions(ctx context.Context) error {
	n, err := s.sessions.ExpireStale(ctx, s.clock.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.WithField("sessions", n).Info("expired stale sessions")
	}
	return nil
}

// SweepPresence removes viewers that stopped sending heartbeats
func (s *Scheduler) SweepPresence(ctx context.Context) error {
	n, err := s.presence.Sweep(ctx, s.clock.Now().Add(-models.PresenceTTL))
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.WithField("viewers", n).Info("swept stale board presence")
	}
	return nil
}
