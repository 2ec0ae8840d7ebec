// Package jobs runs Excel regeneration in the background. Jobs go to a
// Redis list when one is reachable and to a small in-process pool otherwise;
// both paths execute the same Runner.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ptbhub/pkg/excel"
	"github.com/platinummonkey/ptbhub/pkg/observability"
	"github.com/platinummonkey/ptbhub/pkg/overtime"
)

// Kind names what a job regenerates
type Kind string

const (
	// KindRegenerate rebuilds the daily and monthly workbooks of a date
	KindRegenerate Kind = "excel.regenerate"
	KindDaily      Kind = "excel.daily"
	KindMonthly    Kind = "excel.monthly"
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	switch k {
	case KindRegenerate, KindDaily, KindMonthly:
		return true
	}
	return false
}

// Job is the queued unit of work
type Job struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Date       string    `json:"date"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewJob creates a job for the calendar day of date
func NewJob(kind Kind, date time.Time, now time.Time) *Job {
	return &Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		Date:       overtime.DateOnly(date).Format("2006-01-02"),
		EnqueuedAt: now.UTC(),
	}
}

// Exporter is the slice of excel.Exporter a job needs
type Exporter interface {
	ExportDaily(ctx context.Context, date time.Time) (*excel.Result, error)
	ExportMonthly(ctx context.Context, date time.Time) (*excel.Result, error)
}

// Runner executes jobs
type Runner struct {
	exporter Exporter
	metrics  *observability.Metrics
	logger   *logrus.Entry
}

// NewRunner creates a runner
func NewRunner(exporter Exporter, metrics *observability.Metrics, logger *logrus.Entry) *Runner {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Runner{exporter: exporter, metrics: metrics, logger: logger.WithField("component", "jobs")}
}

// Run executes j. An upload failure is logged but does not fail the job;
// the files are rebuilt on the next run.
func (r *Runner) Run(ctx context.Context, j *Job) error {
	log := r.logger.WithFields(logrus.Fields{"job_id": j.ID, "kind": string(j.Kind), "date": j.Date})
	start := time.Now()
	err := r.run(ctx, j, log)

	status := "success"
	if err != nil {
		status = "failure"
		log.WithError(err).Error("job failed")
	} else {
		log.WithField("elapsed", time.Since(start).String()).Info("job finished")
	}
	r.metrics.JobsProcessedTotal.WithLabelValues(string(j.Kind), status).Inc()
	r.metrics.JobDuration.WithLabelValues(string(j.Kind)).Observe(time.Since(start).Seconds())
	return err
}

func (r *Runner) run(ctx context.Context, j *Job, log *logrus.Entry) error {
	date, err := overtime.ParseDate(j.Date)
	if err != nil {
		return fmt.Errorf("job %s: %w", j.ID, err)
	}

	var exports []func(context.Context, time.Time) (*excel.Result, error)
	switch j.Kind {
	case KindRegenerate:
		exports = append(exports, r.exporter.ExportDaily, r.exporter.ExportMonthly)
	case KindDaily:
		exports = append(exports, r.exporter.ExportDaily)
	case KindMonthly:
		exports = append(exports, r.exporter.ExportMonthly)
	default:
		return fmt.Errorf("job %s: unknown kind %q", j.ID, j.Kind)
	}

	for _, export := range exports {
		res, err := export(ctx, date)
		if err != nil {
			return err
		}
		if !res.Uploaded && res.UploadErr != "" {
			log.WithField("export", string(res.Kind)).WithField("upload_error", res.UploadErr).Warn("workbooks rendered but not uploaded")
		}
	}
	return nil
}
