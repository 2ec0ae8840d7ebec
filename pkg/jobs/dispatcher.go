package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ptbhub/pkg/async"
	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/observability"
)

// Executor labels
const (
	ExecutorRedis     = "redis"
	ExecutorInProcess = "inprocess"
)

// Dispatcher hands jobs to the Redis queue, or to the fallback pool when
// the queue is missing or refuses the push
type Dispatcher struct {
	queue   *Queue
	pool    *async.WorkerPool
	runner  *Runner
	clock   clock.Clock
	metrics *observability.Metrics
	logger  *logrus.Entry
}

// NewDispatcher creates a dispatcher. queue may be nil.
func NewDispatcher(queue *Queue, pool *async.WorkerPool, runner *Runner, clk clock.Clock, metrics *observability.Metrics, logger *logrus.Entry) *Dispatcher {
	if clk == nil {
		clk = clock.New()
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		queue:   queue,
		pool:    pool,
		runner:  runner,
		clock:   clk,
		metrics: metrics,
		logger:  logger.WithField("component", "jobs-dispatcher"),
	}
}

// EnqueueRegeneration queues a rebuild of the daily and monthly workbooks
// of date. Callers run it after the triggering write has committed.
func (d *Dispatcher) EnqueueRegeneration(ctx context.Context, date time.Time) error {
	return d.Enqueue(ctx, NewJob(KindRegenerate, date, d.clock.Now()))
}

// Enqueue submits j
func (d *Dispatcher) Enqueue(ctx context.Context, j *Job) error {
	log := d.logger.WithFields(logrus.Fields{"job_id": j.ID, "kind": string(j.Kind), "date": j.Date})

	if d.queue != nil {
		err := d.queue.Push(ctx, j)
		if err == nil {
			d.metrics.JobsEnqueuedTotal.WithLabelValues(string(j.Kind), ExecutorRedis).Inc()
			log.Debug("job queued")
			return nil
		}
		log.WithError(err).Warn("job queue unavailable, running in process")
	}

	err := d.pool.Submit(ctx, "job:"+string(j.Kind)+":"+j.Date, func(ctx context.Context) error {
		return d.runner.Run(ctx, j)
	})
	if err != nil {
		log.WithError(err).Error("job dropped")
		return err
	}
	d.metrics.JobsEnqueuedTotal.WithLabelValues(string(j.Kind), ExecutorInProcess).Inc()
	return nil
}
