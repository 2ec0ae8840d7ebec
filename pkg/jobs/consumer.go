package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ptbhub/pkg/clock"
)

// Consumer drains the Redis queue one job at a time
type Consumer struct {
	queue   *Queue
	runner  *Runner
	clock   clock.Clock
	timeout time.Duration
	logger  *logrus.Entry

	// PollTimeout bounds each BLPOP so shutdown is noticed
	PollTimeout time.Duration
	// ErrorBackoff is waited after a Redis failure
	ErrorBackoff time.Duration
}

// NewConsumer creates a consumer; each job runs under timeout
func NewConsumer(queue *Queue, runner *Runner, clk clock.Clock, timeout time.Duration, logger *logrus.Entry) *Consumer {
	if clk == nil {
		clk = clock.New()
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Consumer{
		queue:        queue,
		runner:       runner,
		clock:        clk,
		timeout:      timeout,
		logger:       logger.WithFields(logrus.Fields{"component": "jobs-consumer", "queue": queue.Name()}),
		PollTimeout:  5 * time.Second,
		ErrorBackoff: 5 * time.Second,
	}
}

// Run consumes until ctx is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("job consumer started")
	defer c.logger.Info("job consumer stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		j, err := c.queue.Pop(ctx, c.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.WithError(err).Warn("job queue read failed")
			if c.clock.Sleep(ctx, c.ErrorBackoff) != nil {
				return nil
			}
			continue
		}
		if j == nil {
			continue
		}
		c.handle(ctx, j)
	}
}

func (c *Consumer) handle(ctx context.Context, j *Job) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(logrus.Fields{"job_id": j.ID, "panic": r}).Error("job panicked")
		}
	}()
	if !j.Kind.Valid() {
		c.logger.WithFields(logrus.Fields{"job_id": j.ID, "kind": string(j.Kind)}).Warn("skipping unknown job")
		return
	}
	jctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_ = c.runner.Run(jctx, j)
}
