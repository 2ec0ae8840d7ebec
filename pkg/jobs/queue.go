package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Queue is a FIFO list in Redis
type Queue struct {
	client *redis.Client
	name   string
}

// NewQueue creates a queue on the list name
func NewQueue(client *redis.Client, name string) *Queue {
	if name == "" {
		name = "ptbhub:jobs"
	}
	return &Queue{client: client, name: name}
}

// Name returns the list key
func (q *Queue) Name() string { return q.name }

// Push appends j
func (q *Queue) Push(ctx context.Context, j *Job) error {
	payload, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.RPush(ctx, q.name, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Pop waits up to timeout for the next job. It returns nil, nil when the
// wait expires.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := q.client.BLPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop job: %w", err)
	}
	// BLPOP replies [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("pop job: unexpected reply %v", res)
	}
	var j Job
	if err := json.Unmarshal([]byte(res[1]), &j); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &j, nil
}

// Len returns the number of waiting jobs
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}
