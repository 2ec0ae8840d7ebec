package overtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/platinummonkey/ptbhub/pkg/clock"
)

// LockTTL bounds how long a submission lock is held
const LockTTL = 30 * time.Second

// Locker serializes concurrent submissions of the same request
type Locker interface {
	// TryLock acquires key for ttl. ok is false when another holder has it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// lockKey is keyed on the request id for edits and on the unique tuple for
// new requests
func lockKey(id, employeeID, projectID int64, date time.Time) string {
	if id != 0 {
		return fmt.Sprintf("lock:overtime:id:%d", id)
	}
	return fmt.Sprintf("lock:overtime:%d:%d:%s", employeeID, projectID, date.Format(dateLayout))
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker holds locks as SET NX keys with a random token so only the
// holder can release them
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker creates a Redis backed locker
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "ptbhub"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

// TryLock implements Locker
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	full := l.prefix + ":" + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil || !ok {
		return func() {}, false, err
	}
	return func() {
		_ = releaseScript.Run(context.Background(), l.client, []string{full}, token).Err()
	}, true, nil
}

// MemoryLocker is the single-process locker used without Redis
type MemoryLocker struct {
	mu    sync.Mutex
	clock clock.Clock
	held  map[string]time.Time
}

// NewMemoryLocker creates an in-process locker
func NewMemoryLocker(clk clock.Clock) *MemoryLocker {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryLocker{clock: clk, held: make(map[string]time.Time)}
}

// TryLock implements Locker
func (l *MemoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return func() {}, false, nil
	}
	until := now.Add(ttl)
	l.held[key] = until
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key].Equal(until) {
			delete(l.held, key)
		}
	}, true, nil
}
