package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/ptbhub/pkg/auth"
	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/models"
)

// PresenceStore persists presence rows
type PresenceStore interface {
	Upsert(ctx context.Context, p *models.BoardPresence) error
	Remove(ctx context.Context, userID int64, channel string) error
	ListLive(ctx context.Context, cutoff time.Time) ([]*models.BoardPresence, error)
}

type presenceConn struct {
	userID  int64
	channel string
}

// Presence tracks who is looking at a channel. Rows are per user, so the
// tracker counts local connections and keeps the row until the last one
// leaves.
type Presence struct {
	store PresenceStore
	clock clock.Clock

	mu    sync.Mutex
	conns map[presenceConn]int
}

// NewPresence creates a tracker
func NewPresence(store PresenceStore, clk clock.Clock) *Presence {
	if clk == nil {
		clk = clock.New()
	}
	return &Presence{store: store, clock: clk, conns: make(map[presenceConn]int)}
}

// Join records a new connection for p on channel and marks p as seen
func (t *Presence) Join(ctx context.Context, p auth.Principal, channel string) error {
	if err := t.Touch(ctx, p, channel, nil); err != nil {
		return err
	}
	t.mu.Lock()
	t.conns[presenceConn{p.ID(), channel}]++
	t.mu.Unlock()
	return nil
}

// Touch marks p as seen on channel now
func (t *Presence) Touch(ctx context.Context, p auth.Principal, channel string, editing *int64) error {
	return t.store.Upsert(ctx, &models.BoardPresence{
		UserID:        p.ID(),
		DisplayName:   p.DisplayName(),
		EditingTaskID: editing,
		LastSeen:      t.clock.Now().UTC(),
		Channel:       channel,
	})
}

// Leave releases one connection of p on channel. The row is removed only
// when it was the last one; last reports whether that happened.
func (t *Presence) Leave(ctx context.Context, p auth.Principal, channel string) (last bool, err error) {
	key := presenceConn{p.ID(), channel}
	t.mu.Lock()
	if n := t.conns[key]; n > 1 {
		t.conns[key] = n - 1
		t.mu.Unlock()
		return false, nil
	}
	delete(t.conns, key)
	t.mu.Unlock()
	return true, t.store.Remove(ctx, p.ID(), channel)
}

// Viewers lists live presence on channel
func (t *Presence) Viewers(ctx context.Context, channel string) ([]*models.BoardPresence, error) {
	rows, err := t.store.ListLive(ctx, t.clock.Now().Add(-models.PresenceTTL))
	if err != nil {
		return nil, err
	}
	out := make([]*models.BoardPresence, 0, len(rows))
	for _, p := range rows {
		if p.Channel == channel {
			out = append(out, p)
		}
	}
	return out, nil
}
