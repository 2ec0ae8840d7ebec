package realtime

import (
	"time"

	"github.com/platinummonkey/ptbhub/pkg/clock"
)

const (
	defaultRateLimit  = 30
	defaultRateWindow = 10 * time.Second
)

// SlidingWindow admits at most limit events in any window-long interval. It
// is owned by a single connection's read loop and is not safe for concurrent
// use.
type SlidingWindow struct {
	limit  int
	window time.Duration
	clock  clock.Clock
	times  []time.Time
}

// NewSlidingWindow creates a limiter; clk may be nil
func NewSlidingWindow(limit int, window time.Duration, clk clock.Clock) *SlidingWindow {
	if clk == nil {
		clk = clock.New()
	}
	return &SlidingWindow{
		limit:  limit,
		window: window,
		clock:  clk,
		times:  make([]time.Time, 0, limit),
	}
}

// Allow records an event and reports whether it is within the limit.
// Rejected events are not recorded.
func (s *SlidingWindow) Allow() bool {
	now := s.clock.Now()
	cutoff := now.Add(-s.window)

	drop := 0
	for drop < len(s.times) && !s.times[drop].After(cutoff) {
		drop++
	}
	if drop > 0 {
		s.times = append(s.times[:0], s.times[drop:]...)
	}

	if len(s.times) >= s.limit {
		return false
	}
	s.times = append(s.times, now)
	return true
}

// Len returns the number of events currently inside the window
func (s *SlidingWindow) Len() int {
	return len(s.times)
}
