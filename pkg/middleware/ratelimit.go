package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/platinummonkey/ptbhub/pkg/auth"
	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/httputil"
	"github.com/platinummonkey/ptbhub/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// LoginRateLimitConfig is the anonymous login limit: perMinute per IP, no burst
func LoginRateLimitConfig(perMinute int) *RateLimitConfig {
	if perMinute <= 0 {
		perMinute = 10
	}
	return &RateLimitConfig{
		RequestsPerWindow: perMinute,
		WindowDuration:    time.Minute,
	}
}

// AnonRateLimitConfig is the global throttle for unauthenticated callers
func AnonRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// UserRateLimitConfig is the global throttle for authenticated users
func UserRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 1000,
		WindowDuration:    time.Minute,
		BurstSize:         50,
	}
}

func (c *RateLimitConfig) capacity() int {
	return c.RequestsPerWindow + c.BurstSize
}

// Limiter decides whether the caller identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Config() *RateLimitConfig
}

// RateLimiter is an in-memory token bucket limiter
type RateLimiter struct {
	config  *RateLimitConfig
	clock   clock.Clock
	buckets map[string]*bucket
	mu      sync.RWMutex
}

type bucket struct {
	tokens     int
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter; clk may be nil
func NewRateLimiter(config *RateLimitConfig, clk clock.Clock) *RateLimiter {
	if config == nil {
		config = AnonRateLimitConfig()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &RateLimiter{
		config:  config,
		clock:   clk,
		buckets: make(map[string]*bucket),
	}
}

// Config implements Limiter
func (rl *RateLimiter) Config() *RateLimitConfig {
	return rl.config
}

// Allow implements Limiter; the in-memory limiter never errors
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	return rl.take(key), nil
}

func (rl *RateLimiter) take(key string) bool {
	now := rl.clock.Now()

	rl.mu.Lock()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{tokens: rl.config.capacity(), lastUpdate: now}
		rl.buckets[key] = b
	}
	rl.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastUpdate)
	refill := int(elapsed.Seconds() * float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds())
	if refill > 0 {
		b.tokens += refill
		if b.tokens > rl.config.capacity() {
			b.tokens = rl.config.capacity()
		}
		b.lastUpdate = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Remaining returns the number of remaining tokens for a key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()

	if !exists {
		return rl.config.capacity()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Cleanup removes buckets idle for two windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastUpdate) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// StartCleanup runs Cleanup once per window until ctx is done
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// KeyFunc derives the limiter key of a request
type KeyFunc func(r *http.Request) string

// IPKey keys by client IP
func IPKey(r *http.Request) string {
	return "ip:" + httputil.ClientIP(r)
}

// PrincipalKey keys by user id, falling back to the client IP
func PrincipalKey(r *http.Request) string {
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return fmt.Sprintf("user:%d", p.ID())
	}
	return IPKey(r)
}

// RateLimit rejects requests once limiter denies their key
func RateLimit(limiter Limiter, keyFn KeyFunc, logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.WithError(err).WithField("key", key).Warn("rate limiter backend error")
			}
			cfg := limiter.Config()
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.RequestsPerWindow))
			if !allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%.0f", cfg.WindowDuration.Seconds()))
				httputil.WriteTooManyRequests(w, "Request was throttled.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Throttle is the optional global API limiter. Authenticated callers get the
// per-user budget; anonymous callers the per-IP budget.
type Throttle struct {
	user   Limiter
	anon   Limiter
	logger *observability.Logger
}

// NewThrottle creates the global limiter pair
func NewThrottle(user, anon Limiter, logger *observability.Logger) *Throttle {
	return &Throttle{user: user, anon: anon, logger: logger}
}

// Handler wraps next with the global throttle
func (t *Throttle) Handler(next http.Handler) http.Handler {
	userMW := RateLimit(t.user, PrincipalKey, t.logger)(next)
	anonMW := RateLimit(t.anon, IPKey, t.logger)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.PrincipalFrom(r.Context()); ok {
			userMW.ServeHTTP(w, r)
			return
		}
		anonMW.ServeHTTP(w, r)
	})
}
