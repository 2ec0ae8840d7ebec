package cache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ptbhub/pkg/observability"
)

func newRedisCache(t *testing.T) (*Cache, *miniredis.Miniredis, *observability.Metrics) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	metrics := observability.NewNopMetrics()
	return New(NewRedisStore(client, ""), WithMetrics(metrics)), mr, metrics
}

func TestKey(t *testing.T) {
	assert.Equal(t, "list:employees", Key(PrefixList, ViewEmployees, 0, nil))
	assert.Equal(t, "obj:projects:user_7", Key(PrefixObject, ViewProjects, 7, nil))

	k := Key(PrefixList, ViewEmployees, 3, map[string][]string{"page": {"2"}, "search": {"ann"}})
	assert.Regexp(t, `^list:employees:user_3:[0-9a-f]{16}$`, k)

	// parameter order does not change the hash
	a := ParamsHash(map[string][]string{"a": {"1"}, "b": {"2"}})
	b := ParamsHash(map[string][]string{"b": {"2"}, "a": {"1"}})
	assert.Equal(t, a, b)
	assert.Empty(t, ParamsHash(map[string][]string{}))
}

func TestTTL(t *testing.T) {
	c := New(NewMemoryStore(10, time.Hour), WithTTL("custom_view", time.Minute))
	assert.Equal(t, 3600*time.Second, c.TTL(ViewEmployees))
	assert.Equal(t, 300*time.Second, c.TTL(ViewOvertimeRequests))
	assert.Equal(t, 600*time.Second, c.TTL(ViewCalendarEvents))
	assert.Equal(t, DefaultTTL, c.TTL("anything"))
	assert.Equal(t, time.Minute, c.TTL("custom_view"))
}

func TestRedis_SetGetAndExpiry(t *testing.T) {
	c, mr, metrics := newRedisCache(t)
	ctx := context.Background()

	var got map[string]int
	assert.False(t, c.GetJSON(ctx, ViewOvertimeRequests, "obj:overtime_requests", &got))

	c.SetJSON(ctx, ViewOvertimeRequests, "obj:overtime_requests", map[string]int{"n": 1})
	require.True(t, c.GetJSON(ctx, ViewOvertimeRequests, "obj:overtime_requests", &got))
	assert.Equal(t, 1, got["n"])
	assert.Equal(t, 300*time.Second, mr.TTL("obj:overtime_requests"))

	mr.FastForward(301 * time.Second)
	assert.False(t, c.GetJSON(ctx, ViewOvertimeRequests, "obj:overtime_requests", &got))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues(ViewOvertimeRequests)))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues(ViewOvertimeRequests)))
}

func TestRedis_InvalidateViewWildcard(t *testing.T) {
	c, mr, _ := newRedisCache(t)
	ctx := context.Background()

	for _, k := range []string{
		"list:employees",
		"list:employees:user_1:abcdef0123456789",
		"obj:employees:user_2",
		"custom:employees:summary",
		"list:projects",
	} {
		require.NoError(t, mr.Set(k, "{}"))
	}

	c.InvalidateView(ctx, ViewEmployees)

	assert.Equal(t, []string{"list:projects"}, mr.Keys())
}

func TestRedis_FailOpen(t *testing.T) {
	c, mr, metrics := newRedisCache(t)
	ctx := context.Background()
	mr.Close()

	var v interface{}
	assert.False(t, c.GetJSON(ctx, ViewEmployees, "list:employees", &v))
	c.SetJSON(ctx, ViewEmployees, "list:employees", 1)
	c.InvalidateView(ctx, ViewEmployees)

	assert.Greater(t, testutil.ToFloat64(metrics.CacheErrorsTotal.WithLabelValues("get")), float64(0))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(10, time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "list:employees:user_1", []byte("a"), time.Minute))
	require.NoError(t, s.Set(ctx, "list:projects", []byte("b"), 0))

	v, ok, err := s.Get(ctx, "list:employees:user_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("a"), v)

	now = now.Add(2 * time.Minute)
	_, ok, _ = s.Get(ctx, "list:employees:user_1")
	assert.False(t, ok)

	require.NoError(t, s.DeletePattern(ctx, "*list:projects*"))
	_, ok, _ = s.Get(ctx, "list:projects")
	assert.False(t, ok)
}

type basicStore struct {
	deleted []string
	err     error
}

func (s *basicStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, s.err }
func (s *basicStore) Set(context.Context, string, []byte, time.Duration) error {
	return s.err
}
func (s *basicStore) Delete(_ context.Context, keys ...string) error {
	s.deleted = append(s.deleted, keys...)
	return s.err
}

func TestInvalidateView_WithoutPatternSupport(t *testing.T) {
	store := &basicStore{}
	New(store).InvalidateView(context.Background(), ViewProjects)
	assert.Equal(t, []string{"list:projects", "obj:projects", "custom:projects"}, store.deleted)
}

func TestListCache(t *testing.T) {
	c, _, _ := newRedisCache(t)

	calls := 0
	status := http.StatusOK
	handler := c.ListCache(ViewEmployees, func(r *http.Request) int64 { return 9 })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"count":1}`))
		}))

	get := func(url string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
		return rec
	}

	rec := get("/api/v1/employees/?page=1")
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	rec = get("/api/v1/employees/?page=1")
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"count":1}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, 1, calls)

	// different params miss
	get("/api/v1/employees/?page=2")
	assert.Equal(t, 2, calls)

	// non-200 is never cached
	status = http.StatusBadRequest
	get("/api/v1/employees/?page=3")
	get("/api/v1/employees/?page=3")
	assert.Equal(t, 4, calls)
}

func TestListCache_FailOpen(t *testing.T) {
	c := New(&basicStore{err: errors.New("down")})
	calls := 0
	handler := c.ListCache(ViewProjects, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`[]`))
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/projects/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 2, calls)
}

func TestInvalidateMiddleware(t *testing.T) {
	c, mr, _ := newRedisCache(t)
	require.NoError(t, mr.Set("list:calendar_events:abc", "{}"))
	require.NoError(t, mr.Set("list:employees", "{}"))

	handler := c.Invalidate(ViewCalendarEvents)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/calendar-events/", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"list:employees"}, mr.Keys())
}
