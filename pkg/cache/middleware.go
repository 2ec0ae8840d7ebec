package cache

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// UserIDFunc extracts the caller id for user-scoped list keys; 0 means shared
type UserIDFunc func(r *http.Request) int64

type cachedResponse struct {
	ContentType string          `json:"content_type"`
	Body        json.RawMessage `json:"body"`
}

type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (w *captureWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

// ListCache serves GET responses for view from the cache. On a miss the
// handler runs and a 200 JSON body is stored under the view's TTL. Cache
// errors fall through to the handler.
func (c *Cache) ListCache(view string, userID UserIDFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			var uid int64
			if userID != nil {
				uid = userID(r)
			}
			key := Key(PrefixList, view, uid, map[string][]string(r.URL.Query()))

			if data, ok := c.Get(r.Context(), view, key); ok {
				var cached cachedResponse
				if err := json.Unmarshal(data, &cached); err == nil {
					w.Header().Set("Content-Type", cached.ContentType)
					w.Header().Set("X-Cache", "HIT")
					w.WriteHeader(http.StatusOK)
					_, _ = w.Write(cached.Body)
					return
				}
			}

			cw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			w.Header().Set("X-Cache", "MISS")
			next.ServeHTTP(cw, r)

			if cw.status != http.StatusOK || !json.Valid(cw.buf.Bytes()) {
				return
			}
			c.SetJSON(r.Context(), view, key, cachedResponse{
				ContentType: w.Header().Get("Content-Type"),
				Body:        json.RawMessage(cw.buf.Bytes()),
			})
		})
	}
}

// Invalidate wraps a mutating handler and drops the listed views after it runs
func (c *Cache) Invalidate(views ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			c.InvalidateViews(r.Context(), views...)
		})
	}
}
