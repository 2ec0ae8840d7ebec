package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/auth"
	"github.com/platinummonkey/ptbhub/pkg/models"
)

func testPrincipal(id int64, first, last string) auth.Principal {
	return auth.NewPrincipal(&models.User{
		ID:        id,
		Username:  "user" + first,
		FirstName: first,
		LastName:  last,
		Role:      models.RoleUser,
		IsActive:  true,
	}, auth.SourceLocal)
}

type nopConn struct{}

func (nopConn) WriteMessage(int, []byte) error   { return nil }
func (nopConn) SetWriteDeadline(time.Time) error { return nil }
func (nopConn) Close() error                     { return nil }

func newTestSession(hub *Hub, p auth.Principal, vars map[string]string) *Session {
	return &Session{
		Principal: p,
		Vars:      vars,
		client:    newClient(nopConn{}, 64, 0, 0, nil),
		hub:       hub,
		groups:    map[string]struct{}{},
		values:    map[string]interface{}{},
	}
}

func nextFrame(t *testing.T, s *Session) Frame {
	t.Helper()
	select {
	case o := <-s.client.send:
		var f Frame
		require.NoError(t, json.Unmarshal(o.data, &f))
		return f
	default:
		t.Fatal("expected a queued frame")
		return nil
	}
}

func assertNoFrame(t *testing.T, s *Session) {
	t.Helper()
	select {
	case o := <-s.client.send:
		t.Fatalf("unexpected frame %s", o.data)
	default:
	}
}

func msgOf(t *testing.T, v map[string]interface{}) Message {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	m, err := parseMessage(raw)
	require.NoError(t, err)
	return m
}

type presenceKey struct {
	user    int64
	channel string
}

type fakePresence struct {
	mu      sync.Mutex
	rows    map[presenceKey]*models.BoardPresence
	removed []presenceKey
}

func newFakePresence() *fakePresence {
	return &fakePresence{rows: map[presenceKey]*models.BoardPresence{}}
}

func (f *fakePresence) Upsert(ctx context.Context, p *models.BoardPresence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.rows[presenceKey{p.UserID, p.Channel}] = &cp
	return nil
}

func (f *fakePresence) Remove(ctx context.Context, userID int64, channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := presenceKey{userID, channel}
	delete(f.rows, k)
	f.removed = append(f.removed, k)
	return nil
}

func (f *fakePresence) ListLive(ctx context.Context, cutoff time.Time) ([]*models.BoardPresence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.BoardPresence
	for _, p := range f.rows {
		if p.LastSeen.After(cutoff) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeTasks map[int64]bool

func (f fakeTasks) Exists(ctx context.Context, id int64, t models.EventType) (bool, error) {
	return t == models.EventTask && f[id], nil
}

type fakeComments map[int64]*models.TaskComment

func (f fakeComments) GetComment(ctx context.Context, id int64) (*models.TaskComment, error) {
	if c, ok := f[id]; ok {
		return c, nil
	}
	return nil, apperrors.NotFound("comment", id)
}

type fakeNotifications struct {
	items map[int64][]*models.Notification
}

func (f *fakeNotifications) List(ctx context.Context, recipientID int64, includeArchived bool, limit, offset int) ([]*models.Notification, int, error) {
	items := f.items[recipientID]
	if len(items) > limit {
		items = items[:limit]
	}
	return items, len(f.items[recipientID]), nil
}

func (f *fakeNotifications) UnreadCount(ctx context.Context, recipientID int64) (int, error) {
	n := 0
	for _, it := range f.items[recipientID] {
		if !it.IsRead {
			n++
		}
	}
	return n, nil
}

func (f *fakeNotifications) MarkRead(ctx context.Context, recipientID, id int64) error {
	for _, it := range f.items[recipientID] {
		if it.ID == id {
			it.IsRead = true
			return nil
		}
	}
	return apperrors.NotFound("notification", id)
}

func (f *fakeNotifications) MarkAllRead(ctx context.Context, recipientID int64) (int64, error) {
	var n int64
	for _, it := range f.items[recipientID] {
		if !it.IsRead {
			it.IsRead = true
			n++
		}
	}
	return n, nil
}

type fakeAuthenticator map[string]auth.Principal

func (f fakeAuthenticator) Authenticate(ctx context.Context, cred auth.Credentials) (*auth.Result, error) {
	if p, ok := f[cred.Token]; ok {
		return &auth.Result{Principal: p, Token: cred.Token}, nil
	}
	return nil, apperrors.Authentication(apperrors.CodeAuthFailed, "Invalid token.")
}
