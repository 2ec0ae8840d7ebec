package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/models"
)

type fakeUsers struct {
	mu       sync.Mutex
	byID     map[int64]*models.User
	hashes   map[string]string
	nextID   int64
	logins   map[int64]string
	synced   []int64
	updated  []*models.User
	upserted int
}

func newFakeUsers(users ...*models.User) *fakeUsers {
	f := &fakeUsers{byID: map[int64]*models.User{}, hashes: map[string]string{}, logins: map[int64]string{}, nextID: 100}
	for _, u := range users {
		f.byID[u.ID] = u
	}
	return f
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, apperrors.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetForUpdate(ctx context.Context, id int64) (*models.User, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeUsers) UpdateAccessControl(_ context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *u
	f.byID[u.ID] = &cp
	f.updated = append(f.updated, &cp)
	return nil
}

func (f *fakeUsers) UpsertExternal(_ context.Context, u *models.User, now time.Time) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted++
	for _, existing := range f.byID {
		if existing.ExternalID == u.ExternalID {
			existing.Username, existing.Email = u.Username, u.Email
			existing.FirstName, existing.LastName = u.FirstName, u.LastName
			existing.ProfileSyncedAt = &now
			cp := *existing
			return &cp, nil
		}
	}
	f.nextID++
	created := *u
	created.ID = f.nextID
	created.Role = models.RoleUser
	created.IsActive = true
	created.ProfileSyncedAt = &now
	f.byID[created.ID] = &created
	cp := created
	return &cp, nil
}

func (f *fakeUsers) MarkProfileSynced(_ context.Context, id int64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, id)
	return nil
}

func (f *fakeUsers) RecordLogin(_ context.Context, id int64, tokenHash string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins[id] = tokenHash
	return nil
}

func (f *fakeUsers) PasswordHash(_ context.Context, username string) (int64, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Username == username {
			return u.ID, f.hashes[username], nil
		}
	}
	return 0, "", apperrors.NotFound("user", username)
}

type fakeSessions struct {
	mu          sync.Mutex
	byID        map[int64]*models.Session
	nextID      int64
	touches     int
	deactivated []int64
}

func newFakeSessions(sessions ...*models.Session) *fakeSessions {
	f := &fakeSessions{byID: map[int64]*models.Session{}, nextID: 500}
	for _, s := range sessions {
		s.IsActive = true
		f.byID[s.ID] = s
	}
	return f
}

func (f *fakeSessions) find(match func(*models.Session) bool) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byID {
		if s.IsActive && match(s) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("session", "")
}

func (f *fakeSessions) GetActiveByAccessToken(_ context.Context, token string) (*models.Session, error) {
	return f.find(func(s *models.Session) bool { return s.AccessToken == token })
}

func (f *fakeSessions) GetActiveByRefreshToken(_ context.Context, refresh string) (*models.Session, error) {
	return f.find(func(s *models.Session) bool { return s.RefreshToken == refresh })
}

func (f *fakeSessions) GetOrCreate(_ context.Context, sess *models.Session) (*models.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byID {
		if s.AccessToken == sess.AccessToken {
			cp := *s
			return &cp, false, nil
		}
	}
	f.nextID++
	created := *sess
	created.ID = f.nextID
	created.IsActive = true
	f.byID[created.ID] = &created
	cp := created
	return &cp, true, nil
}

func (f *fakeSessions) UpdateTokens(_ context.Context, id int64, access, refresh string, issuedAt, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.byID[id]
	s.AccessToken, s.RefreshToken = access, refresh
	s.TokenIssuedAt, s.TokenExpiresAt = issuedAt, expiresAt
	return nil
}

func (f *fakeSessions) Touch(_ context.Context, id int64, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches++
	f.byID[id].LastActivity = now
	return nil
}

func (f *fakeSessions) Deactivate(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, id)
	if s, ok := f.byID[id]; ok {
		s.IsActive = false
	}
	return nil
}

func (f *fakeSessions) DeactivateByAccessToken(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byID {
		if s.AccessToken == token {
			s.IsActive = false
			f.deactivated = append(f.deactivated, s.ID)
		}
	}
	return nil
}

func (f *fakeSessions) get(id int64) *models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.byID[id]
	return &cp
}

type fakeIdP struct {
	profiles   map[string]*ExternalProfile
	refreshed  map[string]*oauth2.Token
	loginToken *oauth2.Token
	getUsers   int
	refreshes  int
}

func (f *fakeIdP) Login(_ context.Context, username, password string) (*oauth2.Token, error) {
	if f.loginToken == nil || password != "secret" {
		return nil, apperrors.Authentication(apperrors.CodeAuthFailed, "Authentication failed.")
	}
	return f.loginToken, nil
}

func (f *fakeIdP) Refresh(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	f.refreshes++
	tok, ok := f.refreshed[refreshToken]
	if !ok {
		return nil, apperrors.Authentication(apperrors.CodeInvalidRefreshToken, "Token refresh failed.")
	}
	return tok, nil
}

func (f *fakeIdP) GetUser(_ context.Context, accessToken string) (*ExternalProfile, error) {
	f.getUsers++
	p, ok := f.profiles[accessToken]
	if !ok {
		return nil, apperrors.Authentication(apperrors.CodeAuthFailed, "Authentication failed.")
	}
	return p, nil
}

func (f *fakeIdP) Introspect(_ context.Context, token string) (bool, error) {
	_, ok := f.profiles[token]
	return ok, nil
}

type recordingSender struct {
	mu     sync.Mutex
	groups []string
	frames []interface{}
}

func (r *recordingSender) SendGroup(_ context.Context, group string, frame interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = append(r.groups, group)
	r.frames = append(r.frames, frame)
	return nil
}

type directTx struct{}

func (directTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
