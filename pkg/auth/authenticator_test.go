package auth

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/observability"
)

func syncedUser(id int64, at time.Time) *models.User {
	return &models.User{ID: id, ExternalID: "77", Username: "rina", Role: models.RoleUser, IsActive: true, ProfileSyncedAt: &at}
}

type externalFixture struct {
	clk      *clock.Fake
	users    *fakeUsers
	sessions *fakeSessions
	idp      *fakeIdP
	metrics  *observability.Metrics
	auth     *ExternalAuthenticator
}

func newExternalFixture(sessions ...*models.Session) *externalFixture {
	f := &externalFixture{
		clk:      clock.NewFake(authNow),
		users:    newFakeUsers(syncedUser(7, authNow)),
		sessions: newFakeSessions(sessions...),
		idp:      &fakeIdP{profiles: map[string]*ExternalProfile{}, refreshed: map[string]*oauth2.Token{}},
		metrics:  observability.NewNopMetrics(),
	}
	f.auth = NewExternalAuthenticator(f.users, f.sessions, f.idp, ExternalOptions{
		Clock:   f.clk,
		Metrics: f.metrics,
	})
	return f
}

func TestExternalAuthenticator_ValidSessionThrottlesTouch(t *testing.T) {
	f := newExternalFixture(&models.Session{
		ID: 1, UserID: 7, AccessToken: "tok", RefreshToken: "ref",
		TokenExpiresAt: authNow.Add(time.Hour), LastActivity: authNow,
	})

	res, err := f.auth.Authenticate(context.Background(), Credentials{Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Principal.ID())
	assert.Equal(t, SourceExternal, res.Principal.Source())
	assert.Nil(t, res.Refreshed)
	assert.Equal(t, 0, f.sessions.touches)

	f.clk.Advance(4 * time.Minute)
	_, err = f.auth.Authenticate(context.Background(), Credentials{Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, 0, f.sessions.touches)

	f.clk.Advance(time.Minute)
	_, err = f.auth.Authenticate(context.Background(), Credentials{Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.sessions.touches)
	assert.Equal(t, authNow.Add(5*time.Minute), f.sessions.get(1).LastActivity)
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.SessionTouchesSkip))
}

func TestExternalAuthenticator_ExpiredSessionRefreshesInBand(t *testing.T) {
	f := newExternalFixture(&models.Session{
		ID: 1, UserID: 7, AccessToken: "old", RefreshToken: "ref",
		TokenExpiresAt: authNow.Add(-time.Second), LastActivity: authNow,
	})
	newExpiry := authNow.Add(time.Hour)
	f.idp.refreshed["ref"] = &oauth2.Token{AccessToken: "new", RefreshToken: "ref-2", Expiry: newExpiry}

	res, err := f.auth.Authenticate(context.Background(), Credentials{Token: "old"})
	require.NoError(t, err)
	require.NotNil(t, res.Refreshed)
	assert.Equal(t, "new", res.Refreshed.Access)
	assert.Equal(t, "new", res.Token)
	assert.Equal(t, newExpiry, res.Refreshed.AccessExpiresAt)

	stored := f.sessions.get(1)
	assert.Equal(t, "new", stored.AccessToken)
	assert.Equal(t, "ref-2", stored.RefreshToken)
	assert.Equal(t, newExpiry, stored.TokenExpiresAt)
	assert.True(t, stored.IsActive)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.TokenRefreshTotal.WithLabelValues("success")))

	res, err = f.auth.Authenticate(context.Background(), Credentials{Token: "new"})
	require.NoError(t, err)
	assert.Nil(t, res.Refreshed)
}

func TestExternalAuthenticator_RefreshFailureDeactivatesSession(t *testing.T) {
	f := newExternalFixture(&models.Session{
		ID: 1, UserID: 7, AccessToken: "old", RefreshToken: "revoked",
		TokenExpiresAt: authNow.Add(-time.Minute), LastActivity: authNow,
	})

	_, err := f.auth.Authenticate(context.Background(), Credentials{Token: "old"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAuthentication)
	assert.Equal(t, []int64{1}, f.sessions.deactivated)
	assert.False(t, f.sessions.get(1).IsActive)
}

func TestExternalAuthenticator_ExpiredWithoutRefreshToken(t *testing.T) {
	f := newExternalFixture(&models.Session{
		ID: 1, UserID: 7, AccessToken: "old",
		TokenExpiresAt: authNow.Add(-time.Minute), LastActivity: authNow,
	})

	_, err := f.auth.Authenticate(context.Background(), Credentials{Token: "old"})
	e, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeTokenExpired, e.Code)
	assert.Equal(t, 0, f.idp.refreshes)
	assert.Equal(t, []int64{1}, f.sessions.deactivated)
}

func TestExternalAuthenticator_ProvisionsUnknownToken(t *testing.T) {
	f := newExternalFixture()
	active := true
	f.idp.profiles["fresh"] = &ExternalProfile{ID: "901", Username: "budi", IsActive: &active}

	res, err := f.auth.Authenticate(context.Background(), Credentials{Token: "fresh", IP: "10.0.0.5", UserAgent: "test"})
	require.NoError(t, err)
	assert.Equal(t, "budi", res.Principal.Username())
	require.NotNil(t, res.Session)
	assert.Equal(t, "10.0.0.5", res.Session.IP)
	assert.Equal(t, authNow.Add(time.Hour), res.Session.TokenExpiresAt, "opaque tokens get the default lifetime")

	_, err = f.auth.Authenticate(context.Background(), Credentials{Token: "fresh"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.idp.getUsers, "second request resolves through the session")
}

func TestExternalAuthenticator_RejectsInactiveProfile(t *testing.T) {
	f := newExternalFixture()
	inactive := false
	f.idp.profiles["t"] = &ExternalProfile{ID: "5", Username: "gone", IsActive: &inactive}

	_, err := f.auth.Authenticate(context.Background(), Credentials{Token: "t"})
	e, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeUserInactive, e.Code)
}

func TestExternalAuthenticator_RefreshesStaleProfile(t *testing.T) {
	f := newExternalFixture(&models.Session{
		ID: 1, UserID: 7, AccessToken: "tok",
		TokenExpiresAt: authNow.Add(time.Hour), LastActivity: authNow,
	})
	f.clk.Advance(2 * time.Hour)
	f.sessions.byID[1].TokenExpiresAt = authNow.Add(3 * time.Hour)
	f.idp.profiles["tok"] = &ExternalProfile{ID: "77", Username: "rina", FirstName: "Rina"}

	res, err := f.auth.Authenticate(context.Background(), Credentials{Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.idp.getUsers)
	assert.Equal(t, "Rina", res.Principal.User().FirstName)
}

func TestExternalAuthenticator_StaleProfileFailureIsTolerated(t *testing.T) {
	f := newExternalFixture(&models.Session{
		ID: 1, UserID: 7, AccessToken: "tok",
		TokenExpiresAt: authNow.Add(3 * time.Hour), LastActivity: authNow,
	})
	f.clk.Advance(2 * time.Hour)

	res, err := f.auth.Authenticate(context.Background(), Credentials{Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Principal.ID())
}

func TestLocalAuthenticator(t *testing.T) {
	clk := clock.NewFake(authNow)
	m := newTestJWT(t, clk)
	users := newFakeUsers(&models.User{ID: 3, Username: "admin", Role: models.RoleSuperAdmin, IsActive: true})
	a := NewLocalAuthenticator(m, users)

	pair, err := m.IssuePair(&models.User{ID: 3})
	require.NoError(t, err)

	res, err := a.Authenticate(context.Background(), Credentials{Token: pair.Access})
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, res.Principal.Source())
	assert.True(t, IsAdmin(res.Principal))

	_, err = a.Authenticate(context.Background(), Credentials{Token: "opaque"})
	assert.ErrorIs(t, err, ErrNotApplicable)

	_, err = a.Authenticate(context.Background(), Credentials{Token: pair.Refresh})
	assert.ErrorIs(t, err, ErrNotApplicable)

	clk.Advance(time.Hour)
	_, err = a.Authenticate(context.Background(), Credentials{Token: pair.Access})
	e, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeTokenExpired, e.Code)
}

func TestChain_FallsThroughToExternal(t *testing.T) {
	f := newExternalFixture(&models.Session{
		ID: 1, UserID: 7, AccessToken: "opaque",
		TokenExpiresAt: authNow.Add(time.Hour), LastActivity: authNow,
	})
	local := NewLocalAuthenticator(newTestJWT(t, f.clk), f.users)
	chain := NewChain(f.metrics, local, f.auth)

	res, err := chain.Authenticate(context.Background(), Credentials{Token: "opaque"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Principal.ID())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AuthAttemptsTotal.WithLabelValues("external_session", "success")))

	_, err = chain.Authenticate(context.Background(), Credentials{})
	e, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeNotAuthenticated, e.Code)
}

func TestChain_NoApplicableAuthenticator(t *testing.T) {
	chain := NewChain(nil, NewLocalAuthenticator(newTestJWT(t, clock.NewFake(authNow)), newFakeUsers()))

	_, err := chain.Authenticate(context.Background(), Credentials{Token: "opaque"})
	e, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeAuthFailed, e.Code)
}
