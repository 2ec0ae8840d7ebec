package auth

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/observability"
)

// ErrNotApplicable tells the chain to try the next authenticator
var ErrNotApplicable = errors.New("credentials not handled by this authenticator")

// UserStore is the user persistence the auth fabric needs
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	UpsertExternal(ctx context.Context, u *models.User, now time.Time) (*models.User, error)
	MarkProfileSynced(ctx context.Context, id int64, now time.Time) error
	RecordLogin(ctx context.Context, id int64, tokenHash string, now time.Time) error
	PasswordHash(ctx context.Context, username string) (int64, string, error)
}

// SessionStore is the session persistence the auth fabric needs
type SessionStore interface {
	GetActiveByAccessToken(ctx context.Context, token string) (*models.Session, error)
	GetActiveByRefreshToken(ctx context.Context, refresh string) (*models.Session, error)
	GetOrCreate(ctx context.Context, sess *models.Session) (*models.Session, bool, error)
	UpdateTokens(ctx context.Context, id int64, access, refresh string, issuedAt, expiresAt time.Time) error
	Touch(ctx context.Context, id int64, now time.Time) error
	Deactivate(ctx context.Context, id int64) error
	DeactivateByAccessToken(ctx context.Context, token string) error
}

// Credentials is a raw token plus request metadata
type Credentials struct {
	Token     string
	IP        string
	UserAgent string
}

// Result is a resolved (principal, token) pair. Refreshed is set when the
// access token was renewed in-band and the caller should re-issue cookies.
type Result struct {
	Principal Principal
	Token     string
	Session   *models.Session
	Refreshed *TokenPair
}

// Authenticator resolves credentials to a principal
type Authenticator interface {
	Name() string
	Authenticate(ctx context.Context, cred Credentials) (*Result, error)
}

// Chain tries authenticators in order
type Chain struct {
	authenticators []Authenticator
	metrics        *observability.Metrics
}

// NewChain builds a chain; metrics may be nil
func NewChain(metrics *observability.Metrics, authenticators ...Authenticator) *Chain {
	return &Chain{authenticators: authenticators, metrics: metrics}
}

// Authenticate returns the first applicable authenticator's outcome
func (c *Chain) Authenticate(ctx context.Context, cred Credentials) (*Result, error) {
	if cred.Token == "" {
		return nil, apperrors.Authentication(apperrors.CodeNotAuthenticated, "Authentication credentials were not provided.")
	}
	for _, a := range c.authenticators {
		res, err := a.Authenticate(ctx, cred)
		if errors.Is(err, ErrNotApplicable) {
			continue
		}
		c.record(a.Name(), err)
		return res, err
	}
	return nil, apperrors.Authentication(apperrors.CodeAuthFailed, "Invalid token.")
}

func (c *Chain) record(name string, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	c.metrics.AuthAttemptsTotal.WithLabelValues(name, status).Inc()
}

func activeUser(u *models.User) error {
	if !u.IsActive {
		return apperrors.Authentication(apperrors.CodeUserInactive, "User is inactive.")
	}
	return nil
}

// LocalAuthenticator verifies locally issued access tokens
type LocalAuthenticator struct {
	jwt   *JWTManager
	users UserStore
}

// NewLocalAuthenticator creates a local JWT authenticator
func NewLocalAuthenticator(jwt *JWTManager, users UserStore) *LocalAuthenticator {
	return &LocalAuthenticator{jwt: jwt, users: users}
}

// Name implements Authenticator
func (a *LocalAuthenticator) Name() string { return "local_jwt" }

// Authenticate implements Authenticator
func (a *LocalAuthenticator) Authenticate(ctx context.Context, cred Credentials) (*Result, error) {
	claims, err := a.jwt.Parse(cred.Token, TokenTypeAccess)
	if errors.Is(err, ErrExpiredToken) {
		return nil, apperrors.Authentication(apperrors.CodeTokenExpired, "Token is expired.")
	}
	if err != nil {
		return nil, ErrNotApplicable
	}
	u, err := a.users.GetByID(ctx, claims.UserID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.Authentication(apperrors.CodeAuthFailed, "User not found.")
	}
	if err != nil {
		return nil, err
	}
	if err := activeUser(u); err != nil {
		return nil, err
	}
	return &Result{Principal: NewPrincipal(u, SourceLocal), Token: cred.Token}, nil
}

// ExternalOptions tunes ExternalAuthenticator
type ExternalOptions struct {
	// TouchInterval throttles last_activity writes per session
	TouchInterval time.Duration
	// ProfileRefreshInterval is the staleness after which the profile is refetched
	ProfileRefreshInterval time.Duration
	// DefaultTokenTTL applies when an IdP token carries no expiry
	DefaultTokenTTL time.Duration
	Clock           clock.Clock
	Logger          *observability.Logger
	Metrics         *observability.Metrics
}

// ExternalAuthenticator resolves IdP-minted tokens through the session table
type ExternalAuthenticator struct {
	users    UserStore
	sessions SessionStore
	idp      IdentityProvider
	opts     ExternalOptions
}

// NewExternalAuthenticator creates an external session authenticator
func NewExternalAuthenticator(users UserStore, sessions SessionStore, idp IdentityProvider, opts ExternalOptions) *ExternalAuthenticator {
	if opts.TouchInterval <= 0 {
		opts.TouchInterval = 5 * time.Minute
	}
	if opts.ProfileRefreshInterval <= 0 {
		opts.ProfileRefreshInterval = time.Hour
	}
	if opts.DefaultTokenTTL <= 0 {
		opts.DefaultTokenTTL = time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	return &ExternalAuthenticator{users: users, sessions: sessions, idp: idp, opts: opts}
}

// Name implements Authenticator
func (a *ExternalAuthenticator) Name() string { return "external_session" }

// Authenticate implements Authenticator
func (a *ExternalAuthenticator) Authenticate(ctx context.Context, cred Credentials) (*Result, error) {
	now := a.opts.Clock.Now()

	sess, err := a.sessions.GetActiveByAccessToken(ctx, cred.Token)
	if errors.Is(err, apperrors.ErrNotFound) {
		return a.provision(ctx, cred, now)
	}
	if err != nil {
		return nil, err
	}

	res := &Result{Token: cred.Token, Session: sess}
	if sess.Expired(now) {
		if err := a.refresh(ctx, sess, res, now); err != nil {
			return nil, err
		}
	}

	u, err := a.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if err := activeUser(u); err != nil {
		return nil, err
	}
	u = a.maybeRefreshProfile(ctx, u, res.Token, now)
	a.maybeTouch(ctx, sess, now)

	res.Principal = NewPrincipal(u, SourceExternal)
	return res, nil
}

func (a *ExternalAuthenticator) refresh(ctx context.Context, sess *models.Session, res *Result, now time.Time) error {
	if sess.RefreshToken == "" {
		_ = a.sessions.Deactivate(ctx, sess.ID)
		return apperrors.Authentication(apperrors.CodeTokenExpired, "Token is expired.")
	}

	tok, err := a.idp.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		a.recordRefresh("failure")
		if dErr := a.sessions.Deactivate(ctx, sess.ID); dErr != nil {
			a.opts.Logger.WithError(dErr).Warn("failed to deactivate session after refresh failure")
		}
		return apperrors.Wrap(apperrors.KindAuthentication, apperrors.CodeAuthFailed, err, "Session expired. Please log in again.")
	}

	expires := a.expiry(tok, now)
	if err := a.sessions.UpdateTokens(ctx, sess.ID, tok.AccessToken, tok.RefreshToken, now, expires); err != nil {
		return err
	}
	a.recordRefresh("success")

	sess.AccessToken = tok.AccessToken
	sess.RefreshToken = tok.RefreshToken
	sess.TokenIssuedAt = now
	sess.TokenExpiresAt = expires
	res.Token = tok.AccessToken
	res.Refreshed = &TokenPair{
		Access:          tok.AccessToken,
		Refresh:         tok.RefreshToken,
		AccessExpiresAt: expires,
	}
	return nil
}

func (a *ExternalAuthenticator) provision(ctx context.Context, cred Credentials, now time.Time) (*Result, error) {
	profile, err := a.idp.GetUser(ctx, cred.Token)
	if err != nil {
		return nil, err
	}
	if profile.IsActive != nil && !*profile.IsActive {
		return nil, apperrors.Authentication(apperrors.CodeUserInactive, "User is inactive.")
	}
	u, err := a.users.UpsertExternal(ctx, profile.User(), now)
	if err != nil {
		return nil, err
	}
	if err := activeUser(u); err != nil {
		return nil, err
	}

	sess, _, err := a.sessions.GetOrCreate(ctx, &models.Session{
		UserID:         u.ID,
		AccessToken:    cred.Token,
		TokenIssuedAt:  now,
		TokenExpiresAt: a.expiry(&oauth2.Token{AccessToken: cred.Token, Expiry: UnverifiedExpiry(cred.Token)}, now),
		IP:             cred.IP,
		UserAgent:      cred.UserAgent,
		LastActivity:   now,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Principal: NewPrincipal(u, SourceExternal), Token: cred.Token, Session: sess}, nil
}

func (a *ExternalAuthenticator) maybeRefreshProfile(ctx context.Context, u *models.User, token string, now time.Time) *models.User {
	if u.ProfileSyncedAt != nil && now.Sub(*u.ProfileSyncedAt) < a.opts.ProfileRefreshInterval {
		return u
	}
	profile, err := a.idp.GetUser(ctx, token)
	if err != nil {
		a.opts.Logger.WithError(err).WithField("user_id", u.ID).Warn("profile refresh failed, continuing with cached profile")
		return u
	}
	updated, err := a.users.UpsertExternal(ctx, profile.User(), now)
	if err != nil {
		a.opts.Logger.WithError(err).WithField("user_id", u.ID).Warn("failed to store refreshed profile")
		return u
	}
	return updated
}

func (a *ExternalAuthenticator) maybeTouch(ctx context.Context, sess *models.Session, now time.Time) {
	if now.Sub(sess.LastActivity) < a.opts.TouchInterval {
		if a.opts.Metrics != nil {
			a.opts.Metrics.SessionTouchesSkip.Inc()
		}
		return
	}
	if err := a.sessions.Touch(ctx, sess.ID, now); err != nil {
		a.opts.Logger.WithError(err).Debug("failed to touch session")
		return
	}
	sess.LastActivity = now
}

func (a *ExternalAuthenticator) expiry(tok *oauth2.Token, now time.Time) time.Time {
	if !tok.Expiry.IsZero() {
		return tok.Expiry
	}
	return now.Add(a.opts.DefaultTokenTTL)
}

func (a *ExternalAuthenticator) recordRefresh(status string) {
	if a.opts.Metrics != nil {
		a.opts.Metrics.TokenRefreshTotal.WithLabelValues(status).Inc()
	}
}
