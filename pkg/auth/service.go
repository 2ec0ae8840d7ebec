package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/observability"
)

// IDTokenVerifier verifies OIDC ID tokens. ok is false when no issuer is
// configured.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, raw string) (profile *ExternalProfile, ok bool, err error)
}

// ErrExternalDisabled is returned by the IdP flows when no IdP is configured
var ErrExternalDisabled = apperrors.New(apperrors.KindInfrastructure, "external_auth_disabled", "external authentication is not configured")

// LoginResult is returned by every login flow
type LoginResult struct {
	User   *models.User `json:"user"`
	Tokens *TokenPair   `json:"tokens"`
}

// Service implements the auth endpoints on top of the authenticators
type Service struct {
	jwt      *JWTManager
	idp      IdentityProvider
	verifier IDTokenVerifier
	users    UserStore
	sessions SessionStore
	chain    *Chain
	clock    clock.Clock
	logger   *observability.Logger
}

// ServiceDeps bundles Service collaborators; IdP and Verifier may be nil
type ServiceDeps struct {
	JWT      *JWTManager
	IdP      IdentityProvider
	Verifier IDTokenVerifier
	Users    UserStore
	Sessions SessionStore
	Chain    *Chain
	Clock    clock.Clock
	Logger   *observability.Logger
}

// NewService creates an auth service
func NewService(d ServiceDeps) *Service {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Logger == nil {
		d.Logger = observability.NopLogger()
	}
	return &Service{
		jwt:      d.JWT,
		idp:      d.IdP,
		verifier: d.Verifier,
		users:    d.Users,
		sessions: d.Sessions,
		chain:    d.Chain,
		clock:    d.Clock,
		logger:   d.Logger,
	}
}

// Chain returns the request authenticator chain
func (s *Service) Chain() *Chain {
	return s.chain
}

// LocalLogin checks a local password and issues a local token pair
func (s *Service) LocalLogin(ctx context.Context, username, password string) (*LoginResult, error) {
	failed := apperrors.Authentication(apperrors.CodeAuthFailed, "Invalid username or password.")

	id, hash, err := s.users.PasswordHash(ctx, username)
	if errors.Is(err, apperrors.ErrNotFound) || (err == nil && hash == "") {
		return nil, failed
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, failed
	}

	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := activeUser(u); err != nil {
		return nil, err
	}
	pair, err := s.jwt.IssuePair(u)
	if err != nil {
		return nil, err
	}
	s.recordLogin(ctx, u, pair.Access)
	return &LoginResult{User: u, Tokens: pair}, nil
}

// ExternalLogin logs in against the IdP and records a session
func (s *Service) ExternalLogin(ctx context.Context, username, password string, meta Credentials) (*LoginResult, error) {
	if s.idp == nil {
		return nil, ErrExternalDisabled
	}
	tok, err := s.idp.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	profile, err := s.idp.GetUser(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	u, err := s.users.UpsertExternal(ctx, profile.User(), now)
	if err != nil {
		return nil, err
	}
	if err := activeUser(u); err != nil {
		return nil, err
	}

	expires := tok.Expiry
	if expires.IsZero() {
		expires = now.Add(s.jwt.AccessTTL())
	}
	sess, created, err := s.sessions.GetOrCreate(ctx, &models.Session{
		UserID:         u.ID,
		AccessToken:    tok.AccessToken,
		RefreshToken:   tok.RefreshToken,
		TokenIssuedAt:  now,
		TokenExpiresAt: expires,
		IP:             meta.IP,
		UserAgent:      meta.UserAgent,
		LastActivity:   now,
	})
	if err != nil {
		return nil, err
	}
	if !created && tok.RefreshToken != "" && sess.RefreshToken != tok.RefreshToken {
		if err := s.sessions.UpdateTokens(ctx, sess.ID, tok.AccessToken, tok.RefreshToken, now, expires); err != nil {
			return nil, err
		}
	}

	s.recordLogin(ctx, u, tok.AccessToken)
	return &LoginResult{User: u, Tokens: &TokenPair{
		Access:           tok.AccessToken,
		Refresh:          tok.RefreshToken,
		AccessExpiresAt:  expires,
		RefreshExpiresAt: now.Add(s.jwt.RefreshTTL()),
	}}, nil
}

// Refresh renews a token pair. Local refresh tokens are tried first, then
// the external session holding refreshToken.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, apperrors.New(apperrors.KindValidation, apperrors.CodeNoRefreshToken, "Refresh token not found.")
	}
	invalid := apperrors.Authentication(apperrors.CodeInvalidRefreshToken, "Token refresh failed.")

	if claims, err := s.jwt.Parse(refreshToken, TokenTypeRefresh); err == nil {
		u, err := s.users.GetByID(ctx, claims.UserID)
		if err != nil {
			return nil, invalid
		}
		if err := activeUser(u); err != nil {
			return nil, err
		}
		return s.jwt.IssuePair(u)
	} else if errors.Is(err, ErrExpiredToken) {
		return nil, invalid
	}

	if s.idp == nil {
		return nil, invalid
	}
	sess, err := s.sessions.GetActiveByRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, invalid
	}
	tok, err := s.idp.Refresh(ctx, refreshToken)
	if err != nil {
		if dErr := s.sessions.Deactivate(ctx, sess.ID); dErr != nil {
			s.logger.WithError(dErr).Warn("failed to deactivate session after refresh failure")
		}
		return nil, invalid
	}

	now := s.clock.Now()
	expires := tok.Expiry
	if expires.IsZero() {
		expires = now.Add(s.jwt.AccessTTL())
	}
	if err := s.sessions.UpdateTokens(ctx, sess.ID, tok.AccessToken, tok.RefreshToken, now, expires); err != nil {
		return nil, err
	}
	return &TokenPair{
		Access:           tok.AccessToken,
		Refresh:          tok.RefreshToken,
		AccessExpiresAt:  expires,
		RefreshExpiresAt: now.Add(s.jwt.RefreshTTL()),
	}, nil
}

// Verify resolves a token through the chain
func (s *Service) Verify(ctx context.Context, cred Credentials) (*Result, error) {
	return s.chain.Authenticate(ctx, cred)
}

// Logout deactivates the external session of token, if any
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if _, err := s.jwt.Parse(token, TokenTypeAccess); err == nil {
		return nil
	}
	return s.sessions.DeactivateByAccessToken(ctx, token)
}

// Exchange trades an IdP token for a local token pair. With an OIDC issuer
// configured the token is verified as an ID token; otherwise the IdP profile
// endpoint vouches for it.
func (s *Service) Exchange(ctx context.Context, externalToken string) (*LoginResult, error) {
	if externalToken == "" {
		return nil, apperrors.FieldError("token", "This field is required.")
	}

	var (
		profile *ExternalProfile
		err     error
		ok      bool
	)
	if s.verifier != nil {
		profile, ok, err = s.verifier.VerifyIDToken(ctx, externalToken)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		if s.idp == nil {
			return nil, ErrExternalDisabled
		}
		profile, err = s.idp.GetUser(ctx, externalToken)
		if err != nil {
			return nil, err
		}
	}

	u, err := s.users.UpsertExternal(ctx, profile.User(), s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := activeUser(u); err != nil {
		return nil, err
	}
	pair, err := s.jwt.IssuePair(u)
	if err != nil {
		return nil, err
	}
	s.recordLogin(ctx, u, pair.Access)
	return &LoginResult{User: u, Tokens: pair}, nil
}

func (s *Service) recordLogin(ctx context.Context, u *models.User, token string) {
	if err := s.users.RecordLogin(ctx, u.ID, HashToken(token), s.clock.Now()); err != nil {
		s.logger.WithError(err).WithField("user_id", u.ID).Warn("failed to record login")
	}
}
