package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/config"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/observability"
)

// IdentityProvider is the remote IdP surface the authenticators use
type IdentityProvider interface {
	Login(ctx context.Context, username, password string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	GetUser(ctx context.Context, accessToken string) (*ExternalProfile, error)
	Introspect(ctx context.Context, token string) (bool, error)
}

// ExternalID accepts both numeric and string identifiers
type ExternalID string

// UnmarshalJSON implements json.Unmarshaler
func (id *ExternalID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ExternalID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("external id: %w", err)
	}
	*id = ExternalID(n.String())
	return nil
}

// ExternalProfile is the user document returned by the IdP
type ExternalProfile struct {
	ID        ExternalID `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	WorkerID  string     `json:"worker_id"`
	IsActive  *bool      `json:"is_active"`
}

// User converts the profile to the directory fields it owns
func (p *ExternalProfile) User() *models.User {
	return &models.User{
		ExternalID: string(p.ID),
		Username:   p.Username,
		Email:      p.Email,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		WorkerID:   strings.TrimSpace(p.WorkerID),
	}
}

// ExternalClient talks to the remote IdP. Token grants go through
// golang.org/x/oauth2; profile and introspection calls are plain JSON.
type ExternalClient struct {
	baseURL    string
	cfg        config.ExternalConfig
	oauth      *oauth2.Config
	httpClient *http.Client
	logger     *observability.Logger

	verifier *oidc.IDTokenVerifier
}

// NewExternalClient builds a client. When cfg.OIDCIssuer is set the issuer is
// discovered and exchange tokens are verified against it.
func NewExternalClient(ctx context.Context, cfg config.ExternalConfig, logger *observability.Logger) (*ExternalClient, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &ExternalClient{
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		cfg:     cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL: strings.TrimRight(cfg.APIURL, "/") + cfg.TokenPath,
			},
		},
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}

	if cfg.OIDCIssuer != "" {
		provider, err := oidc.NewProvider(oidc.ClientContext(ctx, c.httpClient), cfg.OIDCIssuer)
		if err != nil {
			return nil, fmt.Errorf("failed to discover OIDC issuer: %w", err)
		}
		c.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	}
	return c, nil
}

func (c *ExternalClient) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *ExternalClient) failure(op string, err error) error {
	c.logger.WithError(err).WithField("operation", op).Error("External identity provider call failed")
	return apperrors.Wrap(apperrors.KindAuthentication, apperrors.CodeAuthFailed, err, "Authentication failed.")
}

// Login performs a resource owner password grant
func (c *ExternalClient) Login(ctx context.Context, username, password string) (*oauth2.Token, error) {
	tok, err := c.oauth.PasswordCredentialsToken(c.oauthContext(ctx), username, password)
	if err != nil {
		return nil, c.failure("login", err)
	}
	return withJWTExpiry(tok), nil
}

// Refresh exchanges a refresh token for a new access token
func (c *ExternalClient) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, apperrors.Authentication(apperrors.CodeNoRefreshToken, "Refresh token not found.")
	}
	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		c.logger.WithError(err).WithField("operation", "refresh").Error("External identity provider call failed")
		return nil, apperrors.Wrap(apperrors.KindAuthentication, apperrors.CodeInvalidRefreshToken, err, "Token refresh failed.")
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return withJWTExpiry(tok), nil
}

// GetUser fetches the profile of the token's owner
func (c *ExternalClient) GetUser(ctx context.Context, accessToken string) (*ExternalProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.cfg.UserPath, nil)
	if err != nil {
		return nil, c.failure("get_user", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	var profile ExternalProfile
	if err := c.do(req, &profile); err != nil {
		return nil, c.failure("get_user", err)
	}
	if profile.ID == "" {
		return nil, c.failure("get_user", fmt.Errorf("profile has no id"))
	}
	return &profile, nil
}

// Introspect asks the IdP whether token is still active
func (c *ExternalClient) Introspect(ctx context.Context, token string) (bool, error) {
	body, _ := json.Marshal(map[string]string{"token": token})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.cfg.IntrospectPath, bytes.NewReader(body))
	if err != nil {
		return false, c.failure("introspect", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)

	var out struct {
		Active bool `json:"active"`
	}
	if err := c.do(req, &out); err != nil {
		return false, c.failure("introspect", err)
	}
	return out.Active, nil
}

// VerifyIDToken checks an OIDC ID token when an issuer is configured. The
// boolean is false when verification is not available.
func (c *ExternalClient) VerifyIDToken(ctx context.Context, raw string) (*ExternalProfile, bool, error) {
	if c.verifier == nil {
		return nil, false, nil
	}
	idToken, err := c.verifier.Verify(oidc.ClientContext(ctx, c.httpClient), raw)
	if err != nil {
		return nil, true, c.failure("verify_id_token", err)
	}
	var claims struct {
		Email             string `json:"email"`
		PreferredUsername string `json:"preferred_username"`
		GivenName         string `json:"given_name"`
		FamilyName        string `json:"family_name"`
		WorkerID          string `json:"worker_id"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, true, c.failure("verify_id_token", err)
	}
	return &ExternalProfile{
		ID:        ExternalID(idToken.Subject),
		Username:  claims.PreferredUsername,
		Email:     claims.Email,
		FirstName: claims.GivenName,
		LastName:  claims.FamilyName,
		WorkerID:  claims.WorkerID,
	}, true, nil
}

func (c *ExternalClient) do(req *http.Request, dest interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("identity provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// withJWTExpiry fills a missing expiry from the access token's exp claim
func withJWTExpiry(tok *oauth2.Token) *oauth2.Token {
	if tok.Expiry.IsZero() {
		tok.Expiry = UnverifiedExpiry(tok.AccessToken)
	}
	return tok
}
