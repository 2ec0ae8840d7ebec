package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/auth"
	"github.com/platinummonkey/ptbhub/pkg/httputil"
	"github.com/platinummonkey/ptbhub/pkg/middleware"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/observability"
)

// AuthService is the login and token lifecycle used by AuthHandlers
type AuthService interface {
	LocalLogin(ctx context.Context, username, password string) (*auth.LoginResult, error)
	ExternalLogin(ctx context.Context, username, password string, meta auth.Credentials) (*auth.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
	Verify(ctx context.Context, cred auth.Credentials) (*auth.Result, error)
	Logout(ctx context.Context, token string) error
	Exchange(ctx context.Context, externalToken string) (*auth.LoginResult, error)
}

// AuthHandlers serves /api/auth
type AuthHandlers struct {
	service AuthService
	cookies auth.CookieConfig
	logger  *observability.Logger
}

// NewAuthHandlers creates the auth handlers
func NewAuthHandlers(service AuthService, cookies auth.CookieConfig, logger *observability.Logger) *AuthHandlers {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AuthHandlers{service: service, cookies: cookies, logger: logger}
}

// RegisterRoutes mounts the auth endpoints on a router rooted at /api/auth.
// authn resolves the caller for /me; limit guards the credential endpoints.
func (h *AuthHandlers) RegisterRoutes(router *mux.Router, authn, limit func(http.Handler) http.Handler) {
	router.Handle("/login/local/", limit(http.HandlerFunc(h.loginLocal))).Methods(http.MethodPost)
	router.Handle("/login/external/", limit(http.HandlerFunc(h.loginExternal))).Methods(http.MethodPost)
	router.Handle("/exchange-token/", limit(http.HandlerFunc(h.exchange))).Methods(http.MethodPost)
	router.HandleFunc("/token/refresh/", h.refresh).Methods(http.MethodPost)
	router.HandleFunc("/token/verify/", h.verify).Methods(http.MethodPost)
	router.HandleFunc("/logout/", h.logout).Methods(http.MethodPost)
	router.Handle("/me/", authn(middleware.RequireAuth(http.HandlerFunc(h.me)))).Methods(http.MethodGet)
}

type credentialsRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	User             *models.User `json:"user,omitempty"`
	Access           string       `json:"access"`
	Refresh          string       `json:"refresh,omitempty"`
	AccessExpiresAt  time.Time    `json:"access_expires_at"`
	RefreshExpiresAt time.Time    `json:"refresh_expires_at"`
}

func newTokenResponse(u *models.User, pair *auth.TokenPair) tokenResponse {
	return tokenResponse{
		User:             u,
		Access:           pair.Access,
		Refresh:          pair.Refresh,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

// loginLocal handles POST /api/auth/login/local/
func (h *AuthHandlers) loginLocal(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httputil.ParseAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	res, err := h.service.LocalLogin(r.Context(), req.Username, req.Password)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.cookies.SetTokenCookies(w, res.Tokens)
	_ = httputil.WriteSuccess(w, newTokenResponse(res.User, res.Tokens))
}

// loginExternal handles POST /api/auth/login/external/
func (h *AuthHandlers) loginExternal(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httputil.ParseAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	res, err := h.service.ExternalLogin(r.Context(), req.Username, req.Password, auth.Credentials{
		IP:        httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.cookies.SetTokenCookies(w, res.Tokens)
	_ = httputil.WriteSuccess(w, newTokenResponse(res.User, res.Tokens))
}

// exchange handles POST /api/auth/exchange-token/
func (h *AuthHandlers) exchange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	res, err := h.service.Exchange(r.Context(), req.Token)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.cookies.SetTokenCookies(w, res.Tokens)
	_ = httputil.WriteSuccess(w, newTokenResponse(res.User, res.Tokens))
}

// refresh handles POST /api/auth/token/refresh/. The refresh token comes from
// its cookie, falling back to the request body.
func (h *AuthHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if r.ContentLength != 0 {
		_ = httputil.ParseJSON(r, &req)
	}
	token := auth.RefreshTokenFromRequest(r, h.cookies.RefreshName, req.Refresh)
	if token == "" {
		httputil.WriteError(w, r, apperrors.New(apperrors.KindValidation, apperrors.CodeNoRefreshToken, "Refresh token not found."))
		return
	}

	pair, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		h.logger.WithError(err).Debug("token refresh failed")
		h.cookies.ClearTokenCookies(w)
		if apperrors.KindOf(err) == apperrors.KindValidation {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteUnauthorized(w, "Token refresh failed.", apperrors.CodeInvalidRefreshToken)
		return
	}
	h.cookies.SetTokenCookies(w, pair)
	_ = httputil.WriteSuccess(w, newTokenResponse(nil, pair))
}

// verify handles POST /api/auth/token/verify/
func (h *AuthHandlers) verify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if r.ContentLength != 0 {
		_ = httputil.ParseJSON(r, &req)
	}
	token := req.Token
	if token == "" {
		token = auth.TokenFromRequest(r, h.cookies.AccessName)
	}
	if token == "" {
		httputil.WriteError(w, r, apperrors.FieldError("token", "This field is required."))
		return
	}

	res, err := h.service.Verify(r.Context(), auth.Credentials{
		Token:     token,
		IP:        httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if res.Refreshed != nil {
		h.cookies.SetAccessCookie(w, res.Refreshed.Access)
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"valid": true,
		"user":  res.Principal.User(),
	})
}

// logout handles POST /api/auth/logout/
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r, h.cookies.AccessName)
	if err := h.service.Logout(r.Context(), token); err != nil {
		h.logger.WithError(err).Warn("failed to deactivate session on logout")
	}
	h.cookies.ClearTokenCookies(w)
	_ = httputil.WriteSuccess(w, map[string]string{"detail": "Successfully logged out."})
}

// me handles GET /api/auth/me/
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	_ = httputil.WriteSuccess(w, p.User())
}
