package middleware

import (
	"net/http"
	"strconv"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/auth"
	"github.com/platinummonkey/ptbhub/pkg/contextkeys"
	"github.com/platinummonkey/ptbhub/pkg/httputil"
	"github.com/platinummonkey/ptbhub/pkg/observability"
	"github.com/platinummonkey/ptbhub/pkg/rbac"
)

// RequestAuthenticator resolves request credentials to a principal
type RequestAuthenticator interface {
	Authenticate(r *http.Request, cred auth.Credentials) (*auth.Result, error)
}

// chainAuthenticator adapts *auth.Chain to RequestAuthenticator
type chainAuthenticator struct {
	chain *auth.Chain
}

func (c chainAuthenticator) Authenticate(r *http.Request, cred auth.Credentials) (*auth.Result, error) {
	return c.chain.Authenticate(r.Context(), cred)
}

// ChainAuthenticator exposes chain as a RequestAuthenticator
func ChainAuthenticator(chain *auth.Chain) RequestAuthenticator {
	return chainAuthenticator{chain: chain}
}

// Authenticate resolves the request token through chain. Requests without a
// token continue anonymously; a presented token that fails is answered 401.
func Authenticate(chain *auth.Chain, cookies auth.CookieConfig) func(http.Handler) http.Handler {
	return AuthenticateWith(chainAuthenticator{chain: chain}, cookies)
}

// AuthenticateWith is Authenticate over any RequestAuthenticator
func AuthenticateWith(a RequestAuthenticator, cookies auth.CookieConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.TokenFromRequest(r, cookies.AccessName)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			res, err := a.Authenticate(r, auth.Credentials{
				Token:     token,
				IP:        httputil.ClientIP(r),
				UserAgent: r.UserAgent(),
			})
			if err != nil {
				httputil.WriteError(w, r, err)
				return
			}

			if res.Refreshed != nil {
				cookies.SetAccessCookie(w, res.Refreshed.Access)
				if res.Refreshed.Refresh != "" {
					cookies.SetRefreshCookie(w, res.Refreshed.Refresh)
				}
			}

			ctx := auth.WithPrincipal(r.Context(), res.Principal)
			ctx = contextkeys.WithToken(ctx, res.Token)
			ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(res.Principal.ID(), 10))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects anonymous requests with 401
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.PrincipalFrom(r.Context()); !ok {
			httputil.WriteError(w, r, apperrors.Authentication(apperrors.CodeNotAuthenticated,
				"Authentication credentials were not provided."))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission checks the principal against resource using the action
// implied by the request method
func RequirePermission(engine *rbac.Engine, resource string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFrom(r.Context())
			if !ok {
				httputil.WriteError(w, r, apperrors.Authentication(apperrors.CodeNotAuthenticated,
					"Authentication credentials were not provided."))
				return
			}
			action := rbac.ActionForMethod(r.Method)
			decision := engine.Decide(p, resource, action)
			if !decision.Allowed {
				observability.FromContext(r.Context()).WithFields(map[string]interface{}{
					"resource": resource,
					"action":   string(action),
					"rule":     decision.Rule,
				}).Debug("permission denied")
				httputil.WriteError(w, r, apperrors.PermissionDenied("You do not have permission to perform this action."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin admits unrestricted roles and PTB admins only
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFrom(r.Context())
		if !ok {
			httputil.WriteError(w, r, apperrors.Authentication(apperrors.CodeNotAuthenticated,
				"Authentication credentials were not provided."))
			return
		}
		if !auth.IsAdmin(p) {
			httputil.WriteError(w, r, apperrors.PermissionDenied("You do not have permission to perform this action."))
			return
		}
		next.ServeHTTP(w, r)
	})
}
