package auth

import (
	"net/http"
	"strings"
	"time"
)

// Cookie paths
const (
	AccessCookiePath  = "/api/"
	RefreshCookiePath = "/api/auth/"
)

// CookieConfig controls auth cookie issuance
type CookieConfig struct {
	AccessName  string
	RefreshName string
	// Secure is false only in development
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func (c CookieConfig) cookie(name, value, path string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// SetAccessCookie writes the access token cookie
func (c CookieConfig) SetAccessCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, c.cookie(c.AccessName, token, AccessCookiePath, c.AccessTTL))
}

// SetRefreshCookie writes the refresh token cookie
func (c CookieConfig) SetRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, c.cookie(c.RefreshName, token, RefreshCookiePath, c.RefreshTTL))
}

// SetTokenCookies writes both cookies of pair; an empty refresh token is skipped
func (c CookieConfig) SetTokenCookies(w http.ResponseWriter, pair *TokenPair) {
	c.SetAccessCookie(w, pair.Access)
	if pair.Refresh != "" {
		c.SetRefreshCookie(w, pair.Refresh)
	}
}

// ClearTokenCookies expires both cookies
func (c CookieConfig) ClearTokenCookies(w http.ResponseWriter) {
	for _, ck := range []*http.Cookie{
		c.cookie(c.AccessName, "", AccessCookiePath, 0),
		c.cookie(c.RefreshName, "", RefreshCookiePath, 0),
	} {
		ck.MaxAge = -1
		ck.Expires = time.Unix(0, 0)
		http.SetCookie(w, ck)
	}
}

// TokenFromRequest extracts a bearer token from the Authorization header,
// then from the named cookie
func TokenFromRequest(r *http.Request, cookieName string) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token
			}
		}
	}
	if cookieName == "" {
		return ""
	}
	if ck, err := r.Cookie(cookieName); err == nil {
		return ck.Value
	}
	return ""
}

// RefreshTokenFromRequest reads the refresh cookie, falling back to a body value
func RefreshTokenFromRequest(r *http.Request, cookieName, bodyValue string) string {
	if ck, err := r.Cookie(cookieName); err == nil && ck.Value != "" {
		return ck.Value
	}
	return bodyValue
}
