package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		cookie string
		want   string
	}{
		{name: "bearer header", header: "Bearer abc", want: "abc"},
		{name: "case insensitive scheme", header: "bearer abc", want: "abc"},
		{name: "header wins over cookie", header: "Bearer abc", cookie: "def", want: "abc"},
		{name: "cookie fallback", cookie: "def", want: "def"},
		{name: "non bearer scheme ignored", header: "Basic Zm9vOmJhcg==", cookie: "def", want: "def"},
		{name: "nothing", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/users/me/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: "access_token", Value: tt.cookie})
			}
			assert.Equal(t, tt.want, TokenFromRequest(r, "access_token"))
		})
	}
}

func TestRefreshTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/auth/refresh/", nil)
	assert.Equal(t, "from-body", RefreshTokenFromRequest(r, "refresh_token", "from-body"))

	r.AddCookie(&http.Cookie{Name: "refresh_token", Value: "from-cookie"})
	assert.Equal(t, "from-cookie", RefreshTokenFromRequest(r, "refresh_token", "from-body"))
}

func TestCookieConfig_SetAndClear(t *testing.T) {
	cfg := CookieConfig{
		AccessName:  "access_token",
		RefreshName: "refresh_token",
		Secure:      true,
		AccessTTL:   15 * time.Minute,
		RefreshTTL:  24 * time.Hour,
	}

	rec := httptest.NewRecorder()
	cfg.SetTokenCookies(rec, &TokenPair{Access: "a", Refresh: "r"})
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)

	byName := map[string]*http.Cookie{}
	for _, c := range cookies {
		byName[c.Name] = c
	}
	access := byName["access_token"]
	require.NotNil(t, access)
	assert.Equal(t, "a", access.Value)
	assert.Equal(t, AccessCookiePath, access.Path)
	assert.True(t, access.HttpOnly)
	assert.True(t, access.Secure)
	assert.Equal(t, http.SameSiteLaxMode, access.SameSite)
	assert.Equal(t, 900, access.MaxAge)

	refresh := byName["refresh_token"]
	require.NotNil(t, refresh)
	assert.Equal(t, RefreshCookiePath, refresh.Path)

	rec = httptest.NewRecorder()
	cfg.SetTokenCookies(rec, &TokenPair{Access: "only"})
	assert.Len(t, rec.Result().Cookies(), 1)

	rec = httptest.NewRecorder()
	cfg.ClearTokenCookies(rec)
	for _, c := range rec.Result().Cookies() {
		assert.Equal(t, "", c.Value)
		assert.Equal(t, -1, c.MaxAge)
	}
}
