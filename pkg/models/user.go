package models

import (
	"strings"
	"time"
)

// UserRole is the coarse role of a user
type UserRole string

const (
	RoleDeveloper  UserRole = "developer"
	RoleSuperAdmin UserRole = "superadmin"
	RoleUser       UserRole = "user"
)

// Valid reports whether r is a known role
func (r UserRole) Valid() bool {
	switch r {
	case RoleDeveloper, RoleSuperAdmin, RoleUser:
		return true
	}
	return false
}

// Unrestricted reports whether the role bypasses resource permissions
func (r UserRole) Unrestricted() bool {
	return r == RoleDeveloper || r == RoleSuperAdmin
}

// Action is a CRUD verb in a permission map
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// AllActions is the full CRUD set
var AllActions = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}

// PermissionMap maps a resource key to its allowed actions
type PermissionMap map[string][]Action

// Allows reports whether action is listed for resource. The second result is
// false when the resource is absent from the map.
func (p PermissionMap) Allows(resource string, action Action) (allowed, present bool) {
	actions, ok := p[resource]
	if !ok {
		return false, false
	}
	for _, a := range actions {
		if a == action {
			return true, true
		}
	}
	return false, true
}

// Equal compares two permission maps ignoring action order
func (p PermissionMap) Equal(other PermissionMap) bool {
	if len(p) != len(other) {
		return false
	}
	for resource, actions := range p {
		otherActions, ok := other[resource]
		if !ok || len(otherActions) != len(actions) {
			return false
		}
		set := make(map[Action]struct{}, len(actions))
		for _, a := range actions {
			set[a] = struct{}{}
		}
		for _, a := range otherActions {
			if _, ok := set[a]; !ok {
				return false
			}
		}
	}
	return true
}

// User is a directory user, provisioned on first external login
type User struct {
	ID         int64    `json:"id"`
	ExternalID string   `json:"external_id"`
	Username   string   `json:"username"`
	Email      string   `json:"email"`
	FirstName  string   `json:"first_name"`
	LastName   string   `json:"last_name"`
	WorkerID   string   `json:"worker_id"`
	Role       UserRole `json:"role"`
	IsPTBAdmin bool     `json:"is_ptb_admin"`
	IsActive   bool     `json:"is_active"`

	// MenuPermissions takes precedence over AllowedMenus when it names a resource
	MenuPermissions PermissionMap `json:"menu_permissions"`
	// AllowedMenus is the legacy whitelist of resource keys
	AllowedMenus []string `json:"allowed_menus"`

	Preferences map[string]bool `json:"preferences"`

	PermissionUpdatedAt time.Time  `json:"permission_updated_at"`
	ProfileSyncedAt     *time.Time `json:"-"`
	TokenHash           string     `json:"-"`
	LastLogin           *time.Time `json:"last_login"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// FullName joins first and last name
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// DerivedName is the username with underscores replaced by spaces
func (u *User) DerivedName() string {
	return strings.ReplaceAll(u.Username, "_", " ")
}

// DisplayName prefers the full name and falls back to the username
func (u *User) DisplayName() string {
	if name := u.FullName(); name != "" {
		return name
	}
	return u.Username
}

// Session tracks an externally issued token pair
type Session struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	AccessToken    string    `json:"-"`
	RefreshToken   string    `json:"-"`
	TokenIssuedAt  time.Time `json:"token_issued_at"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
	IP             string    `json:"ip"`
	UserAgent      string    `json:"user_agent"`
	LastActivity   time.Time `json:"last_activity"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// Expired reports whether the access token is past its expiry at now
func (s *Session) Expired(now time.Time) bool {
	return !s.TokenExpiresAt.IsZero() && !now.Before(s.TokenExpiresAt)
}
