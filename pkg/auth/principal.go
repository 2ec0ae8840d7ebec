package auth

import (
	"context"

	"github.com/platinummonkey/ptbhub/pkg/contextkeys"
	"github.com/platinummonkey/ptbhub/pkg/models"
)

// Source names the authenticator that produced a principal
type Source string

const (
	SourceLocal    Source = "local"
	SourceExternal Source = "external"
)

// Principal is the authenticated caller. Handlers, consumers and the
// permission engine depend on this interface only.
type Principal interface {
	ID() int64
	Username() string
	DisplayName() string
	Role() models.UserRole
	IsPTBAdmin() bool
	WorkerID() string
	Permissions() models.PermissionMap
	AllowedMenus() []string
	Source() Source
	User() *models.User
}

type userPrincipal struct {
	user   *models.User
	source Source
}

// NewPrincipal wraps a loaded user
func NewPrincipal(u *models.User, source Source) Principal {
	return &userPrincipal{user: u, source: source}
}

func (p *userPrincipal) ID() int64                         { return p.user.ID }
func (p *userPrincipal) Username() string                  { return p.user.Username }
func (p *userPrincipal) DisplayName() string               { return p.user.DisplayName() }
func (p *userPrincipal) Role() models.UserRole             { return p.user.Role }
func (p *userPrincipal) IsPTBAdmin() bool                  { return p.user.IsPTBAdmin }
func (p *userPrincipal) WorkerID() string                  { return p.user.WorkerID }
func (p *userPrincipal) Permissions() models.PermissionMap { return p.user.MenuPermissions }
func (p *userPrincipal) AllowedMenus() []string            { return p.user.AllowedMenus }
func (p *userPrincipal) Source() Source                    { return p.source }
func (p *userPrincipal) User() *models.User                { return p.user }

// IsAdmin reports whether p is unrestricted or a PTB admin
func IsAdmin(p Principal) bool {
	return p != nil && (p.Role().Unrestricted() || p.IsPTBAdmin())
}

// WithPrincipal stores p on ctx
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return contextkeys.WithPrincipal(ctx, p)
}

// PrincipalFrom returns the principal stored on ctx
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := contextkeys.GetPrincipal(ctx).(Principal)
	return p, ok && p != nil
}
