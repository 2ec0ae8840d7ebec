package auth

import (
	"context"
	"time"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/observability"
	"github.com/platinummonkey/ptbhub/pkg/storage/postgres"
)

// AccessStore loads and writes permission-affecting user fields
type AccessStore interface {
	GetForUpdate(ctx context.Context, id int64) (*models.User, error)
	UpdateAccessControl(ctx context.Context, u *models.User) error
}

// Transactor scopes a unit of work
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// GroupSender delivers a frame to every member of a WebSocket group
type GroupSender interface {
	SendGroup(ctx context.Context, group string, frame interface{}) error
}

// AccessChange is a partial update of a user's access fields
type AccessChange struct {
	Role            *models.UserRole      `json:"role"`
	IsPTBAdmin      *bool                 `json:"is_ptb_admin"`
	IsActive        *bool                 `json:"is_active"`
	MenuPermissions *models.PermissionMap `json:"menu_permissions"`
	AllowedMenus    *[]string             `json:"allowed_menus"`
}

// PermissionUpdateFrame is pushed on the user's notification channel
type PermissionUpdateFrame struct {
	Type                string       `json:"type"`
	User                *models.User `json:"user"`
	PermissionUpdatedAt time.Time    `json:"permission_updated_at"`
}

// AccessControl applies access changes and advances the permission watermark
type AccessControl struct {
	tx     Transactor
	users  AccessStore
	sender GroupSender
	clock  clock.Clock
	logger *observability.Logger
}

// NewAccessControl creates the service; sender may be nil
func NewAccessControl(tx Transactor, users AccessStore, sender GroupSender, clk clock.Clock, logger *observability.Logger) *AccessControl {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AccessControl{tx: tx, users: users, sender: sender, clock: clk, logger: logger}
}

// Update applies change to the target user on behalf of actor
func (s *AccessControl) Update(ctx context.Context, actor Principal, targetID int64, change AccessChange) (*models.User, error) {
	if change.Role != nil && !change.Role.Valid() {
		return nil, apperrors.FieldError("role", "\""+string(*change.Role)+"\" is not a valid choice.")
	}

	var updated *models.User
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		u, err := s.users.GetForUpdate(ctx, targetID)
		if err != nil {
			return err
		}
		if err := checkDeveloperGuard(actor, u, change); err != nil {
			return err
		}

		if !applyAccessChange(u, change) {
			updated = u
			return nil
		}
		u.PermissionUpdatedAt = advanceWatermark(u.PermissionUpdatedAt, s.clock.Now())
		if err := s.users.UpdateAccessControl(ctx, u); err != nil {
			return err
		}
		updated = u

		postgres.OnCommit(ctx, func(ctx context.Context) {
			s.push(ctx, u)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *AccessControl) push(ctx context.Context, u *models.User) {
	if s.sender == nil {
		return
	}
	frame := PermissionUpdateFrame{Type: "permission_update", User: u, PermissionUpdatedAt: u.PermissionUpdatedAt}
	if err := s.sender.SendGroup(ctx, models.NotificationsGroup(u.ID), frame); err != nil {
		s.logger.WithError(err).WithField("user_id", u.ID).Debug("permission update push failed")
	}
}

// checkDeveloperGuard keeps developer accounts under their owner's control
func checkDeveloperGuard(actor Principal, target *models.User, change AccessChange) error {
	self := actor != nil && actor.ID() == target.ID
	if target.Role == models.RoleDeveloper && !self {
		if change.Role != nil && *change.Role != models.RoleDeveloper {
			return apperrors.PermissionDenied("Developer accounts can only be demoted by themselves.")
		}
		if change.IsActive != nil && !*change.IsActive {
			return apperrors.PermissionDenied("Developer accounts can only be deactivated by themselves.")
		}
	}
	if change.Role != nil && *change.Role == models.RoleDeveloper && target.Role != models.RoleDeveloper {
		if actor == nil || actor.Role() != models.RoleDeveloper {
			return apperrors.PermissionDenied("Only developers can grant the developer role.")
		}
	}
	return nil
}

// applyAccessChange mutates u and reports whether anything changed
func applyAccessChange(u *models.User, change AccessChange) bool {
	changed := false
	if change.Role != nil && *change.Role != u.Role {
		u.Role = *change.Role
		changed = true
	}
	if change.IsPTBAdmin != nil && *change.IsPTBAdmin != u.IsPTBAdmin {
		u.IsPTBAdmin = *change.IsPTBAdmin
		changed = true
	}
	if change.IsActive != nil && *change.IsActive != u.IsActive {
		u.IsActive = *change.IsActive
		changed = true
	}
	if change.MenuPermissions != nil && !change.MenuPermissions.Equal(u.MenuPermissions) {
		u.MenuPermissions = *change.MenuPermissions
		changed = true
	}
	if change.AllowedMenus != nil && !sameStrings(*change.AllowedMenus, u.AllowedMenus) {
		u.AllowedMenus = *change.AllowedMenus
		changed = true
	}
	return changed
}

// advanceWatermark returns a timestamp strictly after prev, at microsecond
// precision to survive the database round trip
func advanceWatermark(prev, now time.Time) time.Time {
	next := now.UTC().Truncate(time.Microsecond)
	if !next.After(prev) {
		next = prev.Add(time.Microsecond)
	}
	return next
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		if seen[s] == 0 {
			return false
		}
		seen[s]--
	}
	return true
}
