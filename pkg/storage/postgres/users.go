package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/ptbhub/pkg/models"
)

// UserStore persists directory users
type UserStore struct {
	db *DB
}

// NewUserStore creates a user store
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

const userColumns = `
	id, COALESCE(external_id, ''), username, email, first_name, last_name, worker_id,
	role, is_ptb_admin, is_active, menu_permissions, allowed_menus, preferences,
	permission_updated_at, profile_synced_at, token_hash, last_login, created_at, updated_at`

func scanUser(s scanner) (*models.User, error) {
	var (
		u           models.User
		role        string
		perms       []byte
		prefs       []byte
		allowedMenu pq.StringArray
	)
	err := s.Scan(
		&u.ID, &u.ExternalID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.WorkerID,
		&role, &u.IsPTBAdmin, &u.IsActive, &perms, &allowedMenu, &prefs,
		&u.PermissionUpdatedAt, &u.ProfileSyncedAt, &u.TokenHash, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Role = models.UserRole(role)
	u.AllowedMenus = []string(allowedMenu)
	if len(perms) > 0 && string(perms) != "null" {
		if err := json.Unmarshal(perms, &u.MenuPermissions); err != nil {
			return nil, fmt.Errorf("decode menu_permissions: %w", err)
		}
	}
	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &u.Preferences); err != nil {
			return nil, fmt.Errorf("decode preferences: %w", err)
		}
	}
	return &u, nil
}

func (s *UserStore) getBy(ctx context.Context, where string, arg interface{}) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	u, err := scanUser(s.db.q(ctx).QueryRowContext(ctx, query, arg))
	if err != nil {
		return nil, mapError(err, "user")
	}
	return u, nil
}

// GetByID loads a user by primary key
func (s *UserStore) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return s.getBy(ctx, "id = $1", id)
}

// GetByExternalID loads a user by the identity provider subject
func (s *UserStore) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	return s.getBy(ctx, "external_id = $1", externalID)
}

// GetByUsername loads a user by username
func (s *UserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getBy(ctx, "username = $1", username)
}

// GetForUpdate loads and row-locks a user inside the current transaction
func (s *UserStore) GetForUpdate(ctx context.Context, id int64) (*models.User, error) {
	return s.getBy(ctx, "id = $1 FOR UPDATE", id)
}

func (s *UserStore) list(ctx context.Context, where string, args ...interface{}) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where + ` ORDER BY id`
	rows, err := s.db.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "users")
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListByIDs loads the active users among ids
func (s *UserStore) ListByIDs(ctx context.Context, ids []int64) ([]*models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.list(ctx, "id = ANY($1) AND is_active", pq.Array(ids))
}

// ListPTBAdmins returns active users flagged as PTB admins
func (s *UserStore) ListPTBAdmins(ctx context.Context) ([]*models.User, error) {
	return s.list(ctx, "is_ptb_admin AND is_active")
}

// FindByWorkerID returns active users whose worker id equals empID
func (s *UserStore) FindByWorkerID(ctx context.Context, empID string) ([]*models.User, error) {
	if empID == "" {
		return nil, nil
	}
	return s.list(ctx, "worker_id = $1 AND is_active", empID)
}

// FindByFullName matches first+last name case-insensitively
func (s *UserStore) FindByFullName(ctx context.Context, name string) ([]*models.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	return s.list(ctx, "LOWER(TRIM(first_name || ' ' || last_name)) = LOWER($1) AND is_active", name)
}

// UpsertExternal creates or refreshes a user from an identity provider
// profile. Permission fields are never touched here.
func (s *UserStore) UpsertExternal(ctx context.Context, u *models.User, now time.Time) (*models.User, error) {
	query := `
		INSERT INTO users (external_id, username, email, first_name, last_name, worker_id,
			role, is_active, profile_synced_at, last_login, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'user', TRUE, $7, $7, $7, $7)
		ON CONFLICT (external_id) DO UPDATE SET
			username = EXCLUDED.username,
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			worker_id = CASE WHEN EXCLUDED.worker_id <> '' THEN EXCLUDED.worker_id ELSE users.worker_id END,
			profile_synced_at = EXCLUDED.profile_synced_at,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + userColumns

	out, err := scanUser(s.db.q(ctx).QueryRowContext(ctx, query,
		u.ExternalID, u.Username, u.Email, u.FirstName, u.LastName, u.WorkerID, now))
	if err != nil {
		return nil, mapError(err, "user")
	}
	return out, nil
}

// MarkProfileSynced records a successful profile refresh
func (s *UserStore) MarkProfileSynced(ctx context.Context, id int64, now time.Time) error {
	_, err := s.db.q(ctx).ExecContext(ctx,
		`UPDATE users SET profile_synced_at = $2, updated_at = $2 WHERE id = $1`, id, now)
	return mapError(err, "user")
}

// RecordLogin stamps last_login and the cached token hash
func (s *UserStore) RecordLogin(ctx context.Context, id int64, tokenHash string, now time.Time) error {
	_, err := s.db.q(ctx).ExecContext(ctx,
		`UPDATE users SET last_login = $2, token_hash = $3, updated_at = $2 WHERE id = $1`,
		id, now, tokenHash)
	return mapError(err, "user")
}

// PasswordHash returns the local credential hash, empty for external users
func (s *UserStore) PasswordHash(ctx context.Context, username string) (int64, string, error) {
	var (
		id   int64
		hash string
	)
	err := s.db.q(ctx).QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE username = $1`, username).Scan(&id, &hash)
	if err != nil {
		return 0, "", mapError(err, "user")
	}
	return id, hash, nil
}

// UpdateAccessControl writes the permission-affecting fields and the
// permission watermark in one statement
func (s *UserStore) UpdateAccessControl(ctx context.Context, u *models.User) error {
	var perms interface{}
	if u.MenuPermissions != nil {
		data, err := json.Marshal(u.MenuPermissions)
		if err != nil {
			return fmt.Errorf("encode menu_permissions: %w", err)
		}
		perms = data
	}

	query := `
		UPDATE users SET role = $2, is_ptb_admin = $3, is_active = $4,
			menu_permissions = $5, allowed_menus = $6,
			permission_updated_at = $7, updated_at = $7
		WHERE id = $1`
	res, err := s.db.q(ctx).ExecContext(ctx, query,
		u.ID, string(u.Role), u.IsPTBAdmin, u.IsActive, perms, pq.Array(u.AllowedMenus), u.PermissionUpdatedAt)
	if err != nil {
		return mapError(err, "user")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mapError(sql.ErrNoRows, "user")
	}
	return nil
}
