package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/models"
)

// SessionStore persists external token sessions
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a session store
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

const sessionColumns = `
	id, user_id, access_token, refresh_token, token_issued_at, token_expires_at,
	ip, user_agent, last_activity, is_active, created_at`

func scanSession(s scanner) (*models.Session, error) {
	var sess models.Session
	err := s.Scan(&sess.ID, &sess.UserID, &sess.AccessToken, &sess.RefreshToken,
		&sess.TokenIssuedAt, &sess.TokenExpiresAt, &sess.IP, &sess.UserAgent,
		&sess.LastActivity, &sess.IsActive, &sess.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetActiveByAccessToken returns the active session for a token
func (s *SessionStore) GetActiveByAccessToken(ctx context.Context, token string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE access_token = $1 AND is_active`
	sess, err := scanSession(s.db.q(ctx).QueryRowContext(ctx, query, token))
	if err != nil {
		return nil, mapError(err, "session")
	}
	return sess, nil
}

// GetActiveByRefreshToken returns the newest active session holding a refresh token
func (s *SessionStore) GetActiveByRefreshToken(ctx context.Context, refresh string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE refresh_token = $1 AND refresh_token <> '' AND is_active
		ORDER BY id DESC LIMIT 1`
	sess, err := scanSession(s.db.q(ctx).QueryRowContext(ctx, query, refresh))
	if err != nil {
		return nil, mapError(err, "session")
	}
	return sess, nil
}

// GetOrCreate inserts sess keyed by access token. When a concurrent request
// won the insert, the existing row is re-read and returned.
func (s *SessionStore) GetOrCreate(ctx context.Context, sess *models.Session) (*models.Session, bool, error) {
	query := `
		INSERT INTO sessions (user_id, access_token, refresh_token, token_issued_at, token_expires_at,
			ip, user_agent, last_activity, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $8)
		ON CONFLICT (access_token) DO NOTHING
		RETURNING ` + sessionColumns

	created, err := scanSession(s.db.q(ctx).QueryRowContext(ctx, query,
		sess.UserID, sess.AccessToken, sess.RefreshToken, sess.TokenIssuedAt, sess.TokenExpiresAt,
		sess.IP, sess.UserAgent, sess.LastActivity))
	if err == nil {
		return created, true, nil
	}

	mapped := mapError(err, "session")
	if !errors.Is(mapped, apperrors.ErrNotFound) && !IsUniqueViolation(err) {
		return nil, false, mapped
	}

	existing, err := scanSession(s.db.q(ctx).QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE access_token = $1`, sess.AccessToken))
	if err != nil {
		return nil, false, mapError(err, "session")
	}
	if !existing.IsActive {
		if _, err := s.db.q(ctx).ExecContext(ctx,
			`UPDATE sessions SET is_active = TRUE, last_activity = $2 WHERE id = $1`,
			existing.ID, sess.LastActivity); err != nil {
			return nil, false, mapError(err, "session")
		}
		existing.IsActive = true
		existing.LastActivity = sess.LastActivity
	}
	return existing, false, nil
}

// UpdateTokens stores a refreshed token pair
func (s *SessionStore) UpdateTokens(ctx context.Context, id int64, access, refresh string, issuedAt, expiresAt time.Time) error {
	_, err := s.db.q(ctx).ExecContext(ctx, `
		UPDATE sessions SET access_token = $2,
			refresh_token = CASE WHEN $3 <> '' THEN $3 ELSE refresh_token END,
			token_issued_at = $4, token_expires_at = $5, last_activity = $4
		WHERE id = $1`, id, access, refresh, issuedAt, expiresAt)
	return mapError(err, "session")
}

// Touch writes last_activity
func (s *SessionStore) Touch(ctx context.Context, id int64, now time.Time) error {
	_, err := s.db.q(ctx).ExecContext(ctx,
		`UPDATE sessions SET last_activity = $2 WHERE id = $1`, id, now)
	return mapError(err, "session")
}

// Deactivate ends a session
func (s *SessionStore) Deactivate(ctx context.Context, id int64) error {
	_, err := s.db.q(ctx).ExecContext(ctx, `UPDATE sessions SET is_active = FALSE WHERE id = $1`, id)
	return mapError(err, "session")
}

// DeactivateByAccessToken ends the session bound to token, if any
func (s *SessionStore) DeactivateByAccessToken(ctx context.Context, token string) error {
	_, err := s.db.q(ctx).ExecContext(ctx,
		`UPDATE sessions SET is_active = FALSE WHERE access_token = $1 AND is_active`, token)
	return mapError(err, "session")
}

// ExpireStale deactivates sessions whose access token expired without a
// refresh token to renew it
func (s *SessionStore) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.q(ctx).ExecContext(ctx, `
		UPDATE sessions SET is_active = FALSE
		WHERE is_active AND token_expires_at < $1 AND refresh_token = ''`, now)
	if err != nil {
		return 0, mapError(err, "session")
	}
	return res.RowsAffected()
}
