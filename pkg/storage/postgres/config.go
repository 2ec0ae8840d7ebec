package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/models"
)

// ConfigStore persists SMB targets and the system configuration singleton
type ConfigStore struct {
	db *DB
}

// NewConfigStore creates a configuration store
func NewConfigStore(db *DB) *ConfigStore {
	return &ConfigStore{db: db}
}

const smbColumns = `id, name, server, share, username, encrypted_password, domain, port, path_prefix, is_active, created_at, updated_at`

func scanSMB(s scanner) (*models.SMBConfiguration, error) {
	var c models.SMBConfiguration
	if err := s.Scan(&c.ID, &c.Name, &c.Server, &c.Share, &c.Username, &c.EncryptedPassword,
		&c.Domain, &c.Port, &c.PathPrefix, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListSMB returns every SMB configuration, active first
func (s *ConfigStore) ListSMB(ctx context.Context) ([]*models.SMBConfiguration, error) {
	rows, err := s.db.q(ctx).QueryContext(ctx,
		`SELECT `+smbColumns+` FROM smb_configurations ORDER BY is_active DESC, name`)
	if err != nil {
		return nil, mapError(err, "smb configurations")
	}
	defer rows.Close()

	var out []*models.SMBConfiguration
	for rows.Next() {
		c, err := scanSMB(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan smb configuration: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetSMB loads one configuration
func (s *ConfigStore) GetSMB(ctx context.Context, id int64) (*models.SMBConfiguration, error) {
	c, err := scanSMB(s.db.q(ctx).QueryRowContext(ctx,
		`SELECT `+smbColumns+` FROM smb_configurations WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "smb configuration")
	}
	return c, nil
}

// GetActiveSMB returns the active configuration; a KindNotFound error means
// none is active
func (s *ConfigStore) GetActiveSMB(ctx context.Context) (*models.SMBConfiguration, error) {
	c, err := scanSMB(s.db.q(ctx).QueryRowContext(ctx,
		`SELECT `+smbColumns+` FROM smb_configurations WHERE is_active LIMIT 1`))
	if err != nil {
		return nil, mapError(err, "active smb configuration")
	}
	return c, nil
}

// SaveSMB inserts or updates c. When c is active every other row is
// deactivated in the same transaction.
func (s *ConfigStore) SaveSMB(ctx context.Context, c *models.SMBConfiguration) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		if c.IsActive {
			if _, err := s.db.q(ctx).ExecContext(ctx,
				`UPDATE smb_configurations SET is_active = FALSE, updated_at = NOW() WHERE is_active AND id <> $1`,
				c.ID); err != nil {
				return mapError(err, "smb configuration")
			}
		}

		if c.ID == 0 {
			err := s.db.q(ctx).QueryRowContext(ctx, `
				INSERT INTO smb_configurations (name, server, share, username, encrypted_password,
					domain, port, path_prefix, is_active)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				RETURNING id, created_at, updated_at`,
				c.Name, c.Server, c.Share, c.Username, c.EncryptedPassword, c.Domain, c.Port, c.PathPrefix, c.IsActive,
			).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
			return mapError(err, "smb configuration")
		}

		err := s.db.q(ctx).QueryRowContext(ctx, `
			UPDATE smb_configurations SET name = $2, server = $3, share = $4, username = $5,
				encrypted_password = $6, domain = $7, port = $8, path_prefix = $9, is_active = $10,
				updated_at = NOW()
			WHERE id = $1
			RETURNING created_at, updated_at`,
			c.ID, c.Name, c.Server, c.Share, c.Username, c.EncryptedPassword, c.Domain, c.Port, c.PathPrefix, c.IsActive,
		).Scan(&c.CreatedAt, &c.UpdatedAt)
		return mapError(err, "smb configuration")
	})
}

// ActivateSMB makes id the only active configuration
func (s *ConfigStore) ActivateSMB(ctx context.Context, id int64) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.db.q(ctx).ExecContext(ctx,
			`UPDATE smb_configurations SET is_active = FALSE, updated_at = NOW() WHERE is_active AND id <> $1`, id); err != nil {
			return mapError(err, "smb configuration")
		}
		res, err := s.db.q(ctx).ExecContext(ctx,
			`UPDATE smb_configurations SET is_active = TRUE, updated_at = NOW() WHERE id = $1`, id)
		if err != nil {
			return mapError(err, "smb configuration")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperrors.NotFound("smb configuration", id)
		}
		return nil
	})
}

// UpdateSMBPassword rewrites only the ciphertext, used after key migration
func (s *ConfigStore) UpdateSMBPassword(ctx context.Context, id int64, encrypted string) error {
	_, err := s.db.q(ctx).ExecContext(ctx,
		`UPDATE smb_configurations SET encrypted_password = $2, updated_at = NOW() WHERE id = $1`, id, encrypted)
	return mapError(err, "smb configuration")
}

// DeleteSMB removes a configuration
func (s *ConfigStore) DeleteSMB(ctx context.Context, id int64) error {
	res, err := s.db.q(ctx).ExecContext(ctx, `DELETE FROM smb_configurations WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "smb configuration")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("smb configuration", id)
	}
	return nil
}

// GetSystem returns the singleton, creating the default row on first read
func (s *ConfigStore) GetSystem(ctx context.Context) (*models.SystemConfiguration, error) {
	if _, err := s.db.q(ctx).ExecContext(ctx,
		`INSERT INTO system_configuration (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
		models.SystemConfigurationID); err != nil {
		return nil, mapError(err, "system configuration")
	}

	var (
		c     models.SystemConfiguration
		roles pq.StringArray
		users pq.Int64Array
	)
	err := s.db.q(ctx).QueryRowContext(ctx, `
		SELECT id, app_name, app_version, tab_icon, reminders_disabled, reminder_blocked_roles, reminder_blocked_users
		FROM system_configuration WHERE id = $1`, models.SystemConfigurationID).
		Scan(&c.ID, &c.AppName, &c.AppVersion, &c.TabIcon, &c.RemindersDisabled, &roles, &users)
	if err != nil {
		return nil, mapError(err, "system configuration")
	}
	for _, r := range roles {
		c.ReminderBlockedRoles = append(c.ReminderBlockedRoles, models.UserRole(r))
	}
	c.ReminderBlockedUserIDs = []int64(users)
	return &c, nil
}

// PurchaseStore persists the purchase request fields the notification engine reads
type PurchaseStore struct {
	db *DB
}

// NewPurchaseStore creates a purchase request store
func NewPurchaseStore(db *DB) *PurchaseStore {
	return &PurchaseStore{db: db}
}

const purchaseColumns = `id, title, owner_employee_id, owner_username, owner_name, status, created_by, created_at`

func scanPurchase(s scanner) (*models.PurchaseRequest, error) {
	var (
		p      models.PurchaseRequest
		status string
	)
	if err := s.Scan(&p.ID, &p.Title, &p.OwnerEmployeeID, &p.OwnerUsername, &p.OwnerName,
		&status, &p.CreatedByID, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Status = models.PurchaseStatus(status)
	return &p, nil
}

// Get loads a purchase request
func (s *PurchaseStore) Get(ctx context.Context, id int64) (*models.PurchaseRequest, error) {
	p, err := scanPurchase(s.db.q(ctx).QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchase_requests WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "purchase request")
	}
	return p, nil
}

// GetForUpdate loads and row-locks a purchase request
func (s *PurchaseStore) GetForUpdate(ctx context.Context, id int64) (*models.PurchaseRequest, error) {
	p, err := scanPurchase(s.db.q(ctx).QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchase_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapError(err, "purchase request")
	}
	return p, nil
}

// Create inserts p
func (s *PurchaseStore) Create(ctx context.Context, p *models.PurchaseRequest) error {
	if p.Status == "" {
		p.Status = models.PurchasePending
	}
	err := s.db.q(ctx).QueryRowContext(ctx, `
		INSERT INTO purchase_requests (title, owner_employee_id, owner_username, owner_name, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		p.Title, p.OwnerEmployeeID, p.OwnerUsername, p.OwnerName, string(p.Status), p.CreatedByID,
	).Scan(&p.ID, &p.CreatedAt)
	return mapError(err, "purchase request")
}

// UpdateStatus sets the status
func (s *PurchaseStore) UpdateStatus(ctx context.Context, id int64, status models.PurchaseStatus) error {
	_, err := s.db.q(ctx).ExecContext(ctx,
		`UPDATE purchase_requests SET status = $2 WHERE id = $1`, id, string(status))
	return mapError(err, "purchase request")
}

// ReportStore persists user report status
type ReportStore struct {
	db *DB
}

// NewReportStore creates a user report store
func NewReportStore(db *DB) *ReportStore {
	return &ReportStore{db: db}
}

// GetForUpdate loads and row-locks a report
func (s *ReportStore) GetForUpdate(ctx context.Context, id int64) (*models.UserReport, error) {
	var (
		r      models.UserReport
		status string
	)
	err := s.db.q(ctx).QueryRowContext(ctx,
		`SELECT id, reporter_id, title, status FROM user_reports WHERE id = $1 FOR UPDATE`, id).
		Scan(&r.ID, &r.ReporterID, &r.Title, &status)
	if err != nil {
		return nil, mapError(err, "user report")
	}
	r.Status = models.ReportStatus(status)
	return &r, nil
}

// UpdateStatus sets the status
func (s *ReportStore) UpdateStatus(ctx context.Context, id int64, status models.ReportStatus) error {
	_, err := s.db.q(ctx).ExecContext(ctx,
		`UPDATE user_reports SET status = $2 WHERE id = $1`, id, string(status))
	return mapError(err, "user report")
}

// Stores bundles every store over one DB
type Stores struct {
	DB            *DB
	Users         *UserStore
	Sessions      *SessionStore
	Directory     *DirectoryStore
	Events        *EventStore
	Tasks         *TaskStore
	Presence      *PresenceStore
	Notifications *NotificationStore
	Overtime      *OvertimeStore
	Config        *ConfigStore
	Purchases     *PurchaseStore
	Reports       *ReportStore
}

// NewStores constructs every store over db
func NewStores(db *DB) *Stores {
	return &Stores{
		DB:            db,
		Users:         NewUserStore(db),
		Sessions:      NewSessionStore(db),
		Directory:     NewDirectoryStore(db),
		Events:        NewEventStore(db),
		Tasks:         NewTaskStore(db),
		Presence:      NewPresenceStore(db),
		Notifications: NewNotificationStore(db),
		Overtime:      NewOvertimeStore(db),
		Config:        NewConfigStore(db),
		Purchases:     NewPurchaseStore(db),
		Reports:       NewReportStore(db),
	}
}
