package models

import "time"

// SMBConfiguration describes a Windows share target. At most one row is active.
type SMBConfiguration struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Server            string    `json:"server"`
	Share             string    `json:"share"`
	Username          string    `json:"username"`
	EncryptedPassword string    `json:"-"`
	Domain            string    `json:"domain"`
	Port              int       `json:"port"`
	PathPrefix        string    `json:"path_prefix"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// SystemConfigurationID is the fixed primary key of the singleton row
const SystemConfigurationID = 1

// SystemConfiguration is the application-wide singleton
type SystemConfiguration struct {
	ID         int64  `json:"id"`
	AppName    string `json:"app_name"`
	AppVersion string `json:"app_version"`
	TabIcon    string `json:"tab_icon"`

	RemindersDisabled      bool       `json:"reminders_disabled"`
	ReminderBlockedRoles   []UserRole `json:"reminder_blocked_roles"`
	ReminderBlockedUserIDs []int64    `json:"reminder_blocked_users"`
}

// RemindersAllowed applies the global reminder policy to a user
func (c *SystemConfiguration) RemindersAllowed(u *User) bool {
	if c == nil {
		return true
	}
	if c.RemindersDisabled {
		return false
	}
	for _, r := range c.ReminderBlockedRoles {
		if r == u.Role {
			return false
		}
	}
	for _, id := range c.ReminderBlockedUserIDs {
		if id == u.ID {
			return false
		}
	}
	return true
}
