package postgres

import (
	"context"
	"fmt"
)

// Migration is one forward schema step
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the schema steps in order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create directory tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS departments (
					id BIGSERIAL PRIMARY KEY,
					code VARCHAR(32) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					is_enabled BOOLEAN NOT NULL DEFAULT TRUE
				);

				CREATE TABLE IF NOT EXISTS employees (
					id BIGSERIAL PRIMARY KEY,
					emp_id VARCHAR(64) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					department_id BIGINT REFERENCES departments(id) ON DELETE SET NULL,
					is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
					exclude_from_reports BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS projects (
					id BIGSERIAL PRIMARY KEY,
					code VARCHAR(64) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL
				);

				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					external_id VARCHAR(255) UNIQUE,
					username VARCHAR(150) NOT NULL UNIQUE,
					email VARCHAR(255) NOT NULL DEFAULT '',
					first_name VARCHAR(150) NOT NULL DEFAULT '',
					last_name VARCHAR(150) NOT NULL DEFAULT '',
					worker_id VARCHAR(64) NOT NULL DEFAULT '',
					role VARCHAR(20) NOT NULL DEFAULT 'user',
					is_ptb_admin BOOLEAN NOT NULL DEFAULT FALSE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					menu_permissions JSONB,
					allowed_menus TEXT[] NOT NULL DEFAULT '{}',
					preferences JSONB NOT NULL DEFAULT '{}',
					permission_updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					profile_synced_at TIMESTAMPTZ,
					token_hash VARCHAR(64) NOT NULL DEFAULT '',
					password_hash VARCHAR(255) NOT NULL DEFAULT '',
					last_login TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_users_worker_id ON users(worker_id);

				CREATE TABLE IF NOT EXISTS sessions (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					access_token TEXT NOT NULL UNIQUE,
					refresh_token TEXT NOT NULL DEFAULT '',
					token_issued_at TIMESTAMPTZ NOT NULL,
					token_expires_at TIMESTAMPTZ NOT NULL,
					ip VARCHAR(64) NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					last_activity TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_sessions_refresh ON sessions(refresh_token) WHERE is_active;
			`,
		},
		{
			Version:     2,
			Description: "Create calendar and task tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS task_groups (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL
				);
				CREATE TABLE IF NOT EXISTS task_group_members (
					group_id BIGINT NOT NULL REFERENCES task_groups(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					PRIMARY KEY (group_id, user_id)
				);

				CREATE TABLE IF NOT EXISTS calendar_events (
					id BIGSERIAL PRIMARY KEY,
					title VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					event_type VARCHAR(20) NOT NULL,
					status VARCHAR(50) NOT NULL DEFAULT '',
					start_at TIMESTAMPTZ NOT NULL,
					end_at TIMESTAMPTZ NOT NULL,
					all_day BOOLEAN NOT NULL DEFAULT FALSE,
					location VARCHAR(255) NOT NULL DEFAULT '',
					color VARCHAR(7) NOT NULL DEFAULT '',
					created_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					meeting_url TEXT NOT NULL DEFAULT '',
					project_id BIGINT REFERENCES projects(id) ON DELETE SET NULL,
					leave_type VARCHAR(50) NOT NULL DEFAULT '',
					applied_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					agent_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
					priority VARCHAR(20) NOT NULL DEFAULT '',
					labels TEXT[] NOT NULL DEFAULT '{}',
					group_id BIGINT REFERENCES task_groups(id) ON DELETE SET NULL,
					estimated_hours NUMERIC(8,2),
					actual_hours NUMERIC(8,2),
					is_repeating BOOLEAN NOT NULL DEFAULT FALSE,
					repeat_frequency VARCHAR(10),
					parent_event_id BIGINT REFERENCES calendar_events(id) ON DELETE CASCADE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CHECK (start_at <= end_at)
				);
				CREATE INDEX IF NOT EXISTS idx_events_parent ON calendar_events(parent_event_id);
				CREATE INDEX IF NOT EXISTS idx_events_range ON calendar_events(start_at, end_at);

				CREATE TABLE IF NOT EXISTS calendar_event_assignees (
					event_id BIGINT NOT NULL REFERENCES calendar_events(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					PRIMARY KEY (event_id, user_id)
				);

				CREATE TABLE IF NOT EXISTS task_comments (
					id BIGSERIAL PRIMARY KEY,
					task_id BIGINT NOT NULL REFERENCES calendar_events(id) ON DELETE CASCADE,
					author_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					content TEXT NOT NULL,
					parent_id BIGINT REFERENCES task_comments(id) ON DELETE CASCADE,
					mentions BIGINT[] NOT NULL DEFAULT '{}',
					is_edited BOOLEAN NOT NULL DEFAULT FALSE,
					edited_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS task_subtasks (
					id BIGSERIAL PRIMARY KEY,
					task_id BIGINT NOT NULL REFERENCES calendar_events(id) ON DELETE CASCADE,
					title VARCHAR(255) NOT NULL,
					sort_order INT NOT NULL,
					is_done BOOLEAN NOT NULL DEFAULT FALSE,
					UNIQUE (task_id, sort_order)
				);

				CREATE TABLE IF NOT EXISTS task_time_logs (
					id BIGSERIAL PRIMARY KEY,
					task_id BIGINT NOT NULL REFERENCES calendar_events(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					started_at TIMESTAMPTZ NOT NULL,
					ended_at TIMESTAMPTZ,
					duration_minutes INT NOT NULL DEFAULT 0
				);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_time_logs_running ON task_time_logs(user_id) WHERE ended_at IS NULL;

				CREATE TABLE IF NOT EXISTS task_activities (
					id BIGSERIAL PRIMARY KEY,
					task_id BIGINT NOT NULL REFERENCES calendar_events(id) ON DELETE CASCADE,
					actor_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					verb VARCHAR(50) NOT NULL,
					detail TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS board_presence (
					user_id BIGINT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
					display_name VARCHAR(255) NOT NULL DEFAULT '',
					editing_task_id BIGINT REFERENCES calendar_events(id) ON DELETE SET NULL,
					last_seen TIMESTAMPTZ NOT NULL,
					channel VARCHAR(255) NOT NULL DEFAULT ''
				);
			`,
		},
		{
			Version:     3,
			Description: "Create notification, overtime and configuration tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS notifications (
					id BIGSERIAL PRIMARY KEY,
					recipient_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					title VARCHAR(255) NOT NULL,
					message TEXT NOT NULL,
					event_id BIGINT,
					event_type VARCHAR(50) NOT NULL,
					is_read BOOLEAN NOT NULL DEFAULT FALSE,
					is_archived BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, created_at DESC);

				CREATE TABLE IF NOT EXISTS overtime_requests (
					id BIGSERIAL PRIMARY KEY,
					employee_id BIGINT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
					project_id BIGINT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
					request_date DATE NOT NULL,
					time_start VARCHAR(5) NOT NULL,
					time_end VARCHAR(5) NOT NULL,
					total_hours NUMERIC(5,2) NOT NULL,
					breaks JSONB NOT NULL DEFAULT '[]',
					reason TEXT NOT NULL DEFAULT '',
					detail TEXT NOT NULL DEFAULT '',
					is_weekend BOOLEAN NOT NULL DEFAULT FALSE,
					is_holiday BOOLEAN NOT NULL DEFAULT FALSE,
					status VARCHAR(10) NOT NULL DEFAULT 'pending',
					status_changed_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					approved_at TIMESTAMPTZ,
					rejected_at TIMESTAMPTZ,
					employee_name VARCHAR(255) NOT NULL DEFAULT '',
					department_code VARCHAR(32) NOT NULL DEFAULT '',
					project_name VARCHAR(255) NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (employee_id, project_id, request_date)
				);
				CREATE INDEX IF NOT EXISTS idx_overtime_date ON overtime_requests(request_date);

				CREATE TABLE IF NOT EXISTS smb_configurations (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(100) NOT NULL,
					server VARCHAR(255) NOT NULL,
					share VARCHAR(255) NOT NULL,
					username VARCHAR(255) NOT NULL DEFAULT '',
					encrypted_password TEXT NOT NULL DEFAULT '',
					domain VARCHAR(255) NOT NULL DEFAULT '',
					port INT NOT NULL DEFAULT 445,
					path_prefix VARCHAR(255) NOT NULL DEFAULT '',
					is_active BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_smb_single_active ON smb_configurations(is_active) WHERE is_active;

				CREATE TABLE IF NOT EXISTS system_configuration (
					id INT PRIMARY KEY CHECK (id = 1),
					app_name VARCHAR(100) NOT NULL DEFAULT 'PTB Hub',
					app_version VARCHAR(50) NOT NULL DEFAULT '',
					tab_icon TEXT NOT NULL DEFAULT '',
					reminders_disabled BOOLEAN NOT NULL DEFAULT FALSE,
					reminder_blocked_roles TEXT[] NOT NULL DEFAULT '{}',
					reminder_blocked_users BIGINT[] NOT NULL DEFAULT '{}'
				);

				CREATE TABLE IF NOT EXISTS purchase_requests (
					id BIGSERIAL PRIMARY KEY,
					title VARCHAR(255) NOT NULL,
					owner_employee_id BIGINT REFERENCES employees(id) ON DELETE SET NULL,
					owner_username VARCHAR(150) NOT NULL DEFAULT '',
					owner_name VARCHAR(255) NOT NULL DEFAULT '',
					status VARCHAR(20) NOT NULL DEFAULT 'pending',
					created_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS user_reports (
					id BIGSERIAL PRIMARY KEY,
					reporter_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					title VARCHAR(255) NOT NULL,
					status VARCHAR(20) NOT NULL DEFAULT 'open'
				);
			`,
		},
		{
			Version:     4,
			Description: "Create task reminders and constrain event colors",
			SQL: `
				CREATE TABLE IF NOT EXISTS task_reminders (
					id BIGSERIAL PRIMARY KEY,
					task_id BIGINT NOT NULL REFERENCES calendar_events(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					remind_at TIMESTAMPTZ NOT NULL,
					sent BOOLEAN NOT NULL DEFAULT FALSE
				);
				CREATE INDEX IF NOT EXISTS idx_task_reminders_due ON task_reminders(remind_at) WHERE NOT sent;

				ALTER TABLE calendar_events DROP CONSTRAINT IF EXISTS calendar_events_color_check;
				ALTER TABLE calendar_events ADD CONSTRAINT calendar_events_color_check
					CHECK (color = '' OR color ~ '^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$') NOT VALID;
			`,
		},
	}
}

// RunMigrations applies every migration not yet recorded
func (d *DB) RunMigrations(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, m := range Migrations() {
		if applied[m.Version] {
			continue
		}
		d.logger.WithField("version", m.Version).Infof("running migration: %s", m.Description)

		err := d.WithTx(ctx, func(ctx context.Context) error {
			if _, err := d.q(ctx).ExecContext(ctx, m.SQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
			}
			_, err := d.q(ctx).ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
				m.Version, m.Description)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}
