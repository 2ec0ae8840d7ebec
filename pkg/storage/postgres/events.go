package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/models"
)

// EventStore persists calendar events, board tasks and their assignees
type EventStore struct {
	db *DB
}

// NewEventStore creates an event store
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

const eventColumns = `
	ce.id, ce.title, ce.description, ce.event_type, ce.status, ce.start_at, ce.end_at,
	ce.all_day, ce.location, ce.color, ce.created_by,
	COALESCE(ARRAY(SELECT a.user_id FROM calendar_event_assignees a WHERE a.event_id = ce.id ORDER BY a.user_id), '{}'),
	ce.meeting_url, ce.project_id, ce.leave_type, ce.applied_by, ce.agent_id, ce.priority,
	ce.labels, ce.group_id, ce.estimated_hours, ce.actual_hours,
	ce.is_repeating, ce.repeat_frequency, ce.parent_event_id, ce.created_at, ce.updated_at`

// PropagatedColumns maps update field names to the columns copied from a
// recurring parent onto its children
var PropagatedColumns = map[string]string{
	"title":       "title",
	"event_type":  "event_type",
	"status":      "status",
	"description": "description",
	"all_day":     "all_day",
	"location":    "location",
	"color":       "color",
	"meeting_url": "meeting_url",
	"project":     "project_id",
	"leave_type":  "leave_type",
	"applied_by":  "applied_by",
	"agent":       "agent_id",
}

func scanEvent(s scanner) (*models.CalendarEvent, error) {
	var (
		e         models.CalendarEvent
		eventType string
		assigned  pq.Int64Array
		labels    pq.StringArray
		freq      sql.NullString
	)
	err := s.Scan(&e.ID, &e.Title, &e.Description, &eventType, &e.Status, &e.Start, &e.End,
		&e.AllDay, &e.Location, &e.Color, &e.CreatedByID, &assigned,
		&e.MeetingURL, &e.ProjectID, &e.LeaveType, &e.AppliedByID, &e.AgentID, &e.Priority,
		&labels, &e.GroupID, &e.EstimatedHours, &e.ActualHours,
		&e.IsRepeating, &freq, &e.ParentEventID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Type = models.EventType(eventType)
	e.AssignedTo = []int64(assigned)
	e.Labels = []string(labels)
	e.RepeatFrequency = models.RepeatFrequency(freq.String)
	return &e, nil
}

func nullFrequency(f models.RepeatFrequency) interface{} {
	if f == models.RepeatNone {
		return nil
	}
	return string(f)
}

func (s *EventStore) listWhere(ctx context.Context, where string, args ...interface{}) ([]*models.CalendarEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM calendar_events ce WHERE ` + where + ` ORDER BY ce.start_at, ce.id`
	rows, err := s.db.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "calendar events")
	}
	defer rows.Close()

	var out []*models.CalendarEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan calendar event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get loads an event by id
func (s *EventStore) Get(ctx context.Context, id int64) (*models.CalendarEvent, error) {
	e, err := scanEvent(s.db.q(ctx).QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM calendar_events ce WHERE ce.id = $1`, id))
	if err != nil {
		return nil, mapError(err, "calendar event")
	}
	return e, nil
}

// GetForUpdate loads and row-locks an event inside the current transaction
func (s *EventStore) GetForUpdate(ctx context.Context, id int64) (*models.CalendarEvent, error) {
	e, err := scanEvent(s.db.q(ctx).QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM calendar_events ce WHERE ce.id = $1 FOR UPDATE OF ce`, id))
	if err != nil {
		return nil, mapError(err, "calendar event")
	}
	return e, nil
}

// Exists reports whether an event of type t exists; an empty t matches any type
func (s *EventStore) Exists(ctx context.Context, id int64, t models.EventType) (bool, error) {
	var ok bool
	err := s.db.q(ctx).QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM calendar_events WHERE id = $1 AND ($2 = '' OR event_type = $2))`,
		id, string(t)).Scan(&ok)
	if err != nil {
		return false, mapError(err, "calendar event")
	}
	return ok, nil
}

// ListRange returns events overlapping [from, to], optionally filtered by type
func (s *EventStore) ListRange(ctx context.Context, from, to time.Time, types []models.EventType) ([]*models.CalendarEvent, error) {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return s.listWhere(ctx, "ce.start_at <= $2 AND ce.end_at >= $1 AND (cardinality($3::text[]) = 0 OR ce.event_type = ANY($3))",
		from, to, pq.Array(names))
}

// ListTasks returns board tasks, newest first within a status
func (s *EventStore) ListTasks(ctx context.Context) ([]*models.CalendarEvent, error) {
	return s.listWhere(ctx, "ce.event_type = 'task' AND ce.parent_event_id IS NULL")
}

// ListChildren returns the materialized instances of a recurring parent
func (s *EventStore) ListChildren(ctx context.Context, parentID int64) ([]*models.CalendarEvent, error) {
	return s.listWhere(ctx, "ce.parent_event_id = $1", parentID)
}

// IsHoliday reports whether a holiday event covers date
func (s *EventStore) IsHoliday(ctx context.Context, date time.Time) (bool, error) {
	var ok bool
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	err := s.db.q(ctx).QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM calendar_events
			WHERE event_type = 'holiday' AND start_at < $2 AND end_at >= $1)`,
		day, day.AddDate(0, 0, 1)).Scan(&ok)
	if err != nil {
		return false, mapError(err, "calendar event")
	}
	return ok, nil
}

// Create inserts e and its assignees
func (s *EventStore) Create(ctx context.Context, e *models.CalendarEvent) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO calendar_events (title, description, event_type, status, start_at, end_at,
				all_day, location, color, created_by, meeting_url, project_id, leave_type, applied_by,
				agent_id, priority, labels, group_id, estimated_hours, actual_hours,
				is_repeating, repeat_frequency, parent_event_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
				$19, $20, $21, $22, $23)
			RETURNING id, created_at, updated_at`
		err := s.db.q(ctx).QueryRowContext(ctx, query,
			e.Title, e.Description, string(e.Type), e.Status, e.Start, e.End,
			e.AllDay, e.Location, e.Color, e.CreatedByID, e.MeetingURL, e.ProjectID, e.LeaveType, e.AppliedByID,
			e.AgentID, e.Priority, pq.Array(nonNilStrings(e.Labels)), e.GroupID, e.EstimatedHours, e.ActualHours,
			e.IsRepeating, nullFrequency(e.RepeatFrequency), e.ParentEventID,
		).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return mapError(err, "calendar event")
		}
		_, err = s.AddAssignees(ctx, e.ID, e.AssignedTo)
		return err
	})
}

// BulkCreate inserts materialized children in batches. IDs are assigned in
// input order.
func (s *EventStore) BulkCreate(ctx context.Context, events []*models.CalendarEvent) error {
	const batch = 200
	const cols = 23
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		for start := 0; start < len(events); start += batch {
			end := start + batch
			if end > len(events) {
				end = len(events)
			}
			chunk := events[start:end]

			var (
				values []string
				args   = make([]interface{}, 0, len(chunk)*cols)
			)
			for i, e := range chunk {
				ph := make([]string, cols)
				for j := range ph {
					ph[j] = fmt.Sprintf("$%d", i*cols+j+1)
				}
				values = append(values, "("+strings.Join(ph, ", ")+")")
				args = append(args,
					e.Title, e.Description, string(e.Type), e.Status, e.Start, e.End,
					e.AllDay, e.Location, e.Color, e.CreatedByID, e.MeetingURL, e.ProjectID, e.LeaveType, e.AppliedByID,
					e.AgentID, e.Priority, pq.Array(nonNilStrings(e.Labels)), e.GroupID, e.EstimatedHours, e.ActualHours,
					e.IsRepeating, nullFrequency(e.RepeatFrequency), e.ParentEventID)
			}

			query := `
				INSERT INTO calendar_events (title, description, event_type, status, start_at, end_at,
					all_day, location, color, created_by, meeting_url, project_id, leave_type, applied_by,
					agent_id, priority, labels, group_id, estimated_hours, actual_hours,
					is_repeating, repeat_frequency, parent_event_id)
				VALUES ` + strings.Join(values, ", ") + `
				RETURNING id, created_at, updated_at`
			rows, err := s.db.q(ctx).QueryContext(ctx, query, args...)
			if err != nil {
				return mapError(err, "calendar events")
			}
			i := 0
			for rows.Next() {
				if i >= len(chunk) {
					break
				}
				if err := rows.Scan(&chunk[i].ID, &chunk[i].CreatedAt, &chunk[i].UpdatedAt); err != nil {
					rows.Close()
					return fmt.Errorf("failed to scan created event: %w", err)
				}
				i++
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return mapError(err, "calendar events")
			}

			var eventIDs, userIDs []int64
			for _, e := range chunk {
				for _, uid := range e.AssignedTo {
					eventIDs = append(eventIDs, e.ID)
					userIDs = append(userIDs, uid)
				}
			}
			if len(eventIDs) > 0 {
				if _, err := s.db.q(ctx).ExecContext(ctx, `
					INSERT INTO calendar_event_assignees (event_id, user_id)
					SELECT * FROM unnest($1::bigint[], $2::bigint[])
					ON CONFLICT DO NOTHING`, pq.Array(eventIDs), pq.Array(userIDs)); err != nil {
					return mapError(err, "calendar event assignees")
				}
			}
		}
		return nil
	})
}

// Update writes every mutable column of e
func (s *EventStore) Update(ctx context.Context, e *models.CalendarEvent) error {
	query := `
		UPDATE calendar_events SET title = $2, description = $3, event_type = $4, status = $5,
			start_at = $6, end_at = $7, all_day = $8, location = $9, color = $10, meeting_url = $11,
			project_id = $12, leave_type = $13, applied_by = $14, agent_id = $15, priority = $16,
			labels = $17, group_id = $18, estimated_hours = $19, actual_hours = $20,
			is_repeating = $21, repeat_frequency = $22, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`
	err := s.db.q(ctx).QueryRowContext(ctx, query, e.ID,
		e.Title, e.Description, string(e.Type), e.Status, e.Start, e.End, e.AllDay, e.Location, e.Color,
		e.MeetingURL, e.ProjectID, e.LeaveType, e.AppliedByID, e.AgentID, e.Priority,
		pq.Array(nonNilStrings(e.Labels)), e.GroupID, e.EstimatedHours, e.ActualHours,
		e.IsRepeating, nullFrequency(e.RepeatFrequency),
	).Scan(&e.UpdatedAt)
	return mapError(err, "calendar event")
}

// UpdateStatus moves a board task to another column
func (s *EventStore) UpdateStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.q(ctx).ExecContext(ctx,
		`UPDATE calendar_events SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return mapError(err, "calendar event")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("calendar event", id)
	}
	return nil
}

// ShiftChildren moves every child of parentID by shift and copies the given
// propagated fields, keyed by update field name, in one statement
func (s *EventStore) ShiftChildren(ctx context.Context, parentID int64, shift time.Duration, fields map[string]interface{}) (int64, error) {
	sets := []string{
		"start_at = start_at + make_interval(secs => $2)",
		"end_at = end_at + make_interval(secs => $2)",
		"updated_at = NOW()",
	}
	args := []interface{}{parentID, shift.Seconds()}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		col, ok := PropagatedColumns[name]
		if !ok {
			return 0, apperrors.Invalid(fmt.Sprintf("field %q cannot be propagated", name))
		}
		value := fields[name]
		if t, ok := value.(models.EventType); ok {
			value = string(t)
		}
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	res, err := s.db.q(ctx).ExecContext(ctx,
		`UPDATE calendar_events SET `+strings.Join(sets, ", ")+` WHERE parent_event_id = $1`, args...)
	if err != nil {
		return 0, mapError(err, "calendar events")
	}
	return res.RowsAffected()
}

// SetChildrenAssignees replaces the assignee set of every child of parentID
func (s *EventStore) SetChildrenAssignees(ctx context.Context, parentID int64, userIDs []int64) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.db.q(ctx).ExecContext(ctx, `
			DELETE FROM calendar_event_assignees
			WHERE event_id IN (SELECT id FROM calendar_events WHERE parent_event_id = $1)`, parentID); err != nil {
			return mapError(err, "calendar event assignees")
		}
		if len(userIDs) == 0 {
			return nil
		}
		_, err := s.db.q(ctx).ExecContext(ctx, `
			INSERT INTO calendar_event_assignees (event_id, user_id)
			SELECT ce.id, u FROM calendar_events ce, unnest($2::bigint[]) AS u
			WHERE ce.parent_event_id = $1
			ON CONFLICT DO NOTHING`, parentID, pq.Array(userIDs))
		return mapError(err, "calendar event assignees")
	})
}

// AddAssignees adds users to an event and returns only the newly added ids
func (s *EventStore) AddAssignees(ctx context.Context, eventID int64, userIDs []int64) ([]int64, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.q(ctx).QueryContext(ctx, `
		INSERT INTO calendar_event_assignees (event_id, user_id)
		SELECT $1, u FROM unnest($2::bigint[]) AS u
		ON CONFLICT DO NOTHING
		RETURNING user_id`, eventID, pq.Array(userIDs))
	if err != nil {
		return nil, mapError(err, "calendar event assignees")
	}
	defer rows.Close()

	var added []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan assignee: %w", err)
		}
		added = append(added, id)
	}
	return added, rows.Err()
}

// SetAssignees replaces the assignee set and returns the ids that were added
func (s *EventStore) SetAssignees(ctx context.Context, eventID int64, userIDs []int64) ([]int64, error) {
	var added []int64
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.db.q(ctx).ExecContext(ctx, `
			DELETE FROM calendar_event_assignees WHERE event_id = $1 AND NOT (user_id = ANY($2))`,
			eventID, pq.Array(userIDs)); err != nil {
			return mapError(err, "calendar event assignees")
		}
		var err error
		added, err = s.AddAssignees(ctx, eventID, userIDs)
		return err
	})
	return added, err
}

// Delete removes an event; children cascade
func (s *EventStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.q(ctx).ExecContext(ctx, `DELETE FROM calendar_events WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "calendar event")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("calendar event", id)
	}
	return nil
}

// GetGroup loads a task group with its members
func (s *EventStore) GetGroup(ctx context.Context, id int64) (*models.TaskGroup, error) {
	var (
		g       models.TaskGroup
		members pq.Int64Array
	)
	err := s.db.q(ctx).QueryRowContext(ctx, `
		SELECT g.id, g.name,
			COALESCE(ARRAY(SELECT m.user_id FROM task_group_members m WHERE m.group_id = g.id ORDER BY m.user_id), '{}')
		FROM task_groups g WHERE g.id = $1`, id).Scan(&g.ID, &g.Name, &members)
	if err != nil {
		return nil, mapError(err, "task group")
	}
	g.MemberIDs = []int64(members)
	return &g, nil
}

// AddGroupMembers adds users to a group and returns the newly added ids
func (s *EventStore) AddGroupMembers(ctx context.Context, groupID int64, userIDs []int64) ([]int64, error) {
	rows, err := s.db.q(ctx).QueryContext(ctx, `
		INSERT INTO task_group_members (group_id, user_id)
		SELECT $1, u FROM unnest($2::bigint[]) AS u
		ON CONFLICT DO NOTHING
		RETURNING user_id`, groupID, pq.Array(userIDs))
	if err != nil {
		return nil, mapError(err, "task group members")
	}
	defer rows.Close()

	var added []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		added = append(added, id)
	}
	return added, rows.Err()
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
