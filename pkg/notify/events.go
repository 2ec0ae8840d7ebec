package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/platinummonkey/ptbhub/pkg/models"
)

const dateLayout = "2006-01-02"

// taskAudience is assignees plus group members, minus PTB admins and actor
func (e *Engine) taskAudience(ctx context.Context, task *models.CalendarEvent, assignees []int64, actorID int64) ([]int64, error) {
	set := newRecipientSet()
	set.add(assignees...)
	members, err := e.groupMembers(ctx, task.GroupID)
	if err != nil {
		return nil, err
	}
	set.add(members...)

	admins, err := e.adminIDs(ctx)
	if err != nil {
		return nil, err
	}
	set.remove(admins...)
	set.remove(actorID)
	return set.ids(), nil
}

// TaskAssigned notifies users newly added to a task. An empty added list
// means every current assignee.
func (e *Engine) TaskAssigned(ctx context.Context, task *models.CalendarEvent, added []int64, actorID int64) ([]*models.Notification, error) {
	if len(added) == 0 {
		added = task.AssignedTo
	}
	ids, err := e.taskAudience(ctx, task, added, actorID)
	if err != nil {
		return nil, err
	}
	return e.Send(ctx, drafts(ids, func(id int64) Draft {
		return Draft{
			Recipient: id,
			Title:     "New Task Assigned",
			Message:   fmt.Sprintf("You have been assigned to task: %s", task.Title),
			EventID:   &task.ID,
			Type:      models.NotifyTaskAssigned,
		}
	}))
}

// TaskUpdated notifies a task's audience of a change
func (e *Engine) TaskUpdated(ctx context.Context, task *models.CalendarEvent, actorID int64, actorName string) ([]*models.Notification, error) {
	ids, err := e.taskAudience(ctx, task, task.AssignedTo, actorID)
	if err != nil {
		return nil, err
	}
	return e.Send(ctx, drafts(ids, func(id int64) Draft {
		return Draft{
			Recipient: id,
			Title:     "Task Updated",
			Message:   fmt.Sprintf("Task \"%s\" was updated by %s", task.Title, actorName),
			EventID:   &task.ID,
			Type:      models.NotifyTaskUpdated,
		}
	}))
}

// LeaveCreated notifies the covering agent and every PTB admin
func (e *Engine) LeaveCreated(ctx context.Context, leave *models.CalendarEvent, applicant string, actorID int64) ([]*models.Notification, error) {
	set := newRecipientSet()
	if leave.AgentID != nil {
		set.add(*leave.AgentID)
	}
	admins, err := e.adminIDs(ctx)
	if err != nil {
		return nil, err
	}
	set.add(admins...)
	set.remove(actorID)

	period := leave.Start.Format(dateLayout)
	if end := leave.End.Format(dateLayout); end != period {
		period += " to " + end
	}
	return e.Send(ctx, drafts(set.ids(), func(id int64) Draft {
		msg := fmt.Sprintf("%s requested %s leave (%s)", applicant, leaveType(leave), period)
		if leave.AgentID != nil && *leave.AgentID == id {
			msg = fmt.Sprintf("%s named you as agent during their %s leave (%s)", applicant, leaveType(leave), period)
		}
		return Draft{
			Recipient: id,
			Title:     "New Leave Request",
			Message:   msg,
			EventID:   &leave.ID,
			Type:      models.NotifyLeaveCreated,
		}
	}))
}

func leaveType(e *models.CalendarEvent) string {
	if e.LeaveType == "" {
		return "a"
	}
	return strings.ReplaceAll(e.LeaveType, "_", " ")
}

// PurchaseCreated notifies every PTB admin of a new purchase request
func (e *Engine) PurchaseCreated(ctx context.Context, pr *models.PurchaseRequest) ([]*models.Notification, error) {
	ids, err := e.adminIDs(ctx)
	if err != nil {
		return nil, err
	}
	ref := fmt.Sprintf("purchase:%d", pr.ID)
	return e.Send(ctx, drafts(ids, func(id int64) Draft {
		return Draft{
			Recipient: id,
			Title:     "New Purchase Request",
			Message:   fmt.Sprintf("A new purchase request was submitted: %s", pr.Title),
			Type:      models.NotifyPurchaseCreated,
			Ref:       ref,
		}
	}))
}

// PurchaseStatusChanged notifies the owner when a request reaches done or
// canceled. Other transitions are silent.
func (e *Engine) PurchaseStatusChanged(ctx context.Context, pr *models.PurchaseRequest, previous models.PurchaseStatus) ([]*models.Notification, error) {
	if pr.Status == previous || !pr.Status.Terminal() {
		return nil, nil
	}
	owner, err := e.matcher.ResolveOwner(ctx, pr)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		e.logger.WithField("purchase_request_id", pr.ID).Debug("purchase request owner not resolved, skipping notification")
		return nil, nil
	}

	title, verb := "Purchase Request Completed", "has been completed"
	if pr.Status == models.PurchaseCanceled {
		title, verb = "Purchase Request Canceled", "has been canceled"
	}
	return e.Send(ctx, []Draft{{
		Recipient: owner.ID,
		Title:     title,
		Message:   fmt.Sprintf("Your purchase request \"%s\" %s", pr.Title, verb),
		Type:      models.NotifyPurchaseStatus,
		Ref:       fmt.Sprintf("purchase:%d:%s", pr.ID, pr.Status),
	}})
}

// OvertimeStatusChanged notifies the owner of each request moved to a final
// status. Requests whose employee has no login are skipped.
func (e *Engine) OvertimeStatusChanged(ctx context.Context, reqs []*models.OvertimeRequest, status models.OvertimeStatus) ([]*models.Notification, error) {
	if !status.Final() {
		return nil, nil
	}
	title, word := "Overtime Request Approved", "approved"
	if status == models.OvertimeRejected {
		title, word = "Overtime Request Rejected", "rejected"
	}

	var out []Draft
	for _, r := range reqs {
		u, err := e.matcher.UserForEmployee(ctx, &models.Employee{
			ID:    r.EmployeeID,
			EmpID: r.EmployeeEmpID,
			Name:  r.EmployeeName,
		})
		if err != nil {
			return nil, err
		}
		if u == nil {
			e.logger.WithField("overtime_request_id", r.ID).Debug("overtime owner has no user, skipping notification")
			continue
		}
		out = append(out, Draft{
			Recipient: u.ID,
			Title:     title,
			Message:   fmt.Sprintf("Your overtime request for %s has been %s", r.RequestDate.Format(dateLayout), word),
			Type:      models.NotifyOvertimeStatus,
			Ref:       fmt.Sprintf("overtime:%d", r.ID),
		})
	}
	return e.Send(ctx, out)
}

// ReportStatusChanged notifies the reporter of a status change
func (e *Engine) ReportStatusChanged(ctx context.Context, report *models.UserReport, previous models.ReportStatus, actorID int64) ([]*models.Notification, error) {
	if report.Status == previous || report.ReporterID == actorID {
		return nil, nil
	}
	return e.Send(ctx, []Draft{{
		Recipient: report.ReporterID,
		Title:     "Report Status Updated",
		Message:   fmt.Sprintf("Your report \"%s\" is now %s", report.Title, strings.ReplaceAll(string(report.Status), "_", " ")),
		Type:      models.NotifyReportStatus,
		Ref:       fmt.Sprintf("report:%d:%s", report.ID, report.Status),
	}})
}

// GroupMembersAdded notifies users newly added to a task group
func (e *Engine) GroupMembersAdded(ctx context.Context, group *models.TaskGroup, added []int64, actorID int64) ([]*models.Notification, error) {
	set := newRecipientSet()
	set.add(added...)
	set.remove(actorID)
	ref := fmt.Sprintf("group:%d", group.ID)
	return e.Send(ctx, drafts(set.ids(), func(id int64) Draft {
		return Draft{
			Recipient: id,
			Title:     "Added to Task Group",
			Message:   fmt.Sprintf("You have been added to the task group \"%s\"", group.Name),
			Type:      models.NotifyGroupMemberAdded,
			Ref:       ref,
		}
	}))
}

// MentionTargets returns the users a comment on task may mention: its
// assignees and the members of its group
func (e *Engine) MentionTargets(ctx context.Context, task *models.CalendarEvent) (map[int64]bool, error) {
	valid := map[int64]bool{}
	for _, id := range task.AssignedTo {
		valid[id] = true
	}
	members, err := e.groupMembers(ctx, task.GroupID)
	if err != nil {
		return nil, err
	}
	for _, id := range members {
		valid[id] = true
	}
	return valid, nil
}

// Mentioned notifies the valid mention targets of a comment
func (e *Engine) Mentioned(ctx context.Context, task *models.CalendarEvent, comment *models.TaskComment, actorName string) ([]*models.Notification, error) {
	valid, err := e.MentionTargets(ctx, task)
	if err != nil {
		return nil, err
	}
	set := newRecipientSet()
	for _, id := range comment.Mentions {
		if valid[id] {
			set.add(id)
		}
	}
	set.remove(comment.AuthorID)
	return e.Send(ctx, drafts(set.ids(), func(id int64) Draft {
		return Draft{
			Recipient: id,
			Title:     "You were mentioned",
			Message:   fmt.Sprintf("%s mentioned you on task \"%s\"", actorName, task.Title),
			EventID:   &task.ID,
			Type:      models.NotifyTaskMention,
		}
	}))
}

// PermissionChanged tells a user their access was changed by someone else
func (e *Engine) PermissionChanged(ctx context.Context, u *models.User, actorID int64) ([]*models.Notification, error) {
	if u.ID == actorID {
		return nil, nil
	}
	return e.Send(ctx, []Draft{{
		Recipient: u.ID,
		Title:     "Permissions Updated",
		Message:   "Your access permissions were changed by an administrator",
		Type:      models.NotifyPermissionChanged,
		Ref:       fmt.Sprintf("permissions:%d", u.PermissionUpdatedAt.UnixNano()),
	}})
}

// EventReminder reminds users of an upcoming event, honouring the global
// reminder policy
func (e *Engine) EventReminder(ctx context.Context, event *models.CalendarEvent, userIDs []int64) ([]*models.Notification, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var policy *models.SystemConfiguration
	if e.system != nil {
		p, err := e.system.GetSystem(ctx)
		if err != nil {
			return nil, err
		}
		policy = p
	}
	if policy != nil && policy.RemindersDisabled {
		return nil, nil
	}
	users, err := e.users.ListByIDs(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	var out []Draft
	for _, u := range users {
		if !u.IsActive || !policy.RemindersAllowed(u) {
			continue
		}
		out = append(out, Draft{
			Recipient: u.ID,
			Title:     "Event Reminder",
			Message:   fmt.Sprintf("\"%s\" starts at %s", event.Title, event.Start.Format("2006-01-02 15:04")),
			EventID:   &event.ID,
			Type:      models.NotifyEventReminder,
		})
	}
	return e.Send(ctx, out)
}
