package models

import "time"

// NotificationType identifies the domain event behind a notification
type NotificationType string

const (
	NotifyTaskAssigned      NotificationType = "task_assigned"
	NotifyTaskUpdated       NotificationType = "task_updated"
	NotifyTaskMention       NotificationType = "task_mention"
	NotifyLeaveCreated      NotificationType = "leave_created"
	NotifyPurchaseCreated   NotificationType = "purchase_request_created"
	NotifyPurchaseStatus    NotificationType = "purchase_request_status"
	NotifyOvertimeStatus    NotificationType = "overtime_status"
	NotifyReportStatus      NotificationType = "report_status"
	NotifyGroupMemberAdded  NotificationType = "group_member_added"
	NotifyPermissionChanged NotificationType = "permission_changed"
	NotifyEventReminder     NotificationType = "event_reminder"
)

// Notification is the persisted source of truth for a user alert
type Notification struct {
	ID          int64            `json:"id"`
	RecipientID int64            `json:"recipient"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	EventID     *int64           `json:"event_id,omitempty"`
	EventType   NotificationType `json:"event_type"`
	IsRead      bool             `json:"is_read"`
	IsArchived  bool             `json:"is_archived"`
	CreatedAt   time.Time        `json:"created_at"`
}

// PurchaseStatus is the lifecycle of a purchase request
type PurchaseStatus string

const (
	PurchasePending  PurchaseStatus = "pending"
	PurchaseOrdered  PurchaseStatus = "ordered"
	PurchaseDone     PurchaseStatus = "done"
	PurchaseCanceled PurchaseStatus = "canceled"
)

// Terminal reports whether the owner is notified on entering this status
func (s PurchaseStatus) Terminal() bool {
	return s == PurchaseDone || s == PurchaseCanceled
}

// PurchaseRequest is the minimal purchasing record the notification engine reads
type PurchaseRequest struct {
	ID              int64          `json:"id"`
	Title           string         `json:"title"`
	OwnerEmployeeID *int64         `json:"owner_employee"`
	OwnerUsername   string         `json:"owner_username"`
	OwnerName       string         `json:"owner_name"`
	Status          PurchaseStatus `json:"status"`
	CreatedByID     *int64         `json:"created_by"`
	CreatedAt       time.Time      `json:"created_at"`
}

// ReportStatus is the lifecycle of a user report
type ReportStatus string

const (
	ReportOpen       ReportStatus = "open"
	ReportInProgress ReportStatus = "in_progress"
	ReportResolved   ReportStatus = "resolved"
	ReportClosed     ReportStatus = "closed"
)

// UserReport is a bug/feedback report filed by a user
type UserReport struct {
	ID         int64        `json:"id"`
	ReporterID int64        `json:"reporter"`
	Title      string       `json:"title"`
	Status     ReportStatus `json:"status"`
}
