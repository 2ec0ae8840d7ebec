package models

import "fmt"

// WebSocket group names
const (
	BoardGroup    = "task_board"
	CalendarGroup = "ptb_calendar"
)

// TaskGroupName is the group of one task detail drawer
func TaskGroupName(taskID int64) string {
	return fmt.Sprintf("task_%d", taskID)
}

// NotificationsGroup is the per-user notification channel
func NotificationsGroup(userID int64) string {
	return fmt.Sprintf("notifications_%d", userID)
}
