package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/ptbhub/pkg/auth"
	"github.com/platinummonkey/ptbhub/pkg/httputil"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/rbac"
	"github.com/platinummonkey/ptbhub/pkg/tasks"
)

// TaskService applies the comment, timer and reminder rules of board tasks
type TaskService interface {
	Comments(ctx context.Context, taskID int64) ([]*models.TaskComment, error)
	AddComment(ctx context.Context, taskID int64, in tasks.CommentInput, p auth.Principal) (*models.TaskComment, error)
	EditComment(ctx context.Context, id int64, content string, p auth.Principal) (*models.TaskComment, error)
	DeleteComment(ctx context.Context, id int64, p auth.Principal) error
	StartTimer(ctx context.Context, taskID int64, p auth.Principal) (*models.TaskTimeLog, error)
	StopTimer(ctx context.Context, p auth.Principal) (*tasks.StopResult, error)
	AddReminder(ctx context.Context, taskID int64, in tasks.ReminderInput, p auth.Principal) (*models.TaskReminder, error)
}

// TaskHandlers serves comments, time tracking and reminders under /api/v1/tasks
type TaskHandlers struct {
	service TaskService
}

// NewTaskHandlers creates the handlers
func NewTaskHandlers(service TaskService) *TaskHandlers {
	return &TaskHandlers{service: service}
}

// RegisterRoutes registers task routes
func (h *TaskHandlers) RegisterRoutes(router *mux.Router, guard Guard) {
	router.Handle("/tasks/{id:[0-9]+}/comments/", guard(rbac.ResourceKanban, h.comments)).Methods(http.MethodGet)
	router.Handle("/tasks/{id:[0-9]+}/comments/", guard(rbac.ResourceKanban, h.addComment)).Methods(http.MethodPost)
	router.Handle("/tasks/comments/{id:[0-9]+}/", guard(rbac.ResourceKanban, h.editComment)).Methods(http.MethodPatch)
	router.Handle("/tasks/comments/{id:[0-9]+}/", guard(rbac.ResourceKanban, h.deleteComment)).Methods(http.MethodDelete)
	router.Handle("/tasks/{id:[0-9]+}/timer/start/", guard(rbac.ResourceKanban, h.startTimer)).Methods(http.MethodPost)
	router.Handle("/tasks/timer/stop/", guard(rbac.ResourceKanban, h.stopTimer)).Methods(http.MethodPost)
	router.Handle("/tasks/{id:[0-9]+}/reminders/", guard(rbac.ResourceKanban, h.addReminder)).Methods(http.MethodPost)
}

// comments handles GET /api/v1/tasks/{id}/comments/
func (h *TaskHandlers) comments(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	comments, err := h.service.Comments(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if comments == nil {
		comments = []*models.TaskComment{}
	}
	_ = httputil.WriteSuccess(w, comments)
}

// addComment handles POST /api/v1/tasks/{id}/comments/
func (h *TaskHandlers) addComment(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var in tasks.CommentInput
	if err := httputil.ParseJSON(r, &in); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	c, err := h.service.AddComment(r.Context(), id, in, p)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, c)
}

// editComment handles PATCH /api/v1/tasks/comments/{id}/
func (h *TaskHandlers) editComment(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	c, err := h.service.EditComment(r.Context(), id, req.Content, p)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, c)
}

// deleteComment handles DELETE /api/v1/tasks/comments/{id}/
func (h *TaskHandlers) deleteComment(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	if err := h.service.DeleteComment(r.Context(), id, p); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// startTimer handles POST /api/v1/tasks/{id}/timer/start/
func (h *TaskHandlers) startTimer(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	l, err := h.service.StartTimer(r.Context(), id, p)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, l)
}

// stopTimer handles POST /api/v1/tasks/timer/stop/
func (h *TaskHandlers) stopTimer(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	res, err := h.service.StopTimer(r.Context(), p)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, res)
}

// addReminder handles POST /api/v1/tasks/{id}/reminders/
func (h *TaskHandlers) addReminder(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var in tasks.ReminderInput
	if err := httputil.ParseJSON(r, &in); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	rem, err := h.service.AddReminder(r.Context(), id, in, p)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, rem)
}
