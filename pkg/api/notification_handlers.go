package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/ptbhub/pkg/auth"
	"github.com/platinummonkey/ptbhub/pkg/httputil"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/rbac"
)

// NotificationStore reads and acknowledges a user's notifications
type NotificationStore interface {
	List(ctx context.Context, recipientID int64, includeArchived bool, limit, offset int) ([]*models.Notification, int, error)
	UnreadCount(ctx context.Context, recipientID int64) (int, error)
	MarkRead(ctx context.Context, recipientID, id int64) error
	MarkAllRead(ctx context.Context, recipientID int64) (int64, error)
}

// ViewerSource lists live presence on a channel
type ViewerSource interface {
	Viewers(ctx context.Context, channel string) ([]*models.BoardPresence, error)
}

// NotificationHandlers serves the caller's notifications and board viewers
type NotificationHandlers struct {
	store    NotificationStore
	presence ViewerSource
}

// NewNotificationHandlers creates the handlers; presence may be nil
func NewNotificationHandlers(store NotificationStore, presence ViewerSource) *NotificationHandlers {
	return &NotificationHandlers{store: store, presence: presence}
}

// RegisterRoutes registers notification routes
func (h *NotificationHandlers) RegisterRoutes(router *mux.Router, guard Guard) {
	router.Handle("/notifications/", guard("", h.list)).Methods(http.MethodGet)
	router.Handle("/notifications/unread-count/", guard("", h.unreadCount)).Methods(http.MethodGet)
	router.Handle("/notifications/mark-all-read/", guard("", h.markAllRead)).Methods(http.MethodPost)
	router.Handle("/notifications/{id:[0-9]+}/read/", guard("", h.markRead)).Methods(http.MethodPost)
	if h.presence != nil {
		router.Handle("/board/viewers/", guard(rbac.ResourceKanban, h.viewers)).Methods(http.MethodGet)
	}
}

// list handles GET /api/v1/notifications/
func (h *NotificationHandlers) list(w http.ResponseWriter, r *http.Request) {
	params, err := httputil.ParsePageParams(r, 20, 100)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	archived, err := httputil.ParseQueryBool(r, "include_archived", false)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	items, count, err := h.store.List(r.Context(), p.ID(), archived, params.PageSize, params.Offset())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, httputil.NewPage(r, params, count, items))
}

// unreadCount handles GET /api/v1/notifications/unread-count/
func (h *NotificationHandlers) unreadCount(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	n, err := h.store.UnreadCount(r.Context(), p.ID())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]int{"unread_count": n})
}

// markRead handles POST /api/v1/notifications/{id}/read/
func (h *NotificationHandlers) markRead(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	if err := h.store.MarkRead(r.Context(), p.ID(), id); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"id": id, "is_read": true})
}

// markAllRead handles POST /api/v1/notifications/mark-all-read/
func (h *NotificationHandlers) markAllRead(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	n, err := h.store.MarkAllRead(r.Context(), p.ID())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]int64{"updated_count": n})
}

// viewers handles GET /api/v1/board/viewers/
func (h *NotificationHandlers) viewers(w http.ResponseWriter, r *http.Request) {
	viewers, err := h.presence.Viewers(r.Context(), models.BoardGroup)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if viewers == nil {
		viewers = []*models.BoardPresence{}
	}
	_ = httputil.WriteSuccess(w, viewers)
}
