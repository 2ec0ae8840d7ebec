package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/ptbhub/pkg/auth"
	"github.com/platinummonkey/ptbhub/pkg/httputil"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/observability"
	"github.com/platinummonkey/ptbhub/pkg/rbac"
)

// AccessUpdater applies access-control changes
type AccessUpdater interface {
	Update(ctx context.Context, actor auth.Principal, targetID int64, change auth.AccessChange) (*models.User, error)
}

// PermissionNotifier tells a user their access changed
type PermissionNotifier interface {
	PermissionChanged(ctx context.Context, u *models.User, actorID int64) ([]*models.Notification, error)
}

// AccessHandlers serves /api/v1/users/access-control
type AccessHandlers struct {
	access   AccessUpdater
	notifier PermissionNotifier
	logger   *observability.Logger
}

// NewAccessHandlers creates the handlers; notifier may be nil
func NewAccessHandlers(access AccessUpdater, notifier PermissionNotifier, logger *observability.Logger) *AccessHandlers {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AccessHandlers{access: access, notifier: notifier, logger: logger}
}

// RegisterRoutes registers access-control routes
func (h *AccessHandlers) RegisterRoutes(router *mux.Router, guard Guard) {
	router.Handle("/users/access-control/{id:[0-9]+}/", guard(rbac.ResourceUsers, h.update)).Methods(http.MethodPatch)
}

// update handles PATCH /api/v1/users/access-control/{id}/
func (h *AccessHandlers) update(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var change auth.AccessChange
	if err := httputil.ParseJSON(r, &change); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	actor, _ := auth.PrincipalFrom(r.Context())
	u, err := h.access.Update(r.Context(), actor, id, change)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	if h.notifier != nil {
		if _, err := h.notifier.PermissionChanged(r.Context(), u, actor.ID()); err != nil {
			h.logger.WithError(err).WithField("user_id", u.ID).Warn("permission change notification failed")
		}
	}
	_ = httputil.WriteSuccess(w, u)
}
