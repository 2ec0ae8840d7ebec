package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/auth"
	"github.com/platinummonkey/ptbhub/pkg/cache"
	"github.com/platinummonkey/ptbhub/pkg/httputil"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/rbac"
	"github.com/platinummonkey/ptbhub/pkg/recurrence"
	"github.com/platinummonkey/ptbhub/pkg/signals"
)

// maxEventRange bounds a single calendar range query
const maxEventRange = 400 * 24 * time.Hour

// CalendarService applies the event lifecycle including recurrence
type CalendarService interface {
	Create(ctx context.Context, e *models.CalendarEvent, actor signals.Actor) error
	Update(ctx context.Context, id int64, patch *recurrence.Patch, actor signals.Actor) (*models.CalendarEvent, error)
	Assign(ctx context.Context, id int64, userIDs []int64, actor signals.Actor) ([]int64, error)
	Delete(ctx context.Context, id int64, actor signals.Actor) error
}

// EventReader reads calendar events
type EventReader interface {
	Get(ctx context.Context, id int64) (*models.CalendarEvent, error)
	ListRange(ctx context.Context, from, to time.Time, types []models.EventType) ([]*models.CalendarEvent, error)
}

// CalendarHandlers serves /api/v1/calendar-events
type CalendarHandlers struct {
	service CalendarService
	events  EventReader
	cache   *cache.Cache
}

// NewCalendarHandlers creates the handlers
func NewCalendarHandlers(service CalendarService, events EventReader, c *cache.Cache) *CalendarHandlers {
	return &CalendarHandlers{service: service, events: events, cache: c}
}

// RegisterRoutes registers calendar routes
func (h *CalendarHandlers) RegisterRoutes(router *mux.Router, guard Guard) {
	list := listCache(h.cache, cache.ViewCalendarEvents, nil, h.list)
	router.Handle("/calendar-events/", guard(rbac.ResourceCalendarEvents, list)).Methods(http.MethodGet)
	router.Handle("/calendar-events/", guard(rbac.ResourceCalendarEvents, h.create)).Methods(http.MethodPost)
	router.Handle("/calendar-events/{id:[0-9]+}/", guard(rbac.ResourceCalendarEvents, h.get)).Methods(http.MethodGet)
	router.Handle("/calendar-events/{id:[0-9]+}/", guard(rbac.ResourceCalendarEvents, h.update)).Methods(http.MethodPatch, http.MethodPut)
	router.Handle("/calendar-events/{id:[0-9]+}/", guard(rbac.ResourceCalendarEvents, h.delete)).Methods(http.MethodDelete)
	router.Handle("/calendar-events/{id:[0-9]+}/assign/", guard(rbac.ResourceCalendarEvents, h.assign)).Methods(http.MethodPost)
}

func actorFrom(r *http.Request) signals.Actor {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		return signals.Actor{}
	}
	return signals.Actor{ID: p.ID(), Name: p.DisplayName()}
}

// list handles GET /api/v1/calendar-events/?start=&end=&event_type=
func (h *CalendarHandlers) list(w http.ResponseWriter, r *http.Request) {
	from, err := httputil.ParseQueryDate(r, "start")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	to, err := httputil.ParseQueryDate(r, "end")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if from.IsZero() || to.IsZero() {
		httputil.WriteError(w, r, apperrors.Invalid("Both start and end are required."))
		return
	}
	// end is inclusive of its whole day
	to = to.Add(24*time.Hour - time.Nanosecond)
	if to.Before(from) {
		httputil.WriteError(w, r, apperrors.FieldError("end", "End must not be before start."))
		return
	}
	if to.Sub(from) > maxEventRange {
		httputil.WriteError(w, r, apperrors.Invalid("Date range is too large."))
		return
	}

	var types []models.EventType
	if raw := r.URL.Query().Get("event_type"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			t := models.EventType(strings.TrimSpace(s))
			if !t.Valid() {
				httputil.WriteError(w, r, apperrors.FieldError("event_type", "\""+string(t)+"\" is not a valid choice."))
				return
			}
			types = append(types, t)
		}
	}

	events, err := h.events.ListRange(r.Context(), from, to, types)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if events == nil {
		events = []*models.CalendarEvent{}
	}
	_ = httputil.WriteSuccess(w, events)
}

// get handles GET /api/v1/calendar-events/{id}/
func (h *CalendarHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	e, err := h.events.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, e)
}

// create handles POST /api/v1/calendar-events/
func (h *CalendarHandlers) create(w http.ResponseWriter, r *http.Request) {
	var e models.CalendarEvent
	if err := httputil.ParseJSON(r, &e); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	e.ID = 0
	e.ParentEventID = nil
	actor := actorFrom(r)
	e.CreatedByID = &actor.ID

	if err := h.service.Create(r.Context(), &e, actor); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, &e)
}

// update handles PATCH and PUT /api/v1/calendar-events/{id}/
func (h *CalendarHandlers) update(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var patch recurrence.Patch
	if err := httputil.ParseJSON(r, &patch); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	e, err := h.service.Update(r.Context(), id, &patch, actorFrom(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, e)
}

// delete handles DELETE /api/v1/calendar-events/{id}/
func (h *CalendarHandlers) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := h.service.Delete(r.Context(), id, actorFrom(r)); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// assign handles POST /api/v1/calendar-events/{id}/assign/
func (h *CalendarHandlers) assign(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var req struct {
		UserIDs []int64 `json:"user_ids" validate:"required,min=1,dive,gt=0"`
	}
	if err := httputil.ParseAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	added, err := h.service.Assign(r.Context(), id, req.UserIDs, actorFrom(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if added == nil {
		added = []int64{}
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"added": added})
}
