package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/auth"
	"github.com/platinummonkey/ptbhub/pkg/cache"
	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/httputil"
	"github.com/platinummonkey/ptbhub/pkg/jobs"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/overtime"
	"github.com/platinummonkey/ptbhub/pkg/rbac"
	"github.com/platinummonkey/ptbhub/pkg/storage/postgres"
)

// OvertimeService applies the overtime write rules
type OvertimeService interface {
	Create(ctx context.Context, in overtime.Input, p auth.Principal) (*models.OvertimeRequest, error)
	Update(ctx context.Context, id int64, in overtime.Input, p auth.Principal) (*models.OvertimeRequest, error)
	Patch(ctx context.Context, id int64, pt overtime.Patch, p auth.Principal) (*models.OvertimeRequest, error)
	Delete(ctx context.Context, id int64, p auth.Principal) error
	BulkUpdateStatus(ctx context.Context, ids []int64, status models.OvertimeStatus, p auth.Principal) ([]*models.OvertimeRequest, error)
	Summary(ctx context.Context, date time.Time) (*overtime.Summary, error)
}

// OvertimeReader reads overtime requests
type OvertimeReader interface {
	Get(ctx context.Context, id int64) (*models.OvertimeRequest, error)
	List(ctx context.Context, f postgres.OvertimeFilter) ([]*models.OvertimeRequest, int, error)
}

// ExportQueue schedules workbook exports
type ExportQueue interface {
	Enqueue(ctx context.Context, j *jobs.Job) error
}

// OvertimeHandlers serves /api/v1/overtime-requests
type OvertimeHandlers struct {
	service OvertimeService
	reader  OvertimeReader
	exports ExportQueue
	cache   *cache.Cache
	clock   clock.Clock
}

// NewOvertimeHandlers creates the handlers; exports and c may be nil
func NewOvertimeHandlers(service OvertimeService, reader OvertimeReader, exports ExportQueue, c *cache.Cache, clk clock.Clock) *OvertimeHandlers {
	if clk == nil {
		clk = clock.New()
	}
	return &OvertimeHandlers{service: service, reader: reader, exports: exports, cache: c, clock: clk}
}

// RegisterRoutes registers overtime routes
func (h *OvertimeHandlers) RegisterRoutes(router *mux.Router, guard Guard) {
	list := listCache(h.cache, cache.ViewOvertimeRequests, principalID, h.list)
	router.Handle("/overtime-requests/", guard(rbac.ResourceOvertimeHistory, list)).Methods(http.MethodGet)
	router.Handle("/overtime-requests/", guard(rbac.ResourceOvertimeForm, h.create)).Methods(http.MethodPost)
	router.Handle("/overtime-requests/bulk-update-status/", guard(rbac.ResourceOvertimeForm, h.bulkUpdateStatus)).Methods(http.MethodPost)
	router.Handle("/overtime-requests/summary/", guard(rbac.ResourceOvertimeHistory, h.summary)).Methods(http.MethodGet)
	router.Handle("/overtime-requests/export/{kind:daily|monthly}/", guard(rbac.ResourceOvertimeForm, h.export)).Methods(http.MethodPost)
	router.Handle("/overtime-requests/{id:[0-9]+}/", guard(rbac.ResourceOvertimeHistory, h.get)).Methods(http.MethodGet)
	router.Handle("/overtime-requests/{id:[0-9]+}/", guard(rbac.ResourceOvertimeForm, h.update)).Methods(http.MethodPut)
	router.Handle("/overtime-requests/{id:[0-9]+}/", guard(rbac.ResourceOvertimeForm, h.patch)).Methods(http.MethodPatch)
	router.Handle("/overtime-requests/{id:[0-9]+}/", guard(rbac.ResourceOvertimeForm, h.delete)).Methods(http.MethodDelete)
}

// list handles GET /api/v1/overtime-requests/
func (h *OvertimeHandlers) list(w http.ResponseWriter, r *http.Request) {
	params, err := httputil.ParsePageParams(r, 50, 500)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	f := postgres.OvertimeFilter{Limit: params.PageSize, Offset: params.Offset()}

	q := r.URL.Query()
	if s := q.Get("status"); s != "" {
		status := models.OvertimeStatus(s)
		if !status.Valid() {
			httputil.WriteError(w, r, apperrors.FieldError("status", "\""+s+"\" is not a valid choice."))
			return
		}
		f.Status = status
	}
	if f.EmployeeID, err = parseOptionalInt64(r, "employee"); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	for key, dst := range map[string]**time.Time{"date_from": &f.From, "date_to": &f.To} {
		d, err := httputil.ParseQueryDate(r, key)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		if !d.IsZero() {
			*dst = &d
		}
	}

	reqs, count, err := h.reader.List(r.Context(), f)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, httputil.NewPage(r, params, count, reqs))
}

// get handles GET /api/v1/overtime-requests/{id}/
func (h *OvertimeHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	o, err := h.reader.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, o)
}

// create handles POST /api/v1/overtime-requests/
func (h *OvertimeHandlers) create(w http.ResponseWriter, r *http.Request) {
	var in overtime.Input
	if err := httputil.ParseAndValidate(r, &in); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	o, err := h.service.Create(r.Context(), in, p)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, o)
}

// update handles PUT /api/v1/overtime-requests/{id}/
func (h *OvertimeHandlers) update(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var in overtime.Input
	if err := httputil.ParseAndValidate(r, &in); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	o, err := h.service.Update(r.Context(), id, in, p)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, o)
}

// patch handles PATCH /api/v1/overtime-requests/{id}/
func (h *OvertimeHandlers) patch(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var pt overtime.Patch
	if err := httputil.ParseAndValidate(r, &pt); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	o, err := h.service.Patch(r.Context(), id, pt, p)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, o)
}

// delete handles DELETE /api/v1/overtime-requests/{id}/
func (h *OvertimeHandlers) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	if err := h.service.Delete(r.Context(), id, p); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

type bulkStatusRequest struct {
	IDs    []int64               `json:"ids" validate:"required,min=1"`
	Status models.OvertimeStatus `json:"status" validate:"required,oneof=pending approved rejected"`
}

// bulkUpdateStatus handles POST /api/v1/overtime-requests/bulk-update-status/
func (h *OvertimeHandlers) bulkUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req bulkStatusRequest
	if err := httputil.ParseAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	updated, err := h.service.BulkUpdateStatus(r.Context(), req.IDs, req.Status, p)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"updated_count": len(updated),
		"status":        req.Status,
	})
}

// summary handles GET /api/v1/overtime-requests/summary/?date=
func (h *OvertimeHandlers) summary(w http.ResponseWriter, r *http.Request) {
	date, err := h.dateParam(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	s, err := h.service.Summary(r.Context(), date)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, s)
}

// export handles POST /api/v1/overtime-requests/export/{daily|monthly}/?date=
func (h *OvertimeHandlers) export(w http.ResponseWriter, r *http.Request) {
	if h.exports == nil {
		httputil.WriteError(w, r, apperrors.New(apperrors.KindInfrastructure, "exports_unavailable", "Excel export is not configured."))
		return
	}
	date, err := h.dateParam(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	kind := jobs.KindDaily
	if mux.Vars(r)["kind"] == "monthly" {
		kind = jobs.KindMonthly
	}
	j := jobs.NewJob(kind, date, h.clock.Now())
	if err := h.exports.Enqueue(r.Context(), j); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	period := overtime.PeriodFor(date)
	_ = httputil.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":       j.ID,
		"kind":         j.Kind,
		"date":         j.Date,
		"period_start": period.Start.Format(httputil.DateLayout),
		"period_end":   period.End.Format(httputil.DateLayout),
	})
}

// dateParam reads ?date=, defaulting to today
func (h *OvertimeHandlers) dateParam(r *http.Request) (time.Time, error) {
	d, err := httputil.ParseQueryDate(r, "date")
	if err != nil {
		return time.Time{}, err
	}
	if d.IsZero() {
		d = overtime.DateOnly(h.clock.Now())
	}
	return d, nil
}

func parseOptionalInt64(r *http.Request, key string) (int64, error) {
	v, err := httputil.ParseQueryInt(r, key, 0)
	return int64(v), err
}
