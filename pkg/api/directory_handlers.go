package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/ptbhub/pkg/auth"
	"github.com/platinummonkey/ptbhub/pkg/cache"
	"github.com/platinummonkey/ptbhub/pkg/httputil"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/rbac"
	"github.com/platinummonkey/ptbhub/pkg/storage/postgres"
)

// DirectoryReader lists directory records
type DirectoryReader interface {
	GetEmployee(ctx context.Context, id int64) (*models.Employee, error)
	ListEmployees(ctx context.Context, f postgres.EmployeeFilter) ([]*models.Employee, int, error)
	ListDepartments(ctx context.Context) ([]*models.Department, error)
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
}

// EmployeeResolver maps a user to their employee record
type EmployeeResolver interface {
	EmployeeForUser(ctx context.Context, u *models.User) (*models.Employee, error)
}

// DirectoryHandlers serves employees, departments and projects
type DirectoryHandlers struct {
	store    DirectoryReader
	cache    *cache.Cache
	resolver EmployeeResolver
}

// DirectoryOption configures DirectoryHandlers
type DirectoryOption func(*DirectoryHandlers)

// WithEmployeeResolver enables GET /employees/me/
func WithEmployeeResolver(r EmployeeResolver) DirectoryOption {
	return func(h *DirectoryHandlers) {
		h.resolver = r
	}
}

// NewDirectoryHandlers creates the handlers; a nil cache disables list caching
func NewDirectoryHandlers(store DirectoryReader, c *cache.Cache, opts ...DirectoryOption) *DirectoryHandlers {
	h := &DirectoryHandlers{store: store, cache: c}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers directory routes
func (h *DirectoryHandlers) RegisterRoutes(router *mux.Router, guard Guard) {
	router.Handle("/employees/", guard(rbac.ResourceEmployees, h.cached(cache.ViewEmployees, h.listEmployees))).Methods(http.MethodGet)
	router.Handle("/employees/{id:[0-9]+}/", guard(rbac.ResourceEmployees, h.getEmployee)).Methods(http.MethodGet)
	if h.resolver != nil {
		router.Handle("/employees/me/", guard(rbac.ResourceEmployees, h.me)).Methods(http.MethodGet)
	}
	router.Handle("/departments/", guard(rbac.ResourceDepartments, h.cached(cache.ViewDepartments, h.listDepartments))).Methods(http.MethodGet)
	router.Handle("/projects/", guard(rbac.ResourceProjects, h.cached(cache.ViewProjects, h.listProjects))).Methods(http.MethodGet)
	router.Handle("/projects/{id:[0-9]+}/", guard(rbac.ResourceProjects, h.getProject)).Methods(http.MethodGet)
}

// cached sits inside the permission check so denied callers never see a hit
func (h *DirectoryHandlers) cached(view string, next http.HandlerFunc) http.HandlerFunc {
	return listCache(h.cache, view, nil, next)
}

// listEmployees handles GET /api/v1/employees/
func (h *DirectoryHandlers) listEmployees(w http.ResponseWriter, r *http.Request) {
	params, err := httputil.ParsePageParams(r, 50, 500)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	q := r.URL.Query()
	employees, count, err := h.store.ListEmployees(r.Context(), postgres.EmployeeFilter{
		Search:   strings.TrimSpace(q.Get("search")),
		Ordering: q.Get("ordering"),
		Limit:    params.PageSize,
		Offset:   params.Offset(),
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, httputil.NewPage(r, params, count, employees))
}

// getEmployee handles GET /api/v1/employees/{id}/
func (h *DirectoryHandlers) getEmployee(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	e, err := h.store.GetEmployee(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, e)
}

// me handles GET /api/v1/employees/me/, provisioning a record for callers
// without one
func (h *DirectoryHandlers) me(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	e, err := h.resolver.EmployeeForUser(r.Context(), p.User())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, e)
}

// listDepartments handles GET /api/v1/departments/
func (h *DirectoryHandlers) listDepartments(w http.ResponseWriter, r *http.Request) {
	departments, err := h.store.ListDepartments(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if departments == nil {
		departments = []*models.Department{}
	}
	_ = httputil.WriteSuccess(w, departments)
}

// listProjects handles GET /api/v1/projects/
func (h *DirectoryHandlers) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.store.ListProjects(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if search := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("search"))); search != "" {
		filtered := projects[:0]
		for _, p := range projects {
			if strings.Contains(strings.ToLower(p.Name), search) || strings.Contains(strings.ToLower(p.Code), search) {
				filtered = append(filtered, p)
			}
		}
		projects = filtered
	}
	if projects == nil {
		projects = []*models.Project{}
	}
	_ = httputil.WriteSuccess(w, projects)
}

// getProject handles GET /api/v1/projects/{id}/
func (h *DirectoryHandlers) getProject(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	p, err := h.store.GetProject(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, p)
}
