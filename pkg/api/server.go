package api

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/ptbhub/pkg/auth"
	"github.com/platinummonkey/ptbhub/pkg/cache"
	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/config"
	"github.com/platinummonkey/ptbhub/pkg/httputil"
	"github.com/platinummonkey/ptbhub/pkg/middleware"
	"github.com/platinummonkey/ptbhub/pkg/observability"
	"github.com/platinummonkey/ptbhub/pkg/rbac"
	"github.com/platinummonkey/ptbhub/pkg/realtime"
)

// maxBodyBytes caps JSON request bodies
const maxBodyBytes = 1 << 20

// Deps are the collaborators mounted by the router. Nil handler groups are
// skipped, which lets tests mount a single group.
type Deps struct {
	Config  *config.Config
	Cookies auth.CookieConfig

	// Authenticator resolves request tokens for the /api/v1 and /api/auth/me routes
	Authenticator middleware.RequestAuthenticator
	RBAC          *rbac.Engine
	Cache         *cache.Cache

	// LoginLimiter applies to the login endpoints regardless of Throttle
	LoginLimiter middleware.Limiter
	Throttle     *middleware.Throttle

	Auth          *AuthHandlers
	Directory     *DirectoryHandlers
	Overtime      *OvertimeHandlers
	Calendar      *CalendarHandlers
	Notifications *NotificationHandlers
	SMB           *SMBHandlers
	Access        *AccessHandlers
	Tasks         *TaskHandlers
	Workflow      *WorkflowHandlers

	Realtime  *realtime.Server
	Consumers realtime.Consumers

	Health   *observability.HealthChecker
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Clock    clock.Clock
	Logger   *observability.Logger
}

// Server is the HTTP entry point of ptbhub
type Server struct {
	deps    Deps
	router  *mux.Router
	handler http.Handler
}

// NewServer builds the router and the outer middleware chain
func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = observability.NopLogger()
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	s := &Server{deps: d, router: mux.NewRouter()}
	s.setupRoutes()

	outer := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(d.Logger),
		httputil.RecoveryMiddleware,
	}
	if d.Metrics != nil {
		outer = append(outer, observability.HTTPMetricsMiddleware(d.Metrics))
	}
	if d.Config != nil && d.Config.Observability.OTelEnabled {
		outer = append(outer, observability.TracingMiddleware(d.Config.Observability.OTelServiceName))
	}
	outer = append(outer, corsMiddleware(d.Config))
	s.handler = httputil.Chain(s.router, outer...)
	return s
}

// corsMiddleware allows cookie credentials for configured origins. In
// development any origin is accepted without credentials.
func corsMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Cache"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if cfg != nil {
		opts.AllowedOrigins = cfg.Server.AllowedOrigins
		if cfg.Server.Development && len(cfg.Server.AllowedOrigins) == 0 {
			opts.AllowedOrigins = []string{"*"}
			opts.AllowCredentials = false
		}
	}
	return cors.Handler(opts)
}

func (s *Server) setupRoutes() {
	d := s.deps

	if d.Health != nil {
		d.Health.RegisterRoutes(s.router)
	}
	if d.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(d.Registry)).Methods(http.MethodGet)
	}

	if d.Auth != nil {
		authRouter := s.router.PathPrefix("/api/auth").Subrouter()
		authRouter.Use(httputil.MaxBytesMiddleware(maxBodyBytes))
		d.Auth.RegisterRoutes(authRouter, s.authenticate(), s.loginLimit())
	}

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(httputil.MaxBytesMiddleware(maxBodyBytes), s.authenticate(), middleware.RequireAuth)
	if d.Throttle != nil && d.Config != nil && d.Config.Auth.ThrottleEnabled {
		v1.Use(d.Throttle.Handler)
	}

	g := s.guard
	if d.Directory != nil {
		d.Directory.RegisterRoutes(v1, g)
	}
	if d.Overtime != nil {
		d.Overtime.RegisterRoutes(v1, g)
	}
	if d.Calendar != nil {
		d.Calendar.RegisterRoutes(v1, g)
	}
	if d.Notifications != nil {
		d.Notifications.RegisterRoutes(v1, g)
	}
	if d.SMB != nil {
		d.SMB.RegisterRoutes(v1, g)
	}
	if d.Access != nil {
		d.Access.RegisterRoutes(v1, g)
	}
	if d.Tasks != nil {
		d.Tasks.RegisterRoutes(v1, g)
	}
	if d.Workflow != nil {
		d.Workflow.RegisterRoutes(v1, g)
	}

	if d.Realtime != nil {
		d.Realtime.RegisterRoutes(s.router, d.Consumers)
	}
}

func (s *Server) authenticate() func(http.Handler) http.Handler {
	if s.deps.Authenticator == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.AuthenticateWith(s.deps.Authenticator, s.deps.Cookies)
}

func (s *Server) loginLimit() func(http.Handler) http.Handler {
	if s.deps.LoginLimiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RateLimit(s.deps.LoginLimiter, middleware.IPKey, s.deps.Logger)
}

// Guard wraps a handler with the permission check for resource. The empty
// resource admits every authenticated caller.
type Guard func(resource string, h http.HandlerFunc) http.Handler

func (s *Server) guard(resource string, h http.HandlerFunc) http.Handler {
	if resource == "" || s.deps.RBAC == nil {
		return h
	}
	return middleware.RequirePermission(s.deps.RBAC, resource)(h)
}

// Router exposes the route table
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// listCache decorates a list handler with the view cache when one is configured
func listCache(c *cache.Cache, view string, userID cache.UserIDFunc, next http.HandlerFunc) http.HandlerFunc {
	if c == nil {
		return next
	}
	return c.ListCache(view, userID)(next).ServeHTTP
}

// principalID scopes cache keys to the caller
func principalID(r *http.Request) int64 {
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return p.ID()
	}
	return 0
}
