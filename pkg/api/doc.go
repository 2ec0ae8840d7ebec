// Package api provides the HTTP REST surface of ptbhub.
//
// # Overview
//
// The router is built on gorilla/mux and split into handler groups, each with
// a RegisterRoutes method:
//
//   - Auth: local and external login, token refresh/verify, logout, /me
//   - Directory: employees, departments and projects
//   - Overtime: requests, bulk status, period summary and Excel export
//   - Calendar: events with recurrence and assignment
//   - Notifications: the caller's inbox and board viewers
//   - SMB: share configuration and connection tests
//   - Access: role, admin flag and menu permission changes
//   - Tasks: comments and time tracking on board tasks
//
// # Middleware
//
// Every request passes request ID, logging, recovery, metrics, tracing and
// CORS. Routes under /api/v1 additionally require an authenticated principal
// and run each handler behind a Guard that checks the menu permission
// cascade for its resource. Login endpoints are rate limited per client IP.
//
// Tokens are read from the Authorization header first and then from the
// access cookie. When the access token has expired but a valid refresh cookie
// is present the authenticator rotates both cookies and the request proceeds.
//
// # Usage
//
//	srv := api.NewServer(api.Deps{
//		Config:        cfg,
//		Authenticator: chain,
//		RBAC:          engine,
//		Auth:          api.NewAuthHandlers(authService, cookies, logger),
//		Overtime:      api.NewOvertimeHandlers(overtimeService, overtimeStore, queue, viewCache, clk),
//	})
//	http.ListenAndServe(":8000", srv)
package api
