// Package middleware provides the HTTP middleware between the router and the
// REST handlers: authentication, permission checks and rate limiting.
//
// # Authentication
//
// Authenticate resolves the request token (Authorization header first, then
// the access cookie) through the auth chain and stores the principal on the
// request context. Anonymous requests pass through; RequireAuth rejects them.
// When the external session path renewed an expired access token in-band the
// new token is written back as a cookie on the same response.
//
//	router.Use(middleware.Authenticate(chain, cookies))
//	api.Use(middleware.RequireAuth)
//	api.Handle("/employees/", middleware.RequirePermission(engine, rbac.ResourceEmployees)(h))
//
// # Rate limiting
//
// LoginRateLimit caps anonymous login attempts per client IP (10/min by
// default) and is always installed on the login routes. Throttle is the
// optional global API limiter keyed by user id, or by IP when anonymous.
// Both share one token bucket implementation; when Redis is available the
// count is kept in Redis so limits hold across instances, and Redis errors
// fall back to the local bucket.
package middleware
