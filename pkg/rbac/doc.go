// Package rbac decides whether a principal may perform an action on a named
// resource.
//
// # Overview
//
// The decision is a pure function over attributes already loaded on the
// request principal. No I/O happens here; the middleware and handlers load the
// user first and ask the Engine afterwards.
//
// # Cascade
//
// Rules are evaluated in order and the first match wins:
//
//  1. No principal: deny
//  2. Role developer or superadmin: allow
//  3. Handler declares no resource: allow
//  4. Read of a universally readable resource (regulations): allow
//  5. Explicit permission map naming the resource or an alias: allow iff the action is listed
//  6. PTB admin flag: allow
//  7. Non-empty legacy whitelist: allow iff it names the resource or an alias
//  8. Default table: CRUD or read-only per resource
//  9. Deny
//
// # Aliases
//
// Resource keys were renamed over time. The alias table is bidirectional, so a
// permission map saved under "ot_form" still grants "overtime_form" and vice
// versa.
//
//	engine := rbac.NewEngine(rbac.WithOverlay(cfg.Permissions))
//	if !engine.Allowed(principal, "overtime_form", rbac.ActionForMethod(r.Method)) {
//		httputil.WriteForbidden(w, "")
//	}
package rbac
