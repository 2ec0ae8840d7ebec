// Package notify turns domain events into persisted notifications and live
// pushes.
//
// Every entry point resolves a recipient set, writes all notifications with
// one bulk insert and registers the WebSocket push as a post-commit hook, so
// a rolled-back write never reaches a client. Push failures are logged and
// swallowed; the stored notification is the source of truth.
//
// Recipients are users. Directory records (employees) are mapped to users by
// worker id, then full name, then username. The reverse mapping used for
// mentions and overtime ownership may provision a missing employee.
package notify
