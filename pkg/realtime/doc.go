// Package realtime is the WebSocket layer: a group hub, the per-connection
// consumer loop and the four channel consumers.
//
// # Channels
//
//	/ws/board/                 task_board        board presence and task events
//	/ws/board/task/{task_id}/  task_{id}         comments and typing on one task
//	/ws/notifications/         notifications_{u} per-user notification inbox
//	/ws/calendar/              ptb_calendar      shared calendar heartbeat
//
// # Connection lifecycle
//
// A connection authenticates from the access cookie (or bearer header), then
// the legacy ?token= query parameter. When neither resolves, the socket is
// accepted and the first message must be {"type":"authenticate","token":...};
// anything else is answered with an error frame until it is.
//
// Each connection owns one goroutine that reads and dispatches inbound frames
// in arrival order, and one writer goroutine draining a buffered send queue.
// Inbound frames pass a sliding-window limiter (30 per 10s by default) before
// any store access.
//
// # Delivery
//
// Hub.SendGroup serializes sends per group so members observe frames in send
// order. With a RedisBroker the frame is published to Redis and delivered by
// every instance's subscriber, otherwise it is delivered locally. Delivery is
// best effort: a member whose queue is full misses the frame, and closing a
// connection abandons its queued frames without affecting other members.
package realtime
