package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/platinummonkey/ptbhub/pkg/observability"
)

// Conn is the subset of *websocket.Conn the writer uses
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type outbound struct {
	messageType int
	data        []byte
}

// Client is one connected socket. Frames are queued on send and written by
// a dedicated goroutine so a slow peer never blocks a group broadcast.
type Client struct {
	id   string
	conn Conn
	send chan outbound

	ctx      context.Context
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
	once     sync.Once

	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *observability.Logger
}

func newClient(conn Conn, buffer int, writeTimeout, pingInterval time.Duration, logger *observability.Logger) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:           uuid.NewString(),
		conn:         conn,
		send:         make(chan outbound, buffer),
		ctx:          ctx,
		cancel:       cancel,
		stop:         make(chan struct{}),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		logger:       logger,
	}
}

// ID identifies the client in logs
func (c *Client) ID() string {
	return c.id
}

// Done is closed once the socket is closed
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Client) enqueue(payload []byte) bool {
	return c.push(outbound{messageType: websocket.TextMessage, data: payload})
}

// push queues a frame without blocking; false means it was dropped
func (c *Client) push(o outbound) bool {
	select {
	case <-c.stop:
		return false
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.send <- o:
		return true
	default:
		return false
	}
}

// SendJSON queues v for this client only
func (c *Client) SendJSON(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if !c.enqueue(payload) {
		return errClientGone
	}
	return nil
}

// CloseWith queues a close frame behind any pending frames
func (c *Client) CloseWith(code int, reason string) {
	c.push(outbound{messageType: websocket.CloseMessage, data: websocket.FormatCloseMessage(code, reason)})
	c.Shutdown()
}

// Shutdown stops accepting frames; the writer flushes what is queued and
// then closes the socket.
func (c *Client) Shutdown() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Close closes the socket immediately. Safe to call repeatedly.
func (c *Client) Close() {
	c.once.Do(func() {
		c.Shutdown()
		c.cancel()
		_ = c.conn.Close()
	})
}

// writePump drains the send queue until the client is shut down
func (c *Client) writePump() {
	var ping <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer c.Close()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.stop:
			c.flush()
			return
		case o := <-c.send:
			if !c.writeOut(o) {
				return
			}
		case <-ping:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) flush() {
	for {
		select {
		case o := <-c.send:
			if !c.writeOut(o) {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) writeOut(o outbound) bool {
	if err := c.write(o.messageType, o.data); err != nil {
		c.logger.WithError(err).WithField("client_id", c.id).Debug("websocket write failed")
		return false
	}
	return o.messageType != websocket.CloseMessage
}

func (c *Client) write(messageType int, payload []byte) error {
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(messageType, payload)
}
