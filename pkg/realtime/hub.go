package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/platinummonkey/ptbhub/pkg/observability"
)

var errClientGone = errors.New("client disconnected or send queue full")

// Broker carries group frames between hub instances
type Broker interface {
	Publish(ctx context.Context, group string, payload []byte) error
	// Subscribe delivers every published frame until ctx is done
	Subscribe(ctx context.Context, deliver func(group string, payload []byte)) error
}

type group struct {
	// mu serializes deliveries so members see frames in send order
	mu      sync.Mutex
	members map[*Client]struct{}
}

// Hub tracks group membership and fans frames out to members
type Hub struct {
	mu     sync.RWMutex
	groups map[string]*group

	broker  Broker
	logger  *observability.Logger
	metrics *observability.Metrics
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithBroker routes group sends through b
func WithBroker(b Broker) HubOption {
	return func(h *Hub) { h.broker = b }
}

// WithHubLogger sets the hub logger
func WithHubLogger(logger *observability.Logger) HubOption {
	return func(h *Hub) { h.logger = logger }
}

// WithHubMetrics sets the hub metrics
func WithHubMetrics(metrics *observability.Metrics) HubOption {
	return func(h *Hub) { h.metrics = metrics }
}

// NewHub creates a hub
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{groups: make(map[string]*group)}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = observability.NopLogger()
	}
	return h
}

// Run consumes the broker subscription until ctx is done. Without a broker
// it returns immediately.
func (h *Hub) Run(ctx context.Context) error {
	if h.broker == nil {
		return nil
	}
	return h.broker.Subscribe(ctx, h.deliver)
}

// Join adds c to the named group
func (h *Hub) Join(name string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.groups[name]
	if !ok {
		g = &group{members: make(map[*Client]struct{})}
		h.groups[name] = g
	}
	// added under h.mu so a concurrent Leave cannot detach g first
	g.mu.Lock()
	g.members[c] = struct{}{}
	g.mu.Unlock()
}

// Leave removes c from the named group, dropping empty groups
func (h *Hub) Leave(name string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.groups[name]
	if !ok {
		return
	}
	g.mu.Lock()
	delete(g.members, c)
	empty := len(g.members) == 0
	g.mu.Unlock()
	if empty {
		delete(h.groups, name)
	}
}

// Members returns the number of local members of a group
func (h *Hub) Members(name string) int {
	h.mu.RLock()
	g, ok := h.groups[name]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// SendGroup delivers frame to every member of the group. A broker failure
// falls back to local delivery.
func (h *Hub) SendGroup(ctx context.Context, name string, frame interface{}) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if h.broker != nil {
		err := h.broker.Publish(ctx, name, payload)
		if err == nil {
			return nil
		}
		h.logger.WithError(err).WithField("group", name).Warn("broker publish failed, delivering locally")
	}
	h.deliver(name, payload)
	return nil
}

func (h *Hub) deliver(name string, payload []byte) {
	h.mu.RLock()
	g, ok := h.groups[name]
	h.mu.RUnlock()
	if !ok {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for c := range g.members {
		if !c.enqueue(payload) {
			h.logger.WithField("group", name).WithField("client_id", c.id).Debug("dropped frame for slow or closed client")
		}
	}
}
