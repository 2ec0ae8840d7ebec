package signals

import (
	"context"
	"fmt"
	"sync"

	"github.com/platinummonkey/ptbhub/pkg/observability"
	"github.com/platinummonkey/ptbhub/pkg/storage/postgres"
)

// Handler reacts to a signal. Errors are logged and never reach the publisher.
type Handler func(ctx context.Context, sig Signal) error

type subscription struct {
	name    string
	handler Handler
}

// Bus dispatches signals to subscribers in subscription order
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]subscription
	logger   *observability.Logger
}

// NewBus creates an empty bus
func NewBus(logger *observability.Logger) *Bus {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Bus{
		handlers: make(map[Topic][]subscription),
		logger:   logger,
	}
}

// Subscribe registers h for topic under a name used in logs
func (b *Bus) Subscribe(topic Topic, name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], subscription{name: name, handler: h})
}

// Subscribers returns the handler names registered for topic
func (b *Bus) Subscribers(topic Topic) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.handlers[topic]))
	for _, s := range b.handlers[topic] {
		names = append(names, s.name)
	}
	return names
}

// Publish dispatches sig once the transaction in ctx commits, or immediately
// when ctx carries no transaction. A rolled back transaction drops sig.
func (b *Bus) Publish(ctx context.Context, sig Signal) {
	postgres.OnCommit(ctx, func(ctx context.Context) {
		b.Dispatch(ctx, sig)
	})
}

// Dispatch runs every handler for sig synchronously. A failing or panicking
// handler does not stop the others.
func (b *Bus) Dispatch(ctx context.Context, sig Signal) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[sig.Topic()]...)
	b.mu.RUnlock()

	for _, s := range subs {
		if err := b.call(ctx, s, sig); err != nil {
			b.logger.WithFields(map[string]interface{}{
				"topic":      string(sig.Topic()),
				"subscriber": s.name,
			}).WithError(err).Warn("signal handler failed")
		}
	}
}

func (b *Bus) call(ctx context.Context, s subscription, sig Signal) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", s.name, r)
		}
	}()
	return s.handler(ctx, sig)
}
