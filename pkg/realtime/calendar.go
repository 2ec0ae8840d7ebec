package realtime

import (
	"context"
	"time"

	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/models"
)

// CalendarConsumer serves the shared calendar channel. Event changes reach
// it through the hub; clients only send heartbeats.
type CalendarConsumer struct {
	clock clock.Clock
}

// NewCalendarConsumer creates the calendar consumer
func NewCalendarConsumer(clk clock.Clock) *CalendarConsumer {
	if clk == nil {
		clk = clock.New()
	}
	return &CalendarConsumer{clock: clk}
}

func (c *CalendarConsumer) Name() string { return "calendar" }

func (c *CalendarConsumer) Connect(ctx context.Context, s *Session) error {
	s.Join(models.CalendarGroup)
	return nil
}

func (c *CalendarConsumer) Disconnect(ctx context.Context, s *Session) {}

func (c *CalendarConsumer) Receive(ctx context.Context, s *Session, msg Message) error {
	if msg.Type != "heartbeat" {
		return unknownType(msg.Type)
	}
	return s.Send(Frame{"type": "heartbeat_ack", "timestamp": c.clock.Now().UTC().Format(time.RFC3339)})
}
