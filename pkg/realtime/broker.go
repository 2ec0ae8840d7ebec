package realtime

import (
	"context"
	"strings"

	"github.com/go-redis/redis/v8"
)

// RedisBroker fans group frames out across instances over Redis pub/sub
type RedisBroker struct {
	client *redis.Client
	prefix string
}

// NewRedisBroker creates a broker publishing on prefix:<group>
func NewRedisBroker(client *redis.Client, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = "ptbhub:ws"
	}
	return &RedisBroker{client: client, prefix: prefix}
}

// Publish implements Broker
func (b *RedisBroker) Publish(ctx context.Context, group string, payload []byte) error {
	return b.client.Publish(ctx, b.prefix+":"+group, payload).Err()
}

// Subscribe implements Broker
func (b *RedisBroker) Subscribe(ctx context.Context, deliver func(group string, payload []byte)) error {
	sub := b.client.PSubscribe(ctx, b.prefix+":*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			deliver(strings.TrimPrefix(msg.Channel, b.prefix+":"), []byte(msg.Payload))
		}
	}
}
