package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBrokerDeliversAcrossHubs(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sender := NewHub(WithBroker(NewRedisBroker(client, "")))
	receiver := NewHub(WithBroker(NewRedisBroker(client, "")))
	s := newTestSession(receiver, testPrincipal(7, "Ada", "L"), nil)
	s.Join("notifications_7")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = receiver.Run(ctx) }()

	require.Eventually(t, func() bool {
		return mr.PubSubNumPat() > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sender.SendGroup(ctx, "notifications_7", Frame{"type": "notification", "id": 1}))

	require.Eventually(t, func() bool {
		return len(s.client.send) == 1
	}, 2*time.Second, 10*time.Millisecond)
	f := nextFrame(t, s)
	assert.Equal(t, "notification", f["type"])
}

func TestRedisBrokerSubscribeStopsOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewRedisBroker(client, "test").Subscribe(ctx, func(string, []byte) {}) }()

	require.Eventually(t, func() bool {
		return mr.PubSubNumPat() > 0
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not return after cancel")
	}
}
