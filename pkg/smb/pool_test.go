package smb

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/observability"
)

func newTestPool(d Dialer, min, max int) *Pool {
	logger, _ := testLogger()
	return NewPool(&Settings{Server: "fs01", Share: "OT"}, d, PoolOptions{Min: min, Max: max}, observability.NewNopMetrics(), logger)
}

func TestPoolWarmDialsMin(t *testing.T) {
	d := &fakeDialer{}
	p := newTestPool(d, 2, 5)

	require.NoError(t, p.Warm(context.Background()))
	assert.Equal(t, 2, p.Size())
	assert.Len(t, d.conns, 2)
}

func TestPoolPrefersIdleThenGrowsToMax(t *testing.T) {
	d := &fakeDialer{}
	p := newTestPool(d, 1, 2)
	ctx := context.Background()

	c1, release1, err := p.Get(ctx)
	require.NoError(t, err)
	c2, release2, err := p.Get(ctx)
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)

	c3, release3, err := p.Get(ctx)
	require.NoError(t, err)
	assert.Same(t, c1, c3, "busy pool at max hands out the first live member")
	assert.Len(t, d.conns, 2)

	release1()
	release3()
	release2()
	c4, _, err := p.Get(ctx)
	require.NoError(t, err)
	assert.Same(t, c1, c4)
}

func TestPoolEvictsDeadMembers(t *testing.T) {
	d := &fakeDialer{}
	p := newTestPool(d, 2, 5)
	ctx := context.Background()
	require.NoError(t, p.Warm(ctx))

	d.conns[0].dead = true
	conn, release, err := p.Get(ctx)
	require.NoError(t, err)
	defer release()

	assert.True(t, d.conns[0].closed)
	assert.Same(t, d.conns[1], conn)
	assert.Equal(t, 1, p.Size())
}

func TestPoolDialFailure(t *testing.T) {
	d := &fakeDialer{err: errors.New("no route to host")}
	p := newTestPool(d, 2, 5)

	_, _, err := p.Get(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindTransport, apperrors.KindOf(err))
}

func TestPoolClose(t *testing.T) {
	d := &fakeDialer{}
	p := newTestPool(d, 2, 5)
	require.NoError(t, p.Warm(context.Background()))

	require.NoError(t, p.Close())
	assert.True(t, d.conns[0].closed)
	assert.True(t, d.conns[1].closed)
	assert.Zero(t, p.Size())

	_, _, err := p.Get(context.Background())
	assert.Error(t, err)
}
