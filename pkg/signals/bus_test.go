package signals

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ptbhub/pkg/storage/postgres"
)

func TestBus_DispatchOrderAndIsolation(t *testing.T) {
	bus := NewBus(nil)
	var calls []string

	bus.Subscribe(TopicEmployeeChanged, "first", func(ctx context.Context, sig Signal) error {
		calls = append(calls, "first")
		return errors.New("boom")
	})
	bus.Subscribe(TopicEmployeeChanged, "second", func(ctx context.Context, sig Signal) error {
		calls = append(calls, "second")
		panic("bad handler")
	})
	bus.Subscribe(TopicEmployeeChanged, "third", func(ctx context.Context, sig Signal) error {
		calls = append(calls, "third")
		assert.Equal(t, int64(7), sig.(EmployeeChanged).EmployeeID)
		return nil
	})
	bus.Subscribe(TopicSMBConfigChanged, "other", func(ctx context.Context, sig Signal) error {
		calls = append(calls, "other")
		return nil
	})

	bus.Publish(context.Background(), EmployeeChanged{EmployeeID: 7})

	assert.Equal(t, []string{"first", "second", "third"}, calls)
	assert.Equal(t, []string{"first", "second", "third"}, bus.Subscribers(TopicEmployeeChanged))
}

func TestBus_PublishWaitsForCommit(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	db := postgres.New(sqlDB, nil)

	bus := NewBus(nil)
	delivered := 0
	bus.Subscribe(TopicEmployeeChanged, "count", func(ctx context.Context, sig Signal) error {
		assert.False(t, postgres.InTx(ctx))
		delivered++
		return nil
	})

	mock.ExpectBegin()
	mock.ExpectCommit()
	err = db.WithTx(context.Background(), func(ctx context.Context) error {
		bus.Publish(ctx, EmployeeChanged{EmployeeID: 1})
		assert.Equal(t, 0, delivered)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	mock.ExpectBegin()
	mock.ExpectRollback()
	err = db.WithTx(context.Background(), func(ctx context.Context) error {
		bus.Publish(ctx, EmployeeChanged{EmployeeID: 2})
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.Equal(t, 1, delivered)
	require.NoError(t, mock.ExpectationsWereMet())
}
