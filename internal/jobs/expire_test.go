package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subscription-billing/internal/domain/orders"
	"subscription-billing/internal/ledger/ledgertest"
)

type failingExpirer struct{}

func (failingExpirer) ExpireOverdue(context.Context) (int, error) {
	return 0, errors.New("db down")
}

func TestExpireHandler_MovesOverdueOrders(t *testing.T) {
	ctx := context.Background()
	env := ledgertest.New(t, nil, "stripe")
	overdue := env.Order(t, "u1", 1, "stripe")
	env.Clock.Advance(25 * time.Hour)
	fresh := env.Order(t, "u2", 1, "stripe")

	h := NewExpireHandler(env.Ledger, nil)
	require.NoError(t, h.ProcessTask(ctx, NewExpireTask()))

	got, err := env.Ledger.GetOrder(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusExpired, got.Status)

	got, err = env.Ledger.GetOrder(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, got.Status)

	// a second tick has nothing left to do
	require.NoError(t, h.ProcessTask(ctx, NewExpireTask()))
}

func TestExpireHandler_PropagatesStoreErrors(t *testing.T) {
	h := NewExpireHandler(failingExpirer{}, nil)
	err := h.ProcessTask(context.Background(), NewExpireTask())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestNewExpireTask(t *testing.T) {
	task := NewExpireTask()
	assert.Equal(t, TypeExpireOrders, task.Type())
	assert.Empty(t, task.Payload())
}

func TestNewScheduler_RejectsBadSchedule(t *testing.T) {
	opt := asynq.RedisClientOpt{Addr: "127.0.0.1:0"}

	_, err := NewScheduler(opt, "not a schedule", nil)
	require.Error(t, err)

	s, err := NewScheduler(opt, "@every 5m", nil)
	require.NoError(t, err)
	assert.NotNil(t, s)
}
