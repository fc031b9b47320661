// Package jobs runs the periodic order expiry sweep on an asynq queue, so
// only one worker handles a given tick even when several are deployed.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"subscription-billing/internal/logger"
)

const (
	TypeExpireOrders = "orders:expire"

	queueName = "maintenance"
)

type Expirer interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// ExpireHandler processes orders:expire tasks.
type ExpireHandler struct {
	ledger Expirer
	log    *zap.Logger
}

func NewExpireHandler(l Expirer, log *zap.Logger) *ExpireHandler {
	return &ExpireHandler{ledger: l, log: logger.OrNop(log)}
}

func (h *ExpireHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	start := time.Now()
	n, err := h.ledger.ExpireOverdue(ctx)
	if err != nil {
		h.log.Warn("expire sweep failed", zap.Int("expired", n), zap.Error(err))
		return fmt.Errorf("expire overdue orders: %w", err)
	}
	h.log.Debug("expire sweep done",
		zap.Int("expired", n),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// NewExpireTask builds a sweep task. Unique keeps overlapping ticks from
// queueing a second sweep while one is still pending.
func NewExpireTask() *asynq.Task {
	return asynq.NewTask(TypeExpireOrders, nil,
		asynq.Queue(queueName),
		asynq.MaxRetry(2),
		asynq.Timeout(2*time.Minute),
		asynq.Unique(time.Minute),
	)
}

func NewMux(h *ExpireHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeExpireOrders, h)
	return mux
}

// NewServer builds the worker that drains the maintenance queue.
func NewServer(opt asynq.RedisConnOpt, log *zap.Logger) *asynq.Server {
	log = logger.OrNop(log)
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: 2,
		Queues:      map[string]int{queueName: 1},
		Logger:      log.Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error("task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})
}

// NewScheduler registers the expiry sweep on schedule, a cron expression or an
// "@every" interval.
func NewScheduler(opt asynq.RedisConnOpt, schedule string, log *zap.Logger) (*asynq.Scheduler, error) {
	log = logger.OrNop(log)
	s := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   log.Sugar(),
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				log.Warn("enqueue expire sweep", zap.Error(err))
			}
		},
	})
	if _, err := s.Register(schedule, NewExpireTask()); err != nil {
		return nil, fmt.Errorf("register expire schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Enqueue puts one sweep on the queue immediately. An empty id means a
// sweep was already queued.
func Enqueue(ctx context.Context, client *asynq.Client) (string, error) {
	info, err := client.EnqueueContext(ctx, NewExpireTask())
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("enqueue expire sweep: %w", err)
	}
	return info.ID, nil
}
