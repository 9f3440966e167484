package service

import (
	"context"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"orderly-service/internal/models"
	"orderly-service/internal/util"
)

const deliveryTimeout = 30 * time.Second

// PoolQueue delivers notifications on an in-process goroutine pool
type PoolQueue struct {
	pool      *ants.Pool
	deliverer Deliverer
	logger    *zap.Logger
}

// NewPoolQueue creates a pool of size workers delivering through deliverer
func NewPoolQueue(size int, deliverer Deliverer) (*PoolQueue, error) {
	if size <= 0 {
		size = 1
	}

	logger := util.GetLogger()
	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(p interface{}) {
		util.NotificationFailuresTotal.WithLabelValues("panic").Inc()
		logger.Error("Notification delivery panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create notification pool: %w", err)
	}

	return &PoolQueue{
		pool:      pool,
		deliverer: deliverer,
		logger:    logger,
	}, nil
}

// Enqueue schedules delivery of event. Delivery is detached from ctx
// cancellation so a finished request does not abort its notifications.
func (q *PoolQueue) Enqueue(ctx context.Context, event models.NotificationEvent) error {
	return q.pool.Submit(func() {
		dctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		q.deliverer.Deliver(dctx, event)
	})
}

// Close waits up to timeout for queued deliveries, then releases the pool
func (q *PoolQueue) Close(timeout time.Duration) error {
	if err := q.pool.ReleaseTimeout(timeout); err != nil {
		q.logger.Warn("Notification pool did not drain in time", zap.Error(err))
		return err
	}
	return nil
}
