package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"orderly-service/internal/broker"
	"orderly-service/internal/models"
	"orderly-service/internal/service"
	"orderly-service/internal/util"
)

const deliveryTimeout = 30 * time.Second

// NotificationWorker delivers notification events read from the broker
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	deliverer    service.Deliverer
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, deliverer service.Deliverer) *NotificationWorker {
	w := &NotificationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		deliverer:    deliverer,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnNotification(w.deliver)
	return w
}

func (w *NotificationWorker) deliver(ctx context.Context, event models.NotificationEvent) {
	dctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()
	w.deliverer.Deliver(dctx, event)
}

// Start consumes until ctx is done
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}
