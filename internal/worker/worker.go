package worker

import (
	"context"
	"time"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// FulfillmentWorker consumes payment events and confirms the paid
// orders, consuming their reservations. Events are deduplicated
// through the processed-events ledger so redeliveries are harmless.
type FulfillmentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	orders       *service.OrderService
	store        store.PaymentStore
}

// NewFulfillmentWorker creates a worker wired to the given consumer.
func NewFulfillmentWorker(
	consumer *broker.Consumer,
	orders *service.OrderService,
	st store.PaymentStore,
) *FulfillmentWorker {
	w := &FulfillmentWorker{
		consumer: consumer,
		orders:   orders,
		store:    st,
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentSucceeded(w.handlePaymentSucceeded)
	w.eventHandler = eventHandler

	return w
}

// Start starts consuming. Blocks until ctx is cancelled.
func (w *FulfillmentWorker) Start(ctx context.Context) error {
	util.GetLogger().Info("Starting fulfillment worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *FulfillmentWorker) Stop() error {
	return w.consumer.Close()
}

func (w *FulfillmentWorker) handlePaymentSucceeded(ctx context.Context, event *models.PaymentSucceededEvent) error {
	logger := util.GetLogger()

	processed, err := w.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		logger.Debug("Skipping already processed event", zap.String("event_id", event.EventID))
		return nil
	}

	if err := w.orders.Confirm(ctx, event.OrderID); err != nil {
		logger.Error("Failed to confirm paid order",
			zap.String("order_id", event.OrderID),
			zap.Error(err))
		return err
	}

	return w.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
}

// Sweeper periodically cancels pending orders whose payment window has
// elapsed, returning their reserved stock and coupons.
type Sweeper struct {
	orders    *service.OrderService
	interval  time.Duration
	batchSize int
}

// NewSweeper creates a sweeper running at the given interval.
func NewSweeper(orders *service.OrderService, interval time.Duration, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		orders:    orders,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Start runs the sweep loop. Blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	logger := util.GetLogger()
	logger.Info("Starting expiry sweeper", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Sweeper context cancelled, stopping")
			return ctx.Err()
		case <-ticker.C:
			swept, err := s.orders.SweepExpired(ctx, s.batchSize)
			if err != nil {
				logger.Error("Expiry sweep failed", zap.Error(err))
				continue
			}
			if swept > 0 {
				logger.Info("Cancelled expired orders", zap.Int("count", swept))
			}
		}
	}
}
