package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// idempotencyCacheTTL bounds the Redis fast-path entry for a client
// request id; the store row remains the durable backstop.
const idempotencyCacheTTL = 24 * time.Hour

// PaymentService orchestrates charges against the external gateway with
// exactly-once financial effect. Idempotency is layered: in-flight
// duplicates collapse through singleflight on the client request id,
// completed duplicates are answered from the payment store, and a
// successful payment per order plus a unique gateway transaction id are
// enforced by the store. The gateway call runs under the per-order lock
// only, never under inventory or coupon locks.
type PaymentService struct {
	store     store.Store
	orders    *OrderService
	gateway   Gateway
	redis     *redisclient.Client
	publisher *broker.EventPublisher
	logger    *zap.Logger
	timeout   time.Duration
	inflight  singleflight.Group
}

// NewPaymentService creates a new payment service. redis and publisher may
// be nil.
func NewPaymentService(
	st store.Store,
	orders *OrderService,
	gateway Gateway,
	redis *redisclient.Client,
	publisher *broker.EventPublisher,
	timeout time.Duration,
) *PaymentService {
	return &PaymentService{
		store:     st,
		orders:    orders,
		gateway:   gateway,
		redis:     redis,
		publisher: publisher,
		logger:    util.GetLogger(),
		timeout:   timeout,
	}
}

// ProcessPaymentRequest represents a payment submission
type ProcessPaymentRequest struct {
	UserID          int64  `json:"user_id" binding:"required"`
	OrderID         string `json:"order_id" binding:"required"`
	PaymentMethod   string `json:"payment_method" binding:"required"`
	ClientRequestID string `json:"client_request_id,omitempty"`
}

// ProcessPayment charges the order. Repeated submissions with the same
// client request id return the same payment projection and produce exactly
// one gateway call; a declared decline or a gateway communication failure
// both cancel the order through the single compensation path.
func (ps *PaymentService) ProcessPayment(ctx context.Context, req *ProcessPaymentRequest) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ProcessPayment")
	defer span.End()

	if req.ClientRequestID == "" {
		return ps.process(ctx, req)
	}

	type outcome struct {
		payment *models.Payment
		err     error
	}
	v, _, _ := ps.inflight.Do("payment:"+req.ClientRequestID, func() (interface{}, error) {
		p, err := ps.process(ctx, req)
		return outcome{payment: p, err: err}, nil
	})
	out := v.(outcome)
	return out.payment, out.err
}

func (ps *PaymentService) process(ctx context.Context, req *ProcessPaymentRequest) (*models.Payment, error) {
	if existing, err := ps.findByClientRequestID(ctx, req.ClientRequestID); err != nil {
		return nil, err
	} else if existing != nil {
		util.PaymentIdempotentHitsTotal.Inc()
		ps.logger.Info("Duplicate payment request",
			zap.String("client_request_id", req.ClientRequestID),
			zap.String("payment_id", existing.ID))
		return existing, nil
	}

	ps.orders.orderLocks.Lock(req.OrderID)
	defer ps.orders.orderLocks.Unlock(req.OrderID)

	order, err := ps.store.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != req.UserID {
		// Distinct vocabulary from order-level denial: the caller asked
		// to pay, not to read the order.
		return nil, fmt.Errorf("%w: order %s", models.ErrPaymentNotAllowed, req.OrderID)
	}

	// Server-side backstop: a SUCCESS payment already exists, so a retry
	// race or gateway replay must not charge again.
	if existing, err := ps.store.GetSuccessfulPaymentByOrder(ctx, req.OrderID); err != nil {
		return nil, err
	} else if existing != nil {
		util.PaymentIdempotentHitsTotal.Inc()
		return existing, nil
	}

	if order.Status != models.OrderStatusPending {
		return nil, fmt.Errorf("%w: order %s is %s", models.ErrInvalidOrderStatus, req.OrderID, order.Status)
	}

	payment := &models.Payment{
		ID:              uuid.New().String(),
		OrderID:         order.ID,
		Amount:          order.FinalAmount,
		PaymentMethod:   req.PaymentMethod,
		Status:          models.PaymentStatusPending,
		ClientRequestID: req.ClientRequestID,
	}
	if err := ps.store.CreatePayment(ctx, payment); err != nil {
		// Lost the insert race on the client request id: surface the
		// winner's record.
		if req.ClientRequestID != "" {
			if existing, lookupErr := ps.store.GetPaymentByClientRequestID(ctx, req.ClientRequestID); lookupErr == nil && existing != nil {
				util.PaymentIdempotentHitsTotal.Inc()
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	util.PaymentAttemptsTotal.Inc()
	ps.logger.Info("Charging gateway",
		zap.String("order_id", order.ID),
		zap.String("payment_id", payment.ID),
		zap.Int64("amount", payment.Amount))

	result, gatewayErr := ps.charge(ctx, order, payment)
	switch {
	case gatewayErr != nil:
		// Timeout and transport errors compensate exactly like a
		// decline, but the caller sees a retryable kind.
		reason := fmt.Sprintf("gateway communication failure: %v", gatewayErr)
		ps.failAndCompensate(ctx, order, payment, reason)
		util.PaymentFailedTotal.WithLabelValues("gateway_error").Inc()
		return ps.projection(ctx, payment), fmt.Errorf("%w: %v", models.ErrPaymentGatewayUnavailable, gatewayErr)

	case !result.Success:
		ps.failAndCompensate(ctx, order, payment, result.FailReason)
		util.PaymentFailedTotal.WithLabelValues("declined").Inc()
		return ps.projection(ctx, payment), fmt.Errorf("%w: %s", models.ErrPaymentDeclined, result.FailReason)
	}

	now := time.Now()
	if err := ps.store.MarkPaymentSucceeded(ctx, payment.ID, result.TransactionID, now); err != nil {
		// A transaction id already attached to another payment means the
		// gateway replayed a charge. This attempt fails and the order is
		// left untouched.
		reason := fmt.Sprintf("duplicate transaction id %s", result.TransactionID)
		if mErr := ps.store.MarkPaymentFailed(ctx, payment.ID, reason, now); mErr != nil {
			ps.logger.Error("Failed to mark payment failed", zap.Error(mErr))
		}
		util.PaymentFailedTotal.WithLabelValues("duplicate_transaction").Inc()
		ps.logger.Error("Gateway returned duplicate transaction id",
			zap.String("payment_id", payment.ID),
			zap.String("transaction_id", result.TransactionID))
		ps.publishFailed(ctx, payment, reason)
		return ps.projection(ctx, payment), fmt.Errorf("%w: %s", models.ErrPaymentDeclined, reason)
	}

	if err := ps.orders.markPaidLocked(ctx, order, now); err != nil {
		ps.logger.Error("Payment succeeded but order transition failed",
			zap.String("order_id", order.ID), zap.Error(err))
	}

	util.PaymentSuccessTotal.Inc()
	ps.cacheIdempotency(ctx, req.ClientRequestID, payment.ID)
	ps.logger.Info("Payment succeeded",
		zap.String("order_id", order.ID),
		zap.String("transaction_id", result.TransactionID))

	if ps.publisher != nil {
		event := &models.PaymentSucceededEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentSucceeded,
				Timestamp: now,
			},
			OrderID:       order.ID,
			UserID:        order.UserID,
			PaymentID:     payment.ID,
			Amount:        payment.Amount,
			TransactionID: result.TransactionID,
		}
		if err := ps.publisher.PublishPaymentSucceeded(ctx, event); err != nil {
			ps.logger.Error("Failed to publish PaymentSucceeded event", zap.Error(err))
		}
	}

	return ps.projection(ctx, payment), nil
}

// charge calls the gateway under the configured timeout. The per-order
// lock is held, but no inventory or coupon lock is.
func (ps *PaymentService) charge(ctx context.Context, order *models.Order, payment *models.Payment) (*ChargeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, ps.timeout)
	defer cancel()

	start := time.Now()
	result, err := ps.gateway.Charge(ctx, order.ID, payment.Amount, payment.PaymentMethod)
	util.PaymentGatewayLatency.Observe(time.Since(start).Seconds())
	return result, err
}

// failAndCompensate is the single compensation path: the payment record is
// marked FAILED and the order is cancelled, which releases inventory and
// the coupon.
func (ps *PaymentService) failAndCompensate(ctx context.Context, order *models.Order, payment *models.Payment, reason string) {
	now := time.Now()
	if err := ps.store.MarkPaymentFailed(ctx, payment.ID, reason, now); err != nil {
		ps.logger.Error("Failed to mark payment failed",
			zap.String("payment_id", payment.ID), zap.Error(err))
	}

	if err := ps.orders.cancelLocked(ctx, order, "payment failed: "+reason); err != nil {
		ps.logger.Error("Failed to cancel order after payment failure",
			zap.String("order_id", order.ID), zap.Error(err))
	}

	ps.cacheIdempotency(ctx, payment.ClientRequestID, payment.ID)
	ps.publishFailed(ctx, payment, reason)
}

// GetPayment returns a payment by id, enforcing ownership through the
// order.
func (ps *PaymentService) GetPayment(ctx context.Context, userID int64, paymentID string) (*models.Payment, error) {
	payment, err := ps.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	order, err := ps.store.GetOrder(ctx, payment.OrderID)
	if err != nil {
		return nil, err
	}
	if userID != 0 && order.UserID != userID {
		return nil, fmt.Errorf("%w: payment %s", models.ErrPaymentNotAllowed, paymentID)
	}
	return payment, nil
}

func (ps *PaymentService) findByClientRequestID(ctx context.Context, clientRequestID string) (*models.Payment, error) {
	if clientRequestID == "" {
		return nil, nil
	}

	if ps.redis != nil {
		paymentID, err := ps.redis.LookupIdempotentPayment(ctx, clientRequestID)
		if err != nil {
			ps.logger.Warn("Idempotency cache lookup failed", zap.Error(err))
		} else if paymentID != "" {
			if p, err := ps.store.GetPayment(ctx, paymentID); err == nil {
				return p, nil
			}
		}
	}

	return ps.store.GetPaymentByClientRequestID(ctx, clientRequestID)
}

func (ps *PaymentService) cacheIdempotency(ctx context.Context, clientRequestID, paymentID string) {
	if ps.redis == nil || clientRequestID == "" {
		return
	}
	if err := ps.redis.CacheIdempotentPayment(ctx, clientRequestID, paymentID, idempotencyCacheTTL); err != nil {
		ps.logger.Warn("Failed to cache idempotency key", zap.Error(err))
	}
}

func (ps *PaymentService) publishFailed(ctx context.Context, payment *models.Payment, reason string) {
	if ps.publisher == nil {
		return
	}
	event := &models.PaymentFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentFailed,
			Timestamp: time.Now(),
		},
		OrderID:   payment.OrderID,
		PaymentID: payment.ID,
		Reason:    reason,
	}
	if err := ps.publisher.PublishPaymentFailed(ctx, event); err != nil {
		ps.logger.Error("Failed to publish PaymentFailed event", zap.Error(err))
	}
}

// projection re-reads the payment so callers always see the stored state.
func (ps *PaymentService) projection(ctx context.Context, payment *models.Payment) *models.Payment {
	stored, err := ps.store.GetPayment(ctx, payment.ID)
	if err != nil {
		if !errors.Is(err, models.ErrPaymentNotFound) {
			ps.logger.Warn("Failed to reload payment", zap.Error(err))
		}
		return payment
	}
	return stored
}
