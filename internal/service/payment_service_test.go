package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGateway returns canned results in order and counts calls.
type scriptedGateway struct {
	mu      sync.Mutex
	calls   int32
	results []*ChargeResult
	err     error
}

func (g *scriptedGateway) Charge(ctx context.Context, orderID string, amount int64, method string) (*ChargeResult, error) {
	atomic.AddInt32(&g.calls, 1)
	if g.err != nil {
		return nil, g.err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.results) == 0 {
		return &ChargeResult{Success: true, TransactionID: "TXN-DEFAULT"}, nil
	}
	result := g.results[0]
	if len(g.results) > 1 {
		g.results = g.results[1:]
	}
	return result, nil
}

func (g *scriptedGateway) callCount() int32 {
	return atomic.LoadInt32(&g.calls)
}

type paymentEnv struct {
	*testEnv
	gateway  *scriptedGateway
	payments *PaymentService
}

func newPaymentEnv(t *testing.T) *paymentEnv {
	t.Helper()
	env := newTestEnv(t, 15*time.Minute)
	gateway := &scriptedGateway{}
	payments := NewPaymentService(env.store, env.orders, gateway, nil, nil, 5*time.Second)
	return &paymentEnv{testEnv: env, gateway: gateway, payments: payments}
}

func (e *paymentEnv) createOrder(t *testing.T, couponID int64) *models.Order {
	t.Helper()
	order, err := e.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		UserID:   1,
		Items:    []OrderItemRequest{{ProductID: 1, Quantity: 2}},
		CouponID: couponID,
	})
	require.NoError(t, err)
	return order
}

func TestProcessPaymentSuccess(t *testing.T) {
	env := newPaymentEnv(t)
	env.seedProduct(t, 1, 5000, 10)
	env.gateway.results = []*ChargeResult{{Success: true, TransactionID: "TXN-0001"}}
	ctx := context.Background()

	order := env.createOrder(t, 0)

	payment, err := env.payments.ProcessPayment(ctx, &ProcessPaymentRequest{
		UserID:          1,
		OrderID:         order.ID,
		PaymentMethod:   "CARD",
		ClientRequestID: "req-1",
	})
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusSuccess, payment.Status)
	assert.Equal(t, "TXN-0001", payment.TransactionID)
	assert.Equal(t, order.FinalAmount, payment.Amount)
	require.NotNil(t, payment.PaidAt)

	got, _, err := env.orders.GetOrder(ctx, 1, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, got.Status)

	// Payment consumed the reservation: stock down, nothing held.
	inv, err := env.store.GetInventory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 8, inv.Stock)
	assert.Equal(t, 0, inv.ReservedStock)
}

func TestProcessPaymentIdempotentRetry(t *testing.T) {
	env := newPaymentEnv(t)
	env.seedProduct(t, 1, 5000, 10)
	env.gateway.results = []*ChargeResult{{Success: true, TransactionID: "TXN-0001"}}
	ctx := context.Background()

	order := env.createOrder(t, 0)
	req := &ProcessPaymentRequest{
		UserID:          1,
		OrderID:         order.ID,
		PaymentMethod:   "CARD",
		ClientRequestID: "req-1",
	}

	first, err := env.payments.ProcessPayment(ctx, req)
	require.NoError(t, err)

	second, err := env.payments.ProcessPayment(ctx, req)
	require.NoError(t, err)

	// One gateway call, one record, same projection.
	assert.Equal(t, int32(1), env.gateway.callCount())
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.TransactionID, second.TransactionID)
}

func TestProcessPaymentConcurrentSameRequest(t *testing.T) {
	env := newPaymentEnv(t)
	env.seedProduct(t, 1, 5000, 10)
	env.gateway.results = []*ChargeResult{{Success: true, TransactionID: "TXN-0001"}}
	ctx := context.Background()

	order := env.createOrder(t, 0)

	const submitters = 20
	ids := make([]string, submitters)
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p, err := env.payments.ProcessPayment(ctx, &ProcessPaymentRequest{
				UserID:          1,
				OrderID:         order.ID,
				PaymentMethod:   "CARD",
				ClientRequestID: "req-1",
			})
			if err == nil && p != nil {
				ids[n] = p.ID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), env.gateway.callCount())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestProcessPaymentDeclineCompensates(t *testing.T) {
	env := newPaymentEnv(t)
	env.seedProduct(t, 1, 5000, 10)
	env.seedCoupon(t, &models.Coupon{
		ID:            7,
		DiscountType:  models.DiscountTypeFixedAmount,
		DiscountValue: 1000,
		TotalQuantity: 100,
	})
	env.gateway.results = []*ChargeResult{{Success: false, FailReason: "declined by issuer"}}
	ctx := context.Background()

	order := env.createOrder(t, 7)
	assert.Equal(t, 8, env.available(t, 1))

	payment, err := env.payments.ProcessPayment(ctx, &ProcessPaymentRequest{
		UserID:          1,
		OrderID:         order.ID,
		PaymentMethod:   "CARD",
		ClientRequestID: "req-1",
	})
	assert.ErrorIs(t, err, models.ErrPaymentDeclined)
	require.NotNil(t, payment)
	assert.Equal(t, models.PaymentStatusFailed, payment.Status)
	assert.Equal(t, "declined by issuer", payment.FailReason)

	got, _, err := env.orders.GetOrder(ctx, 1, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, got.Status)
	assert.Equal(t, "payment failed: declined by issuer", got.CancelReason)

	// Compensation released the stock and restored the coupon quota.
	assert.Equal(t, 10, env.available(t, 1))

	coupon, err := env.store.GetCoupon(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 100, coupon.RemainingQuantity)
}

func TestProcessPaymentGatewayErrorCompensates(t *testing.T) {
	env := newPaymentEnv(t)
	env.seedProduct(t, 1, 5000, 10)
	env.gateway.err = errors.New("connection reset")
	ctx := context.Background()

	order := env.createOrder(t, 0)

	payment, err := env.payments.ProcessPayment(ctx, &ProcessPaymentRequest{
		UserID:          1,
		OrderID:         order.ID,
		PaymentMethod:   "CARD",
		ClientRequestID: "req-1",
	})
	assert.ErrorIs(t, err, models.ErrPaymentGatewayUnavailable)
	require.NotNil(t, payment)
	assert.Equal(t, models.PaymentStatusFailed, payment.Status)

	got, _, err := env.orders.GetOrder(ctx, 1, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, got.Status)
	assert.Equal(t, 10, env.available(t, 1))
}

func TestProcessPaymentDuplicateTransactionID(t *testing.T) {
	env := newPaymentEnv(t)
	env.seedProduct(t, 1, 5000, 10)
	// The gateway replays the same transaction id for both orders.
	env.gateway.results = []*ChargeResult{
		{Success: true, TransactionID: "TXN-SAME"},
		{Success: true, TransactionID: "TXN-SAME"},
	}
	ctx := context.Background()

	first := env.createOrder(t, 0)
	_, err := env.payments.ProcessPayment(ctx, &ProcessPaymentRequest{
		UserID:          1,
		OrderID:         first.ID,
		PaymentMethod:   "CARD",
		ClientRequestID: "req-1",
	})
	require.NoError(t, err)

	second := env.createOrder(t, 0)
	payment, err := env.payments.ProcessPayment(ctx, &ProcessPaymentRequest{
		UserID:          1,
		OrderID:         second.ID,
		PaymentMethod:   "CARD",
		ClientRequestID: "req-2",
	})
	assert.ErrorIs(t, err, models.ErrPaymentDeclined)
	require.NotNil(t, payment)
	assert.Equal(t, models.PaymentStatusFailed, payment.Status)

	// The second order is left PENDING: its money state is unresolved, so
	// no compensation runs.
	got, _, err := env.orders.GetOrder(ctx, 1, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Status)
}

func TestProcessPaymentAlreadyPaidOrder(t *testing.T) {
	env := newPaymentEnv(t)
	env.seedProduct(t, 1, 5000, 10)
	env.gateway.results = []*ChargeResult{
		{Success: true, TransactionID: "TXN-0001"},
		{Success: true, TransactionID: "TXN-0002"},
	}
	ctx := context.Background()

	order := env.createOrder(t, 0)
	first, err := env.payments.ProcessPayment(ctx, &ProcessPaymentRequest{
		UserID:          1,
		OrderID:         order.ID,
		PaymentMethod:   "CARD",
		ClientRequestID: "req-1",
	})
	require.NoError(t, err)

	// A different client request id against the same order hits the
	// per-order backstop instead of charging again.
	second, err := env.payments.ProcessPayment(ctx, &ProcessPaymentRequest{
		UserID:          1,
		OrderID:         order.ID,
		PaymentMethod:   "CARD",
		ClientRequestID: "req-2",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int32(1), env.gateway.callCount())
}

func TestProcessPaymentOwnership(t *testing.T) {
	env := newPaymentEnv(t)
	env.seedProduct(t, 1, 5000, 10)
	ctx := context.Background()

	order := env.createOrder(t, 0)

	_, err := env.payments.ProcessPayment(ctx, &ProcessPaymentRequest{
		UserID:        2,
		OrderID:       order.ID,
		PaymentMethod: "CARD",
	})
	assert.ErrorIs(t, err, models.ErrPaymentNotAllowed)
	assert.Equal(t, int32(0), env.gateway.callCount())
}

func TestProcessPaymentCancelledOrder(t *testing.T) {
	env := newPaymentEnv(t)
	env.seedProduct(t, 1, 5000, 10)
	ctx := context.Background()

	order := env.createOrder(t, 0)
	require.NoError(t, env.orders.Cancel(ctx, 1, order.ID, "changed my mind"))

	_, err := env.payments.ProcessPayment(ctx, &ProcessPaymentRequest{
		UserID:        1,
		OrderID:       order.ID,
		PaymentMethod: "CARD",
	})
	assert.ErrorIs(t, err, models.ErrInvalidOrderStatus)
	assert.Equal(t, int32(0), env.gateway.callCount())
}

func TestFailedRetrySameRequestIDReturnsRecord(t *testing.T) {
	env := newPaymentEnv(t)
	env.seedProduct(t, 1, 5000, 10)
	env.gateway.results = []*ChargeResult{{Success: false, FailReason: "declined by issuer"}}
	ctx := context.Background()

	order := env.createOrder(t, 0)
	req := &ProcessPaymentRequest{
		UserID:          1,
		OrderID:         order.ID,
		PaymentMethod:   "CARD",
		ClientRequestID: "req-1",
	}

	_, err := env.payments.ProcessPayment(ctx, req)
	assert.ErrorIs(t, err, models.ErrPaymentDeclined)

	// The retry sees the stored FAILED record, no second charge.
	payment, err := env.payments.ProcessPayment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, payment.Status)
	assert.Equal(t, int32(1), env.gateway.callCount())
}
