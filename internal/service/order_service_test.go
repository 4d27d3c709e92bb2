package service

import (
	"context"
	"testing"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store     *store.Memory
	inventory *InventoryLedger
	coupons   *CouponService
	orders    *OrderService
}

func newTestEnv(t *testing.T, orderTTL time.Duration) *testEnv {
	t.Helper()
	m := store.NewMemory()
	inventory := NewInventoryLedger(m)
	coupons := NewCouponService(m, nil, nil, 30*24*time.Hour)
	orders := NewOrderService(m, inventory, coupons, nil, orderTTL)
	return &testEnv{store: m, inventory: inventory, coupons: coupons, orders: orders}
}

func (e *testEnv) seedProduct(t *testing.T, id int64, price int64, stock int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.PutProduct(ctx, &models.Product{
		ID:     id,
		SKU:    "SKU-TEST",
		Name:   "test product",
		Price:  price,
		Status: models.ProductStatusOnSale,
	}))
	require.NoError(t, e.store.PutInventory(ctx, &models.Inventory{
		ProductID: id,
		Stock:     stock,
	}))
}

func (e *testEnv) seedCoupon(t *testing.T, c *models.Coupon) {
	t.Helper()
	now := time.Now()
	if c.StartsAt.IsZero() {
		c.StartsAt = now.Add(-time.Hour)
	}
	if c.EndsAt.IsZero() {
		c.EndsAt = now.Add(time.Hour)
	}
	if c.Status == "" {
		c.Status = models.CouponStatusActive
	}
	if c.RemainingQuantity == 0 {
		c.RemainingQuantity = c.TotalQuantity
	}
	require.NoError(t, e.store.PutCoupon(context.Background(), c))
}

func (e *testEnv) available(t *testing.T, productID int64) int {
	t.Helper()
	inv, err := e.store.GetInventory(context.Background(), productID)
	require.NoError(t, err)
	return inv.Available()
}

func TestCreateOrderSnapshotsPricesAndReserves(t *testing.T) {
	env := newTestEnv(t, 15*time.Minute)
	env.seedProduct(t, 1, 1000, 10)
	env.seedProduct(t, 2, 500, 10)
	ctx := context.Background()

	order, err := env.orders.CreateOrder(ctx, &CreateOrderRequest{
		UserID: 1,
		Items: []OrderItemRequest{
			{ProductID: 1, Quantity: 2},
			{ProductID: 2, Quantity: 3},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, int64(2*1000+3*500), order.ItemsTotal)
	assert.Equal(t, order.ItemsTotal, order.FinalAmount)
	assert.Contains(t, order.OrderNumber, "ORD-")
	assert.True(t, order.ExpiresAt.After(time.Now()))

	assert.Equal(t, 8, env.available(t, 1))
	assert.Equal(t, 7, env.available(t, 2))

	_, items, err := env.orders.GetOrder(ctx, 1, order.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(2000), items[0].Subtotal)

	// A later catalog price change must not affect the stored snapshot.
	require.NoError(t, env.store.PutProduct(ctx, &models.Product{
		ID: 1, Price: 9999, Status: models.ProductStatusOnSale,
	}))
	_, items, err = env.orders.GetOrder(ctx, 1, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), items[0].UnitPrice)
}

func TestCreateOrderRollsBackOnPartialReservation(t *testing.T) {
	env := newTestEnv(t, 15*time.Minute)
	env.seedProduct(t, 1, 1000, 10)
	env.seedProduct(t, 2, 500, 1)
	ctx := context.Background()

	_, err := env.orders.CreateOrder(ctx, &CreateOrderRequest{
		UserID: 1,
		Items: []OrderItemRequest{
			{ProductID: 1, Quantity: 2},
			{ProductID: 2, Quantity: 5},
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	// The reservation on product 1 must have been rolled back.
	assert.Equal(t, 10, env.available(t, 1))
	assert.Equal(t, 1, env.available(t, 2))

	orders, err := env.orders.ListOrders(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCreateOrderRejectsStoppedProduct(t *testing.T) {
	env := newTestEnv(t, 15*time.Minute)
	ctx := context.Background()
	require.NoError(t, env.store.PutProduct(ctx, &models.Product{
		ID: 1, Price: 1000, Status: models.ProductStatusStopped,
	}))

	_, err := env.orders.CreateOrder(ctx, &CreateOrderRequest{
		UserID: 1,
		Items:  []OrderItemRequest{{ProductID: 1, Quantity: 1}},
	})
	assert.ErrorIs(t, err, models.ErrProductNotSellable)
}

func TestCreateOrderRejectsNonPositiveQuantity(t *testing.T) {
	env := newTestEnv(t, 15*time.Minute)
	env.seedProduct(t, 1, 1000, 10)

	_, err := env.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		UserID: 1,
		Items:  []OrderItemRequest{{ProductID: 1, Quantity: 0}},
	})
	assert.Error(t, err)
}

func TestCreateOrderWithPercentageCoupon(t *testing.T) {
	env := newTestEnv(t, 15*time.Minute)
	env.seedProduct(t, 1, 10000, 10)
	env.seedCoupon(t, &models.Coupon{
		ID:                7,
		DiscountType:      models.DiscountTypePercentage,
		DiscountValue:     10,
		MaxDiscountAmount: 1500,
		TotalQuantity:     100,
	})
	ctx := context.Background()

	order, err := env.orders.CreateOrder(ctx, &CreateOrderRequest{
		UserID:   1,
		Items:    []OrderItemRequest{{ProductID: 1, Quantity: 2}},
		CouponID: 7,
	})
	require.NoError(t, err)

	// 10% of 20000 is 2000, capped at 1500.
	assert.Equal(t, int64(20000), order.ItemsTotal)
	assert.Equal(t, int64(1500), order.DiscountAmount)
	assert.Equal(t, int64(18500), order.FinalAmount)
	require.NotEmpty(t, order.UserCouponID)

	uc, err := env.coupons.GetUserCoupon(ctx, order.UserCouponID)
	require.NoError(t, err)
	assert.True(t, uc.IsUsed)
	assert.Equal(t, order.ID, uc.OrderID)

	coupon, err := env.store.GetCoupon(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 99, coupon.RemainingQuantity)
}

func TestCreateOrderFixedCouponNeverExceedsTotal(t *testing.T) {
	env := newTestEnv(t, 15*time.Minute)
	env.seedProduct(t, 1, 3000, 10)
	env.seedCoupon(t, &models.Coupon{
		ID:            7,
		DiscountType:  models.DiscountTypeFixedAmount,
		DiscountValue: 5000,
		TotalQuantity: 100,
	})

	order, err := env.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		UserID:   1,
		Items:    []OrderItemRequest{{ProductID: 1, Quantity: 1}},
		CouponID: 7,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(3000), order.DiscountAmount)
	assert.Equal(t, int64(0), order.FinalAmount)
}

func TestCreateOrderCouponBelowMinimumRollsBack(t *testing.T) {
	env := newTestEnv(t, 15*time.Minute)
	env.seedProduct(t, 1, 1000, 10)
	env.seedCoupon(t, &models.Coupon{
		ID:             7,
		DiscountType:   models.DiscountTypeFixedAmount,
		DiscountValue:  500,
		MinOrderAmount: 5000,
		TotalQuantity:  100,
	})
	ctx := context.Background()

	_, err := env.orders.CreateOrder(ctx, &CreateOrderRequest{
		UserID:   1,
		Items:    []OrderItemRequest{{ProductID: 1, Quantity: 1}},
		CouponID: 7,
	})
	assert.ErrorIs(t, err, models.ErrCouponBelowMinAmount)

	// Item reservations are rolled back; the issued coupon survives for a
	// later qualifying order.
	assert.Equal(t, 10, env.available(t, 1))

	uc, err := env.store.GetUserCouponByUser(ctx, 7, 1)
	require.NoError(t, err)
	assert.False(t, uc.IsUsed)
}

func TestCancelPendingReleasesEverything(t *testing.T) {
	env := newTestEnv(t, 15*time.Minute)
	env.seedProduct(t, 1, 10000, 10)
	env.seedCoupon(t, &models.Coupon{
		ID:            7,
		DiscountType:  models.DiscountTypeFixedAmount,
		DiscountValue: 1000,
		TotalQuantity: 100,
	})
	ctx := context.Background()

	order, err := env.orders.CreateOrder(ctx, &CreateOrderRequest{
		UserID:   1,
		Items:    []OrderItemRequest{{ProductID: 1, Quantity: 3}},
		CouponID: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, env.available(t, 1))

	require.NoError(t, env.orders.Cancel(ctx, 1, order.ID, "changed my mind"))

	got, _, err := env.orders.GetOrder(ctx, 1, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, got.Status)
	assert.Equal(t, "changed my mind", got.CancelReason)

	// Full compensation: stock back, coupon unreserved, quota restored.
	assert.Equal(t, 10, env.available(t, 1))

	uc, err := env.coupons.GetUserCoupon(ctx, order.UserCouponID)
	require.NoError(t, err)
	assert.False(t, uc.IsUsed)

	coupon, err := env.store.GetCoupon(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 100, coupon.RemainingQuantity)
}

func TestCancelPaidDoesNotRestock(t *testing.T) {
	env := newTestEnv(t, 15*time.Minute)
	env.seedProduct(t, 1, 10000, 10)
	ctx := context.Background()

	order, err := env.orders.CreateOrder(ctx, &CreateOrderRequest{
		UserID: 1,
		Items:  []OrderItemRequest{{ProductID: 1, Quantity: 3}},
	})
	require.NoError(t, err)

	require.NoError(t, env.orders.markPaidLocked(ctx, order, time.Now()))

	// Paying consumed the reservation permanently.
	inv, err := env.store.GetInventory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 7, inv.Stock)
	assert.Equal(t, 0, inv.ReservedStock)

	require.NoError(t, env.orders.Cancel(ctx, 1, order.ID, "refund requested"))

	// Cancelling after payment is a business-state change only.
	inv, err = env.store.GetInventory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 7, inv.Stock)
	assert.Equal(t, 0, inv.ReservedStock)
}

func TestCancelEnforcesOwnership(t *testing.T) {
	env := newTestEnv(t, 15*time.Minute)
	env.seedProduct(t, 1, 1000, 10)
	ctx := context.Background()

	order, err := env.orders.CreateOrder(ctx, &CreateOrderRequest{
		UserID: 1,
		Items:  []OrderItemRequest{{ProductID: 1, Quantity: 1}},
	})
	require.NoError(t, err)

	err = env.orders.Cancel(ctx, 2, order.ID, "not mine")
	assert.ErrorIs(t, err, models.ErrOrderAccessDenied)
}

func TestConfirmRequiresPaid(t *testing.T) {
	env := newTestEnv(t, 15*time.Minute)
	env.seedProduct(t, 1, 1000, 10)
	ctx := context.Background()

	order, err := env.orders.CreateOrder(ctx, &CreateOrderRequest{
		UserID: 1,
		Items:  []OrderItemRequest{{ProductID: 1, Quantity: 1}},
	})
	require.NoError(t, err)

	err = env.orders.Confirm(ctx, order.ID)
	assert.ErrorIs(t, err, models.ErrInvalidOrderStatus)

	require.NoError(t, env.orders.markPaidLocked(ctx, order, time.Now()))
	require.NoError(t, env.orders.Confirm(ctx, order.ID))

	got, _, err := env.orders.GetOrder(ctx, 1, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, got.Status)

	// CONFIRMED is terminal.
	err = env.orders.Cancel(ctx, 1, order.ID, "too late")
	assert.ErrorIs(t, err, models.ErrOrderNotCancellable)
}

func TestSweepExpiredReclaimsPendingOrders(t *testing.T) {
	// Negative TTL makes every new order immediately expired.
	env := newTestEnv(t, -time.Minute)
	env.seedProduct(t, 1, 1000, 10)
	env.seedCoupon(t, &models.Coupon{
		ID:            7,
		DiscountType:  models.DiscountTypeFixedAmount,
		DiscountValue: 100,
		TotalQuantity: 100,
	})
	ctx := context.Background()

	order, err := env.orders.CreateOrder(ctx, &CreateOrderRequest{
		UserID:   1,
		Items:    []OrderItemRequest{{ProductID: 1, Quantity: 4}},
		CouponID: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, 6, env.available(t, 1))

	swept, err := env.orders.SweepExpired(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got, _, err := env.orders.GetOrder(ctx, 1, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, got.Status)
	assert.Equal(t, "order expired", got.CancelReason)

	assert.Equal(t, 10, env.available(t, 1))

	coupon, err := env.store.GetCoupon(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 100, coupon.RemainingQuantity)

	// A second sweep finds nothing.
	swept, err = env.orders.SweepExpired(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, swept)
}

func TestCreateOrderFromCart(t *testing.T) {
	env := newTestEnv(t, 15*time.Minute)
	env.seedProduct(t, 1, 1000, 10)
	env.seedProduct(t, 2, 2000, 10)
	ctx := context.Background()

	itemA := &models.CartItem{UserID: 1, ProductID: 1, Quantity: 2}
	itemB := &models.CartItem{UserID: 1, ProductID: 2, Quantity: 1}
	require.NoError(t, env.store.AddItem(ctx, itemA))
	require.NoError(t, env.store.AddItem(ctx, itemB))

	order, err := env.orders.CreateOrderFromCart(ctx, 1, []int64{itemA.ID, itemB.ID}, 0, models.DeliveryInfo{
		Receiver: "Kim",
		Address:  "1 Test St",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2*1000+2000), order.ItemsTotal)
	assert.Equal(t, "Kim", order.Delivery.Receiver)

	// The ordered items are gone from the cart.
	left, err := env.store.GetSelectedItems(ctx, 1, []int64{itemA.ID, itemB.ID})
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestCouponReuseAcrossOrders(t *testing.T) {
	env := newTestEnv(t, 15*time.Minute)
	env.seedProduct(t, 1, 10000, 10)
	env.seedCoupon(t, &models.Coupon{
		ID:            7,
		DiscountType:  models.DiscountTypeFixedAmount,
		DiscountValue: 1000,
		TotalQuantity: 100,
	})
	ctx := context.Background()

	first, err := env.orders.CreateOrder(ctx, &CreateOrderRequest{
		UserID:   1,
		Items:    []OrderItemRequest{{ProductID: 1, Quantity: 1}},
		CouponID: 7,
	})
	require.NoError(t, err)

	// The coupon is held by the first order.
	_, err = env.orders.CreateOrder(ctx, &CreateOrderRequest{
		UserID:   1,
		Items:    []OrderItemRequest{{ProductID: 1, Quantity: 1}},
		CouponID: 7,
	})
	assert.ErrorIs(t, err, models.ErrCouponAlreadyReserved)

	// Cancelling frees it for the next order.
	require.NoError(t, env.orders.Cancel(ctx, 1, first.ID, "retry"))

	second, err := env.orders.CreateOrder(ctx, &CreateOrderRequest{
		UserID:   1,
		Items:    []OrderItemRequest{{ProductID: 1, Quantity: 1}},
		CouponID: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), second.DiscountAmount)

	uc, err := env.coupons.GetUserCoupon(ctx, second.UserCouponID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, uc.OrderID)
}
