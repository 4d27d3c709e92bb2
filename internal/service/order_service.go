package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService owns the order lifecycle state machine and orchestrates the
// inventory ledger and coupon register during creation and cancellation.
// Transitions on one order serialize through a per-order mutex; inventory
// locks are taken in ascending product id order, the coupon last, so
// overlapping orders cannot deadlock.
type OrderService struct {
	store      store.Store
	inventory  *InventoryLedger
	coupons    *CouponService
	publisher  *broker.EventPublisher
	logger     *zap.Logger
	orderTTL   time.Duration
	orderLocks *util.KeyedMutex
}

// NewOrderService creates a new order service. publisher may be nil.
func NewOrderService(
	st store.Store,
	inventory *InventoryLedger,
	coupons *CouponService,
	publisher *broker.EventPublisher,
	orderTTL time.Duration,
) *OrderService {
	return &OrderService{
		store:      st,
		inventory:  inventory,
		coupons:    coupons,
		publisher:  publisher,
		logger:     util.GetLogger(),
		orderTTL:   orderTTL,
		orderLocks: util.NewKeyedMutex(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	UserID   int64               `json:"user_id" binding:"required"`
	Items    []OrderItemRequest  `json:"items" binding:"required,min=1"`
	CouponID int64               `json:"coupon_id,omitempty"`
	Delivery models.DeliveryInfo `json:"delivery"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// CreateOrder creates a PENDING order: reserves every item, attaches the
// coupon if requested, snapshots prices and persists the aggregate. Any
// step failing rolls back all prior reservations in the same call; no
// partial order is ever persisted.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if len(req.Items) == 0 {
		return nil, fmt.Errorf("order must contain at least one item")
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("item quantity must be positive, got %d for product %d",
				item.Quantity, item.ProductID)
		}
	}

	products, err := s.snapshotProducts(ctx, req.Items)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	now := time.Now()
	order := &models.Order{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		OrderNumber: newOrderNumber(now),
		Status:      models.OrderStatusPending,
		Delivery:    req.Delivery,
		ExpiresAt:   now.Add(s.orderTTL),
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	var itemsTotal int64
	for _, item := range req.Items {
		price := products[item.ProductID].Price
		subtotal := price * int64(item.Quantity)
		itemsTotal += subtotal
		items = append(items, models.OrderItem{
			OrderID:   order.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: price,
			Subtotal:  subtotal,
		})
	}
	// Fixed lock order: ascending product id, coupon last.
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	reserved, err := s.reserveItems(ctx, items)
	if err != nil {
		s.releaseItems(ctx, reserved)
		util.OrdersFailedTotal.WithLabelValues("reservation_failed").Inc()
		return nil, err
	}

	var discount int64
	if req.CouponID != 0 {
		uc, dErr := s.attachCoupon(ctx, req.CouponID, req.UserID, order.ID, itemsTotal, &discount)
		if dErr != nil {
			s.releaseItems(ctx, reserved)
			util.OrdersFailedTotal.WithLabelValues("coupon_failed").Inc()
			return nil, dErr
		}
		order.UserCouponID = uc.ID
	}

	order.ItemsTotal = itemsTotal
	order.DiscountAmount = discount
	order.FinalAmount = itemsTotal - discount

	if err := s.store.CreateOrder(ctx, order, items); err != nil {
		if order.UserCouponID != "" {
			if rErr := s.coupons.Release(ctx, order.UserCouponID); rErr != nil {
				s.logger.Error("Failed to release coupon after order persist failure",
					zap.String("user_coupon_id", order.UserCouponID), zap.Error(rErr))
			}
		}
		s.releaseItems(ctx, reserved)
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("final_amount", order.FinalAmount))

	s.publishOrderCreated(ctx, order, items)
	return order, nil
}

// CreateOrderFromCart builds the item list from the user's selected cart
// items, creates the order, then removes the items from the cart.
func (s *OrderService) CreateOrderFromCart(ctx context.Context, userID int64, cartItemIDs []int64, couponID int64, delivery models.DeliveryInfo) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrderFromCart")
	defer span.End()

	cartItems, err := s.store.GetSelectedItems(ctx, userID, cartItemIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart items: %w", err)
	}
	if len(cartItems) == 0 {
		return nil, fmt.Errorf("no cart items selected")
	}

	req := &CreateOrderRequest{
		UserID:   userID,
		CouponID: couponID,
		Delivery: delivery,
	}
	for _, ci := range cartItems {
		req.Items = append(req.Items, OrderItemRequest{ProductID: ci.ProductID, Quantity: ci.Quantity})
	}

	order, err := s.CreateOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.store.RemoveItems(ctx, userID, cartItemIDs); err != nil {
		s.logger.Error("Failed to clear cart after order creation",
			zap.String("order_id", order.ID), zap.Error(err))
	}
	return order, nil
}

// Cancel aborts an order from PENDING or PAID. For a PENDING order it
// releases every item reservation and, when a coupon is attached, releases
// the user coupon and restores the coupon quota. userID 0 skips the
// ownership check (internal callers: expiry sweep).
func (s *OrderService) Cancel(ctx context.Context, userID int64, orderID, reason string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel")
	defer span.End()

	s.orderLocks.Lock(orderID)
	defer s.orderLocks.Unlock(orderID)

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if userID != 0 && order.UserID != userID {
		return fmt.Errorf("%w: order %s", models.ErrOrderAccessDenied, orderID)
	}

	return s.cancelLocked(ctx, order, reason)
}

// cancelLocked performs the cancellation transition and compensation. The
// caller must hold the per-order lock.
func (s *OrderService) cancelLocked(ctx context.Context, order *models.Order, reason string) error {
	wasPending := order.Status == models.OrderStatusPending

	now := time.Now()
	if err := s.store.MarkCancelled(ctx, order.ID, now, reason); err != nil {
		return err
	}

	// Reservations only exist while the order was PENDING; a PAID order's
	// units are already consumed and are not restocked here.
	if wasPending {
		items, err := s.store.GetOrderItems(ctx, order.ID)
		if err != nil {
			s.logger.Error("Failed to load items for compensation",
				zap.String("order_id", order.ID), zap.Error(err))
		} else {
			// Reverse of the acquisition order.
			sort.Slice(items, func(i, j int) bool { return items[i].ProductID > items[j].ProductID })
			s.releaseItems(ctx, items)
		}

		if order.UserCouponID != "" {
			uc, err := s.coupons.GetUserCoupon(ctx, order.UserCouponID)
			if err != nil {
				s.logger.Error("Failed to load coupon for compensation",
					zap.String("user_coupon_id", order.UserCouponID), zap.Error(err))
			} else {
				if err := s.coupons.Release(ctx, order.UserCouponID); err != nil {
					s.logger.Error("Failed to release coupon",
						zap.String("user_coupon_id", order.UserCouponID), zap.Error(err))
				} else if err := s.coupons.CancelIssue(ctx, uc.CouponID); err != nil {
					s.logger.Error("Failed to restore coupon quota",
						zap.Int64("coupon_id", uc.CouponID), zap.Error(err))
				}
			}
		}
	}

	util.OrdersCancelledTotal.WithLabelValues(cancelMetricReason(reason)).Inc()
	s.logger.Info("Order cancelled",
		zap.String("order_id", order.ID),
		zap.String("reason", reason))

	if s.publisher != nil {
		event := &models.OrderCancelledEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderCancelled,
				Timestamp: now,
			},
			OrderID: order.ID,
			UserID:  order.UserID,
			Reason:  reason,
		}
		if err := s.publisher.PublishOrderCancelled(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
		}
	}
	return nil
}

// markPaidLocked transitions PENDING -> PAID and permanently consumes the
// held reservations. The caller must hold the per-order lock.
func (s *OrderService) markPaidLocked(ctx context.Context, order *models.Order, paidAt time.Time) error {
	if err := s.store.MarkPaid(ctx, order.ID, paidAt); err != nil {
		return err
	}

	items, err := s.store.GetOrderItems(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("failed to load items for confirmation: %w", err)
	}
	for _, item := range items {
		if err := s.inventory.Confirm(ctx, item.ProductID, item.Quantity); err != nil {
			// The reservation was held since creation, so this signals a
			// ledger bookkeeping bug rather than a race with other orders.
			s.logger.Error("Failed to confirm reserved stock",
				zap.String("order_id", order.ID),
				zap.Int64("product_id", item.ProductID),
				zap.Error(err))
		}
	}

	util.OrdersPaidTotal.Inc()
	s.logger.Info("Order paid", zap.String("order_id", order.ID))
	return nil
}

// Confirm moves a PAID order to its terminal CONFIRMED state for
// fulfillment.
func (s *OrderService) Confirm(ctx context.Context, orderID string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.Confirm")
	defer span.End()

	s.orderLocks.Lock(orderID)
	defer s.orderLocks.Unlock(orderID)

	if err := s.store.MarkConfirmed(ctx, orderID); err != nil {
		return err
	}

	util.OrdersConfirmedTotal.Inc()
	s.logger.Info("Order confirmed", zap.String("order_id", orderID))

	if s.publisher != nil {
		order, err := s.store.GetOrder(ctx, orderID)
		if err == nil {
			event := &models.OrderConfirmedEvent{
				BaseEvent: models.BaseEvent{
					EventID:   uuid.New().String(),
					EventType: models.EventTypeOrderConfirmed,
					Timestamp: time.Now(),
				},
				OrderID: orderID,
				UserID:  order.UserID,
			}
			if err := s.publisher.PublishOrderConfirmed(ctx, event); err != nil {
				s.logger.Error("Failed to publish OrderConfirmed event", zap.Error(err))
			}
		}
	}
	return nil
}

// SweepExpired reclaims PENDING orders whose TTL has passed, reusing the
// cancellation path so compensation stays identical. Returns the number of
// orders reclaimed.
func (s *OrderService) SweepExpired(ctx context.Context, batchSize int) (int, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.SweepExpired")
	defer span.End()

	now := time.Now()
	expired, err := s.store.ListExpiredPending(ctx, now, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired orders: %w", err)
	}

	swept := 0
	for i := range expired {
		orderID := expired[i].ID
		s.orderLocks.Lock(orderID)
		order, err := s.store.GetOrder(ctx, orderID)
		if err == nil && order.IsExpired(now) {
			if err := s.cancelLocked(ctx, order, "order expired"); err != nil {
				s.logger.Error("Failed to cancel expired order",
					zap.String("order_id", orderID), zap.Error(err))
			} else {
				util.OrdersExpiredTotal.Inc()
				swept++
			}
		}
		s.orderLocks.Unlock(orderID)
	}
	return swept, nil
}

// GetOrder retrieves an order with its items, enforcing ownership.
func (s *OrderService) GetOrder(ctx context.Context, userID int64, orderID string) (*models.Order, []models.OrderItem, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if userID != 0 && order.UserID != userID {
		return nil, nil, fmt.Errorf("%w: order %s", models.ErrOrderAccessDenied, orderID)
	}

	items, err := s.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

// ListOrders returns a user's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.store.ListOrdersByUser(ctx, userID)
}

// reserveItems reserves each item in order, returning the successfully
// reserved prefix so the caller can roll it back on failure.
func (s *OrderService) reserveItems(ctx context.Context, items []models.OrderItem) ([]models.OrderItem, error) {
	reserved := make([]models.OrderItem, 0, len(items))
	for _, item := range items {
		if err := s.inventory.Reserve(ctx, item.ProductID, item.Quantity); err != nil {
			return reserved, fmt.Errorf("failed to reserve product %d: %w", item.ProductID, err)
		}
		reserved = append(reserved, item)
	}
	return reserved, nil
}

// releaseItems rolls back reservations, logging rather than failing:
// compensation must run to completion for every item.
func (s *OrderService) releaseItems(ctx context.Context, items []models.OrderItem) {
	for _, item := range items {
		if err := s.inventory.Release(ctx, item.ProductID, item.Quantity); err != nil {
			s.logger.Error("Failed to release reservation",
				zap.Int64("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity),
				zap.Error(err))
		}
	}
}

// attachCoupon locates or issues the user's coupon, validates the minimum
// order amount, computes the discount and reserves the coupon for the
// order.
func (s *OrderService) attachCoupon(ctx context.Context, couponID, userID int64, orderID string, itemsTotal int64, discount *int64) (*models.UserCoupon, error) {
	uc, err := s.coupons.LocateOrIssue(ctx, couponID, userID)
	if err != nil {
		return nil, err
	}

	d, err := s.coupons.Discount(ctx, couponID, itemsTotal)
	if err != nil {
		return nil, err
	}

	if err := s.coupons.Reserve(ctx, uc.ID, orderID); err != nil {
		return nil, err
	}

	*discount = d
	return uc, nil
}

// snapshotProducts loads and validates every product referenced by the
// request.
func (s *OrderService) snapshotProducts(ctx context.Context, items []OrderItemRequest) (map[int64]*models.Product, error) {
	productIDs := make([]int64, len(items))
	for i, item := range items {
		productIDs[i] = item.ProductID
	}

	products, err := s.store.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		if p.Status != models.ProductStatusOnSale {
			return nil, fmt.Errorf("%w: product %d is %s", models.ErrProductNotSellable, p.ID, p.Status)
		}
	}
	return products, nil
}

func (s *OrderService) publishOrderCreated(ctx context.Context, order *models.Order, items []models.OrderItem) {
	if s.publisher == nil {
		return
	}

	itemData := make([]models.OrderItemData, len(items))
	for i, item := range items {
		itemData[i] = models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}

	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: time.Now(),
		},
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		FinalAmount: order.FinalAmount,
		Items:       itemData,
	}
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), suffix)
}

func cancelMetricReason(reason string) string {
	switch {
	case strings.HasPrefix(reason, "payment failed"):
		return "payment_failed"
	case reason == "order expired":
		return "expired"
	default:
		return "user_request"
	}
}
