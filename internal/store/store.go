package store

import (
	"context"
	"time"

	"checkout-service/internal/models"
)

// The storage contract is one port per aggregate. Every check-and-act
// sequence (reserve, issue, status transition guard, payment uniqueness)
// executes atomically inside the adapter: the memory adapter serializes per
// resource key with per-key mutexes, the postgres adapter with row-level
// FOR UPDATE locks. Operations on different keys never block each other.

// ProductStore is the catalog lookup port.
type ProductStore interface {
	GetProduct(ctx context.Context, productID int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, productIDs []int64) (map[int64]*models.Product, error)
	PutProduct(ctx context.Context, p *models.Product) error
}

// CartStore is the cart collaborator port.
type CartStore interface {
	GetSelectedItems(ctx context.Context, userID int64, itemIDs []int64) ([]models.CartItem, error)
	AddItem(ctx context.Context, item *models.CartItem) error
	RemoveItems(ctx context.Context, userID int64, itemIDs []int64) error
}

// InventoryStore owns stock and reserved-stock counters per product.
// Each mutation is linearizable with respect to all others on the same
// product id.
type InventoryStore interface {
	GetInventory(ctx context.Context, productID int64) (*models.Inventory, error)
	PutInventory(ctx context.Context, inv *models.Inventory) error

	// Reserve holds qty units against an open order. Fails with
	// models.ErrInsufficientStock when available stock is short.
	Reserve(ctx context.Context, productID int64, qty int) (*models.Inventory, error)
	// Release returns qty reserved units to the available pool. Fails with
	// models.ErrInsufficientReservedStock on double-release.
	Release(ctx context.Context, productID int64, qty int) (*models.Inventory, error)
	// Confirm consumes qty reserved units permanently, decrementing both
	// stock and reserved stock.
	Confirm(ctx context.Context, productID int64, qty int) (*models.Inventory, error)
}

// CouponStore owns coupon quotas and per-user issuance records.
type CouponStore interface {
	GetCoupon(ctx context.Context, couponID int64) (*models.Coupon, error)
	PutCoupon(ctx context.Context, c *models.Coupon) error

	// Issue atomically validates the coupon (active, inside its window,
	// quota left, no prior issuance for this user), decrements the
	// remaining quantity and inserts the user coupon record. Concurrent
	// callers for the same coupon serialize through this unit.
	Issue(ctx context.Context, uc *models.UserCoupon) error
	// CancelIssue restores one unit of quota, bounded by the total
	// quantity. Exceeding the bound returns models.ErrCouponRestoreFailed.
	CancelIssue(ctx context.Context, couponID int64) error

	GetUserCoupon(ctx context.Context, userCouponID string) (*models.UserCoupon, error)
	GetUserCouponByUser(ctx context.Context, couponID, userID int64) (*models.UserCoupon, error)
	ListUserCoupons(ctx context.Context, userID int64) ([]models.UserCoupon, error)
	CountUserCoupons(ctx context.Context, couponID int64) (int, error)

	// ReserveUserCoupon attaches an unused, unexpired user coupon to an
	// order, marking it used.
	ReserveUserCoupon(ctx context.Context, userCouponID, orderID string, now time.Time) error
	// ReleaseUserCoupon is the exact inverse of ReserveUserCoupon. It does
	// not touch the coupon quota; CancelIssue restores that separately.
	ReleaseUserCoupon(ctx context.Context, userCouponID string) error
}

// OrderStore owns order aggregates and their item snapshots. Status
// transitions are guarded conditional updates: they fail when the order is
// not in the expected source state.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	// ListExpiredPending returns PENDING orders whose expiry has passed,
	// for the background sweep.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Order, error)

	// MarkPaid transitions PENDING -> PAID.
	MarkPaid(ctx context.Context, orderID string, paidAt time.Time) error
	// MarkConfirmed transitions PAID -> CONFIRMED.
	MarkConfirmed(ctx context.Context, orderID string) error
	// MarkCancelled transitions PENDING|PAID -> CANCELLED. Fails with
	// models.ErrOrderNotCancellable from any other state.
	MarkCancelled(ctx context.Context, orderID string, at time.Time, reason string) error
}

// PaymentStore owns payment attempt records and their uniqueness
// constraints: one row per client request id, one per transaction id, one
// SUCCESS row per order.
type PaymentStore interface {
	// CreatePayment inserts a PENDING attempt. A duplicate non-empty
	// client request id fails the insert.
	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, paymentID string) (*models.Payment, error)
	// GetPaymentByClientRequestID returns nil, nil when no record matches.
	GetPaymentByClientRequestID(ctx context.Context, clientRequestID string) (*models.Payment, error)
	// GetSuccessfulPaymentByOrder returns nil, nil when the order has no
	// SUCCESS payment.
	GetSuccessfulPaymentByOrder(ctx context.Context, orderID string) (*models.Payment, error)

	// MarkPaymentSucceeded sets SUCCESS with the gateway transaction id.
	// It fails when the transaction id is already attached to a different
	// payment record.
	MarkPaymentSucceeded(ctx context.Context, paymentID, transactionID string, at time.Time) error
	MarkPaymentFailed(ctx context.Context, paymentID, reason string, at time.Time) error

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Store bundles all aggregate ports behind one seam so the storage engine
// stays a pluggable adapter.
type Store interface {
	ProductStore
	CartStore
	InventoryStore
	CouponStore
	OrderStore
	PaymentStore
	Close() error
}
