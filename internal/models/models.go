package models

import "time"

// Product represents a sellable product in the catalog
type Product struct {
	ID        int64     `db:"id" json:"id"`
	SKU       string    `db:"sku" json:"sku"`
	Name      string    `db:"name" json:"name"`
	Price     int64     `db:"price" json:"price"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Product statuses
const (
	ProductStatusOnSale  = "ON_SALE"
	ProductStatusStopped = "STOPPED"
)

// Inventory represents the stock ledger row for a product.
// Available stock is Stock - ReservedStock and must never go negative.
type Inventory struct {
	ProductID         int64     `db:"product_id" json:"product_id"`
	Stock             int       `db:"stock" json:"stock"`
	ReservedStock     int       `db:"reserved_stock" json:"reserved_stock"`
	LowStockThreshold int       `db:"low_stock_threshold" json:"low_stock_threshold"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Available returns the stock still open for new reservations.
func (inv *Inventory) Available() int {
	return inv.Stock - inv.ReservedStock
}

// CartItem represents a selected item in a user's cart
type CartItem struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Discount types
const (
	DiscountTypePercentage  = "PERCENTAGE"
	DiscountTypeFixedAmount = "FIXED_AMOUNT"
)

// Coupon statuses
const (
	CouponStatusActive   = "ACTIVE"
	CouponStatusInactive = "INACTIVE"
	CouponStatusExpired  = "EXPIRED"
)

// Coupon is a promotional coupon definition with a finite issuance quota.
type Coupon struct {
	ID                int64     `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	DiscountType      string    `db:"discount_type" json:"discount_type"`
	DiscountValue     int64     `db:"discount_value" json:"discount_value"`
	MinOrderAmount    int64     `db:"min_order_amount" json:"min_order_amount"`
	MaxDiscountAmount int64     `db:"max_discount_amount" json:"max_discount_amount"` // 0 = uncapped
	TotalQuantity     int       `db:"total_quantity" json:"total_quantity"`
	RemainingQuantity int       `db:"remaining_quantity" json:"remaining_quantity"`
	StartsAt          time.Time `db:"starts_at" json:"starts_at"`
	EndsAt            time.Time `db:"ends_at" json:"ends_at"`
	Status            string    `db:"status" json:"status"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// Issuable reports whether the coupon can be issued at the given instant,
// ignoring quota.
func (c *Coupon) Issuable(now time.Time) bool {
	return c.Status == CouponStatusActive && !now.Before(c.StartsAt) && now.Before(c.EndsAt)
}

// DiscountFor computes the discount for an order items total. The
// minimum-order-amount check is the caller's responsibility and happens
// before this is called.
func (c *Coupon) DiscountFor(itemsTotal int64) int64 {
	var discount int64
	switch c.DiscountType {
	case DiscountTypePercentage:
		discount = itemsTotal * c.DiscountValue / 100
		if c.MaxDiscountAmount > 0 && discount > c.MaxDiscountAmount {
			discount = c.MaxDiscountAmount
		}
	case DiscountTypeFixedAmount:
		discount = c.DiscountValue
	}
	if discount > itemsTotal {
		discount = itemsTotal
	}
	return discount
}

// UserCoupon is one user's issued instance of a coupon. IsUsed=true with a
// non-empty OrderID means the coupon is reserved against (or consumed by)
// that order; there is no separate reservation state.
type UserCoupon struct {
	ID        string     `db:"id" json:"id"`
	CouponID  int64      `db:"coupon_id" json:"coupon_id"`
	UserID    int64      `db:"user_id" json:"user_id"`
	OrderID   string     `db:"order_id" json:"order_id,omitempty"`
	IsUsed    bool       `db:"is_used" json:"is_used"`
	IssuedAt  time.Time  `db:"issued_at" json:"issued_at"`
	UsedAt    *time.Time `db:"used_at" json:"used_at,omitempty"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
}

// Usable reports whether the user coupon can still be attached to an order.
func (uc *UserCoupon) Usable(now time.Time) bool {
	return !uc.IsUsed && now.Before(uc.ExpiresAt)
}

// Order statuses
const (
	OrderStatusPending   = "PENDING"
	OrderStatusPaid      = "PAID"
	OrderStatusConfirmed = "CONFIRMED"
	OrderStatusCancelled = "CANCELLED"
)

// DeliveryInfo is the shipping destination captured at order creation.
type DeliveryInfo struct {
	Receiver string `db:"receiver" json:"receiver"`
	Phone    string `db:"phone" json:"phone"`
	Address  string `db:"address" json:"address"`
}

// Order is the order aggregate root.
type Order struct {
	ID             string       `db:"id" json:"id"`
	UserID         int64        `db:"user_id" json:"user_id"`
	OrderNumber    string       `db:"order_number" json:"order_number"`
	Status         string       `db:"status" json:"status"`
	ItemsTotal     int64        `db:"items_total" json:"items_total"`
	DiscountAmount int64        `db:"discount_amount" json:"discount_amount"`
	FinalAmount    int64        `db:"final_amount" json:"final_amount"`
	UserCouponID   string       `db:"user_coupon_id" json:"user_coupon_id,omitempty"`
	Delivery       DeliveryInfo `json:"delivery"`
	ExpiresAt      time.Time    `db:"expires_at" json:"expires_at"`
	PaidAt         *time.Time   `db:"paid_at" json:"paid_at,omitempty"`
	CancelledAt    *time.Time   `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelReason   string       `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updated_at"`
}

// IsCancellable reports whether the order may still transition to CANCELLED.
func (o *Order) IsCancellable() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusPaid
}

// IsExpired reports whether a PENDING order has outlived its TTL.
func (o *Order) IsExpired(now time.Time) bool {
	return o.Status == OrderStatusPending && now.After(o.ExpiresAt)
}

// OrderItem is an immutable line snapshot taken at order creation time.
// Later catalog price changes never affect it.
type OrderItem struct {
	ID        int64  `db:"id" json:"id"`
	OrderID   string `db:"order_id" json:"order_id"`
	ProductID int64  `db:"product_id" json:"product_id"`
	Quantity  int    `db:"quantity" json:"quantity"`
	UnitPrice int64  `db:"unit_price" json:"unit_price"`
	Subtotal  int64  `db:"subtotal" json:"subtotal"`
}

// Payment statuses
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusSuccess   = "SUCCESS"
	PaymentStatusFailed    = "FAILED"
	PaymentStatusCancelled = "CANCELLED"
)

// Payment is one payment attempt against an order. At most one SUCCESS row
// may exist per order, one row per transaction id, and one row per client
// request id.
type Payment struct {
	ID              string     `db:"id" json:"id"`
	OrderID         string     `db:"order_id" json:"order_id"`
	Amount          int64      `db:"amount" json:"amount"`
	PaymentMethod   string     `db:"payment_method" json:"payment_method"`
	Status          string     `db:"status" json:"status"`
	ClientRequestID string     `db:"client_request_id" json:"client_request_id,omitempty"`
	TransactionID   string     `db:"transaction_id" json:"transaction_id,omitempty"`
	FailReason      string     `db:"fail_reason" json:"fail_reason,omitempty"`
	PaidAt          *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	FailedAt        *time.Time `db:"failed_at" json:"failed_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// ProcessedEvent marks a consumed broker event for exactly-once handling.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
