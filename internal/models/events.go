package models

import "time"

// Event types
const (
	EventTypeOrderCreated     = "ORDER_CREATED"
	EventTypeOrderConfirmed   = "ORDER_CONFIRMED"
	EventTypeOrderCancelled   = "ORDER_CANCELLED"
	EventTypeCouponIssued     = "COUPON_ISSUED"
	EventTypePaymentSucceeded = "PAYMENT_SUCCEEDED"
	EventTypePaymentFailed    = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}

// OrderCreatedEvent published when an order is persisted PENDING with all
// reservations held
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	UserID      int64           `json:"user_id"`
	FinalAmount int64           `json:"final_amount"`
	Items       []OrderItemData `json:"items"`
}

// OrderConfirmedEvent published when a paid order reaches its terminal
// success state
type OrderConfirmedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	UserID  int64  `json:"user_id"`
}

// OrderCancelledEvent published after cancellation and compensation
type OrderCancelledEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	UserID  int64  `json:"user_id"`
	Reason  string `json:"reason"`
}

// CouponIssuedEvent published on each successful issuance
type CouponIssuedEvent struct {
	BaseEvent
	CouponID     int64  `json:"coupon_id"`
	UserID       int64  `json:"user_id"`
	UserCouponID string `json:"user_coupon_id"`
	Remaining    int    `json:"remaining"`
}

// PaymentSucceededEvent published when the gateway confirms a charge
type PaymentSucceededEvent struct {
	BaseEvent
	OrderID       string `json:"order_id"`
	UserID        int64  `json:"user_id"`
	PaymentID     string `json:"payment_id"`
	Amount        int64  `json:"amount"`
	TransactionID string `json:"transaction_id"`
}

// PaymentFailedEvent published when a charge is declined or the gateway is
// unreachable
type PaymentFailedEvent struct {
	BaseEvent
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason"`
}
