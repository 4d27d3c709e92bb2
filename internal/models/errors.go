package models

import "errors"

// Typed failure kinds raised by the core components. Callers match them with
// errors.Is; services wrap them with context via fmt.Errorf("...: %w", err).
var (
	// Inventory ledger
	ErrInsufficientStock         = errors.New("insufficient stock")
	ErrInsufficientReservedStock = errors.New("insufficient reserved stock")
	ErrInventoryNotFound         = errors.New("inventory not found")

	// Coupon issuance register
	ErrCouponNotFound        = errors.New("coupon not found")
	ErrCouponOutOfStock      = errors.New("coupon out of stock")
	ErrCouponNotIssuable     = errors.New("coupon not issuable")
	ErrCouponAlreadyIssued   = errors.New("coupon already issued to user")
	ErrCouponExpired         = errors.New("coupon expired")
	ErrCouponAlreadyUsed     = errors.New("coupon already used")
	ErrCouponAlreadyReserved = errors.New("coupon already reserved for another order")
	ErrCouponNotReserved     = errors.New("coupon not reserved")
	ErrCouponBelowMinAmount  = errors.New("order amount below coupon minimum")

	// ErrCouponRestoreFailed signals a quota bookkeeping bug: restoring an
	// issuance would push remaining quantity past the total. It must never
	// occur in correct operation and is logged at error level, not shown
	// as an ordinary user error.
	ErrCouponRestoreFailed = errors.New("coupon quota restore failed")

	// Order aggregate
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderAccessDenied   = errors.New("order access denied")
	ErrOrderNotCancellable = errors.New("order not cancellable")
	ErrProductNotFound     = errors.New("product not found")
	ErrProductNotSellable  = errors.New("product not sellable")

	// Payment orchestrator
	ErrInvalidOrderStatus = errors.New("invalid order status for payment")
	ErrPaymentNotAllowed  = errors.New("payment not allowed")
	ErrPaymentNotFound    = errors.New("payment not found")
	// ErrPaymentGatewayUnavailable covers transport errors and timeouts
	// talking to the gateway. The order is compensated all the same, but
	// the caller may retry with the same client request id.
	ErrPaymentGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrPaymentDeclined covers a declared gateway failure.
	ErrPaymentDeclined = errors.New("payment declined")
)
