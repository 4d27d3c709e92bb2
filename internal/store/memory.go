package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"
)

// Memory is the in-process store adapter. Each aggregate map is guarded by
// its own mutex for structural access, while read-check-write sequences
// serialize through per-key mutexes so that operations on different
// products, coupons and orders never contend with each other.
type Memory struct {
	productMu sync.RWMutex
	products  map[int64]*models.Product

	cartMu    sync.Mutex
	cartSeq   int64
	cartItems map[int64]*models.CartItem

	invLocks  *util.KeyedMutex
	invMu     sync.RWMutex
	inventory map[int64]*models.Inventory

	couponLocks  *util.KeyedMutex
	couponMu     sync.RWMutex
	coupons      map[int64]*models.Coupon
	userCoupons  map[string]*models.UserCoupon
	byCouponUser map[string]string // "couponID:userID" -> userCouponID

	orderMu    sync.RWMutex
	orders     map[string]*models.Order
	orderItems map[string][]models.OrderItem
	itemSeq    int64

	payMu          sync.Mutex
	payments       map[string]*models.Payment
	byClientReq    map[string]string // clientRequestID -> paymentID
	byTxn          map[string]string // transactionID -> paymentID
	successByOrder map[string]string // orderID -> paymentID with SUCCESS

	eventMu   sync.Mutex
	processed map[string]models.ProcessedEvent
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		products:       make(map[int64]*models.Product),
		cartItems:      make(map[int64]*models.CartItem),
		invLocks:       util.NewKeyedMutex(),
		inventory:      make(map[int64]*models.Inventory),
		couponLocks:    util.NewKeyedMutex(),
		coupons:        make(map[int64]*models.Coupon),
		userCoupons:    make(map[string]*models.UserCoupon),
		byCouponUser:   make(map[string]string),
		orders:         make(map[string]*models.Order),
		orderItems:     make(map[string][]models.OrderItem),
		payments:       make(map[string]*models.Payment),
		byClientReq:    make(map[string]string),
		byTxn:          make(map[string]string),
		successByOrder: make(map[string]string),
		processed:      make(map[string]models.ProcessedEvent),
	}
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

func productKey(id int64) string { return strconv.FormatInt(id, 10) }

func couponUserKey(couponID, userID int64) string {
	return fmt.Sprintf("%d:%d", couponID, userID)
}

// --- ProductStore ---

func (m *Memory) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	m.productMu.RLock()
	defer m.productMu.RUnlock()

	p, ok := m.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, productID)
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) GetProductsByIDs(ctx context.Context, productIDs []int64) (map[int64]*models.Product, error) {
	m.productMu.RLock()
	defer m.productMu.RUnlock()

	result := make(map[int64]*models.Product, len(productIDs))
	for _, id := range productIDs {
		p, ok := m.products[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, id)
		}
		cp := *p
		result[id] = &cp
	}
	return result, nil
}

func (m *Memory) PutProduct(ctx context.Context, p *models.Product) error {
	m.productMu.Lock()
	defer m.productMu.Unlock()

	cp := *p
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.products[cp.ID] = &cp
	return nil
}

// --- CartStore ---

func (m *Memory) GetSelectedItems(ctx context.Context, userID int64, itemIDs []int64) ([]models.CartItem, error) {
	m.cartMu.Lock()
	defer m.cartMu.Unlock()

	want := make(map[int64]bool, len(itemIDs))
	for _, id := range itemIDs {
		want[id] = true
	}

	var items []models.CartItem
	for _, item := range m.cartItems {
		if item.UserID == userID && want[item.ID] {
			items = append(items, *item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *Memory) AddItem(ctx context.Context, item *models.CartItem) error {
	m.cartMu.Lock()
	defer m.cartMu.Unlock()

	m.cartSeq++
	item.ID = m.cartSeq
	item.CreatedAt = time.Now()
	cp := *item
	m.cartItems[cp.ID] = &cp
	return nil
}

func (m *Memory) RemoveItems(ctx context.Context, userID int64, itemIDs []int64) error {
	m.cartMu.Lock()
	defer m.cartMu.Unlock()

	for _, id := range itemIDs {
		if item, ok := m.cartItems[id]; ok && item.UserID == userID {
			delete(m.cartItems, id)
		}
	}
	return nil
}

// --- InventoryStore ---

func (m *Memory) GetInventory(ctx context.Context, productID int64) (*models.Inventory, error) {
	key := productKey(productID)
	m.invLocks.Lock(key)
	defer m.invLocks.Unlock(key)

	inv, err := m.inventoryRow(productID)
	if err != nil {
		return nil, err
	}
	cp := *inv
	return &cp, nil
}

func (m *Memory) PutInventory(ctx context.Context, inv *models.Inventory) error {
	key := productKey(inv.ProductID)
	m.invLocks.Lock(key)
	defer m.invLocks.Unlock(key)

	cp := *inv
	cp.UpdatedAt = time.Now()
	m.invMu.Lock()
	m.inventory[cp.ProductID] = &cp
	m.invMu.Unlock()
	return nil
}

func (m *Memory) Reserve(ctx context.Context, productID int64, qty int) (*models.Inventory, error) {
	key := productKey(productID)
	m.invLocks.Lock(key)
	defer m.invLocks.Unlock(key)

	inv, err := m.inventoryRow(productID)
	if err != nil {
		return nil, err
	}
	if inv.Available() < qty {
		return nil, fmt.Errorf("%w: product %d available=%d requested=%d",
			models.ErrInsufficientStock, productID, inv.Available(), qty)
	}

	inv.ReservedStock += qty
	inv.UpdatedAt = time.Now()
	cp := *inv
	return &cp, nil
}

func (m *Memory) Release(ctx context.Context, productID int64, qty int) (*models.Inventory, error) {
	key := productKey(productID)
	m.invLocks.Lock(key)
	defer m.invLocks.Unlock(key)

	inv, err := m.inventoryRow(productID)
	if err != nil {
		return nil, err
	}
	if inv.ReservedStock < qty {
		return nil, fmt.Errorf("%w: product %d reserved=%d requested=%d",
			models.ErrInsufficientReservedStock, productID, inv.ReservedStock, qty)
	}

	inv.ReservedStock -= qty
	inv.UpdatedAt = time.Now()
	cp := *inv
	return &cp, nil
}

func (m *Memory) Confirm(ctx context.Context, productID int64, qty int) (*models.Inventory, error) {
	key := productKey(productID)
	m.invLocks.Lock(key)
	defer m.invLocks.Unlock(key)

	inv, err := m.inventoryRow(productID)
	if err != nil {
		return nil, err
	}
	if inv.ReservedStock < qty {
		return nil, fmt.Errorf("%w: product %d reserved=%d requested=%d",
			models.ErrInsufficientReservedStock, productID, inv.ReservedStock, qty)
	}
	if inv.Stock < qty {
		return nil, fmt.Errorf("%w: product %d stock=%d requested=%d",
			models.ErrInsufficientStock, productID, inv.Stock, qty)
	}

	inv.Stock -= qty
	inv.ReservedStock -= qty
	inv.UpdatedAt = time.Now()
	cp := *inv
	return &cp, nil
}

func (m *Memory) inventoryRow(productID int64) (*models.Inventory, error) {
	m.invMu.RLock()
	defer m.invMu.RUnlock()

	inv, ok := m.inventory[productID]
	if !ok {
		return nil, fmt.Errorf("%w: product %d", models.ErrInventoryNotFound, productID)
	}
	return inv, nil
}

// --- CouponStore ---

func (m *Memory) GetCoupon(ctx context.Context, couponID int64) (*models.Coupon, error) {
	m.couponMu.RLock()
	defer m.couponMu.RUnlock()

	c, ok := m.coupons[couponID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrCouponNotFound, couponID)
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) PutCoupon(ctx context.Context, c *models.Coupon) error {
	m.couponMu.Lock()
	defer m.couponMu.Unlock()

	cp := *c
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.coupons[cp.ID] = &cp
	return nil
}

func (m *Memory) Issue(ctx context.Context, uc *models.UserCoupon) error {
	key := productKey(uc.CouponID)
	m.couponLocks.Lock(key)
	defer m.couponLocks.Unlock(key)

	m.couponMu.Lock()
	defer m.couponMu.Unlock()

	c, ok := m.coupons[uc.CouponID]
	if !ok {
		return fmt.Errorf("%w: %d", models.ErrCouponNotFound, uc.CouponID)
	}

	now := uc.IssuedAt
	if now.IsZero() {
		now = time.Now()
		uc.IssuedAt = now
	}
	if !c.Issuable(now) {
		return fmt.Errorf("%w: coupon %d status=%s", models.ErrCouponNotIssuable, c.ID, c.Status)
	}
	if _, dup := m.byCouponUser[couponUserKey(uc.CouponID, uc.UserID)]; dup {
		return fmt.Errorf("%w: coupon %d user %d", models.ErrCouponAlreadyIssued, uc.CouponID, uc.UserID)
	}
	if c.RemainingQuantity <= 0 {
		return fmt.Errorf("%w: coupon %d", models.ErrCouponOutOfStock, c.ID)
	}

	c.RemainingQuantity--
	cp := *uc
	m.userCoupons[cp.ID] = &cp
	m.byCouponUser[couponUserKey(cp.CouponID, cp.UserID)] = cp.ID
	return nil
}

func (m *Memory) CancelIssue(ctx context.Context, couponID int64) error {
	key := productKey(couponID)
	m.couponLocks.Lock(key)
	defer m.couponLocks.Unlock(key)

	m.couponMu.Lock()
	defer m.couponMu.Unlock()

	c, ok := m.coupons[couponID]
	if !ok {
		return fmt.Errorf("%w: %d", models.ErrCouponNotFound, couponID)
	}
	if c.RemainingQuantity >= c.TotalQuantity {
		return fmt.Errorf("%w: coupon %d remaining=%d total=%d",
			models.ErrCouponRestoreFailed, couponID, c.RemainingQuantity, c.TotalQuantity)
	}

	c.RemainingQuantity++
	return nil
}

func (m *Memory) GetUserCoupon(ctx context.Context, userCouponID string) (*models.UserCoupon, error) {
	m.couponMu.RLock()
	defer m.couponMu.RUnlock()

	uc, ok := m.userCoupons[userCouponID]
	if !ok {
		return nil, fmt.Errorf("%w: user coupon %s", models.ErrCouponNotFound, userCouponID)
	}
	cp := *uc
	return &cp, nil
}

func (m *Memory) GetUserCouponByUser(ctx context.Context, couponID, userID int64) (*models.UserCoupon, error) {
	m.couponMu.RLock()
	defer m.couponMu.RUnlock()

	id, ok := m.byCouponUser[couponUserKey(couponID, userID)]
	if !ok {
		return nil, fmt.Errorf("%w: coupon %d user %d", models.ErrCouponNotFound, couponID, userID)
	}
	cp := *m.userCoupons[id]
	return &cp, nil
}

func (m *Memory) ListUserCoupons(ctx context.Context, userID int64) ([]models.UserCoupon, error) {
	m.couponMu.RLock()
	defer m.couponMu.RUnlock()

	var result []models.UserCoupon
	for _, uc := range m.userCoupons {
		if uc.UserID == userID {
			result = append(result, *uc)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].IssuedAt.Before(result[j].IssuedAt) })
	return result, nil
}

func (m *Memory) CountUserCoupons(ctx context.Context, couponID int64) (int, error) {
	m.couponMu.RLock()
	defer m.couponMu.RUnlock()

	count := 0
	for _, uc := range m.userCoupons {
		if uc.CouponID == couponID {
			count++
		}
	}
	return count, nil
}

func (m *Memory) ReserveUserCoupon(ctx context.Context, userCouponID, orderID string, now time.Time) error {
	m.couponMu.Lock()
	defer m.couponMu.Unlock()

	uc, ok := m.userCoupons[userCouponID]
	if !ok {
		return fmt.Errorf("%w: user coupon %s", models.ErrCouponNotFound, userCouponID)
	}
	if uc.IsUsed {
		if uc.OrderID != "" && uc.OrderID != orderID {
			return fmt.Errorf("%w: user coupon %s held by order %s",
				models.ErrCouponAlreadyReserved, userCouponID, uc.OrderID)
		}
		return fmt.Errorf("%w: user coupon %s", models.ErrCouponAlreadyUsed, userCouponID)
	}
	if !now.Before(uc.ExpiresAt) {
		return fmt.Errorf("%w: user coupon %s", models.ErrCouponExpired, userCouponID)
	}

	uc.IsUsed = true
	uc.OrderID = orderID
	usedAt := now
	uc.UsedAt = &usedAt
	return nil
}

func (m *Memory) ReleaseUserCoupon(ctx context.Context, userCouponID string) error {
	m.couponMu.Lock()
	defer m.couponMu.Unlock()

	uc, ok := m.userCoupons[userCouponID]
	if !ok {
		return fmt.Errorf("%w: user coupon %s", models.ErrCouponNotFound, userCouponID)
	}
	if !uc.IsUsed {
		return fmt.Errorf("%w: user coupon %s", models.ErrCouponNotReserved, userCouponID)
	}

	uc.IsUsed = false
	uc.OrderID = ""
	uc.UsedAt = nil
	return nil
}

// --- OrderStore ---

func (m *Memory) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	m.orderMu.Lock()
	defer m.orderMu.Unlock()

	if _, dup := m.orders[order.ID]; dup {
		return fmt.Errorf("order already exists: %s", order.ID)
	}

	now := time.Now()
	cp := *order
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.orders[cp.ID] = &cp

	stored := make([]models.OrderItem, len(items))
	for i, item := range items {
		m.itemSeq++
		item.ID = m.itemSeq
		item.OrderID = order.ID
		stored[i] = item
	}
	m.orderItems[order.ID] = stored

	order.CreatedAt = now
	order.UpdatedAt = now
	return nil
}

func (m *Memory) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	m.orderMu.RLock()
	defer m.orderMu.RUnlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
	}
	cp := *o
	return &cp, nil
}

func (m *Memory) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	m.orderMu.RLock()
	defer m.orderMu.RUnlock()

	items, ok := m.orderItems[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
	}
	out := make([]models.OrderItem, len(items))
	copy(out, items)
	return out, nil
}

func (m *Memory) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	m.orderMu.RLock()
	defer m.orderMu.RUnlock()

	var result []models.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			result = append(result, *o)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *Memory) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	m.orderMu.RLock()
	defer m.orderMu.RUnlock()

	var result []models.Order
	for _, o := range m.orders {
		if o.Status == models.OrderStatusPending && now.After(o.ExpiresAt) {
			result = append(result, *o)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *Memory) MarkPaid(ctx context.Context, orderID string, paidAt time.Time) error {
	m.orderMu.Lock()
	defer m.orderMu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
	}
	if o.Status != models.OrderStatusPending {
		return fmt.Errorf("%w: order %s is %s", models.ErrInvalidOrderStatus, orderID, o.Status)
	}

	o.Status = models.OrderStatusPaid
	at := paidAt
	o.PaidAt = &at
	o.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) MarkConfirmed(ctx context.Context, orderID string) error {
	m.orderMu.Lock()
	defer m.orderMu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
	}
	if o.Status != models.OrderStatusPaid {
		return fmt.Errorf("%w: order %s is %s", models.ErrInvalidOrderStatus, orderID, o.Status)
	}

	o.Status = models.OrderStatusConfirmed
	o.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) MarkCancelled(ctx context.Context, orderID string, at time.Time, reason string) error {
	m.orderMu.Lock()
	defer m.orderMu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
	}
	if !o.IsCancellable() {
		return fmt.Errorf("%w: order %s is %s", models.ErrOrderNotCancellable, orderID, o.Status)
	}

	o.Status = models.OrderStatusCancelled
	cancelledAt := at
	o.CancelledAt = &cancelledAt
	o.CancelReason = reason
	o.UpdatedAt = time.Now()
	return nil
}

// --- PaymentStore ---

func (m *Memory) CreatePayment(ctx context.Context, p *models.Payment) error {
	m.payMu.Lock()
	defer m.payMu.Unlock()

	if p.ClientRequestID != "" {
		if _, dup := m.byClientReq[p.ClientRequestID]; dup {
			return fmt.Errorf("duplicate client request id: %s", p.ClientRequestID)
		}
	}

	cp := *p
	cp.CreatedAt = time.Now()
	m.payments[cp.ID] = &cp
	if cp.ClientRequestID != "" {
		m.byClientReq[cp.ClientRequestID] = cp.ID
	}
	p.CreatedAt = cp.CreatedAt
	return nil
}

func (m *Memory) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	m.payMu.Lock()
	defer m.payMu.Unlock()

	p, ok := m.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrPaymentNotFound, paymentID)
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) GetPaymentByClientRequestID(ctx context.Context, clientRequestID string) (*models.Payment, error) {
	m.payMu.Lock()
	defer m.payMu.Unlock()

	id, ok := m.byClientReq[clientRequestID]
	if !ok {
		return nil, nil
	}
	cp := *m.payments[id]
	return &cp, nil
}

func (m *Memory) GetSuccessfulPaymentByOrder(ctx context.Context, orderID string) (*models.Payment, error) {
	m.payMu.Lock()
	defer m.payMu.Unlock()

	id, ok := m.successByOrder[orderID]
	if !ok {
		return nil, nil
	}
	cp := *m.payments[id]
	return &cp, nil
}

func (m *Memory) MarkPaymentSucceeded(ctx context.Context, paymentID, transactionID string, at time.Time) error {
	m.payMu.Lock()
	defer m.payMu.Unlock()

	p, ok := m.payments[paymentID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrPaymentNotFound, paymentID)
	}
	if holder, taken := m.byTxn[transactionID]; taken && holder != paymentID {
		return fmt.Errorf("duplicate transaction id %s held by payment %s", transactionID, holder)
	}
	if holder, taken := m.successByOrder[p.OrderID]; taken && holder != paymentID {
		return fmt.Errorf("order %s already has successful payment %s", p.OrderID, holder)
	}

	p.Status = models.PaymentStatusSuccess
	p.TransactionID = transactionID
	paidAt := at
	p.PaidAt = &paidAt
	m.byTxn[transactionID] = paymentID
	m.successByOrder[p.OrderID] = paymentID
	return nil
}

func (m *Memory) MarkPaymentFailed(ctx context.Context, paymentID, reason string, at time.Time) error {
	m.payMu.Lock()
	defer m.payMu.Unlock()

	p, ok := m.payments[paymentID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrPaymentNotFound, paymentID)
	}

	p.Status = models.PaymentStatusFailed
	p.FailReason = reason
	failedAt := at
	p.FailedAt = &failedAt
	return nil
}

func (m *Memory) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	m.eventMu.Lock()
	defer m.eventMu.Unlock()

	_, ok := m.processed[eventID]
	return ok, nil
}

func (m *Memory) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	m.eventMu.Lock()
	defer m.eventMu.Unlock()

	m.processed[eventID] = models.ProcessedEvent{
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: time.Now(),
	}
	return nil
}
