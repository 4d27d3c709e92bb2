package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Postgres is the relational store adapter. Per-key linearizability comes
// from row-level pessimistic locks (SELECT ... FOR UPDATE) and conditional
// UPDATE ... WHERE status guards, so the same contracts hold across
// processes sharing one database.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres connects to the database and returns the adapter.
func NewPostgres(databaseURL string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{db: db}, nil
}

// Close closes the database connection.
func (s *Postgres) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection pool.
func (s *Postgres) DB() *sqlx.DB {
	return s.db
}

func (s *Postgres) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// --- ProductStore ---

func (s *Postgres) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	var p models.Product
	err := s.db.GetContext(ctx, &p, "SELECT * FROM products WHERE id = $1", productID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Postgres) GetProductsByIDs(ctx context.Context, productIDs []int64) (map[int64]*models.Product, error) {
	if len(productIDs) == 0 {
		return map[int64]*models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", productIDs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	if err := s.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, err
	}

	result := make(map[int64]*models.Product, len(products))
	for i := range products {
		result[products[i].ID] = &products[i]
	}
	for _, id := range productIDs {
		if _, ok := result[id]; !ok {
			return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, id)
		}
	}
	return result, nil
}

func (s *Postgres) PutProduct(ctx context.Context, p *models.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, price, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET sku = $2, name = $3, price = $4, status = $5`,
		p.ID, p.SKU, p.Name, p.Price, p.Status)
	return err
}

// --- CartStore ---

func (s *Postgres) GetSelectedItems(ctx context.Context, userID int64, itemIDs []int64) ([]models.CartItem, error) {
	if len(itemIDs) == 0 {
		return []models.CartItem{}, nil
	}

	query, args, err := sqlx.In(
		"SELECT * FROM cart_items WHERE user_id = ? AND id IN (?) ORDER BY id", userID, itemIDs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var items []models.CartItem
	err = s.db.SelectContext(ctx, &items, query, args...)
	return items, err
}

func (s *Postgres) AddItem(ctx context.Context, item *models.CartItem) error {
	return s.db.GetContext(ctx, item, `
		INSERT INTO cart_items (user_id, product_id, quantity)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, product_id, quantity, created_at`,
		item.UserID, item.ProductID, item.Quantity)
}

func (s *Postgres) RemoveItems(ctx context.Context, userID int64, itemIDs []int64) error {
	if len(itemIDs) == 0 {
		return nil
	}

	query, args, err := sqlx.In("DELETE FROM cart_items WHERE user_id = ? AND id IN (?)", userID, itemIDs)
	if err != nil {
		return err
	}
	query = s.db.Rebind(query)

	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// --- InventoryStore ---

func (s *Postgres) GetInventory(ctx context.Context, productID int64) (*models.Inventory, error) {
	var inv models.Inventory
	err := s.db.GetContext(ctx, &inv, "SELECT * FROM inventory WHERE product_id = $1", productID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: product %d", models.ErrInventoryNotFound, productID)
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Postgres) PutInventory(ctx context.Context, inv *models.Inventory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory (product_id, stock, reserved_stock, low_stock_threshold, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (product_id)
		DO UPDATE SET stock = $2, reserved_stock = $3, low_stock_threshold = $4, updated_at = NOW()`,
		inv.ProductID, inv.Stock, inv.ReservedStock, inv.LowStockThreshold)
	return err
}

func (s *Postgres) Reserve(ctx context.Context, productID int64, qty int) (*models.Inventory, error) {
	var out *models.Inventory
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		inv, err := lockInventoryRow(ctx, tx, productID)
		if err != nil {
			return err
		}
		if inv.Available() < qty {
			return fmt.Errorf("%w: product %d available=%d requested=%d",
				models.ErrInsufficientStock, productID, inv.Available(), qty)
		}

		inv.ReservedStock += qty
		out = inv
		_, err = tx.ExecContext(ctx,
			"UPDATE inventory SET reserved_stock = $1, updated_at = NOW() WHERE product_id = $2",
			inv.ReservedStock, productID)
		return err
	})
	return out, err
}

func (s *Postgres) Release(ctx context.Context, productID int64, qty int) (*models.Inventory, error) {
	var out *models.Inventory
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		inv, err := lockInventoryRow(ctx, tx, productID)
		if err != nil {
			return err
		}
		if inv.ReservedStock < qty {
			return fmt.Errorf("%w: product %d reserved=%d requested=%d",
				models.ErrInsufficientReservedStock, productID, inv.ReservedStock, qty)
		}

		inv.ReservedStock -= qty
		out = inv
		_, err = tx.ExecContext(ctx,
			"UPDATE inventory SET reserved_stock = $1, updated_at = NOW() WHERE product_id = $2",
			inv.ReservedStock, productID)
		return err
	})
	return out, err
}

func (s *Postgres) Confirm(ctx context.Context, productID int64, qty int) (*models.Inventory, error) {
	var out *models.Inventory
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		inv, err := lockInventoryRow(ctx, tx, productID)
		if err != nil {
			return err
		}
		if inv.ReservedStock < qty {
			return fmt.Errorf("%w: product %d reserved=%d requested=%d",
				models.ErrInsufficientReservedStock, productID, inv.ReservedStock, qty)
		}
		if inv.Stock < qty {
			return fmt.Errorf("%w: product %d stock=%d requested=%d",
				models.ErrInsufficientStock, productID, inv.Stock, qty)
		}

		inv.Stock -= qty
		inv.ReservedStock -= qty
		out = inv
		_, err = tx.ExecContext(ctx,
			"UPDATE inventory SET stock = $1, reserved_stock = $2, updated_at = NOW() WHERE product_id = $3",
			inv.Stock, inv.ReservedStock, productID)
		return err
	})
	return out, err
}

func lockInventoryRow(ctx context.Context, tx *sqlx.Tx, productID int64) (*models.Inventory, error) {
	var inv models.Inventory
	err := tx.GetContext(ctx, &inv,
		"SELECT * FROM inventory WHERE product_id = $1 FOR UPDATE", productID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: product %d", models.ErrInventoryNotFound, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock inventory: %w", err)
	}
	return &inv, nil
}

// --- CouponStore ---

func (s *Postgres) GetCoupon(ctx context.Context, couponID int64) (*models.Coupon, error) {
	var c models.Coupon
	err := s.db.GetContext(ctx, &c, "SELECT * FROM coupons WHERE id = $1", couponID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", models.ErrCouponNotFound, couponID)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Postgres) PutCoupon(ctx context.Context, c *models.Coupon) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coupons (id, name, discount_type, discount_value, min_order_amount,
			max_discount_amount, total_quantity, remaining_quantity, starts_at, ends_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = $2, discount_type = $3, discount_value = $4, min_order_amount = $5,
			max_discount_amount = $6, total_quantity = $7, remaining_quantity = $8,
			starts_at = $9, ends_at = $10, status = $11`,
		c.ID, c.Name, c.DiscountType, c.DiscountValue, c.MinOrderAmount,
		c.MaxDiscountAmount, c.TotalQuantity, c.RemainingQuantity, c.StartsAt, c.EndsAt, c.Status)
	return err
}

func (s *Postgres) Issue(ctx context.Context, uc *models.UserCoupon) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var c models.Coupon
		err := tx.GetContext(ctx, &c, "SELECT * FROM coupons WHERE id = $1 FOR UPDATE", uc.CouponID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %d", models.ErrCouponNotFound, uc.CouponID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock coupon: %w", err)
		}

		if uc.IssuedAt.IsZero() {
			uc.IssuedAt = time.Now()
		}
		if !c.Issuable(uc.IssuedAt) {
			return fmt.Errorf("%w: coupon %d status=%s", models.ErrCouponNotIssuable, c.ID, c.Status)
		}

		var exists bool
		err = tx.GetContext(ctx, &exists,
			"SELECT EXISTS(SELECT 1 FROM user_coupons WHERE coupon_id = $1 AND user_id = $2)",
			uc.CouponID, uc.UserID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: coupon %d user %d", models.ErrCouponAlreadyIssued, uc.CouponID, uc.UserID)
		}

		if c.RemainingQuantity <= 0 {
			return fmt.Errorf("%w: coupon %d", models.ErrCouponOutOfStock, c.ID)
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE coupons SET remaining_quantity = remaining_quantity - 1 WHERE id = $1", c.ID)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_coupons (id, coupon_id, user_id, order_id, is_used, issued_at, expires_at)
			VALUES ($1, $2, $3, '', false, $4, $5)`,
			uc.ID, uc.CouponID, uc.UserID, uc.IssuedAt, uc.ExpiresAt)
		return err
	})
}

func (s *Postgres) CancelIssue(ctx context.Context, couponID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE coupons SET remaining_quantity = remaining_quantity + 1
		WHERE id = $1 AND remaining_quantity < total_quantity`, couponID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: coupon %d", models.ErrCouponRestoreFailed, couponID)
	}
	return nil
}

func (s *Postgres) GetUserCoupon(ctx context.Context, userCouponID string) (*models.UserCoupon, error) {
	var uc models.UserCoupon
	err := s.db.GetContext(ctx, &uc, "SELECT * FROM user_coupons WHERE id = $1", userCouponID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user coupon %s", models.ErrCouponNotFound, userCouponID)
	}
	if err != nil {
		return nil, err
	}
	return &uc, nil
}

func (s *Postgres) GetUserCouponByUser(ctx context.Context, couponID, userID int64) (*models.UserCoupon, error) {
	var uc models.UserCoupon
	err := s.db.GetContext(ctx, &uc,
		"SELECT * FROM user_coupons WHERE coupon_id = $1 AND user_id = $2", couponID, userID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: coupon %d user %d", models.ErrCouponNotFound, couponID, userID)
	}
	if err != nil {
		return nil, err
	}
	return &uc, nil
}

func (s *Postgres) ListUserCoupons(ctx context.Context, userID int64) ([]models.UserCoupon, error) {
	var list []models.UserCoupon
	err := s.db.SelectContext(ctx, &list,
		"SELECT * FROM user_coupons WHERE user_id = $1 ORDER BY issued_at", userID)
	return list, err
}

func (s *Postgres) CountUserCoupons(ctx context.Context, couponID int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM user_coupons WHERE coupon_id = $1", couponID)
	return count, err
}

func (s *Postgres) ReserveUserCoupon(ctx context.Context, userCouponID, orderID string, now time.Time) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var uc models.UserCoupon
		err := tx.GetContext(ctx, &uc,
			"SELECT * FROM user_coupons WHERE id = $1 FOR UPDATE", userCouponID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: user coupon %s", models.ErrCouponNotFound, userCouponID)
		}
		if err != nil {
			return err
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

		_, err = tx.ExecContext(ctx,
			"UPDATE user_coupons SET is_used = true, order_id = $1, used_at = $2 WHERE id = $3",
			orderID, now, userCouponID)
		return err
	})
}

func (s *Postgres) ReleaseUserCoupon(ctx context.Context, userCouponID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_coupons SET is_used = false, order_id = '', used_at = NULL
		WHERE id = $1 AND is_used = true`, userCouponID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: user coupon %s", models.ErrCouponNotReserved, userCouponID)
	}
	return nil
}

// --- OrderStore ---

// orderColumns aliases the delivery columns into the nested struct path
// sqlx expects.
const orderColumns = `id, user_id, order_number, status, items_total, discount_amount,
	final_amount, user_coupon_id, expires_at, paid_at, cancelled_at, cancel_reason,
	created_at, updated_at,
	delivery_receiver AS "delivery.receiver",
	delivery_phone AS "delivery.phone",
	delivery_address AS "delivery.address"`

func (s *Postgres) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, order, `
			INSERT INTO orders (id, user_id, order_number, status, items_total, discount_amount,
				final_amount, user_coupon_id, delivery_receiver, delivery_phone, delivery_address,
				expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING created_at, updated_at`,
			order.ID, order.UserID, order.OrderNumber, order.Status, order.ItemsTotal,
			order.DiscountAmount, order.FinalAmount, order.UserCouponID,
			order.Delivery.Receiver, order.Delivery.Phone, order.Delivery.Address,
			order.ExpiresAt)
		if err != nil {
			return err
		}

		for i := range items {
			items[i].OrderID = order.ID
			err := tx.GetContext(ctx, &items[i].ID, `
				INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal)
				VALUES ($1, $2, $3, $4, $5)
				RETURNING id`,
				order.ID, items[i].ProductID, items[i].Quantity, items[i].UnitPrice, items[i].Subtotal)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Postgres) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var o models.Order
	err := s.db.GetContext(ctx, &o, "SELECT "+orderColumns+" FROM orders WHERE id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Postgres) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

func (s *Postgres) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

func (s *Postgres) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, `
		SELECT `+orderColumns+` FROM orders WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at LIMIT $3`,
		models.OrderStatusPending, now, limit)
	return orders, err
}

func (s *Postgres) MarkPaid(ctx context.Context, orderID string, paidAt time.Time) error {
	return s.transition(ctx, orderID,
		"UPDATE orders SET status = $1, paid_at = $2, updated_at = NOW() WHERE id = $3 AND status = $4",
		models.ErrInvalidOrderStatus,
		models.OrderStatusPaid, paidAt, orderID, models.OrderStatusPending)
}

func (s *Postgres) MarkConfirmed(ctx context.Context, orderID string) error {
	return s.transition(ctx, orderID,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		models.ErrInvalidOrderStatus,
		models.OrderStatusConfirmed, orderID, models.OrderStatusPaid)
}

func (s *Postgres) MarkCancelled(ctx context.Context, orderID string, at time.Time, reason string) error {
	return s.transition(ctx, orderID,
		`UPDATE orders SET status = $1, cancelled_at = $2, cancel_reason = $3, updated_at = NOW()
		 WHERE id = $4 AND status IN ($5, $6)`,
		models.ErrOrderNotCancellable,
		models.OrderStatusCancelled, at, reason, orderID,
		models.OrderStatusPending, models.OrderStatusPaid)
}

// transition runs a guarded status update; zero affected rows means the
// order is missing or not in the expected source state.
func (s *Postgres) transition(ctx context.Context, orderID, query string, guardErr error, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists bool
		if err := s.db.GetContext(ctx, &exists,
			"SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", orderID); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
		}
		return fmt.Errorf("%w: order %s", guardErr, orderID)
	}
	return nil
}

// --- PaymentStore ---

// client_request_id and transaction_id are nullable so their UNIQUE
// constraints ignore absent values; reads fold NULL back to "".
const paymentColumns = `id, order_id, amount, payment_method, status,
	COALESCE(client_request_id, '') AS client_request_id,
	COALESCE(transaction_id, '') AS transaction_id,
	COALESCE(fail_reason, '') AS fail_reason,
	paid_at, failed_at, created_at`

func (s *Postgres) CreatePayment(ctx context.Context, p *models.Payment) error {
	clientReq := sql.NullString{String: p.ClientRequestID, Valid: p.ClientRequestID != ""}
	return s.db.GetContext(ctx, &p.CreatedAt, `
		INSERT INTO payments (id, order_id, amount, payment_method, status, client_request_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		p.ID, p.OrderID, p.Amount, p.PaymentMethod, p.Status, clientReq)
}

func (s *Postgres) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	var p models.Payment
	err := s.db.GetContext(ctx, &p, "SELECT "+paymentColumns+" FROM payments WHERE id = $1", paymentID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrPaymentNotFound, paymentID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Postgres) GetPaymentByClientRequestID(ctx context.Context, clientRequestID string) (*models.Payment, error) {
	var p models.Payment
	err := s.db.GetContext(ctx, &p,
		"SELECT "+paymentColumns+" FROM payments WHERE client_request_id = $1", clientRequestID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Postgres) GetSuccessfulPaymentByOrder(ctx context.Context, orderID string) (*models.Payment, error) {
	var p models.Payment
	err := s.db.GetContext(ctx, &p,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id = $1 AND status = $2",
		orderID, models.PaymentStatusSuccess)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Postgres) MarkPaymentSucceeded(ctx context.Context, paymentID, transactionID string, at time.Time) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var holder string
		err := tx.GetContext(ctx, &holder,
			"SELECT id FROM payments WHERE transaction_id = $1 FOR UPDATE", transactionID)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if err == nil && holder != paymentID {
			return fmt.Errorf("duplicate transaction id %s held by payment %s", transactionID, holder)
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE payments SET status = $1, transaction_id = $2, paid_at = $3 WHERE id = $4",
			models.PaymentStatusSuccess, transactionID, at, paymentID)
		return err
	})
}

func (s *Postgres) MarkPaymentFailed(ctx context.Context, paymentID, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE payments SET status = $1, fail_reason = $2, failed_at = $3 WHERE id = $4",
		models.PaymentStatusFailed, reason, at, paymentID)
	return err
}

func (s *Postgres) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

func (s *Postgres) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
