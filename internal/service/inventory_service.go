package service

import (
	"context"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// InventoryLedger owns the reserve/release/confirm state machine over the
// inventory store. The store adapter guarantees each operation is
// linearizable per product; this layer adds validation, metrics and
// low-stock signalling.
type InventoryLedger struct {
	store  store.InventoryStore
	logger *zap.Logger
}

// NewInventoryLedger creates a new inventory ledger.
func NewInventoryLedger(st store.InventoryStore) *InventoryLedger {
	return &InventoryLedger{
		store:  st,
		logger: util.GetLogger(),
	}
}

// Reserve holds qty units of a product against an open order.
func (l *InventoryLedger) Reserve(ctx context.Context, productID int64, qty int) error {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Reserve")
	defer span.End()

	if qty <= 0 {
		return fmt.Errorf("reserve quantity must be positive, got %d", qty)
	}

	start := time.Now()
	inv, err := l.store.Reserve(ctx, productID, qty)
	util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.InventoryReservationsFailed.WithLabelValues("insufficient_stock").Inc()
		return err
	}

	l.checkLowStock(inv)
	return nil
}

// Release returns qty reserved units to the available pool (compensation).
func (l *InventoryLedger) Release(ctx context.Context, productID int64, qty int) error {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Release")
	defer span.End()

	if qty <= 0 {
		return fmt.Errorf("release quantity must be positive, got %d", qty)
	}

	_, err := l.store.Release(ctx, productID, qty)
	return err
}

// Confirm permanently consumes qty reserved units on successful payment.
func (l *InventoryLedger) Confirm(ctx context.Context, productID int64, qty int) error {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Confirm")
	defer span.End()

	if qty <= 0 {
		return fmt.Errorf("confirm quantity must be positive, got %d", qty)
	}

	inv, err := l.store.Confirm(ctx, productID, qty)
	if err != nil {
		return err
	}

	l.checkLowStock(inv)
	return nil
}

// GetInventory returns the current ledger row for a product.
func (l *InventoryLedger) GetInventory(ctx context.Context, productID int64) (*models.Inventory, error) {
	return l.store.GetInventory(ctx, productID)
}

// Restock seeds or replaces the ledger row for a product.
func (l *InventoryLedger) Restock(ctx context.Context, inv *models.Inventory) error {
	if inv.Stock < 0 || inv.ReservedStock < 0 || inv.ReservedStock > inv.Stock {
		return fmt.Errorf("invalid inventory row for product %d: stock=%d reserved=%d",
			inv.ProductID, inv.Stock, inv.ReservedStock)
	}
	return l.store.PutInventory(ctx, inv)
}

func (l *InventoryLedger) checkLowStock(inv *models.Inventory) {
	if inv.LowStockThreshold > 0 && inv.Available() < inv.LowStockThreshold {
		util.InventoryLowStockTotal.Inc()
		l.logger.Warn("Low stock",
			zap.Int64("product_id", inv.ProductID),
			zap.Int("available", inv.Available()),
			zap.Int("threshold", inv.LowStockThreshold))
	}
}
