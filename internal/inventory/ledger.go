// Package inventory reserves and restores per-product available quantity.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/orders"
)

// Store performs each reservation as a single atomic decrement guarded by
// available_quantity >= qty. A repeated (orderID, productID) reservation
// returns the existing one without decrementing again.
type Store interface {
	ReserveStock(ctx context.Context, orderID, productID string, qty int) (orders.Reservation, error)
	// ReleaseStock restores every RESERVED row of orderID and marks it
	// RELEASED; rows already released are skipped.
	ReleaseStock(ctx context.Context, orderID string) ([]orders.Reservation, error)
	GetProduct(ctx context.Context, productID string) (orders.Product, error)
	ListProducts(ctx context.Context) ([]orders.Product, error)
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type Ledger struct {
	Store  Store
	Logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{Store: store, Logger: logger}
}

func (l *Ledger) Reserve(ctx context.Context, orderID, productID string, qty int) (orders.Reservation, error) {
	if qty <= 0 {
		return orders.Reservation{}, apperr.Validation("quantity", "must be positive")
	}
	r, err := l.Store.ReserveStock(ctx, orderID, productID, qty)
	if err != nil {
		return orders.Reservation{}, err
	}
	if r.NewQuantity < 0 {
		l.Logger.Error("negative inventory after reservation",
			"integrity", true, "order_id", orderID, "product_id", productID,
			"old_quantity", r.OldQuantity, "new_quantity", r.NewQuantity)
		return r, apperr.Integrity(fmt.Sprintf("product %s went negative", productID))
	}
	return r, nil
}

// ReserveAll reserves items in order. On the first failure every reservation
// already taken for orderID is restored before the error is returned.
func (l *Ledger) ReserveAll(ctx context.Context, orderID string, items []ItemQty) ([]orders.Reservation, error) {
	out := make([]orders.Reservation, 0, len(items))
	for _, it := range items {
		r, err := l.Reserve(ctx, orderID, it.ProductID, it.Qty)
		if err != nil {
			if rerr := l.Restore(ctx, orderID); rerr != nil {
				l.Logger.Error("compensating restore failed", "order_id", orderID, "err", rerr)
				err = errors.Join(err, rerr)
			}
			if errors.Is(err, apperr.ErrInsufficientInventory) {
				return nil, apperr.WithMessage(apperr.ErrInsufficientInventory,
					fmt.Sprintf("insufficient inventory for product %s", it.ProductID))
			}
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Restore is idempotent per order.
func (l *Ledger) Restore(ctx context.Context, orderID string) error {
	released, err := l.Store.ReleaseStock(ctx, orderID)
	if err != nil {
		return fmt.Errorf("release stock for %s: %w", orderID, err)
	}
	if len(released) > 0 {
		l.Logger.Info("inventory restored", "order_id", orderID, "products", len(released))
	}
	return nil
}

func (l *Ledger) Products(ctx context.Context) ([]orders.Product, error) {
	return l.Store.ListProducts(ctx)
}
