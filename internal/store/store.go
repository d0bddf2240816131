// Package store names the full persistence surface of the service. Each
// domain package declares the slice it needs; a backend implements them all.
package store

import (
	"context"

	"github.com/ariefcatur/go-fresh-orders/internal/checkout"
	"github.com/ariefcatur/go-fresh-orders/internal/credits"
	"github.com/ariefcatur/go-fresh-orders/internal/delivery"
	"github.com/ariefcatur/go-fresh-orders/internal/inventory"
	"github.com/ariefcatur/go-fresh-orders/internal/payout"
)

type Store interface {
	inventory.Store
	credits.Store
	payout.Store
	checkout.Store
	delivery.Store

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
