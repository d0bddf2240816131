package delivery

import (
	"context"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/orders"
)

// Store lookups return an error matching apperr.ErrNotFound for missing rows.
type Store interface {
	// ListOrdersByDelivery returns orders in status delivering before the
	// given instant; a zero instant means no bound.
	ListOrdersByDelivery(ctx context.Context, status orders.Status, deliveryBefore time.Time) ([]orders.Order, error)
	GetMarket(ctx context.Context, marketID string) (orders.Market, error)
	GetProfile(ctx context.Context, buyerID string) (orders.Profile, error)
	UpdateOrder(ctx context.Context, orderID string, mutate func(o *orders.Order) error) (orders.Order, error)

	// CreateBatch writes the batch and its stops and moves every order of a
	// delivery stop from locked to in_batch, in one transaction. It fails
	// with apperr.ErrInvalidStatus if any of those orders is no longer locked.
	CreateBatch(ctx context.Context, b Batch) error
	GetBatch(ctx context.Context, batchID string) (Batch, error)
	GetStop(ctx context.Context, stopID string) (Stop, error)
	// UpdateBatch and UpdateStop follow the UpdateOrder contract: row lock,
	// mutate, write back; on a mutate error nothing is written.
	UpdateBatch(ctx context.Context, batchID string, mutate func(b *Batch) error) (Batch, error)
	UpdateStop(ctx context.Context, stopID string, mutate func(s *Stop) error) (Stop, error)

	// RecordPickup stores the scan and sets the stop's address_visible_at
	// if it is still null. Repeated scans keep the first timestamp.
	RecordPickup(ctx context.Context, scan PickupScan) (Stop, error)
	// AssignTipPayouts sets the recipient of the unassigned tip payouts of
	// the given orders.
	AssignTipPayouts(ctx context.Context, orderIDs []string, fulfillerID string, at time.Time) error
}
