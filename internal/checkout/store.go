package checkout

import (
	"context"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/orders"
	"github.com/ariefcatur/go-fresh-orders/internal/payout"
)

// NewOrder is everything written by the commit step of a checkout.
type NewOrder struct {
	Order   orders.Order
	Items   []orders.OrderItem
	Payouts []payout.Payout
	// ClearCart takes the ordered items out of the buyer's cart in the same
	// transaction; set when the order is confirmed at creation.
	ClearCart bool
}

// Store is the persistence the orchestrator needs. Lookups return an error
// matching apperr.ErrNotFound when the row does not exist.
type Store interface {
	GetCart(ctx context.Context, buyerID, cartID string) (orders.Cart, error)
	// OpenCart returns the buyer's cart, creating an empty one if needed.
	OpenCart(ctx context.Context, buyerID string) (orders.Cart, error)
	// AddCartItem adds quantity to an existing line or appends the item.
	AddCartItem(ctx context.Context, buyerID string, item orders.CartItem) (orders.Cart, error)
	// RemoveCartItems subtracts the ordered quantities from the cart and
	// drops lines that reach zero. Items added after checkout stay.
	RemoveCartItems(ctx context.Context, buyerID, cartID string, items []orders.OrderItem) error
	GetProfile(ctx context.Context, buyerID string) (orders.Profile, error)
	MarketForRegion(ctx context.Context, region string) (orders.Market, error)

	// CreateOrder writes the order, its items and payouts, and redeems
	// Order.CreditsCents from the buyer's credits ledger (reference =
	// order id), all in one transaction. A second pending_payment order for
	// the same (buyer, cart) fails with apperr.ErrCheckoutInProgress.
	CreateOrder(ctx context.Context, in NewOrder) (orders.Order, error)
	GetOrder(ctx context.Context, orderID string) (orders.Order, error)
	FindPendingOrder(ctx context.Context, buyerID, cartID string) (orders.Order, error)
	FindOrderByIntent(ctx context.Context, intentID string) (orders.Order, error)
	ListOrders(ctx context.Context, status orders.Status, createdBefore time.Time, limit int) ([]orders.Order, error)

	// UpdateOrder loads the order under a row lock and writes back status,
	// payment status, batch id and cancelled_at if mutate returns nil. When
	// mutate fails nothing is written and the loaded order is returned with
	// mutate's error.
	UpdateOrder(ctx context.Context, orderID string, mutate func(o *orders.Order) error) (orders.Order, error)
	VoidPayouts(ctx context.Context, orderID string, at time.Time) error

	PaymentEventSeen(ctx context.Context, eventID string) (bool, error)
	RecordPaymentEvent(ctx context.Context, eventID, eventType, orderID string, at time.Time) error
}

// Locker serialises checkouts of the same cart across processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Deduper is a fast-path filter for redelivered webhook events.
type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}
