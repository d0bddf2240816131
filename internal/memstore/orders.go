package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/checkout"
	"github.com/ariefcatur/go-fresh-orders/internal/credits"
	"github.com/ariefcatur/go-fresh-orders/internal/orders"
	"github.com/google/uuid"
)

func copyOrder(o *orders.Order) orders.Order {
	cp := *o
	cp.Items = append([]orders.OrderItem(nil), o.Items...)
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		cp.CancelledAt = &t
	}
	return cp
}

func copyCart(c *orders.Cart) orders.Cart {
	cp := *c
	cp.Items = append([]orders.CartItem(nil), c.Items...)
	return cp
}

// ---- carts, profiles, markets ----

func (s *Store) GetCart(_ context.Context, buyerID, cartID string) (orders.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[buyerID]
	if !ok || c.ID != cartID {
		return orders.Cart{}, notFound("cart", cartID)
	}
	return copyCart(c), nil
}

func (s *Store) OpenCart(_ context.Context, buyerID string) (orders.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCart(s.openCart(buyerID)), nil
}

func (s *Store) openCart(buyerID string) *orders.Cart {
	c, ok := s.carts[buyerID]
	if !ok {
		c = &orders.Cart{ID: uuid.NewString(), BuyerID: buyerID}
		s.carts[buyerID] = c
	}
	return c
}

func (s *Store) AddCartItem(_ context.Context, buyerID string, item orders.CartItem) (orders.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.openCart(buyerID)
	for i := range c.Items {
		if c.Items[i].ProductID == item.ProductID {
			c.Items[i].Quantity += item.Quantity
			return copyCart(c), nil
		}
	}
	c.Items = append(c.Items, item)
	return copyCart(c), nil
}

func (s *Store) RemoveCartItems(_ context.Context, buyerID, cartID string, items []orders.OrderItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeCartItems(buyerID, cartID, items)
	return nil
}

func (s *Store) removeCartItems(buyerID, cartID string, items []orders.OrderItem) {
	c, ok := s.carts[buyerID]
	if !ok || c.ID != cartID {
		return
	}
	bought := make(map[string]int, len(items))
	for _, it := range items {
		bought[it.ProductID] += it.Quantity
	}
	var kept []orders.CartItem
	for _, it := range c.Items {
		it.Quantity -= bought[it.ProductID]
		if it.Quantity > 0 {
			kept = append(kept, it)
		}
	}
	c.Items = kept
}

func (s *Store) GetProfile(_ context.Context, buyerID string) (orders.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[buyerID]
	if !ok {
		return orders.Profile{}, notFound("profile", buyerID)
	}
	return p, nil
}

func (s *Store) MarketForRegion(_ context.Context, region string) (orders.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.markets {
		if m.Region == region {
			return m, nil
		}
	}
	return orders.Market{}, notFound("market for region", region)
}

func (s *Store) GetMarket(_ context.Context, marketID string) (orders.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[marketID]
	if !ok {
		return orders.Market{}, notFound("market", marketID)
	}
	return m, nil
}

// ---- orders ----

func (s *Store) CreateOrder(_ context.Context, in checkout.NewOrder) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := in.Order
	if _, ok := s.orders[o.ID]; ok {
		return orders.Order{}, apperr.WithMessage(apperr.ErrValidation, "order "+o.ID+" already exists")
	}
	if o.Status == orders.StatusPendingPayment {
		for _, other := range s.orders {
			if other.BuyerID == o.BuyerID && other.CartID == o.CartID && other.Status == orders.StatusPendingPayment {
				return orders.Order{}, apperr.ErrCheckoutInProgress
			}
		}
	}
	if o.CreditsCents > 0 {
		e, err := credits.BuildRedemption(s.credits[o.BuyerID], o.BuyerID, o.CreditsCents, o.ID, o.CreatedAt)
		if err != nil {
			return orders.Order{}, err
		}
		s.credits[o.BuyerID] = append(s.credits[o.BuyerID], e)
	}
	o.Items = append([]orders.OrderItem(nil), in.Items...)
	s.orders[o.ID] = &o
	for _, p := range in.Payouts {
		cp := p
		s.payouts[p.ID] = &cp
	}
	if in.ClearCart {
		s.removeCartItems(o.BuyerID, o.CartID, in.Items)
	}
	return copyOrder(&o), nil
}

func (s *Store) GetOrder(_ context.Context, orderID string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return orders.Order{}, notFound("order", orderID)
	}
	return copyOrder(o), nil
}

func (s *Store) FindPendingOrder(_ context.Context, buyerID, cartID string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.BuyerID == buyerID && o.CartID == cartID && o.Status == orders.StatusPendingPayment {
			return copyOrder(o), nil
		}
	}
	return orders.Order{}, notFound("pending order for cart", cartID)
}

func (s *Store) FindOrderByIntent(_ context.Context, intentID string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if intentID != "" && o.PaymentIntentID == intentID {
			return copyOrder(o), nil
		}
	}
	return orders.Order{}, notFound("order for intent", intentID)
}

func (s *Store) ListOrders(_ context.Context, status orders.Status, createdBefore time.Time, limit int) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Order
	for _, o := range s.orders {
		if o.Status == status && o.CreatedAt.Before(createdBefore) {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListOrdersByDelivery(_ context.Context, status orders.Status, deliveryBefore time.Time) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Order
	for _, o := range s.orders {
		if o.Status != status {
			continue
		}
		if !deliveryBefore.IsZero() && !o.DeliveryDate.Before(deliveryBefore) {
			continue
		}
		out = append(out, copyOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DeliveryDate.Equal(out[j].DeliveryDate) {
			return out[i].DeliveryDate.Before(out[j].DeliveryDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateOrder(_ context.Context, orderID string, mutate func(o *orders.Order) error) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[orderID]
	if !ok {
		return orders.Order{}, notFound("order", orderID)
	}
	next := copyOrder(cur)
	if err := mutate(&next); err != nil {
		return copyOrder(cur), err
	}
	// only the mutable columns are written back
	cur.Status = next.Status
	cur.PaymentStatus = next.PaymentStatus
	cur.BatchID = next.BatchID
	cur.CancelledAt = next.CancelledAt
	cur.UpdatedAt = next.UpdatedAt
	return copyOrder(cur), nil
}

// ---- payment events ----

func (s *Store) PaymentEventSeen(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.events[eventID]
	return ok, nil
}

func (s *Store) RecordPaymentEvent(_ context.Context, eventID, eventType, orderID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[eventID]; !ok {
		s.events[eventID] = paymentEvent{eventType: eventType, orderID: orderID, at: at}
	}
	return nil
}
