// Package memstore is an in-memory implementation of store.Store for tests
// and local runs. One mutex guards everything, which makes every method
// atomic in the same way a single SQL transaction would be.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/credits"
	"github.com/ariefcatur/go-fresh-orders/internal/delivery"
	"github.com/ariefcatur/go-fresh-orders/internal/orders"
	"github.com/ariefcatur/go-fresh-orders/internal/payout"
	"github.com/ariefcatur/go-fresh-orders/internal/store"
)

var _ store.Store = (*Store)(nil)

type resKey struct{ orderID, productID string }

type paymentEvent struct {
	eventType string
	orderID   string
	at        time.Time
}

type Store struct {
	mu sync.Mutex

	products     map[string]*orders.Product
	reservations map[resKey]*orders.Reservation
	carts        map[string]*orders.Cart // by buyer
	profiles     map[string]orders.Profile
	markets      map[string]orders.Market
	orders       map[string]*orders.Order
	credits      map[string][]credits.Entry
	payouts      map[string]*payout.Payout
	accounts     map[string]payout.Account
	batches      map[string]*delivery.Batch // header only; stops live in stops
	stops        map[string]*delivery.Stop
	scans        []delivery.PickupScan
	events       map[string]paymentEvent
}

func New() *Store {
	return &Store{
		products:     make(map[string]*orders.Product),
		reservations: make(map[resKey]*orders.Reservation),
		carts:        make(map[string]*orders.Cart),
		profiles:     make(map[string]orders.Profile),
		markets:      make(map[string]orders.Market),
		orders:       make(map[string]*orders.Order),
		credits:      make(map[string][]credits.Entry),
		payouts:      make(map[string]*payout.Payout),
		accounts:     make(map[string]payout.Account),
		batches:      make(map[string]*delivery.Batch),
		stops:        make(map[string]*delivery.Stop),
		events:       make(map[string]paymentEvent),
	}
}

func (s *Store) Migrate(context.Context) error { return nil }
func (s *Store) Ping(context.Context) error    { return nil }
func (s *Store) Close() error                  { return nil }

func notFound(what, id string) error {
	return apperr.WithMessage(apperr.ErrNotFound, what+" "+id+" not found")
}

// ---- seeding ----

func (s *Store) PutProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.products[p.ID] = &cp
}

func (s *Store) PutProfile(p orders.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.BuyerID] = p
}

func (s *Store) PutMarket(m orders.Market) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.ID] = m
}

func (s *Store) PutPayoutAccount(a payout.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.RecipientID] = a
}

// ---- inventory ----

func (s *Store) ReserveStock(_ context.Context, orderID, productID string, qty int) (orders.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := resKey{orderID, productID}
	if r, ok := s.reservations[k]; ok {
		return *r, nil
	}
	p, ok := s.products[productID]
	if !ok {
		return orders.Reservation{}, apperr.WithMessage(apperr.ErrProductUnavailable, "product "+productID+" not found")
	}
	if p.AvailableQuantity < qty {
		return orders.Reservation{}, apperr.ErrInsufficientInventory
	}
	r := &orders.Reservation{
		OrderID:     orderID,
		ProductID:   productID,
		Qty:         qty,
		Status:      orders.ReservationReserved,
		OldQuantity: p.AvailableQuantity,
		NewQuantity: p.AvailableQuantity - qty,
		CreatedAt:   time.Now().UTC(),
	}
	p.AvailableQuantity -= qty
	p.UpdatedAt = r.CreatedAt
	s.reservations[k] = r
	return *r, nil
}

func (s *Store) ReleaseStock(_ context.Context, orderID string) ([]orders.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Reservation
	for k, r := range s.reservations {
		if k.orderID != orderID || r.Status != orders.ReservationReserved {
			continue
		}
		if p, ok := s.products[r.ProductID]; ok {
			p.AvailableQuantity += r.Qty
		}
		r.Status = orders.ReservationReleased
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, productID string) (orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return orders.Product{}, notFound("product", productID)
	}
	return *p, nil
}

func (s *Store) ListProducts(context.Context) ([]orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.Approved {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ---- credits ----

func (s *Store) AppendCredits(_ context.Context, buyerID string, build func([]credits.Entry) ([]credits.Entry, error)) ([]credits.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := append([]credits.Entry(nil), s.credits[buyerID]...)
	es, err := build(history)
	if err != nil {
		return nil, err
	}
	s.credits[buyerID] = append(s.credits[buyerID], es...)
	return es, nil
}

func (s *Store) ListCredits(_ context.Context, buyerID string) ([]credits.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]credits.Entry(nil), s.credits[buyerID]...), nil
}

// ---- payouts ----

func (s *Store) ListSettleable(_ context.Context, maxAttempts, limit int) ([]payout.Settleable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payout.Settleable
	for _, p := range s.payouts {
		if p.Status != payout.StatusPending && p.Status != payout.StatusFailed {
			continue
		}
		if p.Attempts >= maxAttempts || p.RecipientID == "" {
			continue
		}
		o, ok := s.orders[p.OrderID]
		if !ok || o.Status != orders.StatusDelivered {
			continue
		}
		acct, ok := s.accounts[p.RecipientID]
		if !ok || !acct.Verified {
			continue
		}
		out = append(out, payout.Settleable{Payout: *p, Destination: acct.Destination})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Payout, out[j].Payout
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkPayoutCompleted(_ context.Context, payoutID, transferRef string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[payoutID]
	if !ok {
		return notFound("payout", payoutID)
	}
	if !payout.CanTransition(p.Status, payout.StatusCompleted) {
		return apperr.WithMessage(apperr.ErrInvalidStatus, "payout is "+string(p.Status))
	}
	p.Status = payout.StatusCompleted
	p.TransferRef = transferRef
	p.Attempts++
	p.LastError = ""
	p.UpdatedAt = at
	return nil
}

func (s *Store) MarkPayoutFailed(_ context.Context, payoutID, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[payoutID]
	if !ok {
		return notFound("payout", payoutID)
	}
	if !payout.CanTransition(p.Status, payout.StatusFailed) {
		return apperr.WithMessage(apperr.ErrInvalidStatus, "payout is "+string(p.Status))
	}
	p.Status = payout.StatusFailed
	p.Attempts++
	p.LastError = reason
	p.UpdatedAt = at
	return nil
}

func (s *Store) ListPayouts(_ context.Context, orderID string) ([]payout.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payout.Payout
	for _, p := range s.payouts {
		if p.OrderID == orderID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].RecipientID < out[j].RecipientID
	})
	return out, nil
}

func (s *Store) VoidPayouts(_ context.Context, orderID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payouts {
		if p.OrderID == orderID && payout.CanTransition(p.Status, payout.StatusVoided) {
			p.Status = payout.StatusVoided
			p.UpdatedAt = at
		}
	}
	return nil
}

func (s *Store) AssignTipPayouts(_ context.Context, orderIDs []string, fulfillerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := make(map[string]bool, len(orderIDs))
	for _, id := range orderIDs {
		in[id] = true
	}
	for _, p := range s.payouts {
		if in[p.OrderID] && p.Kind == payout.KindTip && p.RecipientID == "" {
			p.RecipientID = fulfillerID
			p.UpdatedAt = at
		}
	}
	return nil
}
