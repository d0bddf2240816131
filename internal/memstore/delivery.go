package memstore

import (
	"context"
	"sort"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/delivery"
	"github.com/ariefcatur/go-fresh-orders/internal/orders"
	"github.com/ariefcatur/go-fresh-orders/internal/visibility"
)

func (s *Store) CreateBatch(_ context.Context, b delivery.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range b.Stops {
		if st.Kind != visibility.KindDelivery {
			continue
		}
		o, ok := s.orders[st.OrderID]
		if !ok {
			return notFound("order", st.OrderID)
		}
		if !orders.CanTransition(o.Status, orders.StatusInBatch) {
			return apperr.WithMessage(apperr.ErrInvalidStatus, "order "+o.ID+" is "+string(o.Status))
		}
	}
	for _, st := range b.Stops {
		cp := st
		s.stops[st.ID] = &cp
		if st.Kind == visibility.KindDelivery {
			o := s.orders[st.OrderID]
			o.Status = orders.StatusInBatch
			o.BatchID = b.ID
			o.UpdatedAt = b.CreatedAt
		}
	}
	hdr := b
	hdr.Stops = nil
	s.batches[b.ID] = &hdr
	return nil
}

func (s *Store) batchWithStops(id string) (delivery.Batch, bool) {
	b, ok := s.batches[id]
	if !ok {
		return delivery.Batch{}, false
	}
	out := *b
	for _, st := range s.stops {
		if st.BatchID == id {
			out.Stops = append(out.Stops, *st)
		}
	}
	sort.Slice(out.Stops, func(i, j int) bool { return out.Stops[i].Sequence < out.Stops[j].Sequence })
	return out, true
}

func (s *Store) GetBatch(_ context.Context, batchID string) (delivery.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batchWithStops(batchID)
	if !ok {
		return delivery.Batch{}, notFound("batch", batchID)
	}
	return b, nil
}

func (s *Store) GetStop(_ context.Context, stopID string) (delivery.Stop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stops[stopID]
	if !ok {
		return delivery.Stop{}, notFound("stop", stopID)
	}
	return *st, nil
}

func (s *Store) UpdateBatch(_ context.Context, batchID string, mutate func(b *delivery.Batch) error) (delivery.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.batchWithStops(batchID)
	if !ok {
		return delivery.Batch{}, notFound("batch", batchID)
	}
	next := cur
	if err := mutate(&next); err != nil {
		return cur, err
	}
	hdr := s.batches[batchID]
	hdr.Status = next.Status
	hdr.FulfillerID = next.FulfillerID
	hdr.CompletedAt = next.CompletedAt
	hdr.UpdatedAt = next.UpdatedAt
	next.Stops = cur.Stops
	return next, nil
}

func (s *Store) UpdateStop(_ context.Context, stopID string, mutate func(st *delivery.Stop) error) (delivery.Stop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.stops[stopID]
	if !ok {
		return delivery.Stop{}, notFound("stop", stopID)
	}
	next := *cur
	if err := mutate(&next); err != nil {
		return *cur, err
	}
	// address and address_visible_at are not writable here
	cur.Status = next.Status
	cur.ArrivedAt = next.ArrivedAt
	cur.DeliveredAt = next.DeliveredAt
	return *cur, nil
}

func (s *Store) RecordPickup(_ context.Context, scan delivery.PickupScan) (delivery.Stop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stops[scan.StopID]
	if !ok || st.BatchID != scan.BatchID || st.OrderID != scan.OrderID {
		return delivery.Stop{}, notFound("stop", scan.StopID)
	}
	s.scans = append(s.scans, scan)
	if st.AddressVisibleAt == nil {
		t := scan.ScannedAt
		st.AddressVisibleAt = &t
	}
	return *st, nil
}
