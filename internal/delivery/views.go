package delivery

import (
	"context"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/visibility"
)

// StopView is the only shape in which stop data leaves this package; its
// address has been through the gate.
type StopView struct {
	ID               string                 `json:"id"`
	BatchID          string                 `json:"batch_id"`
	OrderID          string                 `json:"order_id,omitempty"`
	Kind             visibility.StopKind    `json:"kind"`
	Sequence         int                    `json:"sequence"`
	Status           StopStatus             `json:"status"`
	Address          visibility.AddressView `json:"address"`
	AddressVisibleAt *time.Time             `json:"address_visible_at,omitempty"`
	ArrivedAt        *time.Time             `json:"arrived_at,omitempty"`
	DeliveredAt      *time.Time             `json:"delivered_at,omitempty"`
}

type BatchView struct {
	ID           string      `json:"id"`
	MarketID     string      `json:"market_id"`
	DeliveryDate time.Time   `json:"delivery_date"`
	GeoKey       string      `json:"geo_key"`
	FulfillerID  string      `json:"fulfiller_id,omitempty"`
	Status       BatchStatus `json:"status"`
	Stops        []StopView  `json:"stops"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

func (s *Service) view(v visibility.Viewer, st Stop) StopView {
	return StopView{
		ID:               st.ID,
		BatchID:          st.BatchID,
		OrderID:          st.OrderID,
		Kind:             st.Kind,
		Sequence:         st.Sequence,
		Status:           st.Status,
		Address:          s.Gate.View(v, st.subject(), st.Address),
		AddressVisibleAt: st.AddressVisibleAt,
		ArrivedAt:        st.ArrivedAt,
		DeliveredAt:      st.DeliveredAt,
	}
}

func (s *Service) batchView(v visibility.Viewer, b Batch) BatchView {
	out := BatchView{
		ID:           b.ID,
		MarketID:     b.MarketID,
		DeliveryDate: b.DeliveryDate,
		GeoKey:       b.GeoKey,
		FulfillerID:  b.FulfillerID,
		Status:       b.Status,
		CompletedAt:  b.CompletedAt,
		Stops:        make([]StopView, 0, len(b.Stops)),
	}
	for _, st := range b.Stops {
		out.Stops = append(out.Stops, s.view(v, st))
	}
	return out
}

// canSeeBatch: admins see everything, fulfillers see unassigned batches
// and their own.
func canSeeBatch(v visibility.Viewer, b Batch) bool {
	switch v.Role {
	case visibility.RoleAdmin:
		return true
	case visibility.RoleFulfiller:
		return b.FulfillerID == "" || b.FulfillerID == v.UserID
	}
	return false
}

func (s *Service) GetBatch(ctx context.Context, v visibility.Viewer, batchID string) (BatchView, error) {
	b, err := s.Store.GetBatch(ctx, batchID)
	if err != nil {
		return BatchView{}, notFound(err)
	}
	if !canSeeBatch(v, b) {
		return BatchView{}, apperr.ErrForbidden
	}
	return s.batchView(v, b), nil
}

// GetStop also lets a buyer follow the stop of their own order.
func (s *Service) GetStop(ctx context.Context, v visibility.Viewer, stopID string) (StopView, error) {
	st, err := s.Store.GetStop(ctx, stopID)
	if err != nil {
		return StopView{}, notFound(err)
	}
	if v.Role == visibility.RoleBuyer && st.BuyerID == v.UserID && st.Kind == visibility.KindDelivery {
		return s.view(v, st), nil
	}
	b, err := s.Store.GetBatch(ctx, st.BatchID)
	if err != nil {
		return StopView{}, notFound(err)
	}
	if !canSeeBatch(v, b) {
		return StopView{}, apperr.ErrForbidden
	}
	return s.view(v, st), nil
}
