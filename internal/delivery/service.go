package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/orders"
	"github.com/ariefcatur/go-fresh-orders/internal/visibility"
	"github.com/google/uuid"
)

type Service struct {
	Store     Store
	Sequencer Sequencer
	Gate      visibility.Gate
	Events    orders.Publisher
	Logger    *slog.Logger
	Limits    Limits
	Now       func() time.Time
}

func New(store Store, events orders.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = orders.NopPublisher{}
	}
	return &Service{
		Store:     store,
		Sequencer: ZipStreetSequencer{},
		Events:    events,
		Logger:    logger,
		Limits:    DefaultLimits(),
		Now:       time.Now,
	}
}

// errUnchanged aborts an update without writing.
var errUnchanged = errors.New("delivery: unchanged")

// lockHorizon covers any cutoff hour: cutoffs fall on the day before delivery.
const lockHorizon = 48 * time.Hour

// LockDue moves confirmed orders whose cutoff has passed to locked.
func (s *Service) LockDue(ctx context.Context) (int, error) {
	now := s.Now()
	due, err := s.Store.ListOrdersByDelivery(ctx, orders.StatusConfirmed, now.Add(lockHorizon))
	if err != nil {
		return 0, err
	}
	markets := map[string]orders.Market{}
	var (
		locked int
		errs   []error
	)
	for _, o := range due {
		m, ok := markets[o.MarketID]
		if !ok {
			if m, err = s.Store.GetMarket(ctx, o.MarketID); err != nil {
				errs = append(errs, fmt.Errorf("market %s: %w", o.MarketID, err))
				continue
			}
			markets[o.MarketID] = m
		}
		if now.Before(m.CutoffFor(o.DeliveryDate)) {
			continue
		}
		_, err := s.Store.UpdateOrder(ctx, o.ID, func(cur *orders.Order) error {
			if !orders.CanTransition(cur.Status, orders.StatusLocked) {
				return errUnchanged
			}
			cur.Status = orders.StatusLocked
			cur.UpdatedAt = now.UTC()
			return nil
		})
		switch {
		case errors.Is(err, errUnchanged):
		case err != nil:
			errs = append(errs, err)
		default:
			locked++
		}
	}
	if locked > 0 {
		s.Logger.Info("orders locked at cutoff", "count", locked)
	}
	return locked, errors.Join(errs...)
}

type GenerateReport struct {
	Batches []string `json:"batches"`
	Orders  int      `json:"orders"`
	Skipped int      `json:"skipped"`
}

type dayKey struct {
	marketID string
	date     string
}

// Generate batches every locked order, optionally only those delivering on
// date (YYYY-MM-DD in the market's zone). Callers run it single-flight.
func (s *Service) Generate(ctx context.Context, date string) (GenerateReport, error) {
	var rep GenerateReport
	if date != "" {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return rep, apperr.Validation("delivery_date", "expected YYYY-MM-DD")
		}
	}
	locked, err := s.Store.ListOrdersByDelivery(ctx, orders.StatusLocked, time.Time{})
	if err != nil {
		return rep, err
	}

	markets := map[string]orders.Market{}
	days := map[dayKey][]Waypoint{}
	dates := map[dayKey]time.Time{}
	var errs []error
	for _, o := range locked {
		m, ok := markets[o.MarketID]
		if !ok {
			if m, err = s.Store.GetMarket(ctx, o.MarketID); err != nil {
				errs = append(errs, fmt.Errorf("market %s: %w", o.MarketID, err))
				continue
			}
			markets[o.MarketID] = m
		}
		local := o.DeliveryDate.In(m.Location()).Format("2006-01-02")
		if date != "" && local != date {
			continue
		}
		p, err := s.Store.GetProfile(ctx, o.BuyerID)
		if err != nil || !p.Address.Complete() {
			s.Logger.Warn("order without deliverable address left locked", "order_id", o.ID, "err", err)
			rep.Skipped++
			continue
		}
		k := dayKey{o.MarketID, local}
		days[k] = append(days[k], Waypoint{OrderID: o.ID, BuyerID: o.BuyerID, Address: p.Address})
		dates[k] = o.DeliveryDate
	}

	keys := make([]dayKey, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].date != keys[j].date {
			return keys[i].date < keys[j].date
		}
		return keys[i].marketID < keys[j].marketID
	})

	for _, k := range keys {
		m := markets[k.marketID]
		for _, g := range planBatches(days[k], s.Limits) {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			b := s.buildBatch(m, dates[k], g)
			if err := s.Store.CreateBatch(ctx, b); err != nil {
				s.Logger.Warn("batch not created", "market_id", m.ID, "geo_key", g.key, "err", err)
				errs = append(errs, err)
				continue
			}
			rep.Batches = append(rep.Batches, b.ID)
			rep.Orders += len(g.points)
			s.Logger.Info("batch created", "batch_id", b.ID, "market_id", m.ID, "geo_key", g.key, "stops", len(g.points))
		}
	}
	return rep, errors.Join(errs...)
}

func (s *Service) buildBatch(m orders.Market, deliveryDate time.Time, g geoGroup) Batch {
	now := s.Now().UTC()
	b := Batch{
		ID:           uuid.NewString(),
		MarketID:     m.ID,
		DeliveryDate: deliveryDate,
		GeoKey:       g.key,
		Status:       BatchPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	b.Stops = append(b.Stops, Stop{
		ID:       uuid.NewString(),
		BatchID:  b.ID,
		Kind:     visibility.KindCollection,
		Sequence: 0,
		Status:   StopPending,
		Address:  visibility.Seal(m.CollectionAddress),
	})
	for i, p := range s.Sequencer.Sequence(m.CollectionAddress, g.points) {
		b.Stops = append(b.Stops, Stop{
			ID:       uuid.NewString(),
			BatchID:  b.ID,
			OrderID:  p.OrderID,
			BuyerID:  p.BuyerID,
			Kind:     visibility.KindDelivery,
			Sequence: i + 1,
			Status:   StopPending,
			Address:  visibility.Seal(p.Address),
		})
	}
	return b
}

// Assign gives a pending batch to a fulfiller, who also becomes the
// recipient of the batch's tip payouts.
func (s *Service) Assign(ctx context.Context, batchID, fulfillerID string) (Batch, error) {
	if fulfillerID == "" {
		return Batch{}, apperr.Validation("fulfiller_id", "required")
	}
	b, err := s.Store.UpdateBatch(ctx, batchID, func(b *Batch) error {
		if b.Status == BatchAssigned && b.FulfillerID == fulfillerID {
			return errUnchanged
		}
		if !CanTransitionBatch(b.Status, BatchAssigned) {
			return apperr.WithMessage(apperr.ErrInvalidStatus, "cannot assign a "+string(b.Status)+" batch")
		}
		b.Status = BatchAssigned
		b.FulfillerID = fulfillerID
		b.UpdatedAt = s.Now().UTC()
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return Batch{}, notFound(err)
	}
	if err := s.Store.AssignTipPayouts(ctx, b.OrderIDs(), fulfillerID, s.Now().UTC()); err != nil {
		return Batch{}, fmt.Errorf("assign tip payouts: %w", err)
	}
	s.Logger.Info("batch assigned", "batch_id", batchID, "fulfiller_id", fulfillerID)
	return b, nil
}

func (s *Service) Start(ctx context.Context, batchID, fulfillerID string) (Batch, error) {
	b, err := s.Store.UpdateBatch(ctx, batchID, func(b *Batch) error {
		if b.FulfillerID != fulfillerID {
			return apperr.WithMessage(apperr.ErrForbidden, "batch is not assigned to you")
		}
		if !CanTransitionBatch(b.Status, BatchInProgress) {
			return apperr.WithMessage(apperr.ErrInvalidStatus, "cannot start a "+string(b.Status)+" batch")
		}
		b.Status = BatchInProgress
		b.UpdatedAt = s.Now().UTC()
		return nil
	})
	if err != nil {
		return Batch{}, notFound(err)
	}
	s.Logger.Info("batch started", "batch_id", batchID, "fulfiller_id", fulfillerID)
	return b, nil
}

// activeBatch loads a batch the fulfiller is currently running.
func (s *Service) activeBatch(ctx context.Context, batchID, fulfillerID string) (Batch, error) {
	b, err := s.Store.GetBatch(ctx, batchID)
	if err != nil {
		return Batch{}, notFound(err)
	}
	if b.FulfillerID != fulfillerID {
		return Batch{}, apperr.WithMessage(apperr.ErrForbidden, "batch is not assigned to you")
	}
	if b.Status != BatchInProgress {
		return Batch{}, apperr.WithMessage(apperr.ErrInvalidStatus, "batch is "+string(b.Status))
	}
	return b, nil
}

// ConfirmPickup records the scan of an order's box at the collection point.
// It is the only operation that makes a delivery address visible.
func (s *Service) ConfirmPickup(ctx context.Context, batchID, orderID, fulfillerID string) (StopView, error) {
	if orderID == "" {
		return StopView{}, apperr.Validation("order_code", "required")
	}
	b, err := s.activeBatch(ctx, batchID, fulfillerID)
	if err != nil {
		return StopView{}, err
	}
	stop, ok := b.deliveryStop(orderID)
	if !ok {
		return StopView{}, apperr.WithMessage(apperr.ErrNotFound, "order "+orderID+" is not in batch "+batchID)
	}
	now := s.Now().UTC()
	wasVisible := stop.AddressVisibleAt != nil
	stop, err = s.Store.RecordPickup(ctx, PickupScan{
		ID:          uuid.NewString(),
		BatchID:     batchID,
		StopID:      stop.ID,
		OrderID:     orderID,
		FulfillerID: fulfillerID,
		ScannedAt:   now,
	})
	if err != nil {
		return StopView{}, err
	}
	if !wasVisible {
		s.Logger.Info("address revealed", "batch_id", batchID, "stop_id", stop.ID, "order_id", orderID)
		s.publish(ctx, orders.TopicAddressRevealed, orderID, orders.EventAddressRevealed,
			orders.AddressRevealedPayload{BatchID: batchID, StopID: stop.ID, OrderID: orderID, At: *stop.AddressVisibleAt})
	}
	if err := s.closeCollection(ctx, batchID, now); err != nil {
		s.Logger.Warn("collection stop not closed", "batch_id", batchID, "err", err)
	}
	return s.view(visibility.Viewer{UserID: fulfillerID, Role: visibility.RoleFulfiller}, stop), nil
}

// closeCollection marks the collection stop delivered once every delivery
// stop has been scanned.
func (s *Service) closeCollection(ctx context.Context, batchID string, now time.Time) error {
	b, err := s.Store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	for _, st := range b.Stops {
		if st.Kind == visibility.KindDelivery && st.AddressVisibleAt == nil {
			return nil
		}
	}
	c, ok := b.collectionStop()
	if !ok || c.Status == StopDelivered {
		return nil
	}
	_, err = s.Store.UpdateStop(ctx, c.ID, func(st *Stop) error {
		if !CanTransitionStop(st.Status, StopDelivered) {
			return errUnchanged
		}
		st.Status = StopDelivered
		st.DeliveredAt = &now
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

func (s *Service) Arrive(ctx context.Context, stopID, fulfillerID string) (StopView, error) {
	st, err := s.Store.GetStop(ctx, stopID)
	if err != nil {
		return StopView{}, notFound(err)
	}
	if _, err := s.activeBatch(ctx, st.BatchID, fulfillerID); err != nil {
		return StopView{}, err
	}
	now := s.Now().UTC()
	st, err = s.Store.UpdateStop(ctx, stopID, func(st *Stop) error {
		if !CanTransitionStop(st.Status, StopInProgress) {
			return apperr.WithMessage(apperr.ErrInvalidStatus, "stop is "+string(st.Status))
		}
		st.Status = StopInProgress
		st.ArrivedAt = &now
		return nil
	})
	if err != nil {
		return StopView{}, err
	}
	return s.view(visibility.Viewer{UserID: fulfillerID, Role: visibility.RoleFulfiller}, st), nil
}

// Deliver marks a delivery stop delivered. Stops are delivered in sequence:
// no earlier delivery stop may still be pending. Repeating the call for a
// delivered stop finishes any order or batch update a failed call left.
func (s *Service) Deliver(ctx context.Context, stopID, fulfillerID string) (StopView, error) {
	st, err := s.Store.GetStop(ctx, stopID)
	if err != nil {
		return StopView{}, notFound(err)
	}
	if st.Kind != visibility.KindDelivery {
		return StopView{}, apperr.WithMessage(apperr.ErrInvalidStatus, "the collection stop closes when every box is scanned")
	}
	b, err := s.activeBatch(ctx, st.BatchID, fulfillerID)
	if err != nil {
		if !errors.Is(err, apperr.ErrInvalidStatus) || st.Status != StopDelivered {
			return StopView{}, err
		}
		b, err = s.Store.GetBatch(ctx, st.BatchID)
		if err != nil {
			return StopView{}, err
		}
	}
	if st.AddressVisibleAt == nil {
		return StopView{}, apperr.ErrNotPickedUp
	}
	now := s.Now().UTC()
	if st.Status != StopDelivered {
		for _, other := range b.Stops {
			if other.Kind == visibility.KindDelivery && other.Sequence < st.Sequence && other.Status == StopPending {
				return StopView{}, apperr.WithMessage(apperr.ErrOutOfSequence,
					fmt.Sprintf("stop %d is still pending", other.Sequence))
			}
		}
		st, err = s.Store.UpdateStop(ctx, stopID, func(cur *Stop) error {
			if !CanTransitionStop(cur.Status, StopDelivered) {
				return errUnchanged
			}
			cur.Status = StopDelivered
			cur.DeliveredAt = &now
			return nil
		})
		if err != nil && !errors.Is(err, errUnchanged) {
			return StopView{}, err
		}
	}

	_, err = s.Store.UpdateOrder(ctx, st.OrderID, func(o *orders.Order) error {
		if !orders.CanTransition(o.Status, orders.StatusDelivered) {
			return errUnchanged
		}
		o.Status = orders.StatusDelivered
		o.UpdatedAt = now
		return nil
	})
	switch {
	case errors.Is(err, errUnchanged):
	case err != nil:
		return StopView{}, fmt.Errorf("mark order delivered: %w", err)
	default:
		s.Logger.Info("stop delivered", "batch_id", st.BatchID, "stop_id", st.ID, "order_id", st.OrderID)
		s.publish(ctx, orders.TopicStopDelivered, st.OrderID, orders.EventStopDelivered, orders.StopDeliveredPayload{
			BatchID: st.BatchID, StopID: st.ID, OrderID: st.OrderID, BuyerID: st.BuyerID, DeliveredAt: now,
		})
	}

	if err := s.completeIfDone(ctx, st.BatchID, now); err != nil {
		return StopView{}, err
	}
	return s.view(visibility.Viewer{UserID: fulfillerID, Role: visibility.RoleFulfiller}, st), nil
}

func (s *Service) completeIfDone(ctx context.Context, batchID string, now time.Time) error {
	b, err := s.Store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	for _, st := range b.Stops {
		if st.Kind == visibility.KindDelivery && st.Status != StopDelivered {
			return nil
		}
	}
	b, err = s.Store.UpdateBatch(ctx, batchID, func(b *Batch) error {
		if !CanTransitionBatch(b.Status, BatchCompleted) {
			return errUnchanged
		}
		b.Status = BatchCompleted
		b.CompletedAt = &now
		b.UpdatedAt = now
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}
	s.Logger.Info("batch completed", "batch_id", batchID, "fulfiller_id", b.FulfillerID)
	s.publish(ctx, orders.TopicBatchCompleted, batchID, orders.EventBatchCompleted, orders.BatchCompletedPayload{
		BatchID: batchID, FulfillerID: b.FulfillerID, CompletedAt: now,
	})
	return nil
}

func (s *Service) publish(ctx context.Context, topic, key, eventType string, payload any) {
	if err := s.Events.Publish(ctx, topic, key, eventType, payload); err != nil {
		s.Logger.Warn("publish event", "event_type", eventType, "err", err)
	}
}

func notFound(err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.WithMessage(apperr.ErrNotFound, "batch or stop not found")
	}
	return err
}
