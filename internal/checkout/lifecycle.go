package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/orders"
	"github.com/ariefcatur/go-fresh-orders/internal/payment"
)

// Actor is the caller of an order operation.
type Actor struct {
	UserID string
	Admin  bool
}

// errUnchanged aborts an UpdateOrder without writing.
var errUnchanged = errors.New("checkout: order unchanged")

// HandlePaymentEvent applies a verified provider event. Redelivered and
// out-of-order events are absorbed: the first is recorded, later ones that
// do not advance the payment status are ignored.
func (s *Service) HandlePaymentEvent(ctx context.Context, ev payment.Event) error {
	if ev.ID == "" {
		return apperr.Validation("id", "required")
	}
	log := s.Logger.With("event_id", ev.ID, "event_type", ev.Type)
	if ev.Status == "" {
		log.Debug("payment event ignored")
		return nil
	}
	if s.Dedup != nil {
		if seen, err := s.Dedup.Seen(ctx, ev.ID); err != nil {
			log.Warn("dedup lookup failed", "err", err)
		} else if seen {
			log.Info("duplicate payment event")
			return nil
		}
	}
	seen, err := s.Store.PaymentEventSeen(ctx, ev.ID)
	if err != nil {
		return err
	}
	if seen {
		log.Info("duplicate payment event")
		s.markSeen(ctx, ev.ID)
		return nil
	}

	o, err := s.orderForEvent(ctx, ev)
	if err != nil {
		return err
	}
	if _, err := s.applyPayment(ctx, o, ev.Status); err != nil {
		return err
	}
	if err := s.Store.RecordPaymentEvent(ctx, ev.ID, ev.Type, o.ID, s.Now().UTC()); err != nil {
		return fmt.Errorf("record payment event: %w", err)
	}
	s.markSeen(ctx, ev.ID)
	return nil
}

func (s *Service) markSeen(ctx context.Context, id string) {
	if s.Dedup == nil {
		return
	}
	if err := s.Dedup.Mark(ctx, id); err != nil {
		s.Logger.Warn("dedup mark failed", "event_id", id, "err", err)
	}
}

func (s *Service) orderForEvent(ctx context.Context, ev payment.Event) (orders.Order, error) {
	var (
		o   orders.Order
		err error
	)
	if ev.OrderID != "" {
		o, err = s.Store.GetOrder(ctx, ev.OrderID)
	} else {
		o, err = s.Store.FindOrderByIntent(ctx, ev.IntentID)
	}
	if errors.Is(err, apperr.ErrNotFound) {
		// the provider can report on an intent before its order commits
		if ev.Created.IsZero() || s.Now().Sub(ev.Created) < s.EventGrace {
			return orders.Order{}, apperr.WithMessage(apperr.ErrOrderNotReady,
				"no order for intent "+ev.IntentID+" yet")
		}
		return orders.Order{}, apperr.ErrOrderNotFound
	}
	if err != nil {
		return orders.Order{}, err
	}
	if ev.IntentID != "" && o.PaymentIntentID != ev.IntentID {
		return orders.Order{}, apperr.Validation("intent_id", "does not match order "+o.ID)
	}
	return o, nil
}

// ConfirmPayment re-reads the intent from the provider and applies its
// status; the client calls it after completing card authentication.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string, actor Actor) (orders.Order, error) {
	o, err := s.GetOrder(ctx, orderID, actor)
	if err != nil {
		return orders.Order{}, err
	}
	if o.PaymentIntentID == "" {
		return o, nil
	}
	gctx, cancel := context.WithTimeout(ctx, s.GatewayTimeout)
	defer cancel()
	intent, err := s.Gateway.GetIntent(gctx, o.PaymentIntentID)
	if err != nil {
		return orders.Order{}, apperr.Wrap(apperr.CodePaymentUnavailable, apperr.KindExternal,
			"payment provider unavailable, please retry", err)
	}
	return s.applyPayment(ctx, o, intent.Status)
}

// applyPayment moves the order's payment status to st if the transition
// table allows it, then runs the side effects of the new state.
func (s *Service) applyPayment(ctx context.Context, o orders.Order, st orders.PaymentStatus) (orders.Order, error) {
	var (
		confirmed bool
		cancelled bool
		late      bool
	)
	now := s.Now().UTC()
	updated, err := s.Store.UpdateOrder(ctx, o.ID, func(cur *orders.Order) error {
		if !orders.CanAdvancePayment(cur.PaymentStatus, st) {
			return errUnchanged
		}
		cur.PaymentStatus = st
		switch st {
		case orders.PaymentSucceeded:
			switch {
			case cur.Status == orders.StatusPendingPayment:
				cur.Status = orders.StatusConfirmed
				confirmed = true
			case cur.Status == orders.StatusCancelled:
				late = true
			}
		case orders.PaymentCanceled:
			if cur.Status == orders.StatusPendingPayment {
				cur.Status = orders.StatusCancelled
				cur.CancelledAt = &now
				cancelled = true
			}
		}
		cur.UpdatedAt = now
		return nil
	})
	if errors.Is(err, errUnchanged) {
		s.Logger.Info("payment status unchanged", "order_id", o.ID, "from", updated.PaymentStatus, "to", st)
		return updated, nil
	}
	if err != nil {
		return orders.Order{}, err
	}
	s.Logger.Info("payment status advanced", "order_id", updated.ID, "payment_status", updated.PaymentStatus, "status", updated.Status)

	switch {
	case confirmed:
		if err := s.Store.RemoveCartItems(ctx, updated.BuyerID, updated.CartID, updated.Items); err != nil {
			s.Logger.Warn("clear cart after confirmation", "order_id", updated.ID, "err", err)
		}
		s.publishConfirmed(ctx, updated)
	case cancelled:
		if err := s.compensate(ctx, updated, "payment canceled"); err != nil {
			return updated, err
		}
	case late:
		// the order expired before capture; give the money back
		s.Logger.Warn("payment captured on cancelled order", "order_id", updated.ID)
		updated = s.refundPayment(ctx, updated)
	}
	return updated, nil
}

// Cancel cancels a not-yet-batched order and runs every compensation.
func (s *Service) Cancel(ctx context.Context, orderID string, actor Actor) (orders.Order, error) {
	o, err := s.GetOrder(ctx, orderID, actor)
	if err != nil {
		return orders.Order{}, err
	}
	if !o.Status.Cancellable() {
		return orders.Order{}, apperr.WithMessage(apperr.ErrInvalidStatus, "cannot cancel a "+string(o.Status)+" order")
	}
	now := s.Now()
	if deadline := o.DeliveryDate.Add(-s.CancelWindow); now.After(deadline) {
		return orders.Order{}, apperr.WithMessage(apperr.ErrTooLateToCancel,
			"cancellation closed at "+deadline.UTC().Format(time.RFC3339))
	}
	updated, err := s.Store.UpdateOrder(ctx, orderID, func(cur *orders.Order) error {
		if !cur.Status.Cancellable() {
			return apperr.WithMessage(apperr.ErrInvalidStatus, "cannot cancel a "+string(cur.Status)+" order")
		}
		at := now.UTC()
		cur.Status = orders.StatusCancelled
		cur.CancelledAt = &at
		cur.UpdatedAt = at
		return nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	s.Logger.Info("order cancelled", "order_id", orderID, "by", actor.UserID, "admin", actor.Admin)
	reason := "cancelled by buyer"
	if actor.Admin {
		reason = "cancelled by admin"
	}
	if err := s.compensate(ctx, updated, reason); err != nil {
		return updated, err
	}
	return s.Store.GetOrder(ctx, orderID)
}

// ExpireStale cancels pending_payment orders older than olderThan. An
// intent that was captured in the meantime confirms the order instead.
func (s *Service) ExpireStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stale, err := s.Store.ListOrders(ctx, orders.StatusPendingPayment, s.Now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}
	var (
		expired int
		errs    []error
	)
	for _, o := range stale {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		st, err := s.currentIntentStatus(ctx, o)
		if err != nil {
			s.Logger.Warn("expire: intent lookup failed", "order_id", o.ID, "err", err)
			errs = append(errs, err)
			continue
		}
		if st == orders.PaymentSucceeded {
			if _, err := s.applyPayment(ctx, o, st); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := s.expire(ctx, o); err != nil {
			errs = append(errs, err)
			continue
		}
		expired++
	}
	if expired > 0 {
		s.Logger.Info("stale pending orders expired", "count", expired)
	}
	return expired, errors.Join(errs...)
}

func (s *Service) currentIntentStatus(ctx context.Context, o orders.Order) (orders.PaymentStatus, error) {
	if o.PaymentIntentID == "" {
		return o.PaymentStatus, nil
	}
	return s.intentStatus(ctx, o.PaymentIntentID)
}

func (s *Service) intentStatus(ctx context.Context, intentID string) (orders.PaymentStatus, error) {
	gctx, cancel := context.WithTimeout(ctx, s.GatewayTimeout)
	defer cancel()
	in, err := s.Gateway.GetIntent(gctx, intentID)
	if err != nil {
		return "", err
	}
	return in.Status, nil
}

func (s *Service) expire(ctx context.Context, o orders.Order) error {
	if o.PaymentIntentID != "" {
		gctx, cancel := context.WithTimeout(ctx, s.GatewayTimeout)
		err := s.Gateway.CancelIntent(gctx, o.PaymentIntentID)
		cancel()
		if err != nil {
			return fmt.Errorf("cancel intent %s: %w", o.PaymentIntentID, err)
		}
	}
	now := s.Now().UTC()
	updated, err := s.Store.UpdateOrder(ctx, o.ID, func(cur *orders.Order) error {
		if cur.Status != orders.StatusPendingPayment {
			return errUnchanged
		}
		cur.Status = orders.StatusCancelled
		if orders.CanAdvancePayment(cur.PaymentStatus, orders.PaymentCanceled) {
			cur.PaymentStatus = orders.PaymentCanceled
		}
		cur.CancelledAt = &now
		cur.UpdatedAt = now
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.compensate(ctx, updated, "payment window expired")
}

// compensate undoes everything a placed order holds. Each step is
// idempotent, so a partially compensated order can be compensated again.
func (s *Service) compensate(ctx context.Context, o orders.Order, reason string) error {
	ctx = context.WithoutCancel(ctx)
	log := s.Logger.With("order_id", o.ID, "reason", reason)
	var errs []error

	if err := s.Inventory.Restore(ctx, o.ID); err != nil {
		errs = append(errs, err)
	}
	if o.CreditsCents > 0 {
		if _, err := s.Credits.Refund(ctx, o.BuyerID, o.ID, "refund for cancelled order "+o.ID); err != nil {
			errs = append(errs, fmt.Errorf("refund credits: %w", err))
		}
	}
	if err := s.Store.VoidPayouts(ctx, o.ID, s.Now().UTC()); err != nil {
		errs = append(errs, fmt.Errorf("void payouts: %w", err))
	}

	var refunded int64
	switch o.PaymentStatus {
	case orders.PaymentSucceeded:
		o = s.refundPayment(ctx, o)
		refunded = o.TotalCents
	case orders.PaymentRequiresPayment, orders.PaymentFailed:
		if o.PaymentIntentID != "" {
			gctx, cancel := context.WithTimeout(ctx, s.GatewayTimeout)
			if err := s.Gateway.CancelIntent(gctx, o.PaymentIntentID); err != nil {
				log.Warn("cancel intent", "intent_id", o.PaymentIntentID, "err", err)
			}
			cancel()
		}
	}

	err := s.Events.Publish(ctx, orders.TopicOrderCancelled, o.ID, orders.EventOrderCancelled,
		orders.OrderCancelledPayload{
			OrderID:       o.ID,
			BuyerID:       o.BuyerID,
			Reason:        reason,
			RefundCents:   refunded,
			CreditsCents:  o.CreditsCents,
			PaymentIntent: o.PaymentIntentID,
		})
	if err != nil {
		log.Warn("publish order cancelled", "err", err)
	}

	if err := errors.Join(errs...); err != nil {
		log.Error("compensation incomplete", "err", err)
		return err
	}
	log.Info("order compensated", "refund_cents", refunded, "credits_cents", o.CreditsCents)
	return nil
}

// refundPayment refunds the captured total. When the provider call fails
// the refund is handed to the refund-retry consumer instead.
func (s *Service) refundPayment(ctx context.Context, o orders.Order) orders.Order {
	key := "refund-" + o.ID
	if err := s.issueRefund(ctx, o.ID, o.PaymentIntentID, o.TotalCents, key); err != nil {
		s.queueRefund(ctx, o.ID, o.PaymentIntentID, o.TotalCents, key, err)
		return o
	}
	if cur, err := s.Store.GetOrder(ctx, o.ID); err == nil {
		return cur
	}
	return o
}

func (s *Service) queueRefund(ctx context.Context, orderID, intentID string, amount int64, key string, cause error) {
	s.Logger.Warn("refund failed; queued for retry", "order_id", orderID, "err", cause)
	err := s.Events.Publish(ctx, orders.TopicRefundRequested, orderID, orders.EventRefundRequested,
		orders.RefundRequestedPayload{
			OrderID:        orderID,
			PaymentIntent:  intentID,
			AmountCents:    amount,
			IdempotencyKey: key,
		})
	if err != nil {
		s.Logger.Error("refund could not be queued", "order_id", orderID, "amount_cents", amount, "err", err)
	}
}

// issueRefund refunds at the provider and marks the order refunded. An
// order that was never committed has nothing to mark.
func (s *Service) issueRefund(ctx context.Context, orderID, intentID string, amount int64, key string) error {
	gctx, cancel := context.WithTimeout(ctx, s.GatewayTimeout)
	defer cancel()
	if _, err := s.Gateway.Refund(gctx, intentID, amount, key); err != nil {
		return err
	}
	_, err := s.Store.UpdateOrder(ctx, orderID, func(cur *orders.Order) error {
		if !orders.CanAdvancePayment(cur.PaymentStatus, orders.PaymentRefunded) {
			return errUnchanged
		}
		cur.PaymentStatus = orders.PaymentRefunded
		cur.UpdatedAt = s.Now().UTC()
		return nil
	})
	if errors.Is(err, errUnchanged) || errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	return err
}

// RetryRefund handles a queued refund request. Returning an error leaves
// the message uncommitted for redelivery.
func (s *Service) RetryRefund(ctx context.Context, p orders.RefundRequestedPayload) error {
	if p.OrderID == "" || p.PaymentIntent == "" {
		return apperr.Validation("order_id", "refund request without order or intent")
	}
	key := p.IdempotencyKey
	if key == "" {
		key = "refund-" + p.OrderID
	}
	if err := s.issueRefund(ctx, p.OrderID, p.PaymentIntent, p.AmountCents, key); err != nil {
		return fmt.Errorf("retry refund %s: %w", p.OrderID, err)
	}
	s.Logger.Info("queued refund issued", "order_id", p.OrderID, "amount_cents", p.AmountCents)
	return nil
}
