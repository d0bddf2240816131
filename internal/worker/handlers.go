// Package worker holds the Kafka consumer handlers run by cmd/worker.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/checkout"
	"github.com/ariefcatur/go-fresh-orders/internal/credits"
	kafkax "github.com/ariefcatur/go-fresh-orders/internal/kafka"
	"github.com/ariefcatur/go-fresh-orders/internal/notify"
	"github.com/ariefcatur/go-fresh-orders/internal/orders"
	"github.com/ariefcatur/go-fresh-orders/internal/payment"
)

// EarnRule awards AmountCents of earned credits on every confirmed order
// whose subtotal reaches ThresholdCents.
type EarnRule struct {
	ThresholdCents int64
	AmountCents    int64
	ExpiryDays     int
}

type Handlers struct {
	Credits  *credits.Ledger
	Checkout *checkout.Service
	Notifier notify.Notifier
	Dedup    checkout.Deduper // optional
	Earn     EarnRule
	Logger   *slog.Logger
}

// HandleOrderConfirmed awards earned credits. The award is keyed by order
// id, so redelivery never pays twice.
func (h *Handlers) HandleOrderConfirmed(ctx context.Context, env orders.Envelope) error {
	if env.EventType != orders.EventOrderConfirmed {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.OrderConfirmedPayload](env.Payload)
	if err != nil {
		return kafkax.Permanent(err)
	}
	if h.Earn.AmountCents <= 0 || p.SubtotalCents < h.Earn.ThresholdCents {
		return nil
	}
	_, err = h.Credits.Award(ctx, credits.AwardInput{
		BuyerID:       p.BuyerID,
		AmountCents:   h.Earn.AmountCents,
		Type:          credits.TypeEarned,
		Description:   "Earned on order " + p.OrderID,
		ExpiresInDays: h.Earn.ExpiryDays,
		Reference:     "earn-" + p.OrderID,
	})
	return retryable(err)
}

func (h *Handlers) HandleRefundRequested(ctx context.Context, env orders.Envelope) error {
	if env.EventType != orders.EventRefundRequested {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.RefundRequestedPayload](env.Payload)
	if err != nil {
		return kafkax.Permanent(err)
	}
	return retryable(h.Checkout.RetryRefund(ctx, p))
}

// retryable leaves err for redelivery unless the input itself is invalid
// or the provider refused the call outright.
func retryable(err error) error {
	if err == nil {
		return nil
	}
	var pe *payment.Error
	if apperr.From(err).Kind == apperr.KindValidation || (errors.As(err, &pe) && !pe.Temporary()) {
		return kafkax.Permanent(err)
	}
	return err
}

// HandleNotification turns order and delivery events into buyer messages.
// Notifier failures are logged and the message is committed anyway.
func (h *Handlers) HandleNotification(ctx context.Context, env orders.Envelope) error {
	if h.Dedup != nil {
		if seen, _ := h.Dedup.Seen(ctx, env.EventID); seen {
			return nil
		}
	}
	msg, ok, err := notification(env)
	if err != nil {
		return kafkax.Permanent(err)
	}
	if !ok {
		return nil
	}
	if err := h.Notifier.Notify(ctx, msg); err != nil {
		h.Logger.Warn("notification failed", "event_id", env.EventID, "template", msg.Template, "err", err)
		return nil
	}
	if h.Dedup != nil {
		_ = h.Dedup.Mark(ctx, env.EventID)
	}
	return nil
}

func notification(env orders.Envelope) (notify.Message, bool, error) {
	switch env.EventType {
	case orders.EventOrderConfirmed:
		p, err := kafkax.UnwrapPayload[orders.OrderConfirmedPayload](env.Payload)
		if err != nil {
			return notify.Message{}, false, err
		}
		return notify.Message{
			RecipientID: p.BuyerID,
			OrderID:     p.OrderID,
			Template:    "order_confirmed",
			Data: map[string]string{
				"delivery_date": p.DeliveryDate.Format("2006-01-02"),
				"total_cents":   strconv.FormatInt(p.TotalCents, 10),
			},
		}, true, nil
	case orders.EventOrderCancelled:
		p, err := kafkax.UnwrapPayload[orders.OrderCancelledPayload](env.Payload)
		if err != nil {
			return notify.Message{}, false, err
		}
		return notify.Message{
			RecipientID: p.BuyerID,
			OrderID:     p.OrderID,
			Template:    "order_cancelled",
			Data: map[string]string{
				"reason":       p.Reason,
				"refund_cents": strconv.FormatInt(p.RefundCents, 10),
			},
		}, true, nil
	case orders.EventStopDelivered:
		p, err := kafkax.UnwrapPayload[orders.StopDeliveredPayload](env.Payload)
		if err != nil {
			return notify.Message{}, false, err
		}
		return notify.Message{
			RecipientID: p.BuyerID,
			OrderID:     p.OrderID,
			Template:    "order_delivered",
		}, true, nil
	}
	return notify.Message{}, false, nil
}
