package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/orders"
	"github.com/cenkalti/backoff/v5"
)

// Account is where a recipient's transfers go. Only verified accounts are
// paid.
type Account struct {
	RecipientID string `json:"recipient_id"`
	Destination string `json:"destination"`
	Verified    bool   `json:"verified"`
}

// Settleable is a payout whose order is delivered and whose recipient has a
// verified destination.
type Settleable struct {
	Payout      Payout
	Destination string
}

type Store interface {
	ListSettleable(ctx context.Context, maxAttempts, limit int) ([]Settleable, error)
	MarkPayoutCompleted(ctx context.Context, payoutID, transferRef string, at time.Time) error
	MarkPayoutFailed(ctx context.Context, payoutID, reason string, at time.Time) error
	ListPayouts(ctx context.Context, orderID string) ([]Payout, error)
}

// Transferer moves money to a connected account. The idempotency key makes
// a repeated call for the same payout a no-op on the provider side.
type Transferer interface {
	Transfer(ctx context.Context, destination string, amountCents int64, idempotencyKey string, metadata map[string]string) (string, error)
}

type Settler struct {
	Store       Store
	Transfers   Transferer
	Events      orders.Publisher
	Logger      *slog.Logger
	Now         func() time.Time
	MaxAttempts int           // per payout, across passes
	BatchSize   int           // payouts per pass
	Timeout     time.Duration // per transfer call
	Retries     uint          // in-pass tries per payout
}

type Report struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Settle runs one pass. A failing payout is recorded and the pass moves on.
func (s *Settler) Settle(ctx context.Context) (Report, error) {
	var rep Report
	due, err := s.Store.ListSettleable(ctx, s.maxAttempts(), s.batchSize())
	if err != nil {
		return rep, fmt.Errorf("list settleable payouts: %w", err)
	}
	for _, item := range due {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		p := item.Payout
		ref, err := s.transfer(ctx, item)
		now := s.now()
		if err != nil {
			rep.Failed++
			s.logger().Warn("payout transfer failed", "payout_id", p.ID, "order_id", p.OrderID, "attempt", p.Attempts+1, "err", err)
			if merr := s.Store.MarkPayoutFailed(ctx, p.ID, err.Error(), now); merr != nil {
				s.logger().Error("record payout failure", "payout_id", p.ID, "err", merr)
			}
			s.publish(ctx, p, StatusFailed, "", err.Error())
			continue
		}
		if err := s.Store.MarkPayoutCompleted(ctx, p.ID, ref, now); err != nil {
			// The transfer went through; the next pass repeats it with the
			// same idempotency key and records it then.
			s.logger().Error("record payout completion", "payout_id", p.ID, "transfer_ref", ref, "err", err)
			rep.Failed++
			continue
		}
		rep.Completed++
		s.publish(ctx, p, StatusCompleted, ref, "")
	}
	s.logger().Info("payout settlement pass", "completed", rep.Completed, "failed", rep.Failed)
	return rep, nil
}

func (s *Settler) transfer(ctx context.Context, item Settleable) (string, error) {
	p := item.Payout
	op := func() (string, error) {
		cctx, cancel := context.WithTimeout(ctx, s.timeout())
		defer cancel()
		ref, err := s.Transfers.Transfer(cctx, item.Destination, p.AmountCents, "payout-"+p.ID, map[string]string{
			"payout_id": p.ID,
			"order_id":  p.OrderID,
			"kind":      string(p.Kind),
		})
		if err != nil && !temporary(err) {
			return "", backoff.Permanent(err)
		}
		return ref, err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(s.retries()))
}

func (s *Settler) publish(ctx context.Context, p Payout, st Status, ref, errMsg string) {
	if s.Events == nil {
		return
	}
	err := s.Events.Publish(ctx, orders.TopicPayoutSettled, p.OrderID, orders.EventPayoutSettled, orders.PayoutSettledPayload{
		PayoutID:    p.ID,
		OrderID:     p.OrderID,
		RecipientID: p.RecipientID,
		AmountCents: p.AmountCents,
		Status:      string(st),
		TransferRef: ref,
		Error:       errMsg,
	})
	if err != nil {
		s.logger().Warn("publish payout event", "payout_id", p.ID, "err", err)
	}
}

func temporary(err error) bool {
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}

func (s *Settler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Settler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Settler) maxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return 5
}

func (s *Settler) batchSize() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return 200
}

func (s *Settler) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return 10 * time.Second
}

func (s *Settler) retries() uint {
	if s.Retries > 0 {
		return s.Retries
	}
	return 3
}
