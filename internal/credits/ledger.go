// Package credits implements the append-only stored-value ledger.
//
// Balances are never stored as a mutable field. The ledger balance is the
// latest entry's BalanceAfterCents; the spendable balance is recomputed at
// read time by replaying the entries and dropping expired grants.
package credits

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/orders"
	"github.com/google/uuid"
)

type Type string

const (
	TypeEarned   Type = "earned"
	TypeBonus    Type = "bonus"
	TypeRefund   Type = "refund"
	TypeRedeemed Type = "redeemed"
)

func (t Type) Valid() bool {
	switch t {
	case TypeEarned, TypeBonus, TypeRefund, TypeRedeemed:
		return true
	}
	return false
}

type Entry struct {
	ID                string     `json:"id"`
	BuyerID           string     `json:"buyer_id"`
	Seq               int64      `json:"seq"`
	AmountCents       int64      `json:"amount_cents"` // signed
	BalanceAfterCents int64      `json:"balance_after_cents"`
	Type              Type       `json:"type"`
	Description       string     `json:"description"`
	Reference         string     `json:"reference,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Store appends entries for one buyer atomically: build sees the complete
// history as of the append and everything it returns is written before any
// other append for the same buyer can read that history.
type Store interface {
	AppendCredits(ctx context.Context, buyerID string, build func(history []Entry) ([]Entry, error)) ([]Entry, error)
	ListCredits(ctx context.Context, buyerID string) ([]Entry, error)
}

type Balance struct {
	LedgerCents    int64 `json:"ledger_cents"`
	SpendableCents int64 `json:"spendable_cents"`
}

type Ledger struct {
	Store  Store
	Events orders.Publisher
	Logger *slog.Logger
	Now    func() time.Time
}

func New(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{Store: store, Events: orders.NopPublisher{}, Logger: logger, Now: time.Now}
}

type AwardInput struct {
	BuyerID       string
	AmountCents   int64
	Type          Type
	Description   string
	ExpiresInDays int
	Reference     string
}

// errApplied carries an earlier entry with the same reference out of build.
type errApplied struct{ entries []Entry }

func (e errApplied) Error() string { return "credits: reference already applied" }

func (l *Ledger) Award(ctx context.Context, in AwardInput) (Entry, error) {
	if in.BuyerID == "" {
		return Entry{}, apperr.Validation("consumer_id", "required")
	}
	if in.AmountCents <= 0 {
		return Entry{}, apperr.Validation("amount", "must be positive")
	}
	if in.Type == "" {
		in.Type = TypeBonus
	}
	if !in.Type.Valid() || in.Type == TypeRedeemed {
		return Entry{}, apperr.Validation("transaction_type", "must be earned, bonus or refund")
	}
	if in.ExpiresInDays < 0 {
		return Entry{}, apperr.Validation("expires_in_days", "must not be negative")
	}
	now := l.Now().UTC()
	var expires *time.Time
	if in.ExpiresInDays > 0 {
		t := now.AddDate(0, 0, in.ExpiresInDays)
		expires = &t
	}
	fresh := false
	es, err := l.append(ctx, in.BuyerID, func(history []Entry) ([]Entry, error) {
		if prev, ok := findReference(history, in.Type, in.Reference); ok {
			fresh = false
			return nil, errApplied{[]Entry{prev}}
		}
		fresh = true
		return []Entry{next(history, in.BuyerID, in.AmountCents, in.Type, in.Description, in.Reference, expires, now)}, nil
	})
	if err != nil {
		return Entry{}, err
	}
	e := es[0]
	if fresh {
		l.Logger.Info("credits awarded", "buyer_id", in.BuyerID, "amount_cents", in.AmountCents, "type", in.Type, "reference", in.Reference)
		if l.Events != nil {
			payload := orders.CreditsAwardedPayload{BuyerID: in.BuyerID, AmountCents: in.AmountCents, Reference: in.Reference}
			if err := l.Events.Publish(ctx, orders.TopicCreditsAwarded, in.BuyerID, orders.EventCreditsAwarded, payload); err != nil {
				l.Logger.Warn("publish failed", "event", orders.EventCreditsAwarded, "buyer_id", in.BuyerID, "err", err)
			}
		}
	}
	return e, nil
}

// Redeem debits amount from the spendable balance.
func (l *Ledger) Redeem(ctx context.Context, buyerID string, amount int64, reference string) (Entry, error) {
	if amount <= 0 {
		return Entry{}, apperr.Validation("amount", "must be positive")
	}
	now := l.Now().UTC()
	es, err := l.append(ctx, buyerID, func(history []Entry) ([]Entry, error) {
		e, err := BuildRedemption(history, buyerID, amount, reference, now)
		if err != nil {
			return nil, err
		}
		return []Entry{e}, nil
	})
	if err != nil {
		return Entry{}, err
	}
	return es[0], nil
}

// Refund returns previously redeemed credits for reference, one entry per
// expiry of the grants the redemption consumed. It is a no-op when nothing
// was redeemed or the refund was already recorded.
func (l *Ledger) Refund(ctx context.Context, buyerID, reference, description string) ([]Entry, error) {
	now := l.Now().UTC()
	es, err := l.append(ctx, buyerID, func(history []Entry) ([]Entry, error) {
		return BuildRefund(history, buyerID, reference, description, now)
	})
	if errors.Is(err, ErrNothingToRefund) {
		return nil, nil
	}
	return es, err
}

func (l *Ledger) Balance(ctx context.Context, buyerID string) (Balance, error) {
	history, err := l.Store.ListCredits(ctx, buyerID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		LedgerCents:    LedgerBalance(history),
		SpendableCents: Spendable(history, l.Now().UTC()),
	}, nil
}

func (l *Ledger) History(ctx context.Context, buyerID string) ([]Entry, error) {
	return l.Store.ListCredits(ctx, buyerID)
}

func (l *Ledger) append(ctx context.Context, buyerID string, build func([]Entry) ([]Entry, error)) ([]Entry, error) {
	es, err := l.Store.AppendCredits(ctx, buyerID, build)
	var applied errApplied
	if errors.As(err, &applied) {
		return applied.entries, nil
	}
	return es, err
}

// ErrNothingToRefund is returned by BuildRefund when there is no open
// redemption for the reference.
var ErrNothingToRefund = errors.New("credits: nothing to refund")

// BuildRedemption is the pure part of a redemption, shared by every Store
// that has to redeem inside a wider transaction.
func BuildRedemption(history []Entry, buyerID string, amount int64, reference string, now time.Time) (Entry, error) {
	if reference != "" {
		if _, ok := findReference(history, TypeRedeemed, reference); ok {
			return Entry{}, apperr.WithMessage(apperr.ErrValidation, "credits already redeemed for "+reference)
		}
	}
	if avail := Spendable(history, now); avail < amount {
		return Entry{}, apperr.WithMessage(apperr.ErrInsufficientCredits, "requested credits exceed spendable balance")
	}
	return next(history, buyerID, -amount, TypeRedeemed, "redeemed for order "+reference, reference, nil, now), nil
}

// BuildRefund gives back what the redemption for reference consumed. Each
// consumed grant returns with its own expiry, so a refund never extends the
// life of credits; portions sharing an expiry become one entry.
func BuildRefund(history []Entry, buyerID, reference, description string, now time.Time) ([]Entry, error) {
	redeemed, ok := findReference(history, TypeRedeemed, reference)
	if !ok {
		return nil, ErrNothingToRefund
	}
	if _, done := findReference(history, TypeRefund, reference); done {
		return nil, ErrNothingToRefund
	}
	if description == "" {
		description = "refund for " + reference
	}
	_, consumed := replay(history)
	parts := mergePortions(consumed[redeemed.Seq])
	if len(parts) == 0 {
		parts = []portion{{amount: -redeemed.AmountCents}}
	}
	out := make([]Entry, 0, len(parts))
	chain := history[:len(history):len(history)]
	for _, p := range parts {
		e := next(chain, buyerID, p.amount, TypeRefund, description, reference, p.expires, now)
		out = append(out, e)
		chain = append(chain, e)
	}
	return out, nil
}

func next(history []Entry, buyerID string, amount int64, t Type, desc, ref string, expires *time.Time, now time.Time) Entry {
	var seq, bal int64
	if n := len(history); n > 0 {
		seq = history[n-1].Seq
		bal = history[n-1].BalanceAfterCents
	}
	return Entry{
		ID:                uuid.NewString(),
		BuyerID:           buyerID,
		Seq:               seq + 1,
		AmountCents:       amount,
		BalanceAfterCents: bal + amount,
		Type:              t,
		Description:       desc,
		Reference:         ref,
		ExpiresAt:         expires,
		CreatedAt:         now,
	}
}

func findReference(history []Entry, t Type, ref string) (Entry, bool) {
	if ref == "" {
		return Entry{}, false
	}
	for _, e := range history {
		if e.Type == t && e.Reference == ref {
			return e, true
		}
	}
	return Entry{}, false
}

// LedgerBalance is the latest entry's balance_after.
func LedgerBalance(history []Entry) int64 {
	if len(history) == 0 {
		return 0
	}
	return history[len(history)-1].BalanceAfterCents
}

type grant struct {
	remaining int64
	expires   *time.Time
	seq       int64
}

func (g grant) liveAt(t time.Time) bool {
	return g.expires == nil || t.Before(*g.expires)
}

// portion is the part of one grant consumed by a debit.
type portion struct {
	amount  int64
	expires *time.Time
}

// replay walks history in order. Each debit consumes the grants that were
// live at the time of the debit, soonest-expiring first. It returns the
// grants with what is left of them, and per debit seq what it consumed.
func replay(history []Entry) ([]*grant, map[int64][]portion) {
	var grants []*grant
	consumed := make(map[int64][]portion)
	for _, e := range history {
		if e.AmountCents > 0 {
			grants = append(grants, &grant{remaining: e.AmountCents, expires: e.ExpiresAt, seq: e.Seq})
			continue
		}
		debit := -e.AmountCents
		live := make([]*grant, 0, len(grants))
		for _, g := range grants {
			if g.remaining > 0 && g.liveAt(e.CreatedAt) {
				live = append(live, g)
			}
		}
		sort.SliceStable(live, func(i, j int) bool {
			a, b := live[i], live[j]
			switch {
			case a.expires == nil && b.expires == nil:
				return a.seq < b.seq
			case a.expires == nil:
				return false
			case b.expires == nil:
				return true
			}
			return a.expires.Before(*b.expires)
		})
		for _, g := range live {
			if debit == 0 {
				break
			}
			take := min(debit, g.remaining)
			g.remaining -= take
			debit -= take
			consumed[e.Seq] = append(consumed[e.Seq], portion{amount: take, expires: g.expires})
		}
		if debit > 0 {
			consumed[e.Seq] = append(consumed[e.Seq], portion{amount: debit})
		}
	}
	return grants, consumed
}

func mergePortions(ps []portion) []portion {
	var out []portion
merge:
	for _, p := range ps {
		if p.amount == 0 {
			continue
		}
		for i := range out {
			if sameExpiry(out[i].expires, p.expires) {
				out[i].amount += p.amount
				continue merge
			}
		}
		out = append(out, p)
	}
	return out
}

func sameExpiry(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Spendable is what is left of the grants still live at now.
func Spendable(history []Entry, now time.Time) int64 {
	grants, _ := replay(history)
	var total int64
	for _, g := range grants {
		if g.liveAt(now) {
			total += g.remaining
		}
	}
	return total
}
