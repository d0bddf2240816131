package credits

import (
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func at(days int) time.Time { return t0.AddDate(0, 0, days) }

func expiring(days int) *time.Time {
	t := at(days)
	return &t
}

// build chains entries the way the ledger would append them.
func build(entries ...Entry) []Entry {
	var out []Entry
	for _, s := range entries {
		e := next(out, "b", s.AmountCents, s.Type, "", s.Reference, s.ExpiresAt, s.CreatedAt)
		out = append(out, e)
	}
	return out
}

func TestSpendable(t *testing.T) {
	tests := []struct {
		name    string
		history []Entry
		now     time.Time
		want    int64
	}{
		{"empty", nil, at(0), 0},
		{"single grant", build(Entry{AmountCents: 1000, Type: TypeBonus, CreatedAt: at(0)}), at(1), 1000},
		{
			"expired grant drops out",
			build(Entry{AmountCents: 1000, Type: TypeEarned, ExpiresAt: expiring(10), CreatedAt: at(0)}),
			at(11), 0,
		},
		{
			"debit consumes soonest expiring first",
			build(
				Entry{AmountCents: 1000, Type: TypeBonus, CreatedAt: at(0)},
				Entry{AmountCents: 500, Type: TypeEarned, ExpiresAt: expiring(10), CreatedAt: at(0)},
				Entry{AmountCents: -500, Type: TypeRedeemed, CreatedAt: at(1)},
			),
			at(20), 1000,
		},
		{
			"debit after expiry cannot use the expired grant",
			build(
				Entry{AmountCents: 500, Type: TypeEarned, ExpiresAt: expiring(5), CreatedAt: at(0)},
				Entry{AmountCents: 1000, Type: TypeBonus, CreatedAt: at(0)},
				Entry{AmountCents: -300, Type: TypeRedeemed, CreatedAt: at(6)},
			),
			at(7), 700,
		},
		{
			"refund restores as a new grant",
			build(
				Entry{AmountCents: 800, Type: TypeBonus, CreatedAt: at(0)},
				Entry{AmountCents: -800, Type: TypeRedeemed, Reference: "o1", CreatedAt: at(1)},
				Entry{AmountCents: 800, Type: TypeRefund, Reference: "o1", CreatedAt: at(2)},
			),
			at(3), 800,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Spendable(tt.history, tt.now); got != tt.want {
				t.Fatalf("spendable=%d want %d", got, tt.want)
			}
		})
	}
}

func TestLedgerBalanceIgnoresExpiry(t *testing.T) {
	h := build(
		Entry{AmountCents: 500, Type: TypeEarned, ExpiresAt: expiring(1), CreatedAt: at(0)},
		Entry{AmountCents: 200, Type: TypeBonus, CreatedAt: at(0)},
	)
	if got := LedgerBalance(h); got != 700 {
		t.Fatalf("ledger=%d want 700", got)
	}
	if got := Spendable(h, at(2)); got != 200 {
		t.Fatalf("spendable=%d want 200", got)
	}
	for i, e := range h {
		if e.Seq != int64(i+1) {
			t.Fatalf("entry %d seq=%d", i, e.Seq)
		}
	}
}

func TestBuildRedemption(t *testing.T) {
	h := build(Entry{AmountCents: 1000, Type: TypeBonus, CreatedAt: at(0)})

	e, err := BuildRedemption(h, "b", 400, "o1", at(1))
	if err != nil {
		t.Fatal(err)
	}
	if e.AmountCents != -400 || e.BalanceAfterCents != 600 || e.Type != TypeRedeemed {
		t.Fatalf("entry=%+v", e)
	}

	if _, err := BuildRedemption(h, "b", 1001, "o2", at(1)); !errors.Is(err, apperr.ErrInsufficientCredits) {
		t.Fatalf("err=%v want INSUFFICIENT_CREDITS", err)
	}

	h = append(h, e)
	if _, err := BuildRedemption(h, "b", 100, "o1", at(1)); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("duplicate reference err=%v", err)
	}
}

func TestBuildRefund(t *testing.T) {
	h := build(
		Entry{AmountCents: 1000, Type: TypeBonus, CreatedAt: at(0)},
		Entry{AmountCents: -400, Type: TypeRedeemed, Reference: "o1", CreatedAt: at(1)},
	)
	es, err := BuildRefund(h, "b", "o1", "", at(2))
	if err != nil {
		t.Fatal(err)
	}
	if len(es) != 1 {
		t.Fatalf("entries=%+v want one", es)
	}
	if e := es[0]; e.AmountCents != 400 || e.BalanceAfterCents != 1000 || e.Type != TypeRefund || e.ExpiresAt != nil {
		t.Fatalf("entry=%+v", e)
	}
	h = append(h, es...)
	if _, err := BuildRefund(h, "b", "o1", "", at(3)); !errors.Is(err, ErrNothingToRefund) {
		t.Fatalf("second refund err=%v", err)
	}
	if _, err := BuildRefund(h, "b", "o2", "", at(3)); !errors.Is(err, ErrNothingToRefund) {
		t.Fatalf("unknown reference err=%v", err)
	}
}

func TestBuildRefundKeepsExpiry(t *testing.T) {
	h := build(
		Entry{AmountCents: 1000, Type: TypeBonus, CreatedAt: at(0)},
		Entry{AmountCents: 300, Type: TypeEarned, ExpiresAt: expiring(10), CreatedAt: at(0)},
		Entry{AmountCents: 200, Type: TypeEarned, ExpiresAt: expiring(5), CreatedAt: at(0)},
		Entry{AmountCents: -800, Type: TypeRedeemed, Reference: "o1", CreatedAt: at(1)},
	)
	es, err := BuildRefund(h, "b", "o1", "", at(2))
	if err != nil {
		t.Fatal(err)
	}

	want := []struct {
		amount  int64
		expires *time.Time
	}{
		{200, expiring(5)},
		{300, expiring(10)},
		{300, nil},
	}
	if len(es) != len(want) {
		t.Fatalf("entries=%+v want %d", es, len(want))
	}
	for i, w := range want {
		e := es[i]
		if e.AmountCents != w.amount || e.Reference != "o1" || e.Type != TypeRefund {
			t.Fatalf("entry %d=%+v", i, e)
		}
		if (w.expires == nil) != (e.ExpiresAt == nil) || (w.expires != nil && !w.expires.Equal(*e.ExpiresAt)) {
			t.Fatalf("entry %d expires=%v want %v", i, e.ExpiresAt, w.expires)
		}
		if i > 0 && e.Seq != es[i-1].Seq+1 {
			t.Fatalf("entry %d seq=%d", i, e.Seq)
		}
	}

	h = append(h, es...)
	if got := LedgerBalance(h); got != 1500 {
		t.Fatalf("ledger=%d want 1500", got)
	}
	for _, tt := range []struct {
		day  int
		want int64
	}{
		{3, 1500},
		{6, 1300},
		{11, 1000},
	} {
		if got := Spendable(h, at(tt.day)); got != tt.want {
			t.Fatalf("spendable day %d=%d want %d", tt.day, got, tt.want)
		}
	}
}
