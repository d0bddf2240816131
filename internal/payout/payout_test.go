package payout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/orders"
	"github.com/shopspring/decimal"
)

var now = time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)

func TestSplit(t *testing.T) {
	o := orders.Order{ID: "o1", SubtotalCents: 10000, TipCents: 500}
	items := []orders.OrderItem{
		{SellerID: "s2", SubtotalCents: 3000},
		{SellerID: "s1", SubtotalCents: 6001},
		{SellerID: "s2", SubtotalCents: 999},
	}
	got := Split(o, items, "cp-1", DefaultShares(), now)

	want := []struct {
		recipient string
		kind      Kind
		amount    int64
	}{
		{"s1", KindSale, 4800},
		{"s2", KindSale, 3199},
		{"cp-1", KindCollection, 500},
		{"", KindTip, 500},
	}
	if len(got) != len(want) {
		t.Fatalf("payouts=%d want %d", len(got), len(want))
	}
	for i, w := range want {
		p := got[i]
		if p.RecipientID != w.recipient || p.Kind != w.kind || p.AmountCents != w.amount || p.Status != StatusPending {
			t.Fatalf("payout %d=%+v want %+v", i, p, w)
		}
	}
	if fee := PlatformFee(o.SubtotalCents, got); fee != 1501 {
		t.Fatalf("platform fee=%d want 1501", fee)
	}
}

func TestSplitSkipsZeroAmounts(t *testing.T) {
	o := orders.Order{ID: "o1", SubtotalCents: 1}
	got := Split(o, []orders.OrderItem{{SellerID: "s1", SubtotalCents: 1}}, "", DefaultShares(), now)
	if len(got) != 0 {
		t.Fatalf("payouts=%+v want none", got)
	}
}

func TestShares(t *testing.T) {
	if !DefaultShares().Platform().Equal(decimal.RequireFromString("0.15")) {
		t.Fatalf("platform=%s", DefaultShares().Platform())
	}
	bad := Shares{Seller: decimal.RequireFromString("0.9"), CollectionPoint: decimal.RequireFromString("0.2")}
	if bad.Valid() {
		t.Fatal("shares above one should be invalid")
	}
}

func TestPayoutTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusCompleted, true},
		{StatusFailed, StatusCompleted, true},
		{StatusCompleted, StatusFailed, false},
		{StatusVoided, StatusPending, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("%s->%s=%v", tt.from, tt.to, got)
		}
	}
}

type fakeStore struct {
	mu      sync.Mutex
	due     []Settleable
	done    map[string]string
	failed  map[string]string
	doneErr error
}

func (f *fakeStore) ListSettleable(context.Context, int, int) ([]Settleable, error) {
	return f.due, nil
}

func (f *fakeStore) MarkPayoutCompleted(_ context.Context, id, ref string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.doneErr != nil {
		return f.doneErr
	}
	f.done[id] = ref
	return nil
}

func (f *fakeStore) MarkPayoutFailed(_ context.Context, id, reason string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = reason
	return nil
}

func (f *fakeStore) ListPayouts(context.Context, string) ([]Payout, error) { return nil, nil }

type tempErr struct{}

func (tempErr) Error() string   { return "gateway busy" }
func (tempErr) Temporary() bool { return true }

type permErr struct{}

func (permErr) Error() string   { return "account closed" }
func (permErr) Temporary() bool { return false }

// fakeTransfers fails the configured destinations; flaky ones only once.
type fakeTransfers struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
	flaky map[string]bool
}

func (f *fakeTransfers) Transfer(_ context.Context, dest string, _ int64, key string, _ map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[dest]++
	if err, ok := f.fail[dest]; ok {
		return "", err
	}
	if f.flaky[dest] && f.calls[dest] == 1 {
		return "", tempErr{}
	}
	return "tr-" + key, nil
}

type events struct {
	mu  sync.Mutex
	got []orders.PayoutSettledPayload
}

func (e *events) Publish(_ context.Context, _, _, _ string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, payload.(orders.PayoutSettledPayload))
	return nil
}

func settleable(id, dest string) Settleable {
	return Settleable{Payout: Payout{ID: id, OrderID: "o-" + id, AmountCents: 100, Status: StatusPending}, Destination: dest}
}

func TestSettle(t *testing.T) {
	st := &fakeStore{
		due:    []Settleable{settleable("p1", "acct-ok"), settleable("p2", "acct-closed"), settleable("p3", "acct-flaky")},
		done:   map[string]string{},
		failed: map[string]string{},
	}
	tr := &fakeTransfers{
		calls: map[string]int{},
		fail:  map[string]error{"acct-closed": permErr{}},
		flaky: map[string]bool{"acct-flaky": true},
	}
	ev := &events{}
	s := &Settler{Store: st, Transfers: tr, Events: ev, Now: func() time.Time { return now }}

	rep, err := s.Settle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Completed != 2 || rep.Failed != 1 {
		t.Fatalf("report=%+v want 2 completed 1 failed", rep)
	}
	if st.done["p1"] != "tr-payout-p1" || st.done["p3"] != "tr-payout-p3" {
		t.Fatalf("completed=%v", st.done)
	}
	if st.failed["p2"] != "account closed" {
		t.Fatalf("failed=%v", st.failed)
	}
	if tr.calls["acct-closed"] != 1 {
		t.Fatalf("permanent failure retried %d times", tr.calls["acct-closed"])
	}
	if tr.calls["acct-flaky"] != 2 {
		t.Fatalf("flaky destination called %d times want 2", tr.calls["acct-flaky"])
	}
	if len(ev.got) != 3 {
		t.Fatalf("events=%d want 3", len(ev.got))
	}
}

func TestSettleCountsUnrecordedCompletionAsFailed(t *testing.T) {
	st := &fakeStore{
		due:     []Settleable{settleable("p1", "acct-ok")},
		done:    map[string]string{},
		failed:  map[string]string{},
		doneErr: errors.New("db down"),
	}
	tr := &fakeTransfers{calls: map[string]int{}}
	s := &Settler{Store: st, Transfers: tr}

	rep, err := s.Settle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Completed != 0 || rep.Failed != 1 {
		t.Fatalf("report=%+v", rep)
	}
	if len(st.failed) != 0 {
		t.Fatalf("a transferred payout must not be marked failed: %v", st.failed)
	}
}
