package checkout

import (
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/orders"
)

func TestPrice(t *testing.T) {
	tests := []struct {
		name                   string
		subtotal, fee, tip     int64
		useCredits             bool
		requested, spendable   int64
		wantCredits, wantTotal int64
	}{
		{"no credits", 5000, 750, 500, false, 0, 6000, 0, 6250},
		{"requested below spendable", 5000, 750, 500, true, 6000, 9000, 6000, 250},
		{"requested above spendable", 5000, 750, 0, true, 6000, 1000, 1000, 4750},
		{"all spendable", 3000, 750, 0, true, 0, 1200, 1200, 2550},
		{"credits cover everything", 3000, 750, 250, true, 0, 10000, 4000, 0},
		{"flag off ignores request", 3000, 750, 0, false, 500, 500, 0, 3750},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Price(tt.subtotal, tt.fee, tt.tip, tt.useCredits, tt.requested, tt.spendable)
			if q.CreditsCents != tt.wantCredits || q.TotalCents != tt.wantTotal {
				t.Fatalf("credits=%d total=%d want %d/%d", q.CreditsCents, q.TotalCents, tt.wantCredits, tt.wantTotal)
			}
			if q.SubtotalCents+q.DeliveryFeeCents+q.TipCents-q.CreditsCents != q.TotalCents {
				t.Fatalf("quote does not add up: %+v", q)
			}
		})
	}
}

func TestDeliveryDate(t *testing.T) {
	m := orders.Market{
		Timezone:     "America/Chicago",
		CutoffHour:   20,
		DeliveryDays: []time.Weekday{time.Tuesday, time.Friday},
	}
	chicago, _ := time.LoadLocation("America/Chicago")
	tests := []struct {
		name string
		raw  string
		now  time.Time
		want *apperr.Error
	}{
		{"open", "2026-03-06", time.Date(2026, 3, 4, 12, 0, 0, 0, chicago), nil},
		{"just before cutoff", "2026-03-06", time.Date(2026, 3, 5, 19, 59, 0, 0, chicago), nil},
		{"at cutoff", "2026-03-06", time.Date(2026, 3, 5, 20, 0, 0, 0, chicago), apperr.ErrCutoffPassed},
		{"not a delivery day", "2026-03-05", time.Date(2026, 3, 2, 12, 0, 0, 0, chicago), apperr.ErrInvalidDeliveryDate},
		{"today", "2026-03-06", time.Date(2026, 3, 6, 1, 0, 0, 0, chicago), apperr.ErrInvalidDeliveryDate},
		{"past", "2026-03-03", time.Date(2026, 3, 4, 12, 0, 0, 0, chicago), apperr.ErrInvalidDeliveryDate},
		{"malformed", "03/06/2026", time.Date(2026, 3, 4, 12, 0, 0, 0, chicago), apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := DeliveryDate(m, tt.raw, tt.now)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("err=%v", err)
				}
				if d.Format(dateLayout) != tt.raw || d.Location().String() != "America/Chicago" {
					t.Fatalf("date=%v", d)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("err=%v want %s", err, tt.want.Code)
			}
		})
	}
}
