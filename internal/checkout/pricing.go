package checkout

import (
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/orders"
)

type Quote struct {
	SubtotalCents    int64 `json:"subtotal_cents"`
	DeliveryFeeCents int64 `json:"delivery_fee_cents"`
	TipCents         int64 `json:"tip_cents"`
	CreditsCents     int64 `json:"credits_cents"`
	TotalCents       int64 `json:"total_cents"`
}

// Price applies credits after fee and tip. requested == 0 with useCredits
// means "as much as is spendable". Credits never push the total below zero.
func Price(subtotal, fee, tip int64, useCredits bool, requested, spendable int64) Quote {
	q := Quote{SubtotalCents: subtotal, DeliveryFeeCents: fee, TipCents: tip}
	gross := subtotal + fee + tip
	if useCredits {
		c := spendable
		if requested > 0 {
			c = min(c, requested)
		}
		q.CreditsCents = max(0, min(c, gross))
	}
	q.TotalCents = gross - q.CreditsCents
	return q
}

const dateLayout = "2006-01-02"

// DeliveryDate parses raw in the market's zone and checks it against the
// delivery-day whitelist and the cutoff for that date.
func DeliveryDate(m orders.Market, raw string, now time.Time) (time.Time, error) {
	loc := m.Location()
	d, err := time.ParseInLocation(dateLayout, raw, loc)
	if err != nil {
		return time.Time{}, apperr.Validation("delivery_date", "expected YYYY-MM-DD")
	}
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if !d.After(today) || !m.DeliversOn(d.Weekday()) {
		return time.Time{}, apperr.WithMessage(apperr.ErrInvalidDeliveryDate,
			"no delivery on "+raw)
	}
	if !now.Before(m.CutoffFor(d)) {
		return time.Time{}, apperr.WithMessage(apperr.ErrCutoffPassed,
			"ordering for "+raw+" closed at "+m.CutoffFor(d).Format(time.RFC3339))
	}
	return d, nil
}
