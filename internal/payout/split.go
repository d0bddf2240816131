// Package payout computes revenue splits and settles them to recipients.
package payout

import (
	"sort"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RecipientType string

const (
	RecipientSeller    RecipientType = "seller"
	RecipientFulfiller RecipientType = "fulfiller"
)

type Kind string

const (
	KindSale       Kind = "sale"
	KindCollection Kind = "collection"
	KindTip        Kind = "tip"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusVoided    Status = "voided"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusCompleted: true, StatusFailed: true, StatusVoided: true},
	StatusFailed:    {StatusCompleted: true, StatusFailed: true, StatusVoided: true},
	StatusCompleted: {},
	StatusVoided:    {},
}

func CanTransition(from, to Status) bool { return validNext[from][to] }

type Payout struct {
	ID            string        `json:"id"`
	OrderID       string        `json:"order_id"`
	RecipientID   string        `json:"recipient_id,omitempty"` // empty until a fulfiller is assigned
	RecipientType RecipientType `json:"recipient_type"`
	Kind          Kind          `json:"kind"`
	AmountCents   int64         `json:"amount_cents"`
	Status        Status        `json:"status"`
	Attempts      int           `json:"attempts"`
	LastError     string        `json:"last_error,omitempty"`
	TransferRef   string        `json:"transfer_ref,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Shares are fractions of the order subtotal. Whatever the rounded seller
// and collection amounts leave behind is the platform fee.
type Shares struct {
	Seller          decimal.Decimal
	CollectionPoint decimal.Decimal
}

func DefaultShares() Shares {
	return Shares{
		Seller:          decimal.RequireFromString("0.80"),
		CollectionPoint: decimal.RequireFromString("0.05"),
	}
}

// Platform is the nominal platform share before rounding.
func (s Shares) Platform() decimal.Decimal {
	return decimal.NewFromInt(1).Sub(s.Seller).Sub(s.CollectionPoint)
}

func (s Shares) Valid() bool {
	return !s.Seller.IsNegative() && !s.CollectionPoint.IsNegative() && !s.Platform().IsNegative()
}

// Split is deterministic for a given order: one sale payout per seller (in
// seller id order), one collection-point payout and one tip payout.
// Amounts are floored to the cent.
func Split(o orders.Order, items []orders.OrderItem, collectionPointID string, shares Shares, now time.Time) []Payout {
	bySeller := map[string]int64{}
	for _, it := range items {
		bySeller[it.SellerID] += it.SubtotalCents
	}
	sellers := make([]string, 0, len(bySeller))
	for id := range bySeller {
		sellers = append(sellers, id)
	}
	sort.Strings(sellers)

	var out []Payout
	add := func(recipient string, rt RecipientType, k Kind, amount int64) {
		if amount <= 0 {
			return
		}
		out = append(out, Payout{
			ID:            uuid.NewString(),
			OrderID:       o.ID,
			RecipientID:   recipient,
			RecipientType: rt,
			Kind:          k,
			AmountCents:   amount,
			Status:        StatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	for _, id := range sellers {
		add(id, RecipientSeller, KindSale, share(bySeller[id], shares.Seller))
	}
	if collectionPointID != "" {
		add(collectionPointID, RecipientSeller, KindCollection, share(o.SubtotalCents, shares.CollectionPoint))
	}
	add("", RecipientFulfiller, KindTip, o.TipCents)
	return out
}

// PlatformFee is what the platform keeps from the subtotal.
func PlatformFee(subtotal int64, payouts []Payout) int64 {
	fee := subtotal
	for _, p := range payouts {
		if p.Kind != KindTip {
			fee -= p.AmountCents
		}
	}
	return fee
}

func share(cents int64, frac decimal.Decimal) int64 {
	return decimal.NewFromInt(cents).Mul(frac).Floor().IntPart()
}
