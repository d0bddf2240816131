package orders

import (
	"context"
	"encoding/json"
	"time"
)

const (
	EventOrderConfirmed  = "OrderConfirmed"
	EventOrderCancelled  = "OrderCancelled"
	EventRefundRequested = "RefundRequested"
	EventStopDelivered   = "StopDelivered"
	EventBatchCompleted  = "BatchCompleted"
	EventPayoutSettled   = "PayoutSettled"
	EventAddressRevealed = "AddressRevealed"
	EventCreditsAwarded  = "CreditsAwarded"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually the order id
	Payload       json.RawMessage `json:"payload"`
}

// Publisher emits domain events. Implementations must not block the caller
// on broker availability.
type Publisher interface {
	Publish(ctx context.Context, topic, key, eventType string, payload any) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, string, string, any) error { return nil }

// ---- payloads ----

type OrderConfirmedPayload struct {
	OrderID       string    `json:"order_id"`
	BuyerID       string    `json:"buyer_id"`
	SubtotalCents int64     `json:"subtotal_cents"`
	TotalCents    int64     `json:"total_cents"`
	DeliveryDate  time.Time `json:"delivery_date"`
}

type OrderCancelledPayload struct {
	OrderID       string `json:"order_id"`
	BuyerID       string `json:"buyer_id"`
	Reason        string `json:"reason"`
	RefundCents   int64  `json:"refund_cents"`
	CreditsCents  int64  `json:"credits_cents"`
	PaymentIntent string `json:"payment_intent,omitempty"`
}

type RefundRequestedPayload struct {
	OrderID        string `json:"order_id"`
	PaymentIntent  string `json:"payment_intent"`
	AmountCents    int64  `json:"amount_cents"`
	IdempotencyKey string `json:"idempotency_key"`
}

type StopDeliveredPayload struct {
	BatchID     string    `json:"batch_id"`
	StopID      string    `json:"stop_id"`
	OrderID     string    `json:"order_id"`
	BuyerID     string    `json:"buyer_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

type BatchCompletedPayload struct {
	BatchID     string    `json:"batch_id"`
	FulfillerID string    `json:"fulfiller_id"`
	CompletedAt time.Time `json:"completed_at"`
}

type PayoutSettledPayload struct {
	PayoutID    string `json:"payout_id"`
	OrderID     string `json:"order_id"`
	RecipientID string `json:"recipient_id"`
	AmountCents int64  `json:"amount_cents"`
	Status      string `json:"status"`
	TransferRef string `json:"transfer_ref,omitempty"`
	Error       string `json:"error,omitempty"`
}

type AddressRevealedPayload struct {
	BatchID string    `json:"batch_id"`
	StopID  string    `json:"stop_id"`
	OrderID string    `json:"order_id"`
	At      time.Time `json:"at"`
}

type CreditsAwardedPayload struct {
	BuyerID     string `json:"buyer_id"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference"`
}
