// Package payment is the boundary to the card processor.
package payment

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-fresh-orders/internal/orders"
)

type Intent struct {
	ID           string               `json:"id"`
	AmountCents  int64                `json:"amount"`
	Currency     string               `json:"currency"`
	Status       orders.PaymentStatus `json:"status"`
	ClientSecret string               `json:"client_secret"`
	Metadata     map[string]string    `json:"metadata,omitempty"`
}

type IntentRequest struct {
	AmountCents    int64
	Currency       string
	CustomerRef    string
	PaymentMethod  string
	IdempotencyKey string
	Metadata       map[string]string
}

type Refund struct {
	ID          string `json:"id"`
	AmountCents int64  `json:"amount"`
	Status      string `json:"status"`
}

// Gateway calls are interactive: no retries here, callers get the error.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	GetIntent(ctx context.Context, intentID string) (Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
	Refund(ctx context.Context, intentID string, amountCents int64, idempotencyKey string) (Refund, error)
	Transfer(ctx context.Context, destination string, amountCents int64, idempotencyKey string, metadata map[string]string) (string, error)
}

// Error is returned for non-2xx provider responses.
type Error struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("payment provider: %d %s: %s", e.StatusCode, e.Type, e.Message)
}

// Temporary reports whether a retry may succeed.
func (e *Error) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// normalizeStatus maps provider intent states onto ours. Every state short
// of a terminal one, requires_payment_method included, is still payable;
// failed is only ever reported by a payment_failed event.
func normalizeStatus(s string) orders.PaymentStatus {
	switch s {
	case "succeeded":
		return orders.PaymentSucceeded
	case "canceled":
		return orders.PaymentCanceled
	default:
		return orders.PaymentRequiresPayment
	}
}
