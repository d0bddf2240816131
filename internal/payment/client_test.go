package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/orders"
)

func TestClientIntentStatus(t *testing.T) {
	var (
		form    url.Values
		idemKey string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, _, _ := r.BasicAuth(); user != "sk_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = r.ParseForm()
		form, idemKey = r.PostForm, r.Header.Get("Idempotency-Key")
		status := "requires_payment_method"
		if form.Get("confirm") == "true" {
			status = "succeeded"
		}
		fmt.Fprintf(w, `{"id":"pi_1","amount":2500,"currency":"usd","status":%q,"client_secret":"pi_1_secret"}`, status)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "sk_test", time.Second)
	ctx := context.Background()

	in, err := c.CreateIntent(ctx, IntentRequest{
		AmountCents:    2500,
		Currency:       "usd",
		IdempotencyKey: "checkout-o1",
		Metadata:       map[string]string{"order_id": "o1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if in.Status != orders.PaymentRequiresPayment || in.ClientSecret != "pi_1_secret" {
		t.Fatalf("intent=%+v", in)
	}
	if idemKey != "checkout-o1" || form.Get("metadata[order_id]") != "o1" || form.Get("confirm") != "" {
		t.Fatalf("key=%q form=%v", idemKey, form)
	}

	// a fresh intent awaiting a card is pending, not failed
	if in, err = c.GetIntent(ctx, "pi_1"); err != nil || in.Status != orders.PaymentRequiresPayment {
		t.Fatalf("get intent=%+v err=%v", in, err)
	}

	in, err = c.CreateIntent(ctx, IntentRequest{AmountCents: 2500, Currency: "usd", PaymentMethod: "pm_card_visa", IdempotencyKey: "checkout-o2"})
	if err != nil {
		t.Fatal(err)
	}
	if in.Status != orders.PaymentSucceeded || form.Get("payment_method") != "pm_card_visa" {
		t.Fatalf("intent=%+v form=%v", in, form)
	}
}

func TestClientErrorResponse(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		body      string
		temporary bool
	}{
		{"captured intent", http.StatusBadRequest, `{"error":{"type":"invalid_request_error","message":"cannot cancel"}}`, false},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"type":"rate_limit_error"}}`, true},
		{"outage", http.StatusBadGateway, `upstream down`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			err := NewClient(srv.URL, "sk_test", time.Second).CancelIntent(context.Background(), "pi_1")
			var pe *Error
			if !errors.As(err, &pe) {
				t.Fatalf("err=%v want *Error", err)
			}
			if pe.StatusCode != tt.code || pe.Temporary() != tt.temporary {
				t.Fatalf("err=%+v temporary=%v", pe, pe.Temporary())
			}
		})
	}
}
