package apperr

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("checkout: %w", WithMessage(ErrCutoffPassed, "cutoff was 18:00"))
	if !errors.Is(err, ErrCutoffPassed) {
		t.Fatal("wrapped copy should match its sentinel")
	}
	if errors.Is(err, ErrInvalidDeliveryDate) {
		t.Fatal("different code matched")
	}
	if CodeOf(err) != CodeCutoffPassed {
		t.Fatalf("code=%s", CodeOf(err))
	}
	if CodeOf(nil) != "" {
		t.Fatal("nil has a code")
	}
}

func TestFrom(t *testing.T) {
	plain := errors.New("boom")
	e := From(plain)
	if e.Code != CodeInternal || e.Kind != KindInternal || !errors.Is(e, plain) {
		t.Fatalf("from plain=%+v", e)
	}
	v := Validation("quantity", "must be positive")
	if From(fmt.Errorf("x: %w", v)) != v {
		t.Fatal("From should unwrap to the original *Error")
	}
	if v.Message != "quantity: must be positive" {
		t.Fatalf("message=%q", v.Message)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  *Error
		want bool
	}{
		{ErrInsufficientInventory, true},
		{ErrPaymentUnavailable, true},
		{ErrCheckoutInProgress, true},
		{ErrCutoffPassed, false},
		{ErrValidation, false},
		{ErrIntegrity, false},
	}
	for _, tt := range tests {
		if got := tt.err.Retryable(); got != tt.want {
			t.Fatalf("%s retryable=%v", tt.err.Code, got)
		}
	}
}

func TestTooManyRequestsDoesNotMutateSentinel(t *testing.T) {
	e := TooManyRequests(3 * time.Second)
	if e.RetryAfter != 3*time.Second || ErrTooManyRequests.RetryAfter != 0 {
		t.Fatalf("retry after=%v sentinel=%v", e.RetryAfter, ErrTooManyRequests.RetryAfter)
	}
	if !errors.Is(e, ErrTooManyRequests) {
		t.Fatal("copy should match sentinel")
	}
}

func TestKindString(t *testing.T) {
	if KindContention.String() != "contention" || Kind(99).String() != "internal" {
		t.Fatal("kind names")
	}
}
