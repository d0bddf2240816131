package payment

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-fresh-orders/internal/orders"
	"github.com/google/uuid"
)

// Mock is an in-process gateway for local runs and tests. It follows the
// real provider where callers can tell: the same idempotency key returns
// the same object, an intent created with a payment method is captured at
// once, and a captured intent cannot be canceled.
type Mock struct {
	mu         sync.Mutex
	intents    map[string]*Intent
	byKey      map[string]string
	Refunds    []Refund
	Transfers  map[string]string // idempotency key -> transfer id
	Fail       error             // when set, every call returns it
	FailRefund error             // when set, Refund returns it
}

func NewMock() *Mock {
	return &Mock{
		intents:   map[string]*Intent{},
		byKey:     map[string]string{},
		Transfers: map[string]string{},
	}
}

func (m *Mock) CreateIntent(_ context.Context, req IntentRequest) (Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return Intent{}, m.Fail
	}
	if id, ok := m.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return *m.intents[id], nil
	}
	id := "pi_" + uuid.NewString()
	st := orders.PaymentRequiresPayment
	if req.PaymentMethod != "" {
		st = orders.PaymentSucceeded
	}
	in := &Intent{
		ID:           id,
		AmountCents:  req.AmountCents,
		Currency:     req.Currency,
		Status:       st,
		ClientSecret: id + "_secret_" + uuid.NewString()[:8],
		Metadata:     req.Metadata,
	}
	m.intents[id] = in
	if req.IdempotencyKey != "" {
		m.byKey[req.IdempotencyKey] = id
	}
	return *in, nil
}

func (m *Mock) GetIntent(_ context.Context, intentID string) (Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return Intent{}, m.Fail
	}
	in, ok := m.intents[intentID]
	if !ok {
		return Intent{}, &Error{StatusCode: 404, Type: "invalid_request_error", Message: "no such payment_intent"}
	}
	return *in, nil
}

func (m *Mock) CancelIntent(_ context.Context, intentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	in, ok := m.intents[intentID]
	if !ok {
		return &Error{StatusCode: 404, Type: "invalid_request_error", Message: "no such payment_intent"}
	}
	if in.Status == orders.PaymentSucceeded {
		return &Error{StatusCode: 400, Type: "invalid_request_error", Message: "payment_intent has status succeeded and cannot be canceled"}
	}
	in.Status = orders.PaymentCanceled
	return nil
}

// SetStatus simulates the provider moving an intent, e.g. after card capture.
func (m *Mock) SetStatus(intentID string, st orders.PaymentStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in, ok := m.intents[intentID]; ok {
		in.Status = st
	}
}

func (m *Mock) Refund(_ context.Context, intentID string, amountCents int64, idempotencyKey string) (Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return Refund{}, m.Fail
	}
	if m.FailRefund != nil {
		return Refund{}, m.FailRefund
	}
	for _, r := range m.Refunds {
		if r.ID == "re_"+idempotencyKey {
			return r, nil
		}
	}
	r := Refund{ID: "re_" + idempotencyKey, AmountCents: amountCents, Status: "succeeded"}
	m.Refunds = append(m.Refunds, r)
	return r, nil
}

func (m *Mock) Transfer(_ context.Context, _ string, _ int64, idempotencyKey string, _ map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return "", m.Fail
	}
	if ref, ok := m.Transfers[idempotencyKey]; ok {
		return ref, nil
	}
	ref := "tr_" + uuid.NewString()
	m.Transfers[idempotencyKey] = ref
	return ref, nil
}
