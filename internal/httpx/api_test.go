package httpx_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/auth"
	"github.com/ariefcatur/go-fresh-orders/internal/checkout"
	"github.com/ariefcatur/go-fresh-orders/internal/credits"
	"github.com/ariefcatur/go-fresh-orders/internal/delivery"
	"github.com/ariefcatur/go-fresh-orders/internal/httpx"
	"github.com/ariefcatur/go-fresh-orders/internal/inventory"
	"github.com/ariefcatur/go-fresh-orders/internal/jobs"
	"github.com/ariefcatur/go-fresh-orders/internal/memstore"
	"github.com/ariefcatur/go-fresh-orders/internal/orders"
	"github.com/ariefcatur/go-fresh-orders/internal/payment"
	"github.com/ariefcatur/go-fresh-orders/internal/payout"
	"github.com/ariefcatur/go-fresh-orders/internal/visibility"
)

const (
	jwtSecret     = "jwt-secret"
	webhookSecret = "whsec"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

type server struct {
	h     http.Handler
	gw    *payment.Mock
	clock *clock
}

func newServer(t *testing.T) *server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memstore.New()
	st.PutMarket(orders.Market{
		ID:                "m-east",
		Region:            "east",
		Timezone:          "UTC",
		CutoffHour:        18,
		DeliveryDays:      []time.Weekday{time.Thursday},
		MinimumOrderCents: 2500,
		DeliveryFeeCents:  750,
		CollectionPointID: "cp-1",
		CollectionAddress: orders.Address{Street: "9 Depot Rd", City: "Springfield", State: "IL", Zip: "62700"},
	})
	st.PutProfile(orders.Profile{
		BuyerID: "buyer-1",
		Region:  "east",
		Address: orders.Address{Street: "1 Main St", City: "Springfield", State: "IL", Zip: "62701"},
	})
	st.PutProduct(orders.Product{ID: "apples", SellerID: "seller-1", Name: "Apples", UnitPriceCents: 1000, AvailableQuantity: 10, Approved: true})

	clk := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	gw := payment.NewMock()
	inv := inventory.New(st, logger)
	cr := credits.New(st, logger)
	cr.Now = clk.Now
	co := checkout.New(st, inv, cr, gw, nil, logger)
	co.Now = clk.Now
	dl := delivery.New(st, nil, logger)
	dl.Now = clk.Now

	api := &httpx.API{
		Checkout:  co,
		Delivery:  dl,
		Credits:   cr,
		Inventory: inv,
		Settler:   &payout.Settler{Store: st, Transfers: gw, Logger: logger},
		Jobs:      jobs.NewRunner(nil, logger),
		Webhooks:  payment.Verifier{Secret: webhookSecret},
		Auth:      auth.NewVerifier(jwtSecret),
		Logger:    logger,
	}
	r := httpx.NewRouter(nil)
	api.Register(r)
	return &server{h: r, gw: gw, clock: clk}
}

func bearer(t *testing.T, userID string, role visibility.Role) string {
	t.Helper()
	tok, err := auth.Issue(jwtSecret, userID, role, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + tok
}

func (s *server) do(t *testing.T, method, path, authz string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody[struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}](t, rec)
	return body.Error.Code
}

func TestAccessControl(t *testing.T) {
	s := newServer(t)
	buyer := bearer(t, "buyer-1", visibility.RoleBuyer)
	fulfiller := bearer(t, "f1", visibility.RoleFulfiller)

	tests := []struct {
		name, method, path, authz string
		want                      int
	}{
		{"health", http.MethodGet, "/healthz", "", http.StatusOK},
		{"no token", http.MethodGet, "/v1/cart", "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/v1/cart", "Bearer x.y.z", http.StatusUnauthorized},
		{"buyer cart", http.MethodGet, "/v1/cart", buyer, http.StatusOK},
		{"fulfiller has no cart", http.MethodGet, "/v1/cart", fulfiller, http.StatusForbidden},
		{"buyer cannot generate", http.MethodPost, "/v1/admin/batches/generate", buyer, http.StatusForbidden},
		{"buyer cannot start batches", http.MethodPost, "/v1/batches/b1/start", buyer, http.StatusForbidden},
		{"unknown order", http.MethodGet, "/v1/orders/nope", buyer, http.StatusNotFound},
		{"products", http.MethodGet, "/v1/products", fulfiller, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.authz, nil)
			if rec.Code != tt.want {
				t.Fatalf("status=%d want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestCheckoutValidationErrors(t *testing.T) {
	s := newServer(t)
	buyer := bearer(t, "buyer-1", visibility.RoleBuyer)

	rec := s.do(t, http.MethodPost, "/v1/checkout", buyer, nil)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "VALIDATION_ERROR" {
		t.Fatalf("empty body: %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodPost, "/v1/cart/items", buyer, map[string]any{"product_id": "apples", "quantity": 1})
	cart := decodeBody[orders.Cart](t, rec)
	rec = s.do(t, http.MethodPost, "/v1/checkout", buyer, map[string]any{"cart_id": cart.ID, "delivery_date": "2026-03-05"})
	if rec.Code != http.StatusUnprocessableEntity || errorCode(t, rec) != "BELOW_MINIMUM_ORDER" {
		t.Fatalf("below minimum: %d %s", rec.Code, rec.Body.String())
	}
}

func signedWebhook(t *testing.T, s *server, body []byte, secret string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/payments", bytes.NewReader(body))
	req.Header.Set(payment.SignatureHeader, payment.SignatureHeaderValue(secret, time.Now(), body))
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func TestCheckoutWebhookAndBatchRedaction(t *testing.T) {
	s := newServer(t)
	buyer := bearer(t, "buyer-1", visibility.RoleBuyer)
	admin := bearer(t, "admin-1", visibility.RoleAdmin)
	fulfiller := bearer(t, "f1", visibility.RoleFulfiller)

	rec := s.do(t, http.MethodPost, "/v1/cart/items", buyer, map[string]any{"product_id": "apples", "quantity": 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: %d %s", rec.Code, rec.Body.String())
	}
	cart := decodeBody[orders.Cart](t, rec)

	req := map[string]any{"cart_id": cart.ID, "delivery_date": "2026-03-05", "tip_amount": 200}
	rec = s.do(t, http.MethodPost, "/v1/checkout", buyer, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: %d %s", rec.Code, rec.Body.String())
	}
	res := decodeBody[checkout.Result](t, rec)
	if res.AmountCharged != 3950 || res.Status != orders.StatusPendingPayment || res.ClientSecret == "" {
		t.Fatalf("result=%+v", res)
	}

	// the same cart again resumes the pending order
	rec = s.do(t, http.MethodPost, "/v1/checkout", buyer, req)
	if rec.Code != http.StatusOK || decodeBody[checkout.Result](t, rec).OrderID != res.OrderID {
		t.Fatalf("repeat checkout: %d %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(t, http.MethodGet, "/v1/orders/"+res.OrderID, bearer(t, "buyer-2", visibility.RoleBuyer), nil); rec.Code != http.StatusNotFound {
		t.Fatalf("other buyer saw the order: %d", rec.Code)
	}

	o := decodeBody[orders.Order](t, s.do(t, http.MethodGet, "/v1/orders/"+res.OrderID, buyer, nil))
	event := []byte(fmt.Sprintf(`{"id":"evt_1","type":"payment_intent.succeeded","created":%d,
		"data":{"object":{"id":%q,"amount":3950,"status":"succeeded","metadata":{"order_id":%q}}}}`,
		time.Now().Unix(), o.PaymentIntentID, o.ID))

	rec = signedWebhook(t, s, event, "wrong-secret")
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "INVALID_SIGNATURE" {
		t.Fatalf("bad signature: %d %s", rec.Code, rec.Body.String())
	}
	for i := 0; i < 2; i++ {
		if rec := signedWebhook(t, s, event, webhookSecret); rec.Code != http.StatusOK {
			t.Fatalf("webhook delivery %d: %d %s", i, rec.Code, rec.Body.String())
		}
	}
	o = decodeBody[orders.Order](t, s.do(t, http.MethodGet, "/v1/orders/"+res.OrderID, buyer, nil))
	if o.Status != orders.StatusConfirmed || o.PaymentStatus != orders.PaymentSucceeded {
		t.Fatalf("order=%s/%s after webhook", o.Status, o.PaymentStatus)
	}

	// Wednesday evening, past the cutoff
	s.clock.t = time.Date(2026, 3, 4, 19, 0, 0, 0, time.UTC)
	rec = s.do(t, http.MethodPost, "/v1/admin/batches/generate", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate: %d %s", rec.Code, rec.Body.String())
	}
	rep := decodeBody[delivery.GenerateReport](t, rec)
	if len(rep.Batches) != 1 || rep.Orders != 1 {
		t.Fatalf("report=%+v", rep)
	}
	path := "/v1/batches/" + rep.Batches[0]

	rec = s.do(t, http.MethodGet, path, fulfiller, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("fulfiller batch: %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "1 Main St") || !strings.Contains(rec.Body.String(), `"redacted":true`) {
		t.Fatalf("address leaked before pickup: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "9 Depot Rd") {
		t.Fatalf("collection address hidden: %s", rec.Body.String())
	}
	if rec := s.do(t, http.MethodGet, path, admin, nil); !strings.Contains(rec.Body.String(), "1 Main St") {
		t.Fatalf("admin view redacted: %s", rec.Body.String())
	}
	if rec := s.do(t, http.MethodGet, path, buyer, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("buyer batch view: %d", rec.Code)
	}

	if rec := s.do(t, http.MethodPost, path+"/assign", admin, map[string]string{"fulfiller_id": "f1"}); rec.Code != http.StatusOK {
		t.Fatalf("assign: %d %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(t, http.MethodPost, path+"/start", fulfiller, nil); rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodPost, path+"/pickups", fulfiller, map[string]string{"order_id": o.ID})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "1 Main St") {
		t.Fatalf("pickup: %d %s", rec.Code, rec.Body.String())
	}
}

func TestWebhookBeforeOrderCommitIsRedelivered(t *testing.T) {
	s := newServer(t)
	event := func(id string, created time.Time) []byte {
		return []byte(fmt.Sprintf(`{"id":%q,"type":"payment_intent.succeeded","created":%d,
			"data":{"object":{"id":"pi_early","amount":3950,"status":"succeeded","metadata":{"order_id":"o-early"}}}}`,
			id, created.Unix()))
	}

	rec := signedWebhook(t, s, event("evt_early", s.clock.t), webhookSecret)
	if rec.Code != http.StatusServiceUnavailable || errorCode(t, rec) != "ORDER_NOT_READY" {
		t.Fatalf("fresh event: %d %s", rec.Code, rec.Body.String())
	}
	// long past any checkout that could still commit
	rec = signedWebhook(t, s, event("evt_stale", s.clock.t.Add(-2*time.Hour)), webhookSecret)
	if rec.Code != http.StatusOK {
		t.Fatalf("stale event: %d %s", rec.Code, rec.Body.String())
	}
}

func TestAdminJobOutlivesCallerDisconnect(t *testing.T) {
	s := newServer(t)
	buyer := bearer(t, "buyer-1", visibility.RoleBuyer)
	admin := bearer(t, "admin-1", visibility.RoleAdmin)

	rec := s.do(t, http.MethodPost, "/v1/cart/items", buyer, map[string]any{"product_id": "apples", "quantity": 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: %d %s", rec.Code, rec.Body.String())
	}
	cart := decodeBody[orders.Cart](t, rec)
	rec = s.do(t, http.MethodPost, "/v1/checkout", buyer, map[string]any{
		"cart_id": cart.ID, "delivery_date": "2026-03-05", "payment_method_id": "pm_card_visa",
	})
	if rec.Code != http.StatusCreated || decodeBody[checkout.Result](t, rec).Status != orders.StatusConfirmed {
		t.Fatalf("checkout: %d %s", rec.Code, rec.Body.String())
	}

	s.clock.t = time.Date(2026, 3, 4, 19, 0, 0, 0, time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/batches/generate", nil).WithContext(ctx)
	req.Header.Set("Authorization", admin)
	rec = httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate: %d %s", rec.Code, rec.Body.String())
	}
	if rep := decodeBody[delivery.GenerateReport](t, rec); len(rep.Batches) != 1 || rep.Orders != 1 {
		t.Fatalf("report=%+v", rep)
	}
}
