package httpx

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/checkout"
	"github.com/ariefcatur/go-fresh-orders/internal/payment"
	"github.com/go-chi/chi/v5"
)

type addCartItemReq struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (a *API) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := a.Inventory.Products(ctx)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (a *API) getCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	c, err := a.Checkout.Cart(ctx, viewer(r).UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req addCartItemReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	c, err := a.Checkout.AddToCart(ctx, viewer(r).UserID, req.ProductID, req.Quantity)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	req.BuyerID = viewer(r).UserID

	// the gateway call carries its own timeout
	ctx, cancel := context.WithTimeout(r.Context(), 12*time.Second)
	defer cancel()

	res, err := a.Checkout.Checkout(ctx, req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	code := http.StatusCreated
	if res.Existing {
		code = http.StatusOK
	}
	writeJSON(w, code, res)
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := a.Checkout.GetOrder(ctx, chi.URLParam(r, "id"), actor(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 12*time.Second)
	defer cancel()

	o, err := a.Checkout.Cancel(ctx, chi.URLParam(r, "id"), actor(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// confirmPayment lets the client poll the gateway instead of waiting for
// the webhook.
func (a *API) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 12*time.Second)
	defer cancel()

	o, err := a.Checkout.ConfirmPayment(ctx, chi.URLParam(r, "id"), actor(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// paymentWebhook answers 2xx for anything it has durably handled or chosen
// to ignore. Retryable failures get a 5xx so the provider redelivers.
func (a *API) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		a.writeError(w, r, apperr.Validation("body", "too large"))
		return
	}
	if err := a.Webhooks.Verify(body, r.Header.Get(payment.SignatureHeader)); err != nil {
		a.Logger.Warn("webhook rejected", "err", err)
		a.writeError(w, r, err)
		return
	}
	ev, err := payment.ParseEvent(body)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := a.Checkout.HandlePaymentEvent(ctx, ev); err != nil {
		e := apperr.From(err)
		if e.Retryable() || e.Kind == apperr.KindInternal {
			a.writeError(w, r, err)
			return
		}
		// the event is final for us; a redelivery would fail the same way
		a.Logger.Warn("payment event not applied", "event_id", ev.ID, "code", e.Code, "err", err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
