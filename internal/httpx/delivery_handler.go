package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type assignReq struct {
	FulfillerID string `json:"fulfiller_id"`
}

type pickupReq struct {
	OrderID string `json:"order_id"`
}

func (a *API) getBatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	b, err := a.Delivery.GetBatch(ctx, viewer(r), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) getStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	s, err := a.Delivery.GetStop(ctx, viewer(r), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) assignBatch(w http.ResponseWriter, r *http.Request) {
	var req assignReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	if _, err := a.Delivery.Assign(ctx, id, req.FulfillerID); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.respondBatch(ctx, w, r, id)
}

func (a *API) startBatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	if _, err := a.Delivery.Start(ctx, id, viewer(r).UserID); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.respondBatch(ctx, w, r, id)
}

// respondBatch re-reads the batch so stop addresses go through the gate.
func (a *API) respondBatch(ctx context.Context, w http.ResponseWriter, r *http.Request, id string) {
	b, err := a.Delivery.GetBatch(ctx, viewer(r), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) confirmPickup(w http.ResponseWriter, r *http.Request) {
	var req pickupReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	s, err := a.Delivery.ConfirmPickup(ctx, chi.URLParam(r, "id"), req.OrderID, viewer(r).UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) arriveStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	s, err := a.Delivery.Arrive(ctx, chi.URLParam(r, "id"), viewer(r).UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) deliverStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	s, err := a.Delivery.Deliver(ctx, chi.URLParam(r, "id"), viewer(r).UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
