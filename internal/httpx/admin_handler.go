package httpx

import (
	"context"
	"net/http"

	"github.com/ariefcatur/go-fresh-orders/internal/delivery"
	"github.com/ariefcatur/go-fresh-orders/internal/payout"
)

// jobContext detaches a job run from the request that started it. Other
// callers may be sharing the run, so one client going away must not end it.
func jobContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

type generateReq struct {
	DeliveryDate string `json:"delivery_date"` // empty: every locked date
}

// generateBatches runs the same job the worker schedules. A run already in
// progress elsewhere answers 409.
func (a *API) generateBatches(w http.ResponseWriter, r *http.Request) {
	var req generateReq
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			a.writeError(w, r, err)
			return
		}
	}
	v, err := a.Jobs.Do(jobContext(r), "generate-batches", func(ctx context.Context) (any, error) {
		if _, err := a.Delivery.LockDue(ctx); err != nil {
			return nil, err
		}
		return a.Delivery.Generate(ctx, req.DeliveryDate)
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	rep, _ := v.(delivery.GenerateReport)
	writeJSON(w, http.StatusOK, rep)
}

func (a *API) settlePayouts(w http.ResponseWriter, r *http.Request) {
	v, err := a.Jobs.Do(jobContext(r), "settle-payouts", func(ctx context.Context) (any, error) {
		return a.Settler.Settle(ctx)
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	rep, _ := v.(payout.Report)
	writeJSON(w, http.StatusOK, rep)
}
