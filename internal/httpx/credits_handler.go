package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/credits"
)

type awardReq struct {
	ConsumerID    string       `json:"consumer_id"`
	Amount        int64        `json:"amount"`
	Type          credits.Type `json:"transaction_type"`
	Description   string       `json:"description"`
	ExpiresInDays int          `json:"expires_in_days"`
	Reference     string       `json:"reference"`
}

func (a *API) creditBalance(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	b, err := a.Credits.Balance(ctx, viewer(r).UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) creditHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	es, err := a.Credits.History(ctx, viewer(r).UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if es == nil {
		es = []credits.Entry{}
	}
	writeJSON(w, http.StatusOK, es)
}

func (a *API) awardCredits(w http.ResponseWriter, r *http.Request) {
	var req awardReq
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	e, err := a.Credits.Award(ctx, credits.AwardInput{
		BuyerID:       req.ConsumerID,
		AmountCents:   req.Amount,
		Type:          req.Type,
		Description:   req.Description,
		ExpiresInDays: req.ExpiresInDays,
		Reference:     req.Reference,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}
