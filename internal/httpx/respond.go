package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/auth"
	"github.com/ariefcatur/go-fresh-orders/internal/checkout"
	"github.com/ariefcatur/go-fresh-orders/internal/visibility"
)

const maxBody = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

func statusFor(e *apperr.Error) int {
	switch e.Kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuth:
		switch e.Code {
		case apperr.CodeForbidden:
			return http.StatusForbidden
		case apperr.CodeInvalidSignature:
			return http.StatusBadRequest
		}
		return http.StatusUnauthorized
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindBusiness:
		if e.Code == apperr.CodeInvalidStatus {
			return http.StatusConflict
		}
		return http.StatusUnprocessableEntity
	case apperr.KindContention:
		switch e.Code {
		case apperr.CodeTooManyRequests:
			return http.StatusTooManyRequests
		case apperr.CodeOrderNotReady:
			return http.StatusServiceUnavailable
		}
		return http.StatusConflict
	case apperr.KindExternal:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.From(err)
	code := statusFor(e)
	msg := e.Message
	switch e.Kind {
	case apperr.KindIntegrity:
		a.Logger.Error("integrity violation", "integrity", true, "path", r.URL.Path, "err", err)
	case apperr.KindInternal:
		a.Logger.Error("request failed", "path", r.URL.Path, "err", err)
		msg = "internal error"
	}
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(e.RetryAfter.Seconds()))))
	}
	writeJSON(w, code, errorBody{Error: errorDetail{Code: e.Code, Message: msg}})
}

func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
	if errors.Is(err, io.EOF) {
		return apperr.Validation("body", "required")
	}
	if err != nil {
		return apperr.Validation("body", "invalid json")
	}
	return nil
}

func viewer(r *http.Request) visibility.Viewer {
	v, _ := auth.FromContext(r.Context())
	return v
}

func actor(r *http.Request) checkout.Actor {
	v := viewer(r)
	return checkout.Actor{UserID: v.UserID, Admin: v.Role == visibility.RoleAdmin}
}
