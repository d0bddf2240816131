package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/auth"
	"github.com/ariefcatur/go-fresh-orders/internal/checkout"
	"github.com/ariefcatur/go-fresh-orders/internal/credits"
	"github.com/ariefcatur/go-fresh-orders/internal/delivery"
	"github.com/ariefcatur/go-fresh-orders/internal/inventory"
	"github.com/ariefcatur/go-fresh-orders/internal/jobs"
	"github.com/ariefcatur/go-fresh-orders/internal/payment"
	"github.com/ariefcatur/go-fresh-orders/internal/payout"
	"github.com/ariefcatur/go-fresh-orders/internal/ratelimit"
	"github.com/ariefcatur/go-fresh-orders/internal/visibility"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the base router. ping, when set, backs /healthz.
func NewRouter(ping func(ctx context.Context) error) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// API wires the services to HTTP routes.
type API struct {
	Checkout  *checkout.Service
	Delivery  *delivery.Service
	Credits   *credits.Ledger
	Inventory *inventory.Ledger
	Settler   *payout.Settler
	Jobs      *jobs.Runner
	Webhooks  payment.Verifier
	Auth      auth.Verifier
	Limiter   ratelimit.Limiter // nil disables request throttling
	Logger    *slog.Logger
}

func (a *API) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		// authenticated by signature, not by bearer token
		r.Post("/webhooks/payments", a.paymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(a.Auth))
			if a.Limiter != nil {
				r.Use(ratelimit.Middleware(a.Limiter, viewerKey, a.Logger))
			}

			r.Get("/products", a.listProducts)
			r.Get("/orders/{id}", a.getOrder)
			r.Post("/orders/{id}/cancel", a.cancelOrder)
			r.Post("/orders/{id}/confirm-payment", a.confirmPayment)
			r.Get("/batches/{id}", a.getBatch)
			r.Get("/stops/{id}", a.getStop)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(visibility.RoleBuyer))
				r.Get("/cart", a.getCart)
				r.Post("/cart/items", a.addCartItem)
				r.Post("/checkout", a.checkout)
				r.Get("/credits/balance", a.creditBalance)
				r.Get("/credits/history", a.creditHistory)
			})

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(visibility.RoleFulfiller))
				r.Post("/batches/{id}/start", a.startBatch)
				r.Post("/batches/{id}/pickups", a.confirmPickup)
				r.Post("/stops/{id}/arrive", a.arriveStop)
				r.Post("/stops/{id}/deliver", a.deliverStop)
			})

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(visibility.RoleAdmin))
				r.Post("/batches/{id}/assign", a.assignBatch)
				r.Post("/credits/award", a.awardCredits)
				r.Post("/admin/batches/generate", a.generateBatches)
				r.Post("/admin/payouts/settle", a.settlePayouts)
			})
		})
	})
}

func viewerKey(r *http.Request) string {
	v, ok := auth.FromContext(r.Context())
	if !ok {
		return ""
	}
	return v.UserID
}
