// Package checkout turns a cart into a paid order and owns the order's
// payment lifecycle: confirmation, cancellation and stale-payment expiry.
//
// Checkout is a saga: validate, reserve inventory, create the payment
// intent, commit the order. A later step failing runs the compensations of
// the earlier ones before the error is returned.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/credits"
	"github.com/ariefcatur/go-fresh-orders/internal/inventory"
	"github.com/ariefcatur/go-fresh-orders/internal/orders"
	"github.com/ariefcatur/go-fresh-orders/internal/payment"
	"github.com/ariefcatur/go-fresh-orders/internal/payout"
	"github.com/ariefcatur/go-fresh-orders/internal/ratelimit"
	"github.com/ariefcatur/go-fresh-orders/internal/redisx"
	"github.com/google/uuid"
)

type Service struct {
	Store     Store
	Inventory *inventory.Ledger
	Credits   *credits.Ledger
	Gateway   payment.Gateway
	Events    orders.Publisher
	Logger    *slog.Logger

	// Optional; nil disables the check.
	Limiter ratelimit.Limiter
	Locker  Locker
	Dedup   Deduper

	Shares         payout.Shares
	Currency       string
	CancelWindow   time.Duration // no cancellation within this long of delivery start
	GatewayTimeout time.Duration
	Now            func() time.Time

	// EventGrace is how long after its creation a payment event for an
	// unknown order is answered with ErrOrderNotReady, asking the provider
	// to redeliver once the order has committed.
	EventGrace time.Duration
}

func New(store Store, inv *inventory.Ledger, cr *credits.Ledger, gw payment.Gateway, events orders.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = orders.NopPublisher{}
	}
	return &Service{
		Store:          store,
		Inventory:      inv,
		Credits:        cr,
		Gateway:        gw,
		Events:         events,
		Logger:         logger,
		Shares:         payout.DefaultShares(),
		Currency:       "usd",
		CancelWindow:   24 * time.Hour,
		GatewayTimeout: 10 * time.Second,
		EventGrace:     time.Hour,
		Now:            time.Now,
	}
}

type Request struct {
	BuyerID         string `json:"-"`
	CartID          string `json:"cart_id"`
	DeliveryDate    string `json:"delivery_date"`
	UseCredits      bool   `json:"use_credits"`
	CreditsCents    int64  `json:"credits_amount"`
	TipCents        int64  `json:"tip_amount"`
	PaymentMethodID string `json:"payment_method_id,omitempty"`
}

func (r Request) validate() error {
	switch {
	case r.BuyerID == "":
		return apperr.ErrUnauthorized
	case r.CartID == "":
		return apperr.Validation("cart_id", "required")
	case r.DeliveryDate == "":
		return apperr.Validation("delivery_date", "required")
	case r.CreditsCents < 0:
		return apperr.Validation("credits_amount", "must not be negative")
	case r.TipCents < 0:
		return apperr.Validation("tip_amount", "must not be negative")
	}
	return nil
}

type Result struct {
	OrderID         string               `json:"order_id"`
	ClientSecret    string               `json:"client_secret,omitempty"`
	AmountCharged   int64                `json:"amount_charged"`
	CreditsRedeemed int64                `json:"credits_redeemed"`
	PaymentStatus   orders.PaymentStatus `json:"payment_status"`
	Status          orders.Status        `json:"status"`
	Existing        bool                 `json:"existing,omitempty"`
}

func (s *Service) Checkout(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	if s.Limiter != nil {
		d, err := s.Limiter.Allow(ctx, "checkout:"+req.BuyerID)
		switch {
		case err != nil:
			s.Logger.Warn("checkout limiter unavailable", "err", err)
		case !d.Allowed:
			return Result{}, apperr.TooManyRequests(d.RetryAfter)
		}
	}
	if s.Locker != nil {
		release, err := s.Locker.Acquire(ctx, fmt.Sprintf(redisx.KeyCheckoutLock, req.BuyerID, req.CartID), redisx.TTLCheckoutLock)
		switch {
		case errors.Is(err, redisx.ErrNotAcquired):
			return Result{}, apperr.ErrCheckoutInProgress
		case err != nil:
			// the pending-order unique index still rejects a duplicate
			s.Logger.Warn("checkout lock unavailable", "err", err)
		default:
			defer release()
		}
	}

	existing, err := s.Store.FindPendingOrder(ctx, req.BuyerID, req.CartID)
	if err == nil {
		return s.resume(ctx, existing)
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return Result{}, err
	}

	cart, err := s.Store.GetCart(ctx, req.BuyerID, req.CartID)
	if errors.Is(err, apperr.ErrNotFound) || (err == nil && len(cart.Items) == 0) {
		return Result{}, apperr.ErrCartEmpty
	}
	if err != nil {
		return Result{}, err
	}
	profile, err := s.Store.GetProfile(ctx, req.BuyerID)
	if errors.Is(err, apperr.ErrNotFound) {
		return Result{}, apperr.ErrMissingProfileInfo
	}
	if err != nil {
		return Result{}, err
	}
	market, err := s.Store.MarketForRegion(ctx, profile.Region)
	if errors.Is(err, apperr.ErrNotFound) {
		return Result{}, apperr.ErrNoMarketConfig
	}
	if err != nil {
		return Result{}, err
	}
	if !profile.Address.Complete() {
		return Result{}, apperr.ErrMissingProfileInfo
	}
	now := s.Now()
	deliveryDate, err := DeliveryDate(market, req.DeliveryDate, now)
	if err != nil {
		return Result{}, err
	}
	if err := s.checkProducts(ctx, cart); err != nil {
		return Result{}, err
	}
	subtotal := cart.SubtotalCents()
	if subtotal < market.MinimumOrderCents {
		return Result{}, apperr.WithMessage(apperr.ErrBelowMinimumOrder,
			fmt.Sprintf("subtotal %d below minimum %d", subtotal, market.MinimumOrderCents))
	}
	var spendable int64
	if req.UseCredits {
		bal, err := s.Credits.Balance(ctx, req.BuyerID)
		if err != nil {
			return Result{}, fmt.Errorf("credits balance: %w", err)
		}
		spendable = bal.SpendableCents
	}
	quote := Price(subtotal, market.DeliveryFeeCents, req.TipCents, req.UseCredits, req.CreditsCents, spendable)

	orderID := uuid.NewString()
	log := s.Logger.With("order_id", orderID, "buyer_id", req.BuyerID)

	if _, err := s.Inventory.ReserveAll(ctx, orderID, itemQtys(cart)); err != nil {
		return Result{}, err
	}

	var intent payment.Intent
	if quote.TotalCents > 0 {
		intent, err = s.createIntent(ctx, orderID, req, quote.TotalCents)
		if err != nil {
			log.Warn("payment intent failed", "err", err)
			s.rollback(ctx, orderID, payment.Intent{})
			return Result{}, apperr.Wrap(apperr.CodePaymentUnavailable, apperr.KindExternal,
				"payment provider unavailable, please retry", err)
		}
	}

	o := orders.Order{
		ID:               orderID,
		BuyerID:          req.BuyerID,
		CartID:           req.CartID,
		MarketID:         market.ID,
		DeliveryDate:     deliveryDate,
		Status:           orders.StatusPendingPayment,
		PaymentStatus:    orders.PaymentRequiresPayment,
		PaymentIntentID:  intent.ID,
		SubtotalCents:    quote.SubtotalCents,
		DeliveryFeeCents: quote.DeliveryFeeCents,
		TipCents:         quote.TipCents,
		CreditsCents:     quote.CreditsCents,
		TotalCents:       quote.TotalCents,
		CreatedAt:        now.UTC(),
		UpdatedAt:        now.UTC(),
	}
	if quote.TotalCents == 0 {
		o.Status = orders.StatusConfirmed
		o.PaymentStatus = orders.PaymentNotRequired
	}
	items := orderItems(orderID, cart)
	o.Items = items

	created, err := s.Store.CreateOrder(ctx, NewOrder{
		Order:     o,
		Items:     items,
		Payouts:   payout.Split(o, items, market.CollectionPointID, s.Shares, now.UTC()),
		ClearCart: o.Status == orders.StatusConfirmed,
	})
	if err != nil {
		log.Warn("order commit failed", "err", err)
		s.rollback(ctx, orderID, intent)
		return Result{}, err
	}
	log.Info("order placed", "status", created.Status, "total_cents", created.TotalCents, "credits_cents", created.CreditsCents)

	if created.Status == orders.StatusConfirmed {
		s.publishConfirmed(ctx, created)
	} else if intent.Status == orders.PaymentSucceeded {
		// captured synchronously with the payment method supplied
		if updated, err := s.applyPayment(ctx, created, orders.PaymentSucceeded); err == nil {
			created = updated
		} else {
			log.Warn("synchronous confirmation failed; awaiting webhook", "err", err)
		}
	}
	return Result{
		OrderID:         created.ID,
		ClientSecret:    intent.ClientSecret,
		AmountCharged:   created.TotalCents,
		CreditsRedeemed: created.CreditsCents,
		PaymentStatus:   created.PaymentStatus,
		Status:          created.Status,
	}, nil
}

// resume answers a repeated checkout with the pending order it already made.
func (s *Service) resume(ctx context.Context, o orders.Order) (Result, error) {
	res := Result{
		OrderID:         o.ID,
		AmountCharged:   o.TotalCents,
		CreditsRedeemed: o.CreditsCents,
		PaymentStatus:   o.PaymentStatus,
		Status:          o.Status,
		Existing:        true,
	}
	if o.PaymentIntentID == "" {
		return res, nil
	}
	gctx, cancel := context.WithTimeout(ctx, s.GatewayTimeout)
	defer cancel()
	intent, err := s.Gateway.GetIntent(gctx, o.PaymentIntentID)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.CodePaymentUnavailable, apperr.KindExternal,
			"payment provider unavailable, please retry", err)
	}
	res.ClientSecret = intent.ClientSecret
	return res, nil
}

func (s *Service) checkProducts(ctx context.Context, cart orders.Cart) error {
	for _, it := range cart.Items {
		if it.Quantity <= 0 {
			return apperr.Validation("quantity", "must be positive")
		}
		if _, err := s.approvedProduct(ctx, it.ProductID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) createIntent(ctx context.Context, orderID string, req Request, amount int64) (payment.Intent, error) {
	gctx, cancel := context.WithTimeout(ctx, s.GatewayTimeout)
	defer cancel()
	return s.Gateway.CreateIntent(gctx, payment.IntentRequest{
		AmountCents:    amount,
		Currency:       s.Currency,
		CustomerRef:    req.BuyerID,
		PaymentMethod:  req.PaymentMethodID,
		IdempotencyKey: "checkout-" + orderID,
		Metadata: map[string]string{
			"order_id": orderID,
			"buyer_id": req.BuyerID,
			"cart_id":  req.CartID,
		},
	})
}

// rollback undoes reserve and intent creation. An intent that was captured,
// or whose state cannot be confirmed after a failed cancel, is refunded.
// It runs detached from the request so a disconnecting client cannot strand
// reserved stock or a captured payment.
func (s *Service) rollback(ctx context.Context, orderID string, intent payment.Intent) {
	ctx = context.WithoutCancel(ctx)
	log := s.Logger.With("order_id", orderID, "intent_id", intent.ID)
	if err := s.Inventory.Restore(ctx, orderID); err != nil {
		log.Error("rollback: restore inventory", "err", err)
	}
	if intent.ID == "" {
		return
	}
	if intent.Status != orders.PaymentSucceeded {
		gctx, cancel := context.WithTimeout(ctx, s.GatewayTimeout)
		err := s.Gateway.CancelIntent(gctx, intent.ID)
		cancel()
		if err == nil {
			return
		}
		log.Warn("rollback: cancel intent", "err", err)
		st, err := s.intentStatus(ctx, intent.ID)
		switch {
		case err != nil:
			log.Warn("rollback: intent lookup failed; refunding", "err", err)
		case st != orders.PaymentSucceeded:
			log.Error("rollback: intent left open", "payment_status", st)
			return
		}
	}
	key := "refund-" + orderID
	if err := s.issueRefund(ctx, orderID, intent.ID, intent.AmountCents, key); err != nil {
		s.queueRefund(ctx, orderID, intent.ID, intent.AmountCents, key, err)
		return
	}
	log.Info("rollback: captured payment refunded", "amount_cents", intent.AmountCents)
}

func (s *Service) publishConfirmed(ctx context.Context, o orders.Order) {
	err := s.Events.Publish(ctx, orders.TopicOrderConfirmed, o.ID, orders.EventOrderConfirmed,
		orders.OrderConfirmedPayload{
			OrderID:       o.ID,
			BuyerID:       o.BuyerID,
			SubtotalCents: o.SubtotalCents,
			TotalCents:    o.TotalCents,
			DeliveryDate:  o.DeliveryDate,
		})
	if err != nil {
		s.Logger.Warn("publish order confirmed", "order_id", o.ID, "err", err)
	}
}

// GetOrder returns the order if viewer may see it.
func (s *Service) GetOrder(ctx context.Context, orderID string, actor Actor) (orders.Order, error) {
	o, err := s.Store.GetOrder(ctx, orderID)
	if errors.Is(err, apperr.ErrNotFound) {
		return orders.Order{}, apperr.ErrOrderNotFound
	}
	if err != nil {
		return orders.Order{}, err
	}
	if !actor.Admin && o.BuyerID != actor.UserID {
		return orders.Order{}, apperr.ErrOrderNotFound
	}
	return o, nil
}

func itemQtys(c orders.Cart) []inventory.ItemQty {
	out := make([]inventory.ItemQty, 0, len(c.Items))
	for _, it := range c.Items {
		out = append(out, inventory.ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
	}
	return out
}

func orderItems(orderID string, c orders.Cart) []orders.OrderItem {
	out := make([]orders.OrderItem, 0, len(c.Items))
	for _, it := range c.Items {
		out = append(out, orders.OrderItem{
			OrderID:        orderID,
			ProductID:      it.ProductID,
			SellerID:       it.SellerID,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
			SubtotalCents:  it.UnitPriceCents * int64(it.Quantity),
		})
	}
	return out
}
