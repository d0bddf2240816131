package checkout

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/orders"
)

// AddToCart adds qty of an approved product to the buyer's open cart,
// snapshotting the current unit price. Stock is not reserved until checkout.
func (s *Service) AddToCart(ctx context.Context, buyerID, productID string, qty int) (orders.Cart, error) {
	if buyerID == "" {
		return orders.Cart{}, apperr.ErrUnauthorized
	}
	if productID == "" {
		return orders.Cart{}, apperr.Validation("product_id", "required")
	}
	if qty <= 0 {
		return orders.Cart{}, apperr.Validation("quantity", "must be positive")
	}
	p, err := s.approvedProduct(ctx, productID)
	if err != nil {
		return orders.Cart{}, err
	}
	return s.Store.AddCartItem(ctx, buyerID, orders.CartItem{
		ProductID:      p.ID,
		SellerID:       p.SellerID,
		Quantity:       qty,
		UnitPriceCents: p.UnitPriceCents,
		AddedAt:        s.Now().UTC(),
	})
}

func (s *Service) approvedProduct(ctx context.Context, productID string) (orders.Product, error) {
	p, err := s.Inventory.Store.GetProduct(ctx, productID)
	if errors.Is(err, apperr.ErrNotFound) || (err == nil && !p.Approved) {
		return orders.Product{}, apperr.WithMessage(apperr.ErrProductUnavailable, "product "+productID+" is unavailable")
	}
	return p, err
}

// Cart returns the buyer's open cart, creating an empty one on first use.
func (s *Service) Cart(ctx context.Context, buyerID string) (orders.Cart, error) {
	if buyerID == "" {
		return orders.Cart{}, apperr.ErrUnauthorized
	}
	return s.Store.OpenCart(ctx, buyerID)
}
