package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/checkout"
	"github.com/ariefcatur/go-fresh-orders/internal/credits"
	"github.com/ariefcatur/go-fresh-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const orderCols = `id, buyer_id, cart_id, market_id, delivery_date, status, payment_status, payment_intent_id,
	subtotal_cents, delivery_fee_cents, tip_cents, credits_cents, total_cents, batch_id, cancelled_at, created_at, updated_at`

func scanOrder(row pgx.Row) (orders.Order, error) {
	var o orders.Order
	err := row.Scan(&o.ID, &o.BuyerID, &o.CartID, &o.MarketID, &o.DeliveryDate, &o.Status, &o.PaymentStatus,
		&o.PaymentIntentID, &o.SubtotalCents, &o.DeliveryFeeCents, &o.TipCents, &o.CreditsCents, &o.TotalCents,
		&o.BatchID, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func collectOrders(rows pgx.Rows) ([]orders.Order, error) {
	defer rows.Close()
	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func loadItems(ctx context.Context, q querier, orderID string) ([]orders.OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT order_id, product_id, seller_id, quantity, unit_price_cents, subtotal_cents
		FROM order_items WHERE order_id=$1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.OrderItem
	for rows.Next() {
		var it orders.OrderItem
		if err := rows.Scan(&it.OrderID, &it.ProductID, &it.SellerID, &it.Quantity, &it.UnitPriceCents, &it.SubtotalCents); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ---- carts, profiles, markets ----

func (s *Store) loadCart(ctx context.Context, q querier, cartID string) ([]orders.CartItem, error) {
	rows, err := q.Query(ctx, `
		SELECT product_id, seller_id, quantity, unit_price_cents, added_at
		FROM cart_items WHERE cart_id=$1 ORDER BY added_at, product_id`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.CartItem
	for rows.Next() {
		var it orders.CartItem
		if err := rows.Scan(&it.ProductID, &it.SellerID, &it.Quantity, &it.UnitPriceCents, &it.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) GetCart(ctx context.Context, buyerID, cartID string) (orders.Cart, error) {
	c := orders.Cart{ID: cartID}
	err := s.DB.QueryRow(ctx, `SELECT buyer_id FROM carts WHERE id=$1 AND buyer_id=$2`, cartID, buyerID).Scan(&c.BuyerID)
	if err != nil {
		return orders.Cart{}, notFound(err, "cart", cartID)
	}
	if c.Items, err = s.loadCart(ctx, s.DB, cartID); err != nil {
		return orders.Cart{}, err
	}
	return c, nil
}

func openCart(ctx context.Context, q querier, buyerID string) (string, error) {
	var id string
	err := q.QueryRow(ctx, `
		INSERT INTO carts(id, buyer_id) VALUES ($1,$2)
		ON CONFLICT (buyer_id) DO UPDATE SET buyer_id = EXCLUDED.buyer_id
		RETURNING id`, uuid.NewString(), buyerID).Scan(&id)
	return id, err
}

func (s *Store) OpenCart(ctx context.Context, buyerID string) (orders.Cart, error) {
	id, err := openCart(ctx, s.DB, buyerID)
	if err != nil {
		return orders.Cart{}, err
	}
	return s.GetCart(ctx, buyerID, id)
}

func (s *Store) AddCartItem(ctx context.Context, buyerID string, item orders.CartItem) (orders.Cart, error) {
	var cartID string
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		id, err := openCart(ctx, tx, buyerID)
		if err != nil {
			return err
		}
		cartID = id
		_, err = tx.Exec(ctx, `
			INSERT INTO cart_items(cart_id, product_id, seller_id, quantity, unit_price_cents, added_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`,
			id, item.ProductID, item.SellerID, item.Quantity, item.UnitPriceCents, item.AddedAt)
		return err
	})
	if err != nil {
		return orders.Cart{}, err
	}
	return s.GetCart(ctx, buyerID, cartID)
}

func removeCartItems(ctx context.Context, q querier, buyerID, cartID string, items []orders.OrderItem) error {
	for _, it := range items {
		_, err := q.Exec(ctx, `
			DELETE FROM cart_items
			WHERE cart_id = (SELECT id FROM carts WHERE id=$1 AND buyer_id=$2) AND product_id=$3 AND quantity <= $4`,
			cartID, buyerID, it.ProductID, it.Quantity)
		if err != nil {
			return err
		}
		_, err = q.Exec(ctx, `
			UPDATE cart_items SET quantity = quantity - $4
			WHERE cart_id = (SELECT id FROM carts WHERE id=$1 AND buyer_id=$2) AND product_id=$3`,
			cartID, buyerID, it.ProductID, it.Quantity)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) RemoveCartItems(ctx context.Context, buyerID, cartID string, items []orders.OrderItem) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return removeCartItems(ctx, tx, buyerID, cartID, items)
	})
}

func (s *Store) GetProfile(ctx context.Context, buyerID string) (orders.Profile, error) {
	p := orders.Profile{BuyerID: buyerID}
	err := s.DB.QueryRow(ctx, `
		SELECT name, region, street, line2, city, state, zip FROM profiles WHERE buyer_id=$1`, buyerID).
		Scan(&p.Name, &p.Region, &p.Address.Street, &p.Address.Line2, &p.Address.City, &p.Address.State, &p.Address.Zip)
	if err != nil {
		return orders.Profile{}, notFound(err, "profile", buyerID)
	}
	return p, nil
}

const marketCols = `id, region, timezone, cutoff_hour, delivery_days, minimum_order_cents, delivery_fee_cents,
	collection_point_id, collection_address`

func scanMarket(row pgx.Row) (orders.Market, error) {
	var (
		m    orders.Market
		days []int32
	)
	err := row.Scan(&m.ID, &m.Region, &m.Timezone, &m.CutoffHour, &days, &m.MinimumOrderCents,
		&m.DeliveryFeeCents, &m.CollectionPointID, &m.CollectionAddress)
	if err != nil {
		return orders.Market{}, err
	}
	for _, d := range days {
		m.DeliveryDays = append(m.DeliveryDays, time.Weekday(d))
	}
	return m, nil
}

func (s *Store) MarketForRegion(ctx context.Context, region string) (orders.Market, error) {
	m, err := scanMarket(s.DB.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE region=$1`, region))
	if err != nil {
		return orders.Market{}, notFound(err, "market for region", region)
	}
	return m, nil
}

func (s *Store) GetMarket(ctx context.Context, marketID string) (orders.Market, error) {
	m, err := scanMarket(s.DB.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id=$1`, marketID))
	if err != nil {
		return orders.Market{}, notFound(err, "market", marketID)
	}
	return m, nil
}

// ---- orders ----

// CreateOrder writes the order with its items and payouts, redeems credits
// and optionally clears the cart in one transaction. The partial unique
// index on pending orders turns a concurrent duplicate checkout into
// ErrCheckoutInProgress.
func (s *Store) CreateOrder(ctx context.Context, in checkout.NewOrder) (orders.Order, error) {
	o := in.Order
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO orders(`+orderCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
			o.ID, o.BuyerID, o.CartID, o.MarketID, o.DeliveryDate, o.Status, o.PaymentStatus, o.PaymentIntentID,
			o.SubtotalCents, o.DeliveryFeeCents, o.TipCents, o.CreditsCents, o.TotalCents,
			o.BatchID, o.CancelledAt, o.CreatedAt, o.UpdatedAt)
		if code, constraint := pgCode(err); code == uniqueViolation && constraint == "orders_one_pending_per_cart" {
			return apperr.ErrCheckoutInProgress
		}
		if err != nil {
			return err
		}

		for _, it := range in.Items {
			if _, err := tx.Exec(ctx, `
				INSERT INTO order_items(order_id, product_id, seller_id, quantity, unit_price_cents, subtotal_cents)
				VALUES ($1,$2,$3,$4,$5,$6)`,
				o.ID, it.ProductID, it.SellerID, it.Quantity, it.UnitPriceCents, it.SubtotalCents); err != nil {
				return err
			}
		}
		for _, p := range in.Payouts {
			if _, err := tx.Exec(ctx, `INSERT INTO payouts(`+payoutCols+`)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
				p.ID, p.OrderID, p.RecipientID, p.RecipientType, p.Kind, p.AmountCents, p.Status,
				p.Attempts, p.LastError, p.TransferRef, p.CreatedAt, p.UpdatedAt); err != nil {
				return err
			}
		}
		if o.CreditsCents > 0 {
			_, err := appendCredits(ctx, tx, o.BuyerID, func(h []credits.Entry) ([]credits.Entry, error) {
				e, err := credits.BuildRedemption(h, o.BuyerID, o.CreditsCents, o.ID, o.CreatedAt)
				if err != nil {
					return nil, err
				}
				return []credits.Entry{e}, nil
			})
			if err != nil {
				return err
			}
		}
		if in.ClearCart {
			return removeCartItems(ctx, tx, o.BuyerID, o.CartID, in.Items)
		}
		return nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	o.Items = append([]orders.OrderItem(nil), in.Items...)
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (orders.Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, orderID))
	if err != nil {
		return orders.Order{}, notFound(err, "order", orderID)
	}
	if o.Items, err = loadItems(ctx, s.DB, orderID); err != nil {
		return orders.Order{}, err
	}
	return o, nil
}

func (s *Store) FindPendingOrder(ctx context.Context, buyerID, cartID string) (orders.Order, error) {
	var id string
	err := s.DB.QueryRow(ctx, `SELECT id FROM orders WHERE buyer_id=$1 AND cart_id=$2 AND status=$3`,
		buyerID, cartID, orders.StatusPendingPayment).Scan(&id)
	if err != nil {
		return orders.Order{}, notFound(err, "pending order for cart", cartID)
	}
	return s.GetOrder(ctx, id)
}

func (s *Store) FindOrderByIntent(ctx context.Context, intentID string) (orders.Order, error) {
	var id string
	err := s.DB.QueryRow(ctx, `SELECT id FROM orders WHERE payment_intent_id=$1 AND payment_intent_id <> ''`, intentID).Scan(&id)
	if err != nil {
		return orders.Order{}, notFound(err, "order for intent", intentID)
	}
	return s.GetOrder(ctx, id)
}

func (s *Store) ListOrders(ctx context.Context, status orders.Status, createdBefore time.Time, limit int) ([]orders.Order, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.DB.Query(ctx, `
		SELECT `+orderCols+` FROM orders
		WHERE status=$1 AND created_at < $2
		ORDER BY created_at LIMIT $3`, status, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (s *Store) ListOrdersByDelivery(ctx context.Context, status orders.Status, deliveryBefore time.Time) ([]orders.Order, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if deliveryBefore.IsZero() {
		rows, err = s.DB.Query(ctx, `SELECT `+orderCols+` FROM orders WHERE status=$1 ORDER BY delivery_date, id`, status)
	} else {
		rows, err = s.DB.Query(ctx, `
			SELECT `+orderCols+` FROM orders
			WHERE status=$1 AND delivery_date < $2
			ORDER BY delivery_date, id`, status, deliveryBefore)
	}
	if err != nil {
		return nil, err
	}
	out, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Items, err = loadItems(ctx, s.DB, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UpdateOrder locks the row, lets mutate edit a copy and writes back the
// mutable columns. A mutate error leaves the row untouched.
func (s *Store) UpdateOrder(ctx context.Context, orderID string, mutate func(o *orders.Order) error) (orders.Order, error) {
	var out orders.Order
	var mutErr error
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		cur, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1 FOR UPDATE`, orderID))
		if err != nil {
			return notFound(err, "order", orderID)
		}
		if cur.Items, err = loadItems(ctx, tx, orderID); err != nil {
			return err
		}
		next := cur
		next.Items = append([]orders.OrderItem(nil), cur.Items...)
		if err := mutate(&next); err != nil {
			out, mutErr = cur, err
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE orders SET status=$2, payment_status=$3, batch_id=$4, cancelled_at=$5, updated_at=$6
			WHERE id=$1`, orderID, next.Status, next.PaymentStatus, next.BatchID, next.CancelledAt, next.UpdatedAt)
		if err != nil {
			return err
		}
		next.Items = cur.Items
		out = next
		return nil
	})
	if mutErr != nil && errors.Is(err, mutErr) {
		return out, mutErr
	}
	if err != nil {
		return orders.Order{}, err
	}
	return out, nil
}

// ---- payment events ----

func (s *Store) PaymentEventSeen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := s.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM payment_events WHERE event_id=$1)`, eventID).Scan(&seen)
	return seen, err
}

func (s *Store) RecordPaymentEvent(ctx context.Context, eventID, eventType, orderID string, at time.Time) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO payment_events(event_id, event_type, order_id, received_at)
		VALUES ($1,$2,$3,$4) ON CONFLICT (event_id) DO NOTHING`, eventID, eventType, orderID, at)
	return err
}
