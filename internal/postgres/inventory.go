package postgres

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/orders"
	"github.com/jackc/pgx/v5"
)

const reservationCols = `order_id, product_id, qty, status, old_quantity, new_quantity, created_at`

func scanReservation(row pgx.Row) (orders.Reservation, error) {
	var r orders.Reservation
	err := row.Scan(&r.OrderID, &r.ProductID, &r.Qty, &r.Status, &r.OldQuantity, &r.NewQuantity, &r.CreatedAt)
	return r, err
}

// ReserveStock decrements with one guarded UPDATE; a concurrent reservation
// of the last unit fails the WHERE clause instead of going negative.
func (s *Store) ReserveStock(ctx context.Context, orderID, productID string, qty int) (orders.Reservation, error) {
	var out orders.Reservation
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		r, err := scanReservation(tx.QueryRow(ctx,
			`SELECT `+reservationCols+` FROM reservations WHERE order_id=$1 AND product_id=$2`, orderID, productID))
		if err == nil {
			out = r
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		var newQty int
		err = tx.QueryRow(ctx, `
			UPDATE products SET available_quantity = available_quantity - $2, updated_at = NOW()
			WHERE id = $1 AND available_quantity >= $2
			RETURNING available_quantity`, productID, qty).Scan(&newQty)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id=$1)`, productID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return apperr.WithMessage(apperr.ErrProductUnavailable, "product "+productID+" not found")
			}
			return apperr.ErrInsufficientInventory
		}
		if code, _ := pgCode(err); code == checkViolation {
			return apperr.ErrInsufficientInventory
		}
		if err != nil {
			return err
		}

		out, err = scanReservation(tx.QueryRow(ctx, `
			INSERT INTO reservations(order_id, product_id, qty, status, old_quantity, new_quantity)
			VALUES ($1,$2,$3,'RESERVED',$4,$5)
			ON CONFLICT (order_id, product_id) DO NOTHING
			RETURNING `+reservationCols, orderID, productID, qty, newQty+qty, newQty))
		if errors.Is(err, pgx.ErrNoRows) {
			// a concurrent replay won; the rollback undoes our decrement
			return errReplay
		}
		return err
	})
	if errors.Is(err, errReplay) {
		return scanReservation(s.DB.QueryRow(ctx,
			`SELECT `+reservationCols+` FROM reservations WHERE order_id=$1 AND product_id=$2`, orderID, productID))
	}
	if err != nil {
		return orders.Reservation{}, err
	}
	return out, nil
}

var errReplay = errors.New("postgres: reservation replayed")

func (s *Store) ReleaseStock(ctx context.Context, orderID string) ([]orders.Reservation, error) {
	var out []orders.Reservation
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE reservations SET status='RELEASED'
			WHERE order_id=$1 AND status='RESERVED'
			RETURNING `+reservationCols, orderID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			r, err := scanReservation(rows)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()
		for _, r := range out {
			if _, err := tx.Exec(ctx,
				`UPDATE products SET available_quantity = available_quantity + $2, updated_at = NOW() WHERE id=$1`,
				r.ProductID, r.Qty); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

const productCols = `id, seller_id, name, unit_price_cents, available_quantity, approved, created_at, updated_at`

func scanProduct(row pgx.Row) (orders.Product, error) {
	var p orders.Product
	err := row.Scan(&p.ID, &p.SellerID, &p.Name, &p.UnitPriceCents, &p.AvailableQuantity, &p.Approved, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) GetProduct(ctx context.Context, productID string) (orders.Product, error) {
	p, err := scanProduct(s.DB.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, productID))
	if err != nil {
		return orders.Product{}, notFound(err, "product", productID)
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+productCols+` FROM products WHERE approved ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
