package postgres

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/delivery"
	"github.com/ariefcatur/go-fresh-orders/internal/orders"
	"github.com/ariefcatur/go-fresh-orders/internal/visibility"
	"github.com/jackc/pgx/v5"
)

const batchCols = `id, market_id, delivery_date, geo_key, fulfiller_id, status, created_at, updated_at, completed_at`

const stopCols = `id, batch_id, order_id, buyer_id, kind, sequence, status, address, address_visible_at, arrived_at, delivered_at`

func scanBatch(row pgx.Row) (delivery.Batch, error) {
	var b delivery.Batch
	err := row.Scan(&b.ID, &b.MarketID, &b.DeliveryDate, &b.GeoKey, &b.FulfillerID, &b.Status,
		&b.CreatedAt, &b.UpdatedAt, &b.CompletedAt)
	return b, err
}

// scanStop reads the address column as text and unseals it explicitly so
// the redacting JSON encoder never sits on the persistence path.
func scanStop(row pgx.Row) (delivery.Stop, error) {
	var (
		st  delivery.Stop
		raw string
	)
	err := row.Scan(&st.ID, &st.BatchID, &st.OrderID, &st.BuyerID, &st.Kind, &st.Sequence, &st.Status,
		&raw, &st.AddressVisibleAt, &st.ArrivedAt, &st.DeliveredAt)
	if err != nil {
		return delivery.Stop{}, err
	}
	if err := st.Address.Scan(raw); err != nil {
		return delivery.Stop{}, err
	}
	return st, nil
}

func sealedArg(s visibility.Sealed) (string, error) {
	v, err := s.Value()
	if err != nil {
		return "", err
	}
	str, _ := v.(string)
	return str, nil
}

// CreateBatch inserts the batch with its stops and moves every delivery
// stop's order from locked to in_batch. Any order no longer locked aborts
// the whole batch.
func (s *Store) CreateBatch(ctx context.Context, b delivery.Batch) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO delivery_batches(`+batchCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			b.ID, b.MarketID, b.DeliveryDate, b.GeoKey, b.FulfillerID, b.Status, b.CreatedAt, b.UpdatedAt, b.CompletedAt); err != nil {
			return err
		}
		for _, st := range b.Stops {
			addr, err := sealedArg(st.Address)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `INSERT INTO stops(`+stopCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8::jsonb,$9,$10,$11)`,
				st.ID, b.ID, st.OrderID, st.BuyerID, st.Kind, st.Sequence, st.Status, addr,
				st.AddressVisibleAt, st.ArrivedAt, st.DeliveredAt); err != nil {
				return err
			}
			if st.Kind != visibility.KindDelivery {
				continue
			}
			ct, err := tx.Exec(ctx, `
				UPDATE orders SET status=$2, batch_id=$3, updated_at=$4
				WHERE id=$1 AND status=$5`,
				st.OrderID, orders.StatusInBatch, b.ID, b.CreatedAt, orders.StatusLocked)
			if err != nil {
				return err
			}
			if ct.RowsAffected() == 0 {
				return apperr.WithMessage(apperr.ErrInvalidStatus, "order "+st.OrderID+" is not locked")
			}
		}
		return nil
	})
}

func listStops(ctx context.Context, q querier, batchID string) ([]delivery.Stop, error) {
	rows, err := q.Query(ctx, `SELECT `+stopCols+` FROM stops WHERE batch_id=$1 ORDER BY sequence`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []delivery.Stop
	for rows.Next() {
		st, err := scanStop(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) GetBatch(ctx context.Context, batchID string) (delivery.Batch, error) {
	b, err := scanBatch(s.DB.QueryRow(ctx, `SELECT `+batchCols+` FROM delivery_batches WHERE id=$1`, batchID))
	if err != nil {
		return delivery.Batch{}, notFound(err, "batch", batchID)
	}
	if b.Stops, err = listStops(ctx, s.DB, batchID); err != nil {
		return delivery.Batch{}, err
	}
	return b, nil
}

func (s *Store) GetStop(ctx context.Context, stopID string) (delivery.Stop, error) {
	st, err := scanStop(s.DB.QueryRow(ctx, `SELECT `+stopCols+` FROM stops WHERE id=$1`, stopID))
	if err != nil {
		return delivery.Stop{}, notFound(err, "stop", stopID)
	}
	return st, nil
}

func (s *Store) UpdateBatch(ctx context.Context, batchID string, mutate func(b *delivery.Batch) error) (delivery.Batch, error) {
	var out delivery.Batch
	var mutErr error
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		cur, err := scanBatch(tx.QueryRow(ctx, `SELECT `+batchCols+` FROM delivery_batches WHERE id=$1 FOR UPDATE`, batchID))
		if err != nil {
			return notFound(err, "batch", batchID)
		}
		if cur.Stops, err = listStops(ctx, tx, batchID); err != nil {
			return err
		}
		next := cur
		next.Stops = append([]delivery.Stop(nil), cur.Stops...)
		if err := mutate(&next); err != nil {
			out, mutErr = cur, err
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE delivery_batches SET status=$2, fulfiller_id=$3, completed_at=$4, updated_at=$5 WHERE id=$1`,
			batchID, next.Status, next.FulfillerID, next.CompletedAt, next.UpdatedAt); err != nil {
			return err
		}
		next.Stops = cur.Stops
		out = next
		return nil
	})
	if mutErr != nil && errors.Is(err, mutErr) {
		return out, mutErr
	}
	if err != nil {
		return delivery.Batch{}, err
	}
	return out, nil
}

func (s *Store) UpdateStop(ctx context.Context, stopID string, mutate func(st *delivery.Stop) error) (delivery.Stop, error) {
	var out delivery.Stop
	var mutErr error
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		cur, err := scanStop(tx.QueryRow(ctx, `SELECT `+stopCols+` FROM stops WHERE id=$1 FOR UPDATE`, stopID))
		if err != nil {
			return notFound(err, "stop", stopID)
		}
		next := cur
		if err := mutate(&next); err != nil {
			out, mutErr = cur, err
			return err
		}
		// address and address_visible_at are only written by RecordPickup
		if _, err := tx.Exec(ctx, `
			UPDATE stops SET status=$2, arrived_at=$3, delivered_at=$4 WHERE id=$1`,
			stopID, next.Status, next.ArrivedAt, next.DeliveredAt); err != nil {
			return err
		}
		cur.Status, cur.ArrivedAt, cur.DeliveredAt = next.Status, next.ArrivedAt, next.DeliveredAt
		out = cur
		return nil
	})
	if mutErr != nil && errors.Is(err, mutErr) {
		return out, mutErr
	}
	if err != nil {
		return delivery.Stop{}, err
	}
	return out, nil
}

// RecordPickup stores the scan and sets address_visible_at the first time
// the stop's box is scanned. Later scans keep the original timestamp.
func (s *Store) RecordPickup(ctx context.Context, scan delivery.PickupScan) (delivery.Stop, error) {
	var out delivery.Stop
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		st, err := scanStop(tx.QueryRow(ctx, `
			SELECT `+stopCols+` FROM stops WHERE id=$1 AND batch_id=$2 AND order_id=$3 FOR UPDATE`,
			scan.StopID, scan.BatchID, scan.OrderID))
		if err != nil {
			return notFound(err, "stop", scan.StopID)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO pickup_scans(id, batch_id, stop_id, order_id, fulfiller_id, scanned_at)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			scan.ID, scan.BatchID, scan.StopID, scan.OrderID, scan.FulfillerID, scan.ScannedAt); err != nil {
			return err
		}
		if st.AddressVisibleAt == nil {
			if _, err := tx.Exec(ctx, `UPDATE stops SET address_visible_at=$2 WHERE id=$1`, st.ID, scan.ScannedAt); err != nil {
				return err
			}
			t := scan.ScannedAt
			st.AddressVisibleAt = &t
		}
		out = st
		return nil
	})
	if err != nil {
		return delivery.Stop{}, err
	}
	return out, nil
}
