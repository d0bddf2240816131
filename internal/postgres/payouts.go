package postgres

import (
	"context"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/orders"
	"github.com/ariefcatur/go-fresh-orders/internal/payout"
	"github.com/jackc/pgx/v5"
)

const payoutCols = `id, order_id, recipient_id, recipient_type, kind, amount_cents, status, attempts,
	last_error, transfer_ref, created_at, updated_at`

func scanPayout(row pgx.Row) (payout.Payout, error) {
	var p payout.Payout
	err := row.Scan(&p.ID, &p.OrderID, &p.RecipientID, &p.RecipientType, &p.Kind, &p.AmountCents, &p.Status,
		&p.Attempts, &p.LastError, &p.TransferRef, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// ListSettleable returns pending or failed payouts of delivered orders whose
// recipient has a verified account.
func (s *Store) ListSettleable(ctx context.Context, maxAttempts, limit int) ([]payout.Settleable, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.Query(ctx, `
		SELECT p.id, p.order_id, p.recipient_id, p.recipient_type, p.kind, p.amount_cents, p.status, p.attempts,
		       p.last_error, p.transfer_ref, p.created_at, p.updated_at, a.destination
		FROM payouts p
		JOIN orders o ON o.id = p.order_id
		JOIN payout_accounts a ON a.recipient_id = p.recipient_id
		WHERE p.status IN ($1,$2) AND p.attempts < $3 AND p.recipient_id <> ''
		  AND o.status = $4 AND a.verified
		ORDER BY p.created_at, p.id
		LIMIT $5`,
		payout.StatusPending, payout.StatusFailed, maxAttempts, orders.StatusDelivered, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payout.Settleable
	for rows.Next() {
		var it payout.Settleable
		p := &it.Payout
		if err := rows.Scan(&p.ID, &p.OrderID, &p.RecipientID, &p.RecipientType, &p.Kind, &p.AmountCents, &p.Status,
			&p.Attempts, &p.LastError, &p.TransferRef, &p.CreatedAt, &p.UpdatedAt, &it.Destination); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) markPayout(ctx context.Context, payoutID string, to payout.Status, apply func(tx pgx.Tx) error) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var cur payout.Status
		err := tx.QueryRow(ctx, `SELECT status FROM payouts WHERE id=$1 FOR UPDATE`, payoutID).Scan(&cur)
		if err != nil {
			return notFound(err, "payout", payoutID)
		}
		if !payout.CanTransition(cur, to) {
			return apperr.WithMessage(apperr.ErrInvalidStatus, "payout is "+string(cur))
		}
		return apply(tx)
	})
}

func (s *Store) MarkPayoutCompleted(ctx context.Context, payoutID, transferRef string, at time.Time) error {
	return s.markPayout(ctx, payoutID, payout.StatusCompleted, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE payouts SET status=$2, transfer_ref=$3, attempts=attempts+1, last_error='', updated_at=$4
			WHERE id=$1`, payoutID, payout.StatusCompleted, transferRef, at)
		return err
	})
}

func (s *Store) MarkPayoutFailed(ctx context.Context, payoutID, reason string, at time.Time) error {
	return s.markPayout(ctx, payoutID, payout.StatusFailed, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE payouts SET status=$2, attempts=attempts+1, last_error=$3, updated_at=$4
			WHERE id=$1`, payoutID, payout.StatusFailed, reason, at)
		return err
	})
}

func (s *Store) ListPayouts(ctx context.Context, orderID string) ([]payout.Payout, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+payoutCols+` FROM payouts WHERE order_id=$1 ORDER BY kind, recipient_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payout.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// VoidPayouts voids every payout of the order that has not settled yet.
func (s *Store) VoidPayouts(ctx context.Context, orderID string, at time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE payouts SET status=$2, updated_at=$3
		WHERE order_id=$1 AND status IN ($4,$5)`,
		orderID, payout.StatusVoided, at, payout.StatusPending, payout.StatusFailed)
	return err
}

func (s *Store) AssignTipPayouts(ctx context.Context, orderIDs []string, fulfillerID string, at time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE payouts SET recipient_id=$2, updated_at=$3
		WHERE order_id = ANY($1) AND kind=$4 AND recipient_id=''`,
		orderIDs, fulfillerID, at, payout.KindTip)
	return err
}
