package postgres

import (
	"context"

	"github.com/ariefcatur/go-fresh-orders/internal/credits"
	"github.com/jackc/pgx/v5"
)

const creditCols = `id, buyer_id, seq, amount_cents, balance_after_cents, type, description, reference, expires_at, created_at`

func listCredits(ctx context.Context, q querier, buyerID string) ([]credits.Entry, error) {
	rows, err := q.Query(ctx, `SELECT `+creditCols+` FROM credit_entries WHERE buyer_id=$1 ORDER BY seq`, buyerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []credits.Entry
	for rows.Next() {
		var e credits.Entry
		if err := rows.Scan(&e.ID, &e.BuyerID, &e.Seq, &e.AmountCents, &e.BalanceAfterCents,
			&e.Type, &e.Description, &e.Reference, &e.ExpiresAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// appendCredits serializes appends per buyer with a transaction-scoped
// advisory lock, so build always sees the latest history.
func appendCredits(ctx context.Context, tx pgx.Tx, buyerID string, build func([]credits.Entry) ([]credits.Entry, error)) ([]credits.Entry, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "credits:"+buyerID); err != nil {
		return nil, err
	}
	history, err := listCredits(ctx, tx, buyerID)
	if err != nil {
		return nil, err
	}
	es, err := build(history)
	if err != nil {
		return nil, err
	}
	for _, e := range es {
		_, err = tx.Exec(ctx, `
			INSERT INTO credit_entries(`+creditCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			e.ID, e.BuyerID, e.Seq, e.AmountCents, e.BalanceAfterCents,
			e.Type, e.Description, e.Reference, e.ExpiresAt, e.CreatedAt)
		if err != nil {
			return nil, err
		}
	}
	return es, nil
}

func (s *Store) AppendCredits(ctx context.Context, buyerID string, build func([]credits.Entry) ([]credits.Entry, error)) ([]credits.Entry, error) {
	var out []credits.Entry
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		es, err := appendCredits(ctx, tx, buyerID, build)
		out = es
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListCredits(ctx context.Context, buyerID string) ([]credits.Entry, error) {
	return listCredits(ctx, s.DB, buyerID)
}
