package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type migration struct {
	Version string
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: "20250101000001",
		Name:    "create_catalog",
		SQL: `
CREATE TABLE IF NOT EXISTS products (
    id                 TEXT PRIMARY KEY,
    seller_id          TEXT NOT NULL,
    name               TEXT NOT NULL,
    unit_price_cents   BIGINT NOT NULL CHECK (unit_price_cents >= 0),
    available_quantity INT NOT NULL CONSTRAINT products_available_nonnegative CHECK (available_quantity >= 0),
    approved           BOOLEAN NOT NULL DEFAULT FALSE,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS profiles (
    buyer_id TEXT PRIMARY KEY,
    name     TEXT NOT NULL DEFAULT '',
    region   TEXT NOT NULL DEFAULT '',
    street   TEXT NOT NULL DEFAULT '',
    line2    TEXT NOT NULL DEFAULT '',
    city     TEXT NOT NULL DEFAULT '',
    state    TEXT NOT NULL DEFAULT '',
    zip      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS markets (
    id                  TEXT PRIMARY KEY,
    region              TEXT NOT NULL UNIQUE,
    timezone            TEXT NOT NULL DEFAULT 'UTC',
    cutoff_hour         INT NOT NULL CHECK (cutoff_hour BETWEEN 0 AND 23),
    delivery_days       INT[] NOT NULL DEFAULT '{}',
    minimum_order_cents BIGINT NOT NULL DEFAULT 0,
    delivery_fee_cents  BIGINT NOT NULL DEFAULT 0,
    collection_point_id TEXT NOT NULL DEFAULT '',
    collection_address  JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS carts (
    id         TEXT PRIMARY KEY,
    buyer_id   TEXT NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS cart_items (
    cart_id          TEXT NOT NULL REFERENCES carts(id) ON DELETE CASCADE,
    product_id       TEXT NOT NULL REFERENCES products(id),
    seller_id        TEXT NOT NULL,
    quantity         INT NOT NULL CHECK (quantity > 0),
    unit_price_cents BIGINT NOT NULL,
    added_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (cart_id, product_id)
);
`,
	},
	{
		Version: "20250101000002",
		Name:    "create_orders",
		SQL: `
CREATE TABLE IF NOT EXISTS orders (
    id                 TEXT PRIMARY KEY,
    buyer_id           TEXT NOT NULL,
    cart_id            TEXT NOT NULL,
    market_id          TEXT NOT NULL REFERENCES markets(id),
    delivery_date      TIMESTAMPTZ NOT NULL,
    status             TEXT NOT NULL,
    payment_status     TEXT NOT NULL,
    payment_intent_id  TEXT NOT NULL DEFAULT '',
    subtotal_cents     BIGINT NOT NULL,
    delivery_fee_cents BIGINT NOT NULL,
    tip_cents          BIGINT NOT NULL DEFAULT 0,
    credits_cents      BIGINT NOT NULL DEFAULT 0,
    total_cents        BIGINT NOT NULL CHECK (total_cents >= 0),
    batch_id           TEXT NOT NULL DEFAULT '',
    cancelled_at       TIMESTAMPTZ,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS orders_one_pending_per_cart
    ON orders (buyer_id, cart_id) WHERE status = 'pending_payment';
CREATE INDEX IF NOT EXISTS idx_orders_status_delivery ON orders (status, delivery_date);
CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders (status, created_at);
CREATE INDEX IF NOT EXISTS idx_orders_intent ON orders (payment_intent_id) WHERE payment_intent_id <> '';

CREATE TABLE IF NOT EXISTS order_items (
    order_id         TEXT NOT NULL REFERENCES orders(id),
    product_id       TEXT NOT NULL,
    seller_id        TEXT NOT NULL,
    quantity         INT NOT NULL CHECK (quantity > 0),
    unit_price_cents BIGINT NOT NULL,
    subtotal_cents   BIGINT NOT NULL,
    PRIMARY KEY (order_id, product_id)
);

CREATE TABLE IF NOT EXISTS reservations (
    order_id     TEXT NOT NULL,
    product_id   TEXT NOT NULL REFERENCES products(id),
    qty          INT NOT NULL CHECK (qty > 0),
    status       TEXT NOT NULL DEFAULT 'RESERVED',
    old_quantity INT NOT NULL,
    new_quantity INT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (order_id, product_id)
);

CREATE TABLE IF NOT EXISTS payment_events (
    event_id    TEXT PRIMARY KEY,
    event_type  TEXT NOT NULL,
    order_id    TEXT NOT NULL,
    received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
	},
	{
		Version: "20250101000003",
		Name:    "create_credits",
		SQL: `
CREATE TABLE IF NOT EXISTS credit_entries (
    id                  TEXT PRIMARY KEY,
    buyer_id            TEXT NOT NULL,
    seq                 BIGINT NOT NULL,
    amount_cents        BIGINT NOT NULL,
    balance_after_cents BIGINT NOT NULL,
    type                TEXT NOT NULL,
    description         TEXT NOT NULL DEFAULT '',
    reference           TEXT NOT NULL DEFAULT '',
    expires_at          TIMESTAMPTZ,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (buyer_id, seq)
);

CREATE UNIQUE INDEX IF NOT EXISTS credit_entries_reference
    ON credit_entries (buyer_id, type, reference) WHERE reference <> '';
`,
	},
	{
		Version: "20250101000004",
		Name:    "create_payouts",
		SQL: `
CREATE TABLE IF NOT EXISTS payouts (
    id             TEXT PRIMARY KEY,
    order_id       TEXT NOT NULL REFERENCES orders(id),
    recipient_id   TEXT NOT NULL DEFAULT '',
    recipient_type TEXT NOT NULL,
    kind           TEXT NOT NULL,
    amount_cents   BIGINT NOT NULL CHECK (amount_cents > 0),
    status         TEXT NOT NULL DEFAULT 'pending',
    attempts       INT NOT NULL DEFAULT 0,
    last_error     TEXT NOT NULL DEFAULT '',
    transfer_ref   TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_payouts_order ON payouts (order_id);
CREATE INDEX IF NOT EXISTS idx_payouts_status ON payouts (status, created_at);

CREATE TABLE IF NOT EXISTS payout_accounts (
    recipient_id TEXT PRIMARY KEY,
    destination  TEXT NOT NULL,
    verified     BOOLEAN NOT NULL DEFAULT FALSE
);
`,
	},
	{
		Version: "20250101000005",
		Name:    "create_delivery",
		SQL: `
CREATE TABLE IF NOT EXISTS delivery_batches (
    id            TEXT PRIMARY KEY,
    market_id     TEXT NOT NULL REFERENCES markets(id),
    delivery_date TIMESTAMPTZ NOT NULL,
    geo_key       TEXT NOT NULL DEFAULT '',
    fulfiller_id  TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT 'pending',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS stops (
    id                 TEXT PRIMARY KEY,
    batch_id           TEXT NOT NULL REFERENCES delivery_batches(id),
    order_id           TEXT NOT NULL DEFAULT '',
    buyer_id           TEXT NOT NULL DEFAULT '',
    kind               TEXT NOT NULL,
    sequence           INT NOT NULL,
    status             TEXT NOT NULL DEFAULT 'pending',
    address            JSONB NOT NULL,
    address_visible_at TIMESTAMPTZ,
    arrived_at         TIMESTAMPTZ,
    delivered_at       TIMESTAMPTZ,
    UNIQUE (batch_id, sequence)
);

CREATE UNIQUE INDEX IF NOT EXISTS stops_one_per_order ON stops (order_id) WHERE order_id <> '';

CREATE TABLE IF NOT EXISTS pickup_scans (
    id           TEXT PRIMARY KEY,
    batch_id     TEXT NOT NULL REFERENCES delivery_batches(id),
    stop_id      TEXT NOT NULL REFERENCES stops(id),
    order_id     TEXT NOT NULL,
    fulfiller_id TEXT NOT NULL,
    scanned_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
	},
}

// Migrate applies pending migrations in version order, each in its own
// transaction.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.DB.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	for _, m := range migrations {
		err := s.withTx(ctx, func(tx pgx.Tx) error {
			ct, err := tx.Exec(ctx, `INSERT INTO schema_migrations(version, name) VALUES ($1,$2) ON CONFLICT DO NOTHING`, m.Version, m.Name)
			if err != nil || ct.RowsAffected() == 0 {
				return err
			}
			_, err = tx.Exec(ctx, m.SQL)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s %s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}
