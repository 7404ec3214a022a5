package store

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id              BIGSERIAL PRIMARY KEY,
    customer_ref    TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'QUEUED',
    promised_date   TIMESTAMPTZ NOT NULL,
    manual_expedite INTEGER NOT NULL DEFAULT 0,
    paid_expedite   INTEGER NOT NULL DEFAULT 0,
    cancelled_at    TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS module_lines (
    id            BIGSERIAL PRIMARY KEY,
    order_id      BIGINT NOT NULL REFERENCES orders(id),
    base_type     TEXT NOT NULL,
    recipe        JSONB NOT NULL,
    qty_ordered   INTEGER NOT NULL CHECK (qty_ordered > 0),
    qty_remaining INTEGER NOT NULL CHECK (qty_remaining >= 0),
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (order_id, base_type)
);
CREATE INDEX IF NOT EXISTS idx_module_lines_base_type ON module_lines(base_type);

CREATE TABLE IF NOT EXISTS sku_balances (
    sku           TEXT PRIMARY KEY,
    on_hand       INTEGER NOT NULL DEFAULT 0,
    soft_reserved INTEGER NOT NULL DEFAULT 0,
    hard_locked   INTEGER NOT NULL DEFAULT 0,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (soft_reserved + hard_locked <= on_hand),
    CHECK (soft_reserved >= 0),
    CHECK (hard_locked >= 0)
);

CREATE TABLE IF NOT EXISTS reservations (
    id         BIGSERIAL PRIMARY KEY,
    sku        TEXT NOT NULL REFERENCES sku_balances(sku),
    order_id   BIGINT NOT NULL REFERENCES orders(id),
    batch_id   BIGINT,
    qty        INTEGER NOT NULL CHECK (qty > 0),
    tier       TEXT NOT NULL CHECK (tier IN ('SOFT', 'HARD')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_reservations_order ON reservations(order_id, sku);
CREATE INDEX IF NOT EXISTS idx_reservations_batch ON reservations(batch_id);

CREATE TABLE IF NOT EXISTS batches (
    id            BIGSERIAL PRIMARY KEY,
    base_type     TEXT NOT NULL,
    state         TEXT NOT NULL DEFAULT 'DRAFT',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_activity TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_batches_state ON batches(state);

CREATE TABLE IF NOT EXISTS batch_entries (
    id       BIGSERIAL PRIMARY KEY,
    batch_id BIGINT NOT NULL REFERENCES batches(id),
    order_id BIGINT NOT NULL REFERENCES orders(id),
    position INTEGER NOT NULL,
    qty      INTEGER NOT NULL CHECK (qty > 0),
    UNIQUE (batch_id, order_id)
);

CREATE TABLE IF NOT EXISTS array_defs (
    base_type TEXT PRIMARY KEY,
    rows      INTEGER NOT NULL CHECK (rows > 0),
    columns   INTEGER NOT NULL CHECK (columns > 0)
);

CREATE TABLE IF NOT EXISTS processed_events (
    event_id     TEXT PRIMARY KEY,
    event_type   TEXT NOT NULL,
    processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// EnsureSchema creates all tables if they do not exist. Safe to run on every
// boot; in-flight state survives restarts in these tables alone.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}
