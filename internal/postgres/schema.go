package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS order_states (
		id   UUID PRIMARY KEY,
		name TEXT NOT NULL UNIQUE CHECK (char_length(name) BETWEEN 4 AND 20)
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id         UUID PRIMARY KEY,
		username   TEXT NOT NULL UNIQUE,
		email      TEXT NOT NULL DEFAULT '',
		phone      TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS categories (
		id   UUID PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id           UUID PRIMARY KEY,
		name         TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		price        NUMERIC(12,2) NOT NULL CHECK (price > 0),
		weight       NUMERIC(12,3) NOT NULL CHECK (weight > 0),
		category_ids UUID[] NOT NULL CHECK (cardinality(category_ids) > 0),
		available    INTEGER NOT NULL CHECK (available >= 0),
		image        TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id                UUID PRIMARY KEY,
		confirmation_date TIMESTAMPTZ,
		state_id          UUID NOT NULL REFERENCES order_states(id),
		user_id           UUID NOT NULL REFERENCES users(id),
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_id   UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		position   INTEGER NOT NULL,
		product_id UUID NOT NULL REFERENCES products(id),
		qty        INTEGER NOT NULL CHECK (qty >= 1),
		PRIMARY KEY (order_id, position)
	)`,
	`CREATE INDEX IF NOT EXISTS orders_state_idx ON orders(state_id)`,
	`CREATE INDEX IF NOT EXISTS orders_user_idx ON orders(user_id)`,
	`CREATE INDEX IF NOT EXISTS order_items_product_idx ON order_items(product_id)`,
}

// Migrate creates missing tables and indexes. It is safe to run on every boot.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}

// Migrate applies the schema to the store's database.
func (s *Store) Migrate(ctx context.Context) error { return Migrate(ctx, s.DB) }
