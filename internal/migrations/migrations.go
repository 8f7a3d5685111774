package migrations

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"possale/m/internal/database"
)

// Run creates the database schema required for the POS backend.
func Run(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schemaFor(db) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// schemaFor renders the DDL for the connected dialect. Statements are
// written for Postgres and translated for SQLite.
func schemaFor(db *sqlx.DB) []string {
	if !database.IsSQLite(db) {
		return schema
	}
	r := strings.NewReplacer(
		"SERIAL PRIMARY KEY", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"TIMESTAMPTZ", "DATETIME",
		"BOOLEAN NOT NULL DEFAULT FALSE", "BOOLEAN NOT NULL DEFAULT 0",
	)
	out := make([]string, 0, len(schema))
	for _, stmt := range schema {
		out = append(out, r.Replace(stmt))
	}
	return out
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ingredients (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL DEFAULT '',
		unit TEXT NOT NULL DEFAULT '',
		base_unit TEXT NOT NULL DEFAULT '',
		current_stock NUMERIC(14,4) NOT NULL DEFAULT 0 CHECK (current_stock >= 0),
		min_stock NUMERIC(14,4) NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS products (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL DEFAULT '',
		price NUMERIC(14,2) NOT NULL DEFAULT 0,
		cost_price NUMERIC(14,2) NOT NULL DEFAULT 0,
		current_stock NUMERIC(14,4) NOT NULL DEFAULT 0 CHECK (current_stock >= 0),
		min_stock NUMERIC(14,4) NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS recipes (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL DEFAULT '',
		selling_price NUMERIC(14,2) NOT NULL DEFAULT 0,
		unit_cost NUMERIC(14,4) NOT NULL DEFAULT 0,
		is_base BOOLEAN NOT NULL DEFAULT FALSE,
		yield_quantity NUMERIC(14,4) NOT NULL DEFAULT 1,
		yield_unit TEXT NOT NULL DEFAULT 'unit'
	);`,
	`CREATE TABLE IF NOT EXISTS recipe_items (
		id SERIAL PRIMARY KEY,
		recipe_id INTEGER NOT NULL REFERENCES recipes(id),
		item_type TEXT NOT NULL CHECK (item_type IN ('ingredient', 'recipe')),
		ingredient_id INTEGER REFERENCES ingredients(id),
		sub_recipe_id INTEGER REFERENCES recipes(id),
		quantity NUMERIC(14,4) NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS recipe_items_recipe_idx ON recipe_items (recipe_id);`,
	`CREATE TABLE IF NOT EXISTS cash_sessions (
		id SERIAL PRIMARY KEY,
		user_id INTEGER NOT NULL,
		opening_balance NUMERIC(14,2) NOT NULL DEFAULT 0,
		closing_balance NUMERIC(14,2),
		status TEXT NOT NULL CHECK (status IN ('open', 'closed')),
		opened_at TIMESTAMPTZ NOT NULL,
		closed_at TIMESTAMPTZ
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS cash_sessions_one_open_idx ON cash_sessions (user_id) WHERE status = 'open';`,
	`CREATE TABLE IF NOT EXISTS orders (
		id SERIAL PRIMARY KEY,
		session_id INTEGER NOT NULL REFERENCES cash_sessions(id),
		receipt_code TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id SERIAL PRIMARY KEY,
		order_id INTEGER NOT NULL REFERENCES orders(id),
		line_no INTEGER NOT NULL,
		item_type TEXT NOT NULL CHECK (item_type IN ('recipe', 'resale')),
		product_id INTEGER REFERENCES products(id),
		recipe_id INTEGER REFERENCES recipes(id),
		quantity NUMERIC(14,4) NOT NULL,
		unit_price NUMERIC(14,2) NOT NULL,
		total_price NUMERIC(14,2) NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS sales (
		id SERIAL PRIMARY KEY,
		order_id INTEGER NOT NULL REFERENCES orders(id),
		session_id INTEGER NOT NULL REFERENCES cash_sessions(id),
		description TEXT NOT NULL,
		amount NUMERIC(14,2) NOT NULL,
		category TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		fee_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
		net_amount NUMERIC(14,2) NOT NULL,
		sold_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS sales_sold_at_idx ON sales (sold_at);`,
	`CREATE TABLE IF NOT EXISTS expenses (
		id SERIAL PRIMARY KEY,
		sale_id INTEGER REFERENCES sales(id),
		description TEXT NOT NULL,
		amount NUMERIC(14,2) NOT NULL,
		category TEXT NOT NULL,
		spent_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS expenses_spent_at_idx ON expenses (spent_at);`,
}
