// Package testutil provides database fixtures shared by package tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"possale/m/internal/database"
	"possale/m/internal/migrations"
)

// OpenDB creates a migrated SQLite database in a temp directory.
func OpenDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.Connect("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(context.Background(), db); err != nil {
		t.Fatalf("migrations.Run() failed: %v", err)
	}
	return db
}

// PostgresDSNEnv names the variable holding a disposable Postgres database
// for tests that need real row locks and concurrent connections.
const PostgresDSNEnv = "POSSALE_TEST_POSTGRES_DSN"

// OpenPostgres connects to the database named by PostgresDSNEnv, migrates
// it and empties every table. The test is skipped when the variable is unset.
func OpenPostgres(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", PostgresDSNEnv)
	}
	db, err := database.Connect("pgx", dsn)
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(context.Background(), db); err != nil {
		t.Fatalf("migrations.Run() failed: %v", err)
	}
	if _, err := db.Exec(`TRUNCATE expenses, sales, order_items, orders, cash_sessions,
		recipe_items, recipes, products, ingredients RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate failed: %v", err)
	}
	return db
}

// D parses a decimal literal.
func D(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func insert(t *testing.T, db *sqlx.DB, query string, args ...any) int64 {
	t.Helper()
	var id int64
	if err := db.QueryRowx(db.Rebind(query+` RETURNING id`), args...).Scan(&id); err != nil {
		t.Fatalf("insert failed: %v\n%s", err, query)
	}
	return id
}

func Ingredient(t *testing.T, db *sqlx.DB, name, stock string) int64 {
	t.Helper()
	return insert(t, db, `INSERT INTO ingredients (name, unit, base_unit, current_stock, updated_at) VALUES (?, 'g', 'g', ?, ?)`,
		name, D(stock), time.Now().UTC())
}

func Product(t *testing.T, db *sqlx.DB, name, stock, price string) int64 {
	t.Helper()
	return insert(t, db, `INSERT INTO products (name, price, current_stock, updated_at) VALUES (?, ?, ?, ?)`,
		name, D(price), D(stock), time.Now().UTC())
}

func Recipe(t *testing.T, db *sqlx.DB, name string, isBase bool, yield string) int64 {
	t.Helper()
	return insert(t, db, `INSERT INTO recipes (name, is_base, yield_quantity) VALUES (?, ?, ?)`,
		name, isBase, D(yield))
}

func IngredientItem(t *testing.T, db *sqlx.DB, recipeID, ingredientID int64, qty string) {
	t.Helper()
	insert(t, db, `INSERT INTO recipe_items (recipe_id, item_type, ingredient_id, quantity) VALUES (?, 'ingredient', ?, ?)`,
		recipeID, ingredientID, D(qty))
}

func SubRecipeItem(t *testing.T, db *sqlx.DB, recipeID, subID int64, qty string) {
	t.Helper()
	insert(t, db, `INSERT INTO recipe_items (recipe_id, item_type, sub_recipe_id, quantity) VALUES (?, 'recipe', ?, ?)`,
		recipeID, subID, D(qty))
}

func Session(t *testing.T, db *sqlx.DB, userID int64, status string) int64 {
	t.Helper()
	return insert(t, db, `INSERT INTO cash_sessions (user_id, opening_balance, status, opened_at) VALUES (?, 0, ?, ?)`,
		userID, status, time.Now().UTC())
}

// Stock reads current_stock of an ingredient or product table row.
func Stock(t *testing.T, db *sqlx.DB, table string, id int64) decimal.Decimal {
	t.Helper()
	var qty decimal.Decimal
	if err := db.Get(&qty, db.Rebind(`SELECT current_stock FROM `+table+` WHERE id = ?`), id); err != nil {
		t.Fatalf("read stock failed: %v", err)
	}
	return qty
}

// Count returns the number of rows in table.
func Count(t *testing.T, db *sqlx.DB, table string) int {
	t.Helper()
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM `+table); err != nil {
		t.Fatalf("count %s failed: %v", table, err)
	}
	return n
}
