// Package stock owns the on-hand quantities of ingredients and resale
// products and the only operation that decrements them.
package stock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"possale/m/domain"
	"possale/m/internal/database"
)

// Scale is the number of decimal places stock columns store.
const Scale = 4

// Request asks for Quantity of one ingredient or product.
type Request struct {
	Kind     domain.StockKind
	EntityID int64
	Quantity decimal.Decimal
}

// InsufficientStockError reports the first entity that could not cover its
// request. No request of the batch has taken effect once the enclosing
// transaction rolls back.
type InsufficientStockError struct {
	Kind      domain.StockKind
	EntityID  int64
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s %d: available %s, requested %s",
		e.Kind, e.EntityID, e.Available, e.Requested)
}

// NotFoundError is returned when a request names an entity that does not exist.
type NotFoundError struct {
	Kind     domain.StockKind
	EntityID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.EntityID)
}

// ErrInvalidQuantity is returned for requests with a non-positive quantity.
var ErrInvalidQuantity = errors.New("stock request quantity must be positive")

func table(kind domain.StockKind) (string, error) {
	switch kind {
	case domain.StockIngredient:
		return "ingredients", nil
	case domain.StockProduct:
		return "products", nil
	default:
		return "", fmt.Errorf("unknown stock kind %q", kind)
	}
}

// Ledger applies batch decrements inside a caller-owned transaction.
type Ledger struct {
	now func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{now: func() time.Time { return time.Now().UTC() }}
}

// Merge sums requests for the same entity and orders the result by kind,
// then id. Applying batches in this order makes concurrent transactions
// take row locks in the same sequence.
func Merge(reqs []Request) []Request {
	type key struct {
		kind domain.StockKind
		id   int64
	}
	idx := make(map[key]int, len(reqs))
	out := make([]Request, 0, len(reqs))
	for _, r := range reqs {
		k := key{r.Kind, r.EntityID}
		if i, ok := idx[k]; ok {
			out[i].Quantity = out[i].Quantity.Add(r.Quantity)
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out
}

// ReserveAndDecrement decrements every request or fails on the first that
// cannot be covered. Merged quantities are rounded to Scale first so the
// comparison matches what the column can hold; the caller must roll tx back
// on error to undo earlier rows of the batch.
func (l *Ledger) ReserveAndDecrement(ctx context.Context, tx *sqlx.Tx, reqs []Request) error {
	for _, r := range reqs {
		if !r.Quantity.IsPositive() {
			return fmt.Errorf("%s %d: %w", r.Kind, r.EntityID, ErrInvalidQuantity)
		}
	}
	now := l.now()
	for _, r := range Merge(reqs) {
		r.Quantity = r.Quantity.Round(Scale)
		if r.Quantity.IsZero() {
			continue
		}
		var err error
		if database.IsSQLite(tx) {
			err = l.decrementExact(ctx, tx, r, now)
		} else {
			err = l.decrementConditional(ctx, tx, r, now)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// decrementConditional checks and writes in one statement holding the row
// lock. NUMERIC arithmetic in Postgres is exact.
func (l *Ledger) decrementConditional(ctx context.Context, tx *sqlx.Tx, r Request, now time.Time) error {
	tbl, err := table(r.Kind)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE `+tbl+`
		SET current_stock = current_stock - ?, updated_at = ?
		WHERE id = ? AND current_stock >= ?`),
		r.Quantity, now, r.EntityID, r.Quantity)
	if err != nil {
		return fmt.Errorf("decrement %s %d: %w", r.Kind, r.EntityID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decrement %s %d: %w", r.Kind, r.EntityID, err)
	}
	if n == 1 {
		return nil
	}
	available, err := l.available(ctx, tx, r.Kind, r.EntityID)
	if err != nil {
		return err
	}
	return &InsufficientStockError{Kind: r.Kind, EntityID: r.EntityID, Available: available, Requested: r.Quantity}
}

// decrementExact reads, compares and writes in decimal. SQLite stores
// NUMERIC as REAL, so arithmetic in SQL would drift; the single pooled
// connection keeps the read and the write inside one writer.
func (l *Ledger) decrementExact(ctx context.Context, tx *sqlx.Tx, r Request, now time.Time) error {
	tbl, err := table(r.Kind)
	if err != nil {
		return err
	}
	available, err := l.available(ctx, tx, r.Kind, r.EntityID)
	if err != nil {
		return err
	}
	if available.LessThan(r.Quantity) {
		return &InsufficientStockError{Kind: r.Kind, EntityID: r.EntityID, Available: available, Requested: r.Quantity}
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE `+tbl+` SET current_stock = ?, updated_at = ? WHERE id = ?`),
		available.Sub(r.Quantity), now, r.EntityID)
	if err != nil {
		return fmt.Errorf("decrement %s %d: %w", r.Kind, r.EntityID, err)
	}
	return nil
}

// Available reads the current quantity of an entity.
func (l *Ledger) Available(ctx context.Context, q sqlx.ExtContext, kind domain.StockKind, id int64) (decimal.Decimal, error) {
	return l.available(ctx, q, kind, id)
}

func (l *Ledger) available(ctx context.Context, q sqlx.ExtContext, kind domain.StockKind, id int64) (decimal.Decimal, error) {
	tbl, err := table(kind)
	if err != nil {
		return decimal.Zero, err
	}
	var qty decimal.Decimal
	err = sqlx.GetContext(ctx, q, &qty, q.Rebind(`SELECT current_stock FROM `+tbl+` WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, &NotFoundError{Kind: kind, EntityID: id}
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read %s %d stock: %w", kind, id, err)
	}
	return qty.Round(Scale), nil
}
