// Package report aggregates the sale ledger written by the sale engine.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"possale/m/domain"
)

// Summary totals the sales in a window.
type Summary struct {
	From  time.Time       `json:"from"`
	To    time.Time       `json:"to"`
	Count int             `json:"sales_count"`
	Gross decimal.Decimal `json:"gross"`
	Fees  decimal.Decimal `json:"fees"`
	Net   decimal.Decimal `json:"net"`
}

// Reconciliation compares fee expenses against sale fee amounts.
type Reconciliation struct {
	From        time.Time       `json:"from"`
	To          time.Time       `json:"to"`
	SaleFees    decimal.Decimal `json:"sale_fees"`
	FeeExpenses decimal.Decimal `json:"fee_expenses"`
}

// Difference is FeeExpenses - SaleFees.
func (r Reconciliation) Difference() decimal.Decimal {
	return r.FeeExpenses.Sub(r.SaleFees)
}

func (r Reconciliation) Balanced() bool {
	return r.Difference().IsZero()
}

type amounts struct {
	Amount    decimal.Decimal `db:"amount"`
	FeeAmount decimal.Decimal `db:"fee_amount"`
	NetAmount decimal.Decimal `db:"net_amount"`
}

// Sales sums engine-generated sales with sold_at in [from, to). Sums are
// taken in Go so they stay exact regardless of the driver's numeric type.
func Sales(ctx context.Context, db sqlx.ExtContext, from, to time.Time) (Summary, error) {
	var rows []amounts
	err := sqlx.SelectContext(ctx, db, &rows, db.Rebind(`
		SELECT amount, fee_amount, net_amount FROM sales
		WHERE category = ? AND sold_at >= ? AND sold_at < ?`),
		domain.SaleCategoryPOS, from.UTC(), to.UTC())
	if err != nil {
		return Summary{}, fmt.Errorf("sales report: %w", err)
	}
	s := Summary{From: from, To: to, Count: len(rows), Gross: decimal.Zero, Fees: decimal.Zero, Net: decimal.Zero}
	for _, r := range rows {
		s.Gross = s.Gross.Add(r.Amount)
		s.Fees = s.Fees.Add(r.FeeAmount)
		s.Net = s.Net.Add(r.NetAmount)
	}
	return s, nil
}

// DailySales sums the sales of the UTC calendar day containing day.
func DailySales(ctx context.Context, db sqlx.ExtContext, day time.Time) (Summary, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return Sales(ctx, db, from, from.AddDate(0, 0, 1))
}

// FeeReconciliation totals fee-category expenses and sale fee amounts over
// [from, to). Both sides are written in one transaction by the engine, so
// any difference points at rows created outside it.
func FeeReconciliation(ctx context.Context, db sqlx.ExtContext, from, to time.Time) (Reconciliation, error) {
	s, err := Sales(ctx, db, from, to)
	if err != nil {
		return Reconciliation{}, err
	}
	var fees []decimal.Decimal
	err = sqlx.SelectContext(ctx, db, &fees, db.Rebind(`
		SELECT amount FROM expenses
		WHERE category = ? AND spent_at >= ? AND spent_at < ?`),
		domain.ExpenseCategoryFeeName, from.UTC(), to.UTC())
	if err != nil {
		return Reconciliation{}, fmt.Errorf("fee expenses: %w", err)
	}
	r := Reconciliation{From: from, To: to, SaleFees: s.Fees, FeeExpenses: decimal.Zero}
	for _, f := range fees {
		r.FeeExpenses = r.FeeExpenses.Add(f)
	}
	return r, nil
}
