// Package sale implements the sale transaction engine: one call turns a
// cart into stock decrements, an order, a sale ledger entry and its fee
// expense, atomically.
package sale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"possale/m/domain"
	"possale/m/internal/database"
	"possale/m/internal/fee"
	"possale/m/internal/recipe"
	"possale/m/internal/stock"
)

// Request is the cart submitted by a POS client.
type Request struct {
	SessionID     int64             `json:"session_id"`
	PaymentMethod string            `json:"payment_method"`
	Items         []domain.CartItem `json:"items"`
}

// Result describes a committed sale.
type Result struct {
	OrderID     int64           `json:"order_id"`
	ReceiptCode string          `json:"receipt_code"`
	SaleID      int64           `json:"sale_id"`
	ExpenseID   *int64          `json:"expense_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	FeeAmount   decimal.Decimal `json:"fee_amount"`
	NetAmount   decimal.Decimal `json:"net_amount"`
}

// Engine processes sales. It holds no per-sale state; every call reads
// current rows and writes inside its own transaction.
type Engine struct {
	db          *sqlx.DB
	fees        *fee.Table
	ledger      *stock.Ledger
	log         *zap.Logger
	timeout     time.Duration
	lockTimeout time.Duration
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout bounds a whole ProcessSale call, lock waits included.
func WithTimeout(d time.Duration) Option { return func(e *Engine) { e.timeout = d } }

// WithLockTimeout bounds each row-lock wait on Postgres.
func WithLockTimeout(d time.Duration) Option { return func(e *Engine) { e.lockTimeout = d } }

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(db *sqlx.DB, fees *fee.Table, log *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		db:          db,
		fees:        fees,
		ledger:      stock.NewLedger(),
		log:         log,
		timeout:     10 * time.Second,
		lockTimeout: 5 * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessSale runs the whole sale as one transaction and returns the new
// order id. On any error nothing the call wrote survives.
func (e *Engine) ProcessSale(ctx context.Context, req Request) (Result, error) {
	gross, err := e.validate(req)
	if err != nil {
		return Result{}, err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	res, err := e.run(ctx, req, gross)
	if err != nil {
		err = database.Classify(err)
		e.log.Warn("sale aborted",
			zap.Int64("session_id", req.SessionID),
			zap.String("payment_method", req.PaymentMethod),
			zap.Bool("retryable", IsRetryable(err)),
			zap.Error(err),
		)
		return Result{}, err
	}
	e.log.Info("sale committed",
		zap.Int64("order_id", res.OrderID),
		zap.Int64("session_id", req.SessionID),
		zap.String("payment_method", req.PaymentMethod),
		zap.String("amount", res.Amount.StringFixed(2)),
		zap.String("fee_amount", res.FeeAmount.StringFixed(2)),
	)
	return res, nil
}

// validate checks the cart and returns the gross amount recomputed from
// the lines. Line totals are rounded to cents before summing.
func (e *Engine) validate(req Request) (decimal.Decimal, error) {
	if req.SessionID <= 0 {
		return decimal.Zero, invalid("session_id", "is required")
	}
	if len(req.Items) == 0 {
		return decimal.Zero, invalid("items", "cart is empty")
	}
	if req.PaymentMethod == "" {
		return decimal.Zero, invalid("payment_method", "is required")
	}
	if _, ok := e.fees.Rule(req.PaymentMethod); !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", fee.ErrUnknownMethod, req.PaymentMethod)
	}
	gross := decimal.Zero
	for i, item := range req.Items {
		if item.ID <= 0 {
			return decimal.Zero, invalid(fmt.Sprintf("items[%d].id", i), "is required")
		}
		if item.ItemType != domain.ItemTypeRecipe && item.ItemType != domain.ItemTypeResale {
			return decimal.Zero, invalid(fmt.Sprintf("items[%d].item_type", i), "must be %q or %q", domain.ItemTypeRecipe, domain.ItemTypeResale)
		}
		if !item.Quantity.IsPositive() {
			return decimal.Zero, invalid(fmt.Sprintf("items[%d].quantity", i), "must be positive")
		}
		if item.UnitPrice.IsNegative() {
			return decimal.Zero, invalid(fmt.Sprintf("items[%d].unit_price", i), "must not be negative")
		}
		gross = gross.Add(lineTotal(item))
	}
	return gross, nil
}

func lineTotal(item domain.CartItem) decimal.Decimal {
	return item.Quantity.Mul(item.UnitPrice).Round(2)
}

func (e *Engine) run(ctx context.Context, req Request, gross decimal.Decimal) (Result, error) {
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("begin sale: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := database.SetLockTimeout(ctx, tx, e.lockTimeout.Milliseconds()); err != nil {
		return Result{}, fmt.Errorf("set lock timeout: %w", err)
	}

	if err := e.checkSession(ctx, tx, req.SessionID); err != nil {
		return Result{}, err
	}

	reqs, err := e.stockRequests(ctx, tx, req.Items)
	if err != nil {
		return Result{}, err
	}
	if err := e.ledger.ReserveAndDecrement(ctx, tx, reqs); err != nil {
		return Result{}, err
	}

	feeAmount, net, err := e.fees.Compute(req.PaymentMethod, gross)
	if err != nil {
		return Result{}, err
	}

	now := e.now()
	res := Result{Amount: gross, FeeAmount: feeAmount, NetAmount: net, ReceiptCode: uuid.NewString()}

	res.OrderID, err = e.insertOrder(ctx, tx, req, res.ReceiptCode, now)
	if err != nil {
		return Result{}, err
	}

	res.SaleID, err = insertID(ctx, tx, `INSERT INTO sales
		(order_id, session_id, description, amount, category, payment_method, fee_amount, net_amount, sold_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.OrderID, req.SessionID, fmt.Sprintf("POS order #%d", res.OrderID), gross,
		domain.SaleCategoryPOS, req.PaymentMethod, feeAmount, net, now)
	if err != nil {
		return Result{}, fmt.Errorf("insert sale: %w", err)
	}

	if feeAmount.IsPositive() {
		expenseID, err := insertID(ctx, tx, `INSERT INTO expenses
			(sale_id, description, amount, category, spent_at)
			VALUES (?, ?, ?, ?, ?)`,
			res.SaleID, fmt.Sprintf("Payment fee (%s) for order #%d", req.PaymentMethod, res.OrderID),
			feeAmount, domain.ExpenseCategoryFeeName, now)
		if err != nil {
			return Result{}, fmt.Errorf("insert fee expense: %w", err)
		}
		res.ExpenseID = &expenseID
	}

	if err := tx.Commit(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// The context closed the transaction before commit started.
			return Result{}, fmt.Errorf("commit sale: %w", ctxErr)
		}
		return Result{}, fmt.Errorf("commit sale: %w", err)
	}
	committed = true
	return res, nil
}

// checkSession requires an open session and holds a share lock on it so
// it cannot be closed while this sale commits.
func (e *Engine) checkSession(ctx context.Context, tx *sqlx.Tx, sessionID int64) error {
	var status string
	err := tx.GetContext(ctx, &status, tx.Rebind(`SELECT status FROM cash_sessions WHERE id = ?`+
		database.LockClause(tx, "SHARE")), sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("session %d: %w", sessionID, ErrInvalidSession)
		}
		return fmt.Errorf("load session %d: %w", sessionID, err)
	}
	if status != domain.SessionOpen {
		return fmt.Errorf("session %d is %s: %w", sessionID, status, ErrInvalidSession)
	}
	return nil
}

// stockRequests expands recipe lines into ingredient consumption and adds
// resale lines as product requests.
func (e *Engine) stockRequests(ctx context.Context, tx *sqlx.Tx, items []domain.CartItem) ([]stock.Request, error) {
	resolver := recipe.NewResolver(recipe.NewSQLSource(tx))
	ingredients := make(recipe.Requirements)
	var reqs []stock.Request
	for _, item := range items {
		switch item.ItemType {
		case domain.ItemTypeRecipe:
			need, err := resolver.Resolve(ctx, item.ID, item.Quantity)
			if err != nil {
				return nil, err
			}
			ingredients.Merge(need)
		case domain.ItemTypeResale:
			reqs = append(reqs, stock.Request{Kind: domain.StockProduct, EntityID: item.ID, Quantity: item.Quantity})
		}
	}
	for _, id := range ingredients.IngredientIDs() {
		reqs = append(reqs, stock.Request{Kind: domain.StockIngredient, EntityID: id, Quantity: ingredients[id]})
	}
	return reqs, nil
}

func (e *Engine) insertOrder(ctx context.Context, tx *sqlx.Tx, req Request, receipt string, now time.Time) (int64, error) {
	orderID, err := insertID(ctx, tx, `INSERT INTO orders (session_id, receipt_code, created_at) VALUES (?, ?, ?)`,
		req.SessionID, receipt, now)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}
	for i, item := range req.Items {
		var productID, recipeID *int64
		id := item.ID
		if item.ItemType == domain.ItemTypeResale {
			productID = &id
		} else {
			recipeID = &id
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO order_items
			(order_id, line_no, item_type, product_id, recipe_id, quantity, unit_price, total_price)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			orderID, i+1, item.ItemType, productID, recipeID, item.Quantity, item.UnitPrice, lineTotal(item))
		if err != nil {
			return 0, fmt.Errorf("insert order item %d: %w", i+1, err)
		}
	}
	return orderID, nil
}

func insertID(ctx context.Context, tx *sqlx.Tx, query string, args ...any) (int64, error) {
	var id int64
	err := tx.QueryRowxContext(ctx, tx.Rebind(query+` RETURNING id`), args...).Scan(&id)
	return id, err
}
