package sale

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"possale/m/domain"
	"possale/m/internal/fee"
	"possale/m/internal/logger"
	"possale/m/internal/recipe"
	"possale/m/internal/stock"
	"possale/m/internal/testutil"
)

var d = testutil.D

type fixture struct {
	db      *sqlx.DB
	engine  *Engine
	session int64
	flour   int64
	cheese  int64
	soda    int64
	pizza   int64 // 100g flour per unit
	calzone int64 // 250g dough base + 50g cheese
	dough   int64 // base yielding 500g from 400g flour
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, testutil.OpenDB(t))
}

func newFixtureOn(t *testing.T, db *sqlx.DB) *fixture {
	t.Helper()
	fees, err := fee.NewTable(map[string]fee.Rule{
		"cash":        fee.None(),
		"voucher":     fee.Flat(d("2.50")),
		"credit_card": fee.Percent(d("3")),
		"broken":      fee.Flat(d("1000")),
	})
	require.NoError(t, err)

	f := &fixture{db: db, engine: NewEngine(db, fees, logger.Nop())}
	f.session = testutil.Session(t, db, 1, domain.SessionOpen)
	f.flour = testutil.Ingredient(t, db, "flour", "1000")
	f.cheese = testutil.Ingredient(t, db, "cheese", "500")
	f.soda = testutil.Product(t, db, "soda", "10", "5")

	f.pizza = testutil.Recipe(t, db, "pizza", false, "1")
	testutil.IngredientItem(t, db, f.pizza, f.flour, "100")

	f.dough = testutil.Recipe(t, db, "dough", true, "500")
	testutil.IngredientItem(t, db, f.dough, f.flour, "400")
	f.calzone = testutil.Recipe(t, db, "calzone", false, "1")
	testutil.SubRecipeItem(t, db, f.calzone, f.dough, "250")
	testutil.IngredientItem(t, db, f.calzone, f.cheese, "50")
	return f
}

func (f *fixture) stock(t *testing.T, table string, id int64) string {
	t.Helper()
	return testutil.Stock(t, f.db, table, id).String()
}

func (f *fixture) assertNothingWritten(t *testing.T) {
	t.Helper()
	for _, table := range []string{"orders", "order_items", "sales", "expenses"} {
		assert.Zero(t, testutil.Count(t, f.db, table), table)
	}
	assert.Equal(t, "1000", f.stock(t, "ingredients", f.flour))
	assert.Equal(t, "500", f.stock(t, "ingredients", f.cheese))
	assert.Equal(t, "10", f.stock(t, "products", f.soda))
}

func recipeLine(id int64, qty, price string) domain.CartItem {
	return domain.CartItem{ID: id, ItemType: domain.ItemTypeRecipe, Quantity: d(qty), UnitPrice: d(price)}
}

func resaleLine(id int64, qty, price string) domain.CartItem {
	return domain.CartItem{ID: id, ItemType: domain.ItemTypeResale, Quantity: d(qty), UnitPrice: d(price)}
}

func TestProcessSaleDeductsRecipeIngredients(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.ProcessSale(context.Background(), Request{
		SessionID: f.session, PaymentMethod: "cash",
		Items: []domain.CartItem{recipeLine(f.pizza, "2", "30")},
	})
	require.NoError(t, err)
	assert.NotZero(t, res.OrderID)
	assert.Equal(t, "800", f.stock(t, "ingredients", f.flour))
}

func TestProcessSaleDeductsResaleProducts(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.ProcessSale(context.Background(), Request{
		SessionID: f.session, PaymentMethod: "cash",
		Items: []domain.CartItem{resaleLine(f.soda, "3", "5")},
	})
	require.NoError(t, err)
	assert.Equal(t, "7", f.stock(t, "products", f.soda))
}

func TestProcessSaleMergesIngredientsAcrossLines(t *testing.T) {
	f := newFixture(t)

	// pizza x2: 200g flour; calzone x1: 250/500*400 = 200g flour, 50g cheese.
	_, err := f.engine.ProcessSale(context.Background(), Request{
		SessionID: f.session, PaymentMethod: "cash",
		Items: []domain.CartItem{
			recipeLine(f.pizza, "2", "30"),
			recipeLine(f.calzone, "1", "40"),
			resaleLine(f.soda, "1", "5"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "600", f.stock(t, "ingredients", f.flour))
	assert.Equal(t, "450", f.stock(t, "ingredients", f.cheese))
	assert.Equal(t, "9", f.stock(t, "products", f.soda))
}

func TestProcessSaleRecordsFeeExpense(t *testing.T) {
	f := newFixture(t)

	// 2 x 50 + 3 x 5 = 115
	res, err := f.engine.ProcessSale(context.Background(), Request{
		SessionID: f.session, PaymentMethod: "voucher",
		Items: []domain.CartItem{
			recipeLine(f.pizza, "2", "50"),
			resaleLine(f.soda, "3", "5"),
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Amount.Equal(d("115")))
	assert.True(t, res.FeeAmount.Equal(d("2.50")))
	assert.True(t, res.NetAmount.Equal(d("112.50")))
	require.NotNil(t, res.ExpenseID)

	var s domain.Sale
	require.NoError(t, f.db.Get(&s, `SELECT * FROM sales`))
	assert.Equal(t, res.SaleID, s.ID)
	assert.Equal(t, res.OrderID, s.OrderID)
	assert.Equal(t, f.session, s.SessionID)
	assert.Equal(t, domain.SaleCategoryPOS, s.Category)
	assert.Equal(t, "voucher", s.PaymentMethod)
	assert.True(t, s.Amount.Equal(d("115")), "amount = %s", s.Amount)
	assert.True(t, s.FeeAmount.Equal(d("2.5")), "fee = %s", s.FeeAmount)
	assert.True(t, s.NetAmount.Equal(d("112.5")), "net = %s", s.NetAmount)
	assert.True(t, s.NetAmount.Equal(s.Amount.Sub(s.FeeAmount)))

	var expenses []domain.Expense
	require.NoError(t, f.db.Select(&expenses, `SELECT * FROM expenses`))
	require.Len(t, expenses, 1)
	assert.Equal(t, *res.ExpenseID, expenses[0].ID)
	assert.Equal(t, domain.ExpenseCategoryFeeName, expenses[0].Category)
	assert.True(t, expenses[0].Amount.Equal(d("2.5")))
	assert.Contains(t, expenses[0].Description, "voucher")
	require.NotNil(t, expenses[0].SaleID)
	assert.Equal(t, s.ID, *expenses[0].SaleID)
}

func TestProcessSaleCashHasNoExpense(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.ProcessSale(context.Background(), Request{
		SessionID: f.session, PaymentMethod: "cash",
		Items: []domain.CartItem{resaleLine(f.soda, "1", "5")},
	})
	require.NoError(t, err)
	assert.True(t, res.FeeAmount.IsZero())
	assert.Nil(t, res.ExpenseID)
	assert.Zero(t, testutil.Count(t, f.db, "expenses"))
	assert.Equal(t, 1, testutil.Count(t, f.db, "sales"))
}

func TestProcessSalePersistsOrderLines(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.ProcessSale(context.Background(), Request{
		SessionID: f.session, PaymentMethod: "credit_card",
		Items: []domain.CartItem{
			recipeLine(f.pizza, "2", "30.50"),
			resaleLine(f.soda, "3", "4.99"),
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Amount.Equal(d("75.97")))
	assert.True(t, res.FeeAmount.Equal(d("2.28")), "fee = %s", res.FeeAmount)

	var order domain.Order
	require.NoError(t, f.db.Get(&order, `SELECT * FROM orders`))
	assert.Equal(t, res.OrderID, order.ID)
	assert.Equal(t, res.ReceiptCode, order.ReceiptCode)

	var items []domain.OrderItem
	require.NoError(t, f.db.Select(&items, `SELECT * FROM order_items ORDER BY line_no`))
	require.Len(t, items, 2)
	assert.Equal(t, domain.ItemTypeRecipe, items[0].ItemType)
	require.NotNil(t, items[0].RecipeID)
	assert.Equal(t, f.pizza, *items[0].RecipeID)
	assert.Nil(t, items[0].ProductID)
	assert.True(t, items[0].TotalPrice.Equal(d("61")))
	assert.Equal(t, domain.ItemTypeResale, items[1].ItemType)
	require.NotNil(t, items[1].ProductID)
	assert.Equal(t, f.soda, *items[1].ProductID)
	assert.True(t, items[1].TotalPrice.Equal(d("14.97")))
}

func TestProcessSaleInsufficientStockChangesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.ProcessSale(context.Background(), Request{
		SessionID: f.session, PaymentMethod: "voucher",
		Items: []domain.CartItem{
			recipeLine(f.pizza, "2", "30"),
			resaleLine(f.soda, "11", "5"),
		},
	})
	var insufficient *stock.InsufficientStockError
	require.True(t, errors.As(err, &insufficient), "got %v", err)
	assert.Equal(t, f.soda, insufficient.EntityID)
	assert.True(t, insufficient.Available.Equal(d("10")))
	assert.True(t, insufficient.Requested.Equal(d("11")))
	assert.False(t, IsRetryable(err))
	f.assertNothingWritten(t)
}

func TestProcessSaleInsufficientIngredient(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.ProcessSale(context.Background(), Request{
		SessionID: f.session, PaymentMethod: "cash",
		Items: []domain.CartItem{
			resaleLine(f.soda, "1", "5"),
			recipeLine(f.pizza, "7", "30"),
			recipeLine(f.calzone, "2", "40"), // 700g + 400g flour
		},
	})
	var insufficient *stock.InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, domain.StockIngredient, insufficient.Kind)
	assert.Equal(t, f.flour, insufficient.EntityID)
	assert.True(t, insufficient.Available.Equal(d("1000")))
	assert.True(t, insufficient.Requested.Equal(d("1100")))
	f.assertNothingWritten(t)
}

func TestProcessSaleRequiresOpenSession(t *testing.T) {
	f := newFixture(t)
	closed := testutil.Session(t, f.db, 2, domain.SessionClosed)

	for name, id := range map[string]int64{"closed": closed, "missing": 9999} {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.ProcessSale(context.Background(), Request{
				SessionID: id, PaymentMethod: "cash",
				Items: []domain.CartItem{resaleLine(f.soda, "1", "5")},
			})
			assert.ErrorIs(t, err, ErrInvalidSession)
			f.assertNothingWritten(t)
		})
	}
}

func TestProcessSaleRecipeErrors(t *testing.T) {
	f := newFixture(t)
	loopA := testutil.Recipe(t, f.db, "loop-a", true, "1")
	loopB := testutil.Recipe(t, f.db, "loop-b", true, "1")
	testutil.SubRecipeItem(t, f.db, loopA, loopB, "1")
	testutil.SubRecipeItem(t, f.db, loopB, loopA, "1")

	_, err := f.engine.ProcessSale(context.Background(), Request{
		SessionID: f.session, PaymentMethod: "cash",
		Items: []domain.CartItem{resaleLine(f.soda, "1", "5"), recipeLine(loopA, "1", "1")},
	})
	var cycle *recipe.CycleError
	assert.True(t, errors.As(err, &cycle), "got %v", err)
	f.assertNothingWritten(t)

	_, err = f.engine.ProcessSale(context.Background(), Request{
		SessionID: f.session, PaymentMethod: "cash",
		Items: []domain.CartItem{resaleLine(f.soda, "1", "5"), recipeLine(777, "1", "1")},
	})
	var nf *recipe.NotFoundError
	assert.True(t, errors.As(err, &nf), "got %v", err)
	f.assertNothingWritten(t)
}

func TestProcessSaleUnknownProduct(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ProcessSale(context.Background(), Request{
		SessionID: f.session, PaymentMethod: "cash",
		Items: []domain.CartItem{resaleLine(f.soda, "1", "5"), resaleLine(4242, "1", "5")},
	})
	var nf *stock.NotFoundError
	assert.True(t, errors.As(err, &nf), "got %v", err)
	f.assertNothingWritten(t)
}

func TestProcessSaleFeeConfigurationErrorRollsBack(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ProcessSale(context.Background(), Request{
		SessionID: f.session, PaymentMethod: "broken",
		Items: []domain.CartItem{recipeLine(f.pizza, "1", "30"), resaleLine(f.soda, "1", "5")},
	})
	var cfgErr *fee.ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	f.assertNothingWritten(t)
}

func TestProcessSaleValidation(t *testing.T) {
	f := newFixture(t)
	good := resaleLine(f.soda, "1", "5")
	tests := []struct {
		name string
		req  Request
	}{
		{"no session", Request{PaymentMethod: "cash", Items: []domain.CartItem{good}}},
		{"empty cart", Request{SessionID: f.session, PaymentMethod: "cash"}},
		{"no method", Request{SessionID: f.session, Items: []domain.CartItem{good}}},
		{"zero quantity", Request{SessionID: f.session, PaymentMethod: "cash", Items: []domain.CartItem{resaleLine(f.soda, "0", "5")}}},
		{"negative price", Request{SessionID: f.session, PaymentMethod: "cash", Items: []domain.CartItem{resaleLine(f.soda, "1", "-5")}}},
		{"bad type", Request{SessionID: f.session, PaymentMethod: "cash", Items: []domain.CartItem{{ID: f.soda, ItemType: "service", Quantity: d("1")}}}},
		{"missing id", Request{SessionID: f.session, PaymentMethod: "cash", Items: []domain.CartItem{resaleLine(0, "1", "5")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.ProcessSale(context.Background(), tt.req)
			assert.True(t, IsValidation(err), "got %v", err)
		})
	}

	_, err := f.engine.ProcessSale(context.Background(), Request{SessionID: f.session, PaymentMethod: "barter", Items: []domain.CartItem{good}})
	assert.ErrorIs(t, err, fee.ErrUnknownMethod)
	f.assertNothingWritten(t)
}

func TestProcessSaleConcurrentSalesNeverOversell(t *testing.T) {
	f := newFixture(t)
	limited := testutil.Product(t, f.db, "cake", "5", "20")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.ProcessSale(context.Background(), Request{
				SessionID: f.session, PaymentMethod: "cash",
				Items: []domain.CartItem{resaleLine(limited, "3", "20")},
			})
		}(i)
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		var insufficient *stock.InsufficientStockError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &insufficient):
			short++
			assert.True(t, insufficient.Available.Equal(d("2")))
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)
	assert.Equal(t, "2", f.stock(t, "products", limited))
	assert.Equal(t, 1, testutil.Count(t, f.db, "sales"))
}

func TestProcessSaleFractionalIngredientDrainsExactly(t *testing.T) {
	f := newFixture(t)
	basil := testutil.Ingredient(t, f.db, "basil", "0.3")
	garnish := testutil.Recipe(t, f.db, "garnish", false, "1")
	testutil.IngredientItem(t, f.db, garnish, basil, "0.1")

	for i := 0; i < 3; i++ {
		_, err := f.engine.ProcessSale(context.Background(), Request{
			SessionID: f.session, PaymentMethod: "cash",
			Items: []domain.CartItem{recipeLine(garnish, "1", "1")},
		})
		require.NoError(t, err, "sale %d", i+1)
	}
	assert.Equal(t, "0", f.stock(t, "ingredients", basil))

	_, err := f.engine.ProcessSale(context.Background(), Request{
		SessionID: f.session, PaymentMethod: "cash",
		Items: []domain.CartItem{recipeLine(garnish, "1", "1")},
	})
	var insufficient *stock.InsufficientStockError
	require.True(t, errors.As(err, &insufficient), "got %v", err)
	assert.Equal(t, basil, insufficient.EntityID)
}

// SQLite serialises sales on its single connection; this runs the same race
// on Postgres, where the conditional updates and lock ordering do the work.
func TestProcessSaleConcurrentSalesPostgres(t *testing.T) {
	f := newFixtureOn(t, testutil.OpenPostgres(t))
	limited := testutil.Product(t, f.db, "cake", "5", "20")

	const buyers = 12
	var wg sync.WaitGroup
	errs := make([]error, buyers)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Alternate line order so transactions name rows in opposite orders.
			items := []domain.CartItem{resaleLine(limited, "1", "20"), recipeLine(f.pizza, "1", "30")}
			if i%2 == 1 {
				items[0], items[1] = items[1], items[0]
			}
			_, errs[i] = f.engine.ProcessSaleRetrying(context.Background(), Request{
				SessionID: f.session, PaymentMethod: "cash", Items: items,
			}, 5)
		}(i)
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		var insufficient *stock.InsufficientStockError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &insufficient):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 5, ok)
	assert.Equal(t, buyers-5, short)
	assert.Equal(t, "0", f.stock(t, "products", limited))
	assert.Equal(t, "500", f.stock(t, "ingredients", f.flour))
	assert.Equal(t, 5, testutil.Count(t, f.db, "sales"))
}

func TestProcessSaleLedgerReconciles(t *testing.T) {
	f := newFixture(t)
	methods := []string{"cash", "voucher", "credit_card", "voucher", "credit_card"}
	prices := []string{"1.11", "2.22", "3.33", "4.44", "5.55"}
	for i, m := range methods {
		_, err := f.engine.ProcessSale(context.Background(), Request{
			SessionID: f.session, PaymentMethod: m,
			Items: []domain.CartItem{recipeLine(f.pizza, "1", "33.33"), resaleLine(f.soda, "1", prices[i])},
		})
		require.NoError(t, err, m)
	}

	var sales []domain.Sale
	require.NoError(t, f.db.Select(&sales, `SELECT * FROM sales`))
	require.Len(t, sales, len(methods))
	totalFees := d("0")
	for _, s := range sales {
		assert.True(t, s.NetAmount.Equal(s.Amount.Sub(s.FeeAmount)), "sale %d", s.ID)
		totalFees = totalFees.Add(s.FeeAmount)
	}
	var expenses []domain.Expense
	require.NoError(t, f.db.Select(&expenses, `SELECT * FROM expenses WHERE category = ?`, domain.ExpenseCategoryFeeName))
	totalExpenses := d("0")
	for _, e := range expenses {
		totalExpenses = totalExpenses.Add(e.Amount)
	}
	assert.Len(t, expenses, 4)
	assert.True(t, totalFees.Equal(totalExpenses), "fees %s, expenses %s", totalFees, totalExpenses)
	assert.Equal(t, "500", f.stock(t, "ingredients", f.flour))
	assert.Equal(t, "5", f.stock(t, "products", f.soda))
}

func TestProcessSaleExpiredDeadlineIsRetryable(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := f.engine.ProcessSale(ctx, Request{
		SessionID: f.session, PaymentMethod: "cash",
		Items: []domain.CartItem{resaleLine(f.soda, "1", "5")},
	})
	require.Error(t, err)
	assert.True(t, IsRetryable(err), "got %v", err)
	f.assertNothingWritten(t)
}

func TestProcessSaleRetryingStopsOnBusinessErrors(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ProcessSaleRetrying(context.Background(), Request{
		SessionID: f.session, PaymentMethod: "cash",
		Items: []domain.CartItem{resaleLine(f.soda, "50", "5")},
	}, 5)
	var insufficient *stock.InsufficientStockError
	assert.True(t, errors.As(err, &insufficient), "got %v", err)

	res, err := f.engine.ProcessSaleRetrying(context.Background(), Request{
		SessionID: f.session, PaymentMethod: "cash",
		Items: []domain.CartItem{resaleLine(f.soda, "2", "5")},
	}, 5)
	require.NoError(t, err)
	assert.NotZero(t, res.OrderID)
	assert.Equal(t, "8", f.stock(t, "products", f.soda))
}

func TestProcessSaleUsesClock(t *testing.T) {
	f := newFixture(t)
	fixed := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	engine := NewEngine(f.db, f.engine.fees, logger.Nop(), WithClock(func() time.Time { return fixed }))

	_, err := engine.ProcessSale(context.Background(), Request{
		SessionID: f.session, PaymentMethod: "voucher",
		Items: []domain.CartItem{resaleLine(f.soda, "1", "5")},
	})
	require.NoError(t, err)

	var s domain.Sale
	require.NoError(t, f.db.Get(&s, `SELECT * FROM sales`))
	assert.True(t, fixed.Equal(s.SoldAt), "sold_at = %s", s.SoldAt)
}

func TestProcessSaleRetryingZeroTriesRunsOnce(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	start := time.Now()
	_, err := f.engine.ProcessSaleRetrying(ctx, Request{
		SessionID: f.session, PaymentMethod: "cash",
		Items: []domain.CartItem{resaleLine(f.soda, "1", "5")},
	}, 0)
	require.Error(t, err)
	assert.True(t, IsRetryable(err), "the single attempt's error is returned, got %v", err)
	assert.Less(t, time.Since(start), time.Second)
	f.assertNothingWritten(t)
}

func TestProcessSaleRetryingSingleTryUnwrapsBusinessError(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ProcessSaleRetrying(context.Background(), Request{
		SessionID: f.session, PaymentMethod: "cash",
		Items: []domain.CartItem{resaleLine(f.soda, "50", "5")},
	}, 1)
	var insufficient *stock.InsufficientStockError
	require.True(t, errors.As(err, &insufficient), "got %v", err)
	var permanent *backoff.PermanentError
	assert.False(t, errors.As(err, &permanent), "retry wrapper leaked: %T", err)
}
