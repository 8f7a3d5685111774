package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SaleCategoryPOS        = "pos"
	ExpenseCategoryFeeName = "financial_fee"
)

// Cart line types accepted by the sale engine.
const (
	ItemTypeRecipe = "recipe"
	ItemTypeResale = "resale"
)

type Order struct {
	ID          int64     `db:"id" json:"id"`
	SessionID   int64     `db:"session_id" json:"session_id"`
	ReceiptCode string    `db:"receipt_code" json:"receipt_code"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

type OrderItem struct {
	ID         int64           `db:"id" json:"id"`
	OrderID    int64           `db:"order_id" json:"order_id"`
	LineNo     int             `db:"line_no" json:"line_no"`
	ItemType   string          `db:"item_type" json:"item_type"`
	ProductID  *int64          `db:"product_id" json:"product_id,omitempty"`
	RecipeID   *int64          `db:"recipe_id" json:"recipe_id,omitempty"`
	Quantity   decimal.Decimal `db:"quantity" json:"quantity"`
	UnitPrice  decimal.Decimal `db:"unit_price" json:"unit_price"`
	TotalPrice decimal.Decimal `db:"total_price" json:"total_price"`
}

// Sale is the ledger entry for one completed transaction. NetAmount is
// always Amount minus FeeAmount.
type Sale struct {
	ID            int64           `db:"id" json:"id"`
	OrderID       int64           `db:"order_id" json:"order_id"`
	SessionID     int64           `db:"session_id" json:"session_id"`
	Description   string          `db:"description" json:"description"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Category      string          `db:"category" json:"category"`
	PaymentMethod string          `db:"payment_method" json:"payment_method"`
	FeeAmount     decimal.Decimal `db:"fee_amount" json:"fee_amount"`
	NetAmount     decimal.Decimal `db:"net_amount" json:"net_amount"`
	SoldAt        time.Time       `db:"sold_at" json:"sold_at"`
}

type Expense struct {
	ID          int64           `db:"id" json:"id"`
	SaleID      *int64          `db:"sale_id" json:"sale_id,omitempty"`
	Description string          `db:"description" json:"description"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Category    string          `db:"category" json:"category"`
	SpentAt     time.Time       `db:"spent_at" json:"spent_at"`
}

// CartItem is one line of the cart submitted by a POS client.
type CartItem struct {
	ID        int64           `json:"id"`
	ItemType  string          `json:"item_type"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
