package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Ingredient struct {
	ID           int64           `db:"id" json:"id"`
	Name         string          `db:"name" json:"name"`
	Category     string          `db:"category" json:"category"`
	Unit         string          `db:"unit" json:"unit"`
	BaseUnit     string          `db:"base_unit" json:"base_unit"`
	CurrentStock decimal.Decimal `db:"current_stock" json:"current_stock"`
	MinStock     decimal.Decimal `db:"min_stock" json:"min_stock"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// Product is a resale good sold as-is and tracked by direct unit stock.
type Product struct {
	ID           int64           `db:"id" json:"id"`
	Name         string          `db:"name" json:"name"`
	Category     string          `db:"category" json:"category"`
	Price        decimal.Decimal `db:"price" json:"price"`
	CostPrice    decimal.Decimal `db:"cost_price" json:"cost_price"`
	CurrentStock decimal.Decimal `db:"current_stock" json:"current_stock"`
	MinStock     decimal.Decimal `db:"min_stock" json:"min_stock"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// StockKind identifies which stock table a quantity is held in.
type StockKind string

const (
	StockIngredient StockKind = "ingredient"
	StockProduct    StockKind = "product"
)
