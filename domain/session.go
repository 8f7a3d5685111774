package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SessionOpen   = "open"
	SessionClosed = "closed"
)

type CashSession struct {
	ID             int64               `db:"id" json:"id"`
	UserID         int64               `db:"user_id" json:"user_id"`
	OpeningBalance decimal.Decimal     `db:"opening_balance" json:"opening_balance"`
	ClosingBalance decimal.NullDecimal `db:"closing_balance" json:"closing_balance"`
	Status         string              `db:"status" json:"status"`
	OpenedAt       time.Time           `db:"opened_at" json:"opened_at"`
	ClosedAt       *time.Time          `db:"closed_at" json:"closed_at,omitempty"`
}
