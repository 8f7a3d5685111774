// Package session opens and closes cash sessions. The sale engine only
// reads them.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"possale/m/domain"
	"possale/m/internal/database"
)

var (
	ErrNotFound    = errors.New("cash session not found")
	ErrAlreadyOpen = errors.New("user already has an open cash session")
	ErrNotOpen     = errors.New("cash session is not open")
)

type Manager struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewManager(db *sqlx.DB) *Manager {
	return &Manager{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Open starts a session for userID. A user may hold one open session,
// enforced by the cash_sessions_one_open_idx partial unique index so
// concurrent opens cannot both succeed.
func (m *Manager) Open(ctx context.Context, userID int64, openingBalance decimal.Decimal) (domain.CashSession, error) {
	if userID <= 0 {
		return domain.CashSession{}, fmt.Errorf("open session: user id is required")
	}
	if openingBalance.IsNegative() {
		return domain.CashSession{}, fmt.Errorf("open session: opening balance must not be negative")
	}
	s := domain.CashSession{UserID: userID, OpeningBalance: openingBalance, Status: domain.SessionOpen, OpenedAt: m.now()}
	err := m.db.QueryRowxContext(ctx, m.db.Rebind(`INSERT INTO cash_sessions (user_id, opening_balance, status, opened_at) VALUES (?, ?, ?, ?) RETURNING id`),
		s.UserID, s.OpeningBalance, s.Status, s.OpenedAt).Scan(&s.ID)
	if database.IsUniqueViolation(err) {
		return domain.CashSession{}, ErrAlreadyOpen
	}
	if err != nil {
		return domain.CashSession{}, fmt.Errorf("open session: %w", err)
	}
	return s, nil
}

// Close marks an open session closed with the counted closing balance.
func (m *Manager) Close(ctx context.Context, id int64, closingBalance decimal.Decimal) (domain.CashSession, error) {
	res, err := m.db.ExecContext(ctx, m.db.Rebind(`UPDATE cash_sessions SET status = 'closed', closing_balance = ?, closed_at = ? WHERE id = ? AND status = 'open'`),
		closingBalance, m.now(), id)
	if err != nil {
		return domain.CashSession{}, fmt.Errorf("close session %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return domain.CashSession{}, fmt.Errorf("close session %d: %w", id, err)
	} else if n == 0 {
		if _, err := m.Get(ctx, id); err != nil {
			return domain.CashSession{}, err
		}
		return domain.CashSession{}, ErrNotOpen
	}
	return m.Get(ctx, id)
}

func (m *Manager) Get(ctx context.Context, id int64) (domain.CashSession, error) {
	var s domain.CashSession
	err := m.db.GetContext(ctx, &s, m.db.Rebind(`SELECT * FROM cash_sessions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CashSession{}, ErrNotFound
	}
	if err != nil {
		return domain.CashSession{}, fmt.Errorf("get session %d: %w", id, err)
	}
	return s, nil
}
