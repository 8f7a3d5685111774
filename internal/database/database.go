package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrTransient marks failures caused by lock contention or timeouts. The
// unit of work was rolled back and may be retried with the same input.
var ErrTransient = errors.New("transient database contention")

// Connect opens a database using the given driver ("pgx" or "sqlite").
func Connect(driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if IsSQLite(db) {
		// SQLite has a single writer; one connection serialises units of work.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
		if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
			db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
		return db, nil
	}
	db.SetMaxOpenConns(10)
	return db, nil
}

// IsSQLite reports whether q talks to SQLite.
func IsSQLite(q interface{ DriverName() string }) bool {
	return q.DriverName() == "sqlite"
}

// LockClause returns the row-lock suffix for a shared read when the driver
// supports one.
func LockClause(q interface{ DriverName() string }, mode string) string {
	if IsSQLite(q) {
		return ""
	}
	return " FOR " + mode
}

// SetLockTimeout bounds how long the current Postgres transaction waits
// for row locks. It is a no-op on SQLite.
func SetLockTimeout(ctx context.Context, tx *sqlx.Tx, ms int64) error {
	if IsSQLite(tx) || ms <= 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms))
	return err
}

// Classify wraps contention and deadline failures with ErrTransient.
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
	}
	return err
}

// IsUniqueViolation reports whether err is a unique constraint failure on
// either driver.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
