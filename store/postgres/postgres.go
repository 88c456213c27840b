/*
Package postgres provides the PostgreSQL backend of the cash book.

CONCURRENCY:
  Transactions run at READ COMMITTED. Tx.Lock* reads add FOR UPDATE, so
  two transactions touching the same stock item, session or appointment
  queue on the row lock and the second one re-reads the committed row.
  The open-session slot has no row to lock before it exists; its partial
  unique index turns the losing insert into ErrSessionAlreadyOpen.

ERROR MAPPING:
  23505 unique_violation on idx_cash_sessions_single_open -> ErrSessionAlreadyOpen
  23505 unique_violation on uq_ledger_correlation_key     -> ErrDuplicateCorrelationKey
  40001 serialization_failure, 40P01 deadlock_detected,
  55P03 lock_not_available                                -> ErrLockConflict
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/warp/cashbook/core"
	"github.com/warp/cashbook/store/sqlstore"
)

// New connects to dsn through the pgx database/sql driver.
func New(ctx context.Context, dsn string) (*sqlstore.Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	store, err := sqlstore.New(ctx, db, Dialect())
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Dialect describes PostgreSQL to sqlstore.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:       "postgres",
		Schema:     schema,
		Rebind:     Rebind,
		LockClause: " FOR UPDATE",
		Classify:   classify,
	}
}

// Rebind rewrites '?' placeholders as $1, $2, ...
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	switch pgErr.Code {
	case "23505":
		switch pgErr.ConstraintName {
		case "idx_cash_sessions_single_open":
			return core.ErrSessionAlreadyOpen
		case "uq_ledger_correlation_key":
			return core.ErrDuplicateCorrelationKey
		}
	case "40001", "40P01", "55P03":
		return core.ErrLockConflict
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cash_sessions (
		id TEXT PRIMARY KEY,
		opened_at TIMESTAMPTZ NOT NULL,
		closed_at TIMESTAMPTZ,
		opening_balance NUMERIC(14,2) NOT NULL,
		closing_balance NUMERIC(14,2),
		expected_balance NUMERIC(14,2),
		status TEXT NOT NULL CHECK (status IN ('open', 'closed')),
		opened_by TEXT NOT NULL,
		closed_by TEXT,
		notes TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_cash_sessions_single_open
		ON cash_sessions(status) WHERE status = 'open'`,

	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL CHECK (kind IN ('income', 'expense')),
		amount NUMERIC(14,2) NOT NULL CHECK (amount > 0),
		payment_method TEXT NOT NULL,
		description TEXT,
		occurred_at TIMESTAMPTZ NOT NULL,
		recorded_by TEXT NOT NULL,
		correlation_key TEXT,
		reverses TEXT REFERENCES ledger_entries(id),
		created_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT uq_ledger_correlation_key UNIQUE (correlation_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_occurred_at ON ledger_entries(occurred_at)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_recorded_by ON ledger_entries(recorded_by, occurred_at)`,

	`CREATE TABLE IF NOT EXISTS stock_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		unit_price NUMERIC(14,2) NOT NULL,
		unit_cost NUMERIC(14,2) NOT NULL,
		on_hand BIGINT NOT NULL CHECK (on_hand >= 0),
		reorder_threshold BIGINT NOT NULL CHECK (reorder_threshold >= 0),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id TEXT PRIMARY KEY,
		stock_item_id TEXT NOT NULL REFERENCES stock_items(id),
		direction TEXT NOT NULL CHECK (direction IN ('in', 'out')),
		quantity BIGINT NOT NULL CHECK (quantity > 0),
		occurred_at TIMESTAMPTZ NOT NULL,
		reason TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_movements_item ON stock_movements(stock_item_id, occurred_at)`,

	`CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL CHECK (status IN ('scheduled', 'completed', 'canceled')),
		amount_charged NUMERIC(14,2) NOT NULL,
		cost NUMERIC(14,2) NOT NULL,
		payment_method TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		service_id TEXT,
		client_id TEXT,
		scheduled_for TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_appointments_scheduled_for ON appointments(scheduled_for)`,

	`CREATE TABLE IF NOT EXISTS product_sales (
		id TEXT PRIMARY KEY,
		stock_item_id TEXT NOT NULL REFERENCES stock_items(id),
		quantity BIGINT NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(14,2) NOT NULL,
		unit_cost NUMERIC(14,2) NOT NULL,
		discount_pct NUMERIC(5,2) NOT NULL,
		total_amount NUMERIC(14,2) NOT NULL,
		payment_method TEXT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		recorded_by TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_product_sales_occurred_at ON product_sales(occurred_at)`,

	`CREATE TABLE IF NOT EXISTS reference_names (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		PRIMARY KEY (kind, id)
	)`,
}
