/*
Package sqlite provides the SQLite backend of the cash book.

PURPOSE:
  Opens a SQLite database, declares the schema, and maps SQLite errors onto
  the store signals the core retries or reports.

CONCURRENCY:
  Every transaction starts with BEGIN IMMEDIATE (_txlock=immediate), so it
  holds the database write lock from its first statement. Two transactions
  that both read-then-write the same stock item or the open-session slot are
  therefore serialized. The pool is limited to one connection: SQLite has a
  single writer anyway, and ":memory:" databases are per connection.

  Lock.* reads need no FOR UPDATE clause under this model.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Single writer at a time
  - Better crash recovery

TIME AND MONEY:
  Times are TEXT in sqlstore.TimeLayout (fixed width, UTC) so range filters
  compare correctly as strings. Money is TEXT holding the decimal string;
  CHECK constraints cast it for comparison.

USAGE:
  store, err := sqlite.New(ctx, "./data/cashbook.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := core.New(store)

SEE ALSO:
  - store/sqlstore: shared implementation
  - store/postgres: PostgreSQL dialect
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/cashbook/core"
	"github.com/warp/cashbook/store/sqlstore"
)

const pragmas = "_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"

// New opens (creating if needed) the database at path.
// Use ":memory:" for an in-memory database.
func New(ctx context.Context, path string) (*sqlstore.Store, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", path+sep+pragmas)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store, err := sqlstore.New(ctx, db, Dialect())
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Dialect describes SQLite to sqlstore.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:       "sqlite",
		Schema:     schema,
		EncodeTime: func(t time.Time) any { return sqlstore.FormatTime(t) },
		Classify:   classify,
	}
}

// classify recognises unique violations on the open-session slot and the
// correlation key, and busy/locked database errors.
func classify(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return nil
	}
	switch {
	case se.ExtendedCode == sqlite3.ErrConstraintUnique:
		msg := se.Error()
		switch {
		case strings.Contains(msg, "cash_sessions.status"):
			return core.ErrSessionAlreadyOpen
		case strings.Contains(msg, "ledger_entries.correlation_key"):
			return core.ErrDuplicateCorrelationKey
		}
	case se.Code == sqlite3.ErrBusy, se.Code == sqlite3.ErrLocked:
		return core.ErrLockConflict
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cash_sessions (
		id TEXT PRIMARY KEY,
		opened_at TEXT NOT NULL,
		closed_at TEXT,
		opening_balance TEXT NOT NULL,
		closing_balance TEXT,
		expected_balance TEXT,
		status TEXT NOT NULL CHECK (status IN ('open', 'closed')),
		opened_by TEXT NOT NULL,
		closed_by TEXT,
		notes TEXT
	)`,
	// At most one open session, enforced by the database
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_cash_sessions_single_open
		ON cash_sessions(status) WHERE status = 'open'`,

	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL CHECK (kind IN ('income', 'expense')),
		amount TEXT NOT NULL CHECK (CAST(amount AS REAL) > 0),
		payment_method TEXT NOT NULL,
		description TEXT,
		occurred_at TEXT NOT NULL,
		recorded_by TEXT NOT NULL,
		correlation_key TEXT,
		reverses TEXT REFERENCES ledger_entries(id),
		created_at TEXT NOT NULL,
		CONSTRAINT uq_ledger_correlation_key UNIQUE (correlation_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_occurred_at ON ledger_entries(occurred_at)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_recorded_by ON ledger_entries(recorded_by, occurred_at)`,

	`CREATE TABLE IF NOT EXISTS stock_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		unit_cost TEXT NOT NULL,
		on_hand INTEGER NOT NULL CHECK (on_hand >= 0),
		reorder_threshold INTEGER NOT NULL CHECK (reorder_threshold >= 0),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id TEXT PRIMARY KEY,
		stock_item_id TEXT NOT NULL REFERENCES stock_items(id),
		direction TEXT NOT NULL CHECK (direction IN ('in', 'out')),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		occurred_at TEXT NOT NULL,
		reason TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_movements_item ON stock_movements(stock_item_id, occurred_at)`,

	`CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL CHECK (status IN ('scheduled', 'completed', 'canceled')),
		amount_charged TEXT NOT NULL,
		cost TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		service_id TEXT,
		client_id TEXT,
		scheduled_for TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_appointments_scheduled_for ON appointments(scheduled_for)`,

	`CREATE TABLE IF NOT EXISTS product_sales (
		id TEXT PRIMARY KEY,
		stock_item_id TEXT NOT NULL REFERENCES stock_items(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price TEXT NOT NULL,
		unit_cost TEXT NOT NULL,
		discount_pct TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
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
