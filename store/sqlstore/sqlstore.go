/*
Package sqlstore implements core.Store on database/sql.

PURPOSE:
  One implementation of the persistence contract shared by the SQL
  backends. A Dialect supplies what differs between databases: the schema,
  placeholder syntax, how time is stored, whether reads inside a
  transaction take row locks, and how driver errors map onto the core's
  store signals.

KEY TABLES:
  cash_sessions:   register sessions
  ledger_entries:  append-only cash book
  stock_items:     catalog items and on_hand
  stock_movements: append-only stock audit trail
  appointments:    scheduling events referenced by appointment:<id>
  product_sales:   sales referenced by sale:<id>
  reference_names: display names for reports

CONSTRAINTS (declared by every dialect's schema):
  - uq_ledger_correlation_key: UNIQUE(correlation_key), NULLs allowed
  - idx_cash_sessions_single_open: UNIQUE(status) WHERE status = 'open'
  - CHECK (on_hand >= 0) on stock_items
  - CHECK (amount > 0) on ledger_entries, CHECK (quantity > 0) on movements

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on ledger_entries or stock_movements
  - Reset() is the only exception and exists for demo scenarios

SEE ALSO:
  - core/store.go: interface definitions
  - store/sqlite, store/postgres: dialects
*/
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/warp/cashbook/core"
)

// Dialect captures the differences between SQL backends.
type Dialect struct {
	Name string

	// Schema is executed statement by statement on New.
	Schema []string

	// Rebind rewrites '?' placeholders. Nil keeps them.
	Rebind func(query string) string

	// LockClause is appended to row reads made through Tx.Lock*.
	LockClause string

	// EncodeTime converts a time into the value bound for time columns.
	EncodeTime func(t time.Time) any

	// Classify maps a driver error onto core.ErrDuplicateCorrelationKey,
	// core.ErrSessionAlreadyOpen or core.ErrLockConflict. It returns nil for
	// errors it does not recognise.
	Classify func(err error) error
}

// Store implements core.Store.
type Store struct {
	queries
	db *sql.DB
}

// New wraps db and migrates the schema.
func New(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	if d.Rebind == nil {
		d.Rebind = func(q string) string { return q }
	}
	if d.EncodeTime == nil {
		d.EncodeTime = func(t time.Time) any { return t.UTC() }
	}
	if d.Classify == nil {
		d.Classify = func(error) error { return nil }
	}

	s := &Store{queries: queries{q: db, d: &d}, db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.d.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if i := strings.IndexByte(stmt, '\n'); i > 0 {
		return stmt[:i]
	}
	return stmt
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &core.InfrastructureError{Op: "ping", Cause: err}
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction. The transaction is
// rolled back unless fn returns nil and the commit succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(tx core.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries: queries{q: sqlTx, d: s.d}}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return s.classify(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

type txStore struct {
	queries
}

func (t *txStore) LockSession(ctx context.Context, id core.SessionID) (*core.CashSession, error) {
	return t.getSession(ctx, t.d.LockClause, id)
}

func (t *txStore) LockStockItem(ctx context.Context, id core.StockItemID) (*core.StockItem, error) {
	return t.getStockItem(ctx, t.d.LockClause, id)
}

func (t *txStore) LockAppointment(ctx context.Context, id core.AppointmentID) (*core.Appointment, error) {
	return t.getAppointment(ctx, t.d.LockClause, id)
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func (s *Store) SaveName(ctx context.Context, kind core.NameKind, id, name string) error {
	_, err := s.exec(ctx, `
		INSERT INTO reference_names (kind, id, name) VALUES (?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET name = excluded.name`,
		string(kind), id, name)
	if err != nil {
		return fmt.Errorf("failed to save name: %w", err)
	}
	return nil
}

func (s *Store) DisplayNames(ctx context.Context, kind core.NameKind) (map[string]string, error) {
	rows, err := s.query(ctx, `SELECT id, name FROM reference_names WHERE kind = ?`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to query names: %w", err)
	}
	defer rows.Close()

	names := make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"ledger_entries", "product_sales", "stock_movements", "stock_items",
		"appointments", "cash_sessions", "reference_names",
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, table := range tables {
		if _, err := sqlTx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return sqlTx.Commit()
}

var (
	_ core.Store = (*Store)(nil)
	_ core.Tx    = (*txStore)(nil)
)
