/*
store.go - Persistence contract for ledger, session and stock state

PURPOSE:
  Defines the interface between the consistency engine and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  Reader: read-only queries (listings, aggregation input)
  Tx:     everything a state-changing operation may do inside one
          transaction, including row-locking reads
  Store:  Reader + WithTx + reference-data writes + Reset

ATOMICITY:
  WithTx runs fn inside a single database transaction. If fn returns an
  error, every write made through the Tx is rolled back. Callers never
  roll back by hand.

INVARIANTS ENFORCED BY THE STORE:
  - ledger_entries.correlation_key is UNIQUE when present
    (violation -> ErrDuplicateCorrelationKey)
  - at most one cash_sessions row has status 'open'
    (violation -> ErrSessionAlreadyOpen)
  - stock_items.on_hand >= 0; AddStock never crosses the floor
    (violation -> *InsufficientStockError)
  - transient contention surfaces as ErrLockConflict

APPEND-ONLY:
  Ledger entries and stock movements have no Update or Delete methods
  (Reset aside, which wipes everything for demo scenarios).
  Corrections are reversal entries.

IMPLEMENTATIONS:
  - store/sqlite: SQLite (default)
  - store/postgres: PostgreSQL with SELECT ... FOR UPDATE
  - core/store: in-memory for tests

SEE ALSO:
  - retry.go: bounded retry around WithTx
*/
package core

import (
	"context"
	"time"
)

// =============================================================================
// FILTERS
// =============================================================================

// TimeRange is half-open: From <= t < To. Zero bounds are unbounded.
type TimeRange struct {
	From time.Time
	To   time.Time
}

func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

type EntryFilter struct {
	Range        TimeRange // on OccurredAt
	CreatedRange TimeRange // on CreatedAt
	Kind         EntryKind // empty = both
	RecordedBy   string    // empty = everyone
	Limit        int       // 0 = no limit
}

type AppointmentFilter struct {
	Range      TimeRange // on Appointment.Date
	Status     AppointmentStatus
	EmployeeID string
}

type SaleFilter struct {
	Range      TimeRange
	RecordedBy string
}

type MovementFilter struct {
	StockItemID StockItemID // empty = all items
	Limit       int
}

type StockFilter struct {
	AvailableOnly bool // on_hand > 0
	LowOnly       bool // on_hand <= reorder_threshold
}

// =============================================================================
// READER - Read-only access
// =============================================================================

// Reader returns (nil, nil) from Get* methods when the row does not exist.
// List* methods order chronologically unless documented otherwise.
type Reader interface {
	GetSession(ctx context.Context, id SessionID) (*CashSession, error)
	CurrentSession(ctx context.Context) (*CashSession, error)
	ListSessions(ctx context.Context, limit int) ([]CashSession, error) // newest first

	GetEntry(ctx context.Context, id EntryID) (*LedgerEntry, error)
	GetEntryByCorrelationKey(ctx context.Context, key string) (*LedgerEntry, error)
	ListEntries(ctx context.Context, f EntryFilter) ([]LedgerEntry, error)

	GetStockItem(ctx context.Context, id StockItemID) (*StockItem, error)
	ListStockItems(ctx context.Context, f StockFilter) ([]StockItem, error) // by name
	ListMovements(ctx context.Context, f MovementFilter) ([]StockMovement, error) // newest first

	GetAppointment(ctx context.Context, id AppointmentID) (*Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)
	GetSale(ctx context.Context, id SaleID) (*ProductSale, error)
	ListSales(ctx context.Context, f SaleFilter) ([]ProductSale, error)
}

// =============================================================================
// TX - Operations available inside one atomic unit
// =============================================================================

type Tx interface {
	Reader

	// LockSession / LockStockItem / LockAppointment read a row and hold it
	// for the remainder of the transaction (row lock or writer lock).
	LockSession(ctx context.Context, id SessionID) (*CashSession, error)
	LockStockItem(ctx context.Context, id StockItemID) (*StockItem, error)
	LockAppointment(ctx context.Context, id AppointmentID) (*Appointment, error)

	InsertSession(ctx context.Context, s CashSession) error
	UpdateSession(ctx context.Context, s CashSession) error

	InsertEntry(ctx context.Context, e LedgerEntry) error

	InsertStockItem(ctx context.Context, item StockItem) error
	UpdateStockPricing(ctx context.Context, item StockItem) error
	// AddStock applies delta to on_hand atomically with a floor at zero and
	// returns the resulting quantity.
	AddStock(ctx context.Context, id StockItemID, delta int64) (int64, error)
	InsertMovement(ctx context.Context, m StockMovement) error

	InsertAppointment(ctx context.Context, a Appointment) error
	SetAppointmentStatus(ctx context.Context, id AppointmentID, status AppointmentStatus) error
	InsertSale(ctx context.Context, s ProductSale) error
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	Reader

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// SaveName upserts a display name for reference data.
	SaveName(ctx context.Context, kind NameKind, id, name string) error
	Directory

	// Reset deletes all data. Only for demo scenarios and tests.
	Reset(ctx context.Context) error
}

// =============================================================================
// DIRECTORY - Display names owned by the CRUD layer
// =============================================================================

type NameKind string

const (
	NameEmployee NameKind = "employee"
	NameService  NameKind = "service"
	NameClient   NameKind = "client"
)

// Directory resolves display names for report output. Unknown ids resolve
// to the id itself.
type Directory interface {
	DisplayNames(ctx context.Context, kind NameKind) (map[string]string, error)
}
