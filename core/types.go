/*
Package core provides the ledger, cash-session and inventory consistency engine.

PURPOSE:
  Every revenue-producing event of the back office (a completed appointment,
  a product sale, a manual cash movement) flows through this package. It
  guarantees the event lands in the cash ledger exactly once, that stock
  never goes negative, that at most one register session is open, and that
  period reports are derived deterministically from the recorded rows.

KEY CONCEPTS IN THIS FILE (types.go):
  - LedgerEntry: one income/expense record in the cash book
  - CashSession: an open/close interval of the register
  - StockItem / StockMovement: quantity on hand and its audit trail
  - Appointment / ProductSale: business events referenced by correlation key
  - Actor: who is performing the operation (supplied by the request layer)

DESIGN PRINCIPLES:
  1. Precision: money is decimal.Decimal, never float64
  2. Closed enums: payment methods are a fixed set plus "other"
  3. Correlation keys: generated entries carry "<event-type>:<event-id>"
  4. Append-only: generated entries are never edited, only reversed

SEE ALSO:
  - errors.go: error taxonomy
  - store.go: persistence contract
  - session.go, inventory.go, recognition.go, summary.go: the components
*/
package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SessionID string
type EntryID string
type StockItemID string
type MovementID string
type AppointmentID string
type SaleID string

// =============================================================================
// ACTOR - Identity supplied by the request layer
// =============================================================================

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleRegular Role = "regular"
)

// Actor is the authenticated identity performing an operation.
// Authentication happens outside the core; the core only records the ID.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

func (a Actor) validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return &ValidationError{Field: "actor", Reason: "actor id is required"}
	}
	return nil
}

// =============================================================================
// ENUMERATIONS
// =============================================================================

type EntryKind string

const (
	EntryIncome  EntryKind = "income"
	EntryExpense EntryKind = "expense"
)

func (k EntryKind) Valid() bool { return k == EntryIncome || k == EntryExpense }

// PaymentMethod is a closed set. Anything outside it is bucketed as "other".
type PaymentMethod string

const (
	PaymentCash       PaymentMethod = "cash"
	PaymentDebitCard  PaymentMethod = "debit_card"
	PaymentCreditCard PaymentMethod = "credit_card"
	PaymentWire       PaymentMethod = "wire"
	PaymentOther      PaymentMethod = "other"
)

// PaymentMethods lists the enumerated set in report order.
var PaymentMethods = []PaymentMethod{
	PaymentCash,
	PaymentDebitCard,
	PaymentCreditCard,
	PaymentWire,
	PaymentOther,
}

// NormalizePaymentMethod maps free-form input onto the enumerated set.
// Empty input defaults to cash; unknown values become "other".
func NormalizePaymentMethod(s string) PaymentMethod {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cash":
		return PaymentCash
	case "debit_card", "debit":
		return PaymentDebitCard
	case "credit_card", "credit":
		return PaymentCreditCard
	case "wire", "transfer", "pix":
		return PaymentWire
	default:
		return PaymentOther
	}
}

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

func (d Direction) Valid() bool { return d == DirectionIn || d == DirectionOut }

type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCanceled  AppointmentStatus = "canceled"
)

// =============================================================================
// CORRELATION KEYS
// =============================================================================

const (
	keyAppointment = "appointment:"
	keySale        = "sale:"
	keyManual      = "manual:"
	keyReversal    = "reversal:"
)

func AppointmentKey(id AppointmentID) string { return keyAppointment + string(id) }
func SaleKey(id SaleID) string               { return keySale + string(id) }
func ManualKey(token string) string          { return keyManual + token }
func ReversalKey(id EntryID) string          { return keyReversal + string(id) }

// =============================================================================
// CASH SESSION
// =============================================================================

type CashSession struct {
	ID             SessionID
	OpenedAt       time.Time
	ClosedAt       *time.Time
	OpeningBalance decimal.Decimal
	ClosingBalance *decimal.Decimal
	// ExpectedBalance is opening + cash income - cash expense recorded while
	// the session was open. Set on close.
	ExpectedBalance *decimal.Decimal
	Status          SessionStatus
	OpenedBy        string
	ClosedBy        string
	Notes           string
}

// Variance is closing - expected, or zero while the session is open.
func (s CashSession) Variance() decimal.Decimal {
	if s.ClosingBalance == nil || s.ExpectedBalance == nil {
		return decimal.Zero
	}
	return s.ClosingBalance.Sub(*s.ExpectedBalance)
}

// =============================================================================
// LEDGER ENTRY
// =============================================================================

type LedgerEntry struct {
	ID            EntryID
	Kind          EntryKind
	Amount        decimal.Decimal
	PaymentMethod PaymentMethod
	Description   string
	OccurredAt    time.Time
	RecordedBy    string
	// CorrelationKey is unique when present.
	CorrelationKey string
	// Reverses points at the manual entry this one cancels.
	Reverses EntryID
	CreatedAt time.Time
}

// IsGenerated reports whether the entry was produced by revenue recognition.
func (e LedgerEntry) IsGenerated() bool {
	return strings.HasPrefix(e.CorrelationKey, keyAppointment) ||
		strings.HasPrefix(e.CorrelationKey, keySale)
}

// IsReversal reports whether the entry cancels another entry.
func (e LedgerEntry) IsReversal() bool { return e.Reverses != "" }

// signed returns the amount as it contributes to its kind's total.
func (e LedgerEntry) signed() decimal.Decimal {
	if e.IsReversal() {
		return e.Amount.Neg()
	}
	return e.Amount
}

// =============================================================================
// STOCK
// =============================================================================

type StockItem struct {
	ID               StockItemID
	Name             string
	UnitPrice        decimal.Decimal
	UnitCost         decimal.Decimal
	OnHand           int64
	ReorderThreshold int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (i StockItem) IsLow() bool { return i.OnHand <= i.ReorderThreshold }

type StockMovement struct {
	ID          MovementID
	StockItemID StockItemID
	Direction   Direction
	Quantity    int64
	OccurredAt  time.Time
	Reason      string
}

// =============================================================================
// BUSINESS EVENTS
// =============================================================================

// Appointment is owned by the scheduling layer; the core only reads it and
// moves it out of the scheduled state.
type Appointment struct {
	ID            AppointmentID
	Status        AppointmentStatus
	AmountCharged decimal.Decimal
	Cost          decimal.Decimal
	PaymentMethod PaymentMethod
	EmployeeID    string
	ServiceID     string
	ClientID      string
	Date          time.Time
}

type ProductSale struct {
	ID            SaleID
	StockItemID   StockItemID
	Quantity      int64
	UnitPrice     decimal.Decimal
	UnitCost      decimal.Decimal
	DiscountPct   decimal.Decimal
	TotalAmount   decimal.Decimal
	PaymentMethod PaymentMethod
	OccurredAt    time.Time
	RecordedBy    string
}

// Cost is the stored cost-at-sale for the whole line.
func (s ProductSale) Cost() decimal.Decimal {
	return s.UnitCost.Mul(decimal.NewFromInt(s.Quantity))
}
