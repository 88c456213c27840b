/*
ledger.go - The cash book

PURPOSE:
  Records operator-initiated cash movements and exposes the ledger for
  reading. Entries produced by revenue recognition are written by
  recognition.go through the same Tx; this file owns the manual path.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: entries are never updated or deleted
  2. POSITIVE AMOUNTS: the kind carries the sign, the amount never does
  3. UNIQUE CORRELATION: a correlation key maps to at most one entry

CORRECTIONS:
  A manual entry is corrected by Reverse(), which appends an entry of the
  same kind and amount with Reverses set. Reports subtract reversals, so
  the original and its reversal net to zero while both stay visible.
  Generated entries (appointment:*, sale:*) cannot be reversed here.

IDEMPOTENCY:
  Manual movements are not deduplicated unless the caller supplies a token.
  They are operator-initiated, never replayed from events, so a repeated
  call without a token records a second entry.

SEE ALSO:
  - recognition.go: generated entries
  - summary.go: aggregation over entries
*/
package core

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Ledger struct {
	base
}

// ManualMovement is an operator-entered cash movement.
type ManualMovement struct {
	Kind          EntryKind
	Amount        decimal.Decimal
	PaymentMethod PaymentMethod
	Description   string
	// OccurredAt defaults to now. Back-dated expenses are allowed.
	OccurredAt time.Time
	// IdempotencyToken, when set, makes repeats of the same call no-ops.
	IdempotencyToken string
}

// RecordResult reports the entry and whether it already existed.
type RecordResult struct {
	Entry LedgerEntry
	Noop  bool
}

// RecordManualMovement appends a manual income or expense.
func (l *Ledger) RecordManualMovement(ctx context.Context, m ManualMovement, actor Actor) (RecordResult, error) {
	if err := actor.validate(); err != nil {
		return RecordResult{}, err
	}
	if !m.Kind.Valid() {
		return RecordResult{}, &ValidationError{Field: "kind", Reason: "must be income or expense"}
	}
	if err := positive("amount", m.Amount); err != nil {
		return RecordResult{}, err
	}

	now := l.now()
	entry := LedgerEntry{
		ID:            EntryID(l.opts.newID()),
		Kind:          m.Kind,
		Amount:        m.Amount,
		PaymentMethod: NormalizePaymentMethod(string(m.PaymentMethod)),
		Description:   strings.TrimSpace(m.Description),
		OccurredAt:    now,
		RecordedBy:    actor.ID,
		CreatedAt:     now,
	}
	if !m.OccurredAt.IsZero() {
		entry.OccurredAt = m.OccurredAt.UTC()
	}
	if token := strings.TrimSpace(m.IdempotencyToken); token != "" {
		entry.CorrelationKey = ManualKey(token)
	}

	var result RecordResult
	err := l.atomic(ctx, "ledger.record", func(tx Tx) error {
		result = RecordResult{}
		if entry.CorrelationKey != "" {
			existing, err := tx.GetEntryByCorrelationKey(ctx, entry.CorrelationKey)
			if err != nil {
				return err
			}
			if existing != nil {
				result = RecordResult{Entry: *existing, Noop: true}
				return nil
			}
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		result = RecordResult{Entry: entry}
		return nil
	})
	if err != nil {
		return RecordResult{}, err
	}

	if !result.Noop {
		l.opts.recorder.EntryRecorded(entry.Kind, "manual", entry.Amount.InexactFloat64())
		l.log.Info("manual movement recorded",
			zap.String("entry", string(entry.ID)),
			zap.String("kind", string(entry.Kind)),
			zap.String("amount", entry.Amount.String()),
			zap.String("actor", actor.ID))
	}
	return result, nil
}

// Reverse cancels a manual entry by appending its reversal.
func (l *Ledger) Reverse(ctx context.Context, id EntryID, actor Actor, reason string) (LedgerEntry, error) {
	if err := actor.validate(); err != nil {
		return LedgerEntry{}, err
	}

	var reversal LedgerEntry
	err := l.atomic(ctx, "ledger.reverse", func(tx Tx) error {
		original, err := tx.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		if original == nil {
			return &NotFoundError{Kind: "ledger entry", ID: string(id)}
		}
		if original.IsGenerated() || original.IsReversal() {
			return &InvalidStateError{Kind: "ledger entry", ID: string(id), State: entryOrigin(*original), Action: "reverse"}
		}

		key := ReversalKey(id)
		existing, err := tx.GetEntryByCorrelationKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return &InvalidStateError{Kind: "ledger entry", ID: string(id), State: "reversed", Action: "reverse"}
		}

		now := l.now()
		description := "Reversal of " + string(id)
		if r := strings.TrimSpace(reason); r != "" {
			description += ": " + r
		}
		reversal = LedgerEntry{
			ID:             EntryID(l.opts.newID()),
			Kind:           original.Kind,
			Amount:         original.Amount,
			PaymentMethod:  original.PaymentMethod,
			Description:    description,
			OccurredAt:     now,
			RecordedBy:     actor.ID,
			CorrelationKey: key,
			Reverses:       id,
			CreatedAt:      now,
		}
		return tx.InsertEntry(ctx, reversal)
	})
	if err != nil {
		return LedgerEntry{}, err
	}

	l.log.Info("entry reversed", zap.String("entry", string(id)), zap.String("actor", actor.ID))
	return reversal, nil
}

func entryOrigin(e LedgerEntry) string {
	switch {
	case e.IsReversal():
		return "reversal"
	case strings.HasPrefix(e.CorrelationKey, keyAppointment):
		return "appointment"
	default:
		return "sale"
	}
}

// Get returns one entry.
func (l *Ledger) Get(ctx context.Context, id EntryID) (LedgerEntry, error) {
	e, err := l.store.GetEntry(ctx, id)
	if err != nil {
		return LedgerEntry{}, &InfrastructureError{Op: "ledger.get", Cause: err}
	}
	if e == nil {
		return LedgerEntry{}, &NotFoundError{Kind: "ledger entry", ID: string(id)}
	}
	return *e, nil
}

// List returns entries matching f, oldest first.
func (l *Ledger) List(ctx context.Context, f EntryFilter) ([]LedgerEntry, error) {
	entries, err := l.store.ListEntries(ctx, f)
	if err != nil {
		return nil, &InfrastructureError{Op: "ledger.list", Cause: err}
	}
	return entries, nil
}

// =============================================================================
// STATEMENT - Entries in a period with totals
// =============================================================================

type Statement struct {
	Period       Period
	Scope        Scope
	Entries      []LedgerEntry
	TotalIncome  decimal.Decimal
	TotalExpense decimal.Decimal
	Net          decimal.Decimal
}

// Statement lists entries recorded in the period (optionally only one kind)
// with totals net of reversals.
func (l *Ledger) Statement(ctx context.Context, p Period, scope Scope, kind EntryKind) (Statement, error) {
	entries, err := l.store.ListEntries(ctx, EntryFilter{
		Range:      p.Range(),
		Kind:       kind,
		RecordedBy: scope.EmployeeID,
	})
	if err != nil {
		return Statement{}, &InfrastructureError{Op: "ledger.statement", Cause: err}
	}

	st := Statement{
		Period:       p,
		Scope:        scope,
		Entries:      entries,
		TotalIncome:  decimal.Zero,
		TotalExpense: decimal.Zero,
	}
	for _, e := range entries {
		if e.Kind == EntryIncome {
			st.TotalIncome = st.TotalIncome.Add(e.signed())
		} else {
			st.TotalExpense = st.TotalExpense.Add(e.signed())
		}
	}
	st.Net = st.TotalIncome.Sub(st.TotalExpense)
	return st, nil
}

// Expenses is the expense-only statement for the period.
func (l *Ledger) Expenses(ctx context.Context, p Period, scope Scope) (Statement, error) {
	return l.Statement(ctx, p, scope, EntryExpense)
}
