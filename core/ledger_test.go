package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cashbook/core"
)

func TestLedger_ManualMovementValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		m    core.ManualMovement
	}{
		{"zero amount", core.ManualMovement{Kind: core.EntryIncome, Amount: dec("0")}},
		{"negative amount", core.ManualMovement{Kind: core.EntryExpense, Amount: dec("-3")}},
		{"unknown kind", core.ManualMovement{Kind: "refund", Amount: dec("3")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Ledger.RecordManualMovement(ctx, tt.m, admin)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}
}

func TestLedger_ManualMovementsWithoutTokenAreNotDeduplicated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := core.ManualMovement{Kind: core.EntryExpense, Amount: dec("12"), Description: "coffee"}

	_, err := f.engine.Ledger.RecordManualMovement(ctx, m, admin)
	require.NoError(t, err)
	_, err = f.engine.Ledger.RecordManualMovement(ctx, m, admin)
	require.NoError(t, err)

	entries, err := f.engine.Ledger.List(ctx, core.EntryFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestLedger_IdempotencyToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := core.ManualMovement{Kind: core.EntryIncome, Amount: dec("40"), PaymentMethod: "cheque", IdempotencyToken: "form-17"}

	first, err := f.engine.Ledger.RecordManualMovement(ctx, m, admin)
	require.NoError(t, err)
	assert.False(t, first.Noop)
	assert.Equal(t, "manual:form-17", first.Entry.CorrelationKey)
	assert.Equal(t, core.PaymentOther, first.Entry.PaymentMethod)

	second, err := f.engine.Ledger.RecordManualMovement(ctx, m, admin)
	require.NoError(t, err)
	assert.True(t, second.Noop)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)
	assert.Equal(t, 1, f.entriesWithKey(t, "manual:form-17"))
}

func TestLedger_BackdatedMovement(t *testing.T) {
	f := newFixture(t)
	when := time.Date(2025, time.February, 3, 15, 0, 0, 0, time.UTC)

	res, err := f.engine.Ledger.RecordManualMovement(context.Background(), core.ManualMovement{
		Kind: core.EntryExpense, Amount: dec("5"), OccurredAt: when,
	}, admin)
	require.NoError(t, err)
	assert.True(t, when.Equal(res.Entry.OccurredAt))
	assert.True(t, res.Entry.CreatedAt.After(when))
}

// =============================================================================
// REVERSALS
// =============================================================================

func TestLedger_ReverseManualEntry(t *testing.T) {
	// GIVEN: A manual expense of 30
	// WHEN: Reversing it
	// THEN: A reversal entry is appended and the statement nets to zero

	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Ledger.RecordManualMovement(ctx, core.ManualMovement{
		Kind: core.EntryExpense, Amount: dec("30"),
	}, admin)
	require.NoError(t, err)

	rev, err := f.engine.Ledger.Reverse(ctx, res.Entry.ID, admin, "typo")
	require.NoError(t, err)
	assert.Equal(t, res.Entry.ID, rev.Reverses)
	assert.Equal(t, core.EntryExpense, rev.Kind)
	assert.True(t, dec("30").Equal(rev.Amount))
	assert.Equal(t, core.ReversalKey(res.Entry.ID), rev.CorrelationKey)
	assert.Contains(t, rev.Description, "typo")

	p, err := core.NewPeriod(march10, march10)
	require.NoError(t, err)
	st, err := f.engine.Ledger.Statement(ctx, p, core.AllEmployees(), "")
	require.NoError(t, err)
	assert.Len(t, st.Entries, 2)
	assert.True(t, st.TotalExpense.IsZero())
	assert.True(t, st.Net.IsZero())

	// Only once
	_, err = f.engine.Ledger.Reverse(ctx, res.Entry.ID, admin, "")
	assert.ErrorIs(t, err, core.ErrInvalidState)

	// Not a reversal of a reversal
	_, err = f.engine.Ledger.Reverse(ctx, rev.ID, admin, "")
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestLedger_GeneratedEntriesCannotBeReversed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.appointment(t, "appt-1", alice.ID, "80", march10)

	res, err := f.engine.Recognition.RecognizeAppointment(ctx, "appt-1", alice)
	require.NoError(t, err)

	_, err = f.engine.Ledger.Reverse(ctx, res.Entry.ID, admin, "")
	var invalid *core.InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "appointment", invalid.State)

	_, err = f.engine.Ledger.Reverse(ctx, "missing", admin, "")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

// =============================================================================
// STATEMENTS
// =============================================================================

func TestLedger_StatementScopedToActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	record := func(actor core.Actor, kind core.EntryKind, amount string) {
		_, err := f.engine.Ledger.RecordManualMovement(ctx, core.ManualMovement{Kind: kind, Amount: dec(amount)}, actor)
		require.NoError(t, err)
	}
	record(alice, core.EntryIncome, "100")
	record(alice, core.EntryExpense, "20")
	record(bob, core.EntryIncome, "50")

	p, err := core.PeriodFor(core.PresetDay, march10, nil, nil)
	require.NoError(t, err)

	st, err := f.engine.Ledger.Statement(ctx, p, core.ScopeFor(alice, ""), "")
	require.NoError(t, err)
	assert.Len(t, st.Entries, 2)
	assert.True(t, dec("100").Equal(st.TotalIncome))
	assert.True(t, dec("20").Equal(st.TotalExpense))
	assert.True(t, dec("80").Equal(st.Net))

	all, err := f.engine.Ledger.Statement(ctx, p, core.ScopeFor(admin, ""), "")
	require.NoError(t, err)
	assert.True(t, dec("150").Equal(all.TotalIncome))

	expenses, err := f.engine.Ledger.Expenses(ctx, p, core.AllEmployees())
	require.NoError(t, err)
	require.Len(t, expenses.Entries, 1)
	assert.True(t, dec("20").Equal(expenses.TotalExpense))
	assert.True(t, expenses.TotalIncome.IsZero())
}
