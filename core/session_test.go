package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/cashbook/core"
)

// =============================================================================
// OPEN / CLOSE
// =============================================================================

func TestSession_OpenThenClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.engine.Sessions.Open(ctx, admin, dec("100"))
	require.NoError(t, err)
	assert.Equal(t, core.SessionOpen, s.Status)
	assert.Equal(t, admin.ID, s.OpenedBy)

	current, err := f.engine.Sessions.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, s.ID, current.ID)

	closed, err := f.engine.Sessions.Close(ctx, s.ID, alice, dec("100"), "  end of day ")
	require.NoError(t, err)
	assert.Equal(t, core.SessionClosed, closed.Status)
	assert.Equal(t, alice.ID, closed.ClosedBy)
	assert.Equal(t, "end of day", closed.Notes)
	require.NotNil(t, closed.ClosedAt)

	current, err = f.engine.Sessions.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestSession_SecondOpenIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Sessions.Open(ctx, admin, dec("100"))
	require.NoError(t, err)

	_, err = f.engine.Sessions.Open(ctx, alice, dec("50"))
	var conflict *core.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, err, core.ErrSessionAlreadyOpen)

	sessions, err := f.engine.Sessions.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestSession_ReopenAfterClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.Sessions.Open(ctx, admin, dec("100"))
	require.NoError(t, err)
	_, err = f.engine.Sessions.Close(ctx, first.ID, admin, dec("100"), "")
	require.NoError(t, err)

	second, err := f.engine.Sessions.Open(ctx, admin, dec("100"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	sessions, err := f.engine.Sessions.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.ID, sessions[0].ID, "newest first")
}

func TestSession_CloseErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Unknown id
	_, err := f.engine.Sessions.Close(ctx, "missing", admin, dec("0"), "")
	assert.ErrorIs(t, err, core.ErrNotFound)

	// Negative balance
	s, err := f.engine.Sessions.Open(ctx, admin, dec("10"))
	require.NoError(t, err)
	_, err = f.engine.Sessions.Close(ctx, s.ID, admin, dec("-1"), "")
	assert.ErrorIs(t, err, core.ErrValidation)

	// Closed twice
	_, err = f.engine.Sessions.Close(ctx, s.ID, admin, dec("10"), "")
	require.NoError(t, err)
	_, err = f.engine.Sessions.Close(ctx, s.ID, admin, dec("10"), "")
	var closed *core.AlreadyClosedError
	require.ErrorAs(t, err, &closed)
	assert.ErrorIs(t, err, core.ErrAlreadyClosed)
	assert.ErrorIs(t, err, core.ErrInvalidState)
	assert.Equal(t, s.ID, closed.SessionID)
}

func TestSession_NegativeOpeningBalance(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Sessions.Open(context.Background(), admin, dec("-5"))
	assert.ErrorIs(t, err, core.ErrValidation)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestSession_ExpectedBalanceCountsCashOnly(t *testing.T) {
	// GIVEN: Session opened with 100
	// WHEN: Cash income 50, card income 200, cash expense 30, then close at 115
	// THEN: Expected = 100 + 50 - 30 = 120, variance = -5

	f := newFixture(t)
	ctx := context.Background()

	s, err := f.engine.Sessions.Open(ctx, admin, dec("100"))
	require.NoError(t, err)

	record := func(kind core.EntryKind, amount string, method core.PaymentMethod) {
		_, err := f.engine.Ledger.RecordManualMovement(ctx, core.ManualMovement{
			Kind: kind, Amount: dec(amount), PaymentMethod: method,
		}, admin)
		require.NoError(t, err)
	}
	record(core.EntryIncome, "50", core.PaymentCash)
	record(core.EntryIncome, "200", core.PaymentCreditCard)
	record(core.EntryExpense, "30", core.PaymentCash)

	closed, err := f.engine.Sessions.Close(ctx, s.ID, admin, dec("115"), "")
	require.NoError(t, err)
	require.NotNil(t, closed.ExpectedBalance)
	assert.True(t, dec("120").Equal(*closed.ExpectedBalance), "expected %s", closed.ExpectedBalance)
	assert.True(t, dec("-5").Equal(closed.Variance()))
}

func TestSession_BackdatedCashEntryCountsTowardClose(t *testing.T) {
	// GIVEN: Session opened with 100
	// WHEN: A cash expense of 30 is recorded during the session but dated the day before
	// THEN: Expected = 70 and closing with 70 shows no variance

	f := newFixture(t)
	ctx := context.Background()

	// Recorded before the session opened: not part of this drawer
	_, err := f.engine.Ledger.RecordManualMovement(ctx, core.ManualMovement{
		Kind: core.EntryIncome, Amount: dec("40"), PaymentMethod: core.PaymentCash,
	}, admin)
	require.NoError(t, err)

	s, err := f.engine.Sessions.Open(ctx, admin, dec("100"))
	require.NoError(t, err)

	res, err := f.engine.Ledger.RecordManualMovement(ctx, core.ManualMovement{
		Kind:          core.EntryExpense,
		Amount:        dec("30"),
		PaymentMethod: core.PaymentCash,
		Description:   "receipt from yesterday",
		OccurredAt:    s.OpenedAt.Add(-24 * time.Hour),
	}, admin)
	require.NoError(t, err)
	require.True(t, res.Entry.OccurredAt.Before(s.OpenedAt))

	closed, err := f.engine.Sessions.Close(ctx, s.ID, admin, dec("70"), "")
	require.NoError(t, err)
	require.NotNil(t, closed.ExpectedBalance)
	assert.True(t, dec("70").Equal(*closed.ExpectedBalance), "expected %s", closed.ExpectedBalance)
	assert.True(t, closed.Variance().IsZero())
}

// =============================================================================
// SCENARIO A
// =============================================================================

func TestScenarioA_OpenExpenseClose(t *testing.T) {
	// GIVEN: Session opened with opening_balance=100
	// WHEN: Manual expense 30, close with closing_balance=70
	// THEN: One expense entry of 30, session closed, no variance

	f := newFixture(t)
	ctx := context.Background()

	s, err := f.engine.Sessions.Open(ctx, admin, dec("100"))
	require.NoError(t, err)

	_, err = f.engine.Ledger.RecordManualMovement(ctx, core.ManualMovement{
		Kind: core.EntryExpense, Amount: dec("30"), Description: "supplies",
	}, admin)
	require.NoError(t, err)

	closed, err := f.engine.Sessions.Close(ctx, s.ID, admin, dec("70"), "")
	require.NoError(t, err)
	assert.Equal(t, core.SessionClosed, closed.Status)
	assert.True(t, closed.Variance().IsZero())

	entries, err := f.engine.Ledger.List(ctx, core.EntryFilter{Kind: core.EntryExpense})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, dec("30").Equal(entries[0].Amount))
	assert.Equal(t, core.PaymentCash, entries[0].PaymentMethod)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestSession_ConcurrentOpensAdmitOne(t *testing.T) {
	// GIVEN: No open session
	// WHEN: 20 actors open concurrently
	// THEN: Exactly one succeeds, the rest get ConflictError

	f := newFixture(t)
	ctx := context.Background()

	const n = 20
	results := make([]error, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			_, results[i] = f.engine.Sessions.Open(ctx, admin, dec("100"))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	ok, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, core.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)

	sessions, err := f.engine.Sessions.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}
