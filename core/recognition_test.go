package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/warp/cashbook/core"
	"github.com/warp/cashbook/core/store"
)

// =============================================================================
// APPOINTMENTS
// =============================================================================

func TestScenarioC_AppointmentRecognizedOnce(t *testing.T) {
	// GIVEN: Scheduled appointment charging 80
	// WHEN: Recognized twice
	// THEN: One income entry of 80; the second call is a no-op returning it

	f := newFixture(t)
	ctx := context.Background()
	f.appointment(t, "appt-1", alice.ID, "80", march10)

	first, err := f.engine.Recognition.RecognizeAppointment(ctx, "appt-1", alice)
	require.NoError(t, err)
	assert.False(t, first.Noop)
	assert.Equal(t, core.EntryIncome, first.Entry.Kind)
	assert.True(t, dec("80").Equal(first.Entry.Amount))
	assert.Equal(t, "appointment:appt-1", first.Entry.CorrelationKey)
	assert.Equal(t, core.PaymentCreditCard, first.Entry.PaymentMethod)

	second, err := f.engine.Recognition.RecognizeAppointment(ctx, "appt-1", alice)
	require.NoError(t, err)
	assert.True(t, second.Noop)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)

	assert.Equal(t, 1, f.entriesWithKey(t, "appointment:appt-1"))

	a, err := f.store.GetAppointment(ctx, "appt-1")
	require.NoError(t, err)
	assert.Equal(t, core.AppointmentCompleted, a.Status)
	assert.Equal(t, []string{"income/appointment"}, f.rec.entries)
}

func TestAppointment_ConcurrentRecognitionWritesOneEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.appointment(t, "appt-1", alice.ID, "80", march10)

	const n = 10
	results := make([]core.RecognitionResult, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() (err error) {
			results[i], err = f.engine.Recognition.RecognizeAppointment(ctx, "appt-1", alice)
			return err
		})
	}
	require.NoError(t, g.Wait())

	created := 0
	for _, r := range results {
		if !r.Noop {
			created++
		}
		assert.Equal(t, results[0].Entry.ID, r.Entry.ID)
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, f.entriesWithKey(t, "appointment:appt-1"))
}

func TestAppointment_RecognitionErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Recognition.RecognizeAppointment(ctx, "missing", alice)
	assert.ErrorIs(t, err, core.ErrNotFound)

	f.appointment(t, "appt-c", alice.ID, "80", march10)
	_, err = f.engine.Recognition.CancelAppointment(ctx, "appt-c", alice)
	require.NoError(t, err)

	_, err = f.engine.Recognition.RecognizeAppointment(ctx, "appt-c", alice)
	var invalid *core.InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, string(core.AppointmentCanceled), invalid.State)
	assert.Equal(t, 0, f.entriesWithKey(t, "appointment:appt-c"))

	f.appointment(t, "appt-free", alice.ID, "0", march10)
	_, err = f.engine.Recognition.RecognizeAppointment(ctx, "appt-free", alice)
	assert.ErrorIs(t, err, core.ErrValidation)
	a, err := f.store.GetAppointment(ctx, "appt-free")
	require.NoError(t, err)
	assert.Equal(t, core.AppointmentScheduled, a.Status, "rolled back")
}

func TestAppointment_CancelOnlyScheduled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.appointment(t, "appt-1", alice.ID, "80", march10)

	_, err := f.engine.Recognition.RecognizeAppointment(ctx, "appt-1", alice)
	require.NoError(t, err)

	_, err = f.engine.Recognition.CancelAppointment(ctx, "appt-1", alice)
	assert.ErrorIs(t, err, core.ErrInvalidState)

	_, err = f.engine.Recognition.CancelAppointment(ctx, "missing", alice)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAppointment_RegisterTwiceIsInvalid(t *testing.T) {
	f := newFixture(t)
	f.appointment(t, "appt-1", alice.ID, "80", march10)

	_, err := f.engine.Recognition.RegisterAppointment(context.Background(), core.NewAppointment{
		ID: "appt-1", AmountCharged: dec("80"), EmployeeID: alice.ID, Date: march10,
	})
	assert.ErrorIs(t, err, core.ErrInvalidState)
}

func TestAppointment_DescriptionUsesDisplayNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveName(ctx, core.NameService, "svc-cut", "Haircut"))
	require.NoError(t, f.store.SaveName(ctx, core.NameClient, "client-1", "Maria"))
	f.appointment(t, "appt-1", alice.ID, "80", march10)

	res, err := f.engine.Recognition.RecognizeAppointment(ctx, "appt-1", alice)
	require.NoError(t, err)
	assert.Equal(t, "Service: Haircut - Maria", res.Entry.Description)
}

// namelessStore cannot read the reference names table.
type namelessStore struct {
	*store.Memory
}

func (namelessStore) DisplayNames(context.Context, core.NameKind) (map[string]string, error) {
	return nil, errors.New("no such table: reference_names")
}

func TestAppointment_DescriptionFallsBackWhenNamesFail(t *testing.T) {
	// GIVEN: A store whose names lookup fails
	// WHEN: Recognizing an appointment
	// THEN: The entry falls back to ids and the failure is logged

	observed, logs := observer.New(zapcore.DebugLevel)
	clock := newTestClock(march10)
	engine := core.New(namelessStore{store.NewMemory()},
		core.WithClock(clock.Now), core.WithLogger(zap.New(observed)))
	ctx := context.Background()

	_, err := engine.Recognition.RegisterAppointment(ctx, core.NewAppointment{
		ID: "appt-1", AmountCharged: dec("80"), EmployeeID: alice.ID, ServiceID: "svc-cut", Date: march10,
	})
	require.NoError(t, err)

	res, err := engine.Recognition.RecognizeAppointment(ctx, "appt-1", alice)
	require.NoError(t, err)
	assert.Equal(t, "Service: svc-cut", res.Entry.Description)

	assert.Equal(t, 1, logs.FilterMessage("service names unavailable").Len())
	assert.Equal(t, 1, logs.FilterMessage("client names unavailable").Len())
}

// =============================================================================
// PRODUCT SALES
// =============================================================================

func TestSaleTotal(t *testing.T) {
	tests := []struct {
		qty      int64
		price    string
		discount string
		want     string
	}{
		{1, "10", "0", "10"},
		{3, "10", "10", "27"},
		{2, "9.99", "15", "16.98"},
		{1, "10", "100", "0"},
	}
	for _, tt := range tests {
		got := core.SaleTotal(tt.qty, dec(tt.price), dec(tt.discount))
		assert.True(t, dec(tt.want).Equal(got), "%d x %s - %s%% = %s, want %s", tt.qty, tt.price, tt.discount, got, tt.want)
	}
}

func TestScenarioB_SaleToLowStockThenInsufficient(t *testing.T) {
	// GIVEN: Shampoo on_hand=5, reorder_threshold=2
	// WHEN: Selling 4, then selling 2
	// THEN: on_hand=1 with a low-stock signal; second sale fails, on_hand stays 1

	f := newFixture(t)
	ctx := context.Background()
	shampoo := f.item(t, "Shampoo", 5, 2, "20")

	res, err := f.engine.Recognition.RecognizeProductSale(ctx, core.SaleRequest{
		StockItemID: shampoo.ID, Quantity: 4,
	}, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Adjustment.NewQuantity)
	assert.True(t, res.Adjustment.LowStock)
	assert.True(t, dec("80").Equal(res.Sale.TotalAmount))
	assert.True(t, dec("10").Equal(res.Sale.UnitCost), "cost snapshot")
	assert.Equal(t, core.SaleKey(res.Sale.ID), res.Entry.CorrelationKey)
	assert.Len(t, f.rec.lowStock, 1)

	_, err = f.engine.Recognition.RecognizeProductSale(ctx, core.SaleRequest{
		StockItemID: shampoo.ID, Quantity: 2,
	}, alice)
	assert.ErrorIs(t, err, core.ErrInsufficientStock)

	got, err := f.engine.Inventory.Get(ctx, shampoo.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.OnHand)

	sales, err := f.store.ListSales(ctx, core.SaleFilter{})
	require.NoError(t, err)
	assert.Len(t, sales, 1)
	entries, err := f.store.ListEntries(ctx, core.EntryFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestScenarioD_ConcurrentSalesOneWins(t *testing.T) {
	// GIVEN: on_hand=4
	// WHEN: Two concurrent sales of 3
	// THEN: One succeeds (on_hand=1), the other fails InsufficientStockError

	f := newFixture(t)
	ctx := context.Background()
	item := f.item(t, "Conditioner", 4, 0, "15")

	errs := make([]error, 2)
	var g errgroup.Group
	for i := range errs {
		i := i
		g.Go(func() error {
			_, errs[i] = f.engine.Recognition.RecognizeProductSale(ctx, core.SaleRequest{
				StockItemID: item.ID, Quantity: 3,
			}, alice)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, core.ErrInsufficientStock):
			insufficient++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)

	got, err := f.engine.Inventory.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.OnHand)

	sales, err := f.store.ListSales(ctx, core.SaleFilter{})
	require.NoError(t, err)
	assert.Len(t, sales, 1)
}

func TestSale_IdempotentWithSaleID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.item(t, "Gel", 5, 0, "10")

	req := core.SaleRequest{SaleID: "sale-1", StockItemID: item.ID, Quantity: 2}
	first, err := f.engine.Recognition.RecognizeProductSale(ctx, req, alice)
	require.NoError(t, err)
	assert.False(t, first.Noop)

	second, err := f.engine.Recognition.RecognizeProductSale(ctx, req, alice)
	require.NoError(t, err)
	assert.True(t, second.Noop)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)

	got, err := f.engine.Inventory.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.OnHand, "stock taken once")
}

func TestSale_PriceOverrideAndDiscount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.item(t, "Gel", 5, 0, "10")

	price := dec("12")
	res, err := f.engine.Recognition.RecognizeProductSale(ctx, core.SaleRequest{
		StockItemID: item.ID, Quantity: 2, UnitPrice: &price, DiscountPct: dec("25"),
		PaymentMethod: "pix",
	}, alice)
	require.NoError(t, err)
	assert.True(t, dec("18").Equal(res.Sale.TotalAmount))
	assert.Equal(t, core.PaymentWire, res.Entry.PaymentMethod)
	assert.Equal(t, "Sale: 2x Gel", res.Entry.Description)
}

func TestSale_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.item(t, "Gel", 5, 0, "10")
	negative := decimal.NewFromInt(-1)

	tests := []struct {
		name string
		req  core.SaleRequest
		want error
	}{
		{"zero quantity", core.SaleRequest{StockItemID: item.ID}, core.ErrValidation},
		{"no item", core.SaleRequest{Quantity: 1}, core.ErrValidation},
		{"discount over 100", core.SaleRequest{StockItemID: item.ID, Quantity: 1, DiscountPct: dec("101")}, core.ErrValidation},
		{"negative price", core.SaleRequest{StockItemID: item.ID, Quantity: 1, UnitPrice: &negative}, core.ErrValidation},
		{"free sale", core.SaleRequest{StockItemID: item.ID, Quantity: 1, DiscountPct: dec("100")}, core.ErrValidation},
		{"unknown item", core.SaleRequest{StockItemID: "missing", Quantity: 1}, core.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Recognition.RecognizeProductSale(ctx, tt.req, alice)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	got, err := f.engine.Inventory.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.OnHand)
}
