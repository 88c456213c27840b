package core_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/cashbook/core"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

func TestInventory_CreateItemRecordsOpeningMovement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item := f.item(t, "Shampoo", 5, 2, "20")
	assert.Equal(t, int64(5), item.OnHand)

	mvs, err := f.engine.Inventory.Movements(ctx, core.MovementFilter{StockItemID: item.ID})
	require.NoError(t, err)
	require.Len(t, mvs, 1)
	assert.Equal(t, core.DirectionIn, mvs[0].Direction)
	assert.Equal(t, int64(5), mvs[0].Quantity)
	assert.Equal(t, "opening balance", mvs[0].Reason)
}

func TestInventory_CreateItemValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   core.NewStockItem
	}{
		{"blank name", core.NewStockItem{Name: " ", UnitPrice: dec("1")}},
		{"negative price", core.NewStockItem{Name: "X", UnitPrice: dec("-1")}},
		{"negative cost", core.NewStockItem{Name: "X", UnitCost: dec("-1")}},
		{"negative quantity", core.NewStockItem{Name: "X", OpeningQuantity: -1}},
		{"negative threshold", core.NewStockItem{Name: "X", ReorderThreshold: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Inventory.CreateItem(ctx, tt.in)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}
}

func TestInventory_UpdateItemKeepsQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.item(t, "Shampoo", 5, 2, "20")

	updated, err := f.engine.Inventory.UpdateItem(ctx, item.ID, core.StockItemUpdate{
		Name: "Shampoo 500ml", UnitPrice: dec("25"), UnitCost: dec("12"), ReorderThreshold: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), updated.OnHand)

	got, err := f.engine.Inventory.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Shampoo 500ml", got.Name)
	assert.True(t, dec("25").Equal(got.UnitPrice))
	assert.Equal(t, int64(3), got.ReorderThreshold)
	assert.Equal(t, int64(5), got.OnHand)

	_, err = f.engine.Inventory.UpdateItem(ctx, "missing", core.StockItemUpdate{Name: "X"})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

// =============================================================================
// ADJUST
// =============================================================================

func TestInventory_AdjustValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.item(t, "Gel", 3, 0, "5")

	_, err := f.engine.Inventory.Adjust(ctx, item.ID, core.DirectionOut, 0, "")
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = f.engine.Inventory.Adjust(ctx, item.ID, core.DirectionIn, -2, "")
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = f.engine.Inventory.Adjust(ctx, item.ID, "sideways", 1, "")
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = f.engine.Inventory.Adjust(ctx, "missing", core.DirectionIn, 1, "")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestInventory_OutBeyondStockChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.item(t, "Gel", 3, 0, "5")

	_, err := f.engine.Inventory.Adjust(ctx, item.ID, core.DirectionOut, 4, "sale")
	var insufficient *core.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(3), insufficient.OnHand)
	assert.Equal(t, int64(4), insufficient.Requested)

	got, err := f.engine.Inventory.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.OnHand)

	mvs, err := f.engine.Inventory.Movements(ctx, core.MovementFilter{StockItemID: item.ID})
	require.NoError(t, err)
	assert.Len(t, mvs, 1, "only the opening movement")
}

func TestInventory_LowStockSignal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.item(t, "Gel", 5, 2, "5")

	res, err := f.engine.Inventory.Adjust(ctx, item.ID, core.DirectionOut, 2, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.NewQuantity)
	assert.False(t, res.LowStock)
	assert.Empty(t, f.rec.lowStock)

	res, err = f.engine.Inventory.Adjust(ctx, item.ID, core.DirectionOut, 1, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.NewQuantity)
	assert.True(t, res.LowStock, "at threshold counts as low")
	require.Len(t, f.rec.lowStock, 1)
	assert.Equal(t, item.ID, f.rec.lowStock[0].ID)

	low, err := f.engine.Inventory.LowStock(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, item.ID, low[0].ID)
}

func TestInventory_ListAvailableOrderedByName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.item(t, "Wax", 1, 0, "5")
	f.item(t, "Comb", 0, 0, "5")
	f.item(t, "Brush", 2, 0, "5")

	items, err := f.engine.Inventory.List(ctx, core.StockFilter{AvailableOnly: true})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Brush", items[0].Name)
	assert.Equal(t, "Wax", items[1].Name)
}

func TestInventory_MovementsNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.item(t, "Gel", 5, 0, "5")

	_, err := f.engine.Inventory.Adjust(ctx, item.ID, core.DirectionIn, 3, "restock")
	require.NoError(t, err)
	_, err = f.engine.Inventory.Adjust(ctx, item.ID, core.DirectionOut, 1, "damaged")
	require.NoError(t, err)

	mvs, err := f.engine.Inventory.Movements(ctx, core.MovementFilter{StockItemID: item.ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, mvs, 2)
	assert.Equal(t, "damaged", mvs[0].Reason)
	assert.Equal(t, "restock", mvs[1].Reason)
}

// =============================================================================
// PROPERTY: on_hand never negative; outs <= initial + ins
// =============================================================================

func TestInventory_RandomSequenceNeverNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.item(t, "Gel", 10, 0, "5")

	rng := rand.New(rand.NewSource(42))
	var totalIn, totalOut int64
	for i := 0; i < 300; i++ {
		qty := int64(rng.Intn(6) + 1)
		dir := core.DirectionOut
		if rng.Intn(3) == 0 {
			dir = core.DirectionIn
		}
		res, err := f.engine.Inventory.Adjust(ctx, item.ID, dir, qty, "")
		if err != nil {
			require.ErrorIs(t, err, core.ErrInsufficientStock)
			continue
		}
		if dir == core.DirectionIn {
			totalIn += qty
		} else {
			totalOut += qty
		}
		require.GreaterOrEqual(t, res.NewQuantity, int64(0))
	}

	got, err := f.engine.Inventory.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, totalOut, 10+totalIn)
	assert.Equal(t, 10+totalIn-totalOut, got.OnHand)
}

func TestInventory_ConcurrentOutsNeverOversell(t *testing.T) {
	// GIVEN: 10 units on hand
	// WHEN: 25 concurrent outs of 1 unit
	// THEN: Exactly 10 succeed and on_hand is 0

	f := newFixture(t)
	ctx := context.Background()
	item := f.item(t, "Gel", 10, 0, "5")

	const n = 25
	errs := make([]error, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			_, errs[i] = f.engine.Inventory.Adjust(ctx, item.ID, core.DirectionOut, 1, "")
			return nil
		})
	}
	require.NoError(t, g.Wait())

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, core.ErrInsufficientStock), "unexpected: %v", err)
	}
	assert.Equal(t, 10, ok)

	got, err := f.engine.Inventory.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.OnHand)
}
