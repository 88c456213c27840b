/*
inventory.go - Stock quantities and their audit trail

PURPOSE:
  The only writer of StockItem.OnHand. Every quantity change writes exactly
  one StockMovement in the same transaction.

FLOOR CHECK:
  An "out" adjustment locks the item row, compares on_hand with the
  requested quantity, and then applies the delta through Tx.AddStock, which
  re-checks the floor in the UPDATE itself. Two concurrent outs whose sum
  exceeds on_hand cannot both succeed: the second one either waits on the
  row lock and sees the reduced quantity, or fails the conditional update.

LOW STOCK:
  An adjustment that leaves on_hand <= reorder_threshold is flagged in the
  result and reported to the Recorder after commit.

SEE ALSO:
  - recognition.go: product sales call adjustTx inside their own Tx
*/
package core

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Inventory struct {
	base
}

// NewStockItem configures a catalog item and its opening quantity.
type NewStockItem struct {
	Name             string
	UnitPrice        decimal.Decimal
	UnitCost         decimal.Decimal
	OpeningQuantity  int64
	ReorderThreshold int64
}

// StockItemUpdate replaces the configurable fields. Quantity is not one of them.
type StockItemUpdate struct {
	Name             string
	UnitPrice        decimal.Decimal
	UnitCost         decimal.Decimal
	ReorderThreshold int64
}

type AdjustResult struct {
	Item        StockItem
	Movement    StockMovement
	NewQuantity int64
	LowStock    bool
}

func validateItem(name string, price, cost decimal.Decimal, threshold int64) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if err := nonNegative("unit_price", price); err != nil {
		return err
	}
	if err := nonNegative("unit_cost", cost); err != nil {
		return err
	}
	if threshold < 0 {
		return &ValidationError{Field: "reorder_threshold", Reason: "must not be negative"}
	}
	return nil
}

// CreateItem adds an item. A positive opening quantity is recorded as an
// "in" movement so the audit trail sums to on_hand.
func (inv *Inventory) CreateItem(ctx context.Context, in NewStockItem) (StockItem, error) {
	if err := validateItem(in.Name, in.UnitPrice, in.UnitCost, in.ReorderThreshold); err != nil {
		return StockItem{}, err
	}
	if in.OpeningQuantity < 0 {
		return StockItem{}, &ValidationError{Field: "opening_quantity", Reason: "must not be negative"}
	}

	now := inv.now()
	item := StockItem{
		ID:               StockItemID(inv.opts.newID()),
		Name:             strings.TrimSpace(in.Name),
		UnitPrice:        in.UnitPrice,
		UnitCost:         in.UnitCost,
		ReorderThreshold: in.ReorderThreshold,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := inv.atomic(ctx, "inventory.create", func(tx Tx) error {
		item.OnHand = 0
		if err := tx.InsertStockItem(ctx, item); err != nil {
			return err
		}
		if in.OpeningQuantity == 0 {
			return nil
		}
		res, err := inv.adjustTx(ctx, tx, item.ID, DirectionIn, in.OpeningQuantity, "opening balance")
		if err != nil {
			return err
		}
		item = res.Item
		return nil
	})
	if err != nil {
		return StockItem{}, err
	}

	inv.log.Info("stock item created",
		zap.String("item", string(item.ID)),
		zap.String("name", item.Name),
		zap.Int64("on_hand", item.OnHand))
	return item, nil
}

// UpdateItem changes name, pricing and threshold.
func (inv *Inventory) UpdateItem(ctx context.Context, id StockItemID, u StockItemUpdate) (StockItem, error) {
	if err := validateItem(u.Name, u.UnitPrice, u.UnitCost, u.ReorderThreshold); err != nil {
		return StockItem{}, err
	}

	var item StockItem
	err := inv.atomic(ctx, "inventory.update", func(tx Tx) error {
		current, err := tx.LockStockItem(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return &NotFoundError{Kind: "stock item", ID: string(id)}
		}
		item = *current
		item.Name = strings.TrimSpace(u.Name)
		item.UnitPrice = u.UnitPrice
		item.UnitCost = u.UnitCost
		item.ReorderThreshold = u.ReorderThreshold
		item.UpdatedAt = inv.now()
		return tx.UpdateStockPricing(ctx, item)
	})
	if err != nil {
		return StockItem{}, err
	}
	return item, nil
}

// Adjust moves quantity in or out of stock.
func (inv *Inventory) Adjust(ctx context.Context, id StockItemID, dir Direction, quantity int64, reason string) (AdjustResult, error) {
	if err := validateAdjust(dir, quantity); err != nil {
		return AdjustResult{}, err
	}

	var res AdjustResult
	err := inv.atomic(ctx, "inventory.adjust", func(tx Tx) error {
		var err error
		res, err = inv.adjustTx(ctx, tx, id, dir, quantity, reason)
		return err
	})
	if err != nil {
		return AdjustResult{}, err
	}

	inv.signal(res)
	return res, nil
}

func validateAdjust(dir Direction, quantity int64) error {
	if !dir.Valid() {
		return &ValidationError{Field: "direction", Reason: "must be in or out"}
	}
	if quantity <= 0 {
		return &ValidationError{Field: "quantity", Reason: "must be greater than zero"}
	}
	return nil
}

// adjustTx is the floor-checked mutation. Callers validate direction and
// quantity first and own the transaction.
func (inv *Inventory) adjustTx(ctx context.Context, tx Tx, id StockItemID, dir Direction, quantity int64, reason string) (AdjustResult, error) {
	item, err := tx.LockStockItem(ctx, id)
	if err != nil {
		return AdjustResult{}, err
	}
	if item == nil {
		return AdjustResult{}, &NotFoundError{Kind: "stock item", ID: string(id)}
	}

	delta := quantity
	if dir == DirectionOut {
		if item.OnHand < quantity {
			return AdjustResult{}, &InsufficientStockError{StockItemID: id, OnHand: item.OnHand, Requested: quantity}
		}
		delta = -quantity
	}

	onHand, err := tx.AddStock(ctx, id, delta)
	if err != nil {
		return AdjustResult{}, err
	}

	now := inv.now()
	mv := StockMovement{
		ID:          MovementID(inv.opts.newID()),
		StockItemID: id,
		Direction:   dir,
		Quantity:    quantity,
		OccurredAt:  now,
		Reason:      strings.TrimSpace(reason),
	}
	if err := tx.InsertMovement(ctx, mv); err != nil {
		return AdjustResult{}, err
	}

	item.OnHand = onHand
	item.UpdatedAt = now
	return AdjustResult{
		Item:        *item,
		Movement:    mv,
		NewQuantity: onHand,
		LowStock:    item.IsLow(),
	}, nil
}

// signal runs after commit; a rolled-back adjustment never reports.
func (inv *Inventory) signal(res AdjustResult) {
	if !res.LowStock {
		return
	}
	inv.opts.recorder.LowStock(res.Item)
	inv.log.Warn("low stock",
		zap.String("item", string(res.Item.ID)),
		zap.String("name", res.Item.Name),
		zap.Int64("on_hand", res.NewQuantity),
		zap.Int64("reorder_threshold", res.Item.ReorderThreshold))
}

// =============================================================================
// QUERIES
// =============================================================================

func (inv *Inventory) Get(ctx context.Context, id StockItemID) (StockItem, error) {
	item, err := inv.store.GetStockItem(ctx, id)
	if err != nil {
		return StockItem{}, &InfrastructureError{Op: "inventory.get", Cause: err}
	}
	if item == nil {
		return StockItem{}, &NotFoundError{Kind: "stock item", ID: string(id)}
	}
	return *item, nil
}

// List returns items ordered by name.
func (inv *Inventory) List(ctx context.Context, f StockFilter) ([]StockItem, error) {
	items, err := inv.store.ListStockItems(ctx, f)
	if err != nil {
		return nil, &InfrastructureError{Op: "inventory.list", Cause: err}
	}
	return items, nil
}

// LowStock returns items at or below their reorder threshold.
func (inv *Inventory) LowStock(ctx context.Context) ([]StockItem, error) {
	return inv.List(ctx, StockFilter{LowOnly: true})
}

// Movements returns the audit trail, newest first.
func (inv *Inventory) Movements(ctx context.Context, f MovementFilter) ([]StockMovement, error) {
	mvs, err := inv.store.ListMovements(ctx, f)
	if err != nil {
		return nil, &InfrastructureError{Op: "inventory.movements", Cause: err}
	}
	return mvs, nil
}
