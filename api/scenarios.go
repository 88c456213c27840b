/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that reset the database and replay a short
	sequence of register operations through the engine. Each loader returns
	the steps it observed so the result can be checked from the UI.

AVAILABLE SCENARIOS:

	open-expense-close:  Open with 100, expense 30, close with 70
	low-stock-sale:      Sell 4 of 5 Shampoo (low stock), then 2 more (rejected)
	appointment-once:    Recognize an 80 appointment twice, one entry
	concurrent-sales:    Two concurrent sales of 3 against 4 units

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "low-stock-sale"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler context
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"

	"github.com/warp/cashbook/core"
)

const (
	ScenarioOpenExpenseClose = "open-expense-close"
	ScenarioLowStockSale     = "low-stock-sale"
	ScenarioAppointmentOnce  = "appointment-once"
	ScenarioConcurrentSales  = "concurrent-sales"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          ScenarioOpenExpenseClose,
		Name:        "Open, Expense, Close",
		Description: "Open the register with 100, pay a cash expense of 30 and close with 70. Expected balance 70, no variance.",
	},
	{
		ID:          ScenarioLowStockSale,
		Name:        "Sale to Low Stock",
		Description: "Shampoo starts at 5 with threshold 2. Selling 4 leaves 1 and signals low stock; selling 2 more is rejected.",
	},
	{
		ID:          ScenarioAppointmentOnce,
		Name:        "Appointment Recognized Once",
		Description: "An appointment of 80 is completed twice. The second completion writes nothing.",
	},
	{
		ID:          ScenarioConcurrentSales,
		Name:        "Concurrent Sales",
		Description: "Two sales of 3 units race for 4 units on hand. Exactly one succeeds.",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and replays a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	var load func(context.Context) ([]string, error)
	switch req.ScenarioID {
	case ScenarioOpenExpenseClose:
		load = h.loadOpenExpenseCloseScenario
	case ScenarioLowStockSale:
		load = h.loadLowStockSaleScenario
	case ScenarioAppointmentOnce:
		load = h.loadAppointmentOnceScenario
	case ScenarioConcurrentSales:
		load = h.loadConcurrentSalesScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.writeDomainError(w, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	steps, err := load(ctx)
	if err != nil {
		h.writeDomainError(w, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.Logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID), zap.Int("steps", len(steps)))

	writeJSON(w, http.StatusOK, ScenarioResult{Scenario: req.ScenarioID, Status: "loaded", Steps: steps})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

var (
	scenarioAdmin = core.Actor{ID: "emp-owner", Role: core.RoleAdmin}
	scenarioStaff = core.Actor{ID: "emp-alice", Role: core.RoleRegular}
)

func (h *Handler) seedNames(ctx context.Context) error {
	names := []struct {
		kind     core.NameKind
		id, name string
	}{
		{core.NameEmployee, scenarioAdmin.ID, "Owner"},
		{core.NameEmployee, scenarioStaff.ID, "Alice"},
		{core.NameService, "svc-cut", "Haircut"},
		{core.NameClient, "cli-bruno", "Bruno"},
	}
	for _, n := range names {
		if err := h.Store.SaveName(ctx, n.kind, n.id, n.name); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadOpenExpenseCloseScenario(ctx context.Context) ([]string, error) {
	if err := h.seedNames(ctx); err != nil {
		return nil, err
	}
	var steps []string

	s, err := h.Engine.Sessions.Open(ctx, scenarioAdmin, decimal.NewFromInt(100))
	if err != nil {
		return nil, err
	}
	steps = append(steps, fmt.Sprintf("opened session %s with %s", s.ID, s.OpeningBalance))

	res, err := h.Engine.Ledger.RecordManualMovement(ctx, core.ManualMovement{
		Kind:          core.EntryExpense,
		Amount:        decimal.NewFromInt(30),
		PaymentMethod: core.PaymentCash,
		Description:   "Cleaning supplies",
	}, scenarioAdmin)
	if err != nil {
		return nil, err
	}
	steps = append(steps, fmt.Sprintf("recorded expense %s", res.Entry.Amount))

	closed, err := h.Engine.Sessions.Close(ctx, s.ID, scenarioAdmin, decimal.NewFromInt(70), "end of day")
	if err != nil {
		return nil, err
	}
	steps = append(steps, fmt.Sprintf("closed with %s, expected %s, variance %s",
		closed.ClosingBalance, closed.ExpectedBalance, closed.Variance()))
	return steps, nil
}

func (h *Handler) loadLowStockSaleScenario(ctx context.Context) ([]string, error) {
	if err := h.seedNames(ctx); err != nil {
		return nil, err
	}
	var steps []string

	item, err := h.Engine.Inventory.CreateItem(ctx, core.NewStockItem{
		Name:             "Shampoo",
		UnitPrice:        decimal.NewFromInt(25),
		UnitCost:         decimal.NewFromInt(10),
		OpeningQuantity:  5,
		ReorderThreshold: 2,
	})
	if err != nil {
		return nil, err
	}
	steps = append(steps, fmt.Sprintf("configured %s with %d on hand, threshold %d", item.Name, item.OnHand, item.ReorderThreshold))

	sale, err := h.Engine.Recognition.RecognizeProductSale(ctx, core.SaleRequest{
		StockItemID:   item.ID,
		Quantity:      4,
		PaymentMethod: core.PaymentCash,
	}, scenarioStaff)
	if err != nil {
		return nil, err
	}
	steps = append(steps, fmt.Sprintf("sold 4 for %s, %d left, low stock: %t",
		sale.Sale.TotalAmount, sale.Adjustment.NewQuantity, sale.Adjustment.LowStock))

	_, err = h.Engine.Recognition.RecognizeProductSale(ctx, core.SaleRequest{
		StockItemID:   item.ID,
		Quantity:      2,
		PaymentMethod: core.PaymentCash,
	}, scenarioStaff)
	var insufficient *core.InsufficientStockError
	if !errors.As(err, &insufficient) {
		return nil, fmt.Errorf("second sale: expected insufficient stock, got %v", err)
	}
	steps = append(steps, fmt.Sprintf("sale of 2 rejected: %d on hand", insufficient.OnHand))
	return steps, nil
}

func (h *Handler) loadAppointmentOnceScenario(ctx context.Context) ([]string, error) {
	if err := h.seedNames(ctx); err != nil {
		return nil, err
	}
	var steps []string

	a, err := h.Engine.Recognition.RegisterAppointment(ctx, core.NewAppointment{
		ID:            "appt-1",
		AmountCharged: decimal.NewFromInt(80),
		Cost:          decimal.NewFromInt(15),
		PaymentMethod: core.PaymentDebitCard,
		EmployeeID:    scenarioStaff.ID,
		ServiceID:     "svc-cut",
		ClientID:      "cli-bruno",
		Date:          core.Day(h.Now()),
	})
	if err != nil {
		return nil, err
	}
	steps = append(steps, fmt.Sprintf("registered appointment %s for %s", a.ID, a.AmountCharged))

	for i := 0; i < 2; i++ {
		res, err := h.Engine.Recognition.RecognizeAppointment(ctx, a.ID, scenarioStaff)
		if err != nil {
			return nil, err
		}
		if res.Noop {
			steps = append(steps, fmt.Sprintf("completion %d: already recognized as %s", i+1, res.Entry.ID))
		} else {
			steps = append(steps, fmt.Sprintf("completion %d: income %s recorded", i+1, res.Entry.Amount))
		}
	}
	return steps, nil
}

func (h *Handler) loadConcurrentSalesScenario(ctx context.Context) ([]string, error) {
	if err := h.seedNames(ctx); err != nil {
		return nil, err
	}
	item, err := h.Engine.Inventory.CreateItem(ctx, core.NewStockItem{
		Name:             "Conditioner",
		UnitPrice:        decimal.NewFromInt(30),
		UnitCost:         decimal.NewFromInt(12),
		OpeningQuantity:  4,
		ReorderThreshold: 1,
	})
	if err != nil {
		return nil, err
	}

	var succeeded, rejected atomic.Int32
	var g errgroup.Group
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			_, err := h.Engine.Recognition.RecognizeProductSale(ctx, core.SaleRequest{
				StockItemID:   item.ID,
				Quantity:      3,
				PaymentMethod: core.PaymentCash,
			}, scenarioStaff)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, core.ErrInsufficientStock), errors.Is(err, core.ErrConflict):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	after, err := h.Engine.Inventory.Get(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	return []string{
		fmt.Sprintf("configured %s with %d on hand", item.Name, item.OnHand),
		fmt.Sprintf("two concurrent sales of 3: %d succeeded, %d rejected", succeeded.Load(), rejected.Load()),
		fmt.Sprintf("%d left on hand", after.OnHand),
	}, nil
}
