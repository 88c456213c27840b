/*
scheduler.go - Periodic low-stock monitor

PURPOSE:
  Periodically lists catalog items at or below their reorder threshold and
  reports them to the log and the low-stock gauge. Sales and adjustments
  already signal when they cross the threshold; the monitor catches items
  that stay low and restarts that begin with low stock.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Checks immediately on start
  - Read only: never writes to the store

CONFIGURATION:
  - CheckInterval: How often to check (monitor.low_stock_interval)
  - Enabled: Whether the monitor is active (monitor.enabled)

USAGE:
  monitor := NewStockMonitor(engine.Inventory, logger, metrics)
  monitor.Start()
  // ... later
  monitor.Stop()

SEE ALSO:
  - core/inventory.go: LowStock
  - metrics/metrics.go: SetLowStockItems
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/cashbook/core"
	"github.com/warp/cashbook/metrics"
)

// LowStockLister is the part of core.Inventory the monitor needs.
type LowStockLister interface {
	LowStock(ctx context.Context) ([]core.StockItem, error)
}

// StockMonitor reports low-stock items on a ticker.
type StockMonitor struct {
	Inventory     LowStockLister
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewStockMonitor creates a monitor with a 15 minute interval. m may be nil.
func NewStockMonitor(inv LowStockLister, logger *zap.Logger, m *metrics.Metrics) *StockMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StockMonitor{
		Inventory:     inv,
		Logger:        logger.Named("stock-monitor"),
		Metrics:       m,
		CheckInterval: 15 * time.Minute,
		Enabled:       true,
	}
}

// Start begins the monitor.
func (sm *StockMonitor) Start() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.Enabled {
		sm.Logger.Info("disabled, not starting")
		return
	}
	if sm.ticker != nil {
		return
	}

	sm.ticker = time.NewTicker(sm.CheckInterval)
	sm.stop = make(chan struct{})
	sm.wg.Add(1)

	go sm.run()

	sm.Logger.Info("started", zap.Duration("interval", sm.CheckInterval))
}

// Stop stops the monitor and waits for an in-flight check.
func (sm *StockMonitor) Stop() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.ticker != nil {
		sm.ticker.Stop()
		close(sm.stop)
		sm.wg.Wait()
		sm.ticker = nil
		sm.Logger.Info("stopped")
	}
}

func (sm *StockMonitor) run() {
	defer sm.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sm.stop
		cancel()
	}()

	// Run immediately on start
	sm.check(ctx)

	for {
		select {
		case <-sm.ticker.C:
			sm.check(ctx)
		case <-sm.stop:
			return
		}
	}
}

// RunNow performs one check synchronously and returns the low items.
func (sm *StockMonitor) RunNow(ctx context.Context) ([]core.StockItem, error) {
	return sm.check(ctx)
}

func (sm *StockMonitor) check(ctx context.Context) ([]core.StockItem, error) {
	items, err := sm.Inventory.LowStock(ctx)
	if err != nil {
		if ctx.Err() == nil {
			sm.Logger.Error("failed to list low stock", zap.Error(err))
		}
		return nil, err
	}

	if sm.Metrics != nil {
		sm.Metrics.SetLowStockItems(len(items))
	}
	for _, item := range items {
		sm.Logger.Warn("low stock",
			zap.String("item_id", string(item.ID)),
			zap.String("item", item.Name),
			zap.Int64("on_hand", item.OnHand),
			zap.Int64("reorder_threshold", item.ReorderThreshold),
		)
	}
	return items, nil
}
