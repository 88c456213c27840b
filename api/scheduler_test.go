package api

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/cashbook/core"
)

func TestStockMonitor_RunNow(t *testing.T) {
	// GIVEN: One item at its threshold and one above
	ts := newTestServer(t)
	ts.createItem("Shampoo", "25", "10", 2, 2)
	ts.createItem("Wax", "15", "5", 9, 2)

	observed, logs := observer.New(zap.WarnLevel)
	monitor := NewStockMonitor(ts.h.Engine.Inventory, zap.New(observed), ts.metrics)

	// WHEN: Checking
	items, err := monitor.RunNow(context.Background())

	// THEN: The low item is logged and counted
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Shampoo", items[0].Name)
	assert.Equal(t, float64(1), testutil.ToFloat64(ts.metrics.LowStockItems))
	require.Equal(t, 1, logs.FilterMessage("low stock").Len())
	assert.Equal(t, int64(2), logs.All()[0].ContextMap()["on_hand"])
}

type countingLister struct {
	calls chan struct{}
}

func (c *countingLister) LowStock(ctx context.Context) ([]core.StockItem, error) {
	select {
	case c.calls <- struct{}{}:
	default:
	}
	return nil, nil
}

func TestStockMonitor_StartStop(t *testing.T) {
	lister := &countingLister{calls: make(chan struct{}, 1)}
	monitor := NewStockMonitor(lister, nil, nil)
	monitor.CheckInterval = time.Hour

	// WHEN: Started, the first check runs immediately
	monitor.Start()
	select {
	case <-lister.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not check on start")
	}

	// THEN: Stop returns and a second Stop is harmless
	monitor.Stop()
	monitor.Stop()
}

func TestStockMonitor_Disabled(t *testing.T) {
	lister := &countingLister{calls: make(chan struct{}, 1)}
	monitor := NewStockMonitor(lister, nil, nil)
	monitor.Enabled = false

	monitor.Start()
	monitor.Stop()

	assert.Empty(t, lister.calls)
}
