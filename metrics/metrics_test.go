package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cashbook/core"
	"github.com/warp/cashbook/metrics"
)

func TestRecorder(t *testing.T) {
	m := metrics.New()

	m.EntryRecorded(core.EntryIncome, "sale", 20)
	m.EntryRecorded(core.EntryIncome, "sale", 5.5)
	m.EntryRecorded(core.EntryExpense, "manual", 30)
	m.LowStock(core.StockItem{ID: "gel"})
	m.TxRetried("sales.recognize")
	m.TxRetried("sales.recognize")
	m.TxConflict("sessions.open")
	m.SetLowStockItems(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EntriesRecorded.WithLabelValues("income", "sale")))
	assert.Equal(t, 25.5, testutil.ToFloat64(m.AmountRecorded.WithLabelValues("income", "sale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntriesRecorded.WithLabelValues("expense", "manual")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LowStockSignals.WithLabelValues("gel")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TxRetries.WithLabelValues("sales.recognize")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TxConflicts.WithLabelValues("sessions.open")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.LowStockItems))
}

func TestHandler(t *testing.T) {
	m := metrics.New()
	m.RecordHTTPRequest(http.MethodGet, "/api/stock", http.StatusOK, 12*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cashbook_http_requests_total{method="GET",route="/api/stock",status="200"} 1`)
}
