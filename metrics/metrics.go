// Package metrics exposes cash book counters to Prometheus. Metrics
// implements core.Recorder so the engine reports into it directly.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/cashbook/core"
)

const namespace = "cashbook"

// Metrics holds all cash book metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Business metrics
	EntriesRecorded *prometheus.CounterVec
	AmountRecorded  *prometheus.CounterVec
	LowStockSignals *prometheus.CounterVec
	LowStockItems   prometheus.Gauge

	// Transaction metrics
	TxRetries   *prometheus.CounterVec
	TxConflicts *prometheus.CounterVec
}

// New creates a Metrics instance with Go and process collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	m.EntriesRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_entries_total",
			Help:      "Ledger entries appended, by kind and source",
		},
		[]string{"kind", "source"},
	)
	m.AmountRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_amount_total",
			Help:      "Sum of appended ledger amounts, by kind and source",
		},
		[]string{"kind", "source"},
	)
	m.LowStockSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "low_stock_signals_total",
			Help:      "Adjustments that left an item at or below its reorder threshold",
		},
		[]string{"item"},
	)
	m.LowStockItems = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "low_stock_items",
			Help:      "Items at or below their reorder threshold at the last monitor check",
		},
	)

	m.TxRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_retries_total",
			Help:      "Transactions re-run after a transient lock conflict",
		},
		[]string{"op"},
	)
	m.TxConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_conflicts_total",
			Help:      "Transactions that failed after exhausting retries",
		},
		[]string{"op"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EntriesRecorded,
		m.AmountRecorded,
		m.LowStockSignals,
		m.LowStockItems,
		m.TxRetries,
		m.TxConflicts,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetLowStockItems records the monitor's latest count.
func (m *Metrics) SetLowStockItems(n int) {
	m.LowStockItems.Set(float64(n))
}

// =============================================================================
// core.Recorder
// =============================================================================

func (m *Metrics) EntryRecorded(kind core.EntryKind, source string, amount float64) {
	m.EntriesRecorded.WithLabelValues(string(kind), source).Inc()
	m.AmountRecorded.WithLabelValues(string(kind), source).Add(amount)
}

func (m *Metrics) LowStock(item core.StockItem) {
	m.LowStockSignals.WithLabelValues(string(item.ID)).Inc()
}

func (m *Metrics) TxRetried(op string) {
	m.TxRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) TxConflict(op string) {
	m.TxConflicts.WithLabelValues(op).Inc()
}

var _ core.Recorder = (*Metrics)(nil)
