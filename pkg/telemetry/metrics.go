// Package telemetry provides Prometheus metrics for the trading system
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Metrics holds all Prometheus instruments used by the trader
type Metrics struct {
	ordersSubmitted  *prometheus.CounterVec
	orderRetries     *prometheus.CounterVec
	orderFailures    *prometheus.CounterVec
	fills            *prometheus.CounterVec
	reconcileEvents  *prometheus.CounterVec
	breakerOpen      prometheus.Gauge
	feedReconnects   *prometheus.CounterVec
	candlesProcessed *prometheus.CounterVec
	positionValue    *prometheus.GaugeVec
	realizedPnL      *prometheus.GaugeVec
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// GetGlobalMetrics returns the process-wide metrics instance
func GetGlobalMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics()
	})
	return globalMetrics
}

func newMetrics() *Metrics {
	return &Metrics{
		ordersSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_orders_submitted_total",
			Help: "Total number of orders submitted to the exchange",
		}, []string{"symbol", "side"}),
		orderRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_order_retries_total",
			Help: "Total number of order submission retries",
		}, []string{"symbol"}),
		orderFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_order_failures_total",
			Help: "Total number of terminally failed order executions",
		}, []string{"symbol", "reason"}),
		fills: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_fills_total",
			Help: "Total number of filled orders by ladder kind",
		}, []string{"symbol", "side", "kind"}),
		reconcileEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_reconcile_events_total",
			Help: "Total number of reconciliation state transitions",
		}, []string{"symbol", "kind"}),
		breakerOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "trader_circuit_breaker_open",
			Help: "Whether the daily loss circuit breaker is open (1) or closed (0)",
		}),
		feedReconnects: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_feed_reconnects_total",
			Help: "Total number of market feed reconnect attempts",
		}, []string{"symbol"}),
		candlesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_candles_processed_total",
			Help: "Total number of completed candles processed",
		}, []string{"symbol"}),
		positionValue: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trader_position_value_quote",
			Help: "Current position value in quote currency",
		}, []string{"symbol"}),
		realizedPnL: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trader_realized_pnl_quote",
			Help: "Lifetime realized PnL in quote currency",
		}, []string{"symbol"}),
	}
}

func (m *Metrics) IncOrderSubmitted(symbol, side string) {
	m.ordersSubmitted.WithLabelValues(symbol, side).Inc()
}

func (m *Metrics) IncOrderRetry(symbol string) {
	m.orderRetries.WithLabelValues(symbol).Inc()
}

func (m *Metrics) IncOrderFailure(symbol, reason string) {
	m.orderFailures.WithLabelValues(symbol, reason).Inc()
}

func (m *Metrics) IncFill(symbol, side, kind string) {
	m.fills.WithLabelValues(symbol, side, kind).Inc()
}

func (m *Metrics) IncReconcileEvent(symbol, kind string) {
	m.reconcileEvents.WithLabelValues(symbol, kind).Inc()
}

func (m *Metrics) SetCircuitBreakerOpen(open bool) {
	if open {
		m.breakerOpen.Set(1)
	} else {
		m.breakerOpen.Set(0)
	}
}

func (m *Metrics) IncFeedReconnect(symbol string) {
	m.feedReconnects.WithLabelValues(symbol).Inc()
}

func (m *Metrics) IncCandleProcessed(symbol string) {
	m.candlesProcessed.WithLabelValues(symbol).Inc()
}

func (m *Metrics) SetPositionValue(symbol string, value decimal.Decimal) {
	m.positionValue.WithLabelValues(symbol).Set(value.InexactFloat64())
}

func (m *Metrics) SetRealizedPnL(symbol string, pnl decimal.Decimal) {
	m.realizedPnL.WithLabelValues(symbol).Set(pnl.InexactFloat64())
}
